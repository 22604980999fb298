// Package observability records screenshot step timings and the audit
// trail of annotation changes in SQLite.
//
// Call Init on the database first, then pass it to NewMetricsManager and
// NewAuditLogger. Both buffer writes and flush them in batches from a
// background goroutine; Close flushes what is left.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MetricScreenshotStep is the duration of one screenshot step, labelled
// with the step name.
const MetricScreenshotStep = "screenshot_step_ms"

// UnitMilliseconds is the unit of duration metrics.
const UnitMilliseconds = "milliseconds"

// Metric is a single datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []*Metric
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewMetricsManager starts a manager that flushes every flushInterval or
// once bufferSize metrics are queued. Zero values pick 100 and 5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues m. Metrics recorded after Close are dropped.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return
	}
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// RecordDurations queues one metric per step, in milliseconds, with the
// step name added to labels.
func (mm *MetricsManager) RecordDurations(name string, steps map[string]time.Duration, labels map[string]string) {
	now := time.Now()
	for step, d := range steps {
		l := make(map[string]string, len(labels)+1)
		for k, v := range labels {
			l[k] = v
		}
		l["step"] = step
		mm.Record(&Metric{
			Name:      name,
			Timestamp: now,
			Value:     float64(d.Microseconds()) / 1000,
			Labels:    l,
			Unit:      UnitMilliseconds,
		})
	}
}

// MetricFilter narrows Query. Zero values match everything.
type MetricFilter struct {
	Name  string
	Since time.Time
	Until time.Time
	// Labels keeps metrics carrying every one of these pairs.
	Labels map[string]string
	Limit  int
}

// Query returns stored metrics, newest first. Queued metrics are not
// visible until flushed.
func (mm *MetricsManager) Query(ctx context.Context, f MetricFilter) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if f.Name != "" {
		q += " AND metric_name = ?"
		args = append(args, f.Name)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.UnixMilli())
	}
	for k, v := range f.Labels {
		q += " AND json_extract(labels, ?) = ?"
		args = append(args, "$."+jsonKey(k), v)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if labels.Valid {
			if err := json.Unmarshal([]byte(labels.String), &m.Labels); err != nil {
				mm.logger.Warn("observability: bad metric labels", "metric", m.Name, "error", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// jsonKey quotes k for a JSON path.
func jsonKey(k string) string {
	b, _ := json.Marshal(k)
	return string(b)
}

// Cleanup deletes metrics older than retention and returns how many went.
func (mm *MetricsManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", time.Now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes queued metrics and stops the flush loop.
func (mm *MetricsManager) Close() error {
	mm.mu.Lock()
	if mm.closed {
		mm.mu.Unlock()
		return nil
	}
	mm.closed = true
	mm.mu.Unlock()
	close(mm.stop)
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.mu.Lock()
			mm.flushLocked()
			mm.mu.Unlock()
			return
		case <-ticker.C:
			mm.mu.Lock()
			mm.flushLocked()
			mm.mu.Unlock()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability: metrics: begin", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability: metrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			mm.logger.Error("observability: metrics: insert", "metric", m.Name, "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability: metrics: commit", "error", err)
	}
	mm.buffer = mm.buffer[:0]
}
