package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pinpoint/idgen"
)

// Audited operations.
const (
	OpAnnotationCreate = "annotation_create"
	OpAnnotationCommit = "annotation_commit"
	OpAnnotationDelete = "annotation_delete"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditEntry is one operation in the audit trail.
type AuditEntry struct {
	EntryID      string    `json:"entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Component    string    `json:"component"`
	Operation    string    `json:"operation"`
	SessionID    string    `json:"session_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	AnnotationID string    `json:"annotation_id,omitempty"`
	// Parameters and Result are JSON.
	Parameters   string `json:"parameters,omitempty"`
	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Status       string `json:"status"`
}

// AuditFilter narrows Query. Zero values match everything.
type AuditFilter struct {
	AnnotationID string
	SessionID    string
	Operation    string
	Status       string
	Since        time.Time
	// Limit defaults to 100.
	Limit  int
	Offset int
}

// AuditLogger persists audit entries asynchronously.
type AuditLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan *AuditEntry
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the generator of entry ids.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditLogger sets the logger for write failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// NewAuditLogger starts an audit logger queueing up to bufferSize entries.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	a := &AuditLogger{
		db:     db,
		newID:  idgen.Prefixed("audit_", idgen.UUIDv7()),
		logger: slog.Default(),
		ch:     make(chan *AuditEntry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// NewAuditEntry builds an entry for an operation of component. params and
// result are stored as JSON; a non-nil err marks the entry failed and
// drops result.
func (a *AuditLogger) NewAuditEntry(component, operation string, params, result any, err error, d time.Duration) *AuditEntry {
	e := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  time.Now(),
		Component:  component,
		Operation:  operation,
		DurationMs: d.Milliseconds(),
	}
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = StatusError
		e.ErrorMessage = err.Error()
		return e
	}
	e.Status = StatusSuccess
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			e.Result = string(b)
		}
	}
	return e
}

// Log writes e synchronously.
func (a *AuditLogger) Log(ctx context.Context, e *AuditEntry) error {
	a.fillDefaults(e)
	return a.insert(ctx, e)
}

// LogAsync queues e, writing it synchronously when the queue is full.
func (a *AuditLogger) LogAsync(e *AuditEntry) {
	a.fillDefaults(e)
	select {
	case a.ch <- e:
	default:
		a.logger.Warn("observability: audit queue full, writing synchronously", "operation", e.Operation)
		if err := a.insert(context.Background(), e); err != nil {
			a.logger.Error("observability: audit insert", "entry", e.EntryID, "error", err)
		}
	}
}

// Query returns stored entries matching f, oldest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, component_name, operation_type, session_id,
		request_id, annotation_id, parameters, result, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	for _, c := range []struct{ col, val string }{
		{"annotation_id", f.AnnotationID},
		{"session_id", f.SessionID},
		{"operation_type", f.Operation},
		{"status", f.Status},
	} {
		if c.val != "" {
			q += " AND " + c.col + " = ?"
			args = append(args, c.val)
		}
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp, rowid LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts int64
		)
		if err := rows.Scan(&e.EntryID, &ts, &e.Component, &e.Operation, &e.SessionID,
			&e.RequestID, &e.AnnotationID, &e.Parameters, &e.Result, &e.ErrorMessage,
			&e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("observability: scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retention.
func (a *AuditLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", time.Now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup audit log: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the queue and stops the flush loop.
func (a *AuditLogger) Close() error {
	a.once.Do(func() { close(a.stop) })
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, e := range batch {
			if err := a.insert(ctx, e); err != nil {
				a.logger.Error("observability: audit insert", "entry", e.EntryID, "error", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, component_name, operation_type, session_id,
		 request_id, annotation_id, parameters, result, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.UnixMilli(), e.Component, e.Operation, e.SessionID,
		e.RequestID, e.AnnotationID, e.Parameters, e.Result, e.ErrorMessage, e.DurationMs, e.Status)
	if err != nil {
		return fmt.Errorf("observability: insert audit entry: %w", err)
	}
	return nil
}
