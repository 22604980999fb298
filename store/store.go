// Package store persists annotation records in SQLite.
//
// A record starts as a draft and may be saved any number of times. Commit
// freezes it: afterwards the only accepted change is Delete.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dbopen"
	"github.com/hazyhaar/pinpoint/idgen"
	"github.com/hazyhaar/pinpoint/location"
)

var (
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("store: annotation not found")
	// ErrImmutable is returned when changing a committed annotation.
	ErrImmutable = errors.New("store: annotation is committed")
	// ErrInvalid wraps validation failures of saved annotations.
	ErrInvalid = errors.New("store: invalid annotation")
)

// MaxLabelLength bounds CustomLabel after sanitising.
const MaxLabelLength = 500

// Schema creates the annotations table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS annotations (
    id                     TEXT PRIMARY KEY,
    location               TEXT NOT NULL,
    custom_location        TEXT,
    highlighted_text       TEXT,
    custom_label           TEXT NOT NULL DEFAULT '',
    coords_x               REAL NOT NULL DEFAULT 0.5,
    coords_y               REAL NOT NULL DEFAULT 0.5,
    source_id              TEXT NOT NULL DEFAULT '',
    thread_id              TEXT NOT NULL DEFAULT '',
    message_id             TEXT NOT NULL DEFAULT '',
    screenshot_url         TEXT NOT NULL DEFAULT '',
    blurred_screenshot_url TEXT NOT NULL DEFAULT '',
    excerpt                TEXT NOT NULL DEFAULT '',
    draft                  INTEGER NOT NULL DEFAULT 1,
    created_at             INTEGER NOT NULL,
    committed_at           INTEGER
);
CREATE INDEX IF NOT EXISTS idx_annotations_source ON annotations(source_id, created_at);
CREATE INDEX IF NOT EXISTS idx_annotations_thread ON annotations(thread_id);
`

// Record is a stored annotation.
type Record struct {
	annotation.Annotation
	CreatedAt   time.Time  `json:"created_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	// Location keeps records whose location contains every key of it.
	Location location.Location
	SourceID string
	ThreadID string
	// CommittedOnly drops drafts.
	CommittedOnly bool
	Limit         int
}

// Config for creating a Store.
type Config struct {
	DB     *sql.DB
	IDs    idgen.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

// Store is the annotation record store.
type Store struct {
	db     *sql.DB
	ids    idgen.Generator
	now    func() time.Time
	policy *bluemonday.Policy
	logger *slog.Logger
}

// New creates a Store on cfg.DB and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("store: DB is required")
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUIDv7()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := cfg.DB.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{
		db:     cfg.DB,
		ids:    cfg.IDs,
		now:    cfg.Now,
		policy: bluemonday.StrictPolicy(),
		logger: cfg.Logger,
	}, nil
}

// Open opens the database at path and creates a Store on it. The Store
// owns the connection; Close releases it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(ctx, path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, Config{DB: db, Logger: logger})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the database the store writes to, for tables kept alongside
// the annotations.
func (s *Store) DB() *sql.DB { return s.db }

// sanitizeLabel strips markup from a user-supplied label.
func (s *Store) sanitizeLabel(label string) string {
	label = strings.TrimSpace(s.policy.Sanitize(label))
	if r := []rune(label); len(r) > MaxLabelLength {
		label = string(r[:MaxLabelLength])
	}
	return label
}

// Save creates or updates a draft. An empty ID is assigned; the returned
// record carries the stored values. Saving over a committed record fails
// with ErrImmutable.
func (s *Store) Save(ctx context.Context, ann annotation.Annotation) (Record, error) {
	if ann.ID == "" {
		ann.ID = s.ids()
	}
	if err := ann.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	ann.Draft = true
	ann.CustomLabel = s.sanitizeLabel(ann.CustomLabel)

	row, err := encode(ann)
	if err != nil {
		return Record{}, err
	}
	now := s.now().UTC()
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var draft bool
		err := tx.QueryRowContext(ctx, `SELECT draft FROM annotations WHERE id = ?`, ann.ID).Scan(&draft)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO annotations (id, location, custom_location, highlighted_text, custom_label,
				 coords_x, coords_y, source_id, thread_id, message_id, screenshot_url,
				 blurred_screenshot_url, excerpt, draft, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
				ann.ID, row.location, row.customLocation, row.highlighted, ann.CustomLabel,
				ann.CoordsRelativeToTarget.X, ann.CoordsRelativeToTarget.Y, ann.SourceID,
				ann.ThreadID, ann.MessageID, ann.ScreenshotURL, ann.BlurredScreenshotURL,
				ann.Excerpt, now.UnixMilli())
			return err
		case err != nil:
			return err
		case !draft:
			return ErrImmutable
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE annotations SET location = ?, custom_location = ?, highlighted_text = ?,
			 custom_label = ?, coords_x = ?, coords_y = ?, source_id = ?, thread_id = ?,
			 message_id = ?, screenshot_url = ?, blurred_screenshot_url = ?, excerpt = ?
			 WHERE id = ? AND draft = 1`,
			row.location, row.customLocation, row.highlighted, ann.CustomLabel,
			ann.CoordsRelativeToTarget.X, ann.CoordsRelativeToTarget.Y, ann.SourceID,
			ann.ThreadID, ann.MessageID, ann.ScreenshotURL, ann.BlurredScreenshotURL,
			ann.Excerpt, ann.ID)
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("store: save %s: %w", ann.ID, err)
	}
	return s.Get(ctx, ann.ID)
}

// SetScreenshot records the uploaded screenshot URLs of a draft.
func (s *Store) SetScreenshot(ctx context.Context, id, url, blurredURL, excerpt string) error {
	return s.updateDraft(ctx, id,
		`UPDATE annotations SET screenshot_url = ?, blurred_screenshot_url = ?, excerpt = ?
		 WHERE id = ? AND draft = 1`,
		url, blurredURL, excerpt, id)
}

// Commit freezes a draft. Committing twice fails with ErrImmutable.
func (s *Store) Commit(ctx context.Context, id string) (Record, error) {
	err := s.updateDraft(ctx, id,
		`UPDATE annotations SET draft = 0, committed_at = ? WHERE id = ? AND draft = 1`,
		s.now().UTC().UnixMilli(), id)
	if err != nil {
		return Record{}, err
	}
	s.logger.Debug("store: committed", "id", id)
	return s.Get(ctx, id)
}

// updateDraft runs an UPDATE guarded by draft = 1 and tells apart a
// missing record from a committed one when nothing changed.
func (s *Store) updateDraft(ctx context.Context, id, query string, args ...any) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("store: update %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		var draft bool
		err = tx.QueryRowContext(ctx, `SELECT draft FROM annotations WHERE id = ?`, id).Scan(&draft)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("store: update %s: %w", id, err)
		}
		return fmt.Errorf("store: %s: %w", id, ErrImmutable)
	})
}

// Delete removes a record, draft or committed.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM annotations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: %s: %w", id, ErrNotFound)
	}
	return nil
}

const selectColumns = `SELECT id, location, custom_location, highlighted_text, custom_label,
	coords_x, coords_y, source_id, thread_id, message_id, screenshot_url,
	blurred_screenshot_url, excerpt, draft, created_at, committed_at FROM annotations`

// Get returns one record.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scan(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("store: %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns the records matching f, oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if f.CommittedOnly {
		where = append(where, "draft = 0")
	}
	q := selectColumns
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		if f.Location != nil && !location.Matches(rec.Location, f.Location) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Annotations returns the annotations of List, for the tracker.
func (s *Store) Annotations(ctx context.Context, f Filter) ([]annotation.Annotation, error) {
	recs, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]annotation.Annotation, len(recs))
	for i, r := range recs {
		out[i] = r.Annotation
	}
	return out, nil
}

type encoded struct {
	location       string
	customLocation sql.NullString
	highlighted    sql.NullString
}

func encode(ann annotation.Annotation) (encoded, error) {
	e := encoded{location: location.JSON(ann.Location)}
	if ann.CustomLocation != nil {
		e.customLocation = sql.NullString{String: location.JSON(ann.CustomLocation), Valid: true}
	}
	if ann.HighlightedTextConfig != nil {
		b, err := json.Marshal(ann.HighlightedTextConfig)
		if err != nil {
			return e, fmt.Errorf("store: encode highlighted text: %w", err)
		}
		e.highlighted = sql.NullString{String: string(b), Valid: true}
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Record, error) {
	var (
		rec                 Record
		loc                 string
		custom, highlighted sql.NullString
		created             int64
		committed           sql.NullInt64
	)
	a := &rec.Annotation
	err := sc.Scan(&a.ID, &loc, &custom, &highlighted, &a.CustomLabel,
		&a.CoordsRelativeToTarget.X, &a.CoordsRelativeToTarget.Y, &a.SourceID,
		&a.ThreadID, &a.MessageID, &a.ScreenshotURL, &a.BlurredScreenshotURL,
		&a.Excerpt, &a.Draft, &created, &committed)
	if err != nil {
		return Record{}, err
	}
	if a.Location, err = location.Parse([]byte(loc)); err != nil {
		return Record{}, err
	}
	if custom.Valid {
		if a.CustomLocation, err = location.Parse([]byte(custom.String)); err != nil {
			return Record{}, err
		}
	}
	if highlighted.Valid {
		a.HighlightedTextConfig = new(annotation.HighlightedTextConfig)
		if err := json.Unmarshal([]byte(highlighted.String), a.HighlightedTextConfig); err != nil {
			return Record{}, err
		}
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	if committed.Valid {
		t := time.UnixMilli(committed.Int64).UTC()
		rec.CommittedAt = &t
	}
	return rec, nil
}
