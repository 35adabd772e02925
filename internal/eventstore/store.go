package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/versecast/internal/config"
	_ "modernc.org/sqlite"
)

// Fixed-width UTC layout so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one generation attempt for a chapter.
type Run struct {
	ID            string
	ChapterKey    string
	Mode          string
	Priority      string
	Status        Status
	Error         string
	Segments      int
	TotalDuration time.Duration
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Segment records which backend produced a verse clip.
type Segment struct {
	RunID      string
	ChapterKey string
	Verse      int
	Backend    string
	Duration   time.Duration
	Path       string
	CreatedAt  time.Time
}

// Store is the SQLite-backed generation ledger.
type Store struct {
	db    *sql.DB
	cfg   config.LedgerConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the ledger according to config. In ephemeral mode
// nothing is persisted and every call is a no-op.
func Open(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "ledger"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("ledger vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("ledger prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    chapter_key TEXT NOT NULL,
    mode TEXT,
    priority TEXT,
    status TEXT NOT NULL,
    error TEXT,
    segments INTEGER NOT NULL DEFAULT 0,
    total_ms INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    chapter_key TEXT NOT NULL,
    verse INTEGER NOT NULL,
    backend TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    path TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_runs_chapter_started ON runs(chapter_key, started_at);
CREATE INDEX IF NOT EXISTS idx_segments_run_verse ON segments(run_id, verse);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// BeginRun inserts a running row for run.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if s.disabled() {
		return nil
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, chapter_key, mode, priority, status, started_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		run.ID, run.ChapterKey, run.Mode, run.Priority, string(run.Status), formatTime(run.StartedAt))
	return err
}

// RecordSegment appends one produced segment to its run.
func (s *Store) RecordSegment(ctx context.Context, seg Segment) error {
	if s.disabled() {
		return nil
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(run_id, chapter_key, verse, backend, duration_ms, path, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		seg.RunID, seg.ChapterKey, seg.Verse, seg.Backend, seg.Duration.Milliseconds(), seg.Path, formatTime(seg.CreatedAt))
	return err
}

// FinishRun stores the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status Status, segments int, total time.Duration, runErr error) error {
	if s.disabled() {
		return nil
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, segments = ?, total_ms = ?, finished_at = ? WHERE run_id = ?`,
		string(status), msg, segments, total.Milliseconds(), formatTime(s.clock()), runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns up to limit runs for a chapter, newest first. An empty
// chapterKey lists every chapter.
func (s *Store) ListRuns(ctx context.Context, chapterKey string, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, chapter_key, mode, priority, status, COALESCE(error, ''), segments, total_ms, started_at, COALESCE(finished_at, '')
		 FROM runs WHERE (? = '' OR chapter_key = ?) ORDER BY started_at DESC LIMIT ?`, chapterKey, chapterKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status, started, finished string
		var totalMS int64
		if err := rows.Scan(&r.ID, &r.ChapterKey, &r.Mode, &r.Priority, &status, &r.Error, &r.Segments, &totalMS, &started, &finished); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		r.TotalDuration = time.Duration(totalMS) * time.Millisecond
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListSegments returns the segments of a run in verse order.
func (s *Store) ListSegments(ctx context.Context, runID string) ([]Segment, error) {
	if s.disabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, chapter_key, verse, backend, duration_ms, COALESCE(path, ''), created_at
		 FROM segments WHERE run_id = ? ORDER BY verse ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var durMS int64
		var created string
		if err := rows.Scan(&seg.RunID, &seg.ChapterKey, &seg.Verse, &seg.Backend, &durMS, &seg.Path, &created); err != nil {
			return nil, err
		}
		seg.Duration = time.Duration(durMS) * time.Millisecond
		seg.CreatedAt = parseTime(created)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff)); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral ledger should not have database connection")
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
