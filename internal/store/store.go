// Package store persists finalized sessions to per-device, per-month
// columnar DuckDB files and recovers the open-session state from the
// tail of the most recent file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

const (
	// DefaultResumeGap is how recent the stored tail row must be for the
	// activity to be assumed continuous across a process gap.
	DefaultResumeGap = 60 * time.Second

	// DefaultMergeGap is the maximum seam between a stored session's end
	// and a new session's start for them to be stitched into one row.
	DefaultMergeGap = 60 * time.Second
)

// Store writes session rows into files named
// activity_{year}_{month}_{device}.duckdb under its directory. One
// logical writer per device; readers open files read-only.
type Store struct {
	dir        string
	deviceID   string
	resumeGap  time.Duration
	mergeGap   time.Duration
	syncClient domain.SyncClient // nil disables uploads
	logger     *zap.Logger
}

// Option tweaks a Store.
type Option func(*Store)

// WithGaps overrides the resume and merge gap tolerances.
func WithGaps(resumeGap, mergeGap time.Duration) Option {
	return func(s *Store) {
		s.resumeGap = resumeGap
		s.mergeGap = mergeGap
	}
}

// WithSyncClient attaches a sync collaborator; each successful append
// triggers a best-effort upload of the touched file.
func WithSyncClient(c domain.SyncClient) Option {
	return func(s *Store) { s.syncClient = c }
}

// New creates a session store rooted at dir.
func New(dir, deviceID string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		deviceID:  deviceID,
		resumeGap: DefaultResumeGap,
		mergeGap:  DefaultMergeGap,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// fileFor returns the storage path for the month containing t.
func (s *Store) fileFor(t time.Time) string {
	name := fmt.Sprintf("activity_%d_%02d_%s.duckdb", t.Year(), int(t.Month()), s.deviceID)
	return filepath.Join(s.dir, name)
}

// legacyFileFor is the undated-device name written by early versions.
func (s *Store) legacyFileFor(t time.Time) string {
	name := fmt.Sprintf("activity_%d_%02d.duckdb", t.Year(), int(t.Month()))
	return filepath.Join(s.dir, name)
}

// Resume reads only the tail row of the current month's file. If that
// row ended within the resume gap, the activity is assumed to have
// continued through the process gap and the returned state reopens it
// starting at the stored end time. Anything unreadable means a fresh
// start, never an abort.
func (s *Store) Resume(now time.Time) domain.AggregatorState {
	path := s.fileFor(now)
	if !fileExists(path) {
		path = s.legacyFileFor(now)
		if !fileExists(path) {
			return domain.AggregatorState{}
		}
	}

	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		s.logger.Warn("resume: open failed", zap.String("path", path), zap.Error(err))
		return domain.AggregatorState{}
	}
	defer db.Close()

	var (
		app, title string
		url        sql.NullString
		endTime    time.Time
	)
	err = db.QueryRow(`
		SELECT app, title, url, end_time
		FROM sessions
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&app, &title, &url, &endTime)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("resume: tail read failed", zap.String("path", path), zap.Error(err))
		}
		return domain.AggregatorState{}
	}

	if now.Sub(endTime) > s.resumeGap {
		return domain.AggregatorState{}
	}

	s.logger.Info("resumed active session from storage tail",
		zap.String("app", app),
		zap.String("title", title),
		zap.Time("start", endTime))
	return domain.AggregatorState{
		Active:   true,
		Identity: domain.Identity{App: app, Title: title, URL: url.String},
		Start:    endTime,
	}
}

// Append writes finalized sessions into the file keyed by the first
// session's start month. When the stored tail row and the first new row
// share an identity and sit within the merge gap, the tail row is
// extended in place instead of writing a duplicate - this stitches
// sessions split by restarts and flush boundaries.
func (s *Store) Append(sessions []domain.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	path := s.fileFor(sessions[0].StartTime)
	if err := s.appendFile(path, sessions); err != nil {
		return err
	}

	if s.syncClient != nil {
		// The database handle is closed by now, so the upload reads a
		// fully checkpointed file. Best effort; a failed upload only
		// delays remote visibility.
		go func() {
			if err := s.syncClient.Upload(path); err != nil {
				s.logger.Warn("sync upload failed",
					zap.String("path", path),
					zap.Error(err))
			}
		}()
	}
	return nil
}

func (s *Store) appendFile(path string, sessions []domain.Session) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(sessionSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if err := s.ensureColumns(db); err != nil {
		// Schema alignment failure degrades to no-merge, not an abort.
		s.logger.Warn("schema alignment failed", zap.String("path", path), zap.Error(err))
	}

	rows := sessions
	if merged, err := s.mergeTail(db, sessions[0]); err != nil {
		s.logger.Warn("tail merge check failed, appending without merge",
			zap.String("path", path), zap.Error(err))
	} else if merged {
		rows = sessions[1:]
	}

	if err := insertSessions(db, rows); err != nil {
		return fmt.Errorf("append sessions: %w", err)
	}

	s.logger.Debug("sessions flushed",
		zap.Int("rows", len(rows)),
		zap.String("path", path))
	return nil
}

// mergeTail extends the stored last row when it and the incoming first
// session are contiguous and identical. Reports whether the first new
// session was absorbed.
func (s *Store) mergeTail(db *sql.DB, first domain.Session) (bool, error) {
	var (
		id         int64
		app, title string
		url        sql.NullString
		startTime  time.Time
		endTime    time.Time
	)
	err := db.QueryRow(`
		SELECT id, app, title, url, start_time, end_time
		FROM sessions
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&id, &app, &title, &url, &startTime, &endTime)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sameIdentity := app == first.App && title == first.Title && url.String == first.URL
	gap := first.StartTime.Sub(endTime)
	if !sameIdentity || gap < 0 || gap > s.mergeGap {
		return false, nil
	}

	newDuration := first.EndTime.Sub(startTime).Seconds()
	_, err = db.Exec(`
		UPDATE sessions SET end_time = ?, duration_sec = ? WHERE id = ?
	`, first.EndTime, newDuration, id)
	if err != nil {
		return false, err
	}

	s.logger.Debug("stitched session into stored tail row",
		zap.String("app", app),
		zap.Float64("duration_sec", newDuration))
	return true, nil
}

// ensureColumns aligns an existing file with the canonical column union;
// columns added later are backfilled with NULL.
func (s *Store) ensureColumns(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT column_name FROM information_schema.columns
		WHERE table_name = 'sessions'
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range sessionColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE sessions ADD COLUMN %s %s", col.name, col.typ)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		s.logger.Info("storage schema extended", zap.String("column", col.name))
	}
	return nil
}

func insertSessions(db *sql.DB, sessions []domain.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO sessions (
			start_time, end_time, duration_sec,
			app, title, url,
			category, is_productive, device_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sn := range sessions {
		if _, err := stmt.Exec(
			sn.StartTime, sn.EndTime, sn.DurationSec,
			sn.App, sn.Title, nullStr(sn.URL),
			sn.Category, sn.IsProductive, sn.DeviceID,
		); err != nil {
			return fmt.Errorf("insert session %s: %w", sn.App, err)
		}
	}

	return tx.Commit()
}

// SessionsBetween reads flushed rows from every device's file covering
// the interval, for the dashboard's read-only query path. It tolerates a
// writer concurrently appending to the current month's file.
func (s *Store) SessionsBetween(from, to time.Time) ([]domain.Session, error) {
	paths, err := s.filesBetween(from, to)
	if err != nil {
		return nil, err
	}

	var out []domain.Session
	for _, path := range paths {
		rows, err := readSessions(path, from, to)
		if err != nil {
			// A single unreadable file degrades to partial results.
			s.logger.Warn("query: skipping unreadable file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		out = append(out, rows...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// filesBetween lists every storage file (any device, plus legacy names)
// for the months overlapping [from, to].
func (s *Store) filesBetween(from, to time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	month := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location())
	for !month.After(to) {
		pattern := filepath.Join(s.dir, fmt.Sprintf("activity_%d_%02d*.duckdb", month.Year(), int(month.Month())))
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
		month = month.AddDate(0, 1, 0)
	}
	return paths, nil
}

func readSessions(path string, from, to time.Time) ([]domain.Session, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT start_time, end_time, duration_sec, app, title, url,
		       category, is_productive, device_id
		FROM sessions
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var (
			sn                        domain.Session
			title, url, cat, deviceID sql.NullString
			productive                sql.NullBool
		)
		if err := rows.Scan(
			&sn.StartTime, &sn.EndTime, &sn.DurationSec,
			&sn.App, &title, &url, &cat, &productive, &deviceID,
		); err != nil {
			return nil, err
		}
		sn.Title = title.String
		sn.URL = url.String
		sn.Category = cat.String
		sn.IsProductive = productive.Bool
		sn.DeviceID = deviceID.String
		out = append(out, sn)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
