package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

type mockSyncClient struct {
	uploads chan string
}

func (m *mockSyncClient) Upload(path string) error {
	m.uploads <- path
	return nil
}

func (m *mockSyncClient) PullRemote() ([]string, error) { return nil, nil }

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "devtest", zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func session(start time.Time, dur float64, app, title, url string) domain.Session {
	return domain.Session{
		StartTime:    start,
		EndTime:      start.Add(time.Duration(dur) * time.Second),
		DurationSec:  dur,
		App:          app,
		Title:        title,
		URL:          url,
		Category:     "Coding",
		IsProductive: true,
		DeviceID:     "devtest",
	}
}

func TestAppendAndRead(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	err := s.Append([]domain.Session{
		session(t0, 60, "Code", "main.go", ""),
		session(t0.Add(2*time.Minute), 30, "Safari", "docs", "https://pkg.go.dev"),
	})
	require.NoError(t, err)

	got, err := s.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Code", got[0].App)
	assert.Equal(t, "Safari", got[1].App)
	assert.Equal(t, 60.0, got[0].DurationSec)
	assert.True(t, got[0].StartTime.Equal(t0))
	assert.Equal(t, "https://pkg.go.dev", got[1].URL)
	assert.Equal(t, "devtest", got[0].DeviceID)
	assert.True(t, got[0].IsProductive)
}

func TestAppendEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(nil))
}

func TestTailMerge(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append([]domain.Session{session(t0, 60, "Code", "main.go", "")}))

	// same identity, 30s seam: stitched into the stored row
	require.NoError(t, s.Append([]domain.Session{session(t0.Add(90*time.Second), 60, "Code", "main.go", "")}))

	got, err := s.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].EndTime.Equal(t0.Add(150*time.Second)))
	assert.Equal(t, 150.0, got[0].DurationSec)
}

func TestTailMergeRejectsWideGap(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append([]domain.Session{session(t0, 60, "Code", "main.go", "")}))
	require.NoError(t, s.Append([]domain.Session{session(t0.Add(5*time.Minute), 60, "Code", "main.go", "")}))

	got, err := s.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTailMergeRejectsDifferentIdentity(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append([]domain.Session{session(t0, 60, "Code", "main.go", "")}))
	require.NoError(t, s.Append([]domain.Session{session(t0.Add(70*time.Second), 60, "Code", "other.go", "")}))

	got, err := s.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResumeWithinGap(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 8, 30, 9, 10, 0, 0, time.UTC)
	end := now.Add(-10 * time.Second)

	require.NoError(t, s.Append([]domain.Session{
		session(end.Add(-60*time.Second), 60, "Code", "main.go", ""),
	}))

	st := s.Resume(now)
	require.True(t, st.Active)
	assert.Equal(t, domain.Identity{App: "Code", Title: "main.go"}, st.Identity)
	assert.True(t, st.Start.Equal(end))
}

func TestResumeBeyondGap(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 8, 30, 9, 10, 0, 0, time.UTC)

	require.NoError(t, s.Append([]domain.Session{
		session(now.Add(-3*time.Minute), 60, "Code", "main.go", ""),
	}))

	assert.False(t, s.Resume(now).Active)
}

func TestResumeNoFile(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Resume(time.Now()).Active)
}

func TestResumeLegacyFilename(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 8, 30, 9, 10, 0, 0, time.UTC)

	// early versions wrote files without the device suffix
	db, err := sql.Open("duckdb", s.legacyFileFor(now))
	require.NoError(t, err)
	_, err = db.Exec(sessionSchema)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO sessions (start_time, end_time, duration_sec, app, title)
		VALUES (?, ?, ?, ?, ?)
	`, now.Add(-70*time.Second), now.Add(-10*time.Second), 60.0, "Code", "main.go")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st := s.Resume(now)
	require.True(t, st.Active)
	assert.Equal(t, "Code", st.Identity.App)
}

func TestAppendUpgradesOldSchema(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	// a file written before category/is_productive/device_id existed
	db, err := sql.Open("duckdb", s.fileFor(t0))
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE SEQUENCE sessions_id_seq START 1;
		CREATE TABLE sessions (
			id           BIGINT DEFAULT nextval('sessions_id_seq') PRIMARY KEY,
			start_time   TIMESTAMP NOT NULL,
			end_time     TIMESTAMP NOT NULL,
			duration_sec DOUBLE NOT NULL,
			app          VARCHAR NOT NULL,
			title        VARCHAR,
			url          VARCHAR
		);
		INSERT INTO sessions (start_time, end_time, duration_sec, app, title)
		VALUES (TIMESTAMP '2026-08-30 08:00:00', TIMESTAMP '2026-08-30 08:01:00', 60.0, 'Old', 'row');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, s.Append([]domain.Session{session(t0, 60, "Code", "main.go", "")}))

	got, err := s.SessionsBetween(t0.Add(-2*time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Old", got[0].App)
	assert.Equal(t, "", got[0].Category, "backfilled columns stay empty")
	assert.Equal(t, "Coding", got[1].Category)
}

func TestSessionsBetweenSpansDevices(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	a, err := New(dir, "deva", zap.NewNop())
	require.NoError(t, err)
	b, err := New(dir, "devb", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, a.Append([]domain.Session{session(t0, 60, "Code", "main.go", "")}))
	require.NoError(t, b.Append([]domain.Session{session(t0.Add(time.Minute), 60, "Safari", "docs", "")}))

	got, err := a.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// readingSyncClient counts the rows visible in the file at the moment
// Upload observes it.
type readingSyncClient struct {
	rows chan int
}

func (m *readingSyncClient) Upload(path string) error {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		m.rows <- -1
		return err
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sessions`).Scan(&n); err != nil {
		m.rows <- -1
		return err
	}
	m.rows <- n
	return nil
}

func (m *readingSyncClient) PullRemote() ([]string, error) { return nil, nil }

func TestUploadSeesFlushedRows(t *testing.T) {
	sync := &readingSyncClient{rows: make(chan int, 1)}
	s := newTestStore(t, WithSyncClient(sync))
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append([]domain.Session{
		session(t0, 60, "Code", "main.go", ""),
		session(t0.Add(2*time.Minute), 30, "Safari", "docs", ""),
	}))

	select {
	case n := <-sync.rows:
		assert.Equal(t, 2, n, "uploaded snapshot must contain the rows just appended")
	case <-time.After(2 * time.Second):
		t.Fatal("upload was not triggered")
	}
}

func TestAppendTriggersUpload(t *testing.T) {
	sync := &mockSyncClient{uploads: make(chan string, 1)}
	s := newTestStore(t, WithSyncClient(sync))
	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append([]domain.Session{session(t0, 60, "Code", "main.go", "")}))

	select {
	case path := <-sync.uploads:
		assert.Equal(t, s.fileFor(t0), path)
	case <-time.After(2 * time.Second):
		t.Fatal("upload was not triggered")
	}
}
