package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

func openStore(t *testing.T, path string) *PersistentStore {
	t.Helper()
	s, err := NewPersistentStore(context.Background(), DriverSQLite, path, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistentStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "dlqueue.db")
	s := openStore(t, path)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	base := time.Now().Add(-time.Minute)
	jobs := []*domain.Job{
		domain.NewJob(domain.JobView{URL: "http://x/a", Name: "a.bin", Folder: "/data", Status: domain.StatusDownloading, TotalSize: 100, Downloaded: 40, CreatedAt: base}),
		domain.NewJob(domain.JobView{URL: "http://x/b", Name: "b.bin", Folder: "/data", Status: domain.StatusPending, CreatedAt: base.Add(time.Second)}),
		domain.NewJob(domain.JobView{URL: "http://x/c", Name: "c.bin", Folder: "/data", Status: domain.StatusScheduled, Schedule: &at, CreatedAt: base.Add(2 * time.Second)}),
		domain.NewJob(domain.JobView{
			URL: "http://x/d", Name: "d.mp4", Folder: "/data", Status: domain.StatusCompleted, Kind: domain.KindMedia,
			Media:     &domain.MediaInfo{Title: "d", Selected: "720p"},
			Checksums: map[string]string{"md5": "abc"},
			CreatedAt: base.Add(3 * time.Second),
		}),
	}
	require.NoError(t, s.SaveAll(ctx, jobs))

	// reopen to prove it survived
	require.NoError(t, s.Close())
	s = openStore(t, path)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 4)

	assert.Equal(t, "a.bin", loaded[0].Name())
	assert.Equal(t, domain.StatusCancelled, loaded[0].Status(), "nothing is downloading after a restart")
	assert.Equal(t, int64(40), loaded[0].Downloaded())
	assert.Equal(t, int64(100), loaded[0].TotalSize())

	assert.Equal(t, domain.StatusPending, loaded[1].Status())

	assert.Equal(t, domain.StatusScheduled, loaded[2].Status())
	got, ok := loaded[2].Schedule()
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	assert.Equal(t, domain.KindMedia, loaded[3].Kind())
	assert.Equal(t, "720p", loaded[3].Media().Selected)
	assert.Equal(t, "abc", loaded[3].Snapshot().Checksums["md5"])
	assert.Equal(t, jobs[3].ID(), loaded[3].ID())
}

func TestPersistentStore_SaveAllDropsRemovedJobs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "dlqueue.db"))

	a := domain.NewJob(domain.JobView{URL: "http://x/a", Name: "a", Folder: "/data"})
	b := domain.NewJob(domain.JobView{URL: "http://x/b", Name: "b", Folder: "/data"})
	require.NoError(t, s.SaveAll(ctx, []*domain.Job{a, b}))

	a.SetDownloaded(0)
	require.NoError(t, s.SaveAll(ctx, []*domain.Job{a}))

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, a.ID(), loaded[0].ID())
}

func TestPersistentStore_SkipsUnreadableRows(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "dlqueue.db"))

	_, err := s.db.ExecContext(ctx, "INSERT INTO jobs (id, name, status, payload, created_at, updated_at) VALUES ('bad', 'bad', 'pending', '{not json', 0, 0)")
	require.NoError(t, err)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRebind(t *testing.T) {
	pg := &PersistentStore{driver: DriverPostgres}
	assert.Equal(t, "DELETE FROM jobs WHERE id = $1 AND name = $2", pg.rebind("DELETE FROM jobs WHERE id = ? AND name = ?"))

	lite := &PersistentStore{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestNewPersistentStore_UnknownDriver(t *testing.T) {
	_, err := NewPersistentStore(context.Background(), "mysql", "x", nil)
	assert.Error(t, err)
}
