package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RecentProjects {
	t.Helper()

	store, err := NewRecentProjects(Config{Path: filepath.Join(t.TempDir(), "recent.db")})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(sessionID string, archivedAt time.Time) ProjectRecord {
	created := archivedAt.Add(-2 * time.Minute)
	return ProjectRecord{
		SessionID:   sessionID,
		Name:        "my-app",
		Path:        "/tmp/projects/my-app",
		FrameworkID: "nextjs",
		Status:      "completed",
		CreatedAt:   created,
		FinishedAt:  archivedAt.Add(-time.Minute),
		ArchivedAt:  archivedAt,
	}
}

func TestSaveAndGetProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord("sess-1", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.SaveProject(ctx, record))

	got, err := store.GetProject(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, record.Name, got.Name)
	assert.Equal(t, record.FrameworkID, got.FrameworkID)
	assert.Equal(t, record.Status, got.Status)
	assert.True(t, record.ArchivedAt.Equal(got.ArchivedAt))
}

func TestGetProjectNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetProject(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSaveProjectUpsertPromotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.SaveProject(ctx, sampleRecord("sess-1", base)))
	require.NoError(t, store.SaveProject(ctx, sampleRecord("sess-2", base.Add(time.Minute))))

	// Re-archiving sess-1 later moves it to the front.
	promoted := sampleRecord("sess-1", base.Add(2*time.Minute))
	promoted.Status = "failed"
	require.NoError(t, store.SaveProject(ctx, promoted))

	records, err := store.ListProjects(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "sess-1", records[0].SessionID)
	assert.Equal(t, "failed", records[0].Status)
	assert.Equal(t, "sess-2", records[1].SessionID)
}

func TestListProjectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveProject(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := store.ListProjects(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].SessionID)
	assert.Equal(t, "b", records[1].SessionID)
}

func TestDeleteProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProject(ctx, sampleRecord("sess-1", time.Now())))
	require.NoError(t, store.DeleteProject(ctx, "sess-1"))

	_, err := store.GetProject(ctx, "sess-1")
	require.Error(t, err)

	err = store.DeleteProject(ctx, "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInitAppliesPoolConfig(t *testing.T) {
	store, err := NewRecentProjects(Config{
		Path:            filepath.Join(t.TempDir(), "recent.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, 1, store.db.Stats().MaxOpenConnections)
}

func TestNewRecentProjectsDefaultsPool(t *testing.T) {
	store, err := NewRecentProjects(Config{Path: filepath.Join(t.TempDir(), "recent.db")})
	require.NoError(t, err)

	assert.Equal(t, 4, store.cfg.MaxOpenConns)
	assert.Equal(t, 2, store.cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, store.cfg.ConnMaxLifetime)
}

func TestInitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recent.db")

	store, err := NewRecentProjects(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Close())

	// Reopening an existing database must not fail on migrations.
	store, err = NewRecentProjects(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Close())
}
