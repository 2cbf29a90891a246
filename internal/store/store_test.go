package store_test

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/store"
)

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "userdata.db")
	db, err := store.OpenUserDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := store.NewSQLiteStore(db, events.NewNopLogger())
	require.NoError(t, err)
	return s
}

func TestSQLiteStore(t *testing.T) {
	testStoreOperations(t, newSQLiteStore(t))
}

func TestMemoryStore(t *testing.T) {
	testStoreOperations(t, store.NewMemoryStore())
}

func recipeItem(id, tempID, name string) *models.SyncableItem {
	data, _ := json.Marshal(models.Recipe{Name: name, BatchSizeL: 20})
	return &models.SyncableItem{
		ID:         id,
		TempID:     tempID,
		EntityType: models.EntityRecipe,
		Data:       data,
		SyncStatus: models.StatusPending,
	}
}

func testStoreOperations(t *testing.T, s store.Store) {
	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get("nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("put sets sync metadata", func(t *testing.T) {
		require.NoError(t, s.Put(recipeItem("", "tmp-meta", "Kolsch")))

		got, err := s.Get("tmp-meta")
		require.NoError(t, err)
		assert.True(t, got.NeedsSync)
		assert.Equal(t, models.StatusPending, got.SyncStatus)
		assert.False(t, got.LastModified.IsZero())
	})

	t.Run("put synced preserves metadata", func(t *testing.T) {
		item := recipeItem("r-1", "", "Helles")
		item.SyncStatus = models.StatusSynced
		item.NeedsSync = false
		item.LastModified = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, s.PutSynced(item))

		got, err := s.Get("r-1")
		require.NoError(t, err)
		assert.False(t, got.NeedsSync)
		assert.Equal(t, models.StatusSynced, got.SyncStatus)
		assert.Equal(t, item.LastModified.Unix(), got.LastModified.Unix())
	})

	t.Run("temp id resolves after server id assignment", func(t *testing.T) {
		require.NoError(t, s.Put(recipeItem("", "tmp-1", "Marzen")))
		require.NoError(t, s.AssignServerID("tmp-1", "r-42"))

		byTemp, err := s.Get("tmp-1")
		require.NoError(t, err)
		assert.Equal(t, "r-42", byTemp.ID)
		assert.Equal(t, "tmp-1", byTemp.TempID)

		byID, err := s.Get("r-42")
		require.NoError(t, err)
		assert.Equal(t, byTemp.Key(), byID.Key())
	})

	t.Run("mark deleted leaves tombstone and hides from list", func(t *testing.T) {
		require.NoError(t, s.Put(recipeItem("r-del", "", "Doomed")))
		require.NoError(t, s.MarkDeleted("r-del", time.Now().UTC()))

		got, err := s.Get("r-del")
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		assert.True(t, got.NeedsSync)

		live, err := s.List(models.EntityRecipe, false)
		require.NoError(t, err)
		for _, item := range live {
			assert.NotEqual(t, "r-del", item.ID)
		}

		all, err := s.List(models.EntityRecipe, true)
		require.NoError(t, err)
		found := false
		for _, item := range all {
			if item.ID == "r-del" {
				found = true
			}
		}
		assert.True(t, found, "tombstoned item should appear when requested")
	})

	t.Run("purge removes entirely", func(t *testing.T) {
		require.NoError(t, s.Put(recipeItem("r-purge", "", "Gone")))
		require.NoError(t, s.Purge("r-purge"))

		_, err := s.Get("r-purge")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("counts exclude conflict and failed from needs_sync", func(t *testing.T) {
		conflicted := recipeItem("r-conf", "", "Contested")
		conflicted.SyncStatus = models.StatusConflict
		conflicted.NeedsSync = true
		require.NoError(t, s.PutSynced(conflicted))

		needsSync, err := s.CountNeedsSync()
		require.NoError(t, err)

		conflicts, err := s.CountConflicts()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, conflicts, 1)

		// The conflicted item must not be in the needs-sync count.
		require.NoError(t, s.Put(recipeItem("r-plain", "", "Plain")))
		after, err := s.CountNeedsSync()
		require.NoError(t, err)
		assert.Equal(t, needsSync+1, after)
	})

	t.Run("concurrent puts to one record serialize", func(t *testing.T) {
		require.NoError(t, s.Put(recipeItem("r-race", "", "v0")))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Put(recipeItem("r-race", "", "raced"))
			}()
		}
		wg.Wait()

		got, err := s.Get("r-race")
		require.NoError(t, err)

		var r models.Recipe
		require.NoError(t, json.Unmarshal(got.Data, &r))
		assert.Equal(t, "raced", r.Name, "last write wins at field-snapshot level")
	})
}
