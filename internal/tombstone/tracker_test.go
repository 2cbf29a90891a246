package tombstone_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/store"
	"github.com/brewvault/brewsync/internal/tombstone"
)

func newTracker(t *testing.T) *tombstone.SQLiteTracker {
	t.Helper()

	db, err := store.OpenUserDB(filepath.Join(t.TempDir(), "userdata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tr, err := tombstone.NewSQLiteTracker(db, events.NewNopLogger())
	require.NoError(t, err)
	return tr
}

func TestRecordAndCheck(t *testing.T) {
	tr := newTracker(t)

	ok, err := tr.IsTombstoned("r-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.Record(models.EntityRecipe, "r-1", time.Now().UTC()))

	ok, err = tr.IsTombstoned("r-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCleanupOnlyRemovesConfirmed(t *testing.T) {
	tr := newTracker(t)

	now := time.Now().UTC()
	require.NoError(t, tr.Record(models.EntityRecipe, "r-1", now))
	require.NoError(t, tr.Record(models.EntityRecipe, "r-2", now))
	require.NoError(t, tr.Record(models.EntityBrewSession, "bs-1", now))

	require.NoError(t, tr.MarkConfirmed("r-1"))
	require.NoError(t, tr.MarkConfirmed("bs-1"))

	result, err := tr.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Removed)
	assert.ElementsMatch(t, []string{"r-1", "bs-1"}, result.IDs)

	// Unconfirmed tombstone keeps guarding against resurrection.
	ok, err := tr.IsTombstoned("r-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.IsTombstoned("r-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReRecordResetsConfirmation(t *testing.T) {
	tr := newTracker(t)

	now := time.Now().UTC()
	require.NoError(t, tr.Record(models.EntityRecipe, "r-1", now))
	require.NoError(t, tr.MarkConfirmed("r-1"))

	// Deleted again (e.g. recreated and re-deleted id): confirmation resets.
	require.NoError(t, tr.Record(models.EntityRecipe, "r-1", now.Add(time.Minute)))

	result, err := tr.Cleanup()
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
}

func TestMarkConfirmedMissing(t *testing.T) {
	tr := newTracker(t)
	assert.ErrorIs(t, tr.MarkConfirmed("ghost"), models.ErrNotFound)
}

func TestRemapKeepsTombstoneConfirmable(t *testing.T) {
	tr := newTracker(t)

	require.NoError(t, tr.Record(models.EntityRecipe, "tmp-1", time.Now().UTC()))
	require.NoError(t, tr.Remap("tmp-1", "r-42"))

	ok, err := tr.IsTombstoned("r-42")
	require.NoError(t, err)
	assert.True(t, ok, "tombstone follows the server-assigned ID")

	ok, err = tr.IsTombstoned("tmp-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.MarkConfirmed("r-42"))
	result, err := tr.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, []string{"r-42"}, result.IDs)
}

func TestRemapMissingIsNoop(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.Remap("tmp-ghost", "r-1"))
}

func TestAll(t *testing.T) {
	tr := newTracker(t)

	earlier := time.Now().UTC().Add(-time.Hour)
	later := time.Now().UTC()
	require.NoError(t, tr.Record(models.EntityRecipe, "r-2", later))
	require.NoError(t, tr.Record(models.EntityRecipe, "r-1", earlier))

	stones, err := tr.All()
	require.NoError(t, err)
	require.Len(t, stones, 2)
	assert.Equal(t, "r-1", stones[0].EntityID, "ordered by deletion time")
	assert.False(t, stones[0].Confirmed)
}
