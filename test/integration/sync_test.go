//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/config"
	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/queue"
	"github.com/brewvault/brewsync/internal/remote"
	"github.com/brewvault/brewsync/internal/services/records"
	syncsvc "github.com/brewvault/brewsync/internal/services/sync"
	"github.com/brewvault/brewsync/internal/static"
	"github.com/brewvault/brewsync/internal/store"
	"github.com/brewvault/brewsync/internal/tombstone"
	"github.com/brewvault/brewsync/internal/transport"
	"github.com/brewvault/brewsync/test/testutil"
)

type env struct {
	server  *testutil.TestServer
	remote  *remote.Client
	store   store.Store
	queue   queue.Queue
	records *records.Service
	sync    *syncsvc.Service
	static  *static.Cache
}

func newEnv(t *testing.T) *env {
	t.Helper()

	server := testutil.NewTestServer()
	t.Cleanup(server.Close)

	logger := events.NewNopLogger()
	apiCfg := config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		UserAgent:  "brewsync-test",
	}

	tr := transport.New(&apiCfg, logger)
	t.Cleanup(func() { _ = tr.Close() })
	rc := remote.NewClient(tr, logger)

	require.NoError(t, rc.Login(context.Background(), "brewer@example.com", "secret"))

	dir := t.TempDir()
	userDB, err := store.OpenUserDB(filepath.Join(dir, "userdata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = userDB.Close() })

	st, err := store.NewSQLiteStore(userDB, logger)
	require.NoError(t, err)
	q, err := queue.NewSQLiteQueue(userDB, queue.BackoffConfig{
		Base: 50 * time.Millisecond,
		Max:  time.Second,
	}, logger)
	require.NoError(t, err)
	tomb, err := tombstone.NewSQLiteTracker(userDB, logger)
	require.NoError(t, err)
	cp, err := syncsvc.NewSQLiteCheckpoint(userDB, logger)
	require.NoError(t, err)

	staticDB, err := static.OpenStaticDB(filepath.Join(dir, "static.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = staticDB.Close() })
	cache, err := static.NewCache(staticDB, rc, logger)
	require.NoError(t, err)

	engine := syncsvc.NewEngine(st, q, tomb, rc, cp, &syncsvc.EngineConfig{
		BatchSize:     20,
		MaxConcurrent: 4,
		OpTimeout:     5 * time.Second,
	}, logger)

	return &env{
		server:  server,
		remote:  rc,
		store:   st,
		queue:   q,
		records: records.NewService(st, q, tomb, 3, logger),
		sync:    syncsvc.NewService(engine, st, tomb, cache, tr, cp, time.Minute, logger),
		static:  cache,
	}
}

func recipeJSON(name string) json.RawMessage {
	return json.RawMessage(`{"name":"` + name + `","style":"IPA","batch_size_l":20,"boil_time_min":60}`)
}

func TestOfflineCreateThenSync(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := newEnv(t)
	ctx := context.Background()

	// Work offline: create, then edit.
	item, err := e.records.Create(models.EntityRecipe, recipeJSON("Citra Haze"))
	require.NoError(t, err)
	_, err = e.records.Update(item.TempID, recipeJSON("Citra Haze v2"))
	require.NoError(t, err)

	result, err := e.sync.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Processed)

	// The temp ID still resolves, now to the server-assigned record.
	got, err := e.records.GetByID(item.TempID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)

	serverRec, ok := e.server.Record(got.ID)
	require.True(t, ok)
	var r models.Recipe
	require.NoError(t, json.Unmarshal(serverRec.Data, &r))
	assert.Equal(t, "Citra Haze v2", r.Name, "server holds the final edit")

	n, err := e.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := newEnv(t)
	ctx := context.Background()

	id := e.server.Seed("recipe", recipeJSON("Old Ale"))

	// First sync pulls the record down.
	_, err := e.sync.Sync(ctx)
	require.NoError(t, err)
	_, err = e.records.GetByID(id)
	require.NoError(t, err)

	// Delete locally, sync, and verify both sides converge.
	require.NoError(t, e.records.Delete(id))
	result, err := e.sync.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	serverRec, ok := e.server.Record(id)
	require.True(t, ok)
	assert.True(t, serverRec.Deleted)

	_, err = e.records.GetByID(id)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// A further cycle must not resurrect it from the server's change feed.
	_, err = e.sync.Sync(ctx)
	require.NoError(t, err)
	_, err = e.records.GetByID(id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTwoClientsConverge(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Two local stores against one server: device A creates, device B
	// receives it on its next cycle.
	serverEnv := newEnv(t)
	ctx := context.Background()

	itemA, err := serverEnv.records.Create(models.EntityRecipe, recipeJSON("Shared Batch"))
	require.NoError(t, err)
	_, err = serverEnv.sync.Sync(ctx)
	require.NoError(t, err)
	gotA, err := serverEnv.records.GetByID(itemA.TempID)
	require.NoError(t, err)

	deviceB := newDevice(t, serverEnv.server, nil)
	_, err = deviceB.sync.Sync(ctx)
	require.NoError(t, err)

	gotB, err := deviceB.records.GetByID(gotA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, gotB.SyncStatus)
	assert.JSONEq(t, string(gotA.Data), string(gotB.Data))
}

// newDevice attaches a second independent local store to an existing server.
func newDevice(t *testing.T, server *testutil.TestServer, policy *models.ConflictResolution) *env {
	t.Helper()

	logger := events.NewNopLogger()
	apiCfg := config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		UserAgent:  "brewsync-test",
	}
	tr := transport.New(&apiCfg, logger)
	t.Cleanup(func() { _ = tr.Close() })
	rc := remote.NewClient(tr, logger)
	require.NoError(t, rc.Login(context.Background(), "brewer@example.com", "secret"))

	dir := t.TempDir()
	userDB, err := store.OpenUserDB(filepath.Join(dir, "userdata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = userDB.Close() })

	st, err := store.NewSQLiteStore(userDB, logger)
	require.NoError(t, err)
	q, err := queue.NewSQLiteQueue(userDB, queue.BackoffConfig{
		Base: 50 * time.Millisecond,
		Max:  time.Second,
	}, logger)
	require.NoError(t, err)
	tomb, err := tombstone.NewSQLiteTracker(userDB, logger)
	require.NoError(t, err)
	cp, err := syncsvc.NewSQLiteCheckpoint(userDB, logger)
	require.NoError(t, err)

	engine := syncsvc.NewEngine(st, q, tomb, rc, cp, &syncsvc.EngineConfig{
		BatchSize:     20,
		MaxConcurrent: 4,
		OpTimeout:     5 * time.Second,
		Policy:        policy,
	}, logger)

	return &env{
		server:  server,
		remote:  rc,
		store:   st,
		queue:   q,
		records: records.NewService(st, q, tomb, 3, logger),
		sync:    syncsvc.NewService(engine, st, tomb, nil, tr, cp, time.Minute, logger),
	}
}

func TestTwoDevicesDivergeIntoConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	a := newEnv(t)
	ctx := context.Background()

	item, err := a.records.Create(models.EntityRecipe, recipeJSON("House Pale"))
	require.NoError(t, err)
	_, err = a.sync.Sync(ctx)
	require.NoError(t, err)
	created, err := a.records.GetByID(item.TempID)
	require.NoError(t, err)
	id := created.ID

	b := newDevice(t, a.server, &models.ConflictResolution{Strategy: models.ResolveManual})
	_, err = b.sync.Sync(ctx)
	require.NoError(t, err)

	// Both devices edit the same recipe; A reaches the server first, so
	// B's push is rejected as stale.
	_, err = a.records.Update(id, recipeJSON("House Pale (device A)"))
	require.NoError(t, err)
	_, err = a.sync.Sync(ctx)
	require.NoError(t, err)

	_, err = b.records.Update(id, recipeJSON("House Pale (device B)"))
	require.NoError(t, err)
	a.server.ForceConflict(id)

	result, err := b.sync.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Zero(t, result.Failed)

	parked, err := b.records.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, parked.SyncStatus)

	var local, remoteSide models.Recipe
	require.NoError(t, json.Unmarshal(parked.Data, &local))
	require.NoError(t, json.Unmarshal(parked.RemoteData, &remoteSide))
	assert.Equal(t, "House Pale (device B)", local.Name)
	assert.Equal(t, "House Pale (device A)", remoteSide.Name)

	counts, err := b.records.Counts()
	require.NoError(t, err)
	assert.Zero(t, counts.Pending)
	assert.Equal(t, 1, counts.Conflicts)

	// Keeping the local version re-enqueues the push and the devices
	// converge on B's edit.
	require.NoError(t, b.records.ResolveConflict(id, models.ConflictResolution{Strategy: models.ResolveLocalWins}))
	_, err = b.sync.Sync(ctx)
	require.NoError(t, err)

	_, err = a.sync.Sync(ctx)
	require.NoError(t, err)
	final, err := a.records.GetByID(id)
	require.NoError(t, err)
	assert.JSONEq(t, string(parked.Data), string(final.Data))
}

func TestStaticCacheRefresh(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := newEnv(t)
	ctx := context.Background()

	e.server.SetStatic("ingredients", "2026.08", []json.RawMessage{
		json.RawMessage(`{"id":"hop-citra","name":"Citra","type":"hop","alpha_acid":12.0}`),
		json.RawMessage(`{"id":"malt-pale","name":"Pale Malt","type":"grain"}`),
	})
	e.server.SetStatic("beer_styles", "2026.08", []json.RawMessage{
		json.RawMessage(`{"id":"ipa","name":"American IPA"}`),
	})

	require.NoError(t, e.static.Refresh(ctx, models.StaticIngredients))
	require.NoError(t, e.static.Refresh(ctx, models.StaticBeerStyles))

	ingredients, err := e.static.Ingredients()
	require.NoError(t, err)
	assert.Len(t, ingredients, 2)

	// A new version replaces the dataset on the next refresh.
	e.server.SetStatic("ingredients", "2026.09", []json.RawMessage{
		json.RawMessage(`{"id":"hop-citra","name":"Citra","type":"hop","alpha_acid":12.0}`),
		json.RawMessage(`{"id":"hop-mosaic","name":"Mosaic","type":"hop","alpha_acid":11.5}`),
		json.RawMessage(`{"id":"malt-pale","name":"Pale Malt","type":"grain"}`),
	})
	require.NoError(t, e.static.Refresh(ctx, models.StaticIngredients))

	ingredients, err = e.static.Ingredients()
	require.NoError(t, err)
	assert.Len(t, ingredients, 3)

	version, ok, err := e.static.CachedVersion(models.StaticIngredients)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026.09", version)
}
