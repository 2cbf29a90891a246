package static_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/remote"
	"github.com/brewvault/brewsync/internal/static"
)

// fakeRemote serves scripted static-data versions and payloads.
type fakeRemote struct {
	mu       sync.Mutex
	versions map[models.StaticDataType]string
	payloads map[models.StaticDataType]*remote.StaticPayload
	verCalls int
}

func (f *fakeRemote) StaticVersion(_ context.Context, dt models.StaticDataType) (*models.StaticDataVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verCalls++
	return &models.StaticDataVersion{
		Version:      f.versions[dt],
		LastModified: time.Now().UTC(),
		TotalRecords: len(f.payloads[dt].Records),
	}, nil
}

func (f *fakeRemote) StaticData(_ context.Context, dt models.StaticDataType) (*remote.StaticPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[dt], nil
}

func (f *fakeRemote) set(dt models.StaticDataType, version string, records ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := make([]json.RawMessage, len(records))
	for i, r := range records {
		data, _ := json.Marshal(r)
		raw[i] = data
	}
	f.versions[dt] = version
	f.payloads[dt] = &remote.StaticPayload{
		Version:      version,
		LastModified: time.Now().UTC(),
		TotalRecords: len(raw),
		Records:      raw,
	}
}

func newCache(t *testing.T) (*static.Cache, *fakeRemote) {
	t.Helper()

	db, err := static.OpenStaticDB(filepath.Join(t.TempDir(), "static.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := &fakeRemote{
		versions: make(map[models.StaticDataType]string),
		payloads: make(map[models.StaticDataType]*remote.StaticPayload),
	}
	fake.set(models.StaticIngredients, "v1",
		models.Ingredient{ID: "i-1", Name: "Citra", Type: "hop", AlphaAcid: 12.5},
		models.Ingredient{ID: "i-2", Name: "Maris Otter", Type: "grain"},
	)
	fake.set(models.StaticBeerStyles, "v1",
		models.BeerStyle{ID: "s-1", Name: "American IPA", Category: "IPA"},
	)

	cache, err := static.NewCache(db, fake, events.NewNopLogger())
	require.NoError(t, err)
	return cache, fake
}

func TestRefreshAndRead(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Refresh(ctx, models.StaticIngredients))

	ingredients, err := cache.Ingredients()
	require.NoError(t, err)
	require.Len(t, ingredients, 2)
	assert.Equal(t, "Citra", ingredients[0].Name)

	version, ok, err := cache.CachedVersion(models.StaticIngredients)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", version)
}

func TestIsStale(t *testing.T) {
	cache, fake := newCache(t)
	ctx := context.Background()

	// Nothing cached yet.
	stale, err := cache.IsStale(ctx, models.StaticIngredients)
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, cache.Refresh(ctx, models.StaticIngredients))

	stale, err = cache.IsStale(ctx, models.StaticIngredients)
	require.NoError(t, err)
	assert.False(t, stale)

	// Server moves to v2.
	fake.set(models.StaticIngredients, "v2",
		models.Ingredient{ID: "i-1", Name: "Citra", Type: "hop"},
	)

	stale, err = cache.IsStale(ctx, models.StaticIngredients)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestRefreshIsIdempotent(t *testing.T) {
	cache, fake := newCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Refresh(ctx, models.StaticIngredients))

	fake.mu.Lock()
	before := fake.verCalls
	fake.mu.Unlock()

	// Same version: refresh checks the version and does nothing else.
	require.NoError(t, cache.Refresh(ctx, models.StaticIngredients))

	ingredients, err := cache.Ingredients()
	require.NoError(t, err)
	assert.Len(t, ingredients, 2)

	fake.mu.Lock()
	assert.Equal(t, before+1, fake.verCalls, "second refresh probes version only")
	fake.mu.Unlock()
}

func TestRefreshReplacesAtomically(t *testing.T) {
	cache, fake := newCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Refresh(ctx, models.StaticIngredients))

	fake.set(models.StaticIngredients, "v2",
		models.Ingredient{ID: "i-9", Name: "Galaxy", Type: "hop"},
	)

	// Concurrent readers must see the v1 pair or the v2 single, never a mix.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				ingredients, err := cache.Ingredients()
				if err != nil {
					continue
				}
				switch len(ingredients) {
				case 2:
					if ingredients[0].Name != "Citra" {
						t.Error("mixed read: v1 length with wrong content")
					}
				case 1:
					if ingredients[0].Name != "Galaxy" {
						t.Error("mixed read: v2 length with wrong content")
					}
				default:
					t.Errorf("mixed read: %d records", len(ingredients))
				}
			}
		}()
	}

	require.NoError(t, cache.Refresh(ctx, models.StaticIngredients))
	close(done)
	wg.Wait()

	ingredients, err := cache.Ingredients()
	require.NoError(t, err)
	require.Len(t, ingredients, 1)
	assert.Equal(t, "Galaxy", ingredients[0].Name)
}

func TestStats(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	require.NoError(t, cache.CleanupStale(ctx))

	stats, err := cache.Stats()
	require.NoError(t, err)
	require.Len(t, stats.Entries, 2)

	assert.Equal(t, models.StaticBeerStyles, stats.Entries[0].DataType)
	assert.Equal(t, models.StaticIngredients, stats.Entries[1].DataType)
	assert.Equal(t, 2, stats.Entries[1].TotalRecords)
	assert.False(t, stats.Entries[1].CachedAt.IsZero())
}

func TestStyles(t *testing.T) {
	cache, _ := newCache(t)
	require.NoError(t, cache.Refresh(context.Background(), models.StaticBeerStyles))

	styles, err := cache.Styles()
	require.NoError(t, err)
	require.Len(t, styles, 1)
	assert.Equal(t, "American IPA", styles[0].Name)
}
