package remote_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/remote"
	"github.com/brewvault/brewsync/internal/transport"
)

func newRemote(t *testing.T) (*remote.Client, *transport.MockTransport) {
	t.Helper()
	mock := transport.NewMockTransport()
	t.Cleanup(func() { _ = mock.Close() })
	return remote.NewClient(mock, events.NewNopLogger()), mock
}

func TestApplyOperationRoutes(t *testing.T) {
	tests := []struct {
		name       string
		op         *models.PendingOperation
		wantMethod string
		wantPath   string
	}{
		{
			name: "create recipe",
			op: &models.PendingOperation{
				ID: "op-1", Type: models.OpCreate, EntityType: models.EntityRecipe,
				EntityID: "tmp-1", Data: json.RawMessage(`{"name":"IPA"}`),
			},
			wantMethod: "POST",
			wantPath:   "/api/v1/recipes",
		},
		{
			name: "update recipe",
			op: &models.PendingOperation{
				ID: "op-2", Type: models.OpUpdate, EntityType: models.EntityRecipe,
				EntityID: "r-42", Data: json.RawMessage(`{"name":"IPA"}`),
			},
			wantMethod: "PUT",
			wantPath:   "/api/v1/recipes/r-42",
		},
		{
			name: "delete brew session",
			op: &models.PendingOperation{
				ID: "op-3", Type: models.OpDelete, EntityType: models.EntityBrewSession,
				EntityID: "bs-7",
			},
			wantMethod: "DELETE",
			wantPath:   "/api/v1/brew_sessions/bs-7",
		},
		{
			name: "create fermentation entry under parent",
			op: &models.PendingOperation{
				ID: "op-4", Type: models.OpCreate, EntityType: models.EntityFermentationEntry,
				EntityID: "fe-1", ParentID: "bs-7", Data: json.RawMessage(`{"date":"2026-08-01T00:00:00Z"}`),
			},
			wantMethod: "POST",
			wantPath:   "/api/v1/brew_sessions/bs-7/fermentation_entries",
		},
		{
			name: "update dry hop by index",
			op: &models.PendingOperation{
				ID: "op-5", Type: models.OpUpdate, EntityType: models.EntityDryHopAddition,
				EntityID: "dh-1", ParentID: "bs-7", EntryIndex: 2,
				Data: json.RawMessage(`{"hop_name":"Citra","amount_g":50}`),
			},
			wantMethod: "PUT",
			wantPath:   "/api/v1/brew_sessions/bs-7/dry_hop_additions/2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := newRemote(t)
			mock.Respond(tt.wantMethod, tt.wantPath, remote.PushResult{ID: "srv-1", ModifiedAt: time.Now()}, nil)

			_, err := client.ApplyOperation(context.Background(), tt.op)
			require.NoError(t, err)

			calls := mock.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantMethod, calls[0].Method)
			assert.Equal(t, tt.wantPath, calls[0].Path)
		})
	}
}

func TestApplyOperationEmbeddedNeedsParent(t *testing.T) {
	client, _ := newRemote(t)

	_, err := client.ApplyOperation(context.Background(), &models.PendingOperation{
		ID: "op-1", Type: models.OpCreate, EntityType: models.EntityFermentationEntry,
		EntityID: "fe-1", Data: json.RawMessage(`{}`),
	})

	var valErr *models.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestChanges(t *testing.T) {
	client, mock := newRemote(t)

	now := time.Now().UTC().Truncate(time.Second)
	mock.Handle(func(method, path string, payload interface{}) (interface{}, error) {
		assert.Contains(t, path, "/api/v1/changes?since=")
		return remote.ChangeSet{
			Records: []remote.Record{
				{ID: "r-1", EntityType: models.EntityRecipe, Data: json.RawMessage(`{"name":"IPA"}`), ModifiedAt: now},
			},
			ServerTime: now,
		}, nil
	})

	set, err := client.Changes(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, set.Records, 1)
	assert.Equal(t, "r-1", set.Records[0].ID)
	assert.Equal(t, now.Unix(), set.ServerTime.Unix())
}

func TestStaticVersion(t *testing.T) {
	client, mock := newRemote(t)

	mock.Respond("GET", "/api/v1/static/ingredients/version", models.StaticDataVersion{
		Version:      "v2",
		LastModified: time.Now(),
		TotalRecords: 412,
	}, nil)

	v, err := client.StaticVersion(context.Background(), models.StaticIngredients)
	require.NoError(t, err)
	assert.Equal(t, "v2", v.Version)
	assert.Equal(t, 412, v.TotalRecords)

	t.Run("invalid descriptor wraps VersionError", func(t *testing.T) {
		mock.Respond("GET", "/api/v1/static/beer_styles/version", models.StaticDataVersion{}, nil)

		_, err := client.StaticVersion(context.Background(), models.StaticBeerStyles)
		var verErr *models.VersionError
		assert.ErrorAs(t, err, &verErr)
	})
}

func TestLogin(t *testing.T) {
	client, mock := newRemote(t)
	mock.Respond("POST", "/api/v1/auth/token", map[string]string{"token": "tok-99"}, nil)

	require.NoError(t, client.Login(context.Background(), "brewer@example.com", "hunter2"))
	assert.Equal(t, "tok-99", mock.GetToken())
}
