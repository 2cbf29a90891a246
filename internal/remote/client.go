// Package remote wraps the raw transport in the typed surface of the
// authoritative store: per-entity CRUD, the delta fetch for the user's
// records, and the static-data version and payload endpoints.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/transport"
)

// Client is the typed remote API client.
type Client struct {
	transport transport.Transport
	logger    *events.Logger
}

// NewClient creates a remote API client.
func NewClient(t transport.Transport, logger *events.Logger) *Client {
	return &Client{
		transport: t,
		logger:    logger.WithField("component", "remote"),
	}
}

// PushResult is the server's acknowledgment of one operation.
type PushResult struct {
	ID         string    `json:"id"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Record is one of the user's records as the server sees it.
type Record struct {
	ID         string            `json:"id"`
	EntityType models.EntityType `json:"entity_type"`
	Data       json.RawMessage   `json:"data"`
	ModifiedAt time.Time         `json:"modified_at"`
	Deleted    bool              `json:"deleted,omitempty"`
}

// ChangeSet is the delta-fetch response.
type ChangeSet struct {
	Records    []Record  `json:"records"`
	ServerTime time.Time `json:"server_time"`
}

// StaticPayload is a full reference dataset with its version descriptor.
type StaticPayload struct {
	Version      string            `json:"version"`
	LastModified time.Time         `json:"last_modified"`
	TotalRecords int               `json:"total_records"`
	Records      []json.RawMessage `json:"records"`
}

// collection maps a top-level entity type to its API collection.
func collection(t models.EntityType) (string, error) {
	switch t {
	case models.EntityRecipe:
		return "recipes", nil
	case models.EntityBrewSession:
		return "brew_sessions", nil
	default:
		return "", fmt.Errorf("entity type %s has no top-level collection", t)
	}
}

// opPath resolves the route for an operation. Fermentation entries and
// dry-hop additions are embedded in their brew session and addressed through
// parent routes with a positional index.
func opPath(op *models.PendingOperation) (string, error) {
	switch op.EntityType {
	case models.EntityRecipe, models.EntityBrewSession:
		col, err := collection(op.EntityType)
		if err != nil {
			return "", err
		}
		if op.Type == models.OpCreate {
			return "/api/v1/" + col, nil
		}
		return "/api/v1/" + col + "/" + url.PathEscape(op.EntityID), nil

	case models.EntityFermentationEntry, models.EntityDryHopAddition:
		if op.ParentID == "" {
			return "", fmt.Errorf("embedded %s operation missing parent_id", op.EntityType)
		}
		sub := "fermentation_entries"
		if op.EntityType == models.EntityDryHopAddition {
			sub = "dry_hop_additions"
		}
		base := "/api/v1/brew_sessions/" + url.PathEscape(op.ParentID) + "/" + sub
		if op.Type == models.OpCreate {
			return base, nil
		}
		return fmt.Sprintf("%s/%d", base, op.EntryIndex), nil

	default:
		return "", fmt.Errorf("unknown entity type %s", op.EntityType)
	}
}

// ApplyOperation replays one pending operation against the server and
// returns its acknowledgment. Deletes acknowledge with an empty result.
func (c *Client) ApplyOperation(ctx context.Context, op *models.PendingOperation) (*PushResult, error) {
	path, err := opPath(op)
	if err != nil {
		return nil, &models.ValidationError{
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Reason:     err.Error(),
		}
	}

	var method string
	switch op.Type {
	case models.OpCreate:
		method = http.MethodPost
	case models.OpUpdate:
		method = http.MethodPut
	case models.OpDelete:
		method = http.MethodDelete
	default:
		return nil, fmt.Errorf("unknown operation type %s", op.Type)
	}

	var payload interface{}
	if op.Type != models.OpDelete {
		payload = json.RawMessage(op.Data)
	}

	var result PushResult
	if err := c.transport.DoJSON(ctx, method, path, payload, &result); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"op_id":  op.ID,
		"type":   op.Type,
		"entity": op.EntityID,
	}).Debug("Operation acknowledged")
	return &result, nil
}

// Changes fetches the user's records modified since the given time. A zero
// time requests the full set.
func (c *Client) Changes(ctx context.Context, since time.Time) (*ChangeSet, error) {
	path := "/api/v1/changes"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var set ChangeSet
	if err := c.transport.DoJSON(ctx, http.MethodGet, path, nil, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// StaticVersion fetches the lightweight version descriptor for a reference
// dataset.
func (c *Client) StaticVersion(ctx context.Context, dataType models.StaticDataType) (*models.StaticDataVersion, error) {
	if !dataType.Valid() {
		return nil, fmt.Errorf("unknown static data type %q", dataType)
	}

	var version models.StaticDataVersion
	path := "/api/v1/static/" + string(dataType) + "/version"
	if err := c.transport.DoJSON(ctx, http.MethodGet, path, nil, &version); err != nil {
		return nil, &models.VersionError{DataType: dataType, Err: err}
	}
	if err := version.Validate(); err != nil {
		return nil, &models.VersionError{DataType: dataType, Err: err}
	}
	return &version, nil
}

// StaticData fetches a full reference dataset.
func (c *Client) StaticData(ctx context.Context, dataType models.StaticDataType) (*StaticPayload, error) {
	if !dataType.Valid() {
		return nil, fmt.Errorf("unknown static data type %q", dataType)
	}

	var payload StaticPayload
	path := "/api/v1/static/" + string(dataType)
	if err := c.transport.DoJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Login exchanges credentials for a bearer token and installs it on the
// transport.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.transport.DoJSON(ctx, http.MethodPost, "/api/v1/auth/token", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("login: %w", models.ErrNotAuthenticated)
	}

	c.transport.SetToken(resp.Token)
	return nil
}
