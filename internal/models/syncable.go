package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SyncStatus tracks where a record sits in the sync lifecycle.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusFailed   SyncStatus = "failed"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusConflict, StatusFailed:
		return true
	}
	return false
}

// SyncableItem wraps a domain payload with sync metadata.
//
// An item with a TempID and no ID has never been acknowledged by the server.
// Once the server assigns an ID, TempID is kept only so that replayed
// operations referencing it can be matched; it is never reused as a lookup
// key for new records.
type SyncableItem struct {
	ID           string          `json:"id,omitempty"`
	TempID       string          `json:"temp_id,omitempty"`
	EntityType   EntityType      `json:"entity_type"`
	Data         json.RawMessage `json:"data"`
	LastModified time.Time       `json:"last_modified"`
	SyncStatus   SyncStatus      `json:"sync_status"`

	// ParentID and EntryIndex place embedded entities (fermentation entries,
	// dry-hop additions) inside their brew session.
	ParentID   string `json:"parent_id,omitempty"`
	EntryIndex int    `json:"entry_index,omitempty"`

	// NeedsSync is the authoritative signal that this item has outstanding
	// local changes. It is distinct from SyncStatus so that counting items
	// needing sync never double-counts.
	NeedsSync bool `json:"needs_sync"`

	// Soft-delete markers. A deleted item stays in the store as a tombstone
	// until the delete is confirmed server-side and cleanup removes it.
	Deleted   bool      `json:"is_deleted,omitempty"`
	DeletedAt time.Time `json:"deleted_at,omitempty"`

	// RemoteData holds the server's version while the item is in conflict,
	// so the user can inspect both sides before resolving.
	RemoteData json.RawMessage `json:"remote_data,omitempty"`
}

// Key returns the canonical lookup key: the server ID once assigned,
// otherwise the client temp ID.
func (i *SyncableItem) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.TempID
}

// IsLocalOnly reports whether the item has never been acknowledged by the
// server.
func (i *SyncableItem) IsLocalOnly() bool {
	return i.ID == "" && i.TempID != ""
}

// Validate checks structural invariants of the wrapper.
func (i *SyncableItem) Validate() error {
	if i.ID == "" && i.TempID == "" {
		return fmt.Errorf("item has neither id nor temp_id")
	}
	if !i.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", i.EntityType)
	}
	if !i.SyncStatus.Valid() {
		return fmt.Errorf("unknown sync status %q", i.SyncStatus)
	}
	if i.Deleted && i.DeletedAt.IsZero() {
		return fmt.Errorf("deleted item missing deleted_at")
	}
	if !i.Deleted && len(i.Data) == 0 {
		return fmt.Errorf("live item has empty payload")
	}
	return nil
}

// Clone returns a deep copy of the item.
func (i *SyncableItem) Clone() *SyncableItem {
	clone := *i
	if i.Data != nil {
		clone.Data = append(json.RawMessage(nil), i.Data...)
	}
	if i.RemoteData != nil {
		clone.RemoteData = append(json.RawMessage(nil), i.RemoteData...)
	}
	return &clone
}

// IsTempID reports whether id looks like a client-generated temp ID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// TempIDPrefix marks client-generated identifiers assigned before the server
// has acknowledged a create.
const TempIDPrefix = "tmp-"
