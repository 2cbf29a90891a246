// Package resolver adjudicates divergence between a local record and the
// server's version of it. The decision function is pure: it inspects both
// sides and a policy, and reports a winner without touching any store.
package resolver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brewvault/brewsync/internal/models"
)

// Source names which side won.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceNone   Source = "none" // manual: neither applied yet
)

// Outcome is the resolver's decision.
type Outcome struct {
	// Winner is the payload to keep. Nil when the decision is deferred to
	// the user (manual policy).
	Winner json.RawMessage

	// Status the item should carry after applying the outcome.
	Status models.SyncStatus

	// Source names the winning side.
	Source Source

	// PushRequired is set when the winning payload still has to be sent to
	// the server (local wins over a diverged remote).
	PushRequired bool

	// Heuristic is set when no explicit policy was configured and the
	// decision fell back to comparing modification times. Callers log it;
	// it is a tie-break, not silent correctness.
	Heuristic bool
}

// Resolve picks a winner between a local item and the remote payload.
func Resolve(local *models.SyncableItem, remoteData json.RawMessage, remoteModified time.Time, policy *models.ConflictResolution) (*Outcome, error) {
	if local == nil {
		return nil, fmt.Errorf("resolve: local item is nil")
	}

	if policy == nil {
		// Fallback: more recent write wins.
		if local.LastModified.After(remoteModified) {
			return &Outcome{
				Winner:       local.Data,
				Status:       models.StatusSynced,
				Source:       SourceLocal,
				PushRequired: true,
				Heuristic:    true,
			}, nil
		}
		return &Outcome{
			Winner:    remoteData,
			Status:    models.StatusSynced,
			Source:    SourceRemote,
			Heuristic: true,
		}, nil
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}

	switch policy.Strategy {
	case models.ResolveLocalWins:
		return &Outcome{
			Winner:       local.Data,
			Status:       models.StatusSynced,
			Source:       SourceLocal,
			PushRequired: true,
		}, nil

	case models.ResolveRemoteWins:
		return &Outcome{
			Winner: remoteData,
			Status: models.StatusSynced,
			Source: SourceRemote,
		}, nil

	case models.ResolveManual:
		if len(policy.ResolvedData) > 0 {
			// The user has made a choice; treat it as local data to push.
			return &Outcome{
				Winner:       policy.ResolvedData,
				Status:       models.StatusSynced,
				Source:       SourceLocal,
				PushRequired: true,
			}, nil
		}
		// No choice yet: hold the item in conflict with both sides visible.
		return &Outcome{
			Status: models.StatusConflict,
			Source: SourceNone,
		}, nil

	default:
		return nil, fmt.Errorf("resolve: unknown strategy %q", policy.Strategy)
	}
}

// Diverged reports whether local and remote actually differ. Items whose
// payloads are byte-equal JSON need no resolution.
func Diverged(local *models.SyncableItem, remoteData json.RawMessage) bool {
	if !local.NeedsSync {
		return false
	}
	return !jsonEqual(local.Data, remoteData)
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return deepEqual(av, bv)
}

func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
