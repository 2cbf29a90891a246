package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType tags the domain payload carried by a SyncableItem or a
// PendingOperation.
type EntityType string

const (
	EntityRecipe             EntityType = "recipe"
	EntityBrewSession        EntityType = "brew_session"
	EntityFermentationEntry  EntityType = "fermentation_entry"
	EntityDryHopAddition     EntityType = "dry_hop_addition"
)

// EntityTypes lists every syncable entity type in a stable order.
var EntityTypes = []EntityType{
	EntityRecipe,
	EntityBrewSession,
	EntityFermentationEntry,
	EntityDryHopAddition,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityRecipe, EntityBrewSession, EntityFermentationEntry, EntityDryHopAddition:
		return true
	}
	return false
}

// Recipe is a user-authored beer recipe.
type Recipe struct {
	Name        string             `json:"name"`
	Style       string             `json:"style"`
	BatchSizeL  float64            `json:"batch_size_l"`
	BoilTimeMin int                `json:"boil_time_min"`
	TargetOG    float64            `json:"target_og,omitempty"`
	TargetFG    float64            `json:"target_fg,omitempty"`
	Ingredients []RecipeIngredient `json:"ingredients,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

// RecipeIngredient is one line of a recipe's bill of materials.
type RecipeIngredient struct {
	IngredientID string  `json:"ingredient_id"`
	Name         string  `json:"name"`
	AmountG      float64 `json:"amount_g"`
	TimeMin      int     `json:"time_min,omitempty"`
	Use          string  `json:"use,omitempty"` // mash, boil, whirlpool, dry_hop
}

// Validate checks recipe fields at the store boundary.
func (r *Recipe) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{EntityType: EntityRecipe, Field: "name", Reason: "required"}
	}
	if r.BatchSizeL < 0 {
		return &ValidationError{EntityType: EntityRecipe, Field: "batch_size_l", Reason: "must not be negative"}
	}
	if r.BoilTimeMin < 0 {
		return &ValidationError{EntityType: EntityRecipe, Field: "boil_time_min", Reason: "must not be negative"}
	}
	for i, ing := range r.Ingredients {
		if strings.TrimSpace(ing.Name) == "" {
			return &ValidationError{EntityType: EntityRecipe, Field: fmt.Sprintf("ingredients[%d].name", i), Reason: "required"}
		}
		if ing.AmountG < 0 {
			return &ValidationError{EntityType: EntityRecipe, Field: fmt.Sprintf("ingredients[%d].amount_g", i), Reason: "must not be negative"}
		}
	}
	return nil
}

// Normalize trims free-text fields before storage.
func (r *Recipe) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Style = strings.TrimSpace(r.Style)
	for i := range r.Ingredients {
		r.Ingredients[i].Name = strings.TrimSpace(r.Ingredients[i].Name)
	}
}

// BrewSession records one brew day for a recipe, plus its fermentation log.
type BrewSession struct {
	RecipeID        string               `json:"recipe_id"`
	Name            string               `json:"name"`
	BrewDate        time.Time            `json:"brew_date"`
	Status          string               `json:"status"` // planned, fermenting, conditioning, completed
	MeasuredOG      float64              `json:"measured_og,omitempty"`
	MeasuredFG      float64              `json:"measured_fg,omitempty"`
	FermentationLog []FermentationEntry  `json:"fermentation_log,omitempty"`
	DryHopAdditions []DryHopAddition     `json:"dry_hop_additions,omitempty"`
	Notes           string               `json:"notes,omitempty"`
}

// Validate checks session fields at the store boundary.
func (s *BrewSession) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{EntityType: EntityBrewSession, Field: "name", Reason: "required"}
	}
	switch s.Status {
	case "", "planned", "fermenting", "conditioning", "completed":
	default:
		return &ValidationError{EntityType: EntityBrewSession, Field: "status", Reason: "unknown status " + s.Status}
	}
	return nil
}

// Normalize trims free-text fields before storage.
func (s *BrewSession) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	if s.Status == "" {
		s.Status = "planned"
	}
}

// FermentationEntry is a gravity/temperature reading inside a brew session.
// It syncs as an embedded entity: operations carry the session as ParentID
// and the reading's position as EntryIndex.
type FermentationEntry struct {
	Date        time.Time `json:"date"`
	Gravity     float64   `json:"gravity,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	PH          float64   `json:"ph,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Validate checks entry fields at the store boundary.
func (f *FermentationEntry) Validate() error {
	if f.Date.IsZero() {
		return &ValidationError{EntityType: EntityFermentationEntry, Field: "date", Reason: "required"}
	}
	if f.Gravity != 0 && (f.Gravity < 0.9 || f.Gravity > 1.2) {
		return &ValidationError{EntityType: EntityFermentationEntry, Field: "gravity", Reason: "out of plausible range"}
	}
	return nil
}

// DryHopAddition is a hop charge added during fermentation, embedded in a
// brew session like a fermentation entry.
type DryHopAddition struct {
	HopName   string    `json:"hop_name"`
	AmountG   float64   `json:"amount_g"`
	AddedAt   time.Time `json:"added_at"`
	RemovedAt time.Time `json:"removed_at,omitempty"`
}

// Validate checks addition fields at the store boundary.
func (d *DryHopAddition) Validate() error {
	if strings.TrimSpace(d.HopName) == "" {
		return &ValidationError{EntityType: EntityDryHopAddition, Field: "hop_name", Reason: "required"}
	}
	if d.AmountG <= 0 {
		return &ValidationError{EntityType: EntityDryHopAddition, Field: "amount_g", Reason: "must be positive"}
	}
	return nil
}

// NormalizePayload decodes a raw payload, applies the entity's
// normalization, and re-encodes it. Returns the input unchanged for entity
// types without normalization rules.
func NormalizePayload(entityType EntityType, data json.RawMessage) (json.RawMessage, error) {
	switch entityType {
	case EntityRecipe:
		var r Recipe
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, &ValidationError{EntityType: entityType, Reason: err.Error()}
		}
		r.Normalize()
		return json.Marshal(r)
	case EntityBrewSession:
		var s BrewSession
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, &ValidationError{EntityType: entityType, Reason: err.Error()}
		}
		s.Normalize()
		return json.Marshal(s)
	default:
		return data, nil
	}
}

// ValidatePayload decodes and validates a raw payload against its tagged
// entity type. Dynamic server payloads pass through here before they become
// a SyncableItem.
func ValidatePayload(entityType EntityType, data json.RawMessage) error {
	if len(data) == 0 {
		return &ValidationError{EntityType: entityType, Reason: "empty payload"}
	}
	switch entityType {
	case EntityRecipe:
		var r Recipe
		if err := json.Unmarshal(data, &r); err != nil {
			return &ValidationError{EntityType: entityType, Reason: err.Error()}
		}
		return r.Validate()
	case EntityBrewSession:
		var s BrewSession
		if err := json.Unmarshal(data, &s); err != nil {
			return &ValidationError{EntityType: entityType, Reason: err.Error()}
		}
		return s.Validate()
	case EntityFermentationEntry:
		var f FermentationEntry
		if err := json.Unmarshal(data, &f); err != nil {
			return &ValidationError{EntityType: entityType, Reason: err.Error()}
		}
		return f.Validate()
	case EntityDryHopAddition:
		var d DryHopAddition
		if err := json.Unmarshal(data, &d); err != nil {
			return &ValidationError{EntityType: entityType, Reason: err.Error()}
		}
		return d.Validate()
	default:
		return &ValidationError{EntityType: entityType, Reason: "unknown entity type"}
	}
}
