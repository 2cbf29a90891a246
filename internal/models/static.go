package models

import (
	"fmt"
	"strings"
	"time"
)

// StaticDataType identifies a reference dataset shared across users.
type StaticDataType string

const (
	StaticIngredients StaticDataType = "ingredients"
	StaticBeerStyles  StaticDataType = "beer_styles"
)

// StaticDataTypes lists every reference dataset in a stable order.
var StaticDataTypes = []StaticDataType{StaticIngredients, StaticBeerStyles}

// Valid reports whether t is a known static data type.
func (t StaticDataType) Valid() bool {
	switch t {
	case StaticIngredients, StaticBeerStyles:
		return true
	}
	return false
}

// StaticDataVersion is the server's lightweight version descriptor for one
// reference dataset.
type StaticDataVersion struct {
	Version      string    `json:"version"`
	LastModified time.Time `json:"last_modified"`
	TotalRecords int       `json:"total_records"`
}

// Validate checks the version descriptor.
func (v *StaticDataVersion) Validate() error {
	if strings.TrimSpace(v.Version) == "" {
		return fmt.Errorf("static data version string is required")
	}
	if v.TotalRecords < 0 {
		return fmt.Errorf("total_records cannot be negative")
	}
	return nil
}

// Ingredient is a shared reference ingredient (hop, grain, yeast, adjunct).
type Ingredient struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"` // hop, grain, yeast, adjunct
	AlphaAcid   float64 `json:"alpha_acid,omitempty"`
	Color       float64 `json:"color_lovibond,omitempty"`
	Attenuation float64 `json:"attenuation,omitempty"`
	Description string  `json:"description,omitempty"`
}

// BeerStyle is a shared reference style definition.
type BeerStyle struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	OGMin    float64 `json:"og_min,omitempty"`
	OGMax    float64 `json:"og_max,omitempty"`
	FGMin    float64 `json:"fg_min,omitempty"`
	FGMax    float64 `json:"fg_max,omitempty"`
	IBUMin   float64 `json:"ibu_min,omitempty"`
	IBUMax   float64 `json:"ibu_max,omitempty"`
	SRMMin   float64 `json:"srm_min,omitempty"`
	SRMMax   float64 `json:"srm_max,omitempty"`
}

// CacheStats summarizes the state of the static-data cache.
type CacheStats struct {
	Entries []CacheEntryStats `json:"entries"`
}

// CacheEntryStats describes one cached dataset.
type CacheEntryStats struct {
	DataType     StaticDataType `json:"data_type"`
	Version      string         `json:"version"`
	TotalRecords int            `json:"total_records"`
	CachedAt     time.Time      `json:"cached_at"`
}
