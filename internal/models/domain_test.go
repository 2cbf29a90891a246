package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/models"
)

func TestRecipeValidate(t *testing.T) {
	tests := []struct {
		name    string
		recipe  models.Recipe
		wantErr bool
	}{
		{
			name: "valid recipe",
			recipe: models.Recipe{
				Name:        "West Coast IPA",
				Style:       "American IPA",
				BatchSizeL:  20,
				BoilTimeMin: 60,
			},
		},
		{
			name:    "missing name",
			recipe:  models.Recipe{BatchSizeL: 20},
			wantErr: true,
		},
		{
			name:    "whitespace name",
			recipe:  models.Recipe{Name: "   "},
			wantErr: true,
		},
		{
			name: "negative batch size",
			recipe: models.Recipe{
				Name:       "Stout",
				BatchSizeL: -5,
			},
			wantErr: true,
		},
		{
			name: "ingredient missing name",
			recipe: models.Recipe{
				Name: "Pilsner",
				Ingredients: []models.RecipeIngredient{
					{Name: "", AmountG: 500},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				var valErr *models.ValidationError
				assert.ErrorAs(t, err, &valErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecipeNormalize(t *testing.T) {
	r := models.Recipe{
		Name:  "  Hazy Pale  ",
		Style: " NEIPA ",
		Ingredients: []models.RecipeIngredient{
			{Name: " Citra ", AmountG: 100},
		},
	}
	r.Normalize()

	assert.Equal(t, "Hazy Pale", r.Name)
	assert.Equal(t, "NEIPA", r.Style)
	assert.Equal(t, "Citra", r.Ingredients[0].Name)
}

func TestBrewSessionValidate(t *testing.T) {
	s := models.BrewSession{Name: "Batch 12", Status: "fermenting"}
	assert.NoError(t, s.Validate())

	s.Status = "exploded"
	assert.Error(t, s.Validate())

	s = models.BrewSession{}
	assert.Error(t, s.Validate())
}

func TestBrewSessionNormalizeDefaultsStatus(t *testing.T) {
	s := models.BrewSession{Name: "Batch 13"}
	s.Normalize()
	assert.Equal(t, "planned", s.Status)
}

func TestFermentationEntryValidate(t *testing.T) {
	e := models.FermentationEntry{Date: time.Now(), Gravity: 1.048}
	assert.NoError(t, e.Validate())

	e.Gravity = 10.48 // fat-fingered hydrometer reading
	assert.Error(t, e.Validate())

	e = models.FermentationEntry{}
	assert.Error(t, e.Validate())
}

func TestDryHopAdditionValidate(t *testing.T) {
	d := models.DryHopAddition{HopName: "Mosaic", AmountG: 150, AddedAt: time.Now()}
	assert.NoError(t, d.Validate())

	d.AmountG = 0
	assert.Error(t, d.Validate())
}

func TestValidatePayload(t *testing.T) {
	good, err := json.Marshal(models.Recipe{Name: "Saison", BatchSizeL: 19})
	require.NoError(t, err)

	assert.NoError(t, models.ValidatePayload(models.EntityRecipe, good))
	assert.Error(t, models.ValidatePayload(models.EntityRecipe, json.RawMessage(`{"name":""}`)))
	assert.Error(t, models.ValidatePayload(models.EntityRecipe, nil))
	assert.Error(t, models.ValidatePayload(models.EntityRecipe, json.RawMessage(`not json`)))
	assert.Error(t, models.ValidatePayload(models.EntityType("keg"), good))
}
