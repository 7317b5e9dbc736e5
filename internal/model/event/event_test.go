package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormToEventDefaults(t *testing.T) {
	start := time.Date(2024, 6, 11, 8, 0, 0, 0, time.UTC)
	e := Form{Title: "  Repas  ", PetID: "1", StartDate: start}.ToEvent()

	assert.Equal(t, "Repas", e.Title)
	assert.Equal(t, []string{"1"}, e.PetIDs)
	assert.Equal(t, Other, e.Type)
	assert.True(t, e.EndDate.Equal(start))
	assert.NoError(t, e.Validate())
}

func TestValidate(t *testing.T) {
	start := time.Date(2024, 6, 11, 8, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, Event{PetIDs: []string{"1"}}.Validate(), ErrTitleRequired)
	assert.ErrorIs(t, Event{Title: "Vet"}.Validate(), ErrPetRequired)
	assert.ErrorIs(t, Event{Title: "Vet", PetIDs: []string{"1"}, StartDate: start, EndDate: start.Add(-time.Hour)}.Validate(), ErrInvalidPeriod)
}
