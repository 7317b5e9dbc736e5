package pet

import (
	"errors"
	"strings"
	"time"
)

// ErrNameRequired is returned when a pet is saved without a name.
var ErrNameRequired = errors.New("pet name is required")

// Pet is the stored pet document.
type Pet struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Species   string     `json:"species"`
	Breed     string     `json:"breed,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
	Weight    float64    `json:"weight,omitempty"`
	Color     string     `json:"color,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Validate checks the fields a pet cannot be stored without.
func (p Pet) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// Form is the editable shape of a pet, as filled by the user or the assistant.
type Form struct {
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Breed     string    `json:"breed"`
	Gender    string    `json:"gender"`
	BirthDate time.Time `json:"birthDate"`
	Weight    float64   `json:"weight"`
	Color     string    `json:"color"`
	Notes     string    `json:"notes"`
}

// ToPet converts the form to a pet document without an ID.
func (f Form) ToPet() Pet {
	p := Pet{
		Name:    strings.TrimSpace(f.Name),
		Species: f.Species,
		Breed:   f.Breed,
		Gender:  f.Gender,
		Weight:  f.Weight,
		Color:   f.Color,
		Notes:   f.Notes,
	}
	if !f.BirthDate.IsZero() {
		birth := f.BirthDate
		p.BirthDate = &birth
	}
	return p
}
