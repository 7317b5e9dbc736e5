package event

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrTitleRequired = errors.New("event title is required")
	ErrPetRequired   = errors.New("event must reference at least one pet")
	ErrInvalidPeriod = errors.New("event end date is before its start date")
)

// Type categorises an event; it drives which details are shown.
type Type string

const (
	Feeding     Type = "feeding"
	Medical     Type = "medical"
	Appointment Type = "appointment"
	Training    Type = "training"
	Social      Type = "social"
	Other       Type = "other"
)

// Frequency of a recurring event.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// EndCondition says when a recurrence stops.
type EndCondition string

const (
	EndNever EndCondition = "never"
	EndOn    EndCondition = "on"
	EndAfter EndCondition = "after"
)

// Recurrence describes how an event repeats. It is descriptive only: no
// occurrences are generated from it.
type Recurrence struct {
	Frequency   Frequency    `json:"frequency"`
	Interval    int          `json:"interval"`
	Days        []string     `json:"days,omitempty"`
	EndType     EndCondition `json:"endType"`
	EndDate     *time.Time   `json:"endDate,omitempty"`
	Occurrences int          `json:"occurrences,omitempty"`
}

// Details holds the type-specific fields of an event.
type Details struct {
	Item       string `json:"item,omitempty"`
	Quantity   string `json:"quantity,omitempty"`
	Medication string `json:"medication,omitempty"`
	Dosage     string `json:"dosage,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Location   string `json:"location,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Activity   string `json:"activity,omitempty"`
	Details    string `json:"details,omitempty"`
}

// Event is the stored event document.
type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	PetIDs      []string    `json:"petId"`
	Type        Type        `json:"type"`
	StartDate   time.Time   `json:"startDate"`
	EndDate     time.Time   `json:"endDate"`
	IsFullDay   bool        `json:"isFullDay"`
	IsRecurring bool        `json:"isRecurring"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	Pivot       Details     `json:"pivot"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Validate checks the fields an event cannot be stored without.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrTitleRequired
	}
	if len(e.PetIDs) == 0 {
		return ErrPetRequired
	}
	if !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate) {
		return ErrInvalidPeriod
	}
	return nil
}

// Form is the editable shape of an event. It references a single pet.
type Form struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	PetID       string      `json:"petId"`
	Type        Type        `json:"type"`
	StartDate   time.Time   `json:"startDate"`
	EndDate     time.Time   `json:"endDate"`
	IsFullDay   bool        `json:"isFullDay"`
	IsRecurring bool        `json:"isRecurring"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	Pivot       Details     `json:"pivot"`
}

// ToEvent converts the form to an event document without an ID.
func (f Form) ToEvent() Event {
	e := Event{
		Title:       strings.TrimSpace(f.Title),
		Description: f.Description,
		Type:        f.Type,
		StartDate:   f.StartDate,
		EndDate:     f.EndDate,
		IsFullDay:   f.IsFullDay,
		IsRecurring: f.IsRecurring,
		Recurrence:  f.Recurrence,
		Pivot:       f.Pivot,
	}
	if f.PetID != "" {
		e.PetIDs = []string{f.PetID}
	}
	if e.EndDate.IsZero() {
		e.EndDate = e.StartDate
	}
	if e.Type == "" {
		e.Type = Other
	}
	return e
}

// PrimaryData is the compact projection of an event used for card display.
type PrimaryData struct {
	Pets        []string    `json:"pets"`
	DateTime    time.Time   `json:"dateTime"`
	IsFullDay   bool        `json:"isFullDay"`
	IsRecurring bool        `json:"isRecurring"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`

	Item       string `json:"item,omitempty"`
	Quantity   string `json:"quantity,omitempty"`
	Medication string `json:"medication,omitempty"`
	Dosage     string `json:"dosage,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Location   string `json:"location,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Activity   string `json:"activity,omitempty"`
	Details    string `json:"details,omitempty"`
}
