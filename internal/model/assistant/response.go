package assistant

import (
	"encoding/json"

	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
)

// RequestType tells what the AI understood the user asked for.
type RequestType string

const (
	CreateEvent RequestType = "createEvent"
	CreatePet   RequestType = "createPet"
	Query       RequestType = "query"
	Advice      RequestType = "advice"
	Metrics     RequestType = "metrics"
	DeleteEvent RequestType = "deleteEvent"
	DeletePet   RequestType = "deletePet"
	UpdateEvent RequestType = "updateEvent"
)

// RequestTypes lists every request type the assistant understands.
var RequestTypes = []RequestType{
	CreateEvent, CreatePet, Query, Advice, Metrics, DeleteEvent, DeletePet, UpdateEvent,
}

// Known reports whether t is one of RequestTypes.
func (t RequestType) Known() bool {
	for _, known := range RequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// HealthDisclaimer accompanies responses touching on medical matters.
type HealthDisclaimer struct {
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// Response is the payload returned by the AI endpoint.
type Response struct {
	Score            float64           `json:"score"`
	RequestType      RequestType       `json:"requestType"`
	Description      string            `json:"description"`
	Data             json.RawMessage   `json:"data,omitempty"`
	HealthDisclaimer *HealthDisclaimer `json:"healthDisclaimer,omitempty"`
}

// ChatMessage is one turn sent to the AI endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body of POST /ai and /ai/stream. Exactly one of Prompt and
// Messages is expected to be set.
type Request struct {
	Prompt   string         `json:"prompt,omitempty"`
	Messages []ChatMessage  `json:"messages,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
}

// LastUserContent returns the prompt, or the content of the last user message.
func (r Request) LastUserContent() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Payload is the decoded, typed form of a Response. The concrete types are
// the variants below.
type Payload interface {
	RequestType() RequestType
}

// CreateEventPayload asks to create an event.
type CreateEventPayload struct {
	Event event.Form
}

// UpdateEventPayload asks to update an existing event.
type UpdateEventPayload struct {
	EventID string
	Event   event.Form
}

// CreatePetPayload asks to create a pet.
type CreatePetPayload struct {
	Pet pet.Form
}

// DeleteEventPayload asks to delete an event.
type DeleteEventPayload struct {
	EventID string
}

// DeletePetPayload asks to delete a pet.
type DeletePetPayload struct {
	PetID string
}

// QueryPayload carries the free-form answer to a question about stored data.
type QueryPayload struct {
	Data map[string]any
}

// AdvicePayload carries care advice.
type AdvicePayload struct {
	Data map[string]any
}

// MetricsPayload carries computed figures (weights, counts, ...).
type MetricsPayload struct {
	Data map[string]any
}

func (CreateEventPayload) RequestType() RequestType { return CreateEvent }
func (UpdateEventPayload) RequestType() RequestType { return UpdateEvent }
func (CreatePetPayload) RequestType() RequestType   { return CreatePet }
func (DeleteEventPayload) RequestType() RequestType { return DeleteEvent }
func (DeletePetPayload) RequestType() RequestType   { return DeletePet }
func (QueryPayload) RequestType() RequestType       { return Query }
func (AdvicePayload) RequestType() RequestType      { return Advice }
func (MetricsPayload) RequestType() RequestType     { return Metrics }
