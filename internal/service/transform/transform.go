// Package transform reshapes loosely typed AI payloads into the event and pet
// forms the application works with.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
)

// ErrUnrecognizedResponse is returned when a response's type is unknown or its
// data lacks the fields that type requires.
var ErrUnrecognizedResponse = errors.New("unrecognized AI response shape")

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Decode turns a response into its typed payload.
func Decode(resp assistant.Response, now time.Time) (assistant.Payload, error) {
	data, err := decodeObject(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}

	switch resp.RequestType {
	case assistant.CreateEvent:
		if !has(data, "title") || !has(data, "petId") {
			return nil, fmt.Errorf("%w: createEvent needs title and petId", ErrUnrecognizedResponse)
		}
		return assistant.CreateEventPayload{Event: ToEventForm(data, now)}, nil
	case assistant.UpdateEvent:
		id := firstString(data, "id", "eventId")
		if id == "" || !has(data, "title") {
			return nil, fmt.Errorf("%w: updateEvent needs id and title", ErrUnrecognizedResponse)
		}
		return assistant.UpdateEventPayload{EventID: id, Event: ToEventForm(data, now)}, nil
	case assistant.CreatePet:
		if !has(data, "name") {
			return nil, fmt.Errorf("%w: createPet needs name", ErrUnrecognizedResponse)
		}
		return assistant.CreatePetPayload{Pet: ToPetForm(data, now)}, nil
	case assistant.DeleteEvent:
		id := firstString(data, "id", "eventId")
		if id == "" {
			return nil, fmt.Errorf("%w: deleteEvent needs id", ErrUnrecognizedResponse)
		}
		return assistant.DeleteEventPayload{EventID: id}, nil
	case assistant.DeletePet:
		id := firstString(data, "id", "petId")
		if id == "" {
			return nil, fmt.Errorf("%w: deletePet needs id", ErrUnrecognizedResponse)
		}
		return assistant.DeletePetPayload{PetID: id}, nil
	case assistant.Query:
		return assistant.QueryPayload{Data: data}, nil
	case assistant.Advice:
		return assistant.AdvicePayload{Data: data}, nil
	case assistant.Metrics:
		return assistant.MetricsPayload{Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: request type %q", ErrUnrecognizedResponse, resp.RequestType)
	}
}

// ToEventForm maps AI event data to an event form. Missing strings become "",
// missing flags false and missing dates now.
func ToEventForm(data map[string]any, now time.Time) event.Form {
	start := timeOf(first(data, "startDate", "date", "dateTime"), now)
	end := timeOf(first(data, "endDate"), start)

	form := event.Form{
		Title:       stringOf(data["title"]),
		Description: stringOf(data["description"]),
		PetID:       firstID(first(data, "petId", "petIds")),
		Type:        eventType(first(data, "type", "eventType")),
		StartDate:   start,
		EndDate:     end,
		IsFullDay:   boolOf(first(data, "isFullDay", "allDay")),
		IsRecurring: boolOf(data["isRecurring"]),
		Pivot:       detailsOf(data),
	}

	if rec, ok := data["recurrence"].(map[string]any); ok {
		form.Recurrence = recurrenceOf(rec, now)
		form.IsRecurring = true
	}
	return form
}

// ToPetForm maps AI pet data to a pet form, with the same defaulting rules as
// ToEventForm.
func ToPetForm(data map[string]any, now time.Time) pet.Form {
	return pet.Form{
		Name:      stringOf(data["name"]),
		Species:   stringOf(first(data, "species", "type")),
		Breed:     stringOf(data["breed"]),
		Gender:    stringOf(data["gender"]),
		BirthDate: timeOf(first(data, "birthDate", "birthdate"), now),
		Weight:    floatOf(data["weight"]),
		Color:     stringOf(data["color"]),
		Notes:     stringOf(first(data, "notes", "description")),
	}
}

// ExtractPrimaryData projects an event onto the fields worth showing on a
// card. Which details are kept depends on the event type.
func ExtractPrimaryData(e event.Event) event.PrimaryData {
	out := event.PrimaryData{
		Pets:        append([]string{}, e.PetIDs...),
		DateTime:    e.StartDate,
		IsFullDay:   e.IsFullDay,
		IsRecurring: e.IsRecurring,
		Recurrence:  e.Recurrence,
	}

	switch e.Type {
	case event.Feeding:
		out.Item = e.Pivot.Item
		out.Quantity = e.Pivot.Quantity
	case event.Medical:
		out.Medication = e.Pivot.Medication
		out.Dosage = e.Pivot.Dosage
		out.Frequency = e.Pivot.Frequency
	case event.Appointment:
		out.Location = e.Pivot.Location
		out.Duration = e.Pivot.Duration
	case event.Training, event.Social:
		out.Activity = e.Pivot.Activity
		out.Duration = e.Pivot.Duration
	default:
		out.Details = e.Pivot.Details
		if out.Details == "" {
			out.Details = e.Description
		}
	}
	return out
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	data := map[string]any{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return nil, fmt.Errorf("data is not an object: %w", err)
	}
	return data, nil
}

func detailsOf(data map[string]any) event.Details {
	src, ok := data["pivot"].(map[string]any)
	if !ok {
		src, ok = data["details"].(map[string]any)
	}
	if !ok {
		src = data
	}

	d := event.Details{
		Item:       stringOf(src["item"]),
		Quantity:   stringOf(src["quantity"]),
		Medication: stringOf(src["medication"]),
		Dosage:     stringOf(src["dosage"]),
		Frequency:  stringOf(src["frequency"]),
		Location:   stringOf(src["location"]),
		Duration:   stringOf(src["duration"]),
		Activity:   stringOf(src["activity"]),
	}
	if text, ok := src["details"].(string); ok {
		d.Details = text
	} else if notes, ok := src["notes"].(string); ok {
		d.Details = notes
	}
	return d
}

func recurrenceOf(rec map[string]any, now time.Time) *event.Recurrence {
	out := &event.Recurrence{
		Frequency: event.Frequency(strings.ToLower(stringOf(first(rec, "frequency", "type")))),
		Interval:  int(floatOf(rec["interval"])),
		EndType:   event.EndCondition(strings.ToLower(stringOf(rec["endType"]))),
	}
	if out.Frequency == "" {
		out.Frequency = event.Daily
	}
	if out.Interval < 1 {
		out.Interval = 1
	}
	if days, ok := rec["days"].([]any); ok {
		for _, d := range days {
			if s := stringOf(d); s != "" {
				out.Days = append(out.Days, s)
			}
		}
	}
	switch out.EndType {
	case event.EndOn:
		end := timeOf(rec["endDate"], now)
		out.EndDate = &end
	case event.EndAfter:
		out.Occurrences = int(floatOf(rec["occurrences"]))
	default:
		out.EndType = event.EndNever
	}
	return out
}

func eventType(v any) event.Type {
	switch t := event.Type(strings.ToLower(strings.TrimSpace(stringOf(v)))); t {
	case event.Feeding, event.Medical, event.Appointment, event.Training, event.Social:
		return t
	default:
		return event.Other
	}
}

func has(data map[string]any, key string) bool {
	_, ok := data[key]
	return ok
}

func first(data map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := data[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(data map[string]any, keys ...string) string {
	return firstID(first(data, keys...))
}

// firstID stringifies an id given as a string, a number or a list of either;
// lists yield their first element.
func firstID(v any) string {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		return stringOf(list[0])
	}
	return stringOf(v)
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func boolOf(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t != 0
	default:
		return false
	}
}

func floatOf(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

func timeOf(v any, fallback time.Time) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed
			}
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	}
	return fallback
}
