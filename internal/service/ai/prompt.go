package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/pawtrack/backend/internal/analysis/intent"
	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
)

// basePrompt 描述助手的职责与必须遵守的输出格式。
const basePrompt = `You are PawTrack, an assistant that helps pet owners keep track of their pets' care.
You understand English and French and answer in the language of the user.

Always reply with a single JSON object and nothing else, shaped as:
{
  "score": number between 0 and 1 (your confidence),
  "requestType": one of %s,
  "description": short sentence for the user describing what you understood or your answer,
  "data": object with the fields of the request,
  "healthDisclaimer": optional {"message": string, "severity": "low"|"medium"|"high"}
}

Field rules for "data":
- createEvent / updateEvent: title, petId (id of one of the pets below), type (feeding, medical, appointment, training, social, other),
  startDate and endDate (RFC3339), isFullDay, optional recurrence {frequency, interval, days, endType, endDate, occurrences}
  and pivot {item, quantity, medication, dosage, frequency, location, duration, activity, details}. updateEvent also carries id.
- createPet: name, species, breed, gender, birthDate, weight, color, notes.
- deleteEvent: id. deletePet: id.
- query, advice, metrics: free-form object with your answer.
Add healthDisclaimer whenever the request concerns symptoms, medication or the pet's health.`

// PromptBuilder 组装系统提示词：基础规则 + 当前时间 + 宠物列表 + 意图提示。
type PromptBuilder struct {
	now func() time.Time
}

// NewPromptBuilder creates a builder reading the current time from now.
func NewPromptBuilder(now func() time.Time) *PromptBuilder {
	if now == nil {
		now = time.Now
	}
	return &PromptBuilder{now: now}
}

// Build returns the system prompt for a request.
func (b *PromptBuilder) Build(filters map[string]any, hint intent.Decision) string {
	types := make([]string, 0, len(assistant.RequestTypes))
	for _, t := range assistant.RequestTypes {
		types = append(types, string(t))
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf(basePrompt, strings.Join(types, ", ")))
	builder.WriteString("\n\nCurrent date and time: ")
	builder.WriteString(b.now().Format(time.RFC3339))

	if pets := describePets(filters); pets != "" {
		builder.WriteString("\n\nThe owner's pets:\n")
		builder.WriteString(pets)
	}

	if extra := describeFilters(filters); extra != "" {
		builder.WriteString("\n\nAdditional context: ")
		builder.WriteString(extra)
	}

	if hint.Confident() {
		builder.WriteString(fmt.Sprintf("\n\nKeyword analysis suggests requestType=%s", hint.RequestType))
		if hint.EventType != "" {
			builder.WriteString(fmt.Sprintf(" and event type=%s", hint.EventType))
		}
		builder.WriteString("; follow it unless the message clearly says otherwise.")
	}
	return builder.String()
}

// describePets renders filters["pets"], a list of {id, name, species, ...}.
func describePets(filters map[string]any) string {
	list, ok := filters["pets"].([]any)
	if !ok || len(list) == 0 {
		return ""
	}

	lines := make([]string, 0, len(list))
	for _, item := range list {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("- id=%v name=%v", p["id"], p["name"])
		if species, ok := p["species"].(string); ok && species != "" {
			line += " species=" + species
		}
		if breed, ok := p["breed"].(string); ok && breed != "" {
			line += " breed=" + breed
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func describeFilters(filters map[string]any) string {
	rest := make(map[string]any, len(filters))
	for k, v := range filters {
		if k == "pets" {
			continue
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		return ""
	}
	raw, err := json.Marshal(rest)
	if err != nil {
		return ""
	}
	return string(raw)
}
