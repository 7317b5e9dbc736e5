package intent

import (
	"strings"

	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
)

// Decision 给出对用户输入的意图推断：请求类型、事件类型以及得分。
type Decision struct {
	RequestType assistant.RequestType
	EventType   event.Type
	Score       int
}

// Confident reports whether any keyword matched.
func (d Decision) Confident() bool {
	return d.Score > 0
}

type bucket[L any] struct {
	label    L
	keywords []string
}

// 英文与法文关键词，顺序决定同分时的优先级。
var eventBuckets = []bucket[event.Type]{
	{event.Feeding, []string{
		"feed", "food", "meal", "eat", "kibble", "croquette", "barf", "treat", "breakfast", "dinner",
		"manger", "nourrir", "repas", "gamelle", "pâtée", "patee", "friandise",
	}},
	{event.Medical, []string{
		"vaccin", "medication", "medicine", "pill", "tablet", "deworm", "flea", "tick", "dose", "dosage",
		"antibiotic", "médicament", "medicament", "comprimé", "comprime", "vermifuge", "puce", "traitement",
	}},
	{event.Appointment, []string{
		"vet", "appointment", "groom", "checkup", "check-up", "clinic", "visit",
		"vétérinaire", "veterinaire", "véto", "rendez-vous", "rdv", "toilettage", "visite",
	}},
	{event.Training, []string{
		"train", "lesson", "obedience", "agility", "leash", "recall", "trick",
		"dressage", "éducation", "education", "entraînement", "entrainement", "cours",
	}},
	{event.Social, []string{
		"walk", "play", "park", "playdate", "friends", "daycare",
		"promenade", "balade", "jouer", "parc", "copains",
	}},
}

var requestBuckets = []bucket[assistant.RequestType]{
	{assistant.DeletePet, []string{"remove my pet", "delete pet", "supprimer mon chien", "supprimer mon chat", "supprime le profil"}},
	{assistant.DeleteEvent, []string{"cancel", "delete", "remove", "annule", "supprime", "supprimer", "efface"}},
	{assistant.UpdateEvent, []string{"reschedule", "move", "change", "update", "postpone", "déplace", "deplace", "modifie", "décale", "decale", "reporte"}},
	{assistant.CreatePet, []string{
		"new pet", "adopted", "adopt", "add my dog", "add my cat", "new puppy", "new kitten",
		"adopté", "adopte", "nouveau chien", "nouveau chat", "nouveau chiot", "nouveau chaton", "ajoute mon",
	}},
	{assistant.Metrics, []string{"how much", "how many", "weight", "statistics", "stats", "combien", "poids", "statistiques"}},
	{assistant.Query, []string{"when", "what time", "list", "show", "next", "quand", "à quelle heure", "liste", "montre", "prochain"}},
	{assistant.Advice, []string{"should i", "advice", "recommend", "is it ok", "safe", "why", "conseil", "dois-je", "est-ce que", "pourquoi", "recommande"}},
	{assistant.CreateEvent, []string{
		"remind", "schedule", "tomorrow", "every", "daily", "weekly", "tonight", "at ", "must", "needs to",
		"rappel", "demain", "chaque", "tous les", "ce soir", "doit", "planifie", "programme",
	}},
}

// Analyze 根据用户输入推断请求类型与事件类型。
func Analyze(prompt string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(prompt))
	if normalized == "" {
		return Decision{RequestType: assistant.Advice, EventType: event.Other}
	}

	eventType, eventScore := best(normalized, eventBuckets, event.Other)
	requestType, requestScore := best(normalized, requestBuckets, "")

	// An event-type keyword with no explicit action most often means "schedule it".
	if requestType == "" {
		if eventScore > 0 {
			requestType = assistant.CreateEvent
		} else {
			requestType = assistant.Advice
		}
	}

	return Decision{
		RequestType: requestType,
		EventType:   eventType,
		Score:       eventScore + requestScore,
	}
}

func best[L comparable](text string, buckets []bucket[L], fallback L) (L, int) {
	bestLabel := fallback
	bestScore := 0
	for _, b := range buckets {
		score := 0
		for _, word := range b.keywords {
			if word == "" {
				continue
			}
			if strings.Contains(text, word) {
				score += 3
			}
		}
		if score > bestScore {
			bestScore = score
			bestLabel = b.label
		}
	}
	return bestLabel, bestScore
}
