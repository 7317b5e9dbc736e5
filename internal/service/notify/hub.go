// Package notify keeps the short-lived toast notifications shown to the user.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
)

// DefaultCapacity bounds how many notifications are kept.
const DefaultCapacity = 50

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one toast.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier is what services use to raise toasts.
type Notifier interface {
	Success(message string) Notification
	Error(message string) Notification
}

// Hub is a bounded, concurrency-safe list of notifications, oldest first.
type Hub struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	now      func() time.Time
	logger   *zap.Logger
}

// NewHub creates a hub keeping at most capacity notifications (DefaultCapacity
// when capacity <= 0).
func NewHub(capacity int, logger *zap.Logger) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		capacity: capacity,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("notify"),
	}
}

// Push records a notification, dropping the oldest one when full.
func (h *Hub) Push(level Level, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: h.now(),
	}

	h.mu.Lock()
	h.items = append(h.items, n)
	if over := len(h.items) - h.capacity; over > 0 {
		h.items = append([]Notification(nil), h.items[over:]...)
	}
	h.mu.Unlock()

	h.logger.Debug("notification", zap.String("level", string(level)), zap.String("message", message))
	return n
}

func (h *Hub) Info(message string) Notification    { return h.Push(LevelInfo, message) }
func (h *Hub) Success(message string) Notification { return h.Push(LevelSuccess, message) }
func (h *Hub) Warning(message string) Notification { return h.Push(LevelWarning, message) }
func (h *Hub) Error(message string) Notification   { return h.Push(LevelError, message) }

// Recent returns up to limit notifications, newest first. limit <= 0 means all.
func (h *Hub) Recent(limit int) []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > len(h.items) {
		limit = len(h.items)
	}
	out := make([]Notification, 0, limit)
	for i := len(h.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.items[i])
	}
	return out
}

// Dismiss removes a notification and reports whether it existed.
func (h *Hub) Dismiss(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, n := range h.items {
		if n.ID == id {
			h.items = append(h.items[:i], h.items[i+1:]...)
			return true
		}
	}
	return false
}
