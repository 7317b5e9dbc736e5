package events

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/repository"
	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
	"github.com/zhouzirui/pawtrack/backend/internal/service/transform"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

// Handler 事件相关的HTTP处理器
type Handler struct {
	events   *repository.Collection[event.Event]
	notifier notify.Notifier
	logger   *zap.Logger
}

// New 创建事件处理器
func New(events *repository.Collection[event.Event], notifier notify.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		events:   events,
		notifier: notifier,
		logger:   logging.OrNop(logger).Named("events-handler"),
	}
}

// RegisterRoutes 注册事件路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/summary", h.handleSummary)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

// ParsePeriod reads the optional start/end query parameters (RFC3339). ok is
// false when neither is present.
func ParsePeriod(r *http.Request) (start, end time.Time, ok bool, err error) {
	rawStart := r.URL.Query().Get("start")
	rawEnd := r.URL.Query().Get("end")
	if rawStart == "" && rawEnd == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, false, errors.New("start and end must be given together")
	}
	if start, err = time.Parse(time.RFC3339, rawStart); err != nil {
		return time.Time{}, time.Time{}, false, errors.New("start must be an RFC3339 timestamp")
	}
	if end, err = time.Parse(time.RFC3339, rawEnd); err != nil {
		return time.Time{}, time.Time{}, false, errors.New("end must be an RFC3339 timestamp")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false, errors.New("end is before start")
	}
	return start, end, true, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	start, end, ranged, err := ParsePeriod(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var list []event.Event
	if ranged {
		list, err = h.events.InPeriod(r.Context(), start, end)
	} else {
		list, err = h.events.List(r.Context())
	}
	if err != nil {
		h.fail(w, "load events", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "load event", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, e)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	e, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "load event", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, transform.ExtractPrimaryData(e))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeForm(w, r)
	if !ok {
		return
	}

	added, err := h.events.Add(r.Context(), e)
	if err != nil {
		h.fail(w, "create event", err)
		return
	}
	h.notifier.Success("Event \"" + added.Title + "\" created")
	utils.RespondJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeForm(w, r)
	if !ok {
		return
	}

	updated, err := h.events.Update(r.Context(), chi.URLParam(r, "id"), e)
	if err != nil {
		h.fail(w, "update event", err)
		return
	}
	h.notifier.Success("Event \"" + updated.Title + "\" updated")
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.events.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeForm 解析事件表单并在写库前完成校验
func decodeForm(w http.ResponseWriter, r *http.Request) (event.Event, bool) {
	var form event.Form
	if err := utils.DecodeJSON(r, &form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return event.Event{}, false
	}

	e := form.ToEvent()
	if err := e.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return event.Event{}, false
	}
	return e, true
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "event not found")
		return
	}
	h.logger.Error(action+" failed", zap.Error(err))
	h.notifier.Error("Failed to " + action)
	utils.RespondError(w, http.StatusInternalServerError, "failed to "+action)
}
