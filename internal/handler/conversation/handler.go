package conversation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	assistantService "github.com/zhouzirui/pawtrack/backend/internal/service/assistant"
	conversationService "github.com/zhouzirui/pawtrack/backend/internal/service/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

// Handler 会话与助手对话的 HTTP 处理器
type Handler struct {
	store     *conversationService.Store
	assistant *assistantService.Service
	notifier  notify.Notifier
	logger    *zap.Logger
}

// New 创建会话处理器
func New(assistant *assistantService.Service, notifier notify.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		store:     assistant.Conversations(),
		assistant: assistant,
		notifier:  notifier,
		logger:    logging.OrNop(logger).Named("conversation-handler"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Delete("/", h.handleClear)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDelete)
			r.Patch("/", h.handlePatch)
			r.Post("/messages", h.handleAddMessage)
			r.Patch("/messages/{messageID}", h.handleUpdateMessage)
			r.Post("/send", h.handleSend)
		})
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		utils.RespondJSON(w, http.StatusOK, h.store.Search(r.Context(), q))
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.store.List(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.store.Create(r.Context(), payload.Title)
	if err != nil {
		h.respondStoreError(w, "create conversation", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.respondStoreError(w, "clear conversations", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondStoreError(w, "get conversation", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondStoreError(w, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    *string   `json:"title"`
		IsPinned *bool     `json:"isPinned"`
		Tags     *[]string `json:"tags"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	conv, err := h.store.Get(ctx, id)
	if err == nil && payload.Title != nil {
		conv, err = h.store.Rename(ctx, id, *payload.Title)
	}
	if err == nil && payload.IsPinned != nil {
		conv, err = h.store.SetPinned(ctx, id, *payload.IsPinned)
	}
	if err == nil && payload.Tags != nil {
		conv, err = h.store.SetTags(ctx, id, *payload.Tags)
	}
	if err != nil {
		h.respondStoreError(w, "update conversation", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role     conversation.Role      `json:"role"`
		Content  string                 `json:"content"`
		Metadata *conversation.Metadata `json:"metadata"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.store.AddMessage(r.Context(), chi.URLParam(r, "id"), conversation.Message{
		Role:     payload.Role,
		Content:  payload.Content,
		Metadata: payload.Metadata,
	})
	if err != nil {
		h.respondStoreError(w, "add message", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var patch conversation.MessagePatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.store.UpdateMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "messageID"), patch)
	if err != nil {
		h.respondStoreError(w, "update message", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, action string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(action+" failed", zap.Error(err))
		h.notifier.Error("Failed to " + action)
	}
	utils.RespondError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, conversationService.ErrConversationNotFound),
		errors.Is(err, conversationService.ErrMessageNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conversationService.ErrInvalidRole),
		errors.Is(err, assistantService.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, assistantService.ErrSendInProgress):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
