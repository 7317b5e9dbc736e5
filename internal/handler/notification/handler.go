package notification

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

// Handler 通知（toast）的HTTP处理器
type Handler struct {
	hub *notify.Hub
}

// New 创建通知处理器
func New(hub *notify.Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes 注册通知路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications", h.handleList)
	r.Delete("/notifications/{id}", h.handleDismiss)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	utils.RespondJSON(w, http.StatusOK, h.hub.Recent(limit))
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !h.hub.Dismiss(chi.URLParam(r, "id")) {
		utils.RespondError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
