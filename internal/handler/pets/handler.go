package pets

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
	petsService "github.com/zhouzirui/pawtrack/backend/internal/service/pets"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

// Handler 宠物相关的HTTP处理器
type Handler struct {
	svc *petsService.Service
}

// New 创建宠物处理器
func New(svc *petsService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册宠物路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pets", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/undo", h.handleUndo)
	})
}

type petView struct {
	pet.Pet
	PendingDelete bool `json:"pendingDelete,omitempty"`
}

func (h *Handler) view(p pet.Pet) petView {
	return petView{Pet: p, PendingDelete: h.svc.Pending(p.ID)}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.svc.Refresh(r.Context()); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "failed to load pets")
			return
		}
	}

	list := h.svc.List()
	out := make([]petView, 0, len(list))
	for _, p := range list {
		out = append(out, h.view(p))
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(p))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var form pet.Form
	if err := utils.DecodeJSON(r, &form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	added, err := h.svc.Add(r.Context(), form.ToPet())
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var form pet.Form
	if err := utils.DecodeJSON(r, &form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), form.ToPet())
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

// handleDelete 安排删除，撤销窗口内可通过 /undo 取消
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.ScheduleDelete(id); err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{
		"id":                id,
		"undoWindowSeconds": h.svc.UndoWindow().Seconds(),
	})
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Undo(chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pet.ErrNameRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, petsService.ErrPetNotFound), errors.Is(err, petsService.ErrNothingToUndo):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, petsService.ErrDeletePending):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, petsService.ErrServiceClosed):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "pet operation failed")
	}
}
