package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
	aiService "github.com/zhouzirui/pawtrack/backend/internal/service/ai"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

// Generator is the part of the AI service the handler needs.
type Generator interface {
	Generate(ctx context.Context, req assistant.Request) (assistant.Response, error)
	Stream(ctx context.Context, req assistant.Request, onChunk func(string) error) (assistant.Response, error)
}

// Handler serves the AI backend endpoints consumed by the assistant client.
type Handler struct {
	svc    Generator
	logger *zap.Logger
}

// New creates the AI handler.
func New(svc Generator, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logging.OrNop(logger).Named("ai-handler")}
}

// RegisterRoutes mounts POST /ai and POST /ai/stream.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ai", h.handleGenerate)
	r.Post("/ai/stream", h.handleStream)
}

type chunkPayload struct {
	Chunk string `json:"chunk"`
}

type donePayload struct {
	Done     bool               `json:"done"`
	Response assistant.Response `json:"response"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	resp, err := h.svc.Stream(r.Context(), req, func(chunk string) error {
		return utils.SendSSEChunk(w, flusher, chunkPayload{Chunk: chunk})
	})
	if err != nil {
		h.logger.Warn("stream failed", zap.Error(err))
		_ = utils.SendSSEChunk(w, flusher, errorPayload{Error: err.Error()})
		_ = utils.SendSSEDone(w, flusher)
		return
	}

	if err := utils.SendSSEChunk(w, flusher, donePayload{Done: true, Response: resp}); err != nil {
		h.logger.Warn("failed to send final response", zap.Error(err))
		return
	}
	_ = utils.SendSSEDone(w, flusher)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (assistant.Request, bool) {
	var req assistant.Request
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if req.LastUserContent() == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt or a user message is required")
		return req, false
	}
	return req, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, aiService.ErrEmptyRequest) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("generation failed", zap.Error(err))
	utils.RespondError(w, http.StatusBadGateway, "ai generation failed")
}
