package conversation

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	"github.com/zhouzirui/pawtrack/backend/pkg/utils"
)

type sendRequest struct {
	Content string `json:"content"`
}

type deltaEvent struct {
	MessageID string `json:"messageId"`
	Chunk     string `json:"chunk"`
}

type startEvent struct {
	Conversation conversation.Conversation `json:"conversation"`
	UserMessage  conversation.Message      `json:"userMessage"`
	Reply        conversation.Message      `json:"reply"`
}

// sseObserver 将助手回复以 SSE 事件写出；OnStart 之前不写任何内容，
// 以便前置错误仍能以普通 JSON 响应返回。
type sseObserver struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
}

func (o *sseObserver) OnStart(conv conversation.Conversation, user, reply conversation.Message) {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()

	utils.SetupSSEHeaders(o.w)
	o.w.WriteHeader(http.StatusOK)
	o.send("start", startEvent{Conversation: conv, UserMessage: user, Reply: reply})
}

func (o *sseObserver) OnDelta(messageID, chunk string) {
	o.send("delta", deltaEvent{MessageID: messageID, Chunk: chunk})
}

func (o *sseObserver) OnDone(reply conversation.Message) {
	o.send("message", reply)
}

func (o *sseObserver) isStarted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

func (o *sseObserver) send(event string, payload any) {
	if err := utils.SendSSEEvent(o.w, o.flusher, event, payload); err != nil {
		o.logger.Debug("sse write failed", zap.String("event", event), zap.Error(err))
	}
}

// handleSend 发送一条用户消息并以 SSE 流式返回助手回复
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req sendRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conversationID := chi.URLParam(r, "id")
	obs := &sseObserver{w: w, flusher: flusher, logger: h.logger}

	_, err := h.assistant.Send(r.Context(), conversationID, req.Content, obs)
	if !obs.isStarted() {
		if err != nil {
			h.respondStoreError(w, "send message", err)
		}
		return
	}

	if err != nil {
		h.logger.Warn("assistant reply failed", zap.String("conversationId", conversationID), zap.Error(err))
		h.notifier.Error("The assistant could not answer")
		obs.send("error", map[string]string{"error": err.Error()})
	}
	obs.send("end", map[string]bool{"finished": true})
}
