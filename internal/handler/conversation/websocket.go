package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	assistantService "github.com/zhouzirui/pawtrack/backend/internal/service/assistant"
	conversationService "github.com/zhouzirui/pawtrack/backend/internal/service/conversation"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler 以 WebSocket 承载助手对话
type WebSocketHandler struct {
	assistant *assistantService.Service
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(assistant *assistantService.Service, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		assistant: assistant,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.OrNop(logger).Named("assistant-ws"),
	}
}

// RegisterRoutes 注册WebSocket路由；不带会话 ID 时首条消息会新建会话。
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/assistant", h.handleWebSocket)
	r.Get("/ws/assistant/{conversationID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type outgoingMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Data           any    `json:"data,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// wsConn 串行化写操作；gorilla/websocket 不允许并发写。
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *wsConn) send(msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (c *wsConn) sendError(conversationID, message string) {
	c.send(outgoingMessage{Type: "error", ConversationID: conversationID, Data: map[string]string{"message": message}})
}

// wsObserver forwards assistant progress to the socket.
type wsObserver struct {
	conn           *wsConn
	conversationID string
}

func (o *wsObserver) OnStart(conv conversation.Conversation, user, reply conversation.Message) {
	o.conversationID = conv.ID
	o.conn.send(outgoingMessage{Type: "start", ConversationID: conv.ID, Data: startEvent{Conversation: conv, UserMessage: user, Reply: reply}})
}

func (o *wsObserver) OnDelta(messageID, chunk string) {
	o.conn.send(outgoingMessage{Type: "delta", ConversationID: o.conversationID, Data: deltaEvent{MessageID: messageID, Chunk: chunk}})
}

func (o *wsObserver) OnDone(reply conversation.Message) {
	o.conn.send(outgoingMessage{Type: "message", ConversationID: o.conversationID, Data: reply})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID != "" {
		if _, err := h.assistant.Conversations().Get(r.Context(), conversationID); err != nil {
			http.Error(w, conversationService.ErrConversationNotFound.Error(), http.StatusNotFound)
			return
		}
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw, logger: h.logger}
	h.logger.Info("connection opened", zap.String("conversationId", conversationID))

	ctx, cancel := context.WithCancel(r.Context())

	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	var pings sync.WaitGroup
	pings.Add(1)
	go func() {
		defer pings.Done()
		h.pingLoop(ctx, raw)
	}()
	defer pings.Wait()
	defer cancel()

	conn.send(outgoingMessage{Type: "connected", ConversationID: conversationID})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				conn.sendError(conversationID, "invalid message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "message":
			conversationID = h.handleMessage(ctx, conn, conversationID, msg.Content)
		case "ping":
			conn.send(outgoingMessage{Type: "pong", ConversationID: conversationID})
		default:
			conn.sendError(conversationID, "unsupported message type: "+msg.Type)
		}
	}
}

// handleMessage runs one send and returns the conversation the socket is now
// bound to.
func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *wsConn, conversationID, content string) string {
	obs := &wsObserver{conn: conn, conversationID: conversationID}
	_, err := h.assistant.Send(ctx, conversationID, content, obs)
	if err != nil {
		conn.sendError(obs.conversationID, err.Error())
	}
	conn.send(outgoingMessage{Type: "end", ConversationID: obs.conversationID})
	return obs.conversationID
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
