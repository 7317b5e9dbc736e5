// Package aiclient talks to the AI backend over HTTP: a request/response call
// on /ai and an SSE stream on /ai/stream.
package aiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/config"
	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
)

var (
	// ErrIncompleteStream is returned when the stream ends before a final
	// response or any text arrived.
	ErrIncompleteStream = errors.New("ai stream ended without a response")

	errStreamUnavailable = errors.New("ai stream endpoint unavailable")
)

// Handler receives stream callbacks. OnComplete and OnError are mutually
// exclusive and called at most once.
type Handler interface {
	OnChunk(text string)
	OnComplete(resp assistant.Response)
	OnError(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Chunk    func(text string)
	Complete func(resp assistant.Response)
	Error    func(err error)
}

func (h HandlerFuncs) OnChunk(text string) {
	if h.Chunk != nil {
		h.Chunk(text)
	}
}

func (h HandlerFuncs) OnComplete(resp assistant.Response) {
	if h.Complete != nil {
		h.Complete(resp)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// Client calls the AI backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streamHTTP *http.Client
	wordDelay  time.Duration
	logger     *zap.Logger
}

// New builds a client from the assistant configuration.
func New(cfg config.AssistantConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// 流式请求的时长由 ctx 控制，不设置整体超时。
		streamHTTP: &http.Client{},
		wordDelay:  cfg.WordDelay,
		logger:     logging.OrNop(logger).Named("aiclient"),
	}
}

// Send performs POST {baseURL}/ai.
func (c *Client) Send(ctx context.Context, req assistant.Request) (assistant.Response, error) {
	res, err := c.post(ctx, c.httpClient, "/ai", req, "application/json")
	if err != nil {
		return assistant.Response{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return assistant.Response{}, statusError(res)
	}

	var out assistant.Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return assistant.Response{}, fmt.Errorf("decode ai response: %w", err)
	}
	return out, nil
}

// Stream performs POST {baseURL}/ai/stream and reports progress to h. When
// the endpoint is unreachable or answers 404 it falls back to Send and replays
// the description word by word. The returned values mirror the callbacks.
func (c *Client) Stream(ctx context.Context, req assistant.Request, h Handler) (assistant.Response, error) {
	resp, err := c.stream(ctx, req, h)
	if errors.Is(err, errStreamUnavailable) {
		c.logger.Warn("stream endpoint unavailable, falling back", zap.Error(err))
		resp, err = c.simulate(ctx, req, h)
	}
	if err != nil {
		h.OnError(err)
		return assistant.Response{}, err
	}
	h.OnComplete(resp)
	return resp, nil
}

func (c *Client) stream(ctx context.Context, req assistant.Request, h Handler) (assistant.Response, error) {
	res, err := c.post(ctx, c.streamHTTP, "/ai/stream", req, "text/event-stream")
	if err != nil {
		if ctx.Err() != nil {
			return assistant.Response{}, ctx.Err()
		}
		return assistant.Response{}, fmt.Errorf("%w: %v", errStreamUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return assistant.Response{}, fmt.Errorf("%w: %v", errStreamUnavailable, statusError(res))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return assistant.Response{}, statusError(res)
	}

	var text strings.Builder
	var final *assistant.Response

	br := bufio.NewReader(res.Body)
	for {
		line, readErr := br.ReadString('\n')
		done, err := c.handleLine(strings.TrimRight(line, "\r\n"), h, &text, &final)
		if err != nil {
			return assistant.Response{}, err
		}
		if done {
			break
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return assistant.Response{}, fmt.Errorf("read ai stream: %w", readErr)
		}
	}

	if final != nil {
		return *final, nil
	}
	if text.Len() == 0 {
		return assistant.Response{}, ErrIncompleteStream
	}
	return assistant.Response{RequestType: assistant.Advice, Description: text.String()}, nil
}

type streamPayload struct {
	Chunk    *string             `json:"chunk"`
	Done     bool                `json:"done"`
	Response *assistant.Response `json:"response"`
	Error    string              `json:"error"`
}

// handleLine processes one SSE line; it reports true once the stream is over.
func (c *Client) handleLine(line string, h Handler, text *strings.Builder, final **assistant.Response) (bool, error) {
	if !strings.HasPrefix(line, "data:") {
		return false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return false, nil
	}
	if data == "[DONE]" {
		return true, nil
	}

	var payload streamPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		c.logger.Debug("skipping malformed stream line", zap.String("line", data))
		return false, nil
	}

	switch {
	case payload.Error != "":
		return true, fmt.Errorf("ai stream: %s", payload.Error)
	case payload.Done && payload.Response != nil:
		*final = payload.Response
	case payload.Chunk != nil && *payload.Chunk != "":
		text.WriteString(*payload.Chunk)
		h.OnChunk(*payload.Chunk)
	}
	return false, nil
}

// simulate fetches the full response and replays its description as chunks.
func (c *Client) simulate(ctx context.Context, req assistant.Request, h Handler) (assistant.Response, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return assistant.Response{}, err
	}

	words := strings.Split(resp.Description, " ")
	for i, word := range words {
		if i > 0 && c.wordDelay > 0 {
			timer := time.NewTimer(c.wordDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return assistant.Response{}, ctx.Err()
			case <-timer.C:
			}
		}
		if i < len(words)-1 {
			word += " "
		}
		if word != "" {
			h.OnChunk(word)
		}
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, body any, accept string) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build ai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	res, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ai request %s failed: %w", path, err)
	}
	return res, nil
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("ai backend status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
}
