package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/analysis/intent"
	"github.com/zhouzirui/pawtrack/backend/internal/config"
	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
)

const historyLimit = 10

// ErrEmptyRequest is returned when a request carries neither a prompt nor a
// user message.
var ErrEmptyRequest = errors.New("request has no prompt or user message")

// Service turns natural-language requests into structured assistant responses
// through an eino chain (system prompt + history + query -> chat model).
type Service struct {
	cfg     config.AIConfig
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PromptBuilder
	logger  *zap.Logger
}

// NewService compiles the chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile assistant chain: %w", err)
	}

	return &Service{
		cfg:     cfg,
		chain:   runnable,
		prompts: NewPromptBuilder(time.Now),
		logger:  logging.OrNop(logger).Named("ai"),
	}, nil
}

// StreamingEnabled 指示是否开启流式输出；关闭时 Stream 退化为一次性返回。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate runs the chain once and parses the model output.
func (s *Service) Generate(ctx context.Context, req assistant.Request) (assistant.Response, error) {
	input, hint, err := s.buildChainInput(req)
	if err != nil {
		return assistant.Response{}, err
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return assistant.Response{}, fmt.Errorf("failed to run assistant chain: %w", err)
	}

	resp := ParseResponse(msg.Content, hint)
	s.logger.Info("generated response",
		zap.String("requestType", string(resp.RequestType)),
		zap.Int("length", len(msg.Content)),
	)
	return resp, nil
}

// Stream runs the chain in streaming mode. onChunk receives every non-empty
// content delta; the parsed response is returned once the model is done.
func (s *Service) Stream(ctx context.Context, req assistant.Request, onChunk func(string) error) (assistant.Response, error) {
	if !s.StreamingEnabled() {
		resp, err := s.Generate(ctx, req)
		if err != nil {
			return assistant.Response{}, err
		}
		if err := onChunk(resp.Description); err != nil {
			return assistant.Response{}, err
		}
		return resp, nil
	}

	input, hint, err := s.buildChainInput(req)
	if err != nil {
		return assistant.Response{}, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return assistant.Response{}, fmt.Errorf("failed to stream assistant chain output: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 16)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return assistant.Response{}, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := onChunk(chunk.Content); err != nil {
				return assistant.Response{}, err
			}
		}
	}

	if len(chunks) == 0 {
		return ParseResponse("", hint), nil
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return assistant.Response{}, err
	}

	resp := ParseResponse(full.Content, hint)
	s.logger.Info("streamed response",
		zap.String("requestType", string(resp.RequestType)),
		zap.Int("chunks", len(chunks)),
	)
	return resp, nil
}

func (s *Service) buildChainInput(req assistant.Request) (map[string]any, intent.Decision, error) {
	query := strings.TrimSpace(req.LastUserContent())
	if query == "" {
		return nil, intent.Decision{}, ErrEmptyRequest
	}

	hint := intent.Analyze(query)
	return map[string]any{
		"system":  s.prompts.Build(req.Filters, hint),
		"history": buildHistoryMessages(req),
		"query":   query,
	}, hint, nil
}

// buildHistoryMessages keeps the last turns before the final user message.
func buildHistoryMessages(req assistant.Request) []*schema.Message {
	if req.Prompt != "" || len(req.Messages) == 0 {
		return nil
	}

	last := len(req.Messages) - 1
	for last >= 0 && req.Messages[last].Role != "user" {
		last--
	}
	if last <= 0 {
		return nil
	}

	earlier := req.Messages[:last]
	if len(earlier) > historyLimit {
		earlier = earlier[len(earlier)-historyLimit:]
	}

	history := make([]*schema.Message, 0, len(earlier))
	for _, msg := range earlier {
		switch msg.Role {
		case "user":
			history = append(history, schema.UserMessage(msg.Content))
		case "assistant":
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

// ParseResponse extracts the outermost JSON object from model output. Output
// without a usable object becomes advice whose description is the raw text.
// A missing requestType falls back to the keyword hint.
func ParseResponse(raw string, hint intent.Decision) assistant.Response {
	text := strings.TrimSpace(raw)

	var parsed struct {
		Score            *float64                    `json:"score"`
		RequestType      assistant.RequestType       `json:"requestType"`
		Description      string                      `json:"description"`
		Data             json.RawMessage             `json:"data"`
		HealthDisclaimer *assistant.HealthDisclaimer `json:"healthDisclaimer"`
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start || json.Unmarshal([]byte(text[start:end+1]), &parsed) != nil {
		return assistant.Response{
			RequestType: assistant.Advice,
			Description: text,
		}
	}

	resp := assistant.Response{
		Score:            1,
		RequestType:      parsed.RequestType,
		Description:      parsed.Description,
		Data:             parsed.Data,
		HealthDisclaimer: parsed.HealthDisclaimer,
	}
	if parsed.Score != nil {
		resp.Score = *parsed.Score
	}
	if resp.RequestType == "" {
		resp.RequestType = hint.RequestType
		if resp.RequestType == "" {
			resp.RequestType = assistant.Advice
		}
	}
	return resp
}
