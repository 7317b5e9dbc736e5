// Package assistant runs a chat turn with the AI assistant: it records the
// user message, streams the reply into an assistant message and attaches the
// structured event or pet the reply describes.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/aiclient"
	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
	conversationService "github.com/zhouzirui/pawtrack/backend/internal/service/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/service/transform"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("a message is already being answered in this conversation")
)

// Streamer is the AI client.
type Streamer interface {
	Stream(ctx context.Context, req assistant.Request, h aiclient.Handler) (assistant.Response, error)
}

// PetLister provides the pets sent along as request filters.
type PetLister interface {
	List() []pet.Pet
}

// Observer follows a send. Calls happen on the sending goroutine, in order:
// OnStart, any number of OnDelta, OnDone.
type Observer interface {
	OnStart(conv conversation.Conversation, user, reply conversation.Message)
	OnDelta(messageID, chunk string)
	OnDone(reply conversation.Message)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) OnStart(conversation.Conversation, conversation.Message, conversation.Message) {}
func (NopObserver) OnDelta(string, string)                                                        {}
func (NopObserver) OnDone(conversation.Message)                                                   {}

// Service coordinates the conversation store and the AI client.
type Service struct {
	store  *conversationService.Store
	ai     Streamer
	pets   PetLister
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService creates the assistant service. pets may be nil.
func NewService(store *conversationService.Store, ai Streamer, pets PetLister, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		ai:       ai,
		pets:     pets,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("assistant"),
		inflight: make(map[string]struct{}),
	}
}

// Conversations exposes the underlying store.
func (s *Service) Conversations() *conversationService.Store {
	return s.store
}

// Busy reports whether a send is in flight for the conversation.
func (s *Service) Busy(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[conversationID]
	return ok
}

// Send posts text to a conversation and streams the assistant reply. An empty
// conversationID starts a new conversation. The finalized reply is returned;
// an AI failure is recorded on the reply's metadata and also returned.
func (s *Service) Send(ctx context.Context, conversationID, text string, obs Observer) (conversation.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Message{}, ErrEmptyMessage
	}
	if obs == nil {
		obs = NopObserver{}
	}

	var conv conversation.Conversation
	var err error
	if conversationID == "" {
		conv, err = s.store.Create(ctx, "")
	} else {
		conv, err = s.store.Get(ctx, conversationID)
	}
	if err != nil {
		return conversation.Message{}, err
	}

	if !s.acquire(conv.ID) {
		return conversation.Message{}, ErrSendInProgress
	}
	defer s.release(conv.ID)

	user, err := s.store.AddMessage(ctx, conv.ID, conversation.Message{Role: conversation.RoleUser, Content: text})
	if err != nil {
		return conversation.Message{}, err
	}
	reply, err := s.store.AddMessage(ctx, conv.ID, conversation.Message{
		Role:     conversation.RoleAssistant,
		Metadata: &conversation.Metadata{IsStreaming: true},
	})
	if err != nil {
		return conversation.Message{}, err
	}

	conv, err = s.store.Get(ctx, conv.ID)
	if err != nil {
		return conversation.Message{}, err
	}
	obs.OnStart(conv, user, reply)

	req := s.buildRequest(conv, reply.ID)

	var content strings.Builder
	resp, streamErr := s.ai.Stream(ctx, req, aiclient.HandlerFuncs{
		Chunk: func(chunk string) {
			content.WriteString(chunk)
			current := content.String()
			if _, err := s.store.UpdateMessage(ctx, conv.ID, reply.ID, conversation.MessagePatch{Content: &current}); err != nil {
				s.logger.Warn("failed to persist streamed content", zap.String("conversationId", conv.ID), zap.Error(err))
			}
			obs.OnDelta(reply.ID, chunk)
		},
	})

	final, err := s.finalize(ctx, conv.ID, reply.ID, content.String(), resp, streamErr)
	if err != nil {
		return conversation.Message{}, err
	}
	obs.OnDone(final)

	if streamErr != nil {
		return final, fmt.Errorf("ai stream: %w", streamErr)
	}
	return final, nil
}

func (s *Service) finalize(ctx context.Context, conversationID, messageID, streamed string, resp assistant.Response, streamErr error) (conversation.Message, error) {
	// 写回时不使用已取消的 ctx，保证最终状态落盘。
	ctx = context.WithoutCancel(ctx)

	if streamErr != nil {
		s.logger.Error("assistant reply failed", zap.String("conversationId", conversationID), zap.Error(streamErr))
		return s.store.UpdateMessage(ctx, conversationID, messageID, conversation.MessagePatch{
			Content:  &streamed,
			Metadata: &conversation.Metadata{Error: streamErr.Error()},
		})
	}

	md := conversation.Metadata{AIResponse: &resp}
	payload, err := transform.Decode(resp, s.now())
	if err != nil {
		s.logger.Warn("unrecognized ai response", zap.String("requestType", string(resp.RequestType)), zap.Error(err))
	}
	switch p := payload.(type) {
	case assistant.CreateEventPayload:
		md.Event = &p.Event
	case assistant.UpdateEventPayload:
		md.Event = &p.Event
	case assistant.CreatePetPayload:
		md.Pet = &p.Pet
	}

	content := streamed
	if resp.Description != "" {
		content = resp.Description
	}
	return s.store.UpdateMessage(ctx, conversationID, messageID, conversation.MessagePatch{
		Content:  &content,
		Metadata: &md,
	})
}

func (s *Service) buildRequest(conv conversation.Conversation, replyID string) assistant.Request {
	messages := make([]assistant.ChatMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.ID == replyID || strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, assistant.ChatMessage{Role: string(m.Role), Content: m.Content})
	}

	req := assistant.Request{Messages: messages}
	if s.pets == nil {
		return req
	}

	list := s.pets.List()
	if len(list) == 0 {
		return req
	}
	pets := make([]map[string]any, 0, len(list))
	for _, p := range list {
		pets = append(pets, map[string]any{
			"id":      p.ID,
			"name":    p.Name,
			"species": p.Species,
			"breed":   p.Breed,
		})
	}
	req.Filters = map[string]any{"pets": pets}
	return req
}

func (s *Service) acquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[conversationID]; busy {
		return false
	}
	s.inflight[conversationID] = struct{}{}
	return true
}

func (s *Service) release(conversationID string) {
	s.mu.Lock()
	delete(s.inflight, conversationID)
	s.mu.Unlock()
}
