package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/storage/localstore"
)

// StorageKey is the local storage key holding every conversation.
const StorageKey = "pet-assistant-conversations"

const (
	// DefaultMaxConversations bounds the number of stored conversations.
	DefaultMaxConversations = 50
	// evictionHeadroom is how far below the maximum an eviction pass trims.
	evictionHeadroom = 10
	titleMaxRunes    = 50
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrSaveFailed           = errors.New("failed to save conversations")
)

// Option configures a Store.
type Option func(*Store)

// WithMaxConversations overrides DefaultMaxConversations. Values not above the
// eviction headroom are ignored.
func WithMaxConversations(n int) Option {
	return func(s *Store) {
		if n > evictionHeadroom {
			s.max = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for degraded reads and no-op deletes.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logging.OrNop(logger)
	}
}

// Store persists conversations as a single JSON document in local storage.
// Every operation reads and rewrites the whole document.
type Store struct {
	mu      sync.Mutex
	storage localstore.Store
	max     int
	now     func() time.Time
	logger  *zap.Logger
}

// NewStore returns a Store writing to storage.
func NewStore(storage localstore.Store, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		max:     DefaultMaxConversations,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Max returns the maximum number of conversations kept.
func (s *Store) Max() int {
	return s.max
}

// List returns every stored conversation, pinned first then most recently
// updated first. Storage failures yield an empty list.
func (s *Store) List(_ context.Context) []conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sorted(s.load())
}

// Get returns the conversation with the given id.
func (s *Store) Get(_ context.Context, id string) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.load()[id]
	if !ok {
		return conversation.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// Create stores a new empty conversation. An empty title falls back to
// conversation.DefaultTitle.
func (s *Store) Create(_ context.Context, title string) (conversation.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = conversation.DefaultTitle
	}

	now := s.now()
	conv := conversation.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  make([]conversation.Message, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load()
	all[conv.ID] = conv
	if err := s.persist(all); err != nil {
		return conversation.Conversation{}, err
	}
	return conv.Clone(), nil
}

// Save inserts or replaces conv by ID. A conversation without an ID gets one.
func (s *Store) Save(_ context.Context, conv conversation.Conversation) (conversation.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	if conv.Title == "" {
		conv.Title = conversation.DefaultTitle
	}
	conv = conv.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load()
	all[conv.ID] = conv
	if err := s.persist(all); err != nil {
		return conversation.Conversation{}, err
	}
	return conv.Clone(), nil
}

// Delete removes a conversation. Deleting from an empty store or deleting an
// unknown id does nothing.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load()
	if len(all) == 0 {
		s.logger.Info("delete on empty conversation store", zap.String("conversationId", id))
		return nil
	}
	if _, ok := all[id]; !ok {
		s.logger.Info("delete of unknown conversation", zap.String("conversationId", id))
		return nil
	}

	delete(all, id)
	return s.persist(all)
}

// AddMessage appends msg to a conversation, assigning its ID and timestamp.
// The first user message of a conversation still carrying the default title
// becomes its title.
func (s *Store) AddMessage(_ context.Context, conversationID string, msg conversation.Message) (conversation.Message, error) {
	if !msg.Role.Valid() {
		return conversation.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load()
	conv, ok := all[conversationID]
	if !ok {
		return conversation.Message{}, ErrConversationNotFound
	}

	now := s.now()
	msg.ID = uuid.NewString()
	msg.Timestamp = now

	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	if len(conv.Messages) == 1 && msg.Role == conversation.RoleUser && conv.Title == conversation.DefaultTitle {
		conv.Title = titleFrom(msg.Content)
	}

	all[conversationID] = conv
	if err := s.persist(all); err != nil {
		return conversation.Message{}, err
	}
	return msg, nil
}

// UpdateMessage merges patch into an existing message.
func (s *Store) UpdateMessage(_ context.Context, conversationID, messageID string, patch conversation.MessagePatch) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load()
	conv, ok := all[conversationID]
	if !ok {
		return conversation.Message{}, ErrConversationNotFound
	}

	idx := -1
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return conversation.Message{}, ErrMessageNotFound
	}

	msg := &conv.Messages[idx]
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Metadata != nil {
		md := *patch.Metadata
		msg.Metadata = &md
	}
	conv.UpdatedAt = s.now()

	all[conversationID] = conv
	if err := s.persist(all); err != nil {
		return conversation.Message{}, err
	}
	return *msg, nil
}

// Rename replaces the title of a conversation.
func (s *Store) Rename(_ context.Context, id, title string) (conversation.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = conversation.DefaultTitle
	}
	return s.mutate(id, func(c *conversation.Conversation) { c.Title = title })
}

// SetPinned pins or unpins a conversation.
func (s *Store) SetPinned(_ context.Context, id string, pinned bool) (conversation.Conversation, error) {
	return s.mutate(id, func(c *conversation.Conversation) { c.IsPinned = pinned })
}

// SetTags replaces the tags of a conversation, dropping blanks and duplicates.
func (s *Store) SetTags(_ context.Context, id string, tags []string) (conversation.Conversation, error) {
	seen := make(map[string]struct{}, len(tags))
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		clean = append(clean, tag)
	}
	return s.mutate(id, func(c *conversation.Conversation) { c.Tags = clean })
}

// Search returns conversations whose title, any message content or any tag
// contains query, ignoring case.
func (s *Store) Search(ctx context.Context, query string) []conversation.Conversation {
	needle := strings.ToLower(strings.TrimSpace(query))
	all := s.List(ctx)
	if needle == "" {
		return all
	}

	matches := make([]conversation.Conversation, 0, len(all))
	for _, conv := range all {
		if matchesQuery(conv, needle) {
			matches = append(matches, conv)
		}
	}
	return matches
}

// Clear removes every stored conversation.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Remove(StorageKey); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

func (s *Store) mutate(id string, apply func(*conversation.Conversation)) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load()
	conv, ok := all[id]
	if !ok {
		return conversation.Conversation{}, ErrConversationNotFound
	}
	apply(&conv)
	conv.UpdatedAt = s.now()
	all[id] = conv
	if err := s.persist(all); err != nil {
		return conversation.Conversation{}, err
	}
	return conv.Clone(), nil
}

// load reads the stored map. Callers hold s.mu.
func (s *Store) load() map[string]conversation.Conversation {
	out := make(map[string]conversation.Conversation)

	raw, ok, err := s.storage.Get(StorageKey)
	if err != nil {
		s.logger.Warn("failed to read conversations, using empty store", zap.Error(err))
		return out
	}
	if !ok || len(raw) == 0 {
		return out
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn("corrupt conversation store, using empty store", zap.Error(err))
		return make(map[string]conversation.Conversation)
	}
	for id, conv := range out {
		if conv.ID == "" {
			conv.ID = id
		}
		if conv.Messages == nil {
			conv.Messages = []conversation.Message{}
		}
		if conv.Tags == nil {
			conv.Tags = []string{}
		}
		out[id] = conv
	}
	return out
}

// persist evicts if needed and writes all. Callers hold s.mu.
func (s *Store) persist(all map[string]conversation.Conversation) error {
	if len(all) > s.max {
		evicted := evict(all, s.max-evictionHeadroom)
		s.logger.Info("evicted old conversations", zap.Int("evicted", evicted), zap.Int("kept", len(all)))
	}

	raw, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	if err := s.storage.Set(StorageKey, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

// evict keeps the keep most recently updated conversations and returns how
// many were dropped.
func evict(all map[string]conversation.Conversation, keep int) int {
	ordered := make([]conversation.Conversation, 0, len(all))
	for _, conv := range all {
		ordered = append(ordered, conv)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].UpdatedAt.Equal(ordered[j].UpdatedAt) {
			return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	dropped := 0
	for _, conv := range ordered[keep:] {
		delete(all, conv.ID)
		dropped++
	}
	return dropped
}

func sorted(all map[string]conversation.Conversation) []conversation.Conversation {
	out := make([]conversation.Conversation, 0, len(all))
	for _, conv := range all {
		out = append(out, conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matchesQuery(conv conversation.Conversation, needle string) bool {
	if strings.Contains(strings.ToLower(conv.Title), needle) {
		return true
	}
	for _, msg := range conv.Messages {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			return true
		}
	}
	for _, tag := range conv.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func titleFrom(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return conversation.DefaultTitle
	}
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + "..."
}
