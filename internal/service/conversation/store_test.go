package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	convservice "github.com/zhouzirui/pawtrack/backend/internal/service/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/storage/localstore"
)

// tickingClock returns strictly increasing timestamps.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newStore(t *testing.T, opts ...convservice.Option) (*convservice.Store, *localstore.MemoryStore) {
	t.Helper()
	storage := localstore.NewMemoryStore()
	opts = append([]convservice.Option{convservice.WithClock(tickingClock())}, opts...)
	return convservice.NewStore(storage, opts...), storage
}

func userMessage(content string) conversation.Message {
	return conversation.Message{Role: conversation.RoleUser, Content: content}
}

func TestCreateDefaultsTitle(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, conv.Title)
	assert.NotEmpty(t, conv.ID)
	assert.Empty(t, conv.Messages)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestAddMessagePreservesOrderAndUniqueIDs(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "")
	require.NoError(t, err)

	ids := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		msg, err := store.AddMessage(ctx, conv.ID, conversation.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
		require.NotEmpty(t, msg.ID)
		ids[msg.ID] = struct{}{}
	}
	assert.Len(t, ids, 20)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 20)
	for i, msg := range got.Messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
	}
}

func TestFirstUserMessageBecomesTitle(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "")
	require.NoError(t, err)

	content := "Remind me to give Pablo his deworming tablet every three months please"
	_, err = store.AddMessage(ctx, conv.ID, userMessage(content))
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, content[:50]+"...", got.Title)

	_, err = store.AddMessage(ctx, conv.ID, userMessage("second"))
	require.NoError(t, err)
	got, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, content[:50]+"...", got.Title)
}

func TestShortFirstMessageAndCustomTitle(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	short, err := store.Create(ctx, "")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, short.ID, userMessage("Vet visit"))
	require.NoError(t, err)
	got, err := store.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vet visit", got.Title)

	custom, err := store.Create(ctx, "Diet plan")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, custom.ID, userMessage("What should Pablo eat?"))
	require.NoError(t, err)
	got, err = store.Get(ctx, custom.ID)
	require.NoError(t, err)
	assert.Equal(t, "Diet plan", got.Title)
}

func TestAddMessageUnknownConversation(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.AddMessage(context.Background(), "missing", userMessage("hi"))
	require.ErrorIs(t, err, convservice.ErrConversationNotFound)
}

func TestAddMessageRejectsUnknownRole(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, conv.ID, conversation.Message{Role: "system", Content: "x"})
	require.ErrorIs(t, err, convservice.ErrInvalidRole)
}

func TestUpdateMessageMergesAndRefreshesUpdatedAt(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "")
	require.NoError(t, err)
	msg, err := store.AddMessage(ctx, conv.ID, conversation.Message{
		Role:     conversation.RoleAssistant,
		Metadata: &conversation.Metadata{IsStreaming: true},
	})
	require.NoError(t, err)
	before, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)

	content := "Done!"
	updated, err := store.UpdateMessage(ctx, conv.ID, msg.ID, conversation.MessagePatch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "Done!", updated.Content)
	require.NotNil(t, updated.Metadata)
	assert.True(t, updated.Metadata.IsStreaming)

	updated, err = store.UpdateMessage(ctx, conv.ID, msg.ID, conversation.MessagePatch{Metadata: &conversation.Metadata{}})
	require.NoError(t, err)
	assert.Equal(t, "Done!", updated.Content)
	assert.False(t, updated.Metadata.IsStreaming)

	after, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, msg.ID, after.Messages[0].ID)

	_, err = store.UpdateMessage(ctx, conv.ID, "missing", conversation.MessagePatch{Content: &content})
	require.ErrorIs(t, err, convservice.ErrMessageNotFound)
	_, err = store.UpdateMessage(ctx, "missing", msg.ID, conversation.MessagePatch{Content: &content})
	require.ErrorIs(t, err, convservice.ErrConversationNotFound)
}

func TestEvictionKeepsMostRecentlyUpdated(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Insert out of chronological order so eviction cannot rely on insertion order.
	order := make([]int, 51)
	for i := range order {
		order[i] = (i * 37) % 51
	}

	saved := make(map[string]time.Time)
	for n, i := range order {
		updated := base.Add(time.Duration(i) * time.Hour)
		conv, err := store.Save(ctx, conversation.Conversation{
			ID:        fmt.Sprintf("conv-%02d", i),
			UpdatedAt: updated,
		})
		require.NoError(t, err)
		saved[conv.ID] = updated
		if n < 50 {
			require.Len(t, store.List(ctx), n+1)
		}
	}

	remaining := store.List(ctx)
	require.Len(t, remaining, 40)

	type entry struct {
		id string
		at time.Time
	}
	all := make([]entry, 0, len(saved))
	for id, at := range saved {
		all = append(all, entry{id, at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.After(all[j].at) })

	want := make([]string, 0, 40)
	for _, e := range all[:40] {
		want = append(want, e.id)
	}
	got := make([]string, 0, 40)
	for _, conv := range remaining {
		got = append(got, conv.ID)
	}
	assert.ElementsMatch(t, want, got)
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, conv.ID))

	_, err = store.Get(ctx, conv.ID)
	require.ErrorIs(t, err, convservice.ErrConversationNotFound)

	require.NoError(t, store.Delete(ctx, conv.ID))
	require.NoError(t, store.Delete(ctx, "never-existed"))
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	vet, err := store.Create(ctx, "Vet visit")
	require.NoError(t, err)

	food, err := store.Create(ctx, "")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, food.ID, userMessage("Pablo doit manger 365gr de BARF demain"))
	require.NoError(t, err)

	tagged, err := store.Create(ctx, "Misc")
	require.NoError(t, err)
	_, err = store.SetTags(ctx, tagged.ID, []string{"Grooming", " ", "Grooming"})
	require.NoError(t, err)

	ids := func(convs []conversation.Conversation) []string {
		out := make([]string, 0, len(convs))
		for _, c := range convs {
			out = append(out, c.ID)
		}
		return out
	}

	assert.Equal(t, []string{vet.ID}, ids(store.Search(ctx, "VET")))
	assert.Equal(t, []string{food.ID}, ids(store.Search(ctx, "barf")))
	assert.Equal(t, []string{tagged.ID}, ids(store.Search(ctx, "groom")))
	assert.Empty(t, store.Search(ctx, "parrot"))
	assert.Len(t, store.Search(ctx, ""), 3)

	got, err := store.Get(ctx, tagged.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Grooming"}, got.Tags)
}

func TestListPinnedFirst(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "first")
	require.NoError(t, err)
	_, err = store.Create(ctx, "second")
	require.NoError(t, err)
	_, err = store.SetPinned(ctx, first.ID, true)
	require.NoError(t, err)
	third, err := store.Create(ctx, "third")
	require.NoError(t, err)

	list := store.List(ctx)
	require.Len(t, list, 3)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, third.ID, list[1].ID)

	renamed, err := store.Rename(ctx, third.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, renamed.Title)
}

func TestClear(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, "")
		require.NoError(t, err)
	}
	require.NoError(t, store.Clear(ctx))
	assert.Empty(t, store.List(ctx))
}

func TestCorruptStorageDegradesToEmpty(t *testing.T) {
	store, storage := newStore(t)
	ctx := context.Background()

	require.NoError(t, storage.Set(convservice.StorageKey, []byte("{not json")))
	assert.Empty(t, store.List(ctx))

	_, err := store.Get(ctx, "anything")
	require.ErrorIs(t, err, convservice.ErrConversationNotFound)

	conv, err := store.Create(ctx, "fresh start")
	require.NoError(t, err)
	assert.Len(t, store.List(ctx), 1)
	assert.Equal(t, conv.ID, store.List(ctx)[0].ID)
}

type failingStorage struct {
	*localstore.MemoryStore
}

func (f *failingStorage) Set(string, []byte) error {
	return errors.New("quota exceeded")
}

func TestWriteFailureSurfacesSaveFailed(t *testing.T) {
	store := convservice.NewStore(&failingStorage{MemoryStore: localstore.NewMemoryStore()})

	_, err := store.Create(context.Background(), "")
	require.ErrorIs(t, err, convservice.ErrSaveFailed)
}

func TestRoundTripThroughBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.bolt")
	ctx := context.Background()

	storage, err := localstore.OpenBolt(path)
	require.NoError(t, err)
	store := convservice.NewStore(storage)

	conv, err := store.Create(ctx, "")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conv.ID, userMessage(strings.Repeat("é", 60)))
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	storage, err = localstore.OpenBolt(path)
	require.NoError(t, err)
	defer storage.Close()

	got, err := convservice.NewStore(storage).Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 50)+"...", got.Title)
	require.Len(t, got.Messages, 1)
	assert.False(t, got.Messages[0].Timestamp.IsZero())
	assert.Equal(t, conv.CreatedAt.Unix(), got.CreatedAt.Unix())
}
