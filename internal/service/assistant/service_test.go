package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/pawtrack/backend/internal/aiclient"
	"github.com/zhouzirui/pawtrack/backend/internal/config"
	"github.com/zhouzirui/pawtrack/backend/internal/model/assistant"
	"github.com/zhouzirui/pawtrack/backend/internal/model/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/model/event"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
	conversationService "github.com/zhouzirui/pawtrack/backend/internal/service/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/storage/localstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticPets []pet.Pet

func (p staticPets) List() []pet.Pet { return p }

type recordingObserver struct {
	started *conversation.Conversation
	deltas  []string
	done    *conversation.Message
}

func (o *recordingObserver) OnStart(conv conversation.Conversation, _, _ conversation.Message) {
	o.started = &conv
}

func (o *recordingObserver) OnDelta(_ string, chunk string) { o.deltas = append(o.deltas, chunk) }

func (o *recordingObserver) OnDone(reply conversation.Message) { o.done = &reply }

func sseBackend(t *testing.T, lines []string, requests chan<- assistant.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req assistant.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if requests != nil {
			requests <- req
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, srv *httptest.Server, pets PetLister) *Service {
	t.Helper()
	client := aiclient.New(config.AssistantConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
	store := conversationService.NewStore(localstore.NewMemoryStore())
	svc := NewService(store, client, pets, nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestSendAttachesEventForm(t *testing.T) {
	requests := make(chan assistant.Request, 1)
	srv := sseBackend(t, []string{
		`{"chunk":"Je planifie "}`,
		`{"chunk":"le repas de Pablo"}`,
		`{"done":true,"response":{"score":0.95,"requestType":"createEvent","description":"Repas de Pablo demain","data":{"title":"Repas de Pablo","petId":[1],"type":"Feeding","pivot":{"item":"barf","quantity":"365gr"}}}}`,
		`[DONE]`,
	}, requests)
	svc := newService(t, srv, staticPets{{ID: "1", Name: "Pablo", Species: "dog"}})

	obs := &recordingObserver{}
	reply, err := svc.Send(context.Background(), "", "Pablo doit manger 365gr de barf demain", obs)
	require.NoError(t, err)

	req := <-requests
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "Pablo doit manger 365gr de barf demain", req.Messages[0].Content)
	pets, ok := req.Filters["pets"].([]any)
	require.True(t, ok)
	assert.Equal(t, "Pablo", pets[0].(map[string]any)["name"])

	assert.Equal(t, []string{"Je planifie ", "le repas de Pablo"}, obs.deltas)
	require.NotNil(t, obs.started)
	assert.Equal(t, "Pablo doit manger 365gr de barf demain", obs.started.Title)

	require.NotNil(t, reply.Metadata)
	assert.False(t, reply.Metadata.IsStreaming)
	require.NotNil(t, reply.Metadata.Event)
	assert.Equal(t, "1", reply.Metadata.Event.PetID)
	assert.Equal(t, event.Feeding, reply.Metadata.Event.Type)
	assert.Equal(t, "365gr", reply.Metadata.Event.Pivot.Quantity)
	require.NotNil(t, reply.Metadata.AIResponse)
	assert.Equal(t, assistant.CreateEvent, reply.Metadata.AIResponse.RequestType)
	assert.Equal(t, "Repas de Pablo demain", reply.Content)

	stored, err := svc.Conversations().Get(context.Background(), obs.started.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, reply, stored.Messages[1])
	assert.Equal(t, *obs.done, reply)
}

func TestSendRecordsStreamError(t *testing.T) {
	srv := sseBackend(t, []string{`{"chunk":"Un"}`, `{"error":"model overloaded"}`}, nil)
	svc := newService(t, srv, nil)

	conv, err := svc.Conversations().Create(context.Background(), "Walks")
	require.NoError(t, err)

	reply, err := svc.Send(context.Background(), conv.ID, "walk Pablo at 6pm", nil)
	require.ErrorContains(t, err, "model overloaded")
	require.NotNil(t, reply.Metadata)
	assert.Contains(t, reply.Metadata.Error, "model overloaded")
	assert.False(t, reply.Metadata.IsStreaming)
	assert.Equal(t, "Un", reply.Content)
	assert.False(t, svc.Busy(conv.ID))
}

func TestSendCreatePetAndHistory(t *testing.T) {
	requests := make(chan assistant.Request, 2)
	srv := sseBackend(t, []string{
		`{"done":true,"response":{"requestType":"createPet","description":"Mina added","data":{"name":"Mina","species":"cat"}}}`,
		`[DONE]`,
	}, requests)
	svc := newService(t, srv, nil)
	ctx := context.Background()

	first, err := svc.Send(ctx, "", "We adopted Mina", nil)
	require.NoError(t, err)
	require.NotNil(t, first.Metadata.Pet)
	assert.Equal(t, "Mina", first.Metadata.Pet.Name)
	assert.Nil(t, first.Metadata.Event)
	<-requests

	convs := svc.Conversations().List(ctx)
	require.Len(t, convs, 1)
	_, err = svc.Send(ctx, convs[0].ID, "She is a cat", nil)
	require.NoError(t, err)

	req := <-requests
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "Mina added", req.Messages[1].Content)
	assert.Nil(t, req.Filters)
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"thinking\"}\n\n")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: {\"done\":true,\"response\":{\"requestType\":\"advice\",\"description\":\"ok\"}}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()
	svc := newService(t, srv, nil)

	conv, err := svc.Conversations().Create(context.Background(), "")
	require.NoError(t, err)

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Send(context.Background(), conv.ID, "first", observerFunc(func() { close(started) }))
		errCh <- err
	}()

	<-started
	_, err = svc.Send(context.Background(), conv.ID, "second", nil)
	require.ErrorIs(t, err, ErrSendInProgress)
	assert.True(t, svc.Busy(conv.ID))

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, svc.Busy(conv.ID))

	stored, err := svc.Conversations().Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestSendValidation(t *testing.T) {
	srv := sseBackend(t, nil, nil)
	svc := newService(t, srv, nil)

	_, err := svc.Send(context.Background(), "", "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Send(context.Background(), "missing", "hello", nil)
	require.ErrorIs(t, err, conversationService.ErrConversationNotFound)
}

// observerFunc calls fn on the first delta.
type observerFunc func()

func (f observerFunc) OnStart(conversation.Conversation, conversation.Message, conversation.Message) {
}
func (f observerFunc) OnDelta(string, string)      { f() }
func (f observerFunc) OnDone(conversation.Message) {}
