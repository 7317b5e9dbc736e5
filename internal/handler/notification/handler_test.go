package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
)

func TestListAndDismiss(t *testing.T) {
	hub := notify.NewHub(0, nil)
	hub.Success("Pablo added")
	failed := hub.Error("Failed to delete Mina")

	r := chi.NewRouter()
	New(hub).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []notify.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, failed.ID, list[0].ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/notifications/"+failed.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/notifications/"+failed.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications?limit=-2", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
