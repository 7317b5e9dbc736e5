package pets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pawtrack/backend/internal/repository"
	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
	petsService "github.com/zhouzirui/pawtrack/backend/internal/service/pets"
)

func send(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestPetLifecycleWithUndo(t *testing.T) {
	store, err := repository.Open(filepath.Join(t.TempDir(), "pets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := petsService.NewService(repository.NewPets(store), notify.NewHub(0, nil), time.Hour, nil)
	t.Cleanup(svc.Close)

	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	res := send(t, http.MethodPost, srv.URL+"/pets", `{"name":"","species":"dog"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = send(t, http.MethodPost, srv.URL+"/pets", `{"name":"Pablo","species":"dog","birthDate":"2020-05-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var created struct {
		ID        string     `json:"id"`
		BirthDate *time.Time `json:"birthDate"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	require.NotNil(t, created.BirthDate)

	res = send(t, http.MethodDelete, srv.URL+"/pets/"+created.ID, "")
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	res = send(t, http.MethodDelete, srv.URL+"/pets/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = send(t, http.MethodGet, srv.URL+"/pets/"+created.ID, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var view map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&view))
	assert.Equal(t, true, view["pendingDelete"])
	assert.Equal(t, "Pablo", view["name"])

	res = send(t, http.MethodPost, srv.URL+"/pets/"+created.ID+"/undo", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res = send(t, http.MethodPost, srv.URL+"/pets/"+created.ID+"/undo", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = send(t, http.MethodPut, srv.URL+"/pets/"+created.ID, `{"name":"Pablo","species":"dog","weight":12}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = send(t, http.MethodGet, srv.URL+"/pets?refresh=true", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.EqualValues(t, 12, list[0]["weight"])
	assert.NotContains(t, list[0], "pendingDelete")

	res = send(t, http.MethodGet, srv.URL+"/pets/unknown", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
