package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/taskboard/internal/api/handlers"
	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/metrics"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/repository"
	"github.com/TWRT/taskboard/internal/view"
)

type testAPI struct {
	srv   *httptest.Server
	token string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := repository.InitDB(filepath.Join(t.TempDir(), "taskboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := blob.NewLocalStore(t.TempDir(), srv.URL+"/files", logger)
	require.NoError(t, err)

	handler = SetupRouter(db, Options{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Blobs:     store,
		Files:     store.Handler(),
		Metrics:   metrics.New(),
		Logger:    logger,
	})
	return &testAPI{srv: srv}
}

func (a *testAPI) send(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return a.send(t, req)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (a *testAPI) signIn(t *testing.T) models.User {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": "ada@example.com", "password": "hunter22", "displayName": "Ada",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session := decode[handlers.SessionResponse](t, resp)
	a.token = session.Token
	return session.User
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	user := a.signIn(t)

	resp = a.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[struct{ User models.User }](t, resp)
	assert.Equal(t, user.UID, me.User.UID)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	a.token = ""
	resp = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "invalid email or password", body["error"])

	resp = a.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "ada@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ada@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[handlers.SessionResponse](t, resp).Token)

	a.token = "garbage"
	resp = a.do(t, http.MethodGet, "/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTaskCRUD(t *testing.T) {
	a := newTestAPI(t)
	a.signIn(t)

	resp := a.do(t, http.MethodPost, "/tasks", models.Task{ID: "t1", Title: "Fix bug", Status: models.StatusTodo, Category: models.CategoryWork})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[struct{ Task models.Task }](t, resp).Task
	assert.Equal(t, "Fix bug", created.Title)
	assert.False(t, created.CreatedAt.IsZero())

	resp = a.do(t, http.MethodPost, "/tasks", models.Task{ID: "t2", Title: "x", Status: "BLOCKED"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, "/tasks/t1", map[string]any{"status": "IN-PROGRESS"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[struct{ Task models.Task }](t, resp).Task
	assert.Equal(t, models.StatusInProgress, updated.Status)
	assert.Equal(t, "Fix bug", updated.Title)

	resp = a.do(t, http.MethodGet, "/tasks/t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusInProgress, decode[struct{ Task models.Task }](t, resp).Task.Status)

	victim := a.srv.URL + "/files/public/victim-uid/1-abc-secret.png"
	resp = a.do(t, http.MethodPatch, "/tasks/t1", map[string]any{
		"imageUrls": []string{victim}, "deletedImageUrls": []string{victim},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, "/tasks/missing", map[string]any{"status": "COMPLETED"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodDelete, "/tasks/t1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[struct{ Tasks []models.Task }](t, resp).Tasks)
}

func TestBulkAndBoard(t *testing.T) {
	a := newTestAPI(t)
	a.signIn(t)

	for _, task := range []models.Task{
		{ID: "1", Title: "Fix bug", Status: models.StatusTodo, Category: models.CategoryWork},
		{ID: "2", Title: "Buy milk", Status: models.StatusTodo, Category: models.CategoryPersonal},
		{ID: "3", Title: "Write report", Status: models.StatusTodo, Category: models.CategoryWork},
	} {
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/tasks", task).StatusCode)
	}

	resp := a.do(t, http.MethodPost, "/tasks/bulk-update", map[string]any{
		"ids": []string{"1", "2"}, "patch": map[string]any{"status": "COMPLETED"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[struct{ Tasks []models.Task }](t, resp).Tasks, 2)

	resp = a.do(t, http.MethodPost, "/tasks/bulk-update", map[string]any{
		"ids": []string{"3", "nope"}, "patch": map[string]any{"status": "IN-PROGRESS"},
	})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	partial := decode[struct {
		Tasks  []models.Task
		Errors []string
	}](t, resp)
	assert.Len(t, partial.Tasks, 1)
	require.Len(t, partial.Errors, 1)
	assert.Contains(t, partial.Errors[0], "nope")

	resp = a.do(t, http.MethodGet, "/board?category=WORK&sort=name&dir=asc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	board := decode[struct{ Board view.Partition }](t, resp).Board
	assert.Empty(t, board.Todo)
	require.Len(t, board.InProgress, 1)
	assert.Equal(t, "3", board.InProgress[0].ID)
	require.Len(t, board.Completed, 1)
	assert.Equal(t, "1", board.Completed[0].ID)

	resp = a.do(t, http.MethodGet, "/board?due=next-year", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/tasks/bulk-delete", map[string]any{"ids": []string{"1", "2", "3"}})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBoard_SortKeyWithoutDirectionSortsAscending(t *testing.T) {
	a := newTestAPI(t)
	a.signIn(t)

	for _, task := range []models.Task{
		{ID: "a", Title: "Zebra", Status: models.StatusTodo},
		{ID: "b", Title: "Apple", Status: models.StatusTodo},
	} {
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/tasks", task).StatusCode)
	}

	ids := func(path string) []string {
		resp := a.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []string
		for _, task := range decode[struct{ Board view.Partition }](t, resp).Board.Todo {
			out = append(out, task.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b"}, ids("/board"))
	assert.Equal(t, []string{"b", "a"}, ids("/board?sort=name"))
	assert.Equal(t, []string{"a", "b"}, ids("/board?sort=name&dir=desc"))
}

func TestPreferences(t *testing.T) {
	a := newTestAPI(t)
	a.signIn(t)

	resp := a.do(t, http.MethodGet, "/preferences", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.DefaultPreferences(), decode[struct{ Preferences models.Preferences }](t, resp).Preferences)

	resp = a.do(t, http.MethodPut, "/preferences/theme", map[string]string{"value": "dark"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ThemeDark, decode[struct{ Preferences models.Preferences }](t, resp).Preferences.Theme)

	resp = a.do(t, http.MethodPut, "/preferences/view", map[string]string{"value": "spreadsheet"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMultipartCreateServesImages(t *testing.T) {
	a := newTestAPI(t)
	a.signIn(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	taskJSON, err := json.Marshal(models.Task{ID: "t1", Title: "With image", Status: models.StatusTodo})
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("task", string(taskJSON)))

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="images"; filename="pic.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/tasks", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := a.send(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	task := decode[struct{ Task models.Task }](t, resp).Task
	require.Len(t, task.ImageURLs, 1)
	assert.True(t, strings.HasPrefix(task.ImageURLs[0], a.srv.URL+"/files/public/"))

	img, err := http.Get(task.ImageURLs[0])
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	data, err := io.ReadAll(img.Body)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(data))
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `route="GET /healthz"`)
}

func TestRecoverWritesJSONError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		WithRequestID, WithRecover(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
