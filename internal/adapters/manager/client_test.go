package manager

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Token: "s3cr3t-token", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c, &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "manager.example.com"},
		{"ftp", "ftp://manager.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{BaseURL: tt.url})
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatValidation))
		})
	}
}

func TestClient_TaskRoundTrip(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			writeJSON(w, http.StatusOK, core.Task{ID: "composer/update", Status: core.TaskActive})
		case http.MethodGet:
			writeJSON(w, http.StatusOK, core.Task{ID: "composer/update", Status: core.TaskComplete})
		case http.MethodPatch:
			writeJSON(w, http.StatusOK, core.Task{ID: "composer/update", Status: core.TaskAborting})
		case http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		}
	})
	ctx := context.Background()

	task, err := c.SetTaskData(ctx, core.TaskRequest{Name: "composer/update", Config: map[string]any{"dry_run": true}})
	require.NoError(t, err)
	assert.Equal(t, core.TaskActive, task.Status)

	task, err = c.GetTaskData(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.TaskComplete, task.Status)

	task, err = c.PatchTaskStatus(ctx, core.TaskAborting)
	require.NoError(t, err)
	assert.Equal(t, core.TaskAborting, task.Status)

	require.NoError(t, c.DeleteTaskData(ctx))

	require.Len(t, *calls, 4)
	for _, call := range *calls {
		assert.Equal(t, "/api/task", call.path)
		assert.Equal(t, "Bearer s3cr3t-token", call.auth)
	}
	assert.JSONEq(t, `{"name":"composer/update","config":{"dry_run":true}}`, (*calls)[0].body)
	assert.JSONEq(t, `{"status":"aborting"}`, (*calls)[2].body)
}

func TestClient_EmptyResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"204", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }},
		{"empty object", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, map[string]any{}) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.handler)

			task, err := c.GetTaskData(context.Background())
			require.NoError(t, err)
			assert.True(t, task.IsEmpty())

			m, err := c.GetDatabaseMigrationStatus(context.Background())
			require.NoError(t, err)
			assert.True(t, m.IsEmpty())
		})
	}
}

func TestClient_Migration(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			writeJSON(w, http.StatusCreated, core.Migration{Type: "migrate", Status: core.MigrationActive})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	m, err := c.StartDatabaseMigration(ctx, core.MigrationRequest{Hash: "abc", WithDeletes: true})
	require.NoError(t, err)
	assert.True(t, m.IsRunning())
	require.NoError(t, c.DeleteDatabaseMigrationTask(ctx))

	require.Len(t, *calls, 2)
	assert.Equal(t, "/api/contao/database-migration", (*calls)[0].path)
	assert.JSONEq(t, `{"hash":"abc","withDeletes":true}`, (*calls)[0].body)
	assert.Equal(t, http.MethodDelete, (*calls)[1].method)
}

func TestClient_UpdateStatusAndVersions(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/server/self-update":
			writeJSON(w, http.StatusOK, map[string]any{"current_version": "1.8.0", "latest_version": "1.9.0"})
		case "/api/server/contao":
			writeJSON(w, http.StatusOK, map[string]any{"version": "5.3.2"})
		}
	})
	ctx := context.Background()

	st, err := c.GetUpdateStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.SelfUpdate.HasUpdate())

	info, err := c.UpdateVersionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5.3.2", info.Version)
	assert.Equal(t, http.MethodPut, (*calls)[1].method)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		category  core.ErrorCategory
		retryable bool
		contains  string
	}{
		{"problem json", http.StatusInternalServerError, `{"title":"Internal error","detail":"disk full"}`,
			core.ErrCatRemote, true, "Internal error: disk full"},
		{"plain text", http.StatusBadGateway, "upstream down", core.ErrCatRemote, true, "upstream down"},
		{"bad request", http.StatusBadRequest, `{"message":"invalid hash"}`, core.ErrCatValidation, false, "invalid hash"},
		{"forbidden", http.StatusForbidden, "", core.ErrCatRemote, false, "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.GetTaskData(context.Background())
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, tt.category), "category of %v", err)
			assert.Equal(t, tt.retryable, core.IsRetryable(err))
			assert.Contains(t, core.Message(err), tt.contains)

			var domErr *core.DomainError
			require.True(t, errors.As(err, &domErr))
			assert.Equal(t, tt.status, domErr.Details["status"])
		})
	}
}

func TestClient_LongErrorBodyKeepsRunesIntact(t *testing.T) {
	body := strings.Repeat("é", 300)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, body)
	})
	_, err := c.GetTaskData(context.Background())
	require.Error(t, err)

	msg := core.Message(err)
	assert.True(t, utf8.ValidString(msg), "message %q is not valid UTF-8", msg)
	assert.Contains(t, msg, strings.Repeat("é", 200)+"...")
	assert.NotContains(t, msg, strings.Repeat("é", 201))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "äö...", truncate("äöü", 2))
	assert.Equal(t, "", truncate("", 3))
}

func TestClient_MalformedResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status": [}`)
	})
	_, err := c.GetTaskData(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, core.CodeMalformedResponse, domErr.Code)
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.GetTaskData(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNetwork))
	assert.Contains(t, core.Message(err), "GET /api/task failed")
}

func TestClient_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetTaskData(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
