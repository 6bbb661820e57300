package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/exzibtx/deployd/internal/events"
	"github.com/exzibtx/deployd/internal/httpapi"
	"github.com/exzibtx/deployd/internal/permission"
	"github.com/exzibtx/deployd/internal/service"
	"github.com/exzibtx/deployd/internal/store/drivers/sqlite"
	"github.com/exzibtx/deployd/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "httpapi-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper.key"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, collections ...string) *httptest.Server {
	t.Helper()

	if len(collections) == 0 {
		collections = []string{"users"}
	}

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	sessions := &service.SessionService{Store: st}
	perms := permission.NewEngine()
	bus := events.NewBus()

	router := httpapi.NewRouter("test", st, sessions, testLogger())
	for _, name := range collections {
		router.Collections = append(router.Collections,
			service.NewUserCollection(name, st, sessions, perms, bus))
	}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func createUser(t *testing.T, srv *httptest.Server, username, password string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}

func loginUser(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/users/login", map[string]any{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["id"].(string)
	require.Len(t, token, cryptox.SessionTokenLength)
	return token
}

func TestCreateEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	t.Run("valid create returns the sanitized record", func(t *testing.T) {
		body := createUser(t, srv, "foo", "bar")
		id, _ := body["id"].(string)
		require.Len(t, id, cryptox.ResourceIDLength)
		require.Equal(t, "foo", body["username"])
		require.NotContains(t, body, "password")
	})

	t.Run("missing fields produce an aggregated 400", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{}, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		errs, ok := body["errors"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "is required", errs["username"])
		require.Equal(t, "is required", errs["password"])
	})

	t.Run("duplicate username produces a 400", func(t *testing.T) {
		createUser(t, srv, "dupe", "secret")
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
			"username": "dupe",
			"password": "other",
		}, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		errs := body["errors"].(map[string]any)
		require.Equal(t, "is already in use", errs["username"])
	})
}

func TestLoginEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createUser(t, srv, "walter", "sobchak")

	t.Run("valid credentials set the session cookie", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/users/login", map[string]any{
			"username": "walter",
			"password": "sobchak",
		}, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, created["id"], body["uid"])

		var sid string
		for _, c := range resp.Cookies() {
			if c.Name == "sid" {
				sid = c.Value
			}
		}
		require.Len(t, sid, cryptox.SessionTokenLength)
	})

	t.Run("bad credentials are a 401", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/users/login", map[string]any{
			"username": "walter",
			"password": "wrong",
		}, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("empty body is a 401", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/users/login", nil, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestMeEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	createUser(t, srv, "myself", "secret")
	token := loginUser(t, srv, "myself", "secret")

	t.Run("bearer token resolves the caller", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/users/me", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "myself", body["username"])
		require.Equal(t, true, body["isMe"])
	})

	t.Run("sid cookie works too", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/users/me", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "sid", Value: token})
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("anonymous me is a 204", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/users/me", nil, "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("me after logout is a 204", func(t *testing.T) {
		other := loginUser(t, srv, "myself", "secret")
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/users/logout", nil, other)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp, _ = doJSON(t, http.MethodGet, srv.URL+"/users/me", nil, other)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestRecordEndpoints(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createUser(t, srv, "record", "secret")
	id := created["id"].(string)
	token := loginUser(t, srv, "record", "secret")

	t.Run("get by id", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/users/"+id, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "record", body["username"])
		require.NotContains(t, body, "password")
	})

	t.Run("unknown id is a 404", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/users/doesnotexist0000", nil, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("put merges fields", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPut, srv.URL+"/users/"+id, map[string]any{
			"displayName": "The Record",
		}, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "The Record", body["displayName"])
		require.Equal(t, "record", body["username"])
	})

	t.Run("post with id in body updates in place", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
			"id":         id,
			"reputation": 9,
		}, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, float64(9), body["reputation"])
		require.Equal(t, "The Record", body["displayName"])
	})

	t.Run("non-owner credential write is a 400", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPut, srv.URL+"/users/"+id, map[string]any{
			"password": "hijacked",
		}, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		errs := body["errors"].(map[string]any)
		require.Equal(t, "can only be changed by the account owner", errs["password"])
	})

	t.Run("list filters by query", func(t *testing.T) {
		createUser(t, srv, "other", "secret")
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/users?username=%22record%22", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("delete is a 204, repeated delete too", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/users/"+id, nil, token)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/users/"+id, nil, token)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = doJSON(t, http.MethodGet, srv.URL+"/users/"+id, nil, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestEmitEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/users/events/echo", map[string]any{
		"hello": "world",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "world", body["hello"])
}

func TestMultipleCollections(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, "users", "emptyusers")

	createUser(t, srv, "only-in-users", "secret")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/emptyusers", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, rawBody := doJSON(t, http.MethodPost, srv.URL+"/emptyusers", map[string]any{
		"username": "only-in-users",
		"password": "secret",
	}, "")
	// Same username is fine in a different collection.
	require.Equal(t, http.StatusOK, raw.StatusCode)
	require.NotEmpty(t, rawBody["id"])

	t.Run("sessions do not cross collections", func(t *testing.T) {
		token := loginUser(t, srv, "only-in-users", "secret")
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/emptyusers/me", nil, token)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestChangesStream(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/users/changes", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected", strings.TrimSpace(line))

	// The stream is registered; a mutation now must be observed.
	created := createUser(t, srv, "streamed", "secret")

	var data string
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
			break
		}
	}

	var ev struct {
		Type       string         `json:"type"`
		Collection string         `json:"collection"`
		Payload    map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	require.Equal(t, "created", ev.Type)
	require.Equal(t, "users", ev.Collection)
	require.Equal(t, created["id"], ev.Payload["id"])
	require.NotContains(t, ev.Payload, "password")
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/livez", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/readyz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}
