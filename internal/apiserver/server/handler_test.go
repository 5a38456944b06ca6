package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/shared/objstore"
	sqlitedriver "accounts-syncd/internal/shared/storage/driver/sqlite"
	"accounts-syncd/internal/shared/storage/repository"
	"accounts-syncd/internal/syncd"
	"accounts-syncd/pkg/logging"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testServer struct {
	*httptest.Server
	core *syncd.Core
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	objects, err := objstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	core := syncd.New(syncd.Deps{
		Store:   store,
		Objects: objects,
		Push:    eventbus.NewRecordingPushNotifier(),
		Metrics: metrics.New("syncd"),
		Logger:  logging.Discard("syncd"),
	}, syncd.Config{
		Features: cache.AllFeatures(),
		Workers:  1,
		TmpDir:   t.TempDir(),
		MaxSize:  1 << 20,
	})
	core.StartWorkers(context.Background())

	srv := httptest.NewServer(NewHandler(core, logging.Discard("api")).Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = core.Shutdown(ctx)
	})
	return &testServer{Server: srv, core: core}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func (s *testServer) register(t *testing.T, id string) {
	t.Helper()
	resp, _ := s.do(t, http.MethodPost, "/api/v1/accounts", map[string]string{"id": id})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// ============================================================================
// 错误映射
// ============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{dataerr.Wrap(dataerr.ErrNotFound, "op", "a"), http.StatusNotFound, "not_found"},
		{dataerr.ErrFeatureDisabled, http.StatusForbidden, "feature_disabled"},
		{fmt.Errorf("%w: duplicate", dataerr.ErrNotAllowed), http.StatusConflict, "not_allowed"},
		{dataerr.ErrServerClosingInProgress, http.StatusServiceUnavailable, "server_closing"},
		{fmt.Errorf("%w: disk full", dataerr.ErrDatabase), http.StatusInternalServerError, "internal_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestInternalErrorIsOpaque(t *testing.T) {
	h := &Handler{logger: logging.Discard("api")}
	rec := httptest.NewRecorder()
	h.writeDataError(rec, httptest.NewRequest(http.MethodGet, "/x", nil),
		fmt.Errorf("%w: sqlite: database is locked", dataerr.ErrDatabase))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sqlite")
}

// ============================================================================
// REST 接口
// ============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	s.register(t, "acc-1")
	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `syncd_http_requests_total{method="POST",path="POST /api/v1/accounts",status="201"} 1`)
	assert.Contains(t, string(raw), `syncd_writes_total{path="global",result="ok"}`)
}

func TestRegisterAccount(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "acc-1")

	resp, body := s.do(t, http.MethodPost, "/api/v1/accounts", map[string]string{"id": "acc-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_allowed", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/accounts", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfileAndSync(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "acc-1")

	resp, body := s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/sync/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset_version_and_sync", body["result"])
	assert.Equal(t, float64(0), body["version"])

	resp, body = s.do(t, http.MethodPut, "/api/v1/accounts/acc-1/profile",
		map[string]interface{}{"name": "Alice", "visible": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Alice", body["profile"].(map[string]interface{})["name"])

	_, body = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/sync/profile?version=1", nil)
	assert.Equal(t, "do_nothing", body["result"])
	_, body = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/sync/profile?version=0", nil)
	assert.Equal(t, "sync", body["result"])

	resp, _ = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/sync/unknown", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/sync/profile?version=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/accounts/missing/sync/profile?version=1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBumpSyncVersion(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "acc-1")

	resp, body := s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/sync/chat/bump", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, false, body["wrapped"])
}

func TestContentUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "acc-1")

	resp, body := s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/content/0", pngHeader)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	processingID := body["processing_id"]
	assert.NotEmpty(t, processingID)

	var state map[string]interface{}
	require.Eventually(t, func() bool {
		_, state = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/content/0/state", nil)
		return state["state"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, processingID, state["processing_id"])

	dl, err := http.Get(s.URL + "/api/v1/accounts/acc-1/content/0")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "image/png", dl.Header.Get("Content-Type"))
	raw, _ := io.ReadAll(dl.Body)
	assert.Equal(t, pngHeader, raw)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/content/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/content/99", pngHeader)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/content/5/state", nil)
	assert.Equal(t, "empty", body["state"])
	assert.NotContains(t, body, "processing_id")
}

func TestNotifications(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "acc-1")

	resp, _ := s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/notifications",
		map[string][]string{"categories": {"new_message", "received_like"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body := s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/notifications", nil)
	assert.ElementsMatch(t, []interface{}{"new_message", "received_like"}, body["categories"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/notifications/ack",
		map[string][]string{"categories": {"new_message"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = s.do(t, http.MethodGet, "/api/v1/accounts/acc-1/notifications", nil)
	assert.Equal(t, []interface{}{"received_like"}, body["categories"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/notifications",
		map[string][]string{"categories": {"bogus"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/accounts/missing/notifications", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShutdownRejectsWrites(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "acc-1")
	require.NoError(t, s.core.Shutdown(context.Background()))

	resp, body := s.do(t, http.MethodPost, "/api/v1/accounts/acc-1/sync/chat/bump", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "server_closing", body["error"])

	resp, _ = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

