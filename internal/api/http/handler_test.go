package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/tui-downloader/internal/domain"
	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/storage"
)

type mockCommands struct {
	mu      sync.Mutex
	err     error
	added   []string
	removed map[string]bool
	paused  []string
	resumed []string
	purged  int
}

func (m *mockCommands) Add(ctx context.Context, source string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.added = append(m.added, source)
	return []string{"gid-1"}, nil
}

func (m *mockCommands) Pause(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = append(m.paused, id)
	return m.err
}

func (m *mockCommands) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = append(m.resumed, id)
	return m.err
}

func (m *mockCommands) Remove(ctx context.Context, id string, deleteFiles bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed == nil {
		m.removed = make(map[string]bool)
	}
	m.removed[id] = deleteFiles
	return m.err
}

func (m *mockCommands) PurgeCompleted(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purged, m.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, commands *mockCommands, healthy bool) (*httptest.Server, *storage.Registry) {
	t.Helper()

	registry := storage.NewRegistry()
	registry.Update(func(tx *storage.Tx) {
		running := &domain.Download{
			ID: "a", Name: "linux.iso", Phase: domain.PhaseActive,
			TotalBytes: 200, CompletedBytes: 50, DownloadSpeed: 10,
			History: domain.NewSpeedHistory(4),
		}
		running.History.Push(domain.SpeedSample{At: time.Unix(1, 0), Download: 30, Upload: 2})
		running.History.Push(domain.SpeedSample{At: time.Unix(2, 0), Download: 10, Upload: 5})
		tx.Put(running)
		tx.Put(&domain.Download{ID: "b", Name: "queued.bin", Phase: domain.PhasePaused})
		tx.Put(&domain.Download{ID: "c", Name: "done.zip", Phase: domain.PhaseCompleted})
	})

	health := func() domain.HealthResponse {
		if healthy {
			return domain.HealthResponse{Status: "ok", Daemon: "ready", Owned: true}
		}
		return domain.HealthResponse{Status: "degraded", Daemon: "unreachable"}
	}

	srv := httptest.NewServer(NewRouter(registry, commands, health, newTestLogger()))
	t.Cleanup(srv.Close)
	return srv, registry
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDownloadHandler_List(t *testing.T) {
	srv, _ := newTestServer(t, &mockCommands{}, true)

	resp := do(t, http.MethodGet, srv.URL+"/downloads", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var all []domain.DownloadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.InDelta(t, 0.25, all[0].Progress, 1e-9)
	assert.Equal(t, int64(30), all[0].PeakDownload)
	assert.Equal(t, int64(5), all[0].PeakUpload)
	assert.Len(t, all[0].History, 2)

	resp = do(t, http.MethodGet, srv.URL+"/downloads?tab=queue", nil)
	var queue []domain.DownloadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].ID)

	resp = do(t, http.MethodGet, srv.URL+"/downloads?tab=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadHandler_Get(t *testing.T) {
	srv, _ := newTestServer(t, &mockCommands{}, true)

	resp := do(t, http.MethodGet, srv.URL+"/downloads/c", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var d domain.DownloadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, domain.PhaseCompleted, d.Phase)

	resp = do(t, http.MethodGet, srv.URL+"/downloads/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadHandler_Stats(t *testing.T) {
	srv, _ := newTestServer(t, &mockCommands{}, true)

	resp := do(t, http.MethodGet, srv.URL+"/stats", nil)
	var stats domain.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, domain.Stats{DownloadSpeed: 10, Active: 1, Queued: 1, Stopped: 1}, stats)
}

func TestDownloadHandler_Add(t *testing.T) {
	commands := &mockCommands{}
	srv, _ := newTestServer(t, commands, true)

	body, _ := json.Marshal(domain.AddDownloadRequest{Source: "https://example.com/a.iso"})
	resp := do(t, http.MethodPost, srv.URL+"/downloads", bytes.NewReader(body))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var data map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	assert.Equal(t, []string{"gid-1"}, data["ids"])
	assert.Equal(t, []string{"https://example.com/a.iso"}, commands.added)
}

func TestDownloadHandler_AddRejectsBadInput(t *testing.T) {
	commands := &mockCommands{}
	srv, _ := newTestServer(t, commands, true)

	resp := do(t, http.MethodPost, srv.URL+"/downloads", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/downloads", strings.NewReader(`{"source":""}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, commands.added)

	commands.err = errpkg.ErrInvalidSource
	resp = do(t, http.MethodPost, srv.URL+"/downloads", strings.NewReader(`{"source":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadHandler_Commands(t *testing.T) {
	commands := &mockCommands{purged: 2}
	srv, _ := newTestServer(t, commands, true)

	resp := do(t, http.MethodPost, srv.URL+"/downloads/a/pause", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodPost, srv.URL+"/downloads/b/resume", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, srv.URL+"/downloads/c?delete_files=true", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, srv.URL+"/downloads/c?delete_files=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/downloads/purge", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var purge map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&purge))
	assert.Equal(t, 2, purge["purged"])

	assert.Equal(t, []string{"a"}, commands.paused)
	assert.Equal(t, []string{"b"}, commands.resumed)
	assert.Equal(t, map[string]bool{"c": true}, commands.removed)
}

func TestDownloadHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errpkg.ErrDownloadNotFound, http.StatusNotFound},
		{errpkg.ErrDisconnected, http.StatusServiceUnavailable},
		{errpkg.Unreachable(io.EOF), http.StatusServiceUnavailable},
		{&errpkg.RemoteError{Code: 1, Message: "GID a is not found"}, http.StatusUnprocessableEntity},
		{errpkg.Protocol("bad json"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		commands := &mockCommands{err: tt.err}
		srv, _ := newTestServer(t, commands, true)

		resp := do(t, http.MethodPost, srv.URL+"/downloads/a/pause", nil)
		assert.Equal(t, tt.want, resp.StatusCode, tt.err.Error())

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, tt.err.Error(), body["error"])
	}
}

func TestDownloadHandler_Health(t *testing.T) {
	srv, _ := newTestServer(t, &mockCommands{}, true)
	resp := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv, _ = newTestServer(t, &mockCommands{}, false)
	resp = do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var h domain.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "unreachable", h.Daemon)
}

func TestRouter_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, &mockCommands{}, true)
	resp := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
