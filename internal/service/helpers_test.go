package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/veranemoloko/tui-downloader/internal/aria2"
	"github.com/veranemoloko/tui-downloader/internal/domain"
	"github.com/veranemoloko/tui-downloader/internal/storage"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

type fakeLister struct {
	mu      sync.Mutex
	listing aria2.Listing
	err     error
	calls   int
}

func (f *fakeLister) ListAll(ctx context.Context, pageSize int) (aria2.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.listing, f.err
}

func (f *fakeLister) set(l aria2.Listing, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listing = l
	f.err = err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMonitor struct {
	mu        sync.Mutex
	blocked   bool
	restartOK bool
	connected bool
	successes int
	downs     int
}

func (m *fakeMonitor) PollAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.blocked
}

func (m *fakeMonitor) PollSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *fakeMonitor) DaemonDown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downs++
	m.connected = m.restartOK
}

func (m *fakeMonitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func tombstoned(r *storage.Registry, id string) bool {
	var removed bool
	r.Update(func(tx *storage.Tx) { removed = tx.Removed(id) })
	return removed
}

func active(gid string, completed, total string) aria2.Status {
	return aria2.Status{
		GID:             gid,
		Status:          aria2.StatusActive,
		CompletedLength: completed,
		TotalLength:     total,
		DownloadSpeed:   "1024",
		UploadSpeed:     "16",
		Connections:     "4",
		Files:           []aria2.File{{Path: "/downloads/" + gid + ".bin"}},
	}
}

func waiting(gid string, paused bool) aria2.Status {
	s := aria2.Status{GID: gid, Status: aria2.StatusWaiting, TotalLength: "100"}
	if paused {
		s.Status = aria2.StatusPaused
	}
	return s
}

// observable strips bookkeeping that legitimately differs between polls.
func observable(ds []domain.Download) []domain.Download {
	out := make([]domain.Download, len(ds))
	for i, d := range ds {
		d.History = domain.SpeedHistory{}
		d.PhaseVersion = 0
		out[i] = d
	}
	return out
}
