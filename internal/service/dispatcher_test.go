package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/tui-downloader/internal/aria2"
	"github.com/veranemoloko/tui-downloader/internal/domain"
	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/storage"
)

type fakeDaemon struct {
	mu       sync.Mutex
	calls    []string
	errs     map[string]error
	gids     []string
	options  map[string]string
	purgeErr map[string]error
}

func newFakeDaemon(gids ...string) *fakeDaemon {
	return &fakeDaemon{
		errs:     make(map[string]error),
		gids:     gids,
		options:  make(map[string]string),
		purgeErr: make(map[string]error),
	}
}

func (f *fakeDaemon) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return f.errs[method]
}

func (f *fakeDaemon) nextGID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	gid := f.gids[0]
	f.gids = f.gids[1:]
	return gid
}

func (f *fakeDaemon) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDaemon) AddURI(ctx context.Context, uris []string) (string, error) {
	if err := f.record(aria2.MethodAddURI); err != nil {
		return "", err
	}
	return f.nextGID(), nil
}

func (f *fakeDaemon) AddTorrent(ctx context.Context, torrent []byte) (string, error) {
	if err := f.record(aria2.MethodAddTorrent); err != nil {
		return "", err
	}
	return f.nextGID(), nil
}

func (f *fakeDaemon) AddMetalink(ctx context.Context, metalink []byte) ([]string, error) {
	if err := f.record(aria2.MethodAddMetalink); err != nil {
		return nil, err
	}
	return []string{f.nextGID(), f.nextGID()}, nil
}

func (f *fakeDaemon) Pause(ctx context.Context, gid string) error {
	return f.record(aria2.MethodPause)
}

func (f *fakeDaemon) Unpause(ctx context.Context, gid string) error {
	return f.record(aria2.MethodUnpause)
}

func (f *fakeDaemon) PauseAll(ctx context.Context) error {
	return f.record(aria2.MethodPauseAll)
}

func (f *fakeDaemon) UnpauseAll(ctx context.Context) error {
	return f.record(aria2.MethodUnpauseAll)
}

func (f *fakeDaemon) ForceRemove(ctx context.Context, gid string) error {
	return f.record(aria2.MethodForceRemove)
}

func (f *fakeDaemon) RemoveDownloadResult(ctx context.Context, gid string) error {
	return f.record(aria2.MethodRemoveDownloadResult)
}

func (f *fakeDaemon) RemoveDownloadResults(ctx context.Context, gids []string) []error {
	f.record("batch:" + aria2.MethodRemoveDownloadResult)
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make([]error, len(gids))
	for i, gid := range gids {
		errs[i] = f.purgeErr[gid]
	}
	return errs
}

func (f *fakeDaemon) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	if err := f.record(aria2.MethodGetGlobalOption); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options, nil
}

func (f *fakeDaemon) ChangeGlobalOption(ctx context.Context, opts map[string]string) error {
	if err := f.record(aria2.MethodChangeGlobalOption); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range opts {
		f.options[k] = v
	}
	return nil
}

func (f *fakeDaemon) ChangePosition(ctx context.Context, gid string, delta int) (int, error) {
	if err := f.record(aria2.MethodChangePosition); err != nil {
		return 0, err
	}
	return 3, nil
}

type fakeGate struct{ down bool }

func (g *fakeGate) Connected() bool { return !g.down }

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (c *countingRefresher) Trigger() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type dispatcherFixture struct {
	daemon     *fakeDaemon
	registry   *storage.Registry
	dispatcher *Dispatcher
	dir        string
}

func newDispatcherFixture(t *testing.T, gate Gate, gids ...string) *dispatcherFixture {
	t.Helper()

	dir := t.TempDir()
	f := &dispatcherFixture{
		daemon:   newFakeDaemon(gids...),
		registry: storage.NewRegistry(),
		dir:      dir,
	}
	f.dispatcher = NewDispatcher(f.daemon, f.registry, storage.NewFileStorage(dir), gate, &countingRefresher{},
		DispatcherConfig{QueueSize: 8, HistorySize: 60}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.dispatcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *dispatcherFixture) seed(downloads ...domain.Download) {
	f.registry.Update(func(tx *storage.Tx) {
		for i := range downloads {
			d := downloads[i]
			if d.History.Cap() == 0 {
				d.History = domain.NewSpeedHistory(60)
			}
			tx.Put(&d)
		}
	})
}

func TestDispatcher_AddRejectsInvalidSourceWithoutRPC(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	for _, src := range []string{"not-a-real-source", "", "mailto:someone@example.com", "/tmp/file.zip"} {
		_, err := f.dispatcher.Add(context.Background(), src)
		require.Error(t, err, src)
		assert.True(t, errors.Is(err, errpkg.ErrInvalidSource), src)
	}
	assert.Empty(t, f.daemon.Calls())
	assert.Zero(t, f.registry.Len())
}

func TestDispatcher_AddThenReconcile(t *testing.T) {
	f := newDispatcherFixture(t, nil, "2089b05ecca3d829")

	gids, err := f.dispatcher.Add(context.Background(), "https://example.com/file.zip")
	require.NoError(t, err)
	require.Equal(t, []string{"2089b05ecca3d829"}, gids)
	assert.Equal(t, []string{aria2.MethodAddURI}, f.daemon.Calls())

	d, ok := f.registry.Get(gids[0])
	require.True(t, ok)
	assert.Equal(t, domain.PhaseWaiting, d.Phase)
	assert.Equal(t, "file.zip", d.Name)
	assert.Equal(t, domain.KindHTTP, d.Kind)

	lister := &fakeLister{listing: aria2.Listing{Active: []aria2.Status{{
		GID:             gids[0],
		Status:          aria2.StatusActive,
		CompletedLength: "0",
		TotalLength:     "1000000",
	}}}}
	r := newTestReconciler(lister, f.registry, &fakeMonitor{})
	require.NoError(t, r.Reconcile(context.Background()))

	d, ok = f.registry.Get(gids[0])
	require.True(t, ok)
	assert.Equal(t, domain.PhaseActive, d.Phase)
	assert.Equal(t, int64(0), d.CompletedBytes)
	assert.Equal(t, int64(1000000), d.TotalBytes)
	assert.Equal(t, "https://example.com/file.zip", d.Source)
}

func TestDispatcher_AddTorrentFile(t *testing.T) {
	f := newDispatcherFixture(t, nil, "t1")

	info := metainfo.Info{Name: "ubuntu.iso", PieceLength: 16384, Length: 1, Pieces: make([]byte, 20)}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	data, err := bencode.Marshal(metainfo.MetaInfo{InfoBytes: infoBytes})
	require.NoError(t, err)
	path := filepath.Join(f.dir, "ubuntu.torrent")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	gids, err := f.dispatcher.Add(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{aria2.MethodAddTorrent}, f.daemon.Calls())

	d, _ := f.registry.Get(gids[0])
	assert.Equal(t, "ubuntu.iso", d.Name)
	assert.Equal(t, domain.KindTorrent, d.Kind)
}

func TestDispatcher_AddUnreadableTorrentFile(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	path := filepath.Join(f.dir, "broken.torrent")
	require.NoError(t, os.WriteFile(path, []byte("definitely not bencode"), 0o644))

	_, err := f.dispatcher.Add(context.Background(), path)
	assert.True(t, errors.Is(err, errpkg.ErrInvalidSource))

	_, err = f.dispatcher.Add(context.Background(), filepath.Join(f.dir, "missing.torrent"))
	assert.True(t, errors.Is(err, errpkg.ErrInvalidSource))
	assert.Empty(t, f.daemon.Calls())
}

func TestDispatcher_AddMetalinkYieldsSeveral(t *testing.T) {
	f := newDispatcherFixture(t, nil, "m1", "m2")

	path := filepath.Join(f.dir, "set.meta4")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0"?><metalink xmlns="urn:ietf:params:xml:ns:metalink"></metalink>`), 0o644))

	gids, err := f.dispatcher.Add(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, gids)
	assert.Equal(t, 2, f.registry.Len())
}

func TestDispatcher_AddRemoteFaultLeavesRegistry(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.daemon.errs[aria2.MethodAddURI] = &errpkg.RemoteError{Code: 1, Message: "duplicate download"}

	_, err := f.dispatcher.Add(context.Background(), "https://example.com/file.zip")
	require.Error(t, err)
	assert.True(t, errpkg.IsRemote(err))
	assert.Contains(t, err.Error(), "duplicate download")
	assert.Zero(t, f.registry.Len())
}

func TestDispatcher_PauseIsOptimisticAndConfirmed(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	lister := &fakeLister{listing: aria2.Listing{Active: []aria2.Status{active("a", "10", "100")}}}
	r := newTestReconciler(lister, f.registry, &fakeMonitor{})
	require.NoError(t, r.Reconcile(context.Background()))

	require.NoError(t, f.dispatcher.Pause(context.Background(), "a"))

	d, _ := f.registry.Get("a")
	assert.Equal(t, domain.PhasePaused, d.Phase)
	assert.Equal(t, domain.OriginOptimistic, d.PhaseOrigin)
	assert.Zero(t, d.History.Len())

	lister.set(aria2.Listing{Waiting: []aria2.Status{waiting("a", true)}}, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	d, _ = f.registry.Get("a")
	assert.Equal(t, domain.PhasePaused, d.Phase)
	assert.Equal(t, domain.OriginReconciled, d.PhaseOrigin)
}

func TestDispatcher_PauseFailureLeavesRegistry(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive})
	f.daemon.errs[aria2.MethodPause] = errpkg.Unreachable(errors.New("connection refused"))

	err := f.dispatcher.Pause(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errpkg.ErrUnreachable))

	d, _ := f.registry.Get("a")
	assert.Equal(t, domain.PhaseActive, d.Phase)
}

func TestDispatcher_PauseUnknownDownload(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	err := f.dispatcher.Pause(context.Background(), "nope")
	assert.True(t, errors.Is(err, errpkg.ErrDownloadNotFound))
	assert.Empty(t, f.daemon.Calls())
}

func TestDispatcher_Resume(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "a", Phase: domain.PhasePaused})

	require.NoError(t, f.dispatcher.Resume(context.Background(), "a"))

	d, _ := f.registry.Get("a")
	assert.Equal(t, domain.PhaseWaiting, d.Phase)
	assert.Equal(t, []string{aria2.MethodUnpause}, f.daemon.Calls())
}

func TestDispatcher_PauseAllResumeAll(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(
		domain.Download{ID: "a", Phase: domain.PhaseActive},
		domain.Download{ID: "b", Phase: domain.PhaseWaiting},
		domain.Download{ID: "c", Phase: domain.PhaseCompleted},
	)

	require.NoError(t, f.dispatcher.PauseAll(context.Background()))
	assert.Len(t, f.registry.Tab(domain.TabQueue), 2)
	c, _ := f.registry.Get("c")
	assert.Equal(t, domain.PhaseCompleted, c.Phase)

	require.NoError(t, f.dispatcher.ResumeAll(context.Background()))
	for _, id := range []string{"a", "b"} {
		d, _ := f.registry.Get(id)
		assert.Equal(t, domain.PhaseWaiting, d.Phase, id)
	}
}

func TestDispatcher_RemoveActiveWithFiles(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	payload := filepath.Join(f.dir, "movie.mkv")
	require.NoError(t, os.WriteFile(payload, []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(payload+".aria2", []byte("ctl"), 0o644))
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive, Files: []string{payload}})

	require.NoError(t, f.dispatcher.Remove(context.Background(), "a", true))

	assert.Equal(t, []string{aria2.MethodForceRemove, aria2.MethodRemoveDownloadResult}, f.daemon.Calls())
	_, ok := f.registry.Get("a")
	assert.False(t, ok)
	assert.True(t, tombstoned(f.registry, "a"))
	assert.NoFileExists(t, payload)
	assert.NoFileExists(t, payload+".aria2")
}

func TestDispatcher_RemoveTorrentWithFiles(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	payload := filepath.Join(f.dir, "debian", "disc1.iso")
	control := filepath.Join(f.dir, "debian.aria2")
	require.NoError(t, os.MkdirAll(filepath.Dir(payload), 0o755))
	require.NoError(t, os.WriteFile(payload, []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(control, []byte("ctl"), 0o644))
	f.seed(domain.Download{
		ID:    "t",
		Name:  "debian",
		Kind:  domain.KindTorrent,
		Phase: domain.PhasePaused,
		Files: []string{payload},
	})

	require.NoError(t, f.dispatcher.Remove(context.Background(), "t", true))

	assert.NoFileExists(t, payload)
	assert.NoFileExists(t, control)
	assert.NoDirExists(t, filepath.Join(f.dir, "debian"))
}

func TestDispatcher_RemoveStoppedKeepsFiles(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	payload := filepath.Join(f.dir, "done.iso")
	require.NoError(t, os.WriteFile(payload, []byte("data"), 0o644))
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseCompleted, Files: []string{payload}})

	require.NoError(t, f.dispatcher.Remove(context.Background(), "a", false))

	assert.Equal(t, []string{aria2.MethodRemoveDownloadResult}, f.daemon.Calls())
	assert.FileExists(t, payload)
}

func TestDispatcher_RemoveFailureLeavesRegistry(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive})
	f.daemon.errs[aria2.MethodForceRemove] = &errpkg.RemoteError{Code: 1, Message: "GID a is not found"}

	err := f.dispatcher.Remove(context.Background(), "a", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GID a is not found")

	_, ok := f.registry.Get("a")
	assert.True(t, ok)
	assert.False(t, tombstoned(f.registry, "a"))
}

func TestDispatcher_RemoveSuppressesPendingOptimisticPause(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive})

	f.dispatcher.markRemoving("a")
	require.NoError(t, f.dispatcher.Pause(context.Background(), "a"))
	d, _ := f.registry.Get("a")
	assert.Equal(t, domain.PhaseActive, d.Phase)
	f.dispatcher.unmarkRemoving("a")

	require.NoError(t, f.dispatcher.Remove(context.Background(), "a", false))
	assert.False(t, f.dispatcher.isRemoving("a"))
}

func TestDispatcher_PurgeCompleted(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(
		domain.Download{ID: "done-1", Phase: domain.PhaseCompleted},
		domain.Download{ID: "done-2", Phase: domain.PhaseCompleted},
		domain.Download{ID: "failed", Phase: domain.PhaseError},
		domain.Download{ID: "running", Phase: domain.PhaseActive},
		domain.Download{ID: "queued", Phase: domain.PhaseWaiting},
	)
	f.daemon.purgeErr["done-2"] = &errpkg.RemoteError{Code: 1, Message: "could not remove"}

	n, err := f.dispatcher.PurgeCompleted(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "done-2")
	assert.Equal(t, 1, n)

	assert.True(t, tombstoned(f.registry, "done-1"))
	for _, id := range []string{"done-2", "failed", "running", "queued"} {
		_, ok := f.registry.Get(id)
		assert.True(t, ok, id)
	}
}

func TestDispatcher_PurgeNothing(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "running", Phase: domain.PhaseActive})

	n, err := f.dispatcher.PurgeCompleted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.daemon.Calls())
}

func TestDispatcher_Retry(t *testing.T) {
	f := newDispatcherFixture(t, nil, "new")
	f.seed(domain.Download{ID: "old", Phase: domain.PhaseError, Source: "https://example.com/a.bin"})

	gids, err := f.dispatcher.Retry(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, gids)
	assert.Equal(t, []string{aria2.MethodAddURI, aria2.MethodRemoveDownloadResult}, f.daemon.Calls())
	assert.True(t, tombstoned(f.registry, "old"))

	d, ok := f.registry.Get("new")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a.bin", d.Source)
}

func TestDispatcher_RetryRejectsActive(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive, Source: "https://example.com/a.bin"})

	_, err := f.dispatcher.Retry(context.Background(), "a")
	assert.Error(t, err)
	assert.Empty(t, f.daemon.Calls())
}

func TestDispatcher_Move(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(
		domain.Download{ID: "queued", Phase: domain.PhaseWaiting},
		domain.Download{ID: "running", Phase: domain.PhaseActive},
	)

	pos, err := f.dispatcher.Move(context.Background(), "queued", -1)
	require.NoError(t, err)
	assert.Equal(t, 3, pos)

	_, err = f.dispatcher.Move(context.Background(), "running", 1)
	assert.Error(t, err)
	assert.Equal(t, []string{aria2.MethodChangePosition}, f.daemon.Calls())
}

func TestDispatcher_SpeedLimits(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	require.NoError(t, f.dispatcher.SetSpeedLimits(context.Background(), "5M", "unlimited"))
	assert.Equal(t, "5000000", f.daemon.options[aria2.OptionMaxDownloadLimit])
	assert.Equal(t, "0", f.daemon.options[aria2.OptionMaxUploadLimit])

	down, up, err := f.dispatcher.SpeedLimits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000000), down)
	assert.Zero(t, up)

	err = f.dispatcher.SetSpeedLimits(context.Background(), "fast", "")
	assert.Error(t, err)
}

func TestParseSpeedLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"unlimited", 0},
		{"0", 0},
		{"1048576", 1048576},
		{"500k", 500000},
		{"1MiB/s", 1 << 20},
		{" 2M ", 2000000},
	}
	for _, tt := range tests {
		got, err := ParseSpeedLimit(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSpeedLimit("lots")
	assert.Error(t, err)
}

func TestDispatcher_FailsFastWhenDisconnected(t *testing.T) {
	gate := &fakeGate{down: true}
	f := newDispatcherFixture(t, gate)
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive})

	err := f.dispatcher.Pause(context.Background(), "a")
	assert.True(t, errors.Is(err, errpkg.ErrDisconnected))

	_, err = f.dispatcher.Add(context.Background(), "https://example.com/x")
	assert.True(t, errors.Is(err, errpkg.ErrDisconnected))
	assert.Empty(t, f.daemon.Calls())
}

func TestDispatcher_SerializesCommands(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.seed(domain.Download{ID: "a", Phase: domain.PhaseActive})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.dispatcher.Pause(context.Background(), "a")
		}()
	}
	wg.Wait()
	assert.Len(t, f.daemon.Calls(), 10)
}

func TestDispatcher_AfterShutdown(t *testing.T) {
	d := NewDispatcher(newFakeDaemon(), storage.NewRegistry(), storage.NewFileStorage(t.TempDir()), nil, nil,
		DispatcherConfig{QueueSize: 0, HistorySize: 60}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	cancel()
	<-done

	callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
	defer callCancel()
	err := d.PauseAll(callCtx)
	assert.True(t, errors.Is(err, errpkg.ErrShuttingDown))
}
