package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/veranemoloko/tui-downloader/internal/aria2"
	"github.com/veranemoloko/tui-downloader/internal/domain"
	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/metrics"
	"github.com/veranemoloko/tui-downloader/internal/storage"
	"github.com/veranemoloko/tui-downloader/internal/validation"
)

// Daemon is the subset of the aria2 client the dispatcher drives.
type Daemon interface {
	AddURI(ctx context.Context, uris []string) (string, error)
	AddTorrent(ctx context.Context, torrent []byte) (string, error)
	AddMetalink(ctx context.Context, metalink []byte) ([]string, error)
	Pause(ctx context.Context, gid string) error
	Unpause(ctx context.Context, gid string) error
	PauseAll(ctx context.Context) error
	UnpauseAll(ctx context.Context) error
	ForceRemove(ctx context.Context, gid string) error
	RemoveDownloadResult(ctx context.Context, gid string) error
	RemoveDownloadResults(ctx context.Context, gids []string) []error
	GetGlobalOption(ctx context.Context) (map[string]string, error)
	ChangeGlobalOption(ctx context.Context, opts map[string]string) error
	ChangePosition(ctx context.Context, gid string, delta int) (int, error)
}

// Files reads torrent/metalink inputs and deletes finished payloads.
type Files interface {
	ReadSource(path string) ([]byte, error)
	RemoveDownload(d domain.Download) ([]string, error)
}

// Gate reports whether the daemon is currently usable.
type Gate interface {
	Connected() bool
}

// Refresher requests an early reconciliation cycle.
type Refresher interface {
	Trigger()
}

type DispatcherConfig struct {
	QueueSize   int
	HistorySize int
}

type command struct {
	name string
	id   string
	run  func(ctx context.Context) error
	done chan error
}

// Dispatcher applies user commands one at a time, in submission order.
// Callers block until their command has run.
type Dispatcher struct {
	daemon    Daemon
	registry  *storage.Registry
	files     Files
	gate      Gate
	refresher Refresher
	cfg       DispatcherConfig
	logger    *slog.Logger
	now       func() time.Time

	queue   chan command
	stopped chan struct{}

	mu       sync.Mutex
	removing map[string]int
}

func NewDispatcher(
	daemon Daemon,
	registry *storage.Registry,
	files Files,
	gate Gate,
	refresher Refresher,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		daemon:    daemon,
		registry:  registry,
		files:     files,
		gate:      gate,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan command, cfg.QueueSize),
		stopped:   make(chan struct{}),
		removing:  make(map[string]int),
	}
}

// Run executes queued commands until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)
	d.logger.Info("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case cmd := <-d.queue:
			cmd.done <- d.execute(ctx, cmd)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd command) error {
	start := time.Now()
	err := cmd.run(ctx)
	metrics.Commands.WithLabelValues(cmd.name, metrics.Outcome(err)).Inc()

	if err != nil {
		d.logger.Warn("command failed",
			"command", cmd.name,
			"gid", cmd.id,
			"error", err,
		)
		return err
	}
	d.logger.Info("command applied",
		"command", cmd.name,
		"gid", cmd.id,
		"duration", time.Since(start),
	)
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, name, id string, fn func(ctx context.Context) error) error {
	if d.gate != nil && !d.gate.Connected() {
		metrics.Commands.WithLabelValues(name, "error").Inc()
		return errpkg.ErrDisconnected
	}

	cmd := command{name: name, id: id, run: fn, done: make(chan error, 1)}
	select {
	case d.queue <- cmd:
	case <-d.stopped:
		return errpkg.ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-d.stopped:
		select {
		case err := <-cmd.done:
			return err
		default:
			return errpkg.ErrShuttingDown
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type preparedSource struct {
	validation.Source
	payload []byte
}

// prepare classifies and, for local files, loads and checks the source.
// It never talks to the daemon.
func (d *Dispatcher) prepare(raw string) (preparedSource, error) {
	src, err := validation.Classify(raw)
	if err != nil {
		return preparedSource{}, err
	}
	p := preparedSource{Source: src}

	switch src.Form {
	case validation.FormTorrentFile:
		data, err := d.files.ReadSource(src.Raw)
		if err != nil {
			return preparedSource{}, fmt.Errorf("%w: %v", errpkg.ErrInvalidSource, err)
		}
		name, err := validation.InspectTorrent(data)
		if err != nil {
			return preparedSource{}, err
		}
		if name != "" {
			p.Name = name
		}
		p.payload = data
	case validation.FormMetalinkFile:
		data, err := d.files.ReadSource(src.Raw)
		if err != nil {
			return preparedSource{}, fmt.Errorf("%w: %v", errpkg.ErrInvalidSource, err)
		}
		if err := validation.InspectMetalink(data); err != nil {
			return preparedSource{}, err
		}
		p.payload = data
	}
	return p, nil
}

func (d *Dispatcher) addPrepared(ctx context.Context, p preparedSource) ([]string, error) {
	var gids []string
	switch p.Form {
	case validation.FormTorrentFile:
		gid, err := d.daemon.AddTorrent(ctx, p.payload)
		if err != nil {
			return nil, err
		}
		gids = []string{gid}
	case validation.FormMetalinkFile:
		added, err := d.daemon.AddMetalink(ctx, p.payload)
		if err != nil {
			return nil, err
		}
		gids = added
	default:
		gid, err := d.daemon.AddURI(ctx, []string{p.Raw})
		if err != nil {
			return nil, err
		}
		gids = []string{gid}
	}

	now := d.now()
	d.registry.Update(func(tx *storage.Tx) {
		seq := tx.PollSeq()
		for i, gid := range gids {
			if _, ok := tx.Get(gid); ok {
				continue
			}
			tx.Put(&domain.Download{
				ID:           gid,
				Source:       p.Raw,
				Name:         p.Name,
				Kind:         p.Kind,
				Phase:        domain.PhaseWaiting,
				History:      domain.NewSpeedHistory(d.cfg.HistorySize),
				AddedAt:      now,
				LastSeen:     now,
				PhaseOrigin:  domain.OriginOptimistic,
				PhaseVersion: seq,
				Position:     math.MaxInt32 + i,
			})
		}
	})
	return gids, nil
}

// Add classifies source and hands it to the daemon. A metalink may yield
// several downloads. Invalid sources are rejected without any daemon call.
func (d *Dispatcher) Add(ctx context.Context, source string) ([]string, error) {
	p, err := d.prepare(source)
	if err != nil {
		metrics.Commands.WithLabelValues("add", "error").Inc()
		return nil, err
	}

	var gids []string
	err = d.submit(ctx, "add", "", func(ctx context.Context) error {
		added, err := d.addPrepared(ctx, p)
		if err != nil {
			return err
		}
		gids = added
		d.logger.Info("download added",
			"gids", added,
			"form", p.Form,
			"name", p.Name,
		)
		return nil
	})
	return gids, err
}

func (d *Dispatcher) Pause(ctx context.Context, id string) error {
	return d.submit(ctx, "pause", id, func(ctx context.Context) error {
		if _, ok := d.registry.Get(id); !ok {
			return fmt.Errorf("%w: %s", errpkg.ErrDownloadNotFound, id)
		}
		if err := d.daemon.Pause(ctx, id); err != nil {
			return err
		}
		d.setOptimistic(domain.PhasePaused, id)
		return nil
	})
}

func (d *Dispatcher) Resume(ctx context.Context, id string) error {
	return d.submit(ctx, "resume", id, func(ctx context.Context) error {
		if _, ok := d.registry.Get(id); !ok {
			return fmt.Errorf("%w: %s", errpkg.ErrDownloadNotFound, id)
		}
		if err := d.daemon.Unpause(ctx, id); err != nil {
			return err
		}
		d.setOptimistic(domain.PhaseWaiting, id)
		return nil
	})
}

func (d *Dispatcher) PauseAll(ctx context.Context) error {
	return d.submit(ctx, "pause_all", "", func(ctx context.Context) error {
		if err := d.daemon.PauseAll(ctx); err != nil {
			return err
		}
		d.setOptimistic(domain.PhasePaused, d.idsIn(domain.PhaseActive, domain.PhaseWaiting)...)
		return nil
	})
}

func (d *Dispatcher) ResumeAll(ctx context.Context) error {
	return d.submit(ctx, "resume_all", "", func(ctx context.Context) error {
		if err := d.daemon.UnpauseAll(ctx); err != nil {
			return err
		}
		d.setOptimistic(domain.PhaseWaiting, d.idsIn(domain.PhasePaused)...)
		return nil
	})
}

func (d *Dispatcher) idsIn(phases ...domain.Phase) []string {
	var ids []string
	for _, dl := range d.registry.Snapshot() {
		for _, p := range phases {
			if dl.Phase == p {
				ids = append(ids, dl.ID)
				break
			}
		}
	}
	return ids
}

// setOptimistic flips the cached phase ahead of the next poll. Downloads with
// a pending removal are left alone.
func (d *Dispatcher) setOptimistic(phase domain.Phase, ids ...string) {
	d.registry.Update(func(tx *storage.Tx) {
		seq := tx.PollSeq()
		for _, id := range ids {
			if d.isRemoving(id) {
				continue
			}
			dl, ok := tx.Get(id)
			if !ok {
				continue
			}
			dl.Phase = phase
			dl.PhaseOrigin = domain.OriginOptimistic
			dl.PhaseVersion = seq
			if phase != domain.PhaseActive {
				dl.DownloadSpeed = 0
				dl.UploadSpeed = 0
				dl.History.Reset()
			}
		}
	})
}

func (d *Dispatcher) markRemoving(id string) {
	d.mu.Lock()
	d.removing[id]++
	d.mu.Unlock()
}

func (d *Dispatcher) unmarkRemoving(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removing[id]--; d.removing[id] <= 0 {
		delete(d.removing, id)
	}
}

func (d *Dispatcher) isRemoving(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removing[id] > 0
}

// Remove stops a download, drops its daemon record and forgets it. With
// deleteFiles the payload and its control file are deleted as well.
func (d *Dispatcher) Remove(ctx context.Context, id string, deleteFiles bool) error {
	d.markRemoving(id)
	defer d.unmarkRemoving(id)

	return d.submit(ctx, "remove", id, func(ctx context.Context) error {
		cur, ok := d.registry.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", errpkg.ErrDownloadNotFound, id)
		}

		if cur.Phase.Stopped() {
			if err := d.daemon.RemoveDownloadResult(ctx, id); err != nil {
				return err
			}
		} else {
			if err := d.daemon.ForceRemove(ctx, id); err != nil {
				return err
			}
			if err := d.daemon.RemoveDownloadResult(ctx, id); err != nil {
				d.logger.Warn("failed to drop download result after removal",
					"gid", id,
					"error", err,
				)
			}
		}

		d.registry.Update(func(tx *storage.Tx) {
			tx.Tombstone(id)
		})

		if !deleteFiles {
			return nil
		}
		removed, err := d.files.RemoveDownload(cur)
		d.logger.Info("download files deleted",
			"gid", id,
			"files", len(removed),
		)
		if err != nil {
			return fmt.Errorf("download removed but files were not deleted: %w", err)
		}
		return nil
	})
}

// PurgeCompleted drops every completed download from the daemon and the
// registry and returns how many were purged.
func (d *Dispatcher) PurgeCompleted(ctx context.Context) (int, error) {
	var purged int
	err := d.submit(ctx, "purge", "", func(ctx context.Context) error {
		ids := d.idsIn(domain.PhaseCompleted)
		if len(ids) == 0 {
			return nil
		}

		var (
			done   []string
			failed []error
		)
		for i, err := range d.daemon.RemoveDownloadResults(ctx, ids) {
			if err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", ids[i], err))
				continue
			}
			done = append(done, ids[i])
		}

		if len(done) > 0 {
			d.registry.Update(func(tx *storage.Tx) {
				for _, id := range done {
					tx.Tombstone(id)
				}
			})
		}
		purged = len(done)
		return errors.Join(failed...)
	})
	return purged, err
}

// Retry re-adds the source of a failed or removed download and drops the
// old record.
func (d *Dispatcher) Retry(ctx context.Context, id string) ([]string, error) {
	cur, ok := d.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errpkg.ErrDownloadNotFound, id)
	}
	if cur.Phase != domain.PhaseError && cur.Phase != domain.PhaseRemoved {
		return nil, fmt.Errorf("only failed or removed downloads can be retried, %s is %s", id, cur.Phase)
	}
	p, err := d.prepare(cur.Source)
	if err != nil {
		return nil, err
	}

	var gids []string
	err = d.submit(ctx, "retry", id, func(ctx context.Context) error {
		added, err := d.addPrepared(ctx, p)
		if err != nil {
			return err
		}
		gids = added

		if err := d.daemon.RemoveDownloadResult(ctx, id); err != nil {
			d.logger.Warn("failed to drop result of retried download",
				"gid", id,
				"error", err,
			)
		}
		d.registry.Update(func(tx *storage.Tx) {
			tx.Tombstone(id)
		})
		d.refresh()
		return nil
	})
	return gids, err
}

// Move shifts a queued download by delta slots and returns its new position.
func (d *Dispatcher) Move(ctx context.Context, id string, delta int) (int, error) {
	var pos int
	err := d.submit(ctx, "move", id, func(ctx context.Context) error {
		cur, ok := d.registry.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", errpkg.ErrDownloadNotFound, id)
		}
		if cur.Phase.Tab() != domain.TabQueue {
			return fmt.Errorf("only queued downloads can be moved, %s is %s", id, cur.Phase)
		}
		moved, err := d.daemon.ChangePosition(ctx, id, delta)
		if err != nil {
			return err
		}
		pos = moved
		d.refresh()
		return nil
	})
	return pos, err
}

// SpeedLimits returns the global download and upload limits in bytes per
// second. Zero means unlimited.
func (d *Dispatcher) SpeedLimits(ctx context.Context) (down, up int64, err error) {
	err = d.submit(ctx, "speed_limits", "", func(ctx context.Context) error {
		opts, err := d.daemon.GetGlobalOption(ctx)
		if err != nil {
			return err
		}
		if down, err = ParseSpeedLimit(opts[aria2.OptionMaxDownloadLimit]); err != nil {
			return errpkg.Protocol("%s: %v", aria2.OptionMaxDownloadLimit, err)
		}
		if up, err = ParseSpeedLimit(opts[aria2.OptionMaxUploadLimit]); err != nil {
			return errpkg.Protocol("%s: %v", aria2.OptionMaxUploadLimit, err)
		}
		return nil
	})
	return down, up, err
}

// SetSpeedLimits accepts human sizes such as "5M", "500KiB/s" or "unlimited".
func (d *Dispatcher) SetSpeedLimits(ctx context.Context, down, up string) error {
	downBytes, err := ParseSpeedLimit(down)
	if err != nil {
		return err
	}
	upBytes, err := ParseSpeedLimit(up)
	if err != nil {
		return err
	}

	return d.submit(ctx, "set_speed_limits", "", func(ctx context.Context) error {
		return d.daemon.ChangeGlobalOption(ctx, map[string]string{
			aria2.OptionMaxDownloadLimit: strconv.FormatInt(downBytes, 10),
			aria2.OptionMaxUploadLimit:   strconv.FormatInt(upBytes, 10),
		})
	})
}

// ParseSpeedLimit converts a human rate to bytes per second.
func ParseSpeedLimit(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "/s")
	switch s {
	case "", "0", "unlimited", "none":
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid speed limit %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("speed limit %q is too large", s)
	}
	return int64(n), nil
}

func (d *Dispatcher) refresh() {
	if d.refresher != nil {
		d.refresher.Trigger()
	}
}
