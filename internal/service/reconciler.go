package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/veranemoloko/tui-downloader/internal/aria2"
	"github.com/veranemoloko/tui-downloader/internal/domain"
	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/metrics"
	"github.com/veranemoloko/tui-downloader/internal/storage"
)

// Lister fetches the daemon's three status lists in one round trip.
type Lister interface {
	ListAll(ctx context.Context, pageSize int) (aria2.Listing, error)
}

// DaemonMonitor receives the outcome of polling cycles.
type DaemonMonitor interface {
	// PollAllowed throttles polling while the daemon is considered gone.
	PollAllowed() bool
	PollSucceeded()
	// DaemonDown is called once per failed cycle after the unreachable
	// streak reaches the failure threshold.
	DaemonDown(ctx context.Context)
	// Connected reports whether the daemon is usable, e.g. after a restart.
	Connected() bool
}

type ReconcilerConfig struct {
	Interval         time.Duration
	StaleGrace       int
	FailureThreshold int
	PageSize         int
}

// Reconciler polls the daemon on a fixed interval and merges the reported
// state into the registry.
type Reconciler struct {
	lister   Lister
	registry *storage.Registry
	tracker  *ThroughputTracker
	monitor  DaemonMonitor
	cfg      ReconcilerConfig
	logger   *slog.Logger
	now      func() time.Time
	kick     chan struct{}

	failures    atomic.Int64
	unreachable int
}

func NewReconciler(
	lister Lister,
	registry *storage.Registry,
	tracker *ThroughputTracker,
	monitor DaemonMonitor,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		lister:   lister,
		registry: registry,
		tracker:  tracker,
		monitor:  monitor,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Trigger asks the loop for an immediate cycle. Requests coalesce.
func (r *Reconciler) Trigger() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", "interval", r.cfg.Interval)

	r.cycle(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			r.cycle(ctx)
		case <-r.kick:
			r.cycle(ctx)
		}
	}
}

func (r *Reconciler) cycle(ctx context.Context) {
	if !r.monitor.PollAllowed() {
		return
	}

	err := r.Reconcile(ctx)
	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil:
		r.unreachable = 0
		r.monitor.PollSucceeded()
	case errors.Is(err, errpkg.ErrUnreachable):
		r.unreachable++
		if r.unreachable >= r.cfg.FailureThreshold {
			r.monitor.DaemonDown(ctx)
			// a restarted daemon gets a fresh streak
			if r.monitor.Connected() {
				r.unreachable = 0
			}
		}
	default:
		r.unreachable = 0
	}
}

// ConsecutiveFailures reports how many cycles in a row have failed.
// Safe to call from any goroutine.
func (r *Reconciler) ConsecutiveFailures() int {
	return int(r.failures.Load())
}

// Reconcile runs one polling cycle. A failed cycle leaves the registry untouched.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	metrics.PollsTotal.Inc()
	start := time.Now()

	seq := r.registry.BeginPoll()
	listing, err := r.lister.ListAll(ctx, r.cfg.PageSize)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures := r.failures.Add(1)
		metrics.PollFailures.Inc()
		r.logger.Warn("reconciliation failed",
			"error", err,
			"consecutive_failures", failures,
		)
		return fmt.Errorf("reconcile: %w", err)
	}

	if failures := r.failures.Swap(0); failures > 0 {
		r.logger.Info("reconciliation recovered", "after_failures", failures)
	}

	r.merge(listing.Records(), seq, r.now())
	return nil
}

func (r *Reconciler) merge(records []aria2.Record, seq uint64, at time.Time) {
	r.registry.Update(func(tx *storage.Tx) {
		seen := make(map[string]struct{}, len(records))
		positions := map[aria2.List]int{}

		for _, rec := range records {
			pos := positions[rec.List]
			positions[rec.List]++

			if rec.GID == "" || tx.Removed(rec.GID) {
				continue
			}
			seen[rec.GID] = struct{}{}

			d, known := tx.Get(rec.GID)
			if !known {
				d = &domain.Download{ID: rec.GID, AddedAt: at}
			}
			prev := d.Phase

			applyRecord(d, rec)
			d.Position = pos

			if d.PhaseOrigin == domain.OriginOptimistic && seq <= d.PhaseVersion {
				r.logger.Debug("keeping optimistic phase over older poll",
					"gid", d.ID,
					"phase", d.Phase,
					"reported", phaseOf(rec),
				)
			} else {
				d.Phase = phaseOf(rec)
				d.PhaseOrigin = domain.OriginReconciled
				d.PhaseVersion = seq
			}

			if d.Phase == domain.PhaseError {
				d.ErrorCode = rec.ErrorCode
				d.ErrorMessage = rec.ErrorMessage
				if d.ErrorMessage == "" {
					d.ErrorMessage = "download failed with code " + rec.ErrorCode
				}
			} else {
				d.ErrorCode = ""
				d.ErrorMessage = ""
			}

			d.Missed = 0
			d.LastSeen = at
			r.tracker.Observe(d, at)

			if !known {
				tx.Put(d)
				r.logger.Debug("download discovered", "gid", d.ID, "phase", d.Phase)
			} else if prev != d.Phase {
				r.logger.Debug("download phase changed", "gid", d.ID, "from", prev, "to", d.Phase)
			}
		}

		for _, id := range tx.IDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			d, _ := tx.Get(id)
			if d.PhaseOrigin == domain.OriginOptimistic && seq <= d.PhaseVersion {
				continue
			}
			d.Missed++
			if d.Missed >= r.cfg.StaleGrace {
				tx.Delete(id)
				r.logger.Debug("download retired", "gid", id, "missed_polls", d.Missed)
			}
		}

		recordPhaseGauge(tx)
	})
}

// phaseOf maps a status record to a phase. Paused downloads share the
// waiting list and are told apart by their status flag.
func phaseOf(rec aria2.Record) domain.Phase {
	switch rec.List {
	case aria2.ListActive:
		return domain.PhaseActive
	case aria2.ListWaiting:
		if rec.Status.Status == aria2.StatusPaused {
			return domain.PhasePaused
		}
		return domain.PhaseWaiting
	}

	total := aria2.Int(rec.TotalLength)
	completed := aria2.Int(rec.CompletedLength)
	switch {
	case rec.Status.Status == aria2.StatusComplete, total > 0 && completed >= total:
		return domain.PhaseCompleted
	case rec.HasError():
		return domain.PhaseError
	}
	return domain.PhaseRemoved
}

func applyRecord(d *domain.Download, rec aria2.Record) {
	total := aria2.Int(rec.TotalLength)
	completed := aria2.Int(rec.CompletedLength)
	if total > 0 && completed > total {
		completed = total
	}

	d.TotalBytes = total
	d.CompletedBytes = completed
	d.DownloadSpeed = aria2.Int(rec.DownloadSpeed)
	d.UploadSpeed = aria2.Int(rec.UploadSpeed)
	d.Connections = int(aria2.Int(rec.Connections))
	d.Seeders = int(aria2.Int(rec.NumSeeders))
	d.NumPieces = int(aria2.Int(rec.NumPieces))
	d.Dir = rec.Dir
	d.Files = rec.Paths()

	if name := rec.Name(); name != "" {
		d.Name = name
	} else if d.Name == "" {
		d.Name = d.ID
	}
	if d.Source == "" {
		d.Source = rec.Source()
	}
	switch {
	case rec.BitTorrent != nil:
		d.Kind = domain.KindTorrent
	case d.Kind == "":
		d.Kind = domain.KindHTTP
	}
}

var allPhases = []domain.Phase{
	domain.PhaseActive, domain.PhaseWaiting, domain.PhasePaused,
	domain.PhaseCompleted, domain.PhaseError, domain.PhaseRemoved,
}

func recordPhaseGauge(tx *storage.Tx) {
	counts := make(map[domain.Phase]int, len(allPhases))
	for _, id := range tx.IDs() {
		d, _ := tx.Get(id)
		counts[d.Phase]++
	}
	for _, p := range allPhases {
		metrics.Downloads.WithLabelValues(string(p)).Set(float64(counts[p]))
	}
}
