// Package app wires the daemon supervisor, reconciler and dispatcher around
// one registry and runs them in the background execution context.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apihttp "github.com/veranemoloko/tui-downloader/internal/api/http"
	"github.com/veranemoloko/tui-downloader/internal/aria2"
	"github.com/veranemoloko/tui-downloader/internal/config"
	"github.com/veranemoloko/tui-downloader/internal/daemon"
	"github.com/veranemoloko/tui-downloader/internal/domain"
	"github.com/veranemoloko/tui-downloader/internal/rpc"
	"github.com/veranemoloko/tui-downloader/internal/service"
	"github.com/veranemoloko/tui-downloader/internal/storage"
	"github.com/veranemoloko/tui-downloader/internal/worker"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	transport  rpc.Transport
	client     *aria2.Client
	registry   *storage.Registry
	supervisor *daemon.Supervisor
	reconciler *service.Reconciler
	dispatcher *service.Dispatcher
	server     *http.Server
	runner     *worker.Runner
}

func New(cfg *config.Config, launcher daemon.Launcher, logger *slog.Logger) *App {
	var transport rpc.Transport
	if cfg.RPCTransport == config.TransportWebSocket {
		transport = rpc.NewWSClient(cfg.RPCURL(), cfg.RPCTimeout, logger.With("component", "rpc"))
	} else {
		transport = rpc.NewHTTPClient(cfg.RPCURL(), cfg.RPCTimeout, logger.With("component", "rpc"))
	}
	client := aria2.NewClient(transport, cfg.RPCSecret)

	probe := func(ctx context.Context) error {
		_, err := client.GetVersion(ctx)
		return err
	}
	opts := daemon.OptionsFromConfig(cfg)
	opts.Shutdown = client.Shutdown
	supervisor := daemon.NewSupervisor(probe, launcher, opts, logger.With("component", "supervisor"))

	registry := storage.NewRegistry()
	reconciler := service.NewReconciler(client, registry, service.NewThroughputTracker(cfg.HistorySize), supervisor,
		service.ReconcilerConfig{
			Interval:         cfg.PollInterval,
			StaleGrace:       cfg.StaleGrace,
			FailureThreshold: cfg.FailureThreshold,
			PageSize:         cfg.ListPageSize,
		}, logger.With("component", "reconciler"))

	dispatcher := service.NewDispatcher(client, registry, storage.NewFileStorage(cfg.DownloadDir), supervisor, reconciler,
		service.DispatcherConfig{
			QueueSize:   cfg.CommandQueueSize,
			HistorySize: cfg.HistorySize,
		}, logger.With("component", "dispatcher"))

	a := &App{
		cfg:        cfg,
		logger:     logger,
		transport:  transport,
		client:     client,
		registry:   registry,
		supervisor: supervisor,
		reconciler: reconciler,
		dispatcher: dispatcher,
	}

	if cfg.StatusAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           apihttp.NewRouter(registry, dispatcher, a.Health, logger.With("component", "status")),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a
}

// Start brings the daemon up and launches the background loops.
func (a *App) Start(ctx context.Context) error {
	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if v, err := a.client.GetVersion(ctx); err == nil {
		a.logger.Info("connected to daemon",
			"version", v.Version,
			"owned", a.supervisor.Owned(),
			"transport", a.cfg.RPCTransport,
		)
	}

	tasks := []worker.Task{
		{Name: "reconciler", Run: a.reconciler.Run},
		{Name: "dispatcher", Run: a.dispatcher.Run},
	}
	if n, ok := a.transport.(rpc.Notifier); ok {
		tasks = append(tasks, worker.Task{Name: "notifications", Run: a.forwardNotifications(n)})
	}
	if a.server != nil {
		tasks = append(tasks, worker.Task{Name: "status", Run: a.serveStatus})
	}

	a.runner = worker.Start(ctx, a.logger, tasks...)
	return nil
}

// forwardNotifications turns daemon push events into immediate polls.
func (a *App) forwardNotifications(n rpc.Notifier) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		events := n.Notifications()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				a.logger.Debug("daemon event", "event", ev.Method, "gid", ev.GID)
				a.reconciler.Trigger()
			}
		}
	}
}

func (a *App) serveStatus(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status endpoint starting", "address", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status endpoint: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("status endpoint shutdown failed", "error", err)
		return err
	}
	a.logger.Info("status endpoint stopped")
	return nil
}

// Shutdown stops the loops, then the daemon if it is ours, then the transport.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.supervisor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop daemon: %w", err))
	}
	if c, ok := a.transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Done is closed when the background loops exit on their own.
func (a *App) Done() <-chan struct{} {
	if a.runner == nil {
		return nil
	}
	return a.runner.Done()
}

func (a *App) Health() domain.HealthResponse {
	status := "ok"
	if !a.supervisor.Connected() {
		status = "degraded"
	}
	return domain.HealthResponse{
		Status:       status,
		Daemon:       a.supervisor.State().String(),
		Owned:        a.supervisor.Owned(),
		Downloads:    a.registry.Len(),
		PollFailures: a.reconciler.ConsecutiveFailures(),
		CheckedAt:    time.Now(),
	}
}

func (a *App) Registry() *storage.Registry {
	return a.registry
}

func (a *App) Dispatcher() *service.Dispatcher {
	return a.dispatcher
}

func (a *App) Config() *config.Config {
	return a.cfg
}
