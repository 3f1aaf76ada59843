// Package daemon owns the aria2 process: it finds or launches it, waits for
// its control port, and restarts it when polling reports it gone.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/metrics"
)

// State is the supervisor's view of the daemon.
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateUnreachable
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// ProbeFunc performs a lightweight call against the control port.
type ProbeFunc func(ctx context.Context) error

// ShutdownFunc asks the daemon to exit over the control port.
type ShutdownFunc func(ctx context.Context) error

type Options struct {
	Binary            string
	Args              []string
	StartupTimeout    time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	ReconnectInterval time.Duration
	RestartAttempts   int
	StopTimeout       time.Duration
	StopOnExit        bool
	// Shutdown, when set, is tried before signalling an owned daemon.
	Shutdown ShutdownFunc
}

type Supervisor struct {
	probe    ProbeFunc
	launcher Launcher
	opts     Options
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu           sync.Mutex
	state        State
	owned        bool
	proc         Process
	restartsLeft int
}

func NewSupervisor(probe ProbeFunc, launcher Launcher, opts Options, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		probe:    probe,
		launcher: launcher,
		opts:     opts,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
	}
}

// Start makes sure a daemon answers on the control port, launching one when
// nothing is listening yet.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateStarting)

	err := s.probe(ctx)
	if err == nil {
		s.mu.Lock()
		s.owned = false
		s.state = StateReady
		s.mu.Unlock()
		s.logger.Info("using already running daemon")
		return nil
	}
	if !errors.Is(err, errpkg.ErrUnreachable) {
		s.setState(StateUnreachable)
		return fmt.Errorf("daemon on the control port rejected the probe: %w", err)
	}

	if err := s.spawn(ctx); err != nil {
		s.setState(StateUnreachable)
		return err
	}

	s.mu.Lock()
	s.restartsLeft = s.opts.RestartAttempts
	s.state = StateReady
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) spawn(ctx context.Context) error {
	proc, err := s.launcher.Launch(s.opts.Binary, s.opts.Args)
	if err != nil {
		if !errors.Is(err, errpkg.ErrProcessSpawnFailed) {
			err = fmt.Errorf("%w: %v", errpkg.ErrProcessSpawnFailed, err)
		}
		s.logger.Error("failed to launch daemon", "binary", s.opts.Binary, "error", err)
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.owned = true
	s.mu.Unlock()
	s.logger.Info("daemon launched", "binary", s.opts.Binary, "pid", proc.Pid())
	go s.watch(proc)

	if err := s.waitReachable(ctx, proc); err != nil {
		s.logger.Error("daemon did not come up", "pid", proc.Pid(), "error", err)
		s.terminate(proc)
		return err
	}
	s.logger.Info("daemon reachable", "pid", proc.Pid())
	return nil
}

func (s *Supervisor) waitReachable(ctx context.Context, proc Process) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BackoffInitial
	b.MaxInterval = s.opts.BackoffMax
	b.MaxElapsedTime = s.opts.StartupTimeout

	attempt := 0
	op := func() error {
		attempt++
		select {
		case <-proc.Done():
			return backoff.Permanent(fmt.Errorf("%w: daemon exited during startup", errpkg.ErrProcessSpawnFailed))
		default:
		}

		err := s.probe(ctx)
		if err != nil && !errors.Is(err, errpkg.ErrUnreachable) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Debug("daemon not reachable yet", "attempt", attempt, "error", err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errpkg.ErrUnreachable):
		return fmt.Errorf("%w after %s: %v", errpkg.ErrStartupTimeout, s.opts.StartupTimeout, err)
	}
	return err
}

func (s *Supervisor) watch(proc Process) {
	<-proc.Done()

	var err error
	if e, ok := proc.(interface{ ExitErr() error }); ok {
		err = e.ExitErr()
	}
	s.logger.Info("daemon process exited", "pid", proc.Pid(), "error", err)
}

// PollAllowed throttles polling to the reconnect interval while the daemon
// is persistently unreachable.
func (s *Supervisor) PollAllowed() bool {
	if s.State() != StateUnreachable {
		return true
	}
	return s.limiter.Allow()
}

// PollSucceeded marks the daemon ready and re-arms the restart budget.
func (s *Supervisor) PollSucceeded() {
	s.mu.Lock()
	prev := s.state
	s.state = StateReady
	if s.owned {
		s.restartsLeft = s.opts.RestartAttempts
	}
	s.mu.Unlock()

	if prev == StateUnreachable {
		s.logger.Info("daemon reachable again")
	}
}

// DaemonDown reacts to repeated unreachable polls: an owned daemon is
// restarted while the budget lasts, otherwise the state becomes unreachable.
func (s *Supervisor) DaemonDown(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateUnreachable || s.state == StateStarting {
		s.mu.Unlock()
		return
	}
	proc := s.proc
	restart := s.owned && s.restartsLeft > 0
	if restart {
		s.restartsLeft--
		s.state = StateStarting
	}
	s.mu.Unlock()

	if !restart {
		s.markUnreachable("daemon is unreachable, commands will fail until it returns")
		return
	}

	metrics.DaemonRestarts.Inc()
	s.logger.Warn("daemon stopped answering, restarting it")
	s.terminate(proc)

	if err := s.spawn(ctx); err != nil {
		s.markUnreachable("daemon restart failed")
		return
	}
	s.setState(StateReady)
}

func (s *Supervisor) markUnreachable(msg string) {
	s.setState(StateUnreachable)
	// the first retry waits a full reconnect interval
	s.limiter.Allow()
	s.logger.Error(msg, "reconnect_interval", s.opts.ReconnectInterval)
}

// Stop terminates the daemon if this process launched it. An external
// daemon is never signalled.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	owned, proc := s.owned, s.proc
	s.mu.Unlock()

	if !owned || proc == nil {
		s.logger.Info("leaving external daemon running")
		return nil
	}
	if !s.opts.StopOnExit {
		s.logger.Info("leaving daemon running", "pid", proc.Pid())
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.shutdown(ctx, proc)
		s.terminate(proc)
		close(done)
	}()

	select {
	case <-done:
		s.setState(StateUnstarted)
		s.logger.Info("daemon stopped", "pid", proc.Pid())
		return nil
	case <-ctx.Done():
		s.logger.Warn("daemon stop timed out", "pid", proc.Pid())
		return ctx.Err()
	}
}

// shutdown asks the daemon to exit on its own so it can save its session,
// waiting up to StopTimeout for the process to go away.
func (s *Supervisor) shutdown(ctx context.Context, proc Process) {
	if s.opts.Shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()

	if err := s.opts.Shutdown(ctx); err != nil {
		s.logger.Warn("daemon refused shutdown request, signalling it", "pid", proc.Pid(), "error", err)
		return
	}
	select {
	case <-proc.Done():
	case <-ctx.Done():
		s.logger.Warn("daemon accepted shutdown but is still running", "pid", proc.Pid())
	}
}

func (s *Supervisor) terminate(proc Process) {
	if proc == nil {
		return
	}
	select {
	case <-proc.Done():
		return
	default:
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to signal daemon", "pid", proc.Pid(), "error", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(s.opts.StopTimeout):
		s.logger.Warn("daemon ignored SIGTERM, killing it", "pid", proc.Pid())
		if err := proc.Kill(); err != nil {
			s.logger.Error("failed to kill daemon", "pid", proc.Pid(), "error", err)
			return
		}
		<-proc.Done()
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Owned reports whether the daemon was launched by this process.
func (s *Supervisor) Owned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned
}

// Connected reports whether commands may be sent.
func (s *Supervisor) Connected() bool {
	return s.State() == StateReady
}
