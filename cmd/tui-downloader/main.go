package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/veranemoloko/tui-downloader/internal/app"
	"github.com/veranemoloko/tui-downloader/internal/config"
	"github.com/veranemoloko/tui-downloader/internal/daemon"
	"github.com/veranemoloko/tui-downloader/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		downloadDir string
		binary      string
		port        int
		secret      string
		transport   string
		statusAddr  string
		logLevel    string
		keepDaemon  bool
	)

	flagSet := pflag.NewFlagSet("tui-downloader", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	flagSet.StringVarP(&downloadDir, "dir", "d", "", "download directory (default: ~/Downloads)")
	flagSet.StringVar(&binary, "daemon-binary", "", "aria2c executable to launch")
	flagSet.IntVarP(&port, "port", "p", 0, "daemon RPC port")
	flagSet.StringVar(&secret, "secret", "", "daemon RPC secret")
	flagSet.StringVar(&transport, "transport", "", "RPC transport: http or websocket")
	flagSet.StringVar(&statusAddr, "status-addr", "", "serve the status API on this address, e.g. 127.0.0.1:8090")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&keepDaemon, "keep-daemon", false, "leave a launched daemon running on exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	// Flags win over the environment and the config file, but only when set.
	overrides := func(cfg *config.Config) {
		if flagSet.Changed("dir") {
			cfg.DownloadDir = downloadDir
		}
		if flagSet.Changed("daemon-binary") {
			cfg.DaemonBinary = binary
		}
		if flagSet.Changed("port") {
			cfg.RPCPort = port
		}
		if flagSet.Changed("secret") {
			cfg.RPCSecret = secret
		}
		if flagSet.Changed("transport") {
			cfg.RPCTransport = transport
		}
		if flagSet.Changed("status-addr") {
			cfg.StatusAddr = statusAddr
		}
		if flagSet.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flagSet.Changed("keep-daemon") {
			cfg.StopDaemonOnExit = !keepDaemon
		}
	}

	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return err
	}

	// The terminal belongs to the interface, so logs go to a file.
	logFile, err := config.OpenLogFile(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	logger := config.SetupLogger(cfg, logFile)
	logger.Info("configuration loaded", "download_dir", cfg.DownloadDir, "rpc", cfg.RPCURL())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, daemon.ExecLauncher{}, logger)
	if err := application.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}

	model := tui.NewModel(application.Registry(), application.Dispatcher(), application.Health).
		WithCommandTimeout(cfg.RPCTimeout * 3)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		select {
		case <-application.Done():
			logger.Error("background loops stopped unexpectedly")
			program.Quit()
		case <-ctx.Done():
		}
	}()

	_, runErr := program.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		logger.Info("shutdown signal received")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return errors.Join(runErr, err)
	}
	logger.Info("stopped gracefully")
	return runErr
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tui-downloader: terminal download manager driving an aria2 daemon.

Launches aria2c with RPC enabled (or attaches to one already listening on
the configured port) and shows downloads grouped into Active, Queue and
Completed tabs. Settings come from TDL_* environment variables, an optional
.env file, an optional YAML file given with --config, then flags.

Usage:
  tui-downloader [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
