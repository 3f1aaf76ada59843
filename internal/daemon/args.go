package daemon

import (
	"strconv"

	"github.com/veranemoloko/tui-downloader/internal/config"
)

// Args builds the aria2c command line. Everything the daemon needs is fixed
// at launch; nothing is configured over RPC afterwards.
func Args(cfg *config.Config) []string {
	return []string{
		"--enable-rpc",
		"--rpc-listen-all=false",
		"--rpc-listen-port=" + strconv.Itoa(cfg.RPCPort),
		"--rpc-secret=" + cfg.RPCSecret,
		"--dir=" + cfg.DownloadDir,
		"--continue=true",
		"--max-connection-per-server=" + strconv.Itoa(cfg.MaxConnectionsPerServer),
		"--min-split-size=" + cfg.MinSplitSize,
		"--split=" + strconv.Itoa(cfg.Split),
		"--max-concurrent-downloads=" + strconv.Itoa(cfg.MaxConcurrentDownloads),
		"--seed-time=" + strconv.Itoa(cfg.SeedTime),
		"--bt-max-peers=" + strconv.Itoa(cfg.BTMaxPeers),
		"--follow-torrent=true",
		"--enable-dht=" + strconv.FormatBool(cfg.EnableDHT),
		"--bt-enable-lpd=" + strconv.FormatBool(cfg.EnableLPD),
		"--enable-peer-exchange=" + strconv.FormatBool(cfg.EnablePeerExchange),
		"--auto-file-renaming=false",
		"--allow-overwrite=true",
		"--summary-interval=0",
	}
}

// OptionsFromConfig maps the configuration onto supervisor options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Binary:            cfg.DaemonBinary,
		Args:              Args(cfg),
		StartupTimeout:    cfg.StartupTimeout,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		ReconnectInterval: cfg.ReconnectInterval,
		RestartAttempts:   cfg.RestartAttempts,
		StopTimeout:       cfg.ShutdownTimeout,
		StopOnExit:        cfg.StopDaemonOnExit,
	}
}
