package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Config holds all application configuration settings.
type Config struct {
	DaemonBinary string        `envconfig:"DAEMON_BINARY" default:"aria2c" yaml:"daemon_binary"`
	RPCHost      string        `envconfig:"RPC_HOST" default:"127.0.0.1" yaml:"rpc_host"`
	RPCPort      int           `envconfig:"RPC_PORT" default:"6800" yaml:"rpc_port"`
	RPCSecret    string        `envconfig:"RPC_SECRET" default:"tui_downloader_secret" yaml:"rpc_secret"`
	RPCTransport string        `envconfig:"RPC_TRANSPORT" default:"http" yaml:"rpc_transport"`
	RPCTimeout   time.Duration `envconfig:"RPC_TIMEOUT" default:"5s" yaml:"rpc_timeout"`

	DownloadDir             string `envconfig:"DOWNLOAD_DIR" yaml:"download_dir"`
	MaxConnectionsPerServer int    `envconfig:"MAX_CONNECTIONS_PER_SERVER" default:"16" yaml:"max_connections_per_server"`
	Split                   int    `envconfig:"SPLIT" default:"16" yaml:"split"`
	MinSplitSize            string `envconfig:"MIN_SPLIT_SIZE" default:"1M" yaml:"min_split_size"`
	MaxConcurrentDownloads  int    `envconfig:"MAX_CONCURRENT_DOWNLOADS" default:"5" yaml:"max_concurrent_downloads"`
	SeedTime                int    `envconfig:"SEED_TIME" default:"0" yaml:"seed_time"`
	BTMaxPeers              int    `envconfig:"BT_MAX_PEERS" default:"50" yaml:"bt_max_peers"`
	EnableDHT               bool   `envconfig:"ENABLE_DHT" default:"true" yaml:"enable_dht"`
	EnablePeerExchange      bool   `envconfig:"ENABLE_PEER_EXCHANGE" default:"true" yaml:"enable_peer_exchange"`
	EnableLPD               bool   `envconfig:"ENABLE_LPD" default:"true" yaml:"enable_lpd"`

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"1s" yaml:"poll_interval"`
	StaleGrace        int           `envconfig:"STALE_GRACE" default:"2" yaml:"stale_grace"`
	FailureThreshold  int           `envconfig:"FAILURE_THRESHOLD" default:"3" yaml:"failure_threshold"`
	RestartAttempts   int           `envconfig:"RESTART_ATTEMPTS" default:"1" yaml:"restart_attempts"`
	StartupTimeout    time.Duration `envconfig:"STARTUP_TIMEOUT" default:"10s" yaml:"startup_timeout"`
	BackoffInitial    time.Duration `envconfig:"BACKOFF_INITIAL" default:"100ms" yaml:"backoff_initial"`
	BackoffMax        time.Duration `envconfig:"BACKOFF_MAX" default:"2s" yaml:"backoff_max"`
	ReconnectInterval time.Duration `envconfig:"RECONNECT_INTERVAL" default:"5s" yaml:"reconnect_interval"`

	HistorySize      int `envconfig:"HISTORY_SIZE" default:"60" yaml:"history_size"`
	ListPageSize     int `envconfig:"LIST_PAGE_SIZE" default:"1000" yaml:"list_page_size"`
	CommandQueueSize int `envconfig:"COMMAND_QUEUE_SIZE" default:"64" yaml:"command_queue_size"`

	StatusAddr       string        `envconfig:"STATUS_ADDR" yaml:"status_addr"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s" yaml:"shutdown_timeout"`
	StopDaemonOnExit bool          `envconfig:"STOP_DAEMON_ON_EXIT" default:"true" yaml:"stop_daemon_on_exit"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" yaml:"log_format"`
	LogFile   string `envconfig:"LOG_FILE" yaml:"log_file"`
}

// RPCAddr is the daemon control address in host:port form.
func (c *Config) RPCAddr() string {
	return net.JoinHostPort(c.RPCHost, strconv.Itoa(c.RPCPort))
}

// RPCURL is the JSON-RPC endpoint for the configured transport.
func (c *Config) RPCURL() string {
	scheme := "http"
	if c.RPCTransport == TransportWebSocket {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/jsonrpc", scheme, c.RPCAddr())
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.DaemonBinary == "" {
		return fmt.Errorf("daemon binary cannot be empty")
	}

	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid RPC port: %d", c.RPCPort)
	}

	if c.RPCTransport != TransportHTTP && c.RPCTransport != TransportWebSocket {
		return fmt.Errorf("unknown RPC transport %q", c.RPCTransport)
	}

	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive: %s", c.RPCTimeout)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}

	if c.MaxConnectionsPerServer < 1 || c.MaxConnectionsPerServer > 16 {
		return fmt.Errorf("max connections per server must be between 1 and 16: %d", c.MaxConnectionsPerServer)
	}

	if c.Split <= 0 {
		return fmt.Errorf("split must be positive: %d", c.Split)
	}

	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max concurrent downloads must be positive: %d", c.MaxConcurrentDownloads)
	}

	if c.SeedTime < 0 || c.BTMaxPeers < 0 {
		return fmt.Errorf("bittorrent limits cannot be negative")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}

	if c.StaleGrace < 1 {
		return fmt.Errorf("stale grace must be at least 1: %d", c.StaleGrace)
	}

	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1: %d", c.FailureThreshold)
	}

	if c.RestartAttempts < 0 {
		return fmt.Errorf("restart attempts cannot be negative: %d", c.RestartAttempts)
	}

	if c.StartupTimeout <= 0 || c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("invalid startup backoff: initial %s, max %s, timeout %s",
			c.BackoffInitial, c.BackoffMax, c.StartupTimeout)
	}

	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive: %s", c.ReconnectInterval)
	}

	if c.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive: %d", c.HistorySize)
	}

	if c.ListPageSize <= 0 {
		return fmt.Errorf("list page size must be positive: %d", c.ListPageSize)
	}

	if c.CommandQueueSize <= 0 {
		return fmt.Errorf("command queue size must be positive: %d", c.CommandQueueSize)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	return nil
}
