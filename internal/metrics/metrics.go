package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tui_downloader_polls_total",
		Help: "Total number of reconciliation cycles attempted",
	})

	PollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tui_downloader_poll_failures_total",
		Help: "Total number of reconciliation cycles that failed",
	})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tui_downloader_poll_duration_seconds",
		Help:    "Duration of a reconciliation cycle in seconds",
		Buckets: prometheus.DefBuckets,
	})

	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tui_downloader_rpc_calls_total",
		Help: "Total number of daemon RPC calls by method and outcome",
	}, []string{"method", "outcome"})

	DaemonRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tui_downloader_daemon_restarts_total",
		Help: "Total number of daemon restart attempts",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tui_downloader_commands_total",
		Help: "Total number of dispatcher commands by name and outcome",
	}, []string{"command", "outcome"})

	Downloads = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tui_downloader_downloads",
		Help: "Number of tracked downloads per phase",
	}, []string{"phase"})
)

// Outcome labels an operation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
