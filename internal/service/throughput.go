package service

import (
	"time"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

// ThroughputTracker derives per-download speed history from reconciled state.
type ThroughputTracker struct {
	capacity int
}

func NewThroughputTracker(capacity int) *ThroughputTracker {
	return &ThroughputTracker{capacity: capacity}
}

// Observe appends the current speeds of an active download. Any other phase
// empties the history so a resumed download starts a fresh window.
func (t *ThroughputTracker) Observe(d *domain.Download, at time.Time) {
	if d.History.Cap() != t.capacity {
		d.History = domain.NewSpeedHistory(t.capacity)
	}
	if d.Phase != domain.PhaseActive {
		d.History.Reset()
		return
	}
	d.History.Push(domain.SpeedSample{
		At:       at,
		Download: d.DownloadSpeed,
		Upload:   d.UploadSpeed,
	})
}
