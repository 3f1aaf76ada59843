package domain

import (
	"slices"
	"time"
)

// Kind is the transfer protocol family of a download.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindTorrent  Kind = "torrent"
	KindMetalink Kind = "metalink"
)

// Download is the canonical view of one daemon transfer.
type Download struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Phase  Phase  `json:"phase"`

	TotalBytes     int64 `json:"total_bytes"`
	CompletedBytes int64 `json:"completed_bytes"`
	DownloadSpeed  int64 `json:"download_speed"`
	UploadSpeed    int64 `json:"upload_speed"`

	Connections int `json:"connections"`
	Seeders     int `json:"seeders"`
	NumPieces   int `json:"num_pieces"`

	Dir   string   `json:"dir,omitempty"`
	Files []string `json:"files,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	History SpeedHistory `json:"-"`

	AddedAt  time.Time `json:"added_at"`
	LastSeen time.Time `json:"last_seen"`

	// Missed counts consecutive successful polls that did not list the id.
	Missed int `json:"-"`
	// PhaseOrigin and PhaseVersion guard optimistic phases against stale polls.
	PhaseOrigin  Origin `json:"-"`
	PhaseVersion uint64 `json:"-"`
	// Position is the index within the daemon list the download came from.
	Position int `json:"position"`
	// Seq orders downloads by first appearance.
	Seq uint64 `json:"-"`
}

// Progress returns completion in [0,1], or 0 while the total is unknown.
func (d Download) Progress() float64 {
	if d.TotalBytes <= 0 {
		return 0
	}
	p := float64(d.CompletedBytes) / float64(d.TotalBytes)
	return min(p, 1)
}

// ETA estimates the remaining time at the current speed.
func (d Download) ETA() (time.Duration, bool) {
	if d.TotalBytes <= 0 || d.DownloadSpeed <= 0 || d.CompletedBytes >= d.TotalBytes {
		return 0, false
	}
	remaining := d.TotalBytes - d.CompletedBytes
	return time.Duration(remaining/d.DownloadSpeed) * time.Second, true
}

// Clone returns a deep copy safe to hand across goroutines.
func (d Download) Clone() Download {
	d.Files = slices.Clone(d.Files)
	d.History = d.History.Clone()
	return d
}
