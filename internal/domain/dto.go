package domain

import "time"

// AddDownloadRequest is the body of POST /downloads.
type AddDownloadRequest struct {
	Source string `json:"source" validate:"required,max=8192"`
}

// DownloadResponse is the public JSON shape of a download.
type DownloadResponse struct {
	Download
	Progress     float64       `json:"progress"`
	PeakDownload int64         `json:"peak_download"`
	PeakUpload   int64         `json:"peak_upload"`
	History      []SpeedSample `json:"history"`
}

func NewDownloadResponse(d Download) DownloadResponse {
	down, up := d.History.Peak()
	return DownloadResponse{
		Download:     d,
		Progress:     d.Progress(),
		PeakDownload: down,
		PeakUpload:   up,
		History:      d.History.Samples(),
	}
}

// HealthResponse reports the daemon connection state.
type HealthResponse struct {
	Status       string    `json:"status"`
	Daemon       string    `json:"daemon"`
	Owned        bool      `json:"owned"`
	Downloads    int       `json:"downloads"`
	PollFailures int       `json:"poll_failures"`
	CheckedAt    time.Time `json:"checked_at"`
}
