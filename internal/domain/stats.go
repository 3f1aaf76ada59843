package domain

// Stats aggregates a snapshot for the status bar.
type Stats struct {
	DownloadSpeed int64 `json:"download_speed"`
	UploadSpeed   int64 `json:"upload_speed"`
	Active        int   `json:"active"`
	Queued        int   `json:"queued"`
	Stopped       int   `json:"stopped"`
	Failed        int   `json:"failed"`
}

func Summarize(downloads []Download) Stats {
	var s Stats
	for _, d := range downloads {
		switch d.Phase.Tab() {
		case TabActive:
			s.Active++
			s.DownloadSpeed += d.DownloadSpeed
			s.UploadSpeed += d.UploadSpeed
		case TabQueue:
			s.Queued++
		default:
			s.Stopped++
			if d.Phase == PhaseError {
				s.Failed++
			}
		}
	}
	return s
}
