package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func formatSpeed(n int64) string {
	return formatBytes(n) + "/s"
}

// formatSize renders "done / total", or just "done" while the total is unknown.
func formatSize(d domain.Download) string {
	if d.TotalBytes <= 0 {
		return formatBytes(d.CompletedBytes)
	}
	return formatBytes(d.CompletedBytes) + " / " + formatBytes(d.TotalBytes)
}

func formatETA(d domain.Download) string {
	eta, ok := d.ETA()
	if !ok {
		return "--"
	}
	if eta >= 24*time.Hour {
		return fmt.Sprintf("%dd%dh", int(eta.Hours())/24, int(eta.Hours())%24)
	}
	return eta.Truncate(time.Second).String()
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline renders the download speed window, scaled to its own peak,
// right-aligned to width.
func sparkline(samples []domain.SpeedSample, width int) string {
	if width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	var peak int64
	for _, s := range samples {
		peak = max(peak, s.Download)
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-len(samples)))
	for _, s := range samples {
		idx := 0
		if peak > 0 {
			idx = int(s.Download * int64(len(sparkRunes)-1) / peak)
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// truncate shortens s to at most width cells, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
