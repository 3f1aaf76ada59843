package domain

import "time"

// SpeedSample is one throughput observation.
type SpeedSample struct {
	At       time.Time `json:"at"`
	Download int64     `json:"download"`
	Upload   int64     `json:"upload"`
}

// SpeedHistory is a fixed capacity ring of samples, oldest evicted first.
// The zero value has no capacity and ignores pushes.
type SpeedHistory struct {
	buf  []SpeedSample
	head int
	size int
}

func NewSpeedHistory(capacity int) SpeedHistory {
	if capacity < 0 {
		capacity = 0
	}
	return SpeedHistory{buf: make([]SpeedSample, capacity)}
}

func (h *SpeedHistory) Push(s SpeedSample) {
	if len(h.buf) == 0 {
		return
	}
	idx := (h.head + h.size) % len(h.buf)
	h.buf[idx] = s
	if h.size < len(h.buf) {
		h.size++
		return
	}
	h.head = (h.head + 1) % len(h.buf)
}

func (h *SpeedHistory) Reset() {
	h.head = 0
	h.size = 0
}

func (h SpeedHistory) Len() int { return h.size }

func (h SpeedHistory) Cap() int { return len(h.buf) }

// Samples returns the window oldest first.
func (h SpeedHistory) Samples() []SpeedSample {
	out := make([]SpeedSample, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Peak returns the highest download and upload speeds in the current window.
func (h SpeedHistory) Peak() (download, upload int64) {
	for i := 0; i < h.size; i++ {
		s := h.buf[(h.head+i)%len(h.buf)]
		download = max(download, s.Download)
		upload = max(upload, s.Upload)
	}
	return download, upload
}

// Clone returns a copy that shares no storage with h.
func (h SpeedHistory) Clone() SpeedHistory {
	c := h
	if h.buf != nil {
		c.buf = make([]SpeedSample, len(h.buf))
		copy(c.buf, h.buf)
	}
	return c
}
