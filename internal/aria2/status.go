package aria2

import (
	"path/filepath"
	"strconv"
)

// List names the listing call a status record came from.
type List int

const (
	ListActive List = iota
	ListWaiting
	ListStopped
)

func (l List) String() string {
	switch l {
	case ListActive:
		return "active"
	case ListWaiting:
		return "waiting"
	case ListStopped:
		return "stopped"
	}
	return "unknown"
}

// Daemon status values.
const (
	StatusActive   = "active"
	StatusWaiting  = "waiting"
	StatusPaused   = "paused"
	StatusError    = "error"
	StatusComplete = "complete"
	StatusRemoved  = "removed"
)

// StatusKeys are the fields requested from every listing call.
var StatusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "downloadSpeed",
	"uploadSpeed", "connections", "numSeeders", "numPieces", "errorCode",
	"errorMessage", "dir", "files", "bittorrent", "followedBy",
}

// Status is a daemon status record. Numeric fields arrive as decimal strings.
type Status struct {
	GID             string      `json:"gid"`
	Status          string      `json:"status"`
	TotalLength     string      `json:"totalLength"`
	CompletedLength string      `json:"completedLength"`
	DownloadSpeed   string      `json:"downloadSpeed"`
	UploadSpeed     string      `json:"uploadSpeed"`
	Connections     string      `json:"connections"`
	NumSeeders      string      `json:"numSeeders"`
	NumPieces       string      `json:"numPieces"`
	ErrorCode       string      `json:"errorCode"`
	ErrorMessage    string      `json:"errorMessage"`
	Dir             string      `json:"dir"`
	Files           []File      `json:"files"`
	BitTorrent      *BitTorrent `json:"bittorrent,omitempty"`
	FollowedBy      []string    `json:"followedBy,omitempty"`
}

type File struct {
	Index           string `json:"index"`
	Path            string `json:"path"`
	Length          string `json:"length"`
	CompletedLength string `json:"completedLength"`
	Selected        string `json:"selected"`
	URIs            []URI  `json:"uris"`
}

type URI struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
}

type BitTorrent struct {
	Info *struct {
		Name string `json:"name"`
	} `json:"info,omitempty"`
}

// Record is a status tagged with the list it was returned by.
type Record struct {
	List List
	Status
}

// Listing holds the result of one active/waiting/stopped round trip.
type Listing struct {
	Active  []Status
	Waiting []Status
	Stopped []Status
}

// Records flattens the listing into tagged records.
func (l Listing) Records() []Record {
	out := make([]Record, 0, len(l.Active)+len(l.Waiting)+len(l.Stopped))
	for _, s := range l.Active {
		out = append(out, Record{List: ListActive, Status: s})
	}
	for _, s := range l.Waiting {
		out = append(out, Record{List: ListWaiting, Status: s})
	}
	for _, s := range l.Stopped {
		out = append(out, Record{List: ListStopped, Status: s})
	}
	return out
}

// Int parses a daemon numeric string, treating missing or invalid values as zero.
func Int(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HasError reports whether the record carries a nonzero fault code.
func (s Status) HasError() bool {
	return s.Status == StatusError || (s.ErrorCode != "" && s.ErrorCode != "0")
}

// Name derives a display name from torrent metadata or the first file.
func (s Status) Name() string {
	if s.BitTorrent != nil && s.BitTorrent.Info != nil && s.BitTorrent.Info.Name != "" {
		return s.BitTorrent.Info.Name
	}
	for _, f := range s.Files {
		if f.Path != "" {
			return filepath.Base(f.Path)
		}
	}
	return ""
}

// Source returns the first URI the daemon is fetching from.
func (s Status) Source() string {
	for _, f := range s.Files {
		for _, u := range f.URIs {
			if u.URI != "" {
				return u.URI
			}
		}
	}
	return ""
}

// Paths lists the on-disk paths of the download's files.
func (s Status) Paths() []string {
	var out []string
	for _, f := range s.Files {
		if f.Path != "" {
			out = append(out, f.Path)
		}
	}
	return out
}

// Version is the reply of aria2.getVersion.
type Version struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}
