package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

const (
	maxSourceFileSize = 16 << 20
	controlFileSuffix = ".aria2"
)

// FileStorage manages files in the download directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a new FileStorage instance rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: filepath.Clean(dir)}
}

func (s *FileStorage) Dir() string {
	return s.dir
}

// ReadSource reads a torrent or metalink file named by the user.
// Relative paths resolve against the working directory, "~/" against home.
func (s *FileStorage) ReadSource(path string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSourceFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxSourceFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxSourceFileSize)
	}
	return data, nil
}

// Contains reports whether path lies inside the download directory.
func (s *FileStorage) Contains(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RemoveDownload deletes the payload of d with its control files, then
// prunes directories left empty beneath the download directory. A torrent
// keeps one control file named after the torrent next to its payload; other
// downloads keep one per file. Paths outside the download directory are
// refused. Missing files are not errors.
func (s *FileStorage) RemoveDownload(d domain.Download) ([]string, error) {
	var removed []string
	var errs []error

	remove := func(target string) {
		err := os.Remove(target)
		switch {
		case err == nil:
			removed = append(removed, target)
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, fmt.Errorf("delete %s: %w", target, err))
		}
	}

	var parents []string
	for _, p := range d.Files {
		if !s.Contains(p) {
			errs = append(errs, fmt.Errorf("refusing to delete %s outside %s", p, s.dir))
			continue
		}
		remove(p)
		if d.Kind != domain.KindTorrent {
			remove(p + controlFileSuffix)
		}
		parents = append(parents, filepath.Dir(p))
	}

	if d.Kind == domain.KindTorrent && d.Name != "" {
		dir := d.Dir
		if dir == "" {
			dir = s.dir
		}
		if ctl := filepath.Join(dir, d.Name+controlFileSuffix); s.Contains(ctl) {
			remove(ctl)
		}
	}

	for _, dir := range parents {
		s.pruneEmptyParents(dir)
	}
	return removed, errors.Join(errs...)
}

func (s *FileStorage) pruneEmptyParents(dir string) {
	for s.Contains(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
