package storage

import (
	"slices"
	"sync"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

// Registry is the shared store of known downloads. All access goes through
// one lock, and readers only ever receive deep copies.
type Registry struct {
	mu        sync.RWMutex
	downloads map[string]*domain.Download
	removed   map[string]struct{}
	pollSeq   uint64
	nextSeq   uint64
	changed   chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		downloads: make(map[string]*domain.Download),
		removed:   make(map[string]struct{}),
		changed:   make(chan struct{}, 1),
	}
}

// Tx is a write view of the registry, valid only inside Update.
type Tx struct {
	r *Registry
}

// Update runs fn with exclusive access and signals Changed afterwards.
func (r *Registry) Update(fn func(tx *Tx)) {
	r.mu.Lock()
	fn(&Tx{r: r})
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// BeginPoll allocates the sequence number of a new reconciliation cycle.
func (r *Registry) BeginPoll() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollSeq++
	return r.pollSeq
}

// Changed is signalled after every Update. Signals coalesce.
func (r *Registry) Changed() <-chan struct{} {
	return r.changed
}

func (r *Registry) Get(id string) (domain.Download, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.downloads[id]
	if !ok {
		return domain.Download{}, false
	}
	return d.Clone(), true
}

// Snapshot returns every download grouped by tab, then ordered by daemon
// list position and first appearance.
func (r *Registry) Snapshot() []domain.Download {
	r.mu.RLock()
	out := make([]domain.Download, 0, len(r.downloads))
	for _, d := range r.downloads {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Download) int {
		if ta, tb := a.Phase.Tab(), b.Phase.Tab(); ta != tb {
			return int(ta) - int(tb)
		}
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Tab returns the snapshot entries belonging to one tab.
func (r *Registry) Tab(tab domain.Tab) []domain.Download {
	var out []domain.Download
	for _, d := range r.Snapshot() {
		if d.Phase.Tab() == tab {
			out = append(out, d)
		}
	}
	return out
}

// Len counts tracked downloads, tombstones excluded.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.downloads)
}

// Get returns the live entry for id. Mutations are visible once Update returns.
func (tx *Tx) Get(id string) (*domain.Download, bool) {
	d, ok := tx.r.downloads[id]
	return d, ok
}

// Put inserts or replaces an entry unless id was removed by the user.
func (tx *Tx) Put(d *domain.Download) bool {
	if _, gone := tx.r.removed[d.ID]; gone {
		return false
	}
	if d.Seq == 0 {
		if prev, ok := tx.r.downloads[d.ID]; ok {
			d.Seq = prev.Seq
		} else {
			tx.r.nextSeq++
			d.Seq = tx.r.nextSeq
		}
	}
	tx.r.downloads[d.ID] = d
	return true
}

// Delete drops an entry that the daemon stopped reporting.
func (tx *Tx) Delete(id string) {
	delete(tx.r.downloads, id)
}

// Tombstone drops an entry and refuses any later Put for the same id.
func (tx *Tx) Tombstone(id string) {
	delete(tx.r.downloads, id)
	tx.r.removed[id] = struct{}{}
}

func (tx *Tx) Removed(id string) bool {
	_, ok := tx.r.removed[id]
	return ok
}

// IDs lists every tracked id in no particular order.
func (tx *Tx) IDs() []string {
	ids := make([]string, 0, len(tx.r.downloads))
	for id := range tx.r.downloads {
		ids = append(ids, id)
	}
	return ids
}

// PollSeq is the sequence number of the most recently started poll.
func (tx *Tx) PollSeq() uint64 {
	return tx.r.pollSeq
}
