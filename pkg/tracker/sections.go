package tracker

import "sync"

// SectionWatcher reports named page sections the first time they become
// visible. Repeat visibility of the same section is ignored until Reset.
type SectionWatcher struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewSectionWatcher() *SectionWatcher {
	return &SectionWatcher{seen: make(map[string]bool)}
}

// Visible records that a section entered the viewport. Returns true the
// first time each section is reported.
func (w *SectionWatcher) Visible(name string) bool {
	if name == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[name] {
		return false
	}
	w.seen[name] = true
	return true
}

// Reset forgets seen sections for a new page view.
func (w *SectionWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]bool)
}
