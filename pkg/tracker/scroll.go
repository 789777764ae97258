package tracker

import (
	"sync"
	"time"
)

// ScrollMilestones are the depth percentages worth reporting.
var ScrollMilestones = []int{25, 50, 75, 90, 100}

// ScrollDebounce is the quiet period after a scroll burst before the depth
// is evaluated.
const ScrollDebounce = 100 * time.Millisecond

// ScrollTracker turns raw scroll depth observations into milestone events.
// Depth only ever advances, and each milestone fires exactly once per page
// view.
type ScrollTracker struct {
	mu       sync.Mutex
	maxDepth int
	fired    map[int]bool
	lastObs  time.Time
}

func NewScrollTracker() *ScrollTracker {
	return &ScrollTracker{fired: make(map[int]bool)}
}

// Observe records a depth percentage. When the depth newly crosses one or
// more milestones, only the deepest of them fires; the ones jumped over are
// retired without firing, so a fast scroll to the bottom reports a single
// deep milestone instead of the whole ladder. Observations within the
// debounce window of the previous one are ignored.
func (s *ScrollTracker) Observe(depth int, now time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastObs.IsZero() && now.Sub(s.lastObs) < ScrollDebounce {
		return 0, false
	}
	s.lastObs = now

	if depth > 100 {
		depth = 100
	}
	if depth <= s.maxDepth {
		return 0, false
	}
	s.maxDepth = depth

	milestone := 0
	for _, m := range ScrollMilestones {
		if depth >= m && !s.fired[m] {
			s.fired[m] = true
			milestone = m
		}
	}
	return milestone, milestone != 0
}

// MaxDepth returns the deepest percentage observed this page view.
func (s *ScrollTracker) MaxDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxDepth
}

// Reset clears depth and fired milestones for a new page view.
func (s *ScrollTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxDepth = 0
	s.fired = make(map[int]bool)
	s.lastObs = time.Time{}
}
