// Package tracker is the Go client for the collection API. It mirrors the
// browser tracker: identity and session rotation, a queue-then-flush
// emitter, and instrumentation helpers for scroll depth, performance and
// navigation.
package tracker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSessionTimeout is the inactivity window after which a new session
// starts.
const DefaultSessionTimeout = 30 * time.Minute

// DefaultQueueLimit bounds the pending queue; payloads beyond it are
// counted as dropped instead of growing memory without bound.
const DefaultQueueLimit = 256

// Envelope is the wire shape the collector accepts.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Config configures a Tracker. SiteID and Beacon are required; everything
// else has a default.
type Config struct {
	SiteID         string
	Beacon         Beacon
	Store          StateStore
	Logger         *slog.Logger
	SessionTimeout time.Duration
	QueueLimit     int
	Now            func() time.Time
}

// Tracker queues payloads and flushes them in order through the beacon.
// Payloads enqueued before Start are held and delivered on the first flush,
// so instrumentation can begin before the transport is ready.
type Tracker struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	store   StateStore
	dropped atomic.Int64

	mu      sync.Mutex
	state   State
	queue   []Envelope
	started bool

	Scroll   *ScrollTracker
	Nav      *Observer
	Sections *SectionWatcher
}

// New creates a Tracker. The session is resolved from the store
// immediately: a fresh or timed-out state enqueues a session payload.
func New(cfg Config) (*Tracker, error) {
	if cfg.SiteID == "" {
		return nil, errors.New("tracker: SiteID is required")
	}
	if cfg.Beacon == nil {
		return nil, errors.New("tracker: Beacon is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := &Tracker{
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      cfg.Now,
		store:    cfg.Store,
		Scroll:   NewScrollTracker(),
		Nav:      NewObserver(),
		Sections: NewSectionWatcher(),
	}

	if t.ensureSession() {
		t.enqueue("session", map[string]any{
			"visitorId": t.state.VisitorID,
			"device":    "desktop",
		})
	}
	return t, nil
}

// ensureSession loads identity state and rotates the session when the
// inactivity timeout has passed. Returns whether a new session started.
// Storage failures degrade silently to the in-memory state: the tracker
// keeps working, it just forgets the visitor between restarts.
func (t *Tracker) ensureSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.store.Load()
	if err != nil {
		t.logger.Warn("Failed to load tracker state, using in-memory identity", slog.Any("error", err))
		state = t.state
	}

	now := t.now()
	isNew := false
	if state.VisitorID == "" {
		state.VisitorID = NewID()
	}
	if state.SessionID == "" || now.Sub(state.LastActivity) >= t.cfg.SessionTimeout {
		state.SessionID = NewID()
		isNew = true
	}
	state.LastActivity = now

	if err := t.store.Save(state); err != nil {
		t.logger.Warn("Failed to persist tracker state", slog.Any("error", err))
	}
	t.state = state
	return isNew
}

// touch records activity, rotating the session if the timeout elapsed
// since the previous payload. A rotation mid-stream enqueues the new
// session payload before the caller's payload.
func (t *Tracker) touch() {
	if t.ensureSession() {
		t.Scroll.Reset()
		t.enqueue("session", map[string]any{
			"visitorId": t.state.VisitorID,
			"device":    "desktop",
		})
	}
}

// enqueue appends one envelope, preserving FIFO order. Beyond the queue
// limit payloads are dropped and counted.
func (t *Tracker) enqueue(payloadType string, data map[string]any) {
	data["siteId"] = t.cfg.SiteID
	data["sessionId"] = t.SessionID()

	raw, err := json.Marshal(data)
	if err != nil {
		t.dropped.Add(1)
		return
	}

	t.mu.Lock()
	if len(t.queue) >= t.cfg.QueueLimit {
		t.mu.Unlock()
		t.dropped.Add(1)
		return
	}
	t.queue = append(t.queue, Envelope{Type: payloadType, Data: raw})
	started := t.started
	t.mu.Unlock()

	if started {
		t.Flush()
	}
}

// Start marks the transport ready and flushes everything queued so far.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	t.Flush()
}

// Flush delivers pending envelopes in order. A failed send drops the
// payload and counts it; later payloads still go out.
func (t *Tracker) Flush() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		envelope := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		if err := t.cfg.Beacon.Send(envelope); err != nil {
			t.dropped.Add(1)
			t.logger.Debug("Dropped payload",
				slog.String("type", envelope.Type),
				slog.Any("error", err))
		}
	}
}

// Dropped returns how many payloads were lost to queue overflow or
// delivery failure.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

// VisitorID returns the stable visitor identifier.
func (t *Tracker) VisitorID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.VisitorID
}

// SessionID returns the current session identifier.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.SessionID
}

// PageView records one navigation.
func (t *Tracker) PageView(path, title, referrer string) {
	t.touch()
	t.enqueue("pageview", map[string]any{
		"path":     path,
		"title":    title,
		"referrer": referrer,
	})
}

// Event records a named interaction with free-form properties.
func (t *Tracker) Event(name string, properties map[string]any) {
	if properties == nil {
		properties = map[string]any{}
	}
	t.touch()
	t.enqueue("event", map[string]any{
		"name":       name,
		"properties": properties,
	})
}

// Performance records one timing sample. Nil metrics are omitted on the
// wire.
func (t *Tracker) Performance(sample PerformanceSample) {
	t.enqueue("performance", sample.payload())
}

// ObserveScroll records a scroll depth and emits an event when a new
// milestone is reached.
func (t *Tracker) ObserveScroll(depth int) {
	if milestone, ok := t.Scroll.Observe(depth, t.now()); ok {
		t.Event("scroll_depth", map[string]any{"depth": milestone})
	}
}

// SectionVisible emits a section_view event the first time each named
// section becomes visible.
func (t *Tracker) SectionVisible(name string) {
	if t.Sections.Visible(name) {
		t.Event("section_view", map[string]any{"section": name})
	}
}

// WatchNavigation subscribes page view tracking to the navigation
// observer. Returns the unsubscribe function.
func (t *Tracker) WatchNavigation() func() {
	return t.Nav.Subscribe(func(url string) {
		t.Scroll.Reset()
		t.Sections.Reset()
		t.PageView(url, "", "")
	})
}

// End closes the current session, reporting the deepest scroll milestone.
func (t *Tracker) End() {
	data := map[string]any{}
	if depth := t.Scroll.MaxDepth(); depth > 0 {
		data["maxScrollDepth"] = depth
	}
	t.enqueue("end", data)
	t.Flush()
}
