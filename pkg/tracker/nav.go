package tracker

import "sync"

// Observer is a navigation pub/sub hub. Route changes are announced by
// whoever owns navigation (a router, a history wrapper) and every
// subscriber is notified; nothing is patched or intercepted.
type Observer struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(url string)
}

func NewObserver() *Observer {
	return &Observer{subs: make(map[int]func(url string))}
}

// Subscribe registers a callback for navigation events and returns its
// unsubscribe function.
func (o *Observer) Subscribe(fn func(url string)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Publish announces a navigation to all current subscribers.
func (o *Observer) Publish(url string) {
	o.mu.Lock()
	fns := make([]func(string), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(url)
	}
}
