package session

import "sync"

// hub fans events out to subscribers. Callbacks run synchronously on the
// publishing goroutine and may be invoked concurrently.
type hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
	done chan struct{}
	once sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(Event)), done: make(chan struct{})}
}

func (h *hub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// close drops every subscriber and closes done.
func (h *hub) close() {
	h.mu.Lock()
	h.subs = make(map[int]func(Event))
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
