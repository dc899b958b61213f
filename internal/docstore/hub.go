package docstore

import "sync"

// ChangeHub tracks the live queries registered per collection path so a
// backend can wake them when that collection changes. It maps a path to one
// or more notify callbacks.
type ChangeHub struct {
	mu        sync.RWMutex
	listeners map[string]map[int64]func()
	nextID    int64
}

func NewChangeHub() *ChangeHub {
	return &ChangeHub{listeners: make(map[string]map[int64]func())}
}

// Register adds a callback for path and returns the id to unregister it with.
func (h *ChangeHub) Register(path string, notify func()) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.listeners[path]; !ok {
		h.listeners[path] = make(map[int64]func())
	}

	h.nextID++
	id := h.nextID
	h.listeners[path][id] = notify
	return id
}

// Unregister is safe to call more than once.
func (h *ChangeHub) Unregister(path string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ls, ok := h.listeners[path]; ok {
		delete(ls, id)
		if len(ls) == 0 {
			delete(h.listeners, path)
		}
	}
}

// Publish wakes every listener on path and returns how many were woken.
// Callbacks must not block.
func (h *ChangeHub) Publish(path string) int {
	h.mu.RLock()
	ls := h.listeners[path]
	fns := make([]func(), 0, len(ls))
	for _, fn := range ls {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// PublishAll wakes every listener, e.g. after a backend reconnects and may
// have missed change notifications.
func (h *ChangeHub) PublishAll() {
	h.mu.RLock()
	var fns []func()
	for _, ls := range h.listeners {
		for _, fn := range ls {
			fns = append(fns, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Count returns the number of listeners registered on path.
func (h *ChangeHub) Count(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[path])
}
