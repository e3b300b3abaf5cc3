package simulator

import (
	"sync"
	"time"
)

type (
	// frame is one SSE event: an empty name is a default message.
	frame struct {
		event string
		data  []byte
	}

	// hub keeps the event history of every session and fans new frames out
	// to live subscribers. Late subscribers replay the history first.
	// Finished sessions are evicted once retention has elapsed.
	hub struct {
		mu        sync.Mutex
		sessions  map[string]*sessionLog
		buffer    int
		retention time.Duration
		now       func() time.Time
	}

	sessionLog struct {
		frames     []frame
		done       bool
		finishedAt time.Time
		subs       map[int]chan frame
		next       int
	}
)

func newHub(buffer int, retention time.Duration, now func() time.Time) *hub {
	if buffer <= 0 {
		buffer = 256
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &hub{
		sessions:  make(map[string]*sessionLog),
		buffer:    buffer,
		retention: retention,
		now:       now,
	}
}

func (h *hub) create(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictExpired()
	h.sessions[id] = &sessionLog{subs: make(map[int]chan frame)}
}

// len returns the number of sessions held, finished ones included.
func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// evictExpired drops finished sessions past retention. Callers hold h.mu.
func (h *hub) evictExpired() {
	now := h.now()
	for id, log := range h.sessions {
		if h.expired(log, now) {
			delete(h.sessions, id)
		}
	}
}

func (h *hub) expired(log *sessionLog, now time.Time) bool {
	return log.done && now.Sub(log.finishedAt) >= h.retention
}

// append records f and delivers it to subscribers. A subscriber that cannot
// keep up is dropped: its channel is closed without an end frame.
func (h *hub) append(id string, f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log, ok := h.sessions[id]
	if !ok || log.done {
		return
	}
	log.frames = append(log.frames, f)
	for key, ch := range log.subs {
		select {
		case ch <- f:
		default:
			close(ch)
			delete(log.subs, key)
		}
	}
}

// finish appends the end frame and closes every subscriber.
func (h *hub) finish(id string, end frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log, ok := h.sessions[id]
	if !ok || log.done {
		return
	}
	log.frames = append(log.frames, end)
	log.done = true
	log.finishedAt = h.now()
	for key, ch := range log.subs {
		select {
		case ch <- end:
		default:
		}
		close(ch)
		delete(log.subs, key)
	}
}

// subscribe returns the frames recorded so far and a channel of the
// following ones. The channel is closed once the session is done. ok is
// false for unknown and evicted sessions.
func (h *hub) subscribe(id string) (replay []frame, ch <-chan frame, cancel func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log, found := h.sessions[id]
	if !found {
		return nil, nil, nil, false
	}
	if h.expired(log, h.now()) {
		delete(h.sessions, id)
		return nil, nil, nil, false
	}
	replay = append([]frame(nil), log.frames...)
	live := make(chan frame, h.buffer)
	if log.done {
		close(live)
		return replay, live, func() {}, true
	}
	key := log.next
	log.next++
	log.subs[key] = live
	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := log.subs[key]; ok {
			close(c)
			delete(log.subs, key)
		}
	}
	return replay, live, cancel, true
}
