package connmgr

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/hubnet/src/link"
)

// holder keeps temporary links open for as long as someone holds them. Every
// Hold adds an expiry; the timer of a link fires at its earliest expiry,
// discards the expired holds, and releases the link when none remain.
type holder struct {
	sync.Mutex
	holds   map[*link.Link]*holds
	release func(*link.Link)
}

type holds struct {
	expiries []time.Time
	timer    *time.Timer
}

func newHolder(release func(*link.Link)) *holder {
	return &holder{
		holds:   make(map[*link.Link]*holds),
		release: release,
	}
}

func (h *holder) hold(l *link.Link, d time.Duration) {
	h.Lock()
	defer h.Unlock()

	e, ok := h.holds[l]
	if !ok {
		e = &holds{}
		h.holds[l] = e
	}
	e.expiries = append(e.expiries, time.Now().Add(d))
	h.schedule(l, e)
}

// schedule arms the timer for the earliest expiry. Must be called with the
// lock held.
func (h *holder) schedule(l *link.Link, e *holds) {
	next := e.expiries[0]
	for _, t := range e.expiries[1:] {
		if t.Before(next) {
			next = t
		}
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(time.Until(next), func() { h.expire(l) })
}

func (h *holder) expire(l *link.Link) {
	h.Lock()
	e, ok := h.holds[l]
	if !ok {
		h.Unlock()
		return
	}

	now := time.Now()
	remaining := e.expiries[:0]
	for _, t := range e.expiries {
		if t.After(now) {
			remaining = append(remaining, t)
		}
	}
	e.expiries = remaining

	if len(remaining) > 0 {
		h.schedule(l, e)
		h.Unlock()
		return
	}
	delete(h.holds, l)
	h.Unlock()

	h.release(l)
}

// remove forgets l without releasing it.
func (h *holder) remove(l *link.Link) {
	h.Lock()
	defer h.Unlock()
	if e, ok := h.holds[l]; ok {
		e.timer.Stop()
		delete(h.holds, l)
	}
}

// count returns the number of holds on l.
func (h *holder) count(l *link.Link) int {
	h.Lock()
	defer h.Unlock()
	if e, ok := h.holds[l]; ok {
		return len(e.expiries)
	}
	return 0
}

// expiry returns the time at which the last hold on l runs out.
func (h *holder) expiry(l *link.Link) time.Time {
	h.Lock()
	defer h.Unlock()
	var last time.Time
	if e, ok := h.holds[l]; ok {
		for _, t := range e.expiries {
			if t.After(last) {
				last = t
			}
		}
	}
	return last
}

func (h *holder) stop() {
	h.Lock()
	defer h.Unlock()
	for l, e := range h.holds {
		e.timer.Stop()
		delete(h.holds, l)
	}
}
