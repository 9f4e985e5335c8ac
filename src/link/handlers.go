package link

import (
	"fmt"
	"sync"

	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/sirupsen/logrus"
)

// Handler processes a message received on a Link. Returned errors are logged.
type Handler func(l *Link, m *message.Message) error

// Handlers maps message identifiers to the handlers registered for them. The
// same registry is usually shared by all the links of a node. OnAny handlers
// observe every message and OnUnknown handlers observe messages that nobody
// handles; neither prevents the other handlers from running.
type Handlers struct {
	l       sync.RWMutex
	byID    map[string][]Handler
	any     []Handler
	unknown []Handler
}

// NewHandlers returns an empty registry.
func NewHandlers() *Handlers {
	return &Handlers{
		byID: make(map[string][]Handler),
	}
}

// On registers f for messages whose identifier is id.
func (h *Handlers) On(id string, f Handler) {
	h.l.Lock()
	defer h.l.Unlock()
	h.byID[id] = append(h.byID[id], f)
}

// OnAny registers f for every message.
func (h *Handlers) OnAny(f Handler) {
	h.l.Lock()
	defer h.l.Unlock()
	h.any = append(h.any, f)
}

// OnUnknown registers f for messages with no registered handler.
func (h *Handlers) OnUnknown(f Handler) {
	h.l.Lock()
	defer h.l.Unlock()
	h.unknown = append(h.unknown, f)
}

// Handles reports whether a handler is registered for id.
func (h *Handlers) Handles(id string) bool {
	h.l.RLock()
	defer h.l.RUnlock()
	return len(h.byID[id]) > 0
}

// Dispatch runs the handlers for m. known marks identifiers the link itself
// understands, which never count as unknown.
func (h *Handlers) Dispatch(l *Link, m *message.Message, known bool, logger *logrus.Entry) {
	id := m.ID()

	h.l.RLock()
	all := h.any
	matched := h.byID[id]
	unknown := h.unknown
	h.l.RUnlock()

	for _, f := range all {
		safeCall(f, l, m, logger)
	}

	if len(matched) > 0 {
		for _, f := range matched {
			safeCall(f, l, m, logger)
		}
		return
	}

	if !known {
		for _, f := range unknown {
			safeCall(f, l, m, logger)
		}
	}
}

func safeCall(f Handler, l *Link, m *message.Message, logger *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"type":  m.ID(),
				"panic": fmt.Sprint(r),
			}).Error("Handler panicked, message dropped")
		}
	}()

	if err := f(l, m); err != nil {
		logger.WithFields(logrus.Fields{
			"type":  m.ID(),
			"error": err,
		}).Debug("Handler failed, message dropped")
	}
}
