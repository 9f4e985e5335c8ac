package link

import (
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/sirupsen/logrus"
)

const (
	// maxMailboxes bounds the number of message types a link queues at once.
	maxMailboxes = 64

	// mailboxCapacity bounds the messages queued for one type.
	mailboxCapacity = 256
)

// mailbox queues the messages of one type. A goroutine drains it while it is
// not empty, so handlers for one type run in order and never wait on the
// handlers of another type. A mailbox lives in Link.mailboxes exactly as long
// as its goroutine runs.
type mailbox struct {
	queue []*message.Message
	known bool
}

func (l *Link) post(m *message.Message, known bool) {
	id := m.ID()

	l.mailLock.Lock()
	box, ok := l.mailboxes[id]
	if !ok && len(l.mailboxes) >= maxMailboxes {
		l.mailLock.Unlock()
		l.overflow(m, "too many message types queued")
		return
	}
	if ok && len(box.queue) >= mailboxCapacity {
		l.mailLock.Unlock()
		l.overflow(m, "mailbox full")
		return
	}
	if !ok {
		box = &mailbox{known: known}
		l.mailboxes[id] = box
	}
	box.queue = append(box.queue, m)
	l.mailLock.Unlock()

	if !ok {
		go l.drain(id, box)
	}
}

func (l *Link) drain(id string, box *mailbox) {
	for {
		l.mailLock.Lock()
		if len(box.queue) == 0 {
			delete(l.mailboxes, id)
			l.mailLock.Unlock()
			return
		}
		m := box.queue[0]
		box.queue[0] = nil
		box.queue = box.queue[1:]
		l.mailLock.Unlock()

		l.handlers.Dispatch(l, m, box.known, l.logger)
	}
}

func (l *Link) overflow(m *message.Message, reason string) {
	l.stats.onDropped()
	l.logger.WithFields(logrus.Fields{
		"type":   m.ID(),
		"reason": reason,
	}).Debug("Dropping message")
}

// queued returns the number of message types waiting for their handlers.
func (l *Link) queued() int {
	l.mailLock.Lock()
	defer l.mailLock.Unlock()
	return len(l.mailboxes)
}
