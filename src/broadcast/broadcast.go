package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/sirupsen/logrus"
)

// Network is the part of the node a broadcast walks through.
type Network interface {
	// ConnectedHubs returns the hubs this node has persistent links to.
	ConnectedHubs() []*peers.NodeInfo

	FindConnection(guid uuid.UUID, persistentOnly bool) *link.Link

	GetConnection(info *peers.NodeInfo, persistentOnly bool, timeout time.Duration) (*link.Link, error)

	// Unreachable reports whether a recent attempt to reach guid failed.
	Unreachable(guid uuid.UUID) bool
}

// Config controls the pace of a broadcast.
type Config struct {
	// HopTimeout is how long to wait for an acknowledgement before moving on
	// to the next candidate.
	HopTimeout time.Duration

	// Lifetime stops the broadcast after it elapses. Zero means the broadcast
	// runs until Stop is called.
	Lifetime time.Duration
}

// Broadcast delivers a message hub by hub. It sends to one candidate at a
// time, merges the acknowledgement that comes back into its candidate and
// visited lists, and moves on when the acknowledgement arrives or the hop
// times out. Candidates are tried over existing persistent links first; once
// every candidate has been passed over, temporary connections are opened.
type Broadcast struct {
	net    Network
	send   func(*link.Link) error
	conf   Config
	logger *logrus.Entry

	l           sync.Mutex
	candidates  []*peers.NodeInfo
	visited     map[uuid.UUID]bool
	awaiting    map[uuid.UUID]bool
	unreachable []*peers.NodeInfo
	demotions   int
	timer       *time.Timer
	lifeTimer   *time.Timer
	onStopped   []func()

	// one step at a time
	stepLock sync.Mutex

	stopOnce sync.Once
	doneCh   chan struct{}
}

// New prepares a broadcast. send emits the message over a link.
func New(net Network, send func(*link.Link) error, conf Config, logger *logrus.Entry) *Broadcast {
	return &Broadcast{
		net:     net,
		send:    send,
		conf:    conf,
		logger:  logger,
		visited:  make(map[uuid.UUID]bool),
		awaiting: make(map[uuid.UUID]bool),
		doneCh:  make(chan struct{}),
	}
}

// Start seeds the candidate list with the connected hubs and arms the
// lifetime timer. Nothing is sent until HandleAck is called, which lets the
// caller feed the acknowledgement of its own local processing first.
func (b *Broadcast) Start() {
	hubs := b.net.ConnectedHubs()

	b.l.Lock()
	for _, h := range hubs {
		if !peers.ContainsNode(b.candidates, h) {
			b.candidates = append(b.candidates, h)
		}
	}
	if b.conf.Lifetime > 0 {
		b.lifeTimer = time.AfterFunc(b.conf.Lifetime, func() {
			b.logger.Debug("Broadcast lifetime elapsed")
			b.Stop()
		})
	}
	b.l.Unlock()

	if len(hubs) == 0 {
		b.logger.Debug("Not connected to any hubs, broadcast may not succeed")
	}
}

// OnStopped registers f to run once, when the broadcast stops. If it has
// already stopped, f runs immediately.
func (b *Broadcast) OnStopped(f func()) {
	b.l.Lock()
	if !b.Stopped() {
		b.onStopped = append(b.onStopped, f)
		b.l.Unlock()
		return
	}
	b.l.Unlock()
	f()
}

// Stop cancels the broadcast. It is safe to call from any goroutine, any
// number of times.
func (b *Broadcast) Stop() {
	b.stopOnce.Do(func() {
		b.l.Lock()
		close(b.doneCh)
		b.stopTimer()
		if b.lifeTimer != nil {
			b.lifeTimer.Stop()
		}
		b.candidates = nil
		b.unreachable = nil
		b.visited = make(map[uuid.UUID]bool)
		b.awaiting = make(map[uuid.UUID]bool)
		b.demotions = 0
		callbacks := b.onStopped
		b.onStopped = nil
		b.l.Unlock()

		for _, f := range callbacks {
			f()
		}
	})
}

// Stopped reports whether Stop was called.
func (b *Broadcast) Stopped() bool {
	select {
	case <-b.doneCh:
		return true
	default:
		return false
	}
}

// Done is closed when the broadcast stops.
func (b *Broadcast) Done() <-chan struct{} {
	return b.doneCh
}

// Candidates returns a copy of the current candidate list.
func (b *Broadcast) Candidates() []*peers.NodeInfo {
	b.l.Lock()
	defer b.l.Unlock()
	return append([]*peers.NodeInfo(nil), b.candidates...)
}

// HasVisited reports whether an acknowledgement listed guid as visited.
func (b *Broadcast) HasVisited(guid uuid.UUID) bool {
	b.l.Lock()
	defer b.l.Unlock()
	return b.visited[guid]
}

// HandleAck merges an acknowledgement into the candidate and visited lists,
// then sends to the next candidate. A nil ack only moves the broadcast on.
func (b *Broadcast) HandleAck(ack *Acknowledgement) {
	if b.Stopped() {
		return
	}

	if ack != nil {
		b.l.Lock()
		b.stopTimer()
		for _, c := range ack.Candidates {
			if b.visited[c.GUID] ||
				peers.ContainsNode(b.candidates, c) ||
				b.net.Unreachable(c.GUID) {
				continue
			}
			b.candidates = append(b.candidates, c)
		}
		for _, v := range ack.Visited {
			b.visited[v.GUID] = true
			delete(b.awaiting, v.GUID)
			if i := peers.IndexOfNode(b.candidates, v); i >= 0 {
				b.candidates = append(b.candidates[:i], b.candidates[i+1:]...)
			}
		}
		b.l.Unlock()
	}

	b.sendToNext()
}

// sendToNext sends to the first usable candidate, demoting every candidate it
// considers to the back of the list, then rearms the hop timer whether or not
// anything was sent: candidates may turn up before it fires.
func (b *Broadcast) sendToNext() bool {
	b.stepLock.Lock()
	defer b.stepLock.Unlock()

	b.l.Lock()
	limit := 2*len(b.candidates) + 2
	b.l.Unlock()

	sent := false
	for try := 0; try < limit && !sent; try++ {
		if b.Stopped() {
			return false
		}

		candidate, firstPass := b.demoteNext()
		if candidate == nil {
			break
		}

		var l *link.Link
		if firstPass {
			l = b.net.FindConnection(candidate.GUID, true)
		} else {
			var err error
			l, err = b.net.GetConnection(candidate, false, b.conf.HopTimeout)
			if err != nil {
				b.logger.WithFields(logrus.Fields{
					"candidate": candidate.String(),
					"error":     err,
				}).Debug("Candidate hub unreachable")
				b.l.Lock()
				b.unreachable = append(b.unreachable, candidate)
				b.l.Unlock()
			}
		}
		if l == nil {
			continue
		}

		if err := b.send(l); err != nil {
			b.logger.WithFields(logrus.Fields{
				"candidate": candidate.String(),
				"error":     err,
			}).Debug("Send to candidate hub failed")
			continue
		}
		b.logger.WithField("candidate", candidate.String()).Debug("Sent to candidate hub")
		b.l.Lock()
		b.awaiting[candidate.GUID] = true
		b.l.Unlock()
		sent = true
	}

	b.startTimer()
	return sent
}

// demoteNext picks the first candidate not known to be unreachable and moves
// it to the back of the list. A candidate that was sent to is skipped until it
// acknowledges or is reported unreachable, so a slow hub does not receive the
// message twice. firstPass is true until every candidate has been demoted once.
func (b *Broadcast) demoteNext() (candidate *peers.NodeInfo, firstPass bool) {
	b.l.Lock()
	defer b.l.Unlock()

	for i, c := range b.candidates {
		if peers.ContainsNode(b.unreachable, c) {
			continue
		}
		if b.awaiting[c.GUID] {
			if !b.net.Unreachable(c.GUID) {
				continue
			}
			delete(b.awaiting, c.GUID)
		}
		b.candidates = append(b.candidates[:i], b.candidates[i+1:]...)
		b.candidates = append(b.candidates, c)
		b.demotions++
		return c, b.demotions <= len(b.candidates)
	}
	return nil, false
}

func (b *Broadcast) startTimer() {
	b.l.Lock()
	defer b.l.Unlock()
	if b.Stopped() {
		return
	}
	b.stopTimer()
	b.timer = time.AfterFunc(b.conf.HopTimeout, func() {
		b.logger.Debug("No acknowledgement in time, moving on")
		b.HandleAck(nil)
	})
}

// stopTimer must be called with b.l held.
func (b *Broadcast) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
