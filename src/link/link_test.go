package link

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/qht"
	"github.com/sirupsen/logrus"
)

var quietConf = Config{PingInterval: 0}

func testInfo(name string) *peers.NodeInfo {
	return peers.NewNodeInfo(uuid.New(), nil, peers.Hub, peers.Address{}, name)
}

// connPair returns both ends of an in-memory connection.
func connPair(t *testing.T) (net.Conn, net.Conn) {
	addrA, transA := net.NewInmemTransport("")
	addrB, transB := net.NewInmemTransport("")
	transA.Connect(addrB, transB)
	transB.Connect(addrA, transA)
	t.Cleanup(func() {
		transA.Close()
		transB.Close()
	})

	a, err := transA.Dial(addrB, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	b := <-transB.Consumer()
	return a, b
}

func linkPair(t *testing.T, ha, hb *Handlers, conf Config) (*Link, *Link) {
	ca, cb := connPair(t)
	logger := common.NewTestEntry(t, logrus.DebugLevel, "link")

	a := New(ca, ha, conf, false, logger.WithField("side", "a"))
	b := New(cb, hb, conf, true, logger.WithField("side", "b"))

	a.Establish(testInfo("b"), nil)
	b.Establish(testInfo("a"), nil)

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func counter(c *int64) Handler {
	return func(*Link, *message.Message) error {
		atomic.AddInt64(c, 1)
		return nil
	}
}

func TestPingPong(t *testing.T) {
	const n = 10

	var anyCount, unknownCount int64
	ha, hb := NewHandlers(), NewHandlers()
	for _, h := range []*Handlers{ha, hb} {
		h.OnAny(counter(&anyCount))
		h.OnUnknown(counter(&unknownCount))
	}

	a, b := linkPair(t, ha, hb, quietConf)

	for i := 0; i < n; i++ {
		if err := a.Ping(); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "pongs", func() bool { return a.NumPongsReceived() == n })
	waitFor(t, "observers", func() bool { return atomic.LoadInt64(&anyCount) == 2*n })

	if got := b.NumPingsReceived(); got != n {
		t.Fatalf("b received %d pings, want %d", got, n)
	}
	if got := a.NumPingsReceived(); got != 0 {
		t.Fatalf("a received %d pings, want 0", got)
	}
	if got := atomic.LoadInt64(&unknownCount); got != 0 {
		t.Fatalf("%d unknown messages", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt64(&anyCount); got != 2*n {
		t.Fatalf("%d any-message events, want %d", got, 2*n)
	}

	if a.Stats().PingTime <= 0 {
		t.Fatalf("round-trip time not recorded")
	}
	if c := a.Stats().Sent[PingID]; c.Messages != n {
		t.Fatalf("sent %d pings according to stats", c.Messages)
	}
}

func TestDispatchByType(t *testing.T) {
	var funk, all, unknown int64
	hb := NewHandlers()
	hb.On("FUNK", func(l *Link, m *message.Message) error {
		if s := message.NewReader(m).ExtractString(); s != "Get on up" {
			t.Errorf("payload %q", s)
		}
		atomic.AddInt64(&funk, 1)
		return nil
	})
	hb.OnAny(counter(&all))
	hb.OnUnknown(counter(&unknown))

	a, _ := linkPair(t, nil, hb, quietConf)

	m := message.New("FUNK")
	m.AppendString("Get on up")
	a.Send(m)
	a.Send(message.New("WHAT"))

	waitFor(t, "handlers", func() bool {
		return atomic.LoadInt64(&funk) == 1 &&
			atomic.LoadInt64(&unknown) == 1 &&
			atomic.LoadInt64(&all) == 2
	})
}

func TestMalformedAndPanics(t *testing.T) {
	var lni, after int64
	hb := NewHandlers()
	hb.On(peers.LocalNodeInfoID, counter(&lni))
	hb.On("BOOM", func(*Link, *message.Message) error {
		panic("handler bug")
	})
	hb.On("NEXT", counter(&after))

	a, b := linkPair(t, nil, hb, quietConf)

	garbled := message.New(peers.LocalNodeInfoID)
	garbled.AppendInt32(99999)
	a.Send(garbled)
	a.Send(message.New("BOOM"))
	a.Send(message.New("BOOM"))
	a.Send(message.New("NEXT"))

	waitFor(t, "link to keep going", func() bool { return atomic.LoadInt64(&after) == 1 })

	if atomic.LoadInt64(&lni) != 0 {
		t.Fatalf("garbled LNIn reached its handler")
	}
	if b.IsClosed() {
		t.Fatalf("malformed input closed the link")
	}
}

func TestRemoteAnnouncements(t *testing.T) {
	a, b := linkPair(t, nil, nil, quietConf)

	info := b.RemoteNodeInfo().Clone()
	info.HubCount = 7
	a.Send(info.ToMessage())

	table := qht.New()
	table.Add("Fred Borland")
	qm, err := table.ToMessage()
	if err != nil {
		t.Fatal(err)
	}
	a.Send(qm)

	khl := peers.NewKnownHubList(uuid.New())
	khl.Add(testInfo("hub"))
	a.Send(khl.ToMessage())

	waitFor(t, "announcements", func() bool {
		return b.RemoteQHT() != nil &&
			b.RemoteKnownHubList() != nil &&
			b.RemoteNodeInfo().HubCount == 7
	})

	if !b.RemoteQHT().MayContain("fred borland") {
		t.Fatalf("remote table lost content")
	}
	if _, known := b.RemoteKnownHubList().Len(); known != 1 {
		t.Fatalf("remote hub list lost content")
	}

	// a different node cannot take over the link
	a.Send(testInfo("impostor").ToMessage())
	a.Ping()
	waitFor(t, "ping", func() bool { return b.NumPingsReceived() == 1 })
	if b.RemoteNodeInfo().HubCount != 7 {
		t.Fatalf("remote identity replaced")
	}
}

func TestSlowHandlerDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	var fast int64
	hb := NewHandlers()
	hb.On("SLOW", func(*Link, *message.Message) error {
		<-release
		return nil
	})
	hb.On("FAST", counter(&fast))

	a, _ := linkPair(t, nil, hb, quietConf)
	defer close(release)

	a.Send(message.New("SLOW"))
	a.Send(message.New("FAST"))

	waitFor(t, "fast handler", func() bool { return atomic.LoadInt64(&fast) == 1 })
}

func TestMailboxBounds(t *testing.T) {
	release := make(chan struct{})
	block := func(*Link, *message.Message) error {
		<-release
		return nil
	}
	hb := NewHandlers()
	hb.On("SLOW", block)
	hb.OnUnknown(block)

	a, b := linkPair(t, nil, hb, quietConf)
	released := false
	defer func() {
		if !released {
			close(release)
		}
	}()

	slow := mailboxCapacity + 11
	for i := 0; i < slow; i++ {
		a.Send(message.New("SLOW"))
	}
	const types = 100
	for i := 0; i < types; i++ {
		a.Send(message.New(fmt.Sprintf("U%03d", i)))
	}

	waitFor(t, "all frames read", func() bool {
		var total int64
		for _, c := range b.Stats().Received {
			total += c.Messages
		}
		return total == int64(slow+types)
	})

	// one SLOW is with its handler and one unknown type per spare mailbox
	minDropped := int64(slow-1-mailboxCapacity) + int64(types-(maxMailboxes-1))
	waitFor(t, "overflow to be dropped", func() bool { return b.Stats().Dropped >= minDropped })

	stats := b.Stats()
	if stats.Dropped > minDropped+1 {
		t.Fatalf("dropped %d messages, expected %d", stats.Dropped, minDropped)
	}
	if len(stats.Received) > maxCountedTypes+1 {
		t.Fatalf("%d message types counted separately", len(stats.Received))
	}
	if q := b.queued(); q > maxMailboxes {
		t.Fatalf("%d mailboxes open, limit is %d", q, maxMailboxes)
	}

	close(release)
	released = true
	waitFor(t, "mailboxes to be released", func() bool { return b.queued() == 0 })
}

func TestClose(t *testing.T) {
	a, b := linkPair(t, nil, nil, quietConf)

	var closedA, closedB int64
	a.OnClosed(func(*Link) { atomic.AddInt64(&closedA, 1) })
	b.OnClosed(func(*Link) { atomic.AddInt64(&closedB, 1) })

	a.Close()
	a.Close()

	waitFor(t, "remote close", func() bool { return atomic.LoadInt64(&closedB) == 1 })

	if a.State() != Closed {
		t.Fatalf("a is %s", a.State())
	}
	if err := a.Send(message.New("LATE")); err != ErrLinkClosed {
		t.Fatalf("send on closed link: %v", err)
	}

	b.Close()
	if atomic.LoadInt64(&closedA) != 1 || atomic.LoadInt64(&closedB) != 1 {
		t.Fatalf("closed callbacks fired %d and %d times", closedA, closedB)
	}

	var late int64
	a.OnClosed(func(*Link) { atomic.AddInt64(&late, 1) })
	if late != 1 {
		t.Fatalf("callback registered after close did not run")
	}
}

func TestDeadLink(t *testing.T) {
	ca, _ := connPair(t)
	logger := common.NewTestEntry(t, logrus.DebugLevel, "link")

	// the other end never reads, so no pong ever comes back
	a := New(ca, nil, Config{PingInterval: 20 * time.Millisecond, DeadLinkMultiple: 2}, false, logger)
	a.Establish(testInfo("silent"), nil)

	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("dead link was not closed")
	}
	if a.Stats().Sent[PingID].Messages == 0 {
		t.Fatalf("no ping sent before closing")
	}
}

func TestExpectTimeout(t *testing.T) {
	ca, cb := connPair(t)
	logger := common.NewTestEntry(t, logrus.DebugLevel, "link")

	a := New(ca, nil, quietConf, false, logger)
	if _, err := a.Expect(30 * time.Millisecond); !common.IsConnection(err, common.TimedOut) {
		t.Fatalf("expected a timeout, got %v", err)
	}
	if !a.IsClosed() {
		t.Fatalf("link should be closed after a handshake timeout")
	}

	b := New(cb, nil, quietConf, true, logger)
	if _, err := b.Expect(time.Second); err == nil {
		t.Fatalf("expected an error once the peer is gone")
	}
}
