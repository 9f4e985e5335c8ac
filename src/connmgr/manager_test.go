package connmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/sirupsen/logrus"
)

type testPeer struct {
	info     *peers.NodeInfo
	khl      *peers.KnownHubList
	handlers *link.Handlers
	trans    *net.InmemTransport
	mgr      *Manager
}

func testConfig() Config {
	return Config{
		ConnectTimeout:          300 * time.Millisecond,
		MaxTemporaryConnections: 20,
		RetryUnreachable:        time.Minute,
	}
}

func newTestPeer(t *testing.T, name string, mode peers.Mode, conf Config) *testPeer {
	addr, trans := net.NewInmemTransport("")
	guid := uuid.New()
	p := &testPeer{
		info:     peers.NewNodeInfo(guid, nil, mode, peers.Address{External: []string{addr}}, name),
		khl:      peers.NewKnownHubList(guid),
		handlers: link.NewHandlers(),
		trans:    trans,
	}
	logger := common.NewTestEntry(t, logrus.DebugLevel, name)
	p.mgr = New(conf, trans, func() *peers.NodeInfo { return p.info }, p.khl, p.handlers, logger)
	go p.mgr.Run()

	t.Cleanup(func() {
		p.mgr.Close()
		p.trans.Close()
	})
	return p
}

// wire lets every peer reach every other one.
func wire(ps ...*testPeer) {
	for _, a := range ps {
		for _, b := range ps {
			if a != b {
				a.trans.Connect(b.trans.LocalAddr(), b.trans)
			}
		}
	}
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

func TestHandshakeMessages(t *testing.T) {
	from := peers.NewNodeInfo(uuid.New(), []byte{4, 1, 2}, peers.Hub, peers.NewAddress("10.0.0.1:1338", ""), "from")
	khl := peers.NewKnownHubList(uuid.Nil)
	khl.Add(peers.NewNodeInfo(uuid.New(), nil, peers.Hub, peers.Address{}, "other"))
	to := uuid.New()

	req := &Request{Persistent: true, From: from, KnownHubs: khl, To: to}
	req2, err := RequestFromMessage(req.ToMessage())
	if err != nil {
		t.Fatal(err)
	}
	if !req2.Persistent || !req2.From.Equal(from) || req2.To != to || !req2.KnownHubs.Equal(khl) {
		t.Fatalf("request changed in transit: %+v", req2)
	}
	if req2.IsTo(uuid.New()) || !req2.IsTo(to) {
		t.Fatalf("IsTo mismatch")
	}
	if !(&Request{To: uuid.Nil}).IsTo(uuid.New()) {
		t.Fatalf("a request to nobody in particular is for everybody")
	}

	resp := &Response{From: from, KnownHubs: khl, Error: common.IncorrectNode}
	resp2, err := ResponseFromMessage(resp.ToMessage())
	if err != nil {
		t.Fatal(err)
	}
	if resp2.Persistent || resp2.Error != common.IncorrectNode || !resp2.From.Equal(from) {
		t.Fatalf("response changed in transit: %+v", resp2)
	}

	if _, err := ResponseFromMessage(req.ToMessage()); err == nil {
		t.Fatalf("a request is not a response")
	}
}

func TestGetConnectionPersistent(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	received := make(chan string, 1)
	b.handlers.On("FUNK", func(l *link.Link, m *message.Message) error {
		received <- message.NewReader(m).ExtractString()
		return nil
	})

	l, err := a.mgr.GetConnection(b.info, true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if l.State() != link.Established || !l.Persistent() {
		t.Fatalf("link is %s, persistent %v", l.State(), l.Persistent())
	}
	if !l.RemoteNodeInfo().SameNode(b.info) {
		t.Fatalf("connected to %s", l.RemoteNodeInfo())
	}
	if a.mgr.FindConnection(b.info.GUID, true) != l {
		t.Fatalf("FindConnection does not return the new link")
	}
	if !a.khl.IsConnected(b.info) {
		t.Fatalf("b should be a connected hub of a")
	}

	waitFor(t, "b to file the link", func() bool {
		return b.mgr.FindConnection(a.info.GUID, true) != nil
	})
	if !b.khl.IsConnected(a.info) {
		t.Fatalf("a should be a connected hub of b")
	}
	if hubs, leaves := b.mgr.Counts(); hubs != 1 || leaves != 0 {
		t.Fatalf("b counts %d hubs and %d leaves", hubs, leaves)
	}

	m := message.New("FUNK")
	m.AppendString("Get on up")
	if err := l.Send(m); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-received:
		if s != "Get on up" {
			t.Fatalf("payload %q", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("message not delivered")
	}

	// a second call reuses the link
	l2, err := a.mgr.GetConnection(b.info, true, time.Second)
	if err != nil || l2 != l {
		t.Fatalf("link not reused: %v", err)
	}
}

// Both sides greet each other from OnConnected, the way a node announces
// itself on a new link. The handshake must survive the early traffic.
func TestOnConnectedSends(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	greetings := make(chan string, 2)
	for _, p := range []*testPeer{a, b} {
		p := p
		p.mgr.OnConnected(func(l *link.Link) {
			m := message.New("HELO")
			m.AppendString(p.info.FriendlyName)
			l.Send(m)
		})
		p.handlers.On("HELO", func(l *link.Link, m *message.Message) error {
			greetings <- message.NewReader(m).ExtractString()
			return nil
		})
	}

	for i := 0; i < 3; i++ {
		l, err := a.mgr.GetConnection(b.info, true, time.Second)
		if err != nil {
			t.Fatalf("connection %d failed: %v", i, err)
		}
		if i == 0 {
			got := map[string]bool{}
			for len(got) < 2 {
				select {
				case s := <-greetings:
					got[s] = true
				case <-time.After(3 * time.Second):
					t.Fatalf("greetings received: %v", got)
				}
			}
		}
		if i < 2 {
			l.Close()
			waitFor(t, "b to drop the link", func() bool {
				return b.mgr.FindConnection(a.info.GUID, false) == nil
			})
			for len(greetings) > 0 {
				<-greetings
			}
		}
	}
}

func TestConcurrentGetConnection(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	const n = 20
	links := make([]*link.Link, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			links[i], errs[i] = a.mgr.GetConnection(b.info, false, 2*time.Second)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if links[i] != links[0] {
			t.Fatalf("caller %d observed a different link", i)
		}
	}

	if c := len(a.mgr.TemporaryConnections()); c != 1 {
		t.Fatalf("a has %d temporary links", c)
	}
	waitFor(t, "b to file the link", func() bool { return len(b.mgr.VolatileConnections()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if c := len(b.mgr.VolatileConnections()); c != 1 {
		t.Fatalf("b accepted %d links", c)
	}
}

func TestIncorrectNode(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	// an impostor record pointing at b's address
	impostor := peers.NewNodeInfo(uuid.New(), nil, peers.Hub, b.info.Address, "impostor")
	a.khl.Add(impostor)

	_, err := a.mgr.GetConnection(impostor, true, time.Second)
	if !common.IsConnection(err, common.IncorrectNode) {
		t.Fatalf("expected IncorrectNode, got %v", err)
	}

	if a.mgr.FindConnection(impostor.GUID, false) != nil {
		t.Fatalf("a connection to the impostor remains")
	}
	if n := len(a.mgr.all(true)); n != 0 {
		t.Fatalf("%d links left in the pools", n)
	}
	if a.khl.Contains(impostor) {
		t.Fatalf("impostor still in the known hub list")
	}

	waitFor(t, "b to drop the refused link", func() bool {
		return len(b.mgr.all(true)) == 0
	})
}

func TestSameNodeAndUnreachable(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)

	if _, err := a.mgr.GetConnection(a.info, false, time.Second); !common.IsConnection(err, common.SameNode) {
		t.Fatalf("expected SameNode, got %v", err)
	}

	ghost := peers.NewNodeInfo(uuid.New(), nil, peers.Hub, peers.Address{External: []string{"nowhere"}}, "ghost")
	if _, err := a.mgr.GetConnection(ghost, false, time.Second); !common.IsConnection(err, common.TransportFailure) {
		t.Fatalf("expected TransportFailure, got %v", err)
	}
	if _, err := a.mgr.GetConnection(ghost, false, time.Second); !common.IsConnection(err, common.Unreachable) {
		t.Fatalf("expected Unreachable, got %v", err)
	}
	a.mgr.ClearUnreachable()
	if _, err := a.mgr.GetConnection(ghost, false, time.Second); !common.IsConnection(err, common.TransportFailure) {
		t.Fatalf("expected a new attempt, got %v", err)
	}
}

func TestConnectAddress(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Leaf, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	l, err := a.mgr.ConnectAddress(b.trans.LocalAddr(), true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !l.RemoteNodeInfo().SameNode(b.info) {
		t.Fatalf("seed resolved to %s", l.RemoteNodeInfo())
	}
	waitFor(t, "b to count its leaf", func() bool {
		_, leaves := b.mgr.Counts()
		return leaves == 1
	})
	if b.khl.Contains(a.info) {
		t.Fatalf("a leaf must not enter the known hub list")
	}
}

func TestHoldsAccumulate(t *testing.T) {
	conf := testConfig()
	conf.ConnectTimeout = 100 * time.Millisecond
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	l, err := a.mgr.GetConnection(b.info, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	a.mgr.Hold(l, 50*time.Millisecond)
	a.mgr.Hold(l, 400*time.Millisecond)
	if n := a.mgr.Holds(l); n != 3 {
		t.Fatalf("%d holds, want 3", n)
	}

	time.Sleep(200 * time.Millisecond)
	if l.IsClosed() {
		t.Fatalf("released while still held")
	}
	if n := a.mgr.Holds(l); n != 1 {
		t.Fatalf("%d holds left, want 1", n)
	}

	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("never released")
	}
	waitFor(t, "a to forget the link", func() bool { return a.mgr.TemporaryCount() == 0 })
}

func TestPersistentNotReleased(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	l, err := a.mgr.GetConnection(b.info, true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	a.mgr.Hold(l, 10*time.Millisecond)
	time.Sleep(conf.ConnectTimeout + 100*time.Millisecond)
	if l.IsClosed() {
		t.Fatalf("persistent link released")
	}
}

func TestMaxTemporaryConnections(t *testing.T) {
	conf := testConfig()
	conf.ConnectTimeout = time.Second
	conf.MaxTemporaryConnections = 2

	a := newTestPeer(t, "a", peers.Hub, conf)
	others := []*testPeer{
		newTestPeer(t, "b", peers.Hub, conf),
		newTestPeer(t, "c", peers.Hub, conf),
		newTestPeer(t, "d", peers.Hub, conf),
	}
	wire(append(others, a)...)

	for _, o := range others {
		if _, err := a.mgr.GetConnection(o.info, false, 2*time.Second); err != nil {
			t.Fatal(err)
		}
		if c := a.mgr.TemporaryCount(); c > conf.MaxTemporaryConnections {
			t.Fatalf("%d temporary connections", c)
		}
	}
	if a.mgr.FindConnection(others[2].info.GUID, false) == nil {
		t.Fatalf("the newest connection was evicted")
	}
}

func TestClosedHubBecomesKnown(t *testing.T) {
	conf := testConfig()
	a := newTestPeer(t, "a", peers.Hub, conf)
	b := newTestPeer(t, "b", peers.Hub, conf)
	wire(a, b)

	disconnected := make(chan struct{}, 1)
	a.khl.OnHubDisconnected(func() { disconnected <- struct{}{} })

	var closed sync.WaitGroup
	closed.Add(1)
	a.mgr.OnClosed(func(*link.Link) { closed.Done() })

	if _, err := a.mgr.GetConnection(b.info, true, time.Second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "b to file the link", func() bool { return b.mgr.FindConnection(a.info.GUID, true) != nil })

	b.mgr.Close()
	closed.Wait()

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatalf("no hub-disconnected notification")
	}
	if a.khl.IsConnected(b.info) || !a.khl.Contains(b.info) {
		t.Fatalf("b should have moved to the known hubs: %s", a.khl)
	}
	if a.mgr.FindConnection(b.info.GUID, false) != nil {
		t.Fatalf("closed link still filed")
	}
}
