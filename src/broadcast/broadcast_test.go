package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"
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

type fakeNetwork struct {
	t *testing.T

	l           sync.Mutex
	connected   []*peers.NodeInfo
	persistent  map[uuid.UUID]*link.Link
	reachable   map[uuid.UUID]*link.Link
	unreachable map[uuid.UUID]bool
	dials       []uuid.UUID
}

func newFakeNetwork(t *testing.T) *fakeNetwork {
	return &fakeNetwork{
		t:           t,
		persistent:  make(map[uuid.UUID]*link.Link),
		reachable:   make(map[uuid.UUID]*link.Link),
		unreachable: make(map[uuid.UUID]bool),
	}
}

func (f *fakeNetwork) newLink(info *peers.NodeInfo) *link.Link {
	addrA, transA := net.NewInmemTransport("")
	addrB, transB := net.NewInmemTransport("")
	transA.Connect(addrB, transB)
	transB.Connect(addrA, transA)
	f.t.Cleanup(func() {
		transA.Close()
		transB.Close()
	})

	conn, err := transA.Dial(addrB, time.Second)
	if err != nil {
		f.t.Fatal(err)
	}
	<-transB.Consumer()

	l := link.New(conn, nil, link.Config{}, false, common.NewTestEntry(f.t, logrus.DebugLevel, "link"))
	l.Establish(info, nil)
	f.t.Cleanup(func() { l.Close() })
	return l
}

// connect makes hub a connected hub with a persistent link.
func (f *fakeNetwork) connect(hub *peers.NodeInfo) {
	l := f.newLink(hub)
	f.l.Lock()
	defer f.l.Unlock()
	f.connected = append(f.connected, hub)
	f.persistent[hub.GUID] = l
}

// allowDial lets GetConnection reach hub.
func (f *fakeNetwork) allowDial(hub *peers.NodeInfo) {
	l := f.newLink(hub)
	f.l.Lock()
	defer f.l.Unlock()
	f.reachable[hub.GUID] = l
}

func (f *fakeNetwork) ConnectedHubs() []*peers.NodeInfo {
	f.l.Lock()
	defer f.l.Unlock()
	return append([]*peers.NodeInfo(nil), f.connected...)
}

func (f *fakeNetwork) FindConnection(guid uuid.UUID, persistentOnly bool) *link.Link {
	f.l.Lock()
	defer f.l.Unlock()
	return f.persistent[guid]
}

func (f *fakeNetwork) GetConnection(info *peers.NodeInfo, persistentOnly bool, timeout time.Duration) (*link.Link, error) {
	f.l.Lock()
	defer f.l.Unlock()
	f.dials = append(f.dials, info.GUID)
	if l, ok := f.persistent[info.GUID]; ok {
		return l, nil
	}
	if l, ok := f.reachable[info.GUID]; ok {
		return l, nil
	}
	f.unreachable[info.GUID] = true
	return nil, common.NewConnectionErr(common.TransportFailure, info.String(), nil)
}

func (f *fakeNetwork) Unreachable(guid uuid.UUID) bool {
	f.l.Lock()
	defer f.l.Unlock()
	return f.unreachable[guid]
}

func (f *fakeNetwork) dialCount() int {
	f.l.Lock()
	defer f.l.Unlock()
	return len(f.dials)
}

// recorder remembers which hubs were sent to, in order.
type recorder struct {
	l     sync.Mutex
	order []string
}

func (r *recorder) send(l *link.Link) error {
	r.l.Lock()
	defer r.l.Unlock()
	r.order = append(r.order, l.RemoteNodeInfo().FriendlyName)
	return nil
}

func (r *recorder) sent() []string {
	r.l.Lock()
	defer r.l.Unlock()
	return append([]string(nil), r.order...)
}

func hub(name string) *peers.NodeInfo {
	return peers.NewNodeInfo(uuid.New(), nil, peers.Hub, peers.Address{}, name)
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

func newTestBroadcast(t *testing.T, fn *fakeNetwork, rec *recorder, conf Config) *Broadcast {
	b := New(fn, rec.send, conf, common.NewTestEntry(t, logrus.DebugLevel, "broadcast"))
	t.Cleanup(b.Stop)
	return b
}

func TestHopTimeoutMovesOn(t *testing.T) {
	fn := newFakeNetwork(t)
	h1, h2 := hub("h1"), hub("h2")
	fn.connect(h1)
	fn.connect(h2)

	rec := &recorder{}
	b := newTestBroadcast(t, fn, rec, Config{HopTimeout: 50 * time.Millisecond})
	b.Start()
	b.HandleAck(nil)

	if got := rec.sent(); len(got) != 1 || got[0] != "h1" {
		t.Fatalf("first send went to %v", got)
	}

	waitFor(t, "second hub", func() bool { return len(rec.sent()) >= 2 })
	if got := rec.sent(); got[1] != "h2" {
		t.Fatalf("second send went to %v", got)
	}
	if fn.dialCount() != 0 {
		t.Fatalf("persistent links were available, but %d dials were made", fn.dialCount())
	}
}

func TestSlowHubReceivesOnce(t *testing.T) {
	fn := newFakeNetwork(t)
	h1, h2 := hub("h1"), hub("h2")
	fn.connect(h1)
	fn.allowDial(h2)

	rec := &recorder{}
	b := newTestBroadcast(t, fn, rec, Config{HopTimeout: 20 * time.Millisecond})
	b.Start()
	b.HandleAck(nil)

	// several hop timeouts go by without an acknowledgement from h1
	time.Sleep(150 * time.Millisecond)
	if got := rec.sent(); len(got) != 1 || got[0] != "h1" {
		t.Fatalf("sends %v, want h1 once", got)
	}

	b.HandleAck(&Acknowledgement{
		Visited:    []*peers.NodeInfo{h1},
		Candidates: []*peers.NodeInfo{h2},
	})
	time.Sleep(100 * time.Millisecond)
	if got := rec.sent(); len(got) != 2 || got[1] != "h2" {
		t.Fatalf("sends %v, want h1 then h2 once each", got)
	}
}

func TestAckMergesCandidates(t *testing.T) {
	fn := newFakeNetwork(t)
	h1, h2, h3 := hub("h1"), hub("h2"), hub("h3")
	fn.connect(h1)
	fn.allowDial(h3)

	rec := &recorder{}
	b := newTestBroadcast(t, fn, rec, Config{HopTimeout: time.Minute})
	b.Start()
	b.HandleAck(nil)

	b.HandleAck(&Acknowledgement{
		Visited:    []*peers.NodeInfo{h1, h2},
		Candidates: []*peers.NodeInfo{h2, h3},
		IsDeadEnd:  true,
	})

	got := rec.sent()
	if len(got) != 2 || got[1] != "h3" {
		t.Fatalf("sends %v, want h1 then h3", got)
	}
	if !b.HasVisited(h1.GUID) || !b.HasVisited(h2.GUID) {
		t.Fatalf("visited hubs not recorded")
	}
	for _, c := range b.Candidates() {
		if c.SameNode(h1) || c.SameNode(h2) {
			t.Fatalf("visited hub %s still a candidate", c)
		}
	}
	if fn.dialCount() != 1 {
		t.Fatalf("%d dials, want 1", fn.dialCount())
	}
}

func TestUnreachableCandidates(t *testing.T) {
	fn := newFakeNetwork(t)
	h1, bad, banned := hub("h1"), hub("bad"), hub("banned")
	fn.connect(h1)
	fn.unreachable[banned.GUID] = true

	rec := &recorder{}
	b := newTestBroadcast(t, fn, rec, Config{HopTimeout: time.Minute})
	b.Start()
	b.HandleAck(&Acknowledgement{
		Visited:    []*peers.NodeInfo{h1},
		Candidates: []*peers.NodeInfo{bad, banned},
		IsDeadEnd:  true,
	})

	if got := rec.sent(); len(got) != 0 {
		t.Fatalf("nothing should be sent, got %v", got)
	}
	if fn.dialCount() != 1 {
		t.Fatalf("%d dials, want a single attempt at the bad hub", fn.dialCount())
	}

	// the bad hub is not dialled again
	b.HandleAck(nil)
	if fn.dialCount() != 1 {
		t.Fatalf("unreachable hub dialled again")
	}
}

func TestStop(t *testing.T) {
	fn := newFakeNetwork(t)
	fn.connect(hub("h1"))

	rec := &recorder{}
	b := newTestBroadcast(t, fn, rec, Config{HopTimeout: 20 * time.Millisecond, Lifetime: 100 * time.Millisecond})

	var stopped int64
	b.OnStopped(func() { atomic.AddInt64(&stopped, 1) })

	b.Start()
	b.HandleAck(nil)

	select {
	case <-b.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("lifetime did not stop the broadcast")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Stop()
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&stopped); n != 1 {
		t.Fatalf("stop callbacks ran %d times", n)
	}

	before := len(rec.sent())
	b.HandleAck(nil)
	time.Sleep(60 * time.Millisecond)
	if after := len(rec.sent()); after != before {
		t.Fatalf("stopped broadcast kept sending: %d then %d", before, after)
	}

	var late int64
	b.OnStopped(func() { atomic.AddInt64(&late, 1) })
	if late != 1 {
		t.Fatalf("callback registered after stop did not run")
	}
}

func TestAcknowledgementMessage(t *testing.T) {
	ack := Acknowledgement{
		Visited:    []*peers.NodeInfo{hub("v1"), hub("v2")},
		Candidates: []*peers.NodeInfo{hub("c1")},
		IsDeadEnd:  true,
	}
	m := message.New("TEST")
	ack.AppendTo(m)

	r := message.NewReader(m)
	got := ReadAcknowledgement(r)
	if err := r.AssertAtEnd(); err != nil {
		t.Fatal(err)
	}
	if len(got.Visited) != 2 || len(got.Candidates) != 1 || !got.IsDeadEnd {
		t.Fatalf("acknowledgement changed: %+v", got)
	}
	for i, v := range ack.Visited {
		if !v.Equal(got.Visited[i]) {
			t.Fatalf("visited[%d] = %s, want %s", i, got.Visited[i], v)
		}
	}
	if fmt.Sprint(got.Candidates[0]) != fmt.Sprint(ack.Candidates[0]) {
		t.Fatalf("candidate changed")
	}
}
