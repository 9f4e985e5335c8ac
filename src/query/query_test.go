package query

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/broadcast"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/sirupsen/logrus"
)

func node(name string, mode peers.Mode) *peers.NodeInfo {
	return peers.NewNodeInfo(uuid.New(), []byte{4, 1, 2}, mode, peers.Address{}, name)
}

func TestQueryMessage(t *testing.T) {
	qual := message.New("QUAL")
	qual.AppendString("vector")
	q := New(node("origin", peers.Leaf), "Fred Borland", qual)

	hopped := q.Hopped().Hopped()
	if hopped.HopCount != 2 || q.HopCount != 0 {
		t.Fatalf("hop counts %d and %d", q.HopCount, hopped.HopCount)
	}
	if hopped.GUID != q.GUID || !hopped.Origin.Equal(q.Origin) {
		t.Fatalf("hopping changed the query identity")
	}

	got, err := FromMessage(hopped.ToMessage())
	if err != nil {
		t.Fatal(err)
	}
	if got.GUID != q.GUID ||
		got.Contents != "Fred Borland" ||
		got.HopCount != 2 ||
		!got.Origin.Equal(q.Origin) {
		t.Fatalf("query changed: %s", got)
	}
	if len(got.Qualifiers) != 1 || !got.Qualifiers[0].Equal(qual) {
		t.Fatalf("qualifiers changed")
	}

	garbled := message.New(QueryID)
	garbled.AppendGUID(q.GUID)
	garbled.AppendInt32(12)
	if _, err := FromMessage(garbled); err == nil {
		t.Fatalf("garbled query accepted")
	}
}

func TestAcknowledgementMessage(t *testing.T) {
	ack := &Acknowledgement{
		GUID: uuid.New(),
		Acknowledgement: broadcast.Acknowledgement{
			Visited:    []*peers.NodeInfo{node("self", peers.Hub)},
			Candidates: []*peers.NodeInfo{node("a", peers.Hub), node("b", peers.Hub)},
		},
	}
	got, err := AcknowledgementFromMessage(ack.ToMessage())
	if err != nil {
		t.Fatal(err)
	}
	if got.GUID != ack.GUID || got.IsDeadEnd || len(got.Visited) != 1 || len(got.Candidates) != 2 {
		t.Fatalf("acknowledgement changed: %+v", got)
	}
}

func TestResultMessage(t *testing.T) {
	q := New(node("origin", peers.Leaf), "Fred Borland")

	extra := message.New("XTRA")
	extra.AppendInt32(5)

	full := NewResult(q, node("holder", peers.Leaf))
	full.ConnectedNode = node("hub", peers.Hub)
	full.DataSize = 1 << 33
	full.HashCodeType = 2
	full.HashCode = []byte{0xde, 0xad}
	full.MatchingDescription = "a person"
	full.ExtraInfo = extra

	cases := []*Result{
		NewResult(q, node("holder", peers.Hub)),
		full,
	}
	for _, res := range cases {
		got, err := ResultFromMessage(res.ToMessage())
		if err != nil {
			t.Fatal(err)
		}
		if got.QueryGUID != q.GUID ||
			!got.Origin.Equal(q.Origin) ||
			!got.ResultNode.Equal(res.ResultNode) ||
			got.DataSize != res.DataSize ||
			got.HashCodeType != res.HashCodeType ||
			string(got.HashCode) != string(res.HashCode) ||
			got.MatchingContents != "Fred Borland" ||
			got.MatchingDescription != res.MatchingDescription {
			t.Fatalf("result changed: %s", got)
		}
		if (got.ConnectedNode == nil) != (res.ConnectedNode == nil) {
			t.Fatalf("connected node lost")
		}
		if (got.ExtraInfo == nil) != (res.ExtraInfo == nil) {
			t.Fatalf("extra info lost")
		}
		if res.ExtraInfo != nil && !got.ExtraInfo.Equal(res.ExtraInfo) {
			t.Fatalf("extra info changed")
		}
	}
}

// isolated is a node with no connections at all.
type isolated struct{}

func (isolated) ConnectedHubs() []*peers.NodeInfo { return nil }

func (isolated) FindConnection(uuid.UUID, bool) *link.Link { return nil }

func (isolated) GetConnection(info *peers.NodeInfo, _ bool, _ time.Duration) (*link.Link, error) {
	return nil, common.NewConnectionErr(common.Unreachable, info.String(), nil)
}

func (isolated) Unreachable(uuid.UUID) bool { return false }

func TestQuerierFirstResultWins(t *testing.T) {
	q := New(node("origin", peers.Hub), "Fred Borland")
	processed := 0
	process := func(*Query) *Acknowledgement {
		processed++
		return nil
	}

	qr := NewQuerier(q, isolated{}, process, broadcast.Config{HopTimeout: time.Minute},
		common.NewTestEntry(t, logrus.DebugLevel, "query"))

	var l sync.Mutex
	var results []*Result
	qr.OnResult(func(r *Result) {
		l.Lock()
		defer l.Unlock()
		results = append(results, r)
	})
	stopped := 0
	qr.OnStopped(func(*Querier) { stopped++ })

	qr.Start()
	if processed != 1 {
		t.Fatalf("local processing ran %d times", processed)
	}

	if qr.HandleResult(NewResult(New(q.Origin, "other"), node("x", peers.Leaf))) {
		t.Fatalf("result of another query accepted")
	}

	var wg sync.WaitGroup
	accepted := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted <- qr.HandleResult(NewResult(q, node("holder", peers.Leaf)))
		}()
	}
	wg.Wait()
	close(accepted)

	n := 0
	for ok := range accepted {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("%d results accepted, want 1", n)
	}
	if len(results) != 1 || qr.Result() == nil || stopped != 1 {
		t.Fatalf("results=%d stopped=%d", len(results), stopped)
	}
	select {
	case <-qr.Done():
	default:
		t.Fatalf("querier still running after its result")
	}
}

func TestQuerierTimeout(t *testing.T) {
	q := New(node("origin", peers.Leaf), "nobody has this")
	qr := NewQuerier(q, isolated{}, func(*Query) *Acknowledgement { return nil },
		broadcast.Config{HopTimeout: 10 * time.Millisecond, Lifetime: 50 * time.Millisecond},
		common.NewTestEntry(t, logrus.DebugLevel, "query"))
	qr.Start()

	select {
	case <-qr.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("querier did not time out")
	}
	if qr.Result() != nil {
		t.Fatalf("unexpected result")
	}
	if qr.HandleResult(NewResult(q, node("late", peers.Leaf))) {
		t.Fatalf("late result accepted after timeout")
	}
}
