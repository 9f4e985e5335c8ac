package peers

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/message"
)

func testHub(name string, hubs, leaves int32) *NodeInfo {
	n := NewNodeInfo(uuid.New(), []byte{4, 1, 2, 3}, Hub,
		NewAddress("127.0.0.1:1000", "10.0.0.1:1000"), name)
	n.HubCount = hubs
	n.LeafCount = leaves
	return n
}

func TestNodeInfoMessage(t *testing.T) {
	n := testHub("hub", 3, 7)

	m := n.ToMessage()
	if m.ID() != LocalNodeInfoID {
		t.Fatalf("wrong id %s", m.ID())
	}

	res, err := NodeInfoFromMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal(n) {
		t.Fatalf("NodeInfo should survive round trip: %+v vs %+v", res, n)
	}
	if !res.IsHub() || res.IsLeaf() {
		t.Fatalf("mode lost")
	}

	// trailing bytes
	m.AppendByte(0)
	if _, err := NodeInfoFromMessage(m); err != message.ErrTrailingBytes {
		t.Fatalf("trailing bytes should be rejected, got %v", err)
	}

	// bad mode
	bad := message.New(LocalNodeInfoID)
	bad.AppendChar('X')
	if _, err := NodeInfoFromMessage(bad); err == nil {
		t.Fatalf("bad mode should be rejected")
	}

	if _, err := NodeInfoFromMessage(message.New("PING")); err == nil {
		t.Fatalf("wrong type should be rejected")
	}
}

func TestNodeInfoEquality(t *testing.T) {
	a := testHub("a", 1, 1)
	b := a.Clone()

	if !a.Equal(b) || !a.SameNode(b) {
		t.Fatalf("clone should be equal")
	}

	b.LeafCount++
	if a.Equal(b) {
		t.Fatalf("counts take part in equality")
	}
	if !a.SameNode(b) {
		t.Fatalf("counts do not change the node")
	}
}

func TestKnownHubListExclusive(t *testing.T) {
	a, b := testHub("a", 0, 0), testHub("b", 0, 0)

	if _, err := NewKnownHubListFromLists([]*NodeInfo{a}, []*NodeInfo{b, a}); err == nil {
		t.Fatalf("a node in both lists should be rejected")
	}

	k, err := NewKnownHubListFromLists([]*NodeInfo{a}, []*NodeInfo{b})
	if err != nil {
		t.Fatal(err)
	}
	if !k.Contains(a) || !k.Contains(b) {
		t.Fatalf("Contains should check both lists")
	}
	if k.Contains(testHub("c", 0, 0)) {
		t.Fatalf("unknown hub reported")
	}
}

func TestKnownHubListMessage(t *testing.T) {
	var connected, known []*NodeInfo
	for i := 0; i < 3; i++ {
		connected = append(connected, testHub(fmt.Sprintf("c%d", i), int32(i), int32(2*i)))
	}
	for i := 0; i < 4; i++ {
		known = append(known, testHub(fmt.Sprintf("k%d", i), 0, 0))
	}

	k, err := NewKnownHubListFromLists(connected, known)
	if err != nil {
		t.Fatal(err)
	}

	res, err := KnownHubListFromMessage(k.ToMessage())
	if err != nil {
		t.Fatal(err)
	}

	c, n := res.Len()
	if c != 3 || n != 4 {
		t.Fatalf("counts should be 3/4, got %d/%d", c, n)
	}
	if !res.Equal(k) {
		t.Fatalf("lists should be equal after round trip")
	}
	for _, h := range append(connected, known...) {
		if !res.Contains(h) {
			t.Fatalf("%s missing after round trip", h)
		}
	}
	for i, h := range res.ConnectedHubs() {
		if !h.Equal(connected[i]) {
			t.Fatalf("connected hub %d differs", i)
		}
	}
}

func TestKnownHubListAdd(t *testing.T) {
	self := uuid.New()
	k := NewKnownHubList(self)

	changes := 0
	k.OnChange(func() { changes++ })

	me := testHub("me", 0, 0)
	me.GUID = self
	if k.Add(me) {
		t.Fatalf("self should not be added")
	}

	h := testHub("h", 0, 0)
	if !k.Add(h) {
		t.Fatalf("new hub should be added")
	}
	if k.Add(h.Clone()) {
		t.Fatalf("identical hub should not change the list")
	}

	leaf := h.Clone()
	leaf.Mode = Leaf
	if !k.Add(leaf) {
		t.Fatalf("a hub turned leaf should be removed")
	}
	if k.Contains(h) {
		t.Fatalf("leaf should not be in the list")
	}

	if changes != 2 {
		t.Fatalf("OnChange should have fired twice, not %d", changes)
	}
}

func TestKnownHubListConnectedOnlyByManager(t *testing.T) {
	k := NewKnownHubList(uuid.New())

	connectedEvents, disconnectedEvents := 0, 0
	k.OnHubConnected(func() { connectedEvents++ })
	k.OnHubDisconnected(func() { disconnectedEvents++ })

	a, b := testHub("a", 0, 0), testHub("b", 0, 0)

	remote, _ := NewKnownHubListFromLists([]*NodeInfo{a}, []*NodeInfo{b})
	k.Merge(remote)

	if c, n := k.Len(); c != 0 || n != 2 {
		t.Fatalf("merge must only add known hubs, got %d connected %d known", c, n)
	}

	k.SetConnected(a)
	k.SetConnected(b)
	if c, n := k.Len(); c != 2 || n != 0 {
		t.Fatalf("expected 2 connected 0 known, got %d/%d", c, n)
	}
	if connectedEvents != 1 {
		t.Fatalf("HubConnected should fire once, not %d", connectedEvents)
	}

	k.SetDisconnected(a)
	k.SetDisconnected(b)
	if c, n := k.Len(); c != 0 || n != 2 {
		t.Fatalf("disconnected hubs should return to known, got %d/%d", c, n)
	}
	if disconnectedEvents != 1 {
		t.Fatalf("HubDisconnected should fire once, not %d", disconnectedEvents)
	}

	if !k.Remove(a) || k.Contains(a) {
		t.Fatalf("Remove should drop a known hub")
	}
}

func TestJSONSeeds(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONSeeds(filepath.Join(dir, "peers.json"))

	seeds, err := store.Seeds()
	if err != nil || len(seeds) != 0 {
		t.Fatalf("missing file should yield no seeds: %v %v", seeds, err)
	}

	guid := uuid.New()
	in := []Seed{
		{NetAddr: "127.0.0.1:1338", GUID: guid.String(), Moniker: "alpha"},
		{NetAddr: "127.0.0.1:1339"},
	}
	if err := store.SetSeeds(in); err != nil {
		t.Fatal(err)
	}

	out, err := store.Seeds()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(out))
	}
	if out[0].NodeGUID() != guid || out[0].Moniker != "alpha" {
		t.Fatalf("seed 0 differs: %+v", out[0])
	}
	if out[1].NodeGUID() != uuid.Nil || out[1].NetAddr != "127.0.0.1:1339" {
		t.Fatalf("seed 1 differs: %+v", out[1])
	}
}
