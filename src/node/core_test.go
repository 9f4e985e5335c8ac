package node

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/crypto/keys"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/qht"
	"github.com/mosaicnetworks/hubnet/src/store"
	"github.com/sirupsen/logrus"
)

func initCore(t *testing.T, name string, mode peers.Mode) *Core {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	identity := NewIdentity(key, uuid.New(), name)
	return NewCore(identity, mode, peers.NewAddress("127.0.0.1:1338", ""),
		common.NewTestEntry(t, logrus.DebugLevel, name))
}

func hubInfo(name string) *peers.NodeInfo {
	return peers.NewNodeInfo(uuid.New(), nil, peers.Hub, peers.Address{}, name)
}

func TestCoreCounts(t *testing.T) {
	core := initCore(t, "core", peers.Hub)

	if !core.IsHub() {
		t.Fatal("core should be a hub")
	}
	if !core.SetCounts(2, 5) {
		t.Fatal("counts changed")
	}
	if core.SetCounts(2, 5) {
		t.Fatal("counts did not change")
	}

	info := core.NodeInfo()
	if info.HubCount != 2 || info.LeafCount != 5 {
		t.Fatalf("counts should be 2/5, not %d/%d", info.HubCount, info.LeafCount)
	}

	// NodeInfo returns a copy
	info.HubCount = 7
	if core.NodeInfo().HubCount != 2 {
		t.Fatal("descriptor modified through a copy")
	}

	addr := peers.NewAddress("127.0.0.1:1338", "203.0.113.7:1338")
	if !core.SetAddress(addr) {
		t.Fatal("address changed")
	}
	if core.SetAddress(addr) {
		t.Fatal("address did not change")
	}
}

func TestCoreAmalgamate(t *testing.T) {
	core := initCore(t, "core", peers.Hub)
	core.LocalQHT().Add("Get on up")

	leaf1 := qht.New()
	leaf1.Add("Fred Borland")
	leaf2 := qht.New()
	leaf2.AddWords("Sex Machine")

	if !core.Amalgamate([]*qht.QueryHashTable{leaf1, leaf2}) {
		t.Fatal("amalgamated table should change")
	}
	if core.Amalgamate([]*qht.QueryHashTable{leaf2, leaf1}) {
		t.Fatal("merging is commutative, nothing should change")
	}

	amalgamated := core.AmalgamatedQHT()
	for _, s := range []string{"GET ON UP", "fred borland", "machine"} {
		if !amalgamated.MayContain(s) {
			t.Fatalf("amalgamated table should contain %q", s)
		}
	}
	if core.LocalQHT().MayContain("fred borland") {
		t.Fatal("local table should not be touched")
	}

	if !core.Amalgamate(nil) {
		t.Fatal("dropping the leaves should change the table")
	}
	if amalgamated.MayContain("fred borland") {
		t.Fatal("leaf content should be gone")
	}
	if !amalgamated.MayContain("get on up") {
		t.Fatal("local content should remain")
	}
}

func TestCoreCandidateHubs(t *testing.T) {
	core := initCore(t, "core", peers.Hub)

	a, b, c := hubInfo("a"), hubInfo("b"), hubInfo("c")
	core.KnownHubs().Add(a)
	core.KnownHubs().Add(b)
	core.KnownHubs().Add(c)
	core.KnownHubs().SetConnected(c)

	// self is never listed
	core.KnownHubs().Add(core.NodeInfo())

	candidates := core.CandidateHubs(b)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].GUID != c.GUID || candidates[1].GUID != a.GUID {
		t.Fatal("connected hubs should come first, in declaration order")
	}
}

func TestLoadIdentity(t *testing.T) {
	st := store.NewInmemStore()

	first, err := LoadIdentity(st, nil, "node0")
	if err != nil {
		t.Fatal(err)
	}
	if first.GUID == uuid.Nil {
		t.Fatal("identity should have a GUID")
	}

	second, err := LoadIdentity(st, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if second.GUID != first.GUID {
		t.Fatal("GUID should survive")
	}
	if second.PublicKeyHex() != first.PublicKeyHex() {
		t.Fatal("key should survive")
	}
	if second.Moniker != "node0" {
		t.Fatalf("moniker should be node0, not %s", second.Moniker)
	}

	key, _ := keys.GenerateECDSAKey()
	third, err := LoadIdentity(st, key, "renamed")
	if err != nil {
		t.Fatal(err)
	}
	if third.GUID != first.GUID {
		t.Fatal("a new key should not change the GUID")
	}
	if third.PublicKeyHex() != keys.PublicKeyHex(&key.PublicKey) {
		t.Fatal("the given key should be used")
	}
	if !third.NodeID().Equal(peers.NewNodeID(first.GUID, third.PublicKeyBytes())) {
		t.Fatal("NodeID mismatch")
	}
}

func TestControlTimerThrottle(t *testing.T) {
	var fired int32
	timer := NewControlTimer(100*time.Millisecond, 0, func() {
		atomic.AddInt32(&fired, 1)
	})
	go timer.Run()
	defer timer.Shutdown()

	for i := 0; i < 20; i++ {
		timer.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(250 * time.Millisecond)

	n := atomic.LoadInt32(&fired)
	if n < 1 || n > 3 {
		t.Fatalf("20 triggers in 100ms should fire 1 to 3 times, not %d", n)
	}

	time.Sleep(200 * time.Millisecond)
	if atomic.LoadInt32(&fired) != n {
		t.Fatal("timer should not fire without triggers")
	}
}

func TestControlTimerMaxInterval(t *testing.T) {
	var fired int32
	timer := NewControlTimer(time.Second, 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	go timer.Run()
	defer timer.Shutdown()

	time.Sleep(300 * time.Millisecond)
	if atomic.LoadInt32(&fired) < 2 {
		t.Fatal("timer should fire every max interval")
	}

	timer.Reset(time.Second, 0)
	time.Sleep(100 * time.Millisecond)
	n := atomic.LoadInt32(&fired)
	time.Sleep(200 * time.Millisecond)
	if atomic.LoadInt32(&fired) != n {
		t.Fatal("timer should stop firing once the max interval is cleared")
	}
}

func TestRandomHubSelector(t *testing.T) {
	khl := peers.NewKnownHubList(uuid.New())
	selector := NewRandomHubSelector(khl)

	if selector.Next() != nil {
		t.Fatal("no hub to select")
	}

	a, b := hubInfo("a"), hubInfo("b")
	khl.Add(a)
	khl.Add(b)

	selector.UpdateLast(a)
	for i := 0; i < 10; i++ {
		if next := selector.Next(); next.GUID != b.GUID {
			t.Fatalf("selector should avoid the last hub, got %s", next)
		}
	}

	khl.SetConnected(b)
	if selector.Next() != nil {
		t.Fatal("connected hubs are not selectable")
	}
}
