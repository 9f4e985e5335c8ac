package peers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/message"
)

// KnownHubListID identifies known-hub list announcements.
const KnownHubListID = "KHLi"

// KnownHubList holds two disjoint lists of hubs: those the local node has a
// persistent connection to, and those it only knows about. Lists keep
// insertion order, which is also the order in which relays and queries try
// candidates. It is safe for concurrent use.
type KnownHubList struct {
	l sync.Mutex

	self      uuid.UUID
	connected []*NodeInfo
	known     []*NodeInfo

	onChange          []func()
	onHubConnected    []func()
	onHubDisconnected []func()
}

// NewKnownHubList creates an empty list owned by the node with GUID self,
// which is never added to it. Pass uuid.Nil for a list with no owner.
func NewKnownHubList(self uuid.UUID) *KnownHubList {
	return &KnownHubList{self: self}
}

// NewKnownHubListFromLists builds a list from explicit connected and known
// hubs. It fails if a node appears in both.
func NewKnownHubListFromLists(connected, known []*NodeInfo) (*KnownHubList, error) {
	for _, c := range connected {
		if ContainsNode(known, c) {
			return nil, fmt.Errorf("the connected and known lists are mutually exclusive: %s is in both", c)
		}
	}
	return &KnownHubList{
		connected: append([]*NodeInfo(nil), connected...),
		known:     append([]*NodeInfo(nil), known...),
	}, nil
}

// OnChange registers a callback fired after the content of either list
// changes. Callbacks run on the goroutine that made the change, without locks
// held.
func (k *KnownHubList) OnChange(f func()) {
	k.l.Lock()
	defer k.l.Unlock()
	k.onChange = append(k.onChange, f)
}

// OnHubConnected registers a callback fired when the first hub becomes
// connected.
func (k *KnownHubList) OnHubConnected(f func()) {
	k.l.Lock()
	defer k.l.Unlock()
	k.onHubConnected = append(k.onHubConnected, f)
}

// OnHubDisconnected registers a callback fired when the last connected hub
// goes away.
func (k *KnownHubList) OnHubDisconnected(f func()) {
	k.l.Lock()
	defer k.l.Unlock()
	k.onHubDisconnected = append(k.onHubDisconnected, f)
}

// ConnectedHubs returns a snapshot of the connected hubs.
func (k *KnownHubList) ConnectedHubs() []*NodeInfo {
	k.l.Lock()
	defer k.l.Unlock()
	return append([]*NodeInfo(nil), k.connected...)
}

// KnownHubs returns a snapshot of the hubs that are known but not connected.
func (k *KnownHubList) KnownHubs() []*NodeInfo {
	k.l.Lock()
	defer k.l.Unlock()
	return append([]*NodeInfo(nil), k.known...)
}

// AllHubs returns connected hubs followed by known hubs.
func (k *KnownHubList) AllHubs() []*NodeInfo {
	k.l.Lock()
	defer k.l.Unlock()
	res := make([]*NodeInfo, 0, len(k.connected)+len(k.known))
	res = append(res, k.connected...)
	return append(res, k.known...)
}

// Contains reports whether the node is in either list.
func (k *KnownHubList) Contains(n *NodeInfo) bool {
	k.l.Lock()
	defer k.l.Unlock()
	return ContainsNode(k.connected, n) || ContainsNode(k.known, n)
}

// IsConnected reports whether the node is in the connected list.
func (k *KnownHubList) IsConnected(n *NodeInfo) bool {
	k.l.Lock()
	defer k.l.Unlock()
	return ContainsNode(k.connected, n)
}

// Add records a hub heard about through gossip or configuration. A node that
// is connected only gets its descriptor refreshed. A node that is not a hub is
// removed from both lists, in case it used to be one. It returns true if the
// lists changed.
func (k *KnownHubList) Add(n *NodeInfo) bool {
	changed := k.add(n)
	if changed {
		k.fire(k.changeCallbacks())
	}
	return changed
}

func (k *KnownHubList) add(n *NodeInfo) bool {
	if n == nil {
		return false
	}

	k.l.Lock()
	defer k.l.Unlock()

	if k.self != uuid.Nil && n.GUID == k.self {
		return false
	}

	if !n.IsHub() {
		if i := IndexOfNode(k.known, n); i >= 0 {
			k.known = removeAt(k.known, i)
			return true
		}
		return false
	}

	if i := IndexOfNode(k.connected, n); i >= 0 {
		if k.connected[i].Equal(n) {
			return false
		}
		k.connected[i] = n
		return true
	}

	if i := IndexOfNode(k.known, n); i >= 0 {
		if k.known[i].Equal(n) {
			return false
		}
		k.known[i] = n
		return true
	}

	k.known = append(k.known, n)
	return true
}

// Merge adds the known then the connected hubs of another list, as known hubs.
// It returns true if anything changed.
func (k *KnownHubList) Merge(other *KnownHubList) bool {
	if other == nil || other == k {
		return false
	}
	changed := false
	for _, n := range other.KnownHubs() {
		if k.add(n) {
			changed = true
		}
	}
	for _, n := range other.ConnectedHubs() {
		if k.add(n) {
			changed = true
		}
	}
	if changed {
		k.fire(k.changeCallbacks())
	}
	return changed
}

// Remove drops a node from the known list. It is used when a node turns out
// not to be who it claimed to be.
func (k *KnownHubList) Remove(n *NodeInfo) bool {
	k.l.Lock()
	i := IndexOfNode(k.known, n)
	if i >= 0 {
		k.known = removeAt(k.known, i)
	}
	k.l.Unlock()

	if i >= 0 {
		k.fire(k.changeCallbacks())
	}
	return i >= 0
}

// SetConnected moves a hub into the connected list. Only the connection
// manager calls this, once it holds a persistent connection to the hub.
func (k *KnownHubList) SetConnected(n *NodeInfo) bool {
	if n == nil || !n.IsHub() {
		return false
	}

	k.l.Lock()
	if k.self != uuid.Nil && n.GUID == k.self {
		k.l.Unlock()
		return false
	}
	if i := IndexOfNode(k.known, n); i >= 0 {
		k.known = removeAt(k.known, i)
	}
	var callbacks []func()
	if i := IndexOfNode(k.connected, n); i >= 0 {
		k.connected[i] = n
	} else {
		k.connected = append(k.connected, n)
		if len(k.connected) == 1 {
			callbacks = append(callbacks, k.onHubConnected...)
		}
	}
	callbacks = append(callbacks, k.onChange...)
	k.l.Unlock()

	k.fire(callbacks)
	return true
}

// SetDisconnected moves a hub back into the known list when its persistent
// connection closes.
func (k *KnownHubList) SetDisconnected(n *NodeInfo) bool {
	if n == nil {
		return false
	}

	k.l.Lock()
	i := IndexOfNode(k.connected, n)
	if i < 0 {
		k.l.Unlock()
		return false
	}
	prev := k.connected[i]
	k.connected = removeAt(k.connected, i)
	if !ContainsNode(k.known, prev) {
		k.known = append(k.known, prev)
	}
	var callbacks []func()
	if len(k.connected) == 0 {
		callbacks = append(callbacks, k.onHubDisconnected...)
	}
	callbacks = append(callbacks, k.onChange...)
	k.l.Unlock()

	k.fire(callbacks)
	return true
}

// Len returns the number of connected and known hubs.
func (k *KnownHubList) Len() (connected, known int) {
	k.l.Lock()
	defer k.l.Unlock()
	return len(k.connected), len(k.known)
}

// Equal compares list sizes, the counts of the connected hubs and the mode and
// GUID of the known hubs, position by position.
func (k *KnownHubList) Equal(other *KnownHubList) bool {
	if other == nil {
		return false
	}
	a, b := k.ConnectedHubs(), other.ConnectedHubs()
	c, d := k.KnownHubs(), other.KnownHubs()
	if len(a) != len(b) || len(c) != len(d) {
		return false
	}
	for i := range a {
		if a[i].HubCount != b[i].HubCount || a[i].LeafCount != b[i].LeafCount {
			return false
		}
	}
	for i := range c {
		if c[i].Mode != d[i].Mode || c[i].GUID != d[i].GUID {
			return false
		}
	}
	return true
}

func (k *KnownHubList) String() string {
	connected, known := k.ConnectedHubs(), k.KnownHubs()
	names := func(list []*NodeInfo) string {
		s := make([]string, len(list))
		for i, n := range list {
			s[i] = n.String()
		}
		return strings.Join(s, ", ")
	}
	return fmt.Sprintf("%d connected hubs (%s), %d known hubs (%s)",
		len(connected), names(connected), len(known), names(known))
}

// ToMessage returns a KHLi message carrying both lists.
func (k *KnownHubList) ToMessage() *message.Message {
	m := message.New(KnownHubListID)
	k.AppendTo(m)
	return m
}

// AppendTo writes the connected count, the known count, then the connected
// and known descriptors.
func (k *KnownHubList) AppendTo(m *message.Message) {
	k.l.Lock()
	defer k.l.Unlock()
	m.AppendInt32(int32(len(k.connected)))
	m.AppendInt32(int32(len(k.known)))
	for _, n := range k.connected {
		n.AppendTo(m)
	}
	for _, n := range k.known {
		n.AppendTo(m)
	}
}

// KnownHubListFromMessage parses a KHLi message. The result has no owner.
func KnownHubListFromMessage(m *message.Message) (*KnownHubList, error) {
	if m.ID() != KnownHubListID {
		return nil, message.WrongType(KnownHubListID, m.ID())
	}
	r := message.NewReader(m)
	k := ReadKnownHubList(r)
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return k, nil
}

// ReadKnownHubList reads lists written by AppendTo. Errors are left in the
// reader.
func ReadKnownHubList(r *message.Reader) *KnownHubList {
	k := &KnownHubList{}
	connected := int(r.ExtractInt32())
	known := int(r.ExtractInt32())
	if connected < 0 || known < 0 {
		r.Fail(fmt.Errorf("negative hub count"))
		return k
	}
	for i := 0; i < connected && r.Err() == nil; i++ {
		k.connected = append(k.connected, ReadNodeInfo(r))
	}
	for i := 0; i < known && r.Err() == nil; i++ {
		k.known = append(k.known, ReadNodeInfo(r))
	}
	return k
}

func (k *KnownHubList) changeCallbacks() []func() {
	k.l.Lock()
	defer k.l.Unlock()
	return append([]func(){}, k.onChange...)
}

func (k *KnownHubList) fire(callbacks []func()) {
	for _, f := range callbacks {
		f()
	}
}

func removeAt(list []*NodeInfo, i int) []*NodeInfo {
	res := make([]*NodeInfo, 0, len(list)-1)
	res = append(res, list[:i]...)
	return append(res, list[i+1:]...)
}
