package peers

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/message"
)

// LocalNodeInfoID identifies NodeInfo announcements.
const LocalNodeInfoID = "LNIn"

// Mode is the operating mode of a node. Its value is the character used on
// the wire.
type Mode byte

const (
	// Unknown ...
	Unknown Mode = 'U'
	// Hub ...
	Hub Mode = 'H'
	// Leaf ...
	Leaf Mode = 'L'
)

// String ...
func (m Mode) String() string {
	switch m {
	case Hub:
		return "Hub"
	case Leaf:
		return "Leaf"
	default:
		return "Unknown"
	}
}

// NodeID is the part of a node's identity that never changes: its GUID and
// public key.
type NodeID struct {
	GUID      uuid.UUID
	PublicKey []byte
}

// NewNodeID ...
func NewNodeID(guid uuid.UUID, pub []byte) NodeID {
	return NodeID{GUID: guid, PublicKey: pub}
}

// Equal compares both the GUID and the public key.
func (id NodeID) Equal(other NodeID) bool {
	return id.GUID == other.GUID && bytes.Equal(id.PublicKey, other.PublicKey)
}

// PubKeyHex returns the 0X-prefixed hexadecimal form of the public key.
func (id NodeID) PubKeyHex() string {
	return common.EncodeToString(id.PublicKey)
}

func (id NodeID) String() string {
	return id.GUID.String()
}

// NodeInfo describes a node as it announces itself to its neighbours.
type NodeInfo struct {
	NodeID
	Mode         Mode
	HubCount     int32
	LeafCount    int32
	Address      Address
	FriendlyName string
}

// NewNodeInfo creates the descriptor of a node in the given mode.
func NewNodeInfo(guid uuid.UUID, pub []byte, mode Mode, addr Address, name string) *NodeInfo {
	return &NodeInfo{
		NodeID:       NewNodeID(guid, pub),
		Mode:         mode,
		Address:      addr,
		FriendlyName: name,
	}
}

// IsHub ...
func (n *NodeInfo) IsHub() bool {
	return n.Mode == Hub
}

// IsLeaf ...
func (n *NodeInfo) IsLeaf() bool {
	return n.Mode == Leaf
}

// SameNode reports whether both descriptors belong to the same node, i.e.
// share a GUID. Collections of NodeInfo are keyed this way, since the counts
// and address of a node change over time.
func (n *NodeInfo) SameNode(other *NodeInfo) bool {
	return n != nil && other != nil && n.GUID == other.GUID
}

// Equal compares every field.
func (n *NodeInfo) Equal(other *NodeInfo) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.NodeID.Equal(other.NodeID) &&
		n.Mode == other.Mode &&
		n.HubCount == other.HubCount &&
		n.LeafCount == other.LeafCount &&
		n.Address.Equal(other.Address) &&
		n.FriendlyName == other.FriendlyName
}

// Clone returns a deep copy.
func (n *NodeInfo) Clone() *NodeInfo {
	c := *n
	c.PublicKey = append([]byte(nil), n.PublicKey...)
	c.Address = Address{
		Internal: append([]string(nil), n.Address.Internal...),
		External: append([]string(nil), n.Address.External...),
	}
	return &c
}

func (n *NodeInfo) String() string {
	if n.FriendlyName != "" {
		return fmt.Sprintf("%s(%s)", n.FriendlyName, n.GUID)
	}
	return n.GUID.String()
}

// ToMessage returns an LNIn message carrying the descriptor.
func (n *NodeInfo) ToMessage() *message.Message {
	m := message.New(LocalNodeInfoID)
	n.AppendTo(m)
	return m
}

// AppendTo writes the descriptor into an existing message.
func (n *NodeInfo) AppendTo(m *message.Message) {
	switch n.Mode {
	case Hub, Leaf:
		m.AppendChar(byte(n.Mode))
	default:
		m.AppendChar(byte(Unknown))
	}
	m.AppendInt32(n.HubCount)
	m.AppendInt32(n.LeafCount)
	m.AppendGUID(n.GUID)
	n.Address.AppendTo(m)
	m.AppendString(n.FriendlyName)
	m.AppendCountedBytes(n.PublicKey)
}

// NodeInfoFromMessage parses an LNIn message. Extra bytes are an error.
func NodeInfoFromMessage(m *message.Message) (*NodeInfo, error) {
	if m.ID() != LocalNodeInfoID {
		return nil, message.WrongType(LocalNodeInfoID, m.ID())
	}
	r := message.NewReader(m)
	n := ReadNodeInfo(r)
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return n, nil
}

// ReadNodeInfo reads a descriptor written by AppendTo. Errors are left in the
// reader.
func ReadNodeInfo(r *message.Reader) *NodeInfo {
	n := &NodeInfo{}
	switch mode := Mode(r.ExtractChar()); mode {
	case Hub, Leaf, Unknown:
		n.Mode = mode
	default:
		r.Fail(fmt.Errorf("bad node mode %q", byte(mode)))
	}
	n.HubCount = r.ExtractInt32()
	n.LeafCount = r.ExtractInt32()
	n.GUID = r.ExtractGUID()
	n.Address = ReadAddress(r)
	n.FriendlyName = r.ExtractString()
	n.PublicKey = r.ExtractCountedBytes()
	return n
}

// AppendNodeInfos writes an int32 count followed by each descriptor.
func AppendNodeInfos(m *message.Message, infos []*NodeInfo) {
	m.AppendInt32(int32(len(infos)))
	for _, n := range infos {
		n.AppendTo(m)
	}
}

// ReadNodeInfos reads a list written by AppendNodeInfos.
func ReadNodeInfos(r *message.Reader) []*NodeInfo {
	count := int(r.ExtractInt32())
	if count < 0 {
		r.Fail(fmt.Errorf("negative node count %d", count))
		return nil
	}
	var res []*NodeInfo
	for i := 0; i < count && r.Err() == nil; i++ {
		res = append(res, ReadNodeInfo(r))
	}
	return res
}

// ContainsNode reports whether list holds a descriptor of the same node as n.
func ContainsNode(list []*NodeInfo, n *NodeInfo) bool {
	return IndexOfNode(list, n) >= 0
}

// IndexOfNode returns the position of the descriptor of the same node as n,
// or -1.
func IndexOfNode(list []*NodeInfo, n *NodeInfo) int {
	for i, e := range list {
		if e.SameNode(n) {
			return i
		}
	}
	return -1
}
