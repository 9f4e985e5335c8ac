package query

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

// Result is sent back to the origin of a query by a node holding matching
// content.
type Result struct {
	QueryGUID uuid.UUID
	Origin    *peers.NodeInfo

	// ResultNode holds the content. ConnectedNode, when set, is a hub with a
	// link to ResultNode, for results found on a leaf.
	ResultNode    *peers.NodeInfo
	ConnectedNode *peers.NodeInfo

	DataSize            int64
	HashCodeType        byte
	HashCode            []byte
	MatchingContents    string
	MatchingDescription string

	// ExtraInfo is an optional application-defined message.
	ExtraInfo *message.Message
}

// NewResult creates a result of q found on node.
func NewResult(q *Query, node *peers.NodeInfo) *Result {
	return &Result{
		QueryGUID:        q.GUID,
		Origin:           q.Origin,
		ResultNode:       node,
		MatchingContents: q.Contents,
	}
}

// ToMessage ...
func (r *Result) ToMessage() *message.Message {
	m := message.New(ResultID)
	m.AppendGUID(r.QueryGUID)
	r.Origin.AppendTo(m)
	r.ResultNode.AppendTo(m)
	m.AppendBool(r.ConnectedNode != nil)
	if r.ConnectedNode != nil {
		r.ConnectedNode.AppendTo(m)
	}
	m.AppendInt64(r.DataSize)
	m.AppendByte(r.HashCodeType)
	m.AppendCountedBytes(r.HashCode)
	m.AppendString(r.MatchingContents)
	m.AppendString(r.MatchingDescription)
	m.AppendBool(r.ExtraInfo != nil)
	if r.ExtraInfo != nil {
		m.AppendMessage(r.ExtraInfo)
	}
	return m
}

// ResultFromMessage ...
func ResultFromMessage(m *message.Message) (*Result, error) {
	if m.ID() != ResultID {
		return nil, message.WrongType(ResultID, m.ID())
	}
	rd := message.NewReader(m)
	res := &Result{
		QueryGUID:  rd.ExtractGUID(),
		Origin:     peers.ReadNodeInfo(rd),
		ResultNode: peers.ReadNodeInfo(rd),
	}
	if rd.ExtractBool() {
		res.ConnectedNode = peers.ReadNodeInfo(rd)
	}
	res.DataSize = rd.ExtractInt64()
	res.HashCodeType = rd.ExtractByte()
	res.HashCode = rd.ExtractCountedBytes()
	res.MatchingContents = rd.ExtractString()
	res.MatchingDescription = rd.ExtractString()
	if rd.ExtractBool() {
		res.ExtraInfo = rd.ExtractMessage()
	}
	if err := rd.AssertAtEnd(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Result) String() string {
	return fmt.Sprintf("result(%s, %q on %s)", r.QueryGUID, r.MatchingContents, r.ResultNode)
}
