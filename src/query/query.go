package query

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/broadcast"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

const (
	// QueryID identifies queries
	QueryID = "Qery"
	// AcknowledgementID identifies query acknowledgements
	AcknowledgementID = "QuAk"
	// ResultID identifies query results
	ResultID = "QRes"
)

// Query is a search for content, flooded from its origin through the hubs.
// The GUID and origin never change as the query travels; HopCount grows by one
// every time a node passes it on.
type Query struct {
	GUID       uuid.UUID
	Origin     *peers.NodeInfo
	Contents   string
	HopCount   int32
	Qualifiers []*message.Message
}

// New creates a query for contents from origin, under a fresh GUID.
func New(origin *peers.NodeInfo, contents string, qualifiers ...*message.Message) *Query {
	return &Query{
		GUID:       uuid.New(),
		Origin:     origin,
		Contents:   contents,
		Qualifiers: qualifiers,
	}
}

// Hopped returns the copy of q to send to the next node.
func (q *Query) Hopped() *Query {
	res := *q
	res.HopCount++
	return &res
}

// ToMessage ...
func (q *Query) ToMessage() *message.Message {
	m := message.New(QueryID)
	m.AppendGUID(q.GUID)
	q.Origin.AppendTo(m)
	m.AppendString(q.Contents)
	m.AppendInt32(q.HopCount)
	m.AppendInt32(int32(len(q.Qualifiers)))
	for _, qual := range q.Qualifiers {
		m.AppendMessage(qual)
	}
	return m
}

// FromMessage ...
func FromMessage(m *message.Message) (*Query, error) {
	if m.ID() != QueryID {
		return nil, message.WrongType(QueryID, m.ID())
	}
	r := message.NewReader(m)
	q := &Query{
		GUID:     r.ExtractGUID(),
		Origin:   peers.ReadNodeInfo(r),
		Contents: r.ExtractString(),
		HopCount: r.ExtractInt32(),
	}
	count := int(r.ExtractInt32())
	if count < 0 {
		return nil, fmt.Errorf("negative qualifier count %d", count)
	}
	for i := 0; i < count && r.Err() == nil; i++ {
		q.Qualifiers = append(q.Qualifiers, r.ExtractMessage())
	}
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Query) String() string {
	return fmt.Sprintf("query(%s, %q, hop %d)", q.GUID, q.Contents, q.HopCount)
}

// Acknowledgement is returned by the first hub a query reaches from its
// origin. It lists the hubs the query has been passed to and the hubs the
// origin could try next. A dead end has nothing that could match.
type Acknowledgement struct {
	GUID uuid.UUID
	broadcast.Acknowledgement
}

// ToMessage ...
func (a *Acknowledgement) ToMessage() *message.Message {
	m := message.New(AcknowledgementID)
	m.AppendGUID(a.GUID)
	a.Acknowledgement.AppendTo(m)
	return m
}

// AcknowledgementFromMessage ...
func AcknowledgementFromMessage(m *message.Message) (*Acknowledgement, error) {
	if m.ID() != AcknowledgementID {
		return nil, message.WrongType(AcknowledgementID, m.ID())
	}
	r := message.NewReader(m)
	res := &Acknowledgement{GUID: r.ExtractGUID()}
	res.Acknowledgement = broadcast.ReadAcknowledgement(r)
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return res, nil
}
