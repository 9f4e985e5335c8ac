package relay

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/broadcast"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

const (
	// MessageRelayID identifies relay envelopes
	MessageRelayID = "MRel"
	// AcknowledgementID identifies relay acknowledgements
	AcknowledgementID = "MRAk"
)

// MessageRelay is an envelope carrying a message to a node that may not be
// directly connected to the sender.
type MessageRelay struct {
	GUID       uuid.UUID
	ToNodeGUID uuid.UUID
	Message    *message.Message
}

// NewMessageRelay wraps m for delivery to the node identified by to, under a
// fresh GUID.
func NewMessageRelay(m *message.Message, to uuid.UUID) *MessageRelay {
	return &MessageRelay{
		GUID:       uuid.New(),
		ToNodeGUID: to,
		Message:    m,
	}
}

// ToMessage ...
func (r *MessageRelay) ToMessage() *message.Message {
	m := message.New(MessageRelayID)
	m.AppendGUID(r.GUID)
	m.AppendGUID(r.ToNodeGUID)
	m.AppendMessage(r.Message)
	return m
}

// FromMessage ...
func FromMessage(m *message.Message) (*MessageRelay, error) {
	if m.ID() != MessageRelayID {
		return nil, message.WrongType(MessageRelayID, m.ID())
	}
	r := message.NewReader(m)
	res := &MessageRelay{
		GUID:       r.ExtractGUID(),
		ToNodeGUID: r.ExtractGUID(),
		Message:    r.ExtractMessage(),
	}
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *MessageRelay) String() string {
	return fmt.Sprintf("relay(%s, %s to %s)", r.GUID, r.Message.ID(), r.ToNodeGUID)
}

// Acknowledgement is returned by every hub a relay envelope reaches. A
// dead-end acknowledgement lists the hubs to try next; any other means the
// inner message was handed to its recipient.
type Acknowledgement struct {
	GUID       uuid.UUID
	ToNodeGUID uuid.UUID
	broadcast.Acknowledgement
}

// Delivered acknowledges delivery of relay.
func Delivered(relay *MessageRelay) *Acknowledgement {
	return &Acknowledgement{
		GUID:       relay.GUID,
		ToNodeGUID: relay.ToNodeGUID,
	}
}

// DeadEnd reports that relay could not be delivered from here.
func DeadEnd(relay *MessageRelay, visited, candidates []*peers.NodeInfo) *Acknowledgement {
	return &Acknowledgement{
		GUID:       relay.GUID,
		ToNodeGUID: relay.ToNodeGUID,
		Acknowledgement: broadcast.Acknowledgement{
			Visited:    visited,
			Candidates: candidates,
			IsDeadEnd:  true,
		},
	}
}

// ToMessage ...
func (a *Acknowledgement) ToMessage() *message.Message {
	m := message.New(AcknowledgementID)
	m.AppendGUID(a.GUID)
	m.AppendGUID(a.ToNodeGUID)
	a.Acknowledgement.AppendTo(m)
	return m
}

// AcknowledgementFromMessage ...
func AcknowledgementFromMessage(m *message.Message) (*Acknowledgement, error) {
	if m.ID() != AcknowledgementID {
		return nil, message.WrongType(AcknowledgementID, m.ID())
	}
	r := message.NewReader(m)
	res := &Acknowledgement{
		GUID:       r.ExtractGUID(),
		ToNodeGUID: r.ExtractGUID(),
	}
	res.Acknowledgement = broadcast.ReadAcknowledgement(r)
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return res, nil
}
