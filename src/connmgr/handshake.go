package connmgr

import (
	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

const (
	// RequestID identifies the first message sent by the dialling node
	RequestID = "CoRq"
	// ResponseID identifies the reply of the accepting node
	ResponseID = "CoRs"
)

// Request opens a connection. To is the node the dialler expects to reach, or
// uuid.Nil when dialling an address without knowing who listens there.
type Request struct {
	Persistent bool
	From       *peers.NodeInfo
	KnownHubs  *peers.KnownHubList
	To         uuid.UUID
}

// ToMessage ...
func (r *Request) ToMessage() *message.Message {
	m := message.New(RequestID)
	m.AppendBool(r.Persistent)
	r.From.AppendTo(m)
	r.KnownHubs.AppendTo(m)
	m.AppendGUID(r.To)
	return m
}

// RequestFromMessage ...
func RequestFromMessage(m *message.Message) (*Request, error) {
	if m.ID() != RequestID {
		return nil, message.WrongType(RequestID, m.ID())
	}
	r := message.NewReader(m)
	req := &Request{
		Persistent: r.ExtractBool(),
		From:       peers.ReadNodeInfo(r),
		KnownHubs:  peers.ReadKnownHubList(r),
		To:         r.ExtractGUID(),
	}
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return req, nil
}

// IsTo reports whether the request is meant for the node with GUID guid.
func (r *Request) IsTo(guid uuid.UUID) bool {
	return r.To == uuid.Nil || r.To == guid
}

// Response accepts or refuses a Request. Error is NoError when the connection
// is accepted.
type Response struct {
	Persistent bool
	From       *peers.NodeInfo
	KnownHubs  *peers.KnownHubList
	Error      common.ConnectionErrType
}

// ToMessage ...
func (r *Response) ToMessage() *message.Message {
	m := message.New(ResponseID)
	m.AppendBool(r.Persistent)
	r.From.AppendTo(m)
	r.KnownHubs.AppendTo(m)
	m.AppendByte(byte(r.Error))
	return m
}

// ResponseFromMessage ...
func ResponseFromMessage(m *message.Message) (*Response, error) {
	if m.ID() != ResponseID {
		return nil, message.WrongType(ResponseID, m.ID())
	}
	r := message.NewReader(m)
	resp := &Response{
		Persistent: r.ExtractBool(),
		From:       peers.ReadNodeInfo(r),
		KnownHubs:  peers.ReadKnownHubList(r),
		Error:      common.ConnectionErrType(r.ExtractByte()),
	}
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return resp, nil
}
