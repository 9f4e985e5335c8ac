package peers

import (
	"fmt"
	"strings"

	"github.com/mosaicnetworks/hubnet/src/message"
)

// EndpointType tells whether an endpoint is reachable from inside the node's
// network or from the outside.
type EndpointType byte

const (
	// Internal endpoints are those the node is bound to
	Internal EndpointType = 1
	// External endpoints are advertised addresses, e.g. behind a NAT
	External EndpointType = 2
)

// Address lists the host:port endpoints where a node accepts connections.
type Address struct {
	Internal []string
	External []string
}

// NewAddress builds an Address from a bind address and an optional advertised
// one.
func NewAddress(bind, advertise string) Address {
	a := Address{}
	if bind != "" {
		a.Internal = []string{bind}
	}
	if advertise != "" && advertise != bind {
		a.External = []string{advertise}
	}
	return a
}

// Endpoints returns every endpoint, external ones first since they are the
// most likely to be reachable from another network.
func (a Address) Endpoints() []string {
	res := make([]string, 0, len(a.External)+len(a.Internal))
	res = append(res, a.External...)
	res = append(res, a.Internal...)
	return res
}

// IsEmpty ...
func (a Address) IsEmpty() bool {
	return len(a.Internal) == 0 && len(a.External) == 0
}

// Equal ...
func (a Address) Equal(b Address) bool {
	return equalStrings(a.Internal, b.Internal) && equalStrings(a.External, b.External)
}

func (a Address) String() string {
	return fmt.Sprintf("Internal: (%s); External: (%s)",
		strings.Join(a.Internal, " "), strings.Join(a.External, " "))
}

// AppendTo writes the endpoint count then each endpoint's type and
// host:port.
func (a Address) AppendTo(m *message.Message) {
	m.AppendUint16(uint16(len(a.Internal) + len(a.External)))
	for _, e := range a.Internal {
		m.AppendByte(byte(Internal))
		m.AppendString(e)
	}
	for _, e := range a.External {
		m.AppendByte(byte(External))
		m.AppendString(e)
	}
}

// ReadAddress reads an Address written by AppendTo.
func ReadAddress(r *message.Reader) Address {
	a := Address{}
	n := int(r.ExtractUint16())
	for i := 0; i < n && r.Err() == nil; i++ {
		t := EndpointType(r.ExtractByte())
		e := r.ExtractString()
		switch t {
		case Internal:
			a.Internal = append(a.Internal, e)
		case External:
			a.External = append(a.External, e)
		default:
			r.Fail(fmt.Errorf("bad endpoint type %d", t))
		}
	}
	return a
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
