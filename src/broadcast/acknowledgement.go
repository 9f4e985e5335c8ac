package broadcast

import (
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

// Acknowledgement reports how far a broadcast got at one hub: the hubs that
// have seen it, the hubs that could be tried next, and whether the hub was a
// dead end.
type Acknowledgement struct {
	Visited    []*peers.NodeInfo
	Candidates []*peers.NodeInfo
	IsDeadEnd  bool
}

// AppendTo writes the visited list, the candidate list and the dead-end flag.
func (a *Acknowledgement) AppendTo(m *message.Message) {
	peers.AppendNodeInfos(m, a.Visited)
	peers.AppendNodeInfos(m, a.Candidates)
	m.AppendBool(a.IsDeadEnd)
}

// ReadAcknowledgement reads what AppendTo wrote.
func ReadAcknowledgement(r *message.Reader) Acknowledgement {
	var a Acknowledgement
	a.Visited = peers.ReadNodeInfos(r)
	a.Candidates = peers.ReadNodeInfos(r)
	a.IsDeadEnd = r.ExtractBool()
	return a
}
