package query

import (
	"sync"

	"github.com/mosaicnetworks/hubnet/src/broadcast"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/sirupsen/logrus"
)

// Processor handles a query on the local node and returns the acknowledgement
// a remote sender would receive, or nil when the local node is not a hub.
type Processor func(*Query) *Acknowledgement

// Querier tracks one outstanding query. It walks the hubs with the query and
// completes on the first result, or fails when its lifetime elapses.
type Querier struct {
	query   *Query
	bc      *broadcast.Broadcast
	process Processor
	logger  *logrus.Entry

	l        sync.Mutex
	result   *Result
	onResult []func(*Result)
}

// NewQuerier prepares a Querier for q. process is called once, on Start, so
// that a hub origin searches its own neighbourhood first.
func NewQuerier(
	q *Query,
	net broadcast.Network,
	process Processor,
	conf broadcast.Config,
	logger *logrus.Entry,
) *Querier {
	qr := &Querier{
		query:   q,
		process: process,
		logger:  logger.WithField("query", q.GUID),
	}
	qr.bc = broadcast.New(net, qr.send, conf, qr.logger)
	return qr
}

// Query returns the query being tracked.
func (qr *Querier) Query() *Query {
	return qr.query
}

// OnResult registers f to receive the result. It is called at most once.
func (qr *Querier) OnResult(f func(*Result)) {
	qr.l.Lock()
	defer qr.l.Unlock()
	qr.onResult = append(qr.onResult, f)
}

// OnStopped registers f to run once the querier stops, on success or not.
func (qr *Querier) OnStopped(f func(*Querier)) {
	qr.bc.OnStopped(func() { f(qr) })
}

// Start processes the query locally, then walks the hubs with it.
func (qr *Querier) Start() {
	qr.bc.Start()
	var ack *broadcast.Acknowledgement
	if local := qr.process(qr.query); local != nil {
		ack = &local.Acknowledgement
	}
	qr.bc.HandleAck(ack)
}

// HandleAck merges a hub's acknowledgement and moves on to the next hub.
func (qr *Querier) HandleAck(ack *Acknowledgement) {
	if ack == nil || ack.GUID != qr.query.GUID {
		return
	}
	qr.bc.HandleAck(&ack.Acknowledgement)
}

// HandleResult completes the query with res. It returns false if res belongs
// to another query, or if the querier already completed or gave up.
func (qr *Querier) HandleResult(res *Result) bool {
	if res.QueryGUID != qr.query.GUID || qr.bc.Stopped() {
		return false
	}

	qr.l.Lock()
	if qr.result != nil {
		qr.l.Unlock()
		return false
	}
	qr.result = res
	callbacks := qr.onResult
	qr.onResult = nil
	qr.l.Unlock()

	qr.logger.WithField("node", res.ResultNode.String()).Debug("Query answered")
	qr.Stop()

	for _, f := range callbacks {
		f(res)
	}
	return true
}

// Result returns the result, or nil if none arrived.
func (qr *Querier) Result() *Result {
	qr.l.Lock()
	defer qr.l.Unlock()
	return qr.result
}

// Stop cancels the query. It is safe to call concurrently and repeatedly.
func (qr *Querier) Stop() {
	qr.bc.Stop()
}

// Done is closed once the querier stops.
func (qr *Querier) Done() <-chan struct{} {
	return qr.bc.Done()
}

func (qr *Querier) send(l *link.Link) error {
	return l.Send(qr.query.ToMessage())
}
