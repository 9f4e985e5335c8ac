package link

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/hubnet/src/common"
)

const (
	// maxPingSamples bounds the round-trip times kept for PingTime.
	maxPingSamples = 16

	// maxCountedTypes bounds the message types counted separately. Traffic of
	// further types is counted under OtherTypes.
	maxCountedTypes = 64

	// OtherTypes is the counter key for types beyond maxCountedTypes.
	OtherTypes = "*"
)

// Counter accumulates messages and bytes of one type.
type Counter struct {
	Messages int64 `json:"messages"`
	Bytes    int64 `json:"bytes"`
}

// Stats is a snapshot of the traffic seen on a link.
type Stats struct {
	Received      map[string]Counter `json:"received"`
	Sent          map[string]Counter `json:"sent"`
	PingsReceived int64              `json:"pings_received"`
	PongsReceived int64              `json:"pongs_received"`
	LastReceived  time.Time          `json:"last_received"`
	PingTime      time.Duration      `json:"ping_time"`
	Dropped       int64              `json:"dropped"`
}

type stats struct {
	sync.Mutex
	received      map[string]Counter
	sent          map[string]Counter
	pingsReceived int64
	pongsReceived int64
	lastReceived  time.Time
	pingTimes     []time.Duration
	dropped       int64
}

func newStats() *stats {
	return &stats{
		received:     make(map[string]Counter),
		sent:         make(map[string]Counter),
		lastReceived: time.Now(),
	}
}

func (s *stats) onReceived(id string, size int) {
	s.Lock()
	defer s.Unlock()
	count(s.received, id, size)
	s.lastReceived = time.Now()
}

func (s *stats) onSent(id string, size int) {
	s.Lock()
	defer s.Unlock()
	count(s.sent, id, size)
}

func (s *stats) onDropped() {
	s.Lock()
	s.dropped++
	s.Unlock()
}

func count(counters map[string]Counter, id string, size int) {
	if _, ok := counters[id]; !ok && len(counters) >= maxCountedTypes {
		id = OtherTypes
	}
	c := counters[id]
	c.Messages++
	c.Bytes += int64(size)
	counters[id] = c
}

func (s *stats) onPing() {
	s.Lock()
	s.pingsReceived++
	s.Unlock()
}

func (s *stats) onPong(rtt time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.pongsReceived++
	if rtt <= 0 {
		return
	}
	if len(s.pingTimes) == maxPingSamples {
		s.pingTimes = s.pingTimes[1:]
	}
	s.pingTimes = append(s.pingTimes, rtt)
}

func (s *stats) sinceLastReceived() time.Duration {
	s.Lock()
	defer s.Unlock()
	return time.Since(s.lastReceived)
}

func (s *stats) snapshot() Stats {
	s.Lock()
	defer s.Unlock()

	res := Stats{
		Received:      make(map[string]Counter, len(s.received)),
		Sent:          make(map[string]Counter, len(s.sent)),
		PingsReceived: s.pingsReceived,
		PongsReceived: s.pongsReceived,
		LastReceived:  s.lastReceived,
		Dropped:       s.dropped,
	}
	for k, v := range s.received {
		res.Received[k] = v
	}
	for k, v := range s.sent {
		res.Sent[k] = v
	}
	if len(s.pingTimes) > 0 {
		res.PingTime = common.MedianDuration(s.pingTimes)
	}
	return res
}
