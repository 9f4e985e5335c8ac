package qht

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/klauspost/compress/zstd"
	"github.com/mosaicnetworks/hubnet/src/message"
)

// QueryHashTableID identifies query hash table announcements.
const QueryHashTableID = "QHaT"

const (
	// SizeInBits is the number of bits of every table. Tables must share their
	// geometry to be merged.
	SizeInBits = 1 << 20
	// HashCount is the number of hash functions.
	HashCount = 3

	// maxDecompressed bounds the decoded size of a table received from a peer.
	maxDecompressed = 4 * SizeInBits / 8
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressed))

	// binary size of every well-formed table
	encodedSize = func() int {
		b, _ := bloom.New(SizeInBits, HashCount).MarshalBinary()
		return len(b)
	}()
)

// QueryHashTable is a mergeable, case-insensitive probabilistic string set.
// It is safe for concurrent use.
type QueryHashTable struct {
	l      sync.RWMutex
	filter *bloom.BloomFilter

	compress bool

	onChange  []func()
	suspended int
	pending   bool
}

// New returns an empty table.
func New() *QueryHashTable {
	return &QueryHashTable{
		filter:   bloom.New(SizeInBits, HashCount),
		compress: true,
	}
}

// SetCompression controls whether ToMessage compresses the table.
func (q *QueryHashTable) SetCompression(compress bool) {
	q.l.Lock()
	defer q.l.Unlock()
	q.compress = compress
}

// OnChange registers a callback fired after every Add, Set or Clear, unless
// notifications are suspended by BeginUpdate.
func (q *QueryHashTable) OnChange(f func()) {
	q.l.Lock()
	defer q.l.Unlock()
	q.onChange = append(q.onChange, f)
}

// BeginUpdate suspends change notifications until the matching EndUpdate, so
// that adding many strings fires a single notification.
func (q *QueryHashTable) BeginUpdate() {
	q.l.Lock()
	defer q.l.Unlock()
	q.suspended++
}

// EndUpdate resumes notifications and fires one if anything changed in
// between.
func (q *QueryHashTable) EndUpdate() {
	q.l.Lock()
	if q.suspended > 0 {
		q.suspended--
	}
	callbacks := q.changed(false)
	q.l.Unlock()
	fire(callbacks)
}

// Add inserts a string.
func (q *QueryHashTable) Add(s string) {
	q.l.Lock()
	q.filter.AddString(normalize(s))
	callbacks := q.changed(true)
	q.l.Unlock()
	fire(callbacks)
}

// AddWords inserts the whole text and each of its words, which is how content
// should be indexed for MayContain to match multi-word queries.
func (q *QueryHashTable) AddWords(text string) {
	q.l.Lock()
	q.filter.AddString(normalize(text))
	for _, w := range strings.Fields(text) {
		q.filter.AddString(normalize(w))
	}
	callbacks := q.changed(true)
	q.l.Unlock()
	fire(callbacks)
}

// Merge ORs another table into this one. Merging a table with itself is
// allowed and only fires a notification.
func (q *QueryHashTable) Merge(other *QueryHashTable) error {
	if other == nil {
		return nil
	}
	var snapshot *bloom.BloomFilter
	if other != q {
		other.l.RLock()
		snapshot = other.filter.Copy()
		other.l.RUnlock()
	}

	q.l.Lock()
	if snapshot != nil {
		if err := q.filter.Merge(snapshot); err != nil {
			q.l.Unlock()
			return err
		}
	}
	callbacks := q.changed(true)
	q.l.Unlock()
	fire(callbacks)
	return nil
}

// Set replaces the content of the table with that of another.
func (q *QueryHashTable) Set(other *QueryHashTable) {
	var snapshot *bloom.BloomFilter
	if other != nil {
		other.l.RLock()
		snapshot = other.filter.Copy()
		other.l.RUnlock()
	} else {
		snapshot = bloom.New(SizeInBits, HashCount)
	}

	q.l.Lock()
	q.filter = snapshot
	callbacks := q.changed(true)
	q.l.Unlock()
	fire(callbacks)
}

// Clear resets every bit.
func (q *QueryHashTable) Clear() {
	q.l.Lock()
	q.filter.ClearAll()
	callbacks := q.changed(true)
	q.l.Unlock()
	fire(callbacks)
}

// MayContain reports whether text may have been added. It is never false for
// a string that was added. A multi-word text matches when the whole text or
// every one of its words was added.
func (q *QueryHashTable) MayContain(text string) bool {
	q.l.RLock()
	defer q.l.RUnlock()

	if q.filter.TestString(normalize(text)) {
		return true
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !q.filter.TestString(normalize(w)) {
			return false
		}
	}
	return true
}

// Equal reports whether both tables have the same bits set.
func (q *QueryHashTable) Equal(other *QueryHashTable) bool {
	if other == nil {
		return false
	}
	if other == q {
		return true
	}
	q.l.RLock()
	defer q.l.RUnlock()
	other.l.RLock()
	defer other.l.RUnlock()
	return q.filter.Equal(other.filter)
}

// Clone returns an independent copy without subscribers.
func (q *QueryHashTable) Clone() *QueryHashTable {
	q.l.RLock()
	defer q.l.RUnlock()
	return &QueryHashTable{
		filter:   q.filter.Copy(),
		compress: q.compress,
	}
}

// FillRatio returns the fraction of bits set, an indication of the false
// positive rate.
func (q *QueryHashTable) FillRatio() float64 {
	q.l.RLock()
	defer q.l.RUnlock()
	return float64(q.filter.BitSet().Count()) / float64(q.filter.Cap())
}

// ToMessage returns a QHaT message carrying the table.
func (q *QueryHashTable) ToMessage() (*message.Message, error) {
	m := message.New(QueryHashTableID)
	if err := q.AppendTo(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AppendTo writes a compression flag followed by the counted binary form of
// the filter.
func (q *QueryHashTable) AppendTo(m *message.Message) error {
	q.l.RLock()
	data, err := q.filter.MarshalBinary()
	compress := q.compress
	q.l.RUnlock()
	if err != nil {
		return err
	}

	if compress {
		data = encoder.EncodeAll(data, make([]byte, 0, len(data)/8))
	}
	m.AppendBool(compress)
	m.AppendCountedBytes(data)
	return nil
}

// FromMessage parses a QHaT message.
func FromMessage(m *message.Message) (*QueryHashTable, error) {
	if m.ID() != QueryHashTableID {
		return nil, message.WrongType(QueryHashTableID, m.ID())
	}
	r := message.NewReader(m)
	q, err := Read(r)
	if err != nil {
		return nil, err
	}
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return q, nil
}

// Read reads a table written by AppendTo. Tables with a different geometry are
// rejected since they could not be merged.
func Read(r *message.Reader) (*QueryHashTable, error) {
	compressed := r.ExtractBool()
	data := r.ExtractCountedBytes()
	if err := r.Err(); err != nil {
		return nil, err
	}

	if compressed {
		var err error
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, err
		}
	}

	if len(data) != encodedSize {
		return nil, fmt.Errorf("query hash table of %d bytes, want %d", len(data), encodedSize)
	}

	filter := &bloom.BloomFilter{}
	if err := filter.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if filter.Cap() != SizeInBits || filter.K() != HashCount {
		return nil, fmt.Errorf("query hash table geometry %d/%d, want %d/%d",
			filter.Cap(), filter.K(), SizeInBits, HashCount)
	}

	return &QueryHashTable{
		filter:   filter,
		compress: compressed,
	}, nil
}

// changed must be called with the lock held. It returns the callbacks to fire
// once the lock is released.
func (q *QueryHashTable) changed(mutated bool) []func() {
	if mutated {
		q.pending = true
	}
	if q.suspended > 0 || !q.pending {
		return nil
	}
	q.pending = false
	return append([]func(){}, q.onChange...)
}

func fire(callbacks []func()) {
	for _, f := range callbacks {
		f()
	}
}

func normalize(s string) string {
	return strings.ToLower(s)
}
