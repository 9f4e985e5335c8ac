package message

import (
	"github.com/google/uuid"
)

// Reader walks a Message from just after its identifier. The first failed
// extraction is remembered: later calls return zero values and Err keeps
// reporting the original failure, so a parser can read a whole structure and
// check once.
type Reader struct {
	msg *Message
	pos int
	err error
}

// NewReader returns a Reader positioned at the first payload byte.
func NewReader(m *Message) *Reader {
	return &Reader{msg: m, pos: IDLength}
}

// Message returns the message being read.
func (r *Reader) Message() *Message {
	return r.msg
}

// Position returns the offset of the next byte to be read.
func (r *Reader) Position() int {
	return r.pos
}

// Err returns the first extraction error, if any.
func (r *Reader) Err() error {
	return r.err
}

// AtEnd reports whether every byte has been consumed.
func (r *Reader) AtEnd() bool {
	return r.pos >= r.msg.Len()
}

// AssertAtEnd returns the sticky error if there is one, or ErrTrailingBytes
// if bytes remain.
func (r *Reader) AssertAtEnd() error {
	if r.err != nil {
		return r.err
	}
	if !r.AtEnd() {
		return ErrTrailingBytes
	}
	return nil
}

func (r *Reader) advance(n int, err error) bool {
	if err != nil {
		r.err = err
		return false
	}
	r.pos += n
	return true
}

// ExtractInt32 ...
func (r *Reader) ExtractInt32() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.msg.ExtractInt32(r.pos)
	r.advance(4, err)
	return v
}

// ExtractUint32 ...
func (r *Reader) ExtractUint32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.msg.ExtractUint32(r.pos)
	r.advance(4, err)
	return v
}

// ExtractInt64 ...
func (r *Reader) ExtractInt64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.msg.ExtractInt64(r.pos)
	r.advance(8, err)
	return v
}

// ExtractUint16 ...
func (r *Reader) ExtractUint16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.msg.ExtractUint16(r.pos)
	r.advance(2, err)
	return v
}

// ExtractByte ...
func (r *Reader) ExtractByte() byte {
	if r.err != nil {
		return 0
	}
	v, err := r.msg.ExtractByte(r.pos)
	r.advance(1, err)
	return v
}

// ExtractChar ...
func (r *Reader) ExtractChar() byte {
	return r.ExtractByte()
}

// ExtractBool ...
func (r *Reader) ExtractBool() bool {
	if r.err != nil {
		return false
	}
	v, err := r.msg.ExtractBool(r.pos)
	r.advance(1, err)
	return v
}

// ExtractGUID ...
func (r *Reader) ExtractGUID() uuid.UUID {
	if r.err != nil {
		return uuid.Nil
	}
	v, err := r.msg.ExtractGUID(r.pos)
	r.advance(len(v), err)
	return v
}

// ExtractString reads a counted UTF-8 string.
func (r *Reader) ExtractString() string {
	if r.err != nil {
		return ""
	}
	v, err := r.msg.ExtractString(r.pos)
	r.advance(4+len(v), err)
	return v
}

// ExtractCountedBytes reads an int32 count followed by that many bytes.
func (r *Reader) ExtractCountedBytes() []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.msg.ExtractCountedBytes(r.pos)
	r.advance(4+len(v), err)
	return v
}

// ExtractBytes reads n raw bytes.
func (r *Reader) ExtractBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.msg.ExtractBytes(r.pos, n)
	r.advance(n, err)
	return v
}

// ExtractRaw consumes the rest of the message as UTF-8.
func (r *Reader) ExtractRaw() string {
	if r.err != nil {
		return ""
	}
	v, err := r.msg.ExtractRaw(r.pos)
	r.advance(len(v), err)
	return v
}

// ExtractMessage reads an embedded message.
func (r *Reader) ExtractMessage() *Message {
	if r.err != nil {
		return nil
	}
	v, err := r.msg.ExtractMessage(r.pos)
	if err != nil {
		r.err = err
		return nil
	}
	r.pos += 4 + v.Len()
	return v
}

// Fail records err as the reader's error unless one is already set. Parsers
// use it to report semantic problems found while reading.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
