package message

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// IDLength is the number of bytes occupied by the type identifier at the head
// of every message.
const IDLength = 4

// Message is a binary envelope whose first IDLength bytes identify its type.
// The identifier is fixed at construction. Appends only ever grow the buffer;
// readers keep their own cursor so a Message can be parsed many times.
type Message struct {
	bytes []byte
}

// New creates an empty message of the given type. It panics if id is not
// exactly IDLength bytes long, which is a programming error.
func New(id string) *Message {
	if len(id) != IDLength {
		panic(fmt.Sprintf("message id %q must be %d bytes", id, IDLength))
	}
	b := make([]byte, IDLength, 64)
	copy(b, id)
	return &Message{bytes: b}
}

// FromBytes wraps a frame received from the network. The slice is copied.
func FromBytes(b []byte) (*Message, error) {
	if len(b) < IDLength {
		return nil, ErrTooShort
	}
	c := make([]byte, len(b))
	copy(c, b)
	return &Message{bytes: c}, nil
}

// ID returns the 4-character type identifier.
func (m *Message) ID() string {
	return string(m.bytes[:IDLength])
}

// Bytes returns the full buffer, identifier included. The caller must not
// modify it.
func (m *Message) Bytes() []byte {
	return m.bytes
}

// Len returns the number of bytes in the message, identifier included.
func (m *Message) Len() int {
	return len(m.bytes)
}

// Payload returns the bytes following the identifier.
func (m *Message) Payload() []byte {
	return m.bytes[IDLength:]
}

// StartsWith reports whether the message begins with the UTF-8 encoding of
// text.
func (m *Message) StartsWith(text string) bool {
	return bytes.HasPrefix(m.bytes, []byte(text))
}

// Equal reports whether both messages hold identical bytes.
func (m *Message) Equal(other *Message) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(m.bytes, other.bytes)
}

// Compare orders messages bytewise; a shorter message that is a prefix of a
// longer one sorts first.
func (m *Message) Compare(other *Message) int {
	return bytes.Compare(m.bytes, other.bytes)
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := make([]byte, len(m.bytes))
	copy(c, m.bytes)
	return &Message{bytes: c}
}

func (m *Message) String() string {
	return fmt.Sprintf("%s[%d]", m.ID(), len(m.bytes))
}

/*******************************************************************************
Append

Every Append returns the offset at which the value starts, so that it can be
read back with the matching Extract method.
*******************************************************************************/

// AppendInt32 writes a little-endian int32.
func (m *Message) AppendInt32(v int32) int {
	return m.AppendUint32(uint32(v))
}

// AppendUint32 writes a little-endian uint32.
func (m *Message) AppendUint32(v uint32) int {
	off := len(m.bytes)
	m.bytes = binary.LittleEndian.AppendUint32(m.bytes, v)
	return off
}

// AppendInt64 writes a little-endian int64.
func (m *Message) AppendInt64(v int64) int {
	off := len(m.bytes)
	m.bytes = binary.LittleEndian.AppendUint64(m.bytes, uint64(v))
	return off
}

// AppendUint16 writes a little-endian uint16.
func (m *Message) AppendUint16(v uint16) int {
	off := len(m.bytes)
	m.bytes = binary.LittleEndian.AppendUint16(m.bytes, v)
	return off
}

// AppendByte writes a single byte.
func (m *Message) AppendByte(v byte) int {
	off := len(m.bytes)
	m.bytes = append(m.bytes, v)
	return off
}

// AppendChar writes a single-byte character.
func (m *Message) AppendChar(c byte) int {
	return m.AppendByte(c)
}

// AppendBool writes 1 for true and 0 for false.
func (m *Message) AppendBool(v bool) int {
	if v {
		return m.AppendByte(1)
	}
	return m.AppendByte(0)
}

// AppendGUID writes the 16 raw bytes of a GUID.
func (m *Message) AppendGUID(g uuid.UUID) int {
	off := len(m.bytes)
	m.bytes = append(m.bytes, g[:]...)
	return off
}

// AppendString writes an int32 byte count followed by the UTF-8 bytes.
func (m *Message) AppendString(s string) int {
	off := m.AppendInt32(int32(len(s)))
	m.bytes = append(m.bytes, s...)
	return off
}

// AppendRaw writes the UTF-8 bytes of s without a count. It is only readable
// at the tail of a message.
func (m *Message) AppendRaw(s string) int {
	off := len(m.bytes)
	m.bytes = append(m.bytes, s...)
	return off
}

// AppendBytes writes b without a count.
func (m *Message) AppendBytes(b []byte) int {
	off := len(m.bytes)
	m.bytes = append(m.bytes, b...)
	return off
}

// AppendCountedBytes writes an int32 byte count followed by b.
func (m *Message) AppendCountedBytes(b []byte) int {
	off := m.AppendInt32(int32(len(b)))
	m.bytes = append(m.bytes, b...)
	return off
}

// AppendMessage embeds another message as an int32 length followed by its
// bytes.
func (m *Message) AppendMessage(inner *Message) int {
	return m.AppendCountedBytes(inner.bytes)
}

/*******************************************************************************
Extract by offset
*******************************************************************************/

func (m *Message) span(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset > len(m.bytes)-n {
		return nil, outOfBounds(offset, n, len(m.bytes))
	}
	return m.bytes[offset : offset+n], nil
}

// ExtractInt32 reads a little-endian int32 at offset.
func (m *Message) ExtractInt32(offset int) (int32, error) {
	v, err := m.ExtractUint32(offset)
	return int32(v), err
}

// ExtractUint32 reads a little-endian uint32 at offset.
func (m *Message) ExtractUint32(offset int) (uint32, error) {
	b, err := m.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ExtractInt64 reads a little-endian int64 at offset.
func (m *Message) ExtractInt64(offset int) (int64, error) {
	b, err := m.span(offset, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ExtractUint16 reads a little-endian uint16 at offset.
func (m *Message) ExtractUint16(offset int) (uint16, error) {
	b, err := m.span(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ExtractByte reads one byte at offset.
func (m *Message) ExtractByte(offset int) (byte, error) {
	b, err := m.span(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ExtractChar reads a single-byte character at offset.
func (m *Message) ExtractChar(offset int) (byte, error) {
	return m.ExtractByte(offset)
}

// ExtractBool reads a boolean at offset. Only 1 is true.
func (m *Message) ExtractBool(offset int) (bool, error) {
	b, err := m.ExtractByte(offset)
	return b == 1, err
}

// ExtractGUID reads 16 bytes at offset.
func (m *Message) ExtractGUID(offset int) (uuid.UUID, error) {
	var g uuid.UUID
	b, err := m.span(offset, len(g))
	if err != nil {
		return uuid.Nil, err
	}
	copy(g[:], b)
	return g, nil
}

// ExtractCountedBytes reads an int32 count at offset followed by that many
// bytes. The result is a copy.
func (m *Message) ExtractCountedBytes(offset int) ([]byte, error) {
	n, err := m.ExtractInt32(offset)
	if err != nil {
		return nil, err
	}
	b, err := m.span(offset+4, int(n))
	if err != nil {
		return nil, err
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c, nil
}

// ExtractString reads a counted UTF-8 string at offset.
func (m *Message) ExtractString(offset int) (string, error) {
	n, err := m.ExtractInt32(offset)
	if err != nil {
		return "", err
	}
	b, err := m.span(offset+4, int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExtractBytes reads n raw bytes at offset.
func (m *Message) ExtractBytes(offset, n int) ([]byte, error) {
	b, err := m.span(offset, n)
	if err != nil {
		return nil, err
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c, nil
}

// ExtractRaw reads the remainder of the message from offset as UTF-8.
func (m *Message) ExtractRaw(offset int) (string, error) {
	b, err := m.span(offset, len(m.bytes)-offset)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExtractMessage reads an embedded message at offset.
func (m *Message) ExtractMessage(offset int) (*Message, error) {
	b, err := m.ExtractCountedBytes(offset)
	if err != nil {
		return nil, err
	}
	if len(b) < IDLength {
		return nil, ErrTooShort
	}
	return &Message{bytes: b}, nil
}
