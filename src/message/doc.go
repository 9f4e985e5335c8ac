// Package message implements the binary envelope shared by every overlay
// protocol.
//
// A Message starts with a 4-character type identifier (PING, LNIn, Qery, ...)
// followed by a payload built with the Append methods. Integers are
// little-endian, strings and byte arrays are prefixed with an int32 count, and
// GUIDs take 16 bytes. A message can embed another one, which is how relay
// envelopes and signed or encrypted envelopes carry arbitrary traffic.
//
// Values can be read back by offset, using the offset returned by the Append
// call, or sequentially with a Reader. Reading past the end of the buffer is
// always an error; a garbled frame from a remote peer never yields truncated
// values.
package message
