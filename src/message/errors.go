package message

import (
	"github.com/pkg/errors"
)

var (
	// ErrOutOfBounds is returned when an extraction would read past the end of
	// the message.
	ErrOutOfBounds = errors.New("extracting outside of the message contents")

	// ErrTooShort is returned when a buffer cannot even hold an identifier.
	ErrTooShort = errors.New("message shorter than its identifier")

	// ErrWrongType is returned when a message is parsed as a type it does not
	// carry.
	ErrWrongType = errors.New("unexpected message type")

	// ErrTrailingBytes is returned by AssertAtEnd when a reader has not
	// consumed the whole message.
	ErrTrailingBytes = errors.New("unparsed bytes at end of message")
)

func outOfBounds(offset, n, length int) error {
	return errors.Wrapf(ErrOutOfBounds, "offset %d, size %d, length %d", offset, n, length)
}

// WrongType builds an ErrWrongType for a message whose identifier is got
// when want was expected.
func WrongType(want, got string) error {
	return errors.Wrapf(ErrWrongType, "want %s, got %s", want, got)
}

// IsOutOfBounds reports whether err originates from a bounds violation.
func IsOutOfBounds(err error) bool {
	return errors.Cause(err) == ErrOutOfBounds
}
