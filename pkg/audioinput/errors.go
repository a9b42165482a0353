package audioinput

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input: no audio provided")
	ErrUnsupportedInputType = errors.New("unsupported input type")
	ErrEmptyAudio           = errors.New("empty audio data")
	ErrDecode               = errors.New("unable to decode audio data")
)

// DecodeError is returned when a container file could not be decoded.
type DecodeError struct {
	Container string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrDecode, e.Container, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
