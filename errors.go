package pdfbridge

import (
	"errors"
	"fmt"
)

var (
	ErrTooLargeToCache      = errors.New("document too large to cache")
	ErrRangeLength          = errors.New("range length must be positive")
	ErrUnknownDocument      = errors.New("unknown document")
	ErrCallTimeout          = errors.New("bridge call timed out")
	ErrStreamingUnsupported = errors.New("streaming unsupported")
)

// ProtocolError is an error result carried back over the bridge.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Is matches any *ProtocolError target, for errors.Is checks.
func (e *ProtocolError) Is(target error) bool {
	_, ok := target.(*ProtocolError)
	return ok
}
