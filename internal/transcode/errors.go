package transcode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies how an encoding invocation failed. No kind is retried
// automatically by the orchestrator; retry policy belongs to the caller.
type ErrorKind string

const (
	// KindInputUnreadable means the source file is missing, empty, or not
	// decodable media.
	KindInputUnreadable ErrorKind = "input_unreadable"
	// KindEncoderCrashed means the external process exited nonzero.
	KindEncoderCrashed ErrorKind = "encoder_crashed"
	// KindTimeout means the wall-clock limit elapsed and the process was
	// terminated.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled means the caller's context was cancelled and the process
	// was terminated.
	KindCancelled ErrorKind = "cancelled"
)

// EncodingError reports a classified failure of the external encoder. Detail
// carries the tail of the encoder's diagnostic output for logs; it is never
// meant for end users.
type EncodingError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("encoding %s", e.Kind)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// AsEncodingError unwraps err into an EncodingError when present.
func AsEncodingError(err error) (*EncodingError, bool) {
	var encErr *EncodingError
	if errors.As(err, &encErr) {
		return encErr, true
	}
	return nil, false
}

var (
	// ErrAssetBusy signals that a job for the same asset is already in
	// flight; the request is rejected, not queued.
	ErrAssetBusy = errors.New("transcode job already in flight for asset")
	// ErrQueueFull signals that the bounded admission queue is full
	// (backpressure).
	ErrQueueFull = errors.New("transcode admission queue is full")

	errLadderEmpty           = errors.New("ladder requires at least one video representation")
	errLadderSegmentDuration = errors.New("ladder segment duration must be positive")
	errLadderDuplicateID     = errors.New("ladder representation IDs must be unique")
)
