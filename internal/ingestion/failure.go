package ingestion

import (
	"errors"
	"fmt"

	"reelhouse/internal/manifest"
	"reelhouse/internal/transcode"
)

// FailureKind identifies which stage of the pipeline rejected an ingest.
// Kinds are stable strings: they are persisted on failed asset records and
// drive the HTTP status mapping.
type FailureKind string

const (
	KindValidation         FailureKind = "validation"
	KindStorage            FailureKind = "storage"
	KindInputUnreadable    FailureKind = "encoding_input_unreadable"
	KindEncoderCrashed     FailureKind = "encoding_crashed"
	KindEncodingTimeout    FailureKind = "encoding_timeout"
	KindEncodingCancelled  FailureKind = "encoding_cancelled"
	KindIncompleteManifest FailureKind = "incomplete_manifest"
	KindAssetBusy          FailureKind = "asset_busy"
	KindConcurrencyLimit   FailureKind = "concurrency_limit"
	KindInternal           FailureKind = "internal"
)

// Failure is the coordinator's error type. Message is safe to return to
// clients; Err carries the underlying cause for logs.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure unwraps err to the pipeline Failure, if any.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

func failValidation(message string) *Failure {
	return &Failure{Kind: KindValidation, Message: message}
}

func failStorage(message string, err error) *Failure {
	return &Failure{Kind: KindStorage, Message: message, Err: err}
}

func failInternal(message string, err error) *Failure {
	return &Failure{Kind: KindInternal, Message: message, Err: err}
}

// classifyPackaging maps orchestrator and verifier errors onto failure kinds.
func classifyPackaging(err error) *Failure {
	if errors.Is(err, transcode.ErrAssetBusy) {
		return &Failure{Kind: KindAssetBusy, Message: "asset is already being packaged", Err: err}
	}
	if errors.Is(err, transcode.ErrQueueFull) {
		return &Failure{Kind: KindConcurrencyLimit, Message: "packaging queue is full", Err: err}
	}
	if errors.Is(err, manifest.ErrIncompleteManifest) {
		return &Failure{Kind: KindIncompleteManifest, Message: "packaging produced incomplete output", Err: err}
	}
	if encErr, ok := transcode.AsEncodingError(err); ok {
		switch encErr.Kind {
		case transcode.KindInputUnreadable:
			return &Failure{Kind: KindInputUnreadable, Message: "source media is unreadable", Err: err}
		case transcode.KindTimeout:
			return &Failure{Kind: KindEncodingTimeout, Message: "packaging exceeded the time limit", Err: err}
		case transcode.KindCancelled:
			return &Failure{Kind: KindEncodingCancelled, Message: "packaging was cancelled", Err: err}
		default:
			return &Failure{Kind: KindEncoderCrashed, Message: "packaging failed", Err: err}
		}
	}
	return failInternal("packaging failed", err)
}

// terminal reports whether a failure should mark the asset record failed.
// Admission rejections leave the record in its prior state so the client can
// simply retry.
func (f *Failure) terminal() bool {
	switch f.Kind {
	case KindAssetBusy, KindConcurrencyLimit:
		return false
	default:
		return true
	}
}
