package conductor

import (
	"errors"
	"fmt"
)

// Sentinel errors for conductor operations.
var (
	ErrEmptySubmission     = errors.New("empty submission")
	ErrExchangeInFlight    = errors.New("exchange already in flight")
	ErrPlaceholderSession  = errors.New("cannot submit on the placeholder session")
	ErrToolProtocolAnomaly = errors.New("tool protocol anomaly")
	ErrStreamFailure       = errors.New("stream failure")
	ErrClosed              = errors.New("conductor closed")
)

// AnomalyKind names the way a tool event broke the call/result protocol.
type AnomalyKind string

const (
	AnomalyDuplicateCall   AnomalyKind = "duplicate-call"
	AnomalyUnknownResult   AnomalyKind = "unknown-result"
	AnomalyDuplicateResult AnomalyKind = "duplicate-result"
	AnomalyMissingID       AnomalyKind = "missing-tool-call-id"
)

// AnomalyError describes a dropped tool event.
type AnomalyError struct {
	Kind       AnomalyKind
	ToolCallID string
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrToolProtocolAnomaly, e.Kind, e.ToolCallID)
}

func (e *AnomalyError) Unwrap() error {
	return ErrToolProtocolAnomaly
}

// endpointError is an error event reported by the endpoint inside the stream.
type endpointError struct {
	message string
}

func (e *endpointError) Error() string {
	if e.message == "" {
		return "endpoint reported an error"
	}
	return "endpoint: " + e.message
}
