package protocol

import (
	"errors"
	"fmt"
)

const (
	// Batch level: the reply could not be decoded; no command ran.
	ErrCodeProtocol = "E_PROTOCOL"

	// Command level: degraded locally, never propagated.
	ErrCodeUnknownReference = "E_UNKNOWN_REFERENCE"
	ErrCodeUnknownTemplate  = "E_UNKNOWN_TEMPLATE"
	ErrCodeUnknownEnumKey   = "E_UNKNOWN_ENUM_KEY"
	ErrCodeUnknownCommand   = "E_UNKNOWN_COMMAND"
	ErrCodeBadParams        = "E_BAD_PARAMS"
	ErrCodeHandlerPanic     = "E_HANDLER_PANIC"
	ErrCodeWorld            = "E_WORLD"
)

var knownCodes = map[string]struct{}{
	ErrCodeProtocol:         {},
	ErrCodeUnknownReference: {},
	ErrCodeUnknownTemplate:  {},
	ErrCodeUnknownEnumKey:   {},
	ErrCodeUnknownCommand:   {},
	ErrCodeBadParams:        {},
	ErrCodeHandlerPanic:     {},
	ErrCodeWorld:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var (
	// ErrUnknownReference marks a command addressing a group or mission that
	// is not (or no longer) registered. Handlers treat it as a no-op.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrUnknownTemplate marks a spawn request for an unmapped faction/template pair.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrUnknownEnumKey marks a formation/behavior/waypoint key outside the
	// lookup table; the caller still receives the documented fallback value.
	ErrUnknownEnumKey = errors.New("unknown enum key")
)

// ProtocolError is returned when a reply's top-level structure cannot be
// decoded. It aborts the whole batch.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Code maps an error to its wire-level code ("" for nil).
func Code(err error) string {
	var pe *ProtocolError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return ErrCodeProtocol
	case errors.Is(err, ErrUnknownReference):
		return ErrCodeUnknownReference
	case errors.Is(err, ErrUnknownTemplate):
		return ErrCodeUnknownTemplate
	case errors.Is(err, ErrUnknownEnumKey):
		return ErrCodeUnknownEnumKey
	default:
		return ErrCodeWorld
	}
}
