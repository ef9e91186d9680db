package relay

import (
	"errors"
	"fmt"
)

// Validation failures. All are detected before any provider call and map to
// non-streaming HTTP responses.
var (
	ErrSessionNotFound  = errors.New("relay: session not found")
	ErrMessageNotFound  = errors.New("relay: message not found")
	ErrForbidden        = errors.New("relay: session belongs to another user")
	ErrNoCredential     = errors.New("relay: no API key configured for the active provider")
	ErrGenerationActive = errors.New("relay: a generation is already running for this session")
	ErrNotRegenerable   = errors.New("relay: only assistant messages can be regenerated")
)

// StorageError marks a durable-store failure inside the pipeline. It is
// terminal for the request that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("relay: storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
