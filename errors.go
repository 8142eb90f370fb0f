package whatsnep

import "fmt"

// ============================================================================
// Error Taxonomy
// ============================================================================

// ValidationError reports input rejected before any remote call was made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + " " + e.Reason
}

// ConcurrentSendError reports a send attempted while another send for the
// same conversation is still in flight.
type ConcurrentSendError struct {
	ConversationID string
}

func (e *ConcurrentSendError) Error() string {
	return "send already in flight for conversation " + e.ConversationID
}

// NotFoundError reports an entity that no longer resolves.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.ID
}

// RemoteUnavailableError wraps a failed query, write, or subscribe against a
// collaborator. It is never retried automatically by the engine.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// SendError is returned when a send fails after the optimistic shadow was
// shown. Text carries the original message so callers can restore the input.
type SendError struct {
	Text string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
