package chat

import "errors"

// Error kinds surfaced by the chat services. Handlers map these onto
// HTTP status codes with errors.Is; wrap with fmt.Errorf("...: %w", err)
// to add context.
var (
	// ErrNotFound: the referenced chat, message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: the caller is not allowed to perform the operation
	// (not a participant, not the sender, or blocked).
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState: the operation conflicts with current state, e.g.
	// sending into a closed chat or pinning a deleted message.
	ErrInvalidState = errors.New("invalid state")
	// ErrEditWindowExpired: the per-message edit window has passed.
	ErrEditWindowExpired = errors.New("edit window expired")
	// ErrValidation: the request payload is malformed.
	ErrValidation = errors.New("validation failed")
	// ErrDependency: a collaborator (storage, delivery) failed.
	ErrDependency = errors.New("dependency failure")
)
