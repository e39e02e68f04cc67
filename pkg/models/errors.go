package models

import "errors"

// Domain error taxonomy. Handlers map these to HTTP statuses; callers
// test with errors.Is.
var (
	// ErrNotFound: referenced conversation or message is absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: actor lacks participant or ownership standing.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidParticipants: malformed participant set on create.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrInvalidReference: reply-to or mention does not resolve inside
	// the conversation.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrDuplicateDirectConversation: an active direct conversation
	// between the pair already exists (strict create only).
	ErrDuplicateDirectConversation = errors.New("duplicate direct conversation")
	// ErrDeliveryUnavailable: no recipient reachable; non-fatal, the
	// message stays sent.
	ErrDeliveryUnavailable = errors.New("delivery unavailable")
	// ErrSendFailed: send-side validation or storage failure; terminal.
	ErrSendFailed = errors.New("send failed")
)
