package engine

import (
	"errors"
	"fmt"
	"time"
)

// Validation and pipeline errors. All are rejected before any message state
// mutates, so a caller can surface them inline without cleanup.
var (
	// ErrEmptyContent is returned when the trimmed content is empty.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrContentTooLong is returned when content exceeds MaxContentLength.
	ErrContentTooLong = errors.New("message content exceeds maximum length")

	// ErrSendInProgress is returned when a send is already in flight for
	// this session; sends are serialized per conversation view.
	ErrSendInProgress = errors.New("a send is already in progress")

	// ErrNoRecipient is returned when the recipient cannot be determined
	// from the conversation's participants. Should be unreachable given the
	// data model, but guarded all the same.
	ErrNoRecipient = errors.New("cannot determine message recipient")

	// ErrNoConversation is returned when an operation requires an active
	// conversation and none has been set.
	ErrNoConversation = errors.New("no active conversation")

	// ErrConversationGone is returned when conversation creation lost a
	// uniqueness race but the fallback lookup also found nothing. Treated as
	// an unrecoverable send failure rather than guessing a retry count.
	ErrConversationGone = errors.New("conversation disappeared during resolution")

	// ErrNotRetryable is returned when retrying a message that is not in
	// the failed state.
	ErrNotRetryable = errors.New("message is not in a retryable state")
)

// RateLimitedError is returned when the rate limiter rejects a send before
// any state mutation occurs.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("sending too fast, retry in %s", e.RetryAfter.Round(time.Second))
	}
	return "sending too fast, retry later"
}
