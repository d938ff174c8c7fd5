package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by adapters, store and services
var (
	// ErrCredentialInvalid means the platform rejected a credential; recoverable via refresh/derivation
	ErrCredentialInvalid = errors.New("credential invalid")

	// ErrDisconnected means every credential recovery path failed for a connection
	ErrDisconnected = errors.New("connection disconnected")

	// ErrTransient covers network failures and rate limiting
	ErrTransient = errors.New("transient platform error")

	// ErrMalformedResponse is treated like ErrTransient by callers
	ErrMalformedResponse = fmt.Errorf("%w: malformed platform response", ErrTransient)

	// ErrPlatform is a non-retryable error reported by the platform
	ErrPlatform = errors.New("platform error")

	// ErrUnsupported means the platform has no equivalent for an operation
	ErrUnsupported = errors.New("operation not supported by platform")

	ErrSignatureInvalid     = errors.New("webhook signature invalid")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoConnectedAccount   = errors.New("no connected account for conversation")
	ErrSendFailed           = errors.New("send failed")
	ErrConnectionExists     = errors.New("connection already exists")
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// SendFailedError carries the adapter's reason verbatim for operator visibility
type SendFailedError struct {
	Reason string
	Err    error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed: %s", e.Reason)
}

// Is lets errors.Is(err, ErrSendFailed) match
func (e *SendFailedError) Is(target error) bool {
	return target == ErrSendFailed
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}
