package chat

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrAuthenticationRequired terminates the connection: the first frame
	// was missing, malformed, or carried an invalid credential.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrNotAuthorized rejects a single message from a non-member. The
	// connection stays open.
	ErrNotAuthorized = errors.New("sender is not a member of this chat")

	// ErrUnsupportedPayloadKind rejects a single message whose data_type
	// cannot be delivered. The connection stays open.
	ErrUnsupportedPayloadKind = errors.New("unsupported payload kind")

	// ErrDuplicateHandle fails a registration attempt that reuses a live
	// transport handle owned by another user.
	ErrDuplicateHandle = errors.New("transport handle already registered")

	// ErrHandleClosed is returned by Handle.Send once the underlying
	// transport is gone. The router treats it as a prune signal.
	ErrHandleClosed = errors.New("transport handle closed")
)

// DeliveryFailure records one recipient that did not get a fanned-out
// message. Failures never abort delivery to the remaining recipients.
type DeliveryFailure struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Err       error
}
