package mailbox

import "errors"

var (
	// ErrConnectionUnavailable means the pool had no idle session and could
	// not produce one before the acquire timeout.
	ErrConnectionUnavailable = errors.New("connection_unavailable")

	// ErrAuthentication means the remote server rejected the credentials.
	// Never retried automatically; requires operator action.
	ErrAuthentication = errors.New("authentication_failed")

	// ErrTransientIO covers network-level failures worth retrying with
	// backoff.
	ErrTransientIO = errors.New("transient_io")
)
