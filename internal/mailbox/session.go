// Package mailbox maintains long-lived authenticated IMAP sessions per
// account, with health-checked reuse, so discovery runs do not pay a
// handshake per scan.
package mailbox

import (
	"context"
	"time"

	"github.com/smallbiznis/facturio/internal/matcher"
)

// ScanMode selects which messages a metadata scan covers.
type ScanMode string

const (
	// ScanUnseen is the default for scheduled and manual triggers.
	ScanUnseen ScanMode = "unseen-only"
	// ScanFullRange is forced for backfill: all messages in the window,
	// regardless of read state.
	ScanFullRange ScanMode = "full-range"
)

// Window bounds a full-range scan.
type Window struct {
	Since  time.Time
	Before time.Time
}

// Session is one authenticated connection to a mailbox. FetchMetadata never
// downloads message bodies or attachment content; FetchRaw is the only call
// that does.
type Session interface {
	FetchMetadata(ctx context.Context, mode ScanMode, window *Window) ([]matcher.MessageMetadata, error)
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
	Check(ctx context.Context) error
	Close() error
}
