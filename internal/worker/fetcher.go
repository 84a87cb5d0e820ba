package worker

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"

	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/extract"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/queue"
	uploaddomain "github.com/smallbiznis/facturio/internal/upload/domain"
)

// AccountLookup resolves the mailbox account an item was discovered on.
type AccountLookup interface {
	Get(ctx context.Context, id snowflake.ID) (*accountdomain.MailboxAccount, error)
}

// BlobStore resolves stored upload bytes.
type BlobStore interface {
	GetBySourceID(ctx context.Context, tenantID snowflake.ID, sourceID string) (*uploaddomain.StoredDocument, error)
}

// SessionProvider hands out the connection pool for an account.
type SessionProvider interface {
	PoolFor(account accountdomain.MailboxAccount) *mailbox.Pool
}

// PayloadFetcher turns a queue item into the payload the extraction engine
// consumes. Full message bodies are only ever downloaded here, after the
// claim, never during discovery.
type PayloadFetcher struct {
	accounts AccountLookup
	sessions SessionProvider
	blobs    BlobStore
}

func NewPayloadFetcher(accounts AccountLookup, sessions SessionProvider, blobs BlobStore) *PayloadFetcher {
	return &PayloadFetcher{accounts: accounts, sessions: sessions, blobs: blobs}
}

func (f *PayloadFetcher) Fetch(ctx context.Context, item queue.Item) (*extract.Payload, error) {
	switch item.Kind {
	case queue.KindUploadedFile:
		doc, err := f.blobs.GetBySourceID(ctx, item.TenantID, item.SourceID)
		if err != nil {
			return nil, err
		}
		return extract.UploadPayload(doc.Filename, doc.ContentType, doc.Data)
	case queue.KindMailboxMessage:
		account, err := f.accounts.Get(ctx, item.AccountID)
		if err != nil {
			return nil, err
		}
		pool := f.sessions.PoolFor(*account)
		session, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := session.FetchRaw(ctx, item.UID)
		pool.Release(session, err == nil)
		if err != nil {
			return nil, err
		}
		return extract.ParseMessage(raw)
	default:
		return nil, fmt.Errorf("unknown source kind %q", item.Kind)
	}
}
