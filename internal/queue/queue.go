// Package queue is the distributed hand-off between discovery and the
// extraction workers, backed by a redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
)

// SourceKind tells the worker how to fetch the payload for an item.
type SourceKind string

const (
	KindMailboxMessage SourceKind = "mailbox_message"
	KindUploadedFile   SourceKind = "uploaded_file"
)

// Item is one claimed unit of extraction work.
type Item struct {
	TenantID   snowflake.ID `json:"tenant_id"`
	SourceID   string       `json:"source_id"`
	AccountID  snowflake.ID `json:"account_id,omitempty"`
	UID        uint32       `json:"uid,omitempty"`
	Kind       SourceKind   `json:"kind"`
	Claimant   string       `json:"claimant"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

var ErrEmpty = errors.New("queue_empty")

type Queue struct {
	client *redis.Client
	name   string
}

func New(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Enqueue pushes an item for the worker pool.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.name, payload).Err()
}

// Dequeue blocks up to timeout for the next item. Returns ErrEmpty when the
// wait expires with nothing to do.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Item, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, ErrEmpty
	}

	var item Item
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Len reports the queue depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
