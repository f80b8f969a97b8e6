package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

// ObjectPutter is the storage operation OutboxSender needs.
type ObjectPutter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// OutboxSender writes each rendered message as an .eml object under a key
// prefix. Keys sort by creation time.
type OutboxSender struct {
	store  ObjectPutter
	prefix string
	from   string
	now    func() time.Time
}

func NewOutboxSender(store ObjectPutter, prefix, from string) (*OutboxSender, error) {
	if store == nil {
		return nil, errors.New("outbox storage is required")
	}
	return &OutboxSender{store: store, prefix: prefix, from: from, now: time.Now}, nil
}

func (o *OutboxSender) Send(ctx context.Context, msg Message) error {
	now := o.now()
	data, err := Render(o.from, msg, now)
	if err != nil {
		return err
	}
	key := o.Key(now)
	if err := o.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "message/rfc822"); err != nil {
		return fmt.Errorf("write outbox object %s: %w", key, err)
	}
	return nil
}

// Key returns a fresh object key for a message created at now.
func (o *OutboxSender) Key(now time.Time) string {
	return fmt.Sprintf("%s%s-%s.eml", o.prefix, now.UTC().Format("20060102T150405Z"), ulid.Make().String())
}
