// Package notify is the notification collaborator boundary. The core only
// enqueues requests; resolving the audience to people and delivering is the
// consumer's job.
package notify

import (
	"context"
	"database/sql"
	"time"
)

// Request is one notification to enqueue.
type Request struct {
	Kind       string
	Title      string
	BodyRef    string
	EntityKind string
	EntityID   string
	Audience   string
}

// Notifier accepts notification requests. Implementations must be
// fire-and-forget: the caller never waits for delivery.
type Notifier interface {
	Enqueue(ctx context.Context, tx *sql.Tx, req Request) error
}

// Outbox queues notifications into the workspace database.
type Outbox struct {
	DB  *sql.DB
	Now func() time.Time
}

func (o Outbox) Enqueue(ctx context.Context, tx *sql.Tx, req Request) error {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(kind,title,body_ref,entity_kind,entity_id,audience,created_at)
VALUES (?,?,?,?,?,?,?)`,
		req.Kind, req.Title, req.BodyRef, req.EntityKind, req.EntityID, req.Audience,
		now().UTC().Format(time.RFC3339))
	return err
}
