package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends activity-log lines. Append failures must never roll back
// the transition that produced them; callers log and move on.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, jobID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(jobID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// MovedTo writes the standard one-line transition record.
func (w Writer) MovedTo(ctx context.Context, tx *sql.Tx, jobID, entityKind, entityID, actorID, stateName string) error {
	return w.Append(ctx, tx, entityKind+".status", jobID, entityKind, entityID, actorID, EventPayload{
		"message": fmt.Sprintf("Moved to %s", stateName),
		"status":  stateName,
	})
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
