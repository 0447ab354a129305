package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded for local projects.
const (
	ProjectStart   = "project.start"
	TaskAdd        = "task.add"
	TaskDetails    = "task.details"
	TaskSubtask    = "task.subtask"
	QuestionAsk    = "question.ask"
	QuestionAnswer = "question.answer"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one row of the project log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  int    `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, projectID int, entityKind, entityID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, projectID, entityKind, nullable(entityID), string(data))
	return err
}

// Latest returns up to n events, newest first. projectID < 0 means all projects.
func Latest(ctx context.Context, db *sql.DB, n, projectID int) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,project_id,entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	args := []any{}
	if projectID >= 0 {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
