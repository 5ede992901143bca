package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

// Filter narrows Read. Empty fields match everything.
type Filter struct {
	Namespace string
	Group     string
	Trigger   string
	Kind      trigger.EventKind

	// ParamsHash keeps events whose parameter set has this param.Hash
	// digest, which finds every fire and delivery of the same payload.
	ParamsHash string

	// AfterSeq skips events with seq <= AfterSeq.
	AfterSeq int64

	// Limit caps the number of rows; 0 means no limit.
	Limit int
}

// Read returns matching events ordered by seq.
//
// Returns an empty slice (not nil) when nothing matches.
func (j *Journal) Read(ctx context.Context, f Filter) ([]trigger.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.Namespace != "" {
		add("namespace = ?", f.Namespace)
	}
	if f.Group != "" {
		add("grp = ?", f.Group)
	}
	if f.Trigger != "" {
		add("trigger = ?", f.Trigger)
	}
	if f.Kind != "" {
		add("kind = ?", string(f.Kind))
	}
	if f.ParamsHash != "" {
		add("params_hash = ?", f.ParamsHash)
	}
	if f.AfterSeq > 0 {
		add("seq > ?", f.AfterSeq)
	}

	query := `SELECT seq, kind, time, namespace, grp, trigger, env, callback, params, synthetic, due, detail FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []trigger.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (trigger.Event, error) {
	var (
		e         trigger.Event
		kind      string
		tm, due   int64
		env       int64
		params    sql.NullString
		synthetic bool
	)
	if err := rows.Scan(&e.Seq, &kind, &tm, &e.Namespace, &e.Group, &e.Trigger,
		&env, &e.Callback, &params, &synthetic, &due, &e.Detail); err != nil {
		return trigger.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = trigger.EventKind(kind)
	e.Time = trigger.TimeUnit(tm)
	e.Due = trigger.TimeUnit(due)
	e.Env = trigger.EnvID(env)
	e.Synthetic = synthetic
	if params.Valid {
		set, err := param.UnmarshalSet([]byte(params.String))
		if err != nil {
			return trigger.Event{}, fmt.Errorf("event %d: %w", e.Seq, err)
		}
		e.Params = set
	}
	return e, nil
}
