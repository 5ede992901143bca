package journal

import (
	"context"
	"fmt"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

// Record implements trigger.Recorder.
func (j *Journal) Record(e trigger.Event) error {
	return j.Write(context.Background(), e)
}

// Write inserts one event. Params are stored as canonical JSON so two
// journals of the same run compare byte for byte, next to their content
// hash. Writing a seq that is already present is a no-op.
func (j *Journal) Write(ctx context.Context, e trigger.Event) error {
	var (
		params     any
		paramsHash string
	)
	if e.Params != nil {
		data, err := param.MarshalCanonical(e.Params)
		if err != nil {
			return fmt.Errorf("write event %d: %w", e.Seq, err)
		}
		params = string(data)
		if paramsHash, err = param.Hash(e.Params); err != nil {
			return fmt.Errorf("write event %d: %w", e.Seq, err)
		}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events
		(seq, kind, time, namespace, grp, trigger, env, callback, params, params_hash, synthetic, due, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		e.Seq,
		string(e.Kind),
		int64(e.Time),
		e.Namespace,
		e.Group,
		e.Trigger,
		int64(e.Env),
		e.Callback,
		params,
		paramsHash,
		e.Synthetic,
		int64(e.Due),
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("write event %d: %w", e.Seq, err)
	}
	return nil
}
