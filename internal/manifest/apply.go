package manifest

import (
	"fmt"

	"github.com/roach88/trigdb/internal/trigger"
)

// Apply creates every declared namespace, group and trigger that db does
// not have yet, then sets flags, parameters and schedules.
//
// Existing triggers keep their registrations. A trigger's schedules are
// replaced by the declared one, so applying twice does not double them.
func (m *Manifest) Apply(db *trigger.Database) error {
	for _, ns := range m.Namespaces {
		if !db.HasNamespace(ns.Name) {
			if err := db.CreateNamespace(ns.Name); err != nil {
				return err
			}
		}
		for _, gs := range ns.Groups {
			g, err := db.CreateTriggerGroup(ns.Name, gs.Name)
			if err != nil {
				return err
			}
			g.SetJoinable(gs.Joinable)
			for _, ts := range gs.Triggers {
				if err := applyTrigger(g, ts); err != nil {
					return fmt.Errorf("apply %s.%s.%s: %w", ns.Name, gs.Name, ts.Name, err)
				}
			}
		}
	}
	return nil
}

func applyTrigger(g *trigger.Group, ts Trigger) error {
	g.AddTrigger(ts.Name)
	if _, err := g.SetPermanent(ts.Name, ts.Permanent); err != nil {
		return err
	}
	for _, name := range ts.Params.SortedKeys() {
		if err := g.PushParameter(ts.Name, name, ts.Params[name]); err != nil {
			return err
		}
	}
	if ts.Schedule != "" {
		g.Unschedule(ts.Name)
		if _, err := g.ScheduleTrigger(ts.Name, ts.Schedule); err != nil {
			return err
		}
	}
	return nil
}
