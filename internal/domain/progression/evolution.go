package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/mascot"
)

// Evolution describes what a level-up did to the mascot and badges.
type Evolution struct {
	PreviousMascot mascot.Assignment
	NewMascot      mascot.Assignment
	Evolved        bool
	Badges         []mascot.Badge
}

// EvolutionWatcher turns level crossings into mascot stage changes and badge grants.
type EvolutionWatcher struct {
	catalog *mascot.Catalog
}

// NewEvolutionWatcher creates a watcher over the given catalog.
func NewEvolutionWatcher(catalog *mascot.Catalog) *EvolutionWatcher {
	return &EvolutionWatcher{catalog: catalog}
}

// Observe inspects a level change. It returns nil when nothing happened: no
// level-up, no mascot mapping for the user's BMI category, or no badge level
// crossed. A jump over several badge levels grants all of them and moves the
// mascot straight to the stage of the new level.
func (w *EvolutionWatcher) Observe(ctx context.Context, tx Tx, state *State, change LevelChange, now time.Time) (*Evolution, error) {
	if !change.LeveledUp() || !w.catalog.HasMapping(state.BMICategory) {
		return nil, nil
	}
	crossed := w.catalog.BadgesCrossed(change.Previous, change.New)
	if len(crossed) == 0 {
		return nil, nil
	}

	evo := &Evolution{PreviousMascot: state.Mascot, NewMascot: state.Mascot}
	if next, ok := w.catalog.Assign(state.BMICategory, change.New); ok && next != state.Mascot {
		state.Mascot = next
		state.UpdatedAt = now
		if err := tx.SaveState(ctx, state); err != nil {
			return nil, fmt.Errorf("save mascot: %w", err)
		}
		evo.NewMascot = next
		evo.Evolved = next != evo.PreviousMascot
	}

	for _, b := range crossed {
		granted, err := tx.GrantBadge(ctx, state.UserID, b.Code, now)
		if err != nil {
			return nil, fmt.Errorf("grant badge %s: %w", b.Code, err)
		}
		if granted {
			evo.Badges = append(evo.Badges, b)
		}
	}
	return evo, nil
}
