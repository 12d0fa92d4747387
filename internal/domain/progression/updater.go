package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/shared"
)

// LevelChange reports the levels before and after an XP application.
type LevelChange struct {
	Previous shared.Level
	New      shared.Level
}

// LeveledUp reports whether at least one threshold was crossed.
func (c LevelChange) LeveledUp() bool {
	return c.New > c.Previous
}

// Updater commits a ledger mutation together with the user's cumulative XP.
// It is the only writer of XPTotal, Level and XPEarnedToday.
type Updater struct {
	table *LevelTable
}

// NewUpdater creates an Updater over the given level table.
func NewUpdater(table *LevelTable) *Updater {
	return &Updater{table: table}
}

// Apply writes the mutation into l and persists it. When applied is positive
// it also adds to the day's and the user's totals and recomputes the level.
// The caller owns the transaction; any error must abort it.
func (u *Updater) Apply(ctx context.Context, tx Tx, state *State, l *ledger.DailyLedger, m ledger.Mutation, applied shared.XP, now time.Time) (LevelChange, error) {
	change := LevelChange{Previous: state.Level, New: state.Level}

	m.ApplyTo(l)
	l.UpdatedAt = now

	if applied > 0 {
		if l.XPEarnedToday+applied > DailyXPCap {
			return change, fmt.Errorf("apply %d XP on top of %d: %w", applied, l.XPEarnedToday, shared.ErrValueOutOfRange)
		}
		l.XPEarnedToday += applied
		state.XPTotal += applied
		state.Level = u.table.LevelForXP(state.XPTotal)
		state.UpdatedAt = now
		change.New = state.Level
	}

	if err := tx.SaveLedger(ctx, l); err != nil {
		return change, fmt.Errorf("save ledger: %w", err)
	}
	if applied > 0 {
		if err := tx.SaveState(ctx, state); err != nil {
			return change, fmt.Errorf("save state: %w", err)
		}
	}
	return change, nil
}
