package progression

import (
	"context"
	"time"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE PORT
// ══════════════════════════════════════════════════════════════════════════════

// Tx is the set of reads and writes available inside one store transaction.
// Everything done through a Tx commits together or not at all.
type Tx interface {
	// GetState returns the user's state without locking it.
	// Returns shared.ErrUserNotFound if the user has no state.
	GetState(ctx context.Context, userID shared.UserID) (*State, error)

	// GetStateForUpdate returns the user's state and locks it until commit.
	// Returns shared.ErrUserNotFound if the user has no state.
	GetStateForUpdate(ctx context.Context, userID shared.UserID) (*State, error)

	// CreateState inserts a new state.
	// Returns shared.ErrUserAlreadyExists if one exists.
	CreateState(ctx context.Context, state *State) error

	// SaveState overwrites an existing state.
	SaveState(ctx context.Context, state *State) error

	// GetLedger returns the ledger for (user, date), or nil if none was written.
	GetLedger(ctx context.Context, userID shared.UserID, date shared.Date) (*ledger.DailyLedger, error)

	// GetLedgerForUpdate returns the ledger for (user, date), creating an empty
	// row first if missing, and locks it until commit.
	GetLedgerForUpdate(ctx context.Context, userID shared.UserID, date shared.Date, now time.Time) (*ledger.DailyLedger, error)

	// SaveLedger overwrites the ledger row.
	SaveLedger(ctx context.Context, l *ledger.DailyLedger) error

	// ListLedgers returns the ledgers in [from, to] ordered by date. Days with
	// no row are absent from the result.
	ListLedgers(ctx context.Context, userID shared.UserID, from, to shared.Date) ([]*ledger.DailyLedger, error)

	// GetGoals returns the user's goals, or nil if none are configured.
	GetGoals(ctx context.Context, userID shared.UserID) (*ledger.Goals, error)

	// SaveGoals upserts the user's goals.
	SaveGoals(ctx context.Context, userID shared.UserID, goals ledger.Goals) error

	// GrantBadge records a badge. granted is false if the user already held it.
	GrantBadge(ctx context.Context, userID shared.UserID, code string, at time.Time) (granted bool, err error)

	// ListBadges returns the user's badges ordered by grant time.
	ListBadges(ctx context.Context, userID shared.UserID) ([]BadgeGrant, error)
}

// Store runs functions inside a transaction.
type Store interface {
	// WithinTx commits if fn returns nil and rolls back otherwise.
	// The error from fn is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Locker provides the per-user critical section.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// UserLockKey returns the lock key guarding one user's rows.
func UserLockKey(userID shared.UserID) string {
	return "user:" + userID.String()
}

// ProgressCache holds rendered progress views keyed by (user, day). Misses
// return (nil, nil). Implementations may drop entries at any time.
type ProgressCache interface {
	Get(ctx context.Context, userID shared.UserID, today shared.Date) (*Progress, error)
	Set(ctx context.Context, p *Progress) error
	Invalidate(ctx context.Context, userID shared.UserID) error
}
