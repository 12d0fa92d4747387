// Package memory provides an in-process implementation of the progression
// store. Transactions are serialized and staged writes become visible only
// on commit, so a failing transaction leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
)

type ledgerKey struct {
	user shared.UserID
	date string
}

func keyOf(userID shared.UserID, date shared.Date) ledgerKey {
	return ledgerKey{user: userID, date: date.String()}
}

// Store is an in-memory progression.Store.
type Store struct {
	mu      sync.Mutex
	states  map[shared.UserID]*progression.State
	ledgers map[ledgerKey]*ledger.DailyLedger
	goals   map[shared.UserID]ledger.Goals
	badges  map[shared.UserID][]progression.BadgeGrant

	// commitHook, when set, runs before a commit and can veto it.
	commitHook func() error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		states:  make(map[shared.UserID]*progression.State),
		ledgers: make(map[ledgerKey]*ledger.DailyLedger),
		goals:   make(map[shared.UserID]ledger.Goals),
		badges:  make(map[shared.UserID][]progression.BadgeGrant),
	}
}

// SetCommitHook installs a function that runs before every commit. A non-nil
// error from it aborts the transaction.
func (s *Store) SetCommitHook(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// WithinTx implements progression.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx progression.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		store:   s,
		states:  make(map[shared.UserID]*progression.State),
		ledgers: make(map[ledgerKey]*ledger.DailyLedger),
		goals:   make(map[shared.UserID]ledger.Goals),
		badges:  make(map[shared.UserID][]progression.BadgeGrant),
	}
	if err := fn(t); err != nil {
		return err
	}
	if s.commitHook != nil {
		if err := s.commitHook(); err != nil {
			return err
		}
	}
	t.commit()
	return nil
}

// tx stages writes until commit. The store mutex is held for its lifetime.
type tx struct {
	store   *Store
	states  map[shared.UserID]*progression.State
	ledgers map[ledgerKey]*ledger.DailyLedger
	goals   map[shared.UserID]ledger.Goals
	badges  map[shared.UserID][]progression.BadgeGrant
}

func (t *tx) commit() {
	s := t.store
	for id, st := range t.states {
		s.states[id] = st
	}
	for k, l := range t.ledgers {
		s.ledgers[k] = l
	}
	for id, g := range t.goals {
		s.goals[id] = g
	}
	for id, grants := range t.badges {
		s.badges[id] = append(s.badges[id], grants...)
	}
}

func (t *tx) lookupState(userID shared.UserID) (*progression.State, bool) {
	if st, ok := t.states[userID]; ok {
		return st, true
	}
	st, ok := t.store.states[userID]
	return st, ok
}

func (t *tx) GetState(_ context.Context, userID shared.UserID) (*progression.State, error) {
	st, ok := t.lookupState(userID)
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return st.Clone(), nil
}

func (t *tx) GetStateForUpdate(ctx context.Context, userID shared.UserID) (*progression.State, error) {
	return t.GetState(ctx, userID)
}

func (t *tx) CreateState(_ context.Context, state *progression.State) error {
	if _, ok := t.lookupState(state.UserID); ok {
		return shared.ErrUserAlreadyExists
	}
	t.states[state.UserID] = state.Clone()
	return nil
}

func (t *tx) SaveState(_ context.Context, state *progression.State) error {
	if _, ok := t.lookupState(state.UserID); !ok {
		return shared.ErrUserNotFound
	}
	t.states[state.UserID] = state.Clone()
	return nil
}

func (t *tx) lookupLedger(k ledgerKey) (*ledger.DailyLedger, bool) {
	if l, ok := t.ledgers[k]; ok {
		return l, true
	}
	l, ok := t.store.ledgers[k]
	return l, ok
}

func (t *tx) GetLedger(_ context.Context, userID shared.UserID, date shared.Date) (*ledger.DailyLedger, error) {
	l, ok := t.lookupLedger(keyOf(userID, date))
	if !ok {
		return nil, nil
	}
	return l.Clone(), nil
}

func (t *tx) GetLedgerForUpdate(_ context.Context, userID shared.UserID, date shared.Date, now time.Time) (*ledger.DailyLedger, error) {
	k := keyOf(userID, date)
	if l, ok := t.lookupLedger(k); ok {
		return l.Clone(), nil
	}
	l := ledger.NewDailyLedger(userID, date, now)
	t.ledgers[k] = l.Clone()
	return l, nil
}

func (t *tx) SaveLedger(_ context.Context, l *ledger.DailyLedger) error {
	t.ledgers[keyOf(l.UserID, l.Date)] = l.Clone()
	return nil
}

func (t *tx) ListLedgers(_ context.Context, userID shared.UserID, from, to shared.Date) ([]*ledger.DailyLedger, error) {
	var out []*ledger.DailyLedger
	for d := from; !d.After(to); d = d.AddDays(1) {
		if l, ok := t.lookupLedger(keyOf(userID, d)); ok {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

func (t *tx) GetGoals(_ context.Context, userID shared.UserID) (*ledger.Goals, error) {
	if g, ok := t.goals[userID]; ok {
		return &g, nil
	}
	if g, ok := t.store.goals[userID]; ok {
		return &g, nil
	}
	return nil, nil
}

func (t *tx) SaveGoals(_ context.Context, userID shared.UserID, goals ledger.Goals) error {
	t.goals[userID] = goals
	return nil
}

func (t *tx) allBadges(userID shared.UserID) []progression.BadgeGrant {
	all := append([]progression.BadgeGrant(nil), t.store.badges[userID]...)
	return append(all, t.badges[userID]...)
}

func (t *tx) GrantBadge(_ context.Context, userID shared.UserID, code string, at time.Time) (bool, error) {
	for _, b := range t.allBadges(userID) {
		if b.Code == code {
			return false, nil
		}
	}
	t.badges[userID] = append(t.badges[userID], progression.BadgeGrant{UserID: userID, Code: code, GrantedAt: at})
	return true, nil
}

func (t *tx) ListBadges(_ context.Context, userID shared.UserID) ([]progression.BadgeGrant, error) {
	all := t.allBadges(userID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].GrantedAt.Before(all[j].GrantedAt) })
	return all, nil
}
