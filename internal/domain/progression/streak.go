package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK RULES
// ══════════════════════════════════════════════════════════════════════════════

const (
	// StreakThreshold - сколько категорий из пяти нужно закрыть, чтобы день засчитался.
	StreakThreshold = 3

	// ShieldStreakInterval - щит выдаётся, когда серия кратна этому числу.
	ShieldStreakInterval = 7

	// MaxShields - максимум накопленных щитов.
	MaxShields = 1
)

// StreakState holds the streak counters.
type StreakState struct {
	Current int
	Longest int
	Shields int
}

// DayResult is the completion count of one evaluated day.
type DayResult struct {
	Date      shared.Date
	Completed int
}

// DayVerdict is what a day did to the streak.
type DayVerdict int

const (
	// DayCounted - день засчитан, серия выросла.
	DayCounted DayVerdict = iota
	// DayShielded - день пропущен, списан щит, серия сохранена.
	DayShielded
	// DayReset - день пропущен без щита, серия обнулена.
	DayReset
)

// String returns the verdict name.
func (v DayVerdict) String() string {
	switch v {
	case DayCounted:
		return "counted"
	case DayShielded:
		return "shielded"
	case DayReset:
		return "reset"
	default:
		return "unknown"
	}
}

// DayOutcome records how one day moved the streak.
type DayOutcome struct {
	Date         shared.Date
	Completed    int
	Verdict      DayVerdict
	ShieldEarned bool
	StreakBefore int
	StreakAfter  int
}

// StreakOutcome is the result of a backfill run.
type StreakOutcome struct {
	Before StreakState
	After  StreakState
	Days   []DayOutcome
}

// Changed reports whether any counter moved.
func (o StreakOutcome) Changed() bool {
	return o.Before != o.After
}

// Backfill applies the streak rules to days, which must be consecutive and in
// chronological order.
func Backfill(s StreakState, days []DayResult) StreakOutcome {
	out := StreakOutcome{Before: s, Days: make([]DayOutcome, 0, len(days))}
	for _, d := range days {
		day := DayOutcome{Date: d.Date, Completed: d.Completed, StreakBefore: s.Current}
		switch {
		case d.Completed >= StreakThreshold:
			s.Current++
			day.Verdict = DayCounted
			if s.Current%ShieldStreakInterval == 0 && s.Shields < MaxShields {
				s.Shields++
				day.ShieldEarned = true
			}
		case s.Shields > 0:
			s.Shields--
			day.Verdict = DayShielded
		default:
			s.Current = 0
			day.Verdict = DayReset
		}
		s.Longest = max(s.Longest, s.Current)
		day.StreakAfter = s.Current
		out.Days = append(out.Days, day)
	}
	out.After = s
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// StreakEvaluation is the result of evaluating a user's streak for a day.
type StreakEvaluation struct {
	UserID shared.UserID
	Today  shared.Date

	// Initialized is set when the watermark was unset and has just been placed.
	Initialized bool

	// Skipped is set when the watermark was already at or past today.
	Skipped bool

	// From and To bound the evaluated range; both are zero when nothing ran.
	From shared.Date
	To   shared.Date

	Outcome StreakOutcome
}

// StreakEvaluator backfills unevaluated days up to yesterday.
type StreakEvaluator struct{}

// NewStreakEvaluator creates a StreakEvaluator.
func NewStreakEvaluator() *StreakEvaluator {
	return &StreakEvaluator{}
}

// Evaluate runs the watermark state machine for userID. The counters and the
// new watermark are written once, after the whole range is processed.
func (e *StreakEvaluator) Evaluate(ctx context.Context, tx Tx, userID shared.UserID, today shared.Date, now time.Time) (*StreakEvaluation, error) {
	state, err := tx.GetStateForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &StreakEvaluation{UserID: userID, Today: today}
	result.Outcome.Before = state.Streak()
	result.Outcome.After = state.Streak()

	if state.StreakWatermark == nil {
		wm := today
		state.StreakWatermark = &wm
		state.UpdatedAt = now
		if err := tx.SaveState(ctx, state); err != nil {
			return nil, fmt.Errorf("save watermark: %w", err)
		}
		result.Initialized = true
		return result, nil
	}

	if !state.StreakWatermark.Before(today) {
		result.Skipped = true
		return result, nil
	}

	from, to := state.StreakWatermark.AddDays(1), today.AddDays(-1)
	if !from.After(to) {
		days, err := e.collectDays(ctx, tx, userID, from, to)
		if err != nil {
			return nil, err
		}
		result.From, result.To = from, to
		result.Outcome = Backfill(state.Streak(), days)
		state.setStreak(result.Outcome.After)
	}

	wm := today
	state.StreakWatermark = &wm
	state.UpdatedAt = now
	if err := tx.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("save streak: %w", err)
	}
	return result, nil
}

// collectDays reads the range in one query and produces one DayResult per
// calendar day, counting missing rows as zero completed categories.
func (e *StreakEvaluator) collectDays(ctx context.Context, tx Tx, userID shared.UserID, from, to shared.Date) ([]DayResult, error) {
	rows, err := tx.ListLedgers(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	stored, err := tx.GetGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get goals: %w", err)
	}
	goals := ledger.GoalsOrDefault(stored)

	byDate := make(map[string]*ledger.DailyLedger, len(rows))
	for _, l := range rows {
		byDate[l.Date.String()] = l
	}

	days := make([]DayResult, 0, from.DaysUntil(to)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, DayResult{
			Date:      d,
			Completed: ledger.CountCompletedCategories(byDate[d.String()], goals),
		})
	}
	return days, nil
}
