package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine wires the rule components into the operations run inside one
// transaction. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	table   *LevelTable
	catalog *mascot.Catalog
	updater *Updater
	watcher *EvolutionWatcher
	streaks *StreakEvaluator
}

// NewEngine creates an Engine.
func NewEngine(table *LevelTable, catalog *mascot.Catalog) *Engine {
	return &Engine{
		table:   table,
		catalog: catalog,
		updater: NewUpdater(table),
		watcher: NewEvolutionWatcher(catalog),
		streaks: NewStreakEvaluator(),
	}
}

// Table returns the level table.
func (e *Engine) Table() *LevelTable {
	return e.table
}

// Catalog returns the mascot catalog.
func (e *Engine) Catalog() *mascot.Catalog {
	return e.catalog
}

// HabitResult is everything a caller needs to render one habit update.
type HabitResult struct {
	UserID        shared.UserID
	Date          shared.Date
	Category      ledger.Category
	RawXP         shared.XP
	AppliedXP     shared.XP
	XPTotal       shared.XP
	XPEarnedToday shared.XP
	Level         shared.Level
	Awards        []ledger.AwardEvent
	LevelChange   LevelChange
	Evolution     *Evolution
	Ledger        *ledger.DailyLedger
}

// CapReached reports whether the day's allowance is used up.
func (r *HabitResult) CapReached() bool {
	return r.XPEarnedToday >= DailyXPCap
}

// RecordHabit evaluates one category update for (user, date) and commits the
// ledger, the capped XP, the level and any evolution through tx.
func (e *Engine) RecordHabit(ctx context.Context, tx Tx, userID shared.UserID, date shared.Date, in ledger.Input, now time.Time) (*HabitResult, error) {
	state, err := tx.GetStateForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	day, err := tx.GetLedgerForUpdate(ctx, userID, date, now)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	stored, err := tx.GetGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get goals: %w", err)
	}

	outcome, err := ledger.Evaluate(day, in, ledger.GoalsOrDefault(stored), now)
	if err != nil {
		return nil, err
	}
	applied := CapDelta(day.XPEarnedToday, outcome.RawXP)

	change, err := e.updater.Apply(ctx, tx, state, day, outcome.Mutation, applied, now)
	if err != nil {
		return nil, err
	}
	evo, err := e.watcher.Observe(ctx, tx, state, change, now)
	if err != nil {
		return nil, err
	}

	return &HabitResult{
		UserID:        userID,
		Date:          date,
		Category:      outcome.Category,
		RawXP:         outcome.RawXP,
		AppliedXP:     applied,
		XPTotal:       state.XPTotal,
		XPEarnedToday: day.XPEarnedToday,
		Level:         state.Level,
		Awards:        outcome.Awards,
		LevelChange:   change,
		Evolution:     evo,
		Ledger:        day.Clone(),
	}, nil
}

// EvaluateStreak backfills the user's streak up to yesterday.
func (e *Engine) EvaluateStreak(ctx context.Context, tx Tx, userID shared.UserID, today shared.Date, now time.Time) (*StreakEvaluation, error) {
	return e.streaks.Evaluate(ctx, tx, userID, today, now)
}

// CreateUser inserts the initial state for a new account.
func (e *Engine) CreateUser(ctx context.Context, tx Tx, userID shared.UserID, bmi mascot.BMICategory, now time.Time) (*State, error) {
	state := NewState(userID, bmi, e.catalog, now)
	if err := tx.CreateState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS VIEW
// ══════════════════════════════════════════════════════════════════════════════

// DaySummary is the read-side view of one ledger day.
type DaySummary struct {
	Date                shared.Date       `json:"date"`
	EffectiveSteps      int               `json:"effective_steps"`
	HydrationGlasses    int               `json:"hydration_glasses"`
	SleepMinutes        int               `json:"sleep_minutes"`
	MovementDone        bool              `json:"movement_done"`
	FoodChecked         []string          `json:"food_checked"`
	XPEarnedToday       shared.XP         `json:"xp_earned_today"`
	XPRemainingToday    shared.XP         `json:"xp_remaining_today"`
	CompletedCategories []ledger.Category `json:"completed_categories"`
}

// Progress is the read-side view of a user's progression.
type Progress struct {
	UserID          shared.UserID `json:"user_id"`
	XPTotal         shared.XP     `json:"xp_total"`
	Level           shared.Level  `json:"level"`
	NextLevelXP     *shared.XP    `json:"next_level_xp,omitempty"`
	LevelProgress   int           `json:"level_progress_percent"`
	CurrentStreak   int           `json:"current_streak"`
	LongestStreak   int           `json:"longest_streak"`
	StreakShields   int           `json:"streak_shields"`
	StreakWatermark *shared.Date  `json:"streak_watermark,omitempty"`
	BMICategory     string        `json:"bmi_category,omitempty"`
	Mascot          string        `json:"mascot,omitempty"`
	MascotStage     int           `json:"mascot_stage"`
	Badges          []string      `json:"badges"`
	Today           DaySummary    `json:"today"`
	Goals           ledger.Goals  `json:"goals"`
}

// BuildProgress assembles the progress view for (user, today). It only reads.
func (e *Engine) BuildProgress(ctx context.Context, tx Tx, userID shared.UserID, today shared.Date) (*Progress, error) {
	state, err := tx.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	day, err := tx.GetLedger(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	stored, err := tx.GetGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get goals: %w", err)
	}
	badges, err := tx.ListBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	goals := ledger.GoalsOrDefault(stored)

	p := &Progress{
		UserID:          state.UserID,
		XPTotal:         state.XPTotal,
		Level:           state.Level,
		LevelProgress:   e.table.ProgressInLevel(state.XPTotal),
		CurrentStreak:   state.CurrentStreak,
		LongestStreak:   state.LongestStreak,
		StreakShields:   state.StreakShields,
		StreakWatermark: state.StreakWatermark,
		BMICategory:     state.BMICategory.String(),
		Mascot:          state.Mascot.Variant,
		MascotStage:     int(state.Mascot.Stage),
		Badges:          make([]string, 0, len(badges)),
		Goals:           goals,
	}
	if next, ok := e.table.NextLevelXP(state.Level); ok {
		p.NextLevelXP = &next
	}
	for _, b := range badges {
		p.Badges = append(p.Badges, b.Code)
	}

	p.Today = DaySummary{Date: today, XPRemainingToday: DailyXPCap, FoodChecked: []string{}}
	if day != nil {
		p.Today.EffectiveSteps = day.EffectiveSteps
		p.Today.HydrationGlasses = day.HydrationGlasses
		p.Today.SleepMinutes = day.SleepMinutes
		p.Today.MovementDone = day.MovementDone
		p.Today.XPEarnedToday = day.XPEarnedToday
		p.Today.XPRemainingToday = max(0, DailyXPCap-day.XPEarnedToday)
		for _, item := range ledger.FoodItems() {
			if day.Food[item] {
				p.Today.FoodChecked = append(p.Today.FoodChecked, item.String())
			}
		}
	}
	p.Today.CompletedCategories = ledger.CompletedCategories(day, goals)
	return p, nil
}
