package progression_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/internal/infrastructure/persistence/memory"
)

var (
	t0    = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	today = shared.MustParseDate("2026-05-04")
)

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	engine *progression.Engine
	user   shared.UserID
}

func newFixture(t *testing.T, bmi mascot.BMICategory) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memory.New(),
		engine: progression.NewEngine(progression.DefaultLevelTable(), mascot.Default()),
		user:   shared.GenerateUserID(),
	}
	err := f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		_, err := f.engine.CreateUser(f.ctx, tx, f.user, bmi, t0)
		return err
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) record(t *testing.T, date shared.Date, in ledger.Input, now time.Time) *progression.HabitResult {
	t.Helper()
	var res *progression.HabitResult
	err := f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		var err error
		res, err = f.engine.RecordHabit(f.ctx, tx, f.user, date, in, now)
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) state(t *testing.T) *progression.State {
	t.Helper()
	var st *progression.State
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		var err error
		st, err = tx.GetState(f.ctx, f.user)
		return err
	}))
	return st
}

// seedState overwrites counters directly, standing in for history that would
// take weeks of capped XP to build.
func (f *fixture) seedState(t *testing.T, mutate func(*progression.State)) {
	t.Helper()
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		st, err := tx.GetStateForUpdate(f.ctx, f.user)
		if err != nil {
			return err
		}
		mutate(st)
		return tx.SaveState(f.ctx, st)
	}))
}

func (f *fixture) evaluate(t *testing.T, day shared.Date) *progression.StreakEvaluation {
	t.Helper()
	var res *progression.StreakEvaluation
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		var err error
		res, err = f.engine.EvaluateStreak(f.ctx, tx, f.user, day, t0)
		return err
	}))
	return res
}

func intp(v int) *int { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// RecordHabit
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateUser_InitialState(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	st := f.state(t)

	assert.Equal(t, shared.MinLevel, st.Level)
	assert.Equal(t, shared.XP(0), st.XPTotal)
	assert.Nil(t, st.StreakWatermark)
	assert.Equal(t, "ember_kit", st.Mascot.Variant)
	assert.Equal(t, mascot.Stage(0), st.Mascot.Stage)

	err := f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		_, err := f.engine.CreateUser(f.ctx, tx, f.user, mascot.BMINormal, t0)
		return err
	})
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestRecordHabit_UnknownUser(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	err := f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		_, err := f.engine.RecordHabit(f.ctx, tx, shared.GenerateUserID(), today, ledger.MovementInput{Done: true}, t0)
		return err
	})
	assert.True(t, shared.IsNotFound(err))
}

func TestRecordHabit_DuplicateSubmissionIsZero(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)

	first := f.record(t, today, ledger.MovementInput{Done: true}, t0)
	second := f.record(t, today, ledger.MovementInput{Done: true}, t0)

	assert.Equal(t, shared.XP(15), first.AppliedXP)
	assert.Equal(t, shared.XP(0), second.AppliedXP)
	assert.Equal(t, shared.XP(15), f.state(t).XPTotal)
}

func TestRecordHabit_DailyCapAcrossCategories(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)

	// 40 + 5 bonus
	r := f.record(t, today, ledger.StepsInput{ManualSteps: intp(12000)}, t0)
	assert.Equal(t, shared.XP(45), r.AppliedXP)
	// 8 glasses * 5 + 20
	r = f.record(t, today, ledger.HydrationInput{Glasses: 8}, t0)
	assert.Equal(t, shared.XP(60), r.AppliedXP)
	// 5 + 5 + 15 = 25
	r = f.record(t, today, ledger.SleepInput{Start: clockp("22:30"), End: clockp("06:30")}, t0)
	assert.Equal(t, shared.XP(25), r.AppliedXP)
	// 15, running total 145
	r = f.record(t, today, ledger.MovementInput{Done: true}, t0)
	assert.Equal(t, shared.XP(15), r.AppliedXP)
	assert.Equal(t, shared.XP(145), r.XPEarnedToday)

	// 10 raw, 5 left
	r = f.record(t, today, ledger.FoodInput{Item: ledger.FoodVegetables, Checked: true}, t0)
	assert.Equal(t, shared.XP(10), r.RawXP)
	assert.Equal(t, shared.XP(5), r.AppliedXP)
	assert.True(t, r.CapReached())

	// capped to zero, but the flag is still recorded
	r = f.record(t, today, ledger.FoodInput{Item: ledger.FoodProtein, Checked: true}, t0)
	assert.Equal(t, shared.XP(10), r.RawXP)
	assert.Equal(t, shared.XP(0), r.AppliedXP)
	assert.True(t, r.Ledger.Awards.Food[ledger.FoodProtein].IsAwarded())
	assert.True(t, r.Ledger.Food[ledger.FoodProtein])

	st := f.state(t)
	assert.Equal(t, progression.DailyXPCap, st.XPTotal)

	// the next day has a fresh allowance
	tomorrow := today.AddDays(1)
	r = f.record(t, tomorrow, ledger.MovementInput{Done: true}, t0.Add(24*time.Hour))
	assert.Equal(t, shared.XP(15), r.AppliedXP)
	assert.Equal(t, shared.XP(15), r.XPEarnedToday)
}

func TestRecordHabit_LevelUpCrossesFive(t *testing.T) {
	f := newFixture(t, mascot.BMIOverweight)
	f.seedState(t, func(st *progression.State) {
		st.XPTotal = 3040
		st.Level = 4
	})

	r := f.record(t, today, ledger.MovementInput{Done: true}, t0)

	assert.Equal(t, progression.LevelChange{Previous: 4, New: 5}, r.LevelChange)
	require.NotNil(t, r.Evolution)
	assert.True(t, r.Evolution.Evolved)
	assert.Equal(t, "pebble_bear", r.Evolution.NewMascot.Variant)
	require.Len(t, r.Evolution.Badges, 1)
	assert.Equal(t, mascot.BadgeLevel5, r.Evolution.Badges[0].Code)

	st := f.state(t)
	assert.Equal(t, shared.Level(5), st.Level)
	assert.Equal(t, "pebble_bear", st.Mascot.Variant)
}

func TestRecordHabit_InvalidInputRollsBack(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	err := f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		_, err := f.engine.RecordHabit(f.ctx, tx, f.user, today, ledger.StepsInput{ManualSteps: intp(60000)}, t0)
		return err
	})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		l, err := tx.GetLedger(f.ctx, f.user, today)
		assert.Nil(t, l)
		return err
	}))
}

func TestRecordHabit_CommitFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	boom := errors.New("disk on fire")
	f.store.SetCommitHook(func() error { return boom })

	err := f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		_, err := f.engine.RecordHabit(f.ctx, tx, f.user, today, ledger.MovementInput{Done: true}, t0)
		return err
	})
	assert.ErrorIs(t, err, boom)

	f.store.SetCommitHook(nil)
	assert.Equal(t, shared.XP(0), f.state(t).XPTotal)

	r := f.record(t, today, ledger.MovementInput{Done: true}, t0)
	assert.Equal(t, shared.XP(15), r.AppliedXP, "flag must not have been persisted by the failed attempt")
}

func TestRecordHabit_GoalsFromConfiguration(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		return tx.SaveGoals(f.ctx, f.user, ledger.Goals{StepGoal: 5000, HydrationGoal: 4})
	}))

	r := f.record(t, today, ledger.StepsInput{DeviceSteps: intp(5200)}, t0)
	assert.Equal(t, ledger.StepsGoalXPReduced, r.AppliedXP)

	r = f.record(t, today, ledger.HydrationInput{Glasses: 4}, t0)
	assert.Equal(t, shared.XP(40), r.AppliedXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// EvolutionWatcher
// ══════════════════════════════════════════════════════════════════════════════

func observe(t *testing.T, f *fixture, change progression.LevelChange) (*progression.Evolution, *progression.State) {
	t.Helper()
	return observeWith(t, f, mascot.Default(), change)
}

func observeWith(t *testing.T, f *fixture, catalog *mascot.Catalog, change progression.LevelChange) (*progression.Evolution, *progression.State) {
	t.Helper()
	watcher := progression.NewEvolutionWatcher(catalog)
	var evo *progression.Evolution
	var st *progression.State
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		var err error
		st, err = tx.GetStateForUpdate(f.ctx, f.user)
		if err != nil {
			return err
		}
		evo, err = watcher.Observe(f.ctx, tx, st, change, t0)
		return err
	}))
	return evo, st
}

func TestEvolution_MultiLevelJumpGrantsBothBadges(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)

	evo, st := observe(t, f, progression.LevelChange{Previous: 4, New: 11})

	require.NotNil(t, evo)
	assert.True(t, evo.Evolved)
	assert.Equal(t, "ember_kit", evo.PreviousMascot.Variant)
	assert.Equal(t, "ember_phoenix", evo.NewMascot.Variant)
	assert.Equal(t, mascot.Stage(2), st.Mascot.Stage)

	var codes []string
	for _, b := range evo.Badges {
		codes = append(codes, b.Code)
	}
	assert.Equal(t, []string{mascot.BadgeLevel5, mascot.BadgeChampion}, codes)
	assert.Equal(t, "ember_phoenix", f.state(t).Mascot.Variant)
}

func TestEvolution_StageMoveWithSameVariantIsReported(t *testing.T) {
	catalog, err := mascot.Parse([]byte(`
stages:
  - min_level: 1
  - min_level: 5
mascots:
  normal: [ember_kit, ember_kit]
badges:
  - {code: level_5, name: Rising Star, level: 5}
`))
	require.NoError(t, err)
	f := newFixture(t, mascot.BMINormal)

	evo, st := observeWith(t, f, catalog, progression.LevelChange{Previous: 4, New: 5})

	require.NotNil(t, evo)
	assert.True(t, evo.Evolved, "a saved assignment change is always reported")
	assert.Equal(t, mascot.Stage(0), evo.PreviousMascot.Stage)
	assert.Equal(t, mascot.Stage(1), evo.NewMascot.Stage)
	assert.Equal(t, "ember_kit", evo.NewMascot.Variant)
	assert.Equal(t, mascot.Stage(1), st.Mascot.Stage)
	assert.Equal(t, mascot.Stage(1), f.state(t).Mascot.Stage)
}

func TestEvolution_BadgeGrantIsIdempotent(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)

	_, _ = observe(t, f, progression.LevelChange{Previous: 4, New: 5})
	evo, _ := observe(t, f, progression.LevelChange{Previous: 4, New: 5})

	require.NotNil(t, evo)
	assert.Empty(t, evo.Badges)
	assert.False(t, evo.Evolved)

	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		badges, err := tx.ListBadges(f.ctx, f.user)
		assert.Len(t, badges, 1)
		return err
	}))
}

func TestEvolution_NoOps(t *testing.T) {
	t.Run("no level up", func(t *testing.T) {
		f := newFixture(t, mascot.BMINormal)
		evo, _ := observe(t, f, progression.LevelChange{Previous: 6, New: 6})
		assert.Nil(t, evo)
	})
	t.Run("level down ignored", func(t *testing.T) {
		f := newFixture(t, mascot.BMINormal)
		evo, _ := observe(t, f, progression.LevelChange{Previous: 11, New: 3})
		assert.Nil(t, evo)
	})
	t.Run("no crossing", func(t *testing.T) {
		f := newFixture(t, mascot.BMINormal)
		evo, _ := observe(t, f, progression.LevelChange{Previous: 5, New: 9})
		assert.Nil(t, evo)
	})
	t.Run("no mascot mapping", func(t *testing.T) {
		f := newFixture(t, mascot.BMIUnknown)
		evo, st := observe(t, f, progression.LevelChange{Previous: 4, New: 11})
		assert.Nil(t, evo)
		assert.True(t, st.Mascot.IsZero())
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// StreakEvaluator
// ══════════════════════════════════════════════════════════════════════════════

func completeDay(t *testing.T, f *fixture, day shared.Date, categories int) {
	t.Helper()
	now := t0.AddDate(0, 0, today.DaysUntil(day))
	inputs := []ledger.Input{
		ledger.StepsInput{DeviceSteps: intp(10000)},
		ledger.HydrationInput{Glasses: 8},
		ledger.SleepInput{Start: clockp("23:00"), End: clockp("07:00")},
		ledger.MovementInput{Done: true},
		ledger.FoodInput{Item: ledger.FoodProtein, Checked: true},
	}
	for _, in := range inputs[:categories] {
		f.record(t, day, in, now)
	}
}

func TestStreak_WatermarkInitialisation(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)

	res := f.evaluate(t, today)
	assert.True(t, res.Initialized)
	st := f.state(t)
	require.NotNil(t, st.StreakWatermark)
	assert.Equal(t, today.String(), st.StreakWatermark.String())
	assert.Equal(t, 0, st.CurrentStreak)
}

func TestStreak_BackfillSequence(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	start := today.AddDays(-4)
	f.evaluate(t, start)

	completeDay(t, f, start.AddDays(1), 4)
	completeDay(t, f, start.AddDays(2), 1)
	completeDay(t, f, start.AddDays(3), 5)

	res := f.evaluate(t, today)
	assert.Equal(t, start.AddDays(1).String(), res.From.String())
	assert.Equal(t, today.AddDays(-1).String(), res.To.String())
	assert.Len(t, res.Outcome.Days, 3)

	st := f.state(t)
	assert.Equal(t, 1, st.CurrentStreak)
	assert.Equal(t, 1, st.LongestStreak)
	assert.Equal(t, today.String(), st.StreakWatermark.String())
}

func TestStreak_SecondCallSameDayIsNoOp(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	start := today.AddDays(-3)
	f.evaluate(t, start)
	completeDay(t, f, start.AddDays(1), 3)

	f.evaluate(t, today)
	before := f.state(t)

	res := f.evaluate(t, today)
	assert.True(t, res.Skipped)
	after := f.state(t)
	assert.Equal(t, before.Streak(), after.Streak())
	assert.Equal(t, before.StreakWatermark.String(), after.StreakWatermark.String())
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestStreak_WatermarkAheadIsNoOp(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	f.evaluate(t, today)

	res := f.evaluate(t, today.AddDays(-2))
	assert.True(t, res.Skipped)
	assert.Equal(t, today.String(), f.state(t).StreakWatermark.String())
}

func TestStreak_YesterdayWatermarkOnlyAdvances(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	f.evaluate(t, today.AddDays(-1))

	res := f.evaluate(t, today)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Outcome.Days)
	assert.Equal(t, today.String(), f.state(t).StreakWatermark.String())
}

func TestStreak_MissingDaysCountAsMissed(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	f.seedState(t, func(st *progression.State) {
		wm := today.AddDays(-6)
		st.StreakWatermark = &wm
		st.CurrentStreak = 6
		st.LongestStreak = 6
	})
	completeDay(t, f, today.AddDays(-5), 3)

	res := f.evaluate(t, today)
	require.Len(t, res.Outcome.Days, 5)
	assert.True(t, res.Outcome.Days[0].ShieldEarned)
	assert.Equal(t, progression.DayShielded, res.Outcome.Days[1].Verdict)
	assert.Equal(t, progression.DayReset, res.Outcome.Days[2].Verdict)

	st := f.state(t)
	assert.Equal(t, 0, st.CurrentStreak)
	assert.Equal(t, 7, st.LongestStreak)
	assert.Equal(t, 0, st.StreakShields)
}

func TestStreak_UsesConfiguredGoals(t *testing.T) {
	f := newFixture(t, mascot.BMINormal)
	yesterday := today.AddDays(-1)
	f.evaluate(t, today.AddDays(-2))

	require.NoError(t, f.store.WithinTx(f.ctx, func(tx progression.Tx) error {
		return tx.SaveGoals(f.ctx, f.user, ledger.Goals{StepGoal: 3000, HydrationGoal: 2})
	}))
	f.record(t, yesterday, ledger.StepsInput{DeviceSteps: intp(3100)}, t0)
	f.record(t, yesterday, ledger.HydrationInput{Glasses: 2}, t0)
	f.record(t, yesterday, ledger.MovementInput{Done: true}, t0)

	f.evaluate(t, today)
	assert.Equal(t, 1, f.state(t).CurrentStreak)
}

func clockp(s string) *ledger.Clock {
	c := ledger.MustParseClock(s)
	return &c
}
