package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression/internal/application/command"
	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/internal/infrastructure/lock"
	"github.com/habitquest/progression/internal/infrastructure/persistence/memory"
	"github.com/habitquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type countingCache struct {
	mu          sync.Mutex
	invalidated int
}

func (c *countingCache) Get(context.Context, shared.UserID, shared.Date) (*progression.Progress, error) {
	return nil, nil
}

func (c *countingCache) Set(context.Context, *progression.Progress) error { return nil }

func (c *countingCache) Invalidate(context.Context, shared.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return nil
}

type harness struct {
	store     *memory.Store
	publisher *recordingPublisher
	cache     *countingCache
	clock     *timeutil.FixedClock
	deps      command.Deps

	record  *command.RecordHabitHandler
	streak  *command.EvaluateStreakHandler
	create  *command.CreateUserHandler
	setGoal *command.SetGoalsHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		publisher: &recordingPublisher{},
		cache:     &countingCache{},
		clock:     timeutil.NewFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.deps = command.Deps{
		Engine:    progression.NewEngine(progression.DefaultLevelTable(), mascot.Default()),
		Store:     h.store,
		Locker:    lock.NewKeyedMutex(),
		Publisher: h.publisher,
		Cache:     h.cache,
		Clock:     h.clock,
	}
	h.record = command.NewRecordHabitHandler(h.deps)
	h.streak = command.NewEvaluateStreakHandler(h.deps)
	h.create = command.NewCreateUserHandler(h.deps)
	h.setGoal = command.NewSetGoalsHandler(h.deps)
	return h
}

func (h *harness) newUser(t *testing.T) string {
	t.Helper()
	res, err := h.create.Handle(context.Background(), command.CreateUserCommand{HeightCm: 170, WeightKg: 60})
	require.NoError(t, err)
	return res.State.UserID.String()
}

func (h *harness) mustRecord(t *testing.T, cmd command.RecordHabitCommand) *progression.HabitResult {
	t.Helper()
	res, err := h.record.Handle(context.Background(), cmd)
	require.NoError(t, err)
	return res.Habit
}

func intp(v int) *int { return &v }

// completeDay records three categories that meet the default goals.
func (h *harness) completeDay(t *testing.T, userID, date string) {
	t.Helper()
	h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Date: date, Category: "steps", DeviceSteps: intp(10000)})
	h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Date: date, Category: "hydration", Glasses: 8})
	h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Date: date, Category: "movement", MovementDone: true})
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE USER
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateUserHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.create.Handle(ctx, command.CreateUserCommand{HeightCm: 170, WeightKg: 60})
	require.NoError(t, err)

	st := res.State
	assert.True(t, st.UserID.IsValid())
	assert.Equal(t, shared.Level(1), st.Level)
	assert.Equal(t, shared.XP(0), st.XPTotal)
	assert.Nil(t, st.StreakWatermark)
	assert.Equal(t, mascot.BMINormal, st.BMICategory)
	assert.Equal(t, "ember_kit", st.Mascot.Variant)

	_, err = h.create.Handle(ctx, command.CreateUserCommand{UserID: st.UserID.String()})
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = h.create.Handle(ctx, command.CreateUserCommand{HeightCm: -1, WeightKg: 60})
	assert.True(t, shared.IsValidation(err))

	res, err = h.create.Handle(ctx, command.CreateUserCommand{})
	require.NoError(t, err)
	assert.Equal(t, mascot.BMIUnknown, res.State.BMICategory)
	assert.Empty(t, res.State.Mascot.Variant)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD HABIT
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordHabitHandler_AwardsAndPublishes(t *testing.T) {
	h := newHarness(t)
	userID := h.newUser(t)

	habit := h.mustRecord(t, command.RecordHabitCommand{
		UserID:        userID,
		Category:      "steps",
		DeviceSteps:   intp(10500),
		CorrelationID: "req-1",
	})

	assert.Equal(t, "2026-03-01", habit.Date.String())
	assert.Equal(t, shared.XP(40), habit.AppliedXP)
	assert.Equal(t, shared.XP(40), habit.XPTotal)
	assert.Equal(t, []shared.EventType{shared.EventXPAwarded}, h.publisher.types())
	assert.Equal(t, 1, h.cache.invalidated)

	awarded, ok := h.publisher.events[0].(shared.XPAwardedEvent)
	require.True(t, ok)
	assert.Equal(t, "req-1", awarded.CorrelationID)
	assert.Equal(t, userID, awarded.AggregateID())
}

func TestRecordHabitHandler_DuplicateSubmissionIsSilent(t *testing.T) {
	h := newHarness(t)
	userID := h.newUser(t)
	cmd := command.RecordHabitCommand{UserID: userID, Category: "movement", MovementDone: true}

	first := h.mustRecord(t, cmd)
	h.publisher.reset()
	second := h.mustRecord(t, cmd)

	assert.Equal(t, shared.XP(15), first.AppliedXP)
	assert.Equal(t, shared.XP(0), second.AppliedXP)
	assert.Equal(t, shared.XP(15), second.XPTotal)
	assert.Empty(t, h.publisher.types())
}

func TestRecordHabitHandler_LevelUpEvolutionAndBadge(t *testing.T) {
	h := newHarness(t)
	userID := h.newUser(t)
	id := shared.UserID(userID)

	require.NoError(t, h.store.WithinTx(context.Background(), func(tx progression.Tx) error {
		st, err := tx.GetState(context.Background(), id)
		if err != nil {
			return err
		}
		st.XPTotal = 3040
		st.Level = 4
		return tx.SaveState(context.Background(), st)
	}))

	habit := h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Category: "steps", DeviceSteps: intp(12000)})

	assert.Equal(t, shared.Level(5), habit.Level)
	require.NotNil(t, habit.Evolution)
	assert.Equal(t, "ember_fox", habit.Evolution.NewMascot.Variant)
	assert.Equal(t, []shared.EventType{
		shared.EventXPAwarded,
		shared.EventLevelUp,
		shared.EventMascotEvolved,
		shared.EventBadgeGranted,
	}, h.publisher.types())
}

func TestRecordHabitHandler_PublishFailureDoesNotFail(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")
	userID := h.newUser(t)

	habit := h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Category: "hydration", Glasses: 2})
	assert.Equal(t, shared.XP(10), habit.AppliedXP)
}

func TestRecordHabitHandler_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(t)

	tests := []struct {
		name  string
		cmd   command.RecordHabitCommand
		check func(error) bool
	}{
		{"missing user", command.RecordHabitCommand{Category: "steps"}, func(err error) bool { return err != nil }},
		{"bad user id", command.RecordHabitCommand{UserID: "nope", Category: "steps", DeviceSteps: intp(1)}, shared.IsValidation},
		{"unknown category", command.RecordHabitCommand{UserID: userID, Category: "meditation"}, shared.IsValidation},
		{"unknown food", command.RecordHabitCommand{UserID: userID, Category: "food", FoodItem: "cake"}, shared.IsValidation},
		{"bad clock", command.RecordHabitCommand{UserID: userID, Category: "sleep", SleepStart: "25:00"}, shared.IsValidation},
		{"steps out of range", command.RecordHabitCommand{UserID: userID, Category: "steps", ManualSteps: intp(60000)}, shared.IsValidation},
		{"bad date", command.RecordHabitCommand{UserID: userID, Date: "03/01/2026", Category: "movement"}, shared.IsValidation},
		{"unknown user", command.RecordHabitCommand{UserID: shared.GenerateUserID().String(), Category: "movement", MovementDone: true}, shared.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.record.Handle(ctx, tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
	assert.Empty(t, h.publisher.types())
}

func TestRecordHabitHandler_ConcurrentUpdatesRespectCap(t *testing.T) {
	h := newHarness(t)
	userID := h.newUser(t)

	cmds := []command.RecordHabitCommand{
		{Category: "steps", DeviceSteps: intp(10000)},
		{Category: "hydration", Glasses: 8},
		{Category: "sleep", SleepStart: "23:00", SleepEnd: "07:00"},
		{Category: "movement", MovementDone: true},
		{Category: "food", FoodItem: "vegetables", FoodChecked: true},
		{Category: "food", FoodItem: "protein", FoodChecked: true},
		{Category: "food", FoodItem: "mindful_snack", FoodChecked: true},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied shared.XP
	)
	for round := 0; round < 3; round++ {
		for _, cmd := range cmds {
			cmd.UserID = userID
			wg.Add(1)
			go func(cmd command.RecordHabitCommand) {
				defer wg.Done()
				res, err := h.record.Handle(context.Background(), cmd)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				applied += res.Habit.AppliedXP
				mu.Unlock()
			}(cmd)
		}
	}
	wg.Wait()

	assert.Equal(t, progression.DailyXPCap, applied)

	var st *progression.State
	require.NoError(t, h.store.WithinTx(context.Background(), func(tx progression.Tx) error {
		var err error
		st, err = tx.GetState(context.Background(), shared.UserID(userID))
		return err
	}))
	assert.Equal(t, progression.DailyXPCap, st.XPTotal)
}

// ══════════════════════════════════════════════════════════════════════════════
// SET GOALS
// ══════════════════════════════════════════════════════════════════════════════

func TestSetGoalsHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(t)

	goals, err := h.setGoal.Handle(ctx, command.SetGoalsCommand{UserID: userID, StepGoal: 5000, MovementPreference: "Yoga"})
	require.NoError(t, err)
	assert.Equal(t, 5000, goals.StepGoal)
	assert.Equal(t, 8, goals.HydrationGoal)
	assert.Equal(t, 1, h.cache.invalidated)

	habit := h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Category: "steps", DeviceSteps: intp(5000)})
	assert.Equal(t, shared.XP(20), habit.AppliedXP)

	_, err = h.setGoal.Handle(ctx, command.SetGoalsCommand{UserID: userID, StepGoal: 10, HydrationGoal: 99})
	assert.True(t, shared.IsValidation(err))

	_, err = h.setGoal.Handle(ctx, command.SetGoalsCommand{UserID: shared.GenerateUserID().String()})
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE STREAK
// ══════════════════════════════════════════════════════════════════════════════

func TestEvaluateStreakHandler_BackfillEmitsEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(t)
	h.clock.Advance(4 * 24 * time.Hour) // 2026-03-05

	res, err := h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID, Today: "2026-03-01"})
	require.NoError(t, err)
	assert.True(t, res.Evaluation.Initialized)
	assert.Empty(t, res.Events)

	h.completeDay(t, userID, "2026-03-02")
	h.completeDay(t, userID, "2026-03-03")
	h.publisher.reset()

	res, err = h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID, Today: "2026-03-05"})
	require.NoError(t, err)

	out := res.Evaluation.Outcome
	assert.Equal(t, 0, out.After.Current)
	assert.Equal(t, 2, out.After.Longest)
	assert.Equal(t, []shared.EventType{shared.EventStreakBroken, shared.EventStreakUpdated}, h.publisher.types())

	summary, ok := res.Events[1].(shared.StreakUpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, "2026-03-02", summary.FromDate)
	assert.Equal(t, "2026-03-04", summary.ToDate)
	assert.Equal(t, 3, summary.DaysEvaluated)

	h.publisher.reset()
	res, err = h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID, Today: "2026-03-05"})
	require.NoError(t, err)
	assert.True(t, res.Evaluation.Skipped)
	assert.Empty(t, h.publisher.types())
}

func TestEvaluateStreakHandler_ShieldEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(t)
	h.clock.Advance(9 * 24 * time.Hour) // 2026-03-10

	_, err := h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID, Today: "2026-03-01"})
	require.NoError(t, err)

	start := shared.MustParseDate("2026-03-02")
	for i := 0; i < 7; i++ {
		h.completeDay(t, userID, start.AddDays(i).String())
	}
	h.publisher.reset()

	// 7 complete days, then one missed day absorbed by the shield
	res, err := h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID, Today: start.AddDays(8).String()})
	require.NoError(t, err)

	assert.Equal(t, []shared.EventType{
		shared.EventShieldEarned,
		shared.EventShieldUsed,
		shared.EventStreakUpdated,
	}, h.publisher.types())
	assert.Equal(t, 7, res.Evaluation.Outcome.After.Current)
	assert.Equal(t, 0, res.Evaluation.Outcome.After.Shields)
}

func TestHandlers_RejectFutureDays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.newUser(t)

	_, err := h.record.Handle(ctx, command.RecordHabitCommand{UserID: userID, Date: "2026-03-02", Category: "movement", MovementDone: true})
	assert.ErrorIs(t, err, shared.ErrFutureDate)
	assert.True(t, shared.IsValidation(err))

	_, err = h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID, Today: "2027-05-10"})
	assert.ErrorIs(t, err, shared.ErrInvalidDate)

	res, err := h.streak.Handle(ctx, command.EvaluateStreakCommand{UserID: userID})
	require.NoError(t, err)
	assert.True(t, res.Evaluation.Initialized)
	assert.Equal(t, "2026-03-01", res.Evaluation.Today.String())

	// past days stay open for late entries
	h.mustRecord(t, command.RecordHabitCommand{UserID: userID, Date: "2026-02-27", Category: "movement", MovementDone: true})
}

func TestResolveDate(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC))
	almaty, err := timeutil.LoadZone("Asia/Almaty")
	require.NoError(t, err)

	d, err := command.ResolveDate("", time.UTC, clock.Now(), clock)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", d.String())

	_, err = command.ResolveDate("2026-03-02", time.UTC, clock.Now(), clock)
	assert.ErrorIs(t, err, shared.ErrFutureDate)

	// already the 2nd in Almaty
	d, err = command.ResolveDate("2026-03-02", almaty, clock.Now(), clock)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", d.String())

	_, err = command.ResolveDate("bad", time.UTC, clock.Now(), clock)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}
