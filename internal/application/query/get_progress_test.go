package query_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression/internal/application/command"
	"github.com/habitquest/progression/internal/application/query"
	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/internal/infrastructure/lock"
	"github.com/habitquest/progression/internal/infrastructure/persistence/memory"
	"github.com/habitquest/progression/pkg/timeutil"
)

type mapCache struct {
	entries map[string]*progression.Progress
	getErr  error
	sets    int

	// beforeSet runs at the start of Set.
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]*progression.Progress)}
}

func (c *mapCache) Get(_ context.Context, userID shared.UserID, today shared.Date) (*progression.Progress, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[userID.String()+":"+today.String()], nil
}

func (c *mapCache) Set(_ context.Context, p *progression.Progress) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.sets++
	c.entries[p.UserID.String()+":"+p.Today.Date.String()] = p
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID shared.UserID) error {
	for k, p := range c.entries {
		if p.UserID == userID {
			delete(c.entries, k)
		}
	}
	return nil
}

type fixture struct {
	cache   *mapCache
	clock   *timeutil.FixedClock
	create  *command.CreateUserHandler
	record  *command.RecordHabitHandler
	handler *query.GetProgressHandler
}

func newFixture() *fixture {
	cache := newMapCache()
	clock := timeutil.NewFixedClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	engine := progression.NewEngine(progression.DefaultLevelTable(), mascot.Default())
	store := memory.New()
	deps := command.Deps{
		Engine: engine,
		Store:  store,
		Locker: lock.NewKeyedMutex(),
		Cache:  cache,
		Clock:  clock,
	}
	return &fixture{
		cache:  cache,
		clock:  clock,
		create: command.NewCreateUserHandler(deps),
		record: command.NewRecordHabitHandler(deps),
		handler: query.NewGetProgressHandler(query.GetProgressHandlerConfig{
			Engine:  engine,
			Store:   store,
			Streaks: command.NewEvaluateStreakHandler(deps),
			Cache:   cache,
			Locker:  deps.Locker,
			Clock:   deps.Clock,
		}),
	}
}

func (f *fixture) newUser(t *testing.T) string {
	t.Helper()
	res, err := f.create.Handle(context.Background(), command.CreateUserCommand{HeightCm: 180, WeightKg: 90})
	require.NoError(t, err)
	return res.State.UserID.String()
}

func TestGetProgressHandler_FreshUser(t *testing.T) {
	f := newFixture()
	userID := f.newUser(t)

	p, err := f.handler.Handle(context.Background(), query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)

	assert.Equal(t, shared.Level(1), p.Level)
	require.NotNil(t, p.NextLevelXP)
	assert.Equal(t, shared.XP(500), *p.NextLevelXP)
	require.NotNil(t, p.StreakWatermark, "reading progress places the streak watermark")
	assert.Equal(t, "2026-05-10", p.StreakWatermark.String())
	assert.Equal(t, "pebble_cub", p.Mascot)
	assert.Equal(t, progression.DailyXPCap, p.Today.XPRemainingToday)
	assert.Empty(t, p.Badges)
}

func TestGetProgressHandler_ReflectsWritesThroughCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.newUser(t)

	_, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.sets)

	again, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.sets, "second read is served from cache")
	assert.Equal(t, shared.XP(0), again.XPTotal)

	_, err = f.record.Handle(ctx, command.RecordHabitCommand{UserID: userID, Category: "hydration", Glasses: 8})
	require.NoError(t, err)

	p, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, shared.XP(60), p.XPTotal)
	assert.Equal(t, shared.XP(90), p.Today.XPRemainingToday)
	assert.Contains(t, p.Today.CompletedCategories, ledger.CategoryHydration)
	assert.Equal(t, 2, f.cache.sets)
}

func TestGetProgressHandler_CacheFailureFallsBack(t *testing.T) {
	f := newFixture()
	f.cache.getErr = errors.New("redis unavailable")
	userID := f.newUser(t)

	p, err := f.handler.Handle(context.Background(), query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, shared.Level(1), p.Level)
}

func TestGetProgressHandler_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, query.GetProgressQuery{})
	assert.Error(t, err)

	_, err = f.handler.Handle(ctx, query.GetProgressQuery{UserID: "not-a-uuid"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.handler.Handle(ctx, query.GetProgressQuery{UserID: shared.GenerateUserID().String()})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetProgressHandler_WriteDuringCacheFillIsNotLost(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.newUser(t)

	var wg sync.WaitGroup
	f.cache.beforeSet = func() {
		f.cache.beforeSet = nil
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.record.Handle(ctx, command.RecordHabitCommand{UserID: userID, Category: "movement", MovementDone: true})
			assert.NoError(t, err)
		}()
		// give the writer a chance to commit before the view is stored
		time.Sleep(50 * time.Millisecond)
	}

	first, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, shared.XP(0), first.XPTotal)
	wg.Wait()

	p, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, shared.XP(15), p.XPTotal, "a write committed while the view was cached must be visible")
}

func TestGetProgressHandler_RejectsFutureDay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.newUser(t)

	_, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID})
	require.NoError(t, err)

	_, err = f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID, Today: "2026-05-11"})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrFutureDate)
	assert.ErrorIs(t, err, shared.ErrInvalidDate)
	assert.True(t, shared.IsValidation(err))

	p, err := f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID, SkipStreak: true})
	require.NoError(t, err)
	assert.Equal(t, "2026-05-10", p.StreakWatermark.String(), "the watermark stays on the real calendar")

	f.clock.Advance(24 * time.Hour)
	p, err = f.handler.Handle(ctx, query.GetProgressQuery{UserID: userID, Today: "2026-05-11"})
	require.NoError(t, err)
	assert.Equal(t, "2026-05-11", p.StreakWatermark.String())
}
