package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
	"github.com/habitquest/progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// StoreConfig configures a Store.
type StoreConfig struct {
	// RetryAttempts is how many times a transaction that lost a serialization
	// race or a deadlock is run in total.
	RetryAttempts int

	// QueryTimeout bounds one whole transaction. Zero disables it.
	QueryTimeout time.Duration

	Logger *logger.Logger
}

// Store is the PostgreSQL progression.Store. Row locks taken with
// SELECT ... FOR UPDATE back up the per-user application lock.
type Store struct {
	conn    *Connection
	retrier *retry.Retrier
	timeout time.Duration
	log     *logger.Logger
}

// NewStore creates a Store over conn.
func NewStore(conn *Connection, cfg StoreConfig) *Store {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	log := cfg.Logger.With(logger.Component("postgres_store"))

	return &Store{
		conn: conn,
		retrier: retry.DatabaseRetrier(cfg.RetryAttempts, IsTransient,
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying transaction",
					logger.Int("attempt", attempt),
					logger.Duration("delay", delay),
					logger.Err(err),
				)
			}),
		),
		timeout: cfg.QueryTimeout,
		log:     log,
	}
}

// WithinTx implements progression.Store. fn may run more than once when the
// database aborts the transaction for concurrency reasons.
func (s *Store) WithinTx(ctx context.Context, fn func(tx progression.Tx) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
			return fn(&storeTx{tx: tx})
		})
	})
}

// storeTx implements progression.Tx over one pgx transaction.
type storeTx struct {
	tx pgx.Tx
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION STATE
// ══════════════════════════════════════════════════════════════════════════════

const stateColumns = `xp_total, level, current_streak, longest_streak, streak_shields,
	streak_watermark, bmi_category, mascot_variant, mascot_stage, created_at, updated_at`

func scanState(row rowScanner, userID shared.UserID) (*progression.State, error) {
	var (
		xp        int64
		level     int
		stage     int
		bmi       string
		variant   string
		watermark *time.Time
	)
	s := &progression.State{UserID: userID}
	err := row.Scan(
		&xp, &level, &s.CurrentStreak, &s.LongestStreak, &s.StreakShields,
		&watermark, &bmi, &variant, &stage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.XPTotal = shared.XP(xp)
	s.Level = shared.Level(level)
	s.BMICategory = mascot.BMICategory(bmi)
	if variant != "" {
		s.Mascot = mascot.Assignment{Category: s.BMICategory, Stage: mascot.Stage(stage), Variant: variant}
	}
	if watermark != nil {
		d := shared.DateOf(watermark.UTC())
		s.StreakWatermark = &d
	}
	return s, nil
}

func stateArgs(s *progression.State) []any {
	var watermark *time.Time
	if s.StreakWatermark != nil {
		t := s.StreakWatermark.Time()
		watermark = &t
	}
	return []any{
		s.UserID.String(), s.XPTotal.Int64(), s.Level.Int(), s.CurrentStreak, s.LongestStreak,
		s.StreakShields, watermark, s.BMICategory.String(), s.Mascot.Variant, int(s.Mascot.Stage),
		s.CreatedAt, s.UpdatedAt,
	}
}

func (t *storeTx) getState(ctx context.Context, userID shared.UserID, forUpdate bool) (*progression.State, error) {
	query := `SELECT ` + stateColumns + ` FROM user_progression WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	s, err := scanState(t.tx.QueryRow(ctx, query, userID.String()), userID)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("get state %s: %w", userID, err)
	}
	return s, nil
}

// GetState implements progression.Tx.
func (t *storeTx) GetState(ctx context.Context, userID shared.UserID) (*progression.State, error) {
	return t.getState(ctx, userID, false)
}

// GetStateForUpdate implements progression.Tx.
func (t *storeTx) GetStateForUpdate(ctx context.Context, userID shared.UserID) (*progression.State, error) {
	return t.getState(ctx, userID, true)
}

// CreateState implements progression.Tx.
func (t *storeTx) CreateState(ctx context.Context, state *progression.State) error {
	query := `
		INSERT INTO user_progression (
			user_id, xp_total, level, current_streak, longest_streak, streak_shields,
			streak_watermark, bmi_category, mascot_variant, mascot_stage, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := t.tx.Exec(ctx, query, stateArgs(state)...); err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("create state %s: %w", state.UserID, err)
	}
	return nil
}

// SaveState implements progression.Tx.
func (t *storeTx) SaveState(ctx context.Context, state *progression.State) error {
	query := `
		UPDATE user_progression SET
			xp_total = $2, level = $3, current_streak = $4, longest_streak = $5,
			streak_shields = $6, streak_watermark = $7, bmi_category = $8,
			mascot_variant = $9, mascot_stage = $10, created_at = $11, updated_at = $12
		WHERE user_id = $1
	`
	tag, err := t.tx.Exec(ctx, query, stateArgs(state)...)
	if err != nil {
		return fmt.Errorf("save state %s: %w", state.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY LEDGERS
// ══════════════════════════════════════════════════════════════════════════════

const ledgerColumns = `date, manual_steps, device_steps, effective_steps,
	hydration_glasses, hydration_high_water, sleep_start, sleep_end, sleep_minutes,
	movement_done, food_vegetables, food_protein, food_mindful_snack,
	award_steps_goal, award_hydration_goal, award_sleep_start, award_sleep_end,
	award_sleep_duration, award_movement, award_food_vegetables, award_food_protein,
	award_food_mindful_snack, last_step_bonus_at, xp_earned_today, created_at, updated_at`

// clockMinutes stores a clock as minutes since midnight; nil stays NULL.
func clockMinutes(c *ledger.Clock) *int {
	if c == nil {
		return nil
	}
	m := c.Minutes()
	return &m
}

func clockFromMinutes(m *int) *ledger.Clock {
	if m == nil {
		return nil
	}
	return &ledger.Clock{Hour: *m / 60, Minute: *m % 60}
}

func awardFrom(paid bool) ledger.Award {
	if paid {
		return ledger.Awarded
	}
	return ledger.NotAwarded
}

func scanLedger(row rowScanner, userID shared.UserID) (*ledger.DailyLedger, error) {
	var (
		date                        time.Time
		sleepStart, sleepEnd        *int
		xpToday                     int64
		stepsGoal, hydrationGoal    bool
		slStart, slEnd, slDuration  bool
		movement                    bool
		foodVeg, foodPro, foodSnack bool
	)
	l := &ledger.DailyLedger{UserID: userID}
	err := row.Scan(
		&date, &l.ManualSteps, &l.DeviceSteps, &l.EffectiveSteps,
		&l.HydrationGlasses, &l.HydrationHighWater, &sleepStart, &sleepEnd, &l.SleepMinutes,
		&l.MovementDone, &l.Food[ledger.FoodVegetables], &l.Food[ledger.FoodProtein], &l.Food[ledger.FoodMindfulSnack],
		&stepsGoal, &hydrationGoal, &slStart, &slEnd,
		&slDuration, &movement, &foodVeg, &foodPro,
		&foodSnack, &l.LastStepBonusAt, &xpToday, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Date = shared.DateOf(date.UTC())
	l.SleepStart = clockFromMinutes(sleepStart)
	l.SleepEnd = clockFromMinutes(sleepEnd)
	l.XPEarnedToday = shared.XP(xpToday)
	l.Awards = ledger.AwardFlags{
		StepsGoal:     awardFrom(stepsGoal),
		HydrationGoal: awardFrom(hydrationGoal),
		SleepStart:    awardFrom(slStart),
		SleepEnd:      awardFrom(slEnd),
		SleepDuration: awardFrom(slDuration),
		Movement:      awardFrom(movement),
		Food:          [ledger.FoodItemCount]ledger.Award{awardFrom(foodVeg), awardFrom(foodPro), awardFrom(foodSnack)},
	}
	return l, nil
}

func ledgerArgs(l *ledger.DailyLedger) []any {
	a := l.Awards
	return []any{
		l.UserID.String(), l.Date.Time(), l.ManualSteps, l.DeviceSteps, l.EffectiveSteps,
		l.HydrationGlasses, l.HydrationHighWater, clockMinutes(l.SleepStart), clockMinutes(l.SleepEnd), l.SleepMinutes,
		l.MovementDone, l.Food[ledger.FoodVegetables], l.Food[ledger.FoodProtein], l.Food[ledger.FoodMindfulSnack],
		a.StepsGoal.IsAwarded(), a.HydrationGoal.IsAwarded(), a.SleepStart.IsAwarded(), a.SleepEnd.IsAwarded(),
		a.SleepDuration.IsAwarded(), a.Movement.IsAwarded(), a.Food[ledger.FoodVegetables].IsAwarded(), a.Food[ledger.FoodProtein].IsAwarded(),
		a.Food[ledger.FoodMindfulSnack].IsAwarded(), l.LastStepBonusAt, l.XPEarnedToday.Int64(), l.CreatedAt, l.UpdatedAt,
	}
}

// GetLedger implements progression.Tx.
func (t *storeTx) GetLedger(ctx context.Context, userID shared.UserID, date shared.Date) (*ledger.DailyLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM daily_ledgers WHERE user_id = $1 AND date = $2`

	l, err := scanLedger(t.tx.QueryRow(ctx, query, userID.String(), date.Time()), userID)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger %s/%s: %w", userID, date, err)
	}
	return l, nil
}

// GetLedgerForUpdate implements progression.Tx. The insert makes concurrent
// first writes for a day converge on one row instead of failing.
func (t *storeTx) GetLedgerForUpdate(ctx context.Context, userID shared.UserID, date shared.Date, now time.Time) (*ledger.DailyLedger, error) {
	insert := `
		INSERT INTO daily_ledgers (user_id, date, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, date) DO NOTHING
	`
	if _, err := t.tx.Exec(ctx, insert, userID.String(), date.Time(), now); err != nil {
		if IsForeignKeyViolation(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("ensure ledger %s/%s: %w", userID, date, err)
	}

	query := `SELECT ` + ledgerColumns + ` FROM daily_ledgers WHERE user_id = $1 AND date = $2 FOR UPDATE`
	l, err := scanLedger(t.tx.QueryRow(ctx, query, userID.String(), date.Time()), userID)
	if err != nil {
		return nil, fmt.Errorf("lock ledger %s/%s: %w", userID, date, err)
	}
	return l, nil
}

// SaveLedger implements progression.Tx.
func (t *storeTx) SaveLedger(ctx context.Context, l *ledger.DailyLedger) error {
	query := `
		INSERT INTO daily_ledgers (
			user_id, date, manual_steps, device_steps, effective_steps,
			hydration_glasses, hydration_high_water, sleep_start, sleep_end, sleep_minutes,
			movement_done, food_vegetables, food_protein, food_mindful_snack,
			award_steps_goal, award_hydration_goal, award_sleep_start, award_sleep_end,
			award_sleep_duration, award_movement, award_food_vegetables, award_food_protein,
			award_food_mindful_snack, last_step_bonus_at, xp_earned_today, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)
		ON CONFLICT (user_id, date) DO UPDATE SET
			manual_steps = EXCLUDED.manual_steps,
			device_steps = EXCLUDED.device_steps,
			effective_steps = EXCLUDED.effective_steps,
			hydration_glasses = EXCLUDED.hydration_glasses,
			hydration_high_water = EXCLUDED.hydration_high_water,
			sleep_start = EXCLUDED.sleep_start,
			sleep_end = EXCLUDED.sleep_end,
			sleep_minutes = EXCLUDED.sleep_minutes,
			movement_done = EXCLUDED.movement_done,
			food_vegetables = EXCLUDED.food_vegetables,
			food_protein = EXCLUDED.food_protein,
			food_mindful_snack = EXCLUDED.food_mindful_snack,
			award_steps_goal = EXCLUDED.award_steps_goal,
			award_hydration_goal = EXCLUDED.award_hydration_goal,
			award_sleep_start = EXCLUDED.award_sleep_start,
			award_sleep_end = EXCLUDED.award_sleep_end,
			award_sleep_duration = EXCLUDED.award_sleep_duration,
			award_movement = EXCLUDED.award_movement,
			award_food_vegetables = EXCLUDED.award_food_vegetables,
			award_food_protein = EXCLUDED.award_food_protein,
			award_food_mindful_snack = EXCLUDED.award_food_mindful_snack,
			last_step_bonus_at = EXCLUDED.last_step_bonus_at,
			xp_earned_today = EXCLUDED.xp_earned_today,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := t.tx.Exec(ctx, query, ledgerArgs(l)...); err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrUserNotFound
		}
		return fmt.Errorf("save ledger %s/%s: %w", l.UserID, l.Date, err)
	}
	return nil
}

// ListLedgers implements progression.Tx.
func (t *storeTx) ListLedgers(ctx context.Context, userID shared.UserID, from, to shared.Date) ([]*ledger.DailyLedger, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM daily_ledgers
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`
	rows, err := t.tx.Query(ctx, query, userID.String(), from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("list ledgers %s: %w", userID, err)
	}
	defer rows.Close()

	var result []*ledger.DailyLedger
	for rows.Next() {
		l, err := scanLedger(rows, userID)
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS AND BADGES
// ══════════════════════════════════════════════════════════════════════════════

// GetGoals implements progression.Tx.
func (t *storeTx) GetGoals(ctx context.Context, userID shared.UserID) (*ledger.Goals, error) {
	query := `SELECT step_goal, hydration_goal, movement_preference FROM user_goals WHERE user_id = $1`

	var (
		g    ledger.Goals
		pref string
	)
	err := t.tx.QueryRow(ctx, query, userID.String()).Scan(&g.StepGoal, &g.HydrationGoal, &pref)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get goals %s: %w", userID, err)
	}
	g.MovementPreference = ledger.MovementPreference(pref)
	return &g, nil
}

// SaveGoals implements progression.Tx.
func (t *storeTx) SaveGoals(ctx context.Context, userID shared.UserID, goals ledger.Goals) error {
	query := `
		INSERT INTO user_goals (user_id, step_goal, hydration_goal, movement_preference, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			step_goal = EXCLUDED.step_goal,
			hydration_goal = EXCLUDED.hydration_goal,
			movement_preference = EXCLUDED.movement_preference,
			updated_at = NOW()
	`
	_, err := t.tx.Exec(ctx, query, userID.String(), goals.StepGoal, goals.HydrationGoal, string(goals.MovementPreference))
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrUserNotFound
		}
		return fmt.Errorf("save goals %s: %w", userID, err)
	}
	return nil
}

// GrantBadge implements progression.Tx.
func (t *storeTx) GrantBadge(ctx context.Context, userID shared.UserID, code string, at time.Time) (bool, error) {
	query := `
		INSERT INTO user_badges (user_id, code, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, code) DO NOTHING
	`
	tag, err := t.tx.Exec(ctx, query, userID.String(), code, at)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return false, shared.ErrUserNotFound
		}
		return false, fmt.Errorf("grant badge %s to %s: %w", code, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListBadges implements progression.Tx.
func (t *storeTx) ListBadges(ctx context.Context, userID shared.UserID) ([]progression.BadgeGrant, error) {
	query := `SELECT code, granted_at FROM user_badges WHERE user_id = $1 ORDER BY granted_at, code`

	rows, err := t.tx.Query(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list badges %s: %w", userID, err)
	}
	defer rows.Close()

	var result []progression.BadgeGrant
	for rows.Next() {
		b := progression.BadgeGrant{UserID: userID}
		if err := rows.Scan(&b.Code, &b.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

var _ progression.Store = (*Store)(nil)
var _ progression.Tx = (*storeTx)(nil)
