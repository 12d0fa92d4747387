package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PROGRESSION STATE AND DAILY LEDGERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create progression state and daily ledgers
-- Version: 001

-- One row per user. Mutated only while the user's lock is held.
CREATE TABLE IF NOT EXISTS user_progression (
    user_id UUID PRIMARY KEY,
    xp_total BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    streak_shields SMALLINT NOT NULL DEFAULT 0,
    streak_watermark DATE,
    bmi_category VARCHAR(20) NOT NULL DEFAULT '',
    mascot_variant VARCHAR(50) NOT NULL DEFAULT '',
    mascot_stage SMALLINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp_total CHECK (xp_total >= 0),
    CONSTRAINT valid_level CHECK (level BETWEEN 1 AND 100),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_shields CHECK (streak_shields BETWEEN 0 AND 1),
    CONSTRAINT valid_bmi_category CHECK (bmi_category IN ('', 'underweight', 'normal', 'overweight', 'obese'))
);

-- One row per (user, calendar day). Sleep times are minutes since midnight.
CREATE TABLE IF NOT EXISTS daily_ledgers (
    user_id UUID NOT NULL REFERENCES user_progression(user_id) ON DELETE CASCADE,
    date DATE NOT NULL,
    manual_steps INTEGER NOT NULL DEFAULT 0,
    device_steps INTEGER NOT NULL DEFAULT 0,
    effective_steps INTEGER NOT NULL DEFAULT 0,
    hydration_glasses INTEGER NOT NULL DEFAULT 0,
    hydration_high_water INTEGER NOT NULL DEFAULT 0,
    sleep_start SMALLINT,
    sleep_end SMALLINT,
    sleep_minutes INTEGER NOT NULL DEFAULT 0,
    movement_done BOOLEAN NOT NULL DEFAULT FALSE,
    food_vegetables BOOLEAN NOT NULL DEFAULT FALSE,
    food_protein BOOLEAN NOT NULL DEFAULT FALSE,
    food_mindful_snack BOOLEAN NOT NULL DEFAULT FALSE,
    award_steps_goal BOOLEAN NOT NULL DEFAULT FALSE,
    award_hydration_goal BOOLEAN NOT NULL DEFAULT FALSE,
    award_sleep_start BOOLEAN NOT NULL DEFAULT FALSE,
    award_sleep_end BOOLEAN NOT NULL DEFAULT FALSE,
    award_sleep_duration BOOLEAN NOT NULL DEFAULT FALSE,
    award_movement BOOLEAN NOT NULL DEFAULT FALSE,
    award_food_vegetables BOOLEAN NOT NULL DEFAULT FALSE,
    award_food_protein BOOLEAN NOT NULL DEFAULT FALSE,
    award_food_mindful_snack BOOLEAN NOT NULL DEFAULT FALSE,
    last_step_bonus_at TIMESTAMP WITH TIME ZONE,
    xp_earned_today INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, date),
    CONSTRAINT valid_daily_cap CHECK (xp_earned_today BETWEEN 0 AND 150),
    CONSTRAINT valid_steps CHECK (manual_steps BETWEEN 0 AND 50000 AND device_steps >= 0),
    CONSTRAINT valid_high_water CHECK (hydration_high_water >= 0),
    CONSTRAINT valid_sleep_start CHECK (sleep_start IS NULL OR sleep_start BETWEEN 0 AND 1439),
    CONSTRAINT valid_sleep_end CHECK (sleep_end IS NULL OR sleep_end BETWEEN 0 AND 1439)
);

-- Trigger function keeping updated_at current
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_user_progression_updated_at ON user_progression;
CREATE TRIGGER update_user_progression_updated_at
    BEFORE UPDATE ON user_progression
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();

DROP TRIGGER IF EXISTS update_daily_ledgers_updated_at ON daily_ledgers;
CREATE TRIGGER update_daily_ledgers_updated_at
    BEFORE UPDATE ON daily_ledgers
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration001Down = `
DROP TRIGGER IF EXISTS update_daily_ledgers_updated_at ON daily_ledgers;
DROP TRIGGER IF EXISTS update_user_progression_updated_at ON user_progression;
DROP TABLE IF EXISTS daily_ledgers;
DROP TABLE IF EXISTS user_progression;
DROP FUNCTION IF EXISTS update_updated_at_column();
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: GOALS AND BADGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create goals and badges
-- Version: 002

-- Per-user goals. A missing row means the defaults apply.
CREATE TABLE IF NOT EXISTS user_goals (
    user_id UUID PRIMARY KEY REFERENCES user_progression(user_id) ON DELETE CASCADE,
    step_goal INTEGER NOT NULL DEFAULT 10000,
    hydration_goal INTEGER NOT NULL DEFAULT 8,
    movement_preference VARCHAR(20) NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_step_goal CHECK (step_goal > 0),
    CONSTRAINT valid_hydration_goal CHECK (hydration_goal > 0)
);

-- Badges are granted at most once per user.
CREATE TABLE IF NOT EXISTS user_badges (
    user_id UUID NOT NULL REFERENCES user_progression(user_id) ON DELETE CASCADE,
    code VARCHAR(50) NOT NULL,
    granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, code)
);

CREATE INDEX IF NOT EXISTS idx_user_badges_granted_at ON user_badges(user_id, granted_at);
`

const migration002Down = `
DROP TABLE IF EXISTS user_badges;
DROP TABLE IF EXISTS user_goals;
`

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_progression_and_ledgers",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_goals_and_badges",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}
