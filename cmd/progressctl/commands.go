package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/habitquest/progression/internal/application/command"
	"github.com/habitquest/progression/internal/application/query"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withMigrator := func(c *cobra.Command, fn func(m *postgres.Migrator) error) error {
		return run(c, func(a *app) error {
			if a.conn == nil {
				return errors.New("migrate requires ENGINE_STORE=postgres")
			}
			return fn(postgres.NewMigrator(a.conn))
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrator(c, func(m *postgres.Migrator) error {
					n, err := m.Migrate(c.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.OutOrStdout(), "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrator(c, func(m *postgres.Migrator) error {
					return m.Rollback(c.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrator(c, func(m *postgres.Migrator) error {
					status, err := m.Status(c.Context())
					if err != nil {
						return err
					}
					for _, s := range status {
						state := "pending"
						if s.IsApplied {
							state = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
						}
						fmt.Fprintf(c.OutOrStdout(), "%03d %-32s %s\n", s.Version, s.Name, state)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// USER
// ══════════════════════════════════════════════════════════════════════════════

type userOutput struct {
	UserID      string `json:"user_id"`
	Level       int    `json:"level"`
	BMICategory string `json:"bmi_category,omitempty"`
	Mascot      string `json:"mascot,omitempty"`
}

func newUserCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var (
		id       string
		heightCm float64
		weightKg float64
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the progression state of a user",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c, func(a *app) error {
				res, err := a.createUser.Handle(c.Context(), command.CreateUserCommand{
					UserID:   id,
					HeightCm: heightCm,
					WeightKg: weightKg,
				})
				if err != nil {
					return err
				}
				s := res.State
				return writeJSON(c.OutOrStdout(), userOutput{
					UserID:      s.UserID.String(),
					Level:       s.Level.Int(),
					BMICategory: s.BMICategory.String(),
					Mascot:      s.Mascot.Variant,
				})
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "user id (UUID); generated when empty")
	create.Flags().Float64Var(&heightCm, "height", 0, "height in centimetres")
	create.Flags().Float64Var(&weightKg, "weight", 0, "weight in kilograms")

	cmd.AddCommand(create)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

type recordOutput struct {
	Category      string             `json:"category"`
	Date          string             `json:"date"`
	RawXP         int64              `json:"raw_xp"`
	AppliedXP     int64              `json:"applied_xp"`
	XPEarnedToday int64              `json:"xp_earned_today"`
	XPTotal       int64              `json:"xp_total"`
	Level         int                `json:"level"`
	CapReached    bool               `json:"cap_reached"`
	Events        []shared.EventType `json:"events"`
}

func eventTypes(events []shared.Event) []shared.EventType {
	types := make([]shared.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType())
	}
	return types
}

func newRecordCmd(run runner) *cobra.Command {
	var (
		date        string
		manualSteps int
		deviceSteps int
		glasses     int
		sleepStart  string
		sleepEnd    string
		movement    bool
		food        string
		checked     bool
	)

	cmd := &cobra.Command{
		Use:   "record <user-id> <category>",
		Short: "Record a habit action (steps, hydration, sleep, movement, food)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			rc := command.RecordHabitCommand{
				UserID:       args[0],
				Category:     args[1],
				Date:         date,
				Glasses:      glasses,
				SleepStart:   sleepStart,
				SleepEnd:     sleepEnd,
				MovementDone: movement,
				FoodItem:     food,
				FoodChecked:  checked,
			}
			if c.Flags().Changed("manual-steps") {
				rc.ManualSteps = &manualSteps
			}
			if c.Flags().Changed("device-steps") {
				rc.DeviceSteps = &deviceSteps
			}

			return run(c, func(a *app) error {
				res, err := a.record.Handle(c.Context(), rc)
				if err != nil {
					return err
				}
				h := res.Habit
				return writeJSON(c.OutOrStdout(), recordOutput{
					Category:      h.Category.String(),
					Date:          h.Date.String(),
					RawXP:         h.RawXP.Int64(),
					AppliedXP:     h.AppliedXP.Int64(),
					XPEarnedToday: h.XPEarnedToday.Int64(),
					XPTotal:       h.XPTotal.Int64(),
					Level:         h.Level.Int(),
					CapReached:    h.CapReached(),
					Events:        eventTypes(res.Events),
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&date, "date", "", "day as YYYY-MM-DD (default: today)")
	f.IntVar(&manualSteps, "manual-steps", 0, "manually entered steps")
	f.IntVar(&deviceSteps, "device-steps", 0, "steps reported by a device")
	f.IntVar(&glasses, "glasses", 0, "glasses of water so far today")
	f.StringVar(&sleepStart, "sleep-start", "", "bedtime as HH:MM")
	f.StringVar(&sleepEnd, "sleep-end", "", "wake-up time as HH:MM")
	f.BoolVar(&movement, "movement", true, "movement done")
	f.StringVar(&food, "food", "", "food item: vegetables, protein, mindful_snack")
	f.BoolVar(&checked, "checked", true, "whether the food item is checked")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS
// ══════════════════════════════════════════════════════════════════════════════

func newGoalsCmd(run runner) *cobra.Command {
	var (
		steps    int
		glasses  int
		movement string
	)

	cmd := &cobra.Command{
		Use:   "goals <user-id>",
		Short: "Set the step and hydration goals of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return run(c, func(a *app) error {
				goals, err := a.setGoals.Handle(c.Context(), command.SetGoalsCommand{
					UserID:             args[0],
					StepGoal:           steps,
					HydrationGoal:      glasses,
					MovementPreference: movement,
				})
				if err != nil {
					return err
				}
				return writeJSON(c.OutOrStdout(), goals)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "daily step goal (default 10000)")
	cmd.Flags().IntVar(&glasses, "glasses", 0, "daily hydration goal in glasses (default 8)")
	cmd.Flags().StringVar(&movement, "movement", "", "preferred movement: walking, running, cycling, yoga, strength, stretching")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

type streakOutput struct {
	Initialized bool               `json:"initialized"`
	Skipped     bool               `json:"skipped"`
	From        string             `json:"from,omitempty"`
	To          string             `json:"to,omitempty"`
	Current     int                `json:"current"`
	Longest     int                `json:"longest"`
	Shields     int                `json:"shields"`
	Events      []shared.EventType `json:"events"`
}

func newStreakCmd(run runner) *cobra.Command {
	var today string

	cmd := &cobra.Command{
		Use:   "streak <user-id>",
		Short: "Evaluate the streak for every closed day up to yesterday",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return run(c, func(a *app) error {
				res, err := a.streaks.Handle(c.Context(), command.EvaluateStreakCommand{
					UserID: args[0],
					Today:  today,
				})
				if err != nil {
					return err
				}
				ev := res.Evaluation
				return writeJSON(c.OutOrStdout(), streakOutput{
					Initialized: ev.Initialized,
					Skipped:     ev.Skipped,
					From:        ev.From.String(),
					To:          ev.To.String(),
					Current:     ev.Outcome.After.Current,
					Longest:     ev.Outcome.After.Longest,
					Shields:     ev.Outcome.After.Shields,
					Events:      eventTypes(res.Events),
				})
			})
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "current day as YYYY-MM-DD (default: today)")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

func newStatusCmd(run runner) *cobra.Command {
	var (
		date       string
		skipStreak bool
	)

	cmd := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show level, streak, mascot, badges and today's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return run(c, func(a *app) error {
				p, err := a.progress.Handle(c.Context(), query.GetProgressQuery{
					UserID:     args[0],
					Today:      date,
					SkipStreak: skipStreak,
				})
				if err != nil {
					return err
				}
				return writeJSON(c.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day for the summary as YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&skipStreak, "skip-streak", false, "do not evaluate the streak before reading")
	return cmd
}
