package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET GOALS COMMAND
// Сохраняет цели пользователя. Новые цели влияют только на последующие
// начисления; уже выданные награды не пересчитываются.
// ══════════════════════════════════════════════════════════════════════════════

// SetGoalsCommand содержит новые цели.
type SetGoalsCommand struct {
	UserID string

	// StepGoal / HydrationGoal - ноль означает значение по умолчанию.
	StepGoal      int
	HydrationGoal int

	MovementPreference string
}

// Goals normalizes the command into validated goals.
func (c SetGoalsCommand) Goals() (ledger.Goals, error) {
	if c.UserID == "" {
		return ledger.Goals{}, errors.New("user_id is required")
	}
	pref, err := ledger.ParseMovementPreference(c.MovementPreference)
	if err != nil {
		return ledger.Goals{}, err
	}
	g := ledger.DefaultGoals()
	if c.StepGoal != 0 {
		g.StepGoal = c.StepGoal
	}
	if c.HydrationGoal != 0 {
		g.HydrationGoal = c.HydrationGoal
	}
	g.MovementPreference = pref
	if err := g.Validate(); err != nil {
		return ledger.Goals{}, err
	}
	return g, nil
}

// SetGoalsHandler обрабатывает сохранение целей.
type SetGoalsHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewSetGoalsHandler creates a new SetGoalsHandler.
func NewSetGoalsHandler(deps Deps) *SetGoalsHandler {
	deps = deps.withDefaults()
	return &SetGoalsHandler{
		deps: deps,
		log:  deps.Logger.With(logger.Component("set_goals")),
	}
}

// Handle executes the set goals command.
func (h *SetGoalsHandler) Handle(ctx context.Context, cmd SetGoalsCommand) (ledger.Goals, error) {
	goals, err := cmd.Goals()
	if err != nil {
		return ledger.Goals{}, fmt.Errorf("set_goals: invalid command: %w", err)
	}
	userID, err := parseUserID("set_goals", cmd.UserID)
	if err != nil {
		return ledger.Goals{}, err
	}

	err = h.deps.inUserTx(ctx, userID, func(tx progression.Tx) error {
		if _, err := tx.GetState(ctx, userID); err != nil {
			return err
		}
		return tx.SaveGoals(ctx, userID, goals)
	})
	if err != nil {
		return ledger.Goals{}, fmt.Errorf("set_goals: %w", err)
	}

	log := h.log.With(logger.UserID(userID.String()))
	h.deps.invalidate(ctx, log, userID)
	log.Info("goals updated",
		logger.Int("step_goal", goals.StepGoal),
		logger.Int("hydration_goal", goals.HydrationGoal),
	)
	return goals, nil
}
