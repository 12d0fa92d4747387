package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE STREAK COMMAND
// Досчитывает серию по всем закрытым дням с момента последней оценки
// (watermark) до вчерашнего дня включительно. Повторный вызов в тот же день
// ничего не меняет.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateStreakCommand содержит параметры оценки серии.
type EvaluateStreakCommand struct {
	// UserID - ID пользователя (UUID).
	UserID string

	// Today - текущий день (пустой = сегодня в настроенном часовом поясе).
	Today string

	// Timestamp - время вызова (пустое = сейчас).
	Timestamp time.Time

	// CorrelationID - для трассировки.
	CorrelationID string
}

// Validate checks the command.
func (c EvaluateStreakCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// EvaluateStreakResult содержит результат оценки.
type EvaluateStreakResult struct {
	Evaluation *progression.StreakEvaluation
	Events     []shared.Event
}

// EvaluateStreakHandler обрабатывает оценку серии.
type EvaluateStreakHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewEvaluateStreakHandler creates a new EvaluateStreakHandler.
func NewEvaluateStreakHandler(deps Deps) *EvaluateStreakHandler {
	deps = deps.withDefaults()
	return &EvaluateStreakHandler{
		deps: deps,
		log:  deps.Logger.With(logger.Component("evaluate_streak")),
	}
}

// Handle executes the evaluate streak command.
func (h *EvaluateStreakHandler) Handle(ctx context.Context, cmd EvaluateStreakCommand) (*EvaluateStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate_streak: invalid command: %w", err)
	}
	userID, err := parseUserID("evaluate_streak", cmd.UserID)
	if err != nil {
		return nil, err
	}
	now := h.deps.now(cmd.Timestamp)
	today, err := h.deps.resolveDate(cmd.Today, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate_streak: %w", err)
	}

	var eval *progression.StreakEvaluation
	err = h.deps.inUserTx(ctx, userID, func(tx progression.Tx) error {
		var txErr error
		eval, txErr = h.deps.Engine.EvaluateStreak(ctx, tx, userID, today, now)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_streak: %w", err)
	}

	log := h.log.With(logger.UserID(userID.String()), logger.Date(today.String()))
	if eval.Skipped {
		log.Debug("streak already evaluated")
		return &EvaluateStreakResult{Evaluation: eval}, nil
	}
	h.deps.invalidate(ctx, log, userID)

	events := streakEvents(eval, cmd.CorrelationID)
	if eval.Initialized {
		log.Debug("streak watermark initialized")
	} else if eval.Outcome.Changed() {
		log.Info("streak updated",
			logger.Int("days", len(eval.Outcome.Days)),
			logger.Int("previous_streak", eval.Outcome.Before.Current),
			logger.Int("current_streak", eval.Outcome.After.Current),
			logger.Int("shields", eval.Outcome.After.Shields),
		)
	}
	h.deps.publish(log, events)

	return &EvaluateStreakResult{Evaluation: eval, Events: events}, nil
}

// streakEvents emits one summary for a non-empty range plus one event per
// notable day.
func streakEvents(eval *progression.StreakEvaluation, correlationID string) []shared.Event {
	if len(eval.Outcome.Days) == 0 {
		return nil
	}
	out := eval.Outcome
	events := make([]shared.Event, 0, len(out.Days)+1)

	for _, day := range out.Days {
		var eventType shared.EventType
		switch {
		case day.Verdict == progression.DayShielded:
			eventType = shared.EventShieldUsed
		case day.Verdict == progression.DayReset && day.StreakBefore > 0:
			eventType = shared.EventStreakBroken
		case day.ShieldEarned:
			eventType = shared.EventShieldEarned
		default:
			continue
		}
		e := shared.NewStreakDayEvent(eventType, eval.UserID, day.Date, day.Completed, day.StreakBefore, day.StreakAfter)
		if correlationID != "" {
			e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		}
		events = append(events, e)
	}

	summary := shared.NewStreakUpdatedEvent(eval.UserID, eval.From, eval.To, len(out.Days),
		out.Before.Current, out.After.Current, out.After.Longest, out.After.Shields)
	if correlationID != "" {
		summary.BaseEvent = summary.BaseEvent.WithCorrelationID(correlationID)
	}
	return append(events, summary)
}
