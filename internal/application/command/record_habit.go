package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/ledger"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD HABIT COMMAND
// Записывает новое значение одной категории привычек за день и начисляет XP.
// Всё (журнал дня, XP с учётом дневного лимита, уровень, эволюция маскота,
// значки) фиксируется одной транзакцией под блокировкой пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// RecordHabitCommand содержит данные для записи привычки.
type RecordHabitCommand struct {
	// UserID - ID пользователя (UUID).
	UserID string

	// Date - день в формате YYYY-MM-DD (пустая = сегодня).
	Date string

	// Category - категория: steps, hydration, sleep, movement, food.
	Category string

	// ─────────────────────────────────────────────────────────────────────────
	// Значения категорий (используются только поля выбранной категории)
	// ─────────────────────────────────────────────────────────────────────────

	// ManualSteps / DeviceSteps - источники шагов. nil = без изменений.
	ManualSteps *int
	DeviceSteps *int

	// Glasses - общее число стаканов воды за день.
	Glasses int

	// SleepStart / SleepEnd - время отбоя и подъёма (HH:MM). Пустое = без изменений.
	SleepStart string
	SleepEnd   string

	// MovementDone - отметка о движении.
	MovementDone bool

	// FoodItem / FoodChecked - пункт питания и его состояние.
	FoodItem    string
	FoodChecked bool

	// ─────────────────────────────────────────────────────────────────────────
	// Метаданные
	// ─────────────────────────────────────────────────────────────────────────

	// Timestamp - время действия (пустое = сейчас).
	Timestamp time.Time

	// CorrelationID - для трассировки.
	CorrelationID string
}

// Validate checks the command shape. Value ranges are checked by the rules.
func (c RecordHabitCommand) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	if _, err := ledger.ParseCategory(c.Category); err != nil {
		return err
	}
	return nil
}

// Input converts the command into the rule input for its category.
func (c RecordHabitCommand) Input() (ledger.Input, error) {
	category, err := ledger.ParseCategory(c.Category)
	if err != nil {
		return nil, err
	}
	switch category {
	case ledger.CategorySteps:
		return ledger.StepsInput{ManualSteps: c.ManualSteps, DeviceSteps: c.DeviceSteps}, nil
	case ledger.CategoryHydration:
		return ledger.HydrationInput{Glasses: c.Glasses}, nil
	case ledger.CategorySleep:
		in := ledger.SleepInput{}
		if c.SleepStart != "" {
			start, err := ledger.ParseClock(c.SleepStart)
			if err != nil {
				return nil, err
			}
			in.Start = &start
		}
		if c.SleepEnd != "" {
			end, err := ledger.ParseClock(c.SleepEnd)
			if err != nil {
				return nil, err
			}
			in.End = &end
		}
		return in, nil
	case ledger.CategoryMovement:
		return ledger.MovementInput{Done: c.MovementDone}, nil
	case ledger.CategoryFood:
		item, err := ledger.ParseFoodItem(c.FoodItem)
		if err != nil {
			return nil, err
		}
		return ledger.FoodInput{Item: item, Checked: c.FoodChecked}, nil
	}
	return nil, shared.ErrUnknownCategory
}

// RecordHabitResult содержит результат записи.
type RecordHabitResult struct {
	// Habit - подробный результат движка.
	Habit *progression.HabitResult

	// Events - события, отправленные после фиксации.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordHabitHandler обрабатывает команду записи привычки.
type RecordHabitHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewRecordHabitHandler creates a new RecordHabitHandler.
func NewRecordHabitHandler(deps Deps) *RecordHabitHandler {
	deps = deps.withDefaults()
	return &RecordHabitHandler{
		deps: deps,
		log:  deps.Logger.With(logger.Component("record_habit")),
	}
}

// Handle executes the record habit command.
func (h *RecordHabitHandler) Handle(ctx context.Context, cmd RecordHabitCommand) (*RecordHabitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_habit: invalid command: %w", err)
	}
	userID, err := parseUserID("record_habit", cmd.UserID)
	if err != nil {
		return nil, err
	}
	input, err := cmd.Input()
	if err != nil {
		return nil, fmt.Errorf("record_habit: invalid input: %w", err)
	}

	now := h.deps.now(cmd.Timestamp)
	date, err := h.deps.resolveDate(cmd.Date, now)
	if err != nil {
		return nil, fmt.Errorf("record_habit: %w", err)
	}

	var habit *progression.HabitResult
	err = h.deps.inUserTx(ctx, userID, func(tx progression.Tx) error {
		var txErr error
		habit, txErr = h.deps.Engine.RecordHabit(ctx, tx, userID, date, input, now)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("record_habit: %w", err)
	}

	log := h.log.With(
		logger.UserID(userID.String()),
		logger.Date(date.String()),
		logger.Category(habit.Category.String()),
	)
	h.deps.invalidate(ctx, log, userID)

	events := h.collectEvents(habit, cmd.CorrelationID)
	h.logOutcome(log, habit)
	h.deps.publish(log, events)

	return &RecordHabitResult{Habit: habit, Events: events}, nil
}

// collectEvents builds the post-commit events for one habit result.
func (h *RecordHabitHandler) collectEvents(r *progression.HabitResult, correlationID string) []shared.Event {
	events := make([]shared.Event, 0, 4)

	if r.AppliedXP > 0 {
		e := shared.NewXPAwardedEvent(r.UserID, r.Category.String(), r.Date,
			r.RawXP, r.AppliedXP, r.XPTotal, r.XPEarnedToday, r.CapReached())
		if correlationID != "" {
			e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		}
		events = append(events, e)
	}

	if r.LevelChange.LeveledUp() {
		e := shared.NewLevelUpEvent(r.UserID, r.LevelChange.Previous, r.LevelChange.New)
		if correlationID != "" {
			e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		}
		events = append(events, e)
	}

	if evo := r.Evolution; evo != nil {
		if evo.Evolved {
			e := shared.NewMascotEvolvedEvent(r.UserID, evo.PreviousMascot.Variant,
				evo.NewMascot.Variant, int(evo.NewMascot.Stage))
			if correlationID != "" {
				e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
			}
			events = append(events, e)
		}
		for _, badge := range evo.Badges {
			e := shared.NewBadgeGrantedEvent(r.UserID, badge.Code, shared.Level(badge.Level))
			if correlationID != "" {
				e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
			}
			events = append(events, e)
		}
	}

	return events
}

func (h *RecordHabitHandler) logOutcome(log *logger.Logger, r *progression.HabitResult) {
	if r.AppliedXP == 0 {
		log.Debug("habit recorded without xp",
			logger.XPAmount(r.RawXP.Int64()),
			logger.Bool("cap_reached", r.CapReached()),
		)
		return
	}
	log.Debug("xp awarded",
		logger.XPAmount(r.AppliedXP.Int64()),
		logger.Int64("xp_total", r.XPTotal.Int64()),
	)

	if r.LevelChange.LeveledUp() {
		log.Info("level up",
			logger.Int("previous_level", r.LevelChange.Previous.Int()),
			logger.UserLevel(r.LevelChange.New.Int()),
		)
	}
	if evo := r.Evolution; evo != nil {
		if evo.Evolved {
			log.Info("mascot evolved",
				logger.String("previous_mascot", evo.PreviousMascot.Variant),
				logger.String("mascot", evo.NewMascot.Variant),
			)
		}
		for _, badge := range evo.Badges {
			log.Info("badge granted", logger.Badge(badge.Code))
		}
	}
}
