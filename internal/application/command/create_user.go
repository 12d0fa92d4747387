package command

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE USER COMMAND
// Создаёт начальное состояние прогрессии: уровень 1, 0 XP, пустая серия,
// маскот первой стадии по категории ИМТ.
// ══════════════════════════════════════════════════════════════════════════════

// CreateUserCommand содержит данные нового пользователя.
type CreateUserCommand struct {
	// UserID - ID пользователя (пустой = сгенерировать).
	UserID string

	// HeightCm / WeightKg - для категории ИМТ. Оба нуля = категория неизвестна.
	HeightCm float64
	WeightKg float64

	// Timestamp - время создания (пустое = сейчас).
	Timestamp time.Time
}

// BMICategory classifies the body measurements, if any were given.
func (c CreateUserCommand) BMICategory() (mascot.BMICategory, error) {
	if c.HeightCm == 0 && c.WeightKg == 0 {
		return mascot.BMIUnknown, nil
	}
	return mascot.ClassifyBMI(c.HeightCm, c.WeightKg)
}

// CreateUserResult содержит созданное состояние.
type CreateUserResult struct {
	State *progression.State
}

// CreateUserHandler обрабатывает создание пользователя.
type CreateUserHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewCreateUserHandler creates a new CreateUserHandler.
func NewCreateUserHandler(deps Deps) *CreateUserHandler {
	deps = deps.withDefaults()
	return &CreateUserHandler{
		deps: deps,
		log:  deps.Logger.With(logger.Component("create_user")),
	}
}

// Handle executes the create user command.
func (h *CreateUserHandler) Handle(ctx context.Context, cmd CreateUserCommand) (*CreateUserResult, error) {
	userID := shared.GenerateUserID()
	if cmd.UserID != "" {
		var err error
		if userID, err = parseUserID("create_user", cmd.UserID); err != nil {
			return nil, err
		}
	}
	bmi, err := cmd.BMICategory()
	if err != nil {
		return nil, fmt.Errorf("create_user: %w", err)
	}
	now := h.deps.now(cmd.Timestamp)

	var state *progression.State
	err = h.deps.inUserTx(ctx, userID, func(tx progression.Tx) error {
		var txErr error
		state, txErr = h.deps.Engine.CreateUser(ctx, tx, userID, bmi, now)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("create_user: %w", err)
	}

	h.log.Info("user created",
		logger.UserID(userID.String()),
		logger.String("bmi_category", bmi.String()),
		logger.String("mascot", state.Mascot.Variant),
	)
	return &CreateUserResult{State: state}, nil
}
