// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/application/command"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
	"github.com/habitquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает текущее состояние прогрессии: XP, уровень, прогресс до
// следующего уровня, серию, маскота, значки и сводку за сегодня.
// Перед чтением досчитывает серию за закрытые дни.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса прогресса.
type GetProgressQuery struct {
	// UserID - ID пользователя (UUID).
	UserID string

	// Today - день для сводки (пустой = сегодня).
	Today string

	// SkipStreak - не запускать досчёт серии перед чтением.
	SkipStreak bool

	// Timestamp - время запроса (пустое = сейчас).
	Timestamp time.Time
}

// Validate проверяет корректность параметров.
func (q GetProgressQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// GetProgressHandlerConfig contains the handler's collaborators.
type GetProgressHandlerConfig struct {
	Engine *progression.Engine
	Store  progression.Store

	// Streaks runs before every read. Nil disables it.
	Streaks *command.EvaluateStreakHandler

	// Cache - кеш представления. Может быть nil.
	Cache progression.ProgressCache

	// Locker - та же критическая секция, что у команд. Обязателен вместе с Cache.
	Locker progression.Locker

	Clock    timeutil.Clock
	Location *time.Location
	Logger   *logger.Logger
}

// GetProgressHandler обрабатывает запрос прогресса.
type GetProgressHandler struct {
	cfg GetProgressHandlerConfig
	log *logger.Logger
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(cfg GetProgressHandlerConfig) *GetProgressHandler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &GetProgressHandler{
		cfg: cfg,
		log: cfg.Logger.With(logger.Component("get_progress")),
	}
}

// Handle executes the query.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*progression.Progress, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress: invalid query: %w", err)
	}
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	now := q.Timestamp
	if now.IsZero() {
		now = h.cfg.Clock.Now()
	}
	today, err := command.ResolveDate(q.Today, h.cfg.Location, now, h.cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	if h.cfg.Streaks != nil && !q.SkipStreak {
		_, err := h.cfg.Streaks.Handle(ctx, command.EvaluateStreakCommand{
			UserID:    userID.String(),
			Today:     today.String(),
			Timestamp: now,
		})
		if err != nil {
			return nil, fmt.Errorf("get_progress: %w", err)
		}
	}

	log := h.log.With(logger.UserID(userID.String()), logger.Date(today.String()))
	if p := h.fromCache(ctx, log, userID, today); p != nil {
		return p, nil
	}

	// The store read and the cache write share the writers' critical section,
	// so a commit and its invalidation cannot land between them.
	var progress *progression.Progress
	err = h.withUserLock(ctx, userID, func(ctx context.Context) error {
		err := h.cfg.Store.WithinTx(ctx, func(tx progression.Tx) error {
			var txErr error
			progress, txErr = h.cfg.Engine.BuildProgress(ctx, tx, userID, today)
			return txErr
		})
		if err != nil {
			return err
		}
		if h.cfg.Cache != nil {
			if err := h.cfg.Cache.Set(ctx, progress); err != nil {
				log.Warn("failed to cache progress", logger.Err(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}
	return progress, nil
}

func (h *GetProgressHandler) withUserLock(ctx context.Context, userID shared.UserID, fn func(ctx context.Context) error) error {
	if h.cfg.Locker == nil {
		return fn(ctx)
	}
	return h.cfg.Locker.WithLock(ctx, progression.UserLockKey(userID), fn)
}

// fromCache returns a cached view or nil. Cache errors fall through to the store.
func (h *GetProgressHandler) fromCache(ctx context.Context, log *logger.Logger, userID shared.UserID, today shared.Date) *progression.Progress {
	if h.cfg.Cache == nil {
		return nil
	}
	p, err := h.cfg.Cache.Get(ctx, userID, today)
	if err != nil {
		log.Warn("progress cache read failed", logger.Err(err))
		return nil
	}
	return p
}
