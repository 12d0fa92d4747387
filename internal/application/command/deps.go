// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
	"github.com/habitquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HANDLER DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Deps groups the collaborators every command handler needs.
type Deps struct {
	// Engine - правила прогрессии (уровни, лимит, серии, эволюция).
	Engine *progression.Engine

	// Store - транзакционное хранилище.
	Store progression.Store

	// Locker - критическая секция на пользователя.
	Locker progression.Locker

	// Publisher - получатель событий. Может быть nil.
	Publisher shared.EventPublisher

	// Cache - кеш представления прогресса. Может быть nil.
	Cache progression.ProgressCache

	// Clock - источник времени.
	Clock timeutil.Clock

	// Location - часовой пояс, в котором определяется "сегодня".
	Location *time.Location

	Logger *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// now returns ts if set, otherwise the clock's current time.
func (d Deps) now(ts time.Time) time.Time {
	if !ts.IsZero() {
		return ts
	}
	return d.Clock.Now()
}

// resolveDate parses raw, or derives today in the configured zone when empty.
func (d Deps) resolveDate(raw string, now time.Time) (shared.Date, error) {
	return ResolveDate(raw, d.Location, now, d.Clock)
}

// ResolveDate parses raw, or derives the day of now in loc when raw is empty.
// A day after the clock's current day in loc is rejected with
// shared.ErrFutureDate: the streak watermark must never pass the real calendar.
func ResolveDate(raw string, loc *time.Location, now time.Time, clock timeutil.Clock) (shared.Date, error) {
	if raw == "" {
		raw = timeutil.TodayIn(loc, now)
	}
	date, err := shared.ParseDate(raw)
	if err != nil {
		return shared.Date{}, err
	}
	current, err := shared.ParseDate(timeutil.TodayIn(loc, clock.Now()))
	if err != nil {
		return shared.Date{}, err
	}
	if date.After(current) {
		return shared.Date{}, fmt.Errorf("%w: %s > %s", shared.ErrFutureDate, date, current)
	}
	return date, nil
}

// inUserTx runs fn inside the user's critical section and one store transaction.
func (d Deps) inUserTx(ctx context.Context, userID shared.UserID, fn func(tx progression.Tx) error) error {
	return d.Locker.WithLock(ctx, progression.UserLockKey(userID), func(ctx context.Context) error {
		return d.Store.WithinTx(ctx, fn)
	})
}

// publish sends events after commit. Failures are logged only.
func (d Deps) publish(log *logger.Logger, events []shared.Event) {
	if d.Publisher == nil {
		return
	}
	for _, event := range events {
		if err := d.Publisher.Publish(event); err != nil {
			log.Error("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
		}
	}
}

// invalidate drops the cached progress view. Failures are logged only.
func (d Deps) invalidate(ctx context.Context, log *logger.Logger, userID shared.UserID) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Invalidate(ctx, userID); err != nil {
		log.Warn("failed to invalidate progress cache", logger.Err(err))
	}
}

func parseUserID(op, raw string) (shared.UserID, error) {
	id, err := shared.NewUserID(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}
