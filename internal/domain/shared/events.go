// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. The engine only produces these; rendering them is the
// consumer's job.
const (
	// Progress events
	EventXPAwarded EventType = "xp.awarded"
	EventLevelUp   EventType = "progression.level_up"

	// Mascot events
	EventMascotEvolved EventType = "mascot.evolved"
	EventBadgeGranted  EventType = "badge.granted"

	// Streak events
	EventStreakUpdated EventType = "streak.updated"
	EventShieldEarned  EventType = "streak.shield_earned"
	EventShieldUsed    EventType = "streak.shield_used"
	EventStreakBroken  EventType = "streak.broken"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted when a habit update pays out XP.
type XPAwardedEvent struct {
	BaseEvent
	Category   string `json:"category"`
	Date       string `json:"date"`
	RawXP      int64  `json:"raw_xp"`
	AppliedXP  int64  `json:"applied_xp"`
	NewTotal   int64  `json:"new_total"`
	EarnedDay  int64  `json:"earned_today"`
	CapReached bool   `json:"cap_reached"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"category":     e.Category,
		"date":         e.Date,
		"raw_xp":       e.RawXP,
		"applied_xp":   e.AppliedXP,
		"new_total":    e.NewTotal,
		"earned_today": e.EarnedDay,
		"cap_reached":  e.CapReached,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID UserID, category string, date Date, raw, applied, newTotal, earnedToday XP, capReached bool) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:  NewBaseEvent(EventXPAwarded, userID.String()),
		Category:   category,
		Date:       date.String(),
		RawXP:      raw.Int64(),
		AppliedXP:  applied.Int64(),
		NewTotal:   newTotal.Int64(),
		EarnedDay:  earnedToday.Int64(),
		CapReached: capReached,
	}
}

// LevelUpEvent is emitted when cumulative XP crosses one or more level thresholds.
type LevelUpEvent struct {
	BaseEvent
	PreviousLevel int `json:"previous_level"`
	NewLevel      int `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_level": e.PreviousLevel,
		"new_level":      e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID UserID, previous, next Level) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:     NewBaseEvent(EventLevelUp, userID.String()),
		PreviousLevel: previous.Int(),
		NewLevel:      next.Int(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Mascot Events
// ═══════════════════════════════════════════════════════════════════════════

// MascotEvolvedEvent is emitted when the mascot assignment (stage or variant) changes.
type MascotEvolvedEvent struct {
	BaseEvent
	PreviousMascot string `json:"previous_mascot"`
	NewMascot      string `json:"new_mascot"`
	Stage          int    `json:"stage"`
}

// Payload implements Event interface.
func (e MascotEvolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_mascot": e.PreviousMascot,
		"new_mascot":      e.NewMascot,
		"stage":           e.Stage,
	}
}

// NewMascotEvolvedEvent creates a new MascotEvolvedEvent.
func NewMascotEvolvedEvent(userID UserID, previous, next string, stage int) MascotEvolvedEvent {
	return MascotEvolvedEvent{
		BaseEvent:      NewBaseEvent(EventMascotEvolved, userID.String()),
		PreviousMascot: previous,
		NewMascot:      next,
		Stage:          stage,
	}
}

// BadgeGrantedEvent is emitted once per newly granted badge.
type BadgeGrantedEvent struct {
	BaseEvent
	Badge string `json:"badge"`
	Level int    `json:"level"`
}

// Payload implements Event interface.
func (e BadgeGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge": e.Badge,
		"level": e.Level,
	}
}

// NewBadgeGrantedEvent creates a new BadgeGrantedEvent.
func NewBadgeGrantedEvent(userID UserID, badge string, level Level) BadgeGrantedEvent {
	return BadgeGrantedEvent{
		BaseEvent: NewBaseEvent(EventBadgeGranted, userID.String()),
		Badge:     badge,
		Level:     level.Int(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent summarizes one backfill run.
type StreakUpdatedEvent struct {
	BaseEvent
	FromDate       string `json:"from_date"`
	ToDate         string `json:"to_date"`
	DaysEvaluated  int    `json:"days_evaluated"`
	PreviousStreak int    `json:"previous_streak"`
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	Shields        int    `json:"shields"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_date":       e.FromDate,
		"to_date":         e.ToDate,
		"days_evaluated":  e.DaysEvaluated,
		"previous_streak": e.PreviousStreak,
		"current_streak":  e.CurrentStreak,
		"longest_streak":  e.LongestStreak,
		"shields":         e.Shields,
	}
}

// NewStreakUpdatedEvent creates a StreakUpdatedEvent for the range [from, to].
func NewStreakUpdatedEvent(userID UserID, from, to Date, days, previous, current, longest, shields int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, userID.String()),
		FromDate:       from.String(),
		ToDate:         to.String(),
		DaysEvaluated:  days,
		PreviousStreak: previous,
		CurrentStreak:  current,
		LongestStreak:  longest,
		Shields:        shields,
	}
}

// StreakDayEvent is emitted for notable single-day outcomes of a backfill:
// a shield earned, a shield consumed, or a broken streak.
type StreakDayEvent struct {
	BaseEvent
	Date           string `json:"date"`
	Completed      int    `json:"completed_categories"`
	PreviousStreak int    `json:"previous_streak"`
	CurrentStreak  int    `json:"current_streak"`
}

// Payload implements Event interface.
func (e StreakDayEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":                 e.Date,
		"completed_categories": e.Completed,
		"previous_streak":      e.PreviousStreak,
		"current_streak":       e.CurrentStreak,
	}
}

// NewStreakDayEvent creates a StreakDayEvent of the given type.
func NewStreakDayEvent(eventType EventType, userID UserID, date Date, completed, previous, current int) StreakDayEvent {
	return StreakDayEvent{
		BaseEvent:      NewBaseEvent(eventType, userID.String()),
		Date:           date.String(),
		Completed:      completed,
		PreviousStreak: previous,
		CurrentStreak:  current,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event payload into an envelope.
func NewEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	id := ""
	if withID, ok := event.(interface{ EventID() string }); ok {
		id = withID.EventID()
	}
	return EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     payload,
	}, nil
}

// EventID returns the unique event identifier.
func (e BaseEvent) EventID() string {
	return e.ID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
