// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents a unique user identifier (UUID format).
type UserID string

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	_, err := uuid.Parse(string(u))
	return err == nil
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID creates a new UserID with validation.
// The canonical lowercase form is returned.
func NewUserID(id string) (UserID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", WrapError("shared", "NewUserID", ErrInvalidID, "invalid user ID format", err)
	}
	return UserID(parsed.String()), nil
}

// GenerateUserID returns a fresh random UserID.
func GenerateUserID() UserID {
	return UserID(uuid.NewString())
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points. The level curve grows geometrically,
// so thresholds near the top level do not fit in 32 bits.
type XP int64

// IsValid checks if the XP value is non-negative.
func (x XP) IsValid() bool {
	return x >= 0
}

// Int64 returns the underlying int64 value.
func (x XP) Int64() int64 {
	return int64(x)
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Level represents a user's level. Level 1 is the starting level.
type Level int

// MinLevel is the level every account starts at.
const MinLevel Level = 1

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// ═══════════════════════════════════════════════════════════════════════════
// Date Value Object (calendar day in the user's local zone)
// ═══════════════════════════════════════════════════════════════════════════

// DateLayout is the canonical "today" string format supplied by callers.
const DateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone. Timezone resolution
// happens upstream; the engine only ever sees the resolved day.
type Date struct {
	t time.Time // always 00:00 UTC
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, WrapError("shared", "ParseDate", ErrInvalidFormat, "date must be YYYY-MM-DD", err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate that panics; intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t as observed in t's location.
func DateOf(t time.Time) Date {
	return Date{t: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// String returns the YYYY-MM-DD representation.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// Time returns midnight UTC of the day (used for DATE columns).
func (d Date) Time() time.Time {
	return d.t
}

// AddDays returns the date n calendar days later (n may be negative).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// Equal reports whether both dates denote the same day.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// DaysUntil returns the number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
