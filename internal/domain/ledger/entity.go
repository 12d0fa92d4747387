// Package ledger contains the per-user, per-day habit record and the pure
// rule functions that turn new habit input into XP and award flags.
// This is a pure domain layer with no infrastructure dependencies.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORIES
// ══════════════════════════════════════════════════════════════════════════════

// Category - категория привычки.
type Category string

const (
	CategorySteps     Category = "steps"
	CategoryHydration Category = "hydration"
	CategorySleep     Category = "sleep"
	CategoryMovement  Category = "movement"
	CategoryFood      Category = "food"
)

// Categories returns all habit categories in display order.
func Categories() []Category {
	return []Category{CategorySteps, CategoryHydration, CategorySleep, CategoryMovement, CategoryFood}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", shared.ErrUnknownCategory
}

// String returns the string representation.
func (c Category) String() string {
	return string(c)
}

// ══════════════════════════════════════════════════════════════════════════════
// FOOD ITEMS
// ══════════════════════════════════════════════════════════════════════════════

// FoodItem - один из трёх пунктов питания.
type FoodItem int

const (
	FoodVegetables FoodItem = iota
	FoodProtein
	FoodMindfulSnack

	// FoodItemCount - количество пунктов питания.
	FoodItemCount = 3
)

var foodNames = [FoodItemCount]string{"vegetables", "protein", "mindful_snack"}

// FoodItems returns all food items.
func FoodItems() []FoodItem {
	return []FoodItem{FoodVegetables, FoodProtein, FoodMindfulSnack}
}

// String returns the item name.
func (f FoodItem) String() string {
	if !f.IsValid() {
		return fmt.Sprintf("food(%d)", int(f))
	}
	return foodNames[f]
}

// IsValid reports whether f is one of the known items.
func (f FoodItem) IsValid() bool {
	return f >= 0 && f < FoodItemCount
}

// ParseFoodItem resolves a food item by name.
func ParseFoodItem(s string) (FoodItem, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range foodNames {
		if n == name {
			return FoodItem(i), nil
		}
	}
	return 0, shared.ErrUnknownFoodItem
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD STATE
// ══════════════════════════════════════════════════════════════════════════════

// Award - состояние разовой выплаты за день. Переход возможен только
// NotAwarded -> Awarded.
type Award uint8

const (
	NotAwarded Award = iota
	Awarded
)

// IsAwarded reports whether the XP for this sub-action was already paid today.
func (a Award) IsAwarded() bool {
	return a == Awarded
}

// Merge returns the later of two award states. Awarded never reverts.
func (a Award) Merge(other Award) Award {
	if a == Awarded || other == Awarded {
		return Awarded
	}
	return NotAwarded
}

// AwardKind identifies a paid sub-action within a category.
type AwardKind string

const (
	AwardStepsGoal        AwardKind = "steps_goal"
	AwardStepsBonus       AwardKind = "steps_manual_bonus"
	AwardHydrationGlasses AwardKind = "hydration_glasses"
	AwardHydrationGoal    AwardKind = "hydration_goal"
	AwardSleepStart       AwardKind = "sleep_start"
	AwardSleepEnd         AwardKind = "sleep_end"
	AwardSleepDuration    AwardKind = "sleep_duration"
	AwardMovement         AwardKind = "movement"
	AwardFoodVegetables   AwardKind = "food_vegetables"
	AwardFoodProtein      AwardKind = "food_protein"
	AwardFoodMindfulSnack AwardKind = "food_mindful_snack"
)

var foodAwardKinds = [FoodItemCount]AwardKind{AwardFoodVegetables, AwardFoodProtein, AwardFoodMindfulSnack}

// AwardKindFor returns the one-shot award kind for a food item.
func AwardKindFor(item FoodItem) AwardKind {
	return foodAwardKinds[item]
}

// AwardFlags - флаги разовых выплат за день.
type AwardFlags struct {
	StepsGoal     Award
	HydrationGoal Award
	SleepStart    Award
	SleepEnd      Award
	SleepDuration Award
	Movement      Award
	Food          [FoodItemCount]Award
}

// Has reports whether the one-shot award of the given kind was already paid.
// Kinds without a flag (bonus, per-glass) always report false.
func (f AwardFlags) Has(kind AwardKind) bool {
	if p := f.slot(kind); p != nil {
		return p.IsAwarded()
	}
	return false
}

// mark sets the flag for kind. Unknown kinds are ignored.
func (f *AwardFlags) mark(kind AwardKind) {
	if p := f.slot(kind); p != nil {
		*p = p.Merge(Awarded)
	}
}

func (f *AwardFlags) slot(kind AwardKind) *Award {
	switch kind {
	case AwardStepsGoal:
		return &f.StepsGoal
	case AwardHydrationGoal:
		return &f.HydrationGoal
	case AwardSleepStart:
		return &f.SleepStart
	case AwardSleepEnd:
		return &f.SleepEnd
	case AwardSleepDuration:
		return &f.SleepDuration
	case AwardMovement:
		return &f.Movement
	case AwardFoodVegetables:
		return &f.Food[FoodVegetables]
	case AwardFoodProtein:
		return &f.Food[FoodProtein]
	case AwardFoodMindfulSnack:
		return &f.Food[FoodMindfulSnack]
	}
	return nil
}

// Merge combines two flag sets; a flag set in either stays set.
func (f AwardFlags) Merge(other AwardFlags) AwardFlags {
	out := AwardFlags{
		StepsGoal:     f.StepsGoal.Merge(other.StepsGoal),
		HydrationGoal: f.HydrationGoal.Merge(other.HydrationGoal),
		SleepStart:    f.SleepStart.Merge(other.SleepStart),
		SleepEnd:      f.SleepEnd.Merge(other.SleepEnd),
		SleepDuration: f.SleepDuration.Merge(other.SleepDuration),
		Movement:      f.Movement.Merge(other.Movement),
	}
	for i := range out.Food {
		out.Food[i] = f.Food[i].Merge(other.Food[i])
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK (HH:MM)
// ══════════════════════════════════════════════════════════════════════════════

// Clock - время суток без даты и часового пояса.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, shared.WrapError("ledger", "ParseClock", shared.ErrInvalidFormat, "time must be HH:MM", err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustParseClock is ParseClock that panics on error.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the HH:MM representation.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// SleepDuration returns the minutes between start and end. An end earlier
// than the start is taken to be on the next day.
func SleepDuration(start, end Clock) int {
	d := end.Minutes() - start.Minutes()
	if d < 0 {
		d += 24 * 60
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// DailyLedger - единственная запись пользователя за календарный день:
// сырые значения по категориям, флаги выплат и заработанный за день XP.
type DailyLedger struct {
	// UserID - идентификатор пользователя.
	UserID shared.UserID

	// Date - календарный день в часовом поясе пользователя.
	Date shared.Date

	// ManualSteps - шаги, введённые вручную.
	ManualSteps int

	// DeviceSteps - шаги с устройства.
	DeviceSteps int

	// EffectiveSteps - max(ManualSteps, DeviceSteps).
	EffectiveSteps int

	// HydrationGlasses - последнее сообщённое количество стаканов.
	HydrationGlasses int

	// HydrationHighWater - максимум стаканов за день, за который уже заплачено.
	HydrationHighWater int

	// SleepStart, SleepEnd - время отхода ко сну и подъёма.
	SleepStart *Clock
	SleepEnd   *Clock

	// SleepMinutes - вычисленная длительность сна.
	SleepMinutes int

	// MovementDone - отмечена ли активность.
	MovementDone bool

	// Food - отметки по пунктам питания.
	Food [FoodItemCount]bool

	// Awards - флаги разовых выплат.
	Awards AwardFlags

	// LastStepBonusAt - время последнего бонуса за ручные шаги.
	LastStepBonusAt *time.Time

	// XPEarnedToday - XP, начисленный за день (не больше дневного лимита).
	XPEarnedToday shared.XP

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDailyLedger creates an empty ledger row for (user, date).
func NewDailyLedger(userID shared.UserID, date shared.Date, now time.Time) *DailyLedger {
	return &DailyLedger{
		UserID:    userID,
		Date:      date,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (l *DailyLedger) Clone() *DailyLedger {
	if l == nil {
		return nil
	}
	c := *l
	if l.SleepStart != nil {
		v := *l.SleepStart
		c.SleepStart = &v
	}
	if l.SleepEnd != nil {
		v := *l.SleepEnd
		c.SleepEnd = &v
	}
	if l.LastStepBonusAt != nil {
		v := *l.LastStepBonusAt
		c.LastStepBonusAt = &v
	}
	return &c
}

// AnyFoodChecked reports whether at least one food item is checked.
func (l *DailyLedger) AnyFoodChecked() bool {
	for _, checked := range l.Food {
		if checked {
			return true
		}
	}
	return false
}

// CompletedCategories returns the categories whose goal is met on this day.
// A nil ledger has none.
func CompletedCategories(l *DailyLedger, g Goals) []Category {
	if l == nil {
		return nil
	}
	var done []Category
	if l.EffectiveSteps >= g.StepGoal {
		done = append(done, CategorySteps)
	}
	if l.HydrationGlasses >= g.HydrationGoal {
		done = append(done, CategoryHydration)
	}
	if l.SleepMinutes >= SleepGoalMinutes {
		done = append(done, CategorySleep)
	}
	if l.MovementDone {
		done = append(done, CategoryMovement)
	}
	if l.AnyFoodChecked() {
		done = append(done, CategoryFood)
	}
	return done
}

// CountCompletedCategories returns how many of the five categories met their
// goal on the ledger's day.
func CountCompletedCategories(l *DailyLedger, g Goals) int {
	return len(CompletedCategories(l, g))
}
