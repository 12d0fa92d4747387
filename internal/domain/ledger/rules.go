package ledger

import (
	"time"

	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP AMOUNTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// Steps
	StepsGoalXPReduced  shared.XP = 20 // goal of exactly ReducedStepGoal
	StepsGoalXP         shared.XP = 40
	ReducedStepGoal               = 5000
	StepsBonusXP        shared.XP = 5
	StepsBonusIncrement           = 500
	StepsBonusCooldown            = 2 * time.Hour
	MaxManualSteps                = 50000

	// Hydration
	HydrationGlassXP shared.XP = 5
	HydrationGoalXP  shared.XP = 20

	// Sleep
	SleepStartXP     shared.XP = 5
	SleepEndXP       shared.XP = 5
	SleepDurationXP  shared.XP = 15
	SleepGoalMinutes           = 7 * 60

	// Movement
	MovementXP shared.XP = 15
)

var foodXP = [FoodItemCount]shared.XP{10, 10, 5}

// FoodXP returns the one-shot XP for checking a food item.
func FoodXP(item FoodItem) shared.XP {
	return foodXP[item]
}

// StepsGoalReward returns the XP paid for meeting the given step goal.
func StepsGoalReward(goal int) shared.XP {
	if goal == ReducedStepGoal {
		return StepsGoalXPReduced
	}
	return StepsGoalXP
}

// ══════════════════════════════════════════════════════════════════════════════
// INPUTS
// ══════════════════════════════════════════════════════════════════════════════

// Input is one category's new raw values.
type Input interface {
	Category() Category
	Validate() error
}

// StepsInput carries either or both step sources. Nil leaves a source unchanged.
type StepsInput struct {
	ManualSteps *int
	DeviceSteps *int
}

// Category implements Input.
func (StepsInput) Category() Category { return CategorySteps }

// Validate implements Input.
func (in StepsInput) Validate() error {
	if in.ManualSteps == nil && in.DeviceSteps == nil {
		return shared.WrapError("ledger", "Validate", shared.ErrInvalidInput, "no step source supplied", nil)
	}
	if in.ManualSteps != nil && (*in.ManualSteps < 0 || *in.ManualSteps > MaxManualSteps) {
		return shared.ErrStepsOutOfRange
	}
	if in.DeviceSteps != nil && *in.DeviceSteps < 0 {
		return shared.ErrNegativeQuantity
	}
	return nil
}

// HydrationInput is the day's total glass count as currently reported.
type HydrationInput struct {
	Glasses int
}

// Category implements Input.
func (HydrationInput) Category() Category { return CategoryHydration }

// Validate implements Input.
func (in HydrationInput) Validate() error {
	if in.Glasses < 0 {
		return shared.ErrNegativeQuantity
	}
	return nil
}

// SleepInput carries either or both sleep times. Nil leaves a time unchanged.
type SleepInput struct {
	Start *Clock
	End   *Clock
}

// Category implements Input.
func (SleepInput) Category() Category { return CategorySleep }

// Validate implements Input.
func (in SleepInput) Validate() error {
	if in.Start == nil && in.End == nil {
		return shared.WrapError("ledger", "Validate", shared.ErrInvalidInput, "no sleep time supplied", nil)
	}
	for _, c := range []*Clock{in.Start, in.End} {
		if c != nil && (c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59) {
			return shared.ErrInvalidClock
		}
	}
	return nil
}

// MovementInput marks movement done or not done.
type MovementInput struct {
	Done bool
}

// Category implements Input.
func (MovementInput) Category() Category { return CategoryMovement }

// Validate implements Input.
func (MovementInput) Validate() error { return nil }

// FoodInput toggles one food checkbox.
type FoodInput struct {
	Item    FoodItem
	Checked bool
}

// Category implements Input.
func (FoodInput) Category() Category { return CategoryFood }

// Validate implements Input.
func (in FoodInput) Validate() error {
	if !in.Item.IsValid() {
		return shared.ErrUnknownFoodItem
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATION (generic ledger write)
// ══════════════════════════════════════════════════════════════════════════════

// Mutation is a set of field writes against one ledger row. Nil fields are
// left untouched. Applying a mutation can only set award flags and can only
// raise the hydration high-water mark.
type Mutation struct {
	ManualSteps        *int
	DeviceSteps        *int
	EffectiveSteps     *int
	HydrationGlasses   *int
	HydrationHighWater *int
	SleepStart         *Clock
	SleepEnd           *Clock
	SleepMinutes       *int
	MovementDone       *bool
	Food               [FoodItemCount]*bool
	LastStepBonusAt    *time.Time
	Flags              []AwardKind
}

// ApplyTo writes the mutation into l.
func (m Mutation) ApplyTo(l *DailyLedger) {
	if m.ManualSteps != nil {
		l.ManualSteps = *m.ManualSteps
	}
	if m.DeviceSteps != nil {
		l.DeviceSteps = *m.DeviceSteps
	}
	if m.EffectiveSteps != nil {
		l.EffectiveSteps = *m.EffectiveSteps
	}
	if m.HydrationGlasses != nil {
		l.HydrationGlasses = *m.HydrationGlasses
	}
	if m.HydrationHighWater != nil && *m.HydrationHighWater > l.HydrationHighWater {
		l.HydrationHighWater = *m.HydrationHighWater
	}
	if m.SleepStart != nil {
		v := *m.SleepStart
		l.SleepStart = &v
	}
	if m.SleepEnd != nil {
		v := *m.SleepEnd
		l.SleepEnd = &v
	}
	if m.SleepMinutes != nil {
		l.SleepMinutes = *m.SleepMinutes
	}
	if m.MovementDone != nil {
		l.MovementDone = *m.MovementDone
	}
	for i, v := range m.Food {
		if v != nil {
			l.Food[i] = *v
		}
	}
	if m.LastStepBonusAt != nil {
		v := *m.LastStepBonusAt
		l.LastStepBonusAt = &v
	}
	for _, kind := range m.Flags {
		l.Awards.mark(kind)
	}
}

// AwardEvent is one paid sub-action of a rule evaluation, before capping.
type AwardEvent struct {
	Kind AwardKind
	XP   shared.XP
}

// Outcome is the result of evaluating one category update.
type Outcome struct {
	Category Category
	RawXP    shared.XP
	Mutation Mutation
	Awards   []AwardEvent
}

func (o *Outcome) pay(kind AwardKind, xp shared.XP, flag bool) {
	o.RawXP += xp
	o.Awards = append(o.Awards, AwardEvent{Kind: kind, XP: xp})
	if flag {
		o.Mutation.Flags = append(o.Mutation.Flags, kind)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// Evaluate dispatches to the rule for the input's category.
func Evaluate(prior *DailyLedger, in Input, goals Goals, now time.Time) (Outcome, error) {
	if err := in.Validate(); err != nil {
		return Outcome{}, err
	}
	switch v := in.(type) {
	case StepsInput:
		return EvaluateSteps(prior, v, goals, now), nil
	case HydrationInput:
		return EvaluateHydration(prior, v, goals, now), nil
	case SleepInput:
		return EvaluateSleep(prior, v, goals, now), nil
	case MovementInput:
		return EvaluateMovement(prior, v, goals, now), nil
	case FoodInput:
		return EvaluateFood(prior, v, goals, now), nil
	}
	return Outcome{}, shared.ErrUnknownCategory
}

func current(prior *DailyLedger) DailyLedger {
	if prior == nil {
		return DailyLedger{}
	}
	return *prior
}

// EvaluateSteps pays the goal once per day and a manual-entry bonus subject
// to a cooldown. Effective steps are the larger of the two sources.
func EvaluateSteps(prior *DailyLedger, in StepsInput, goals Goals, now time.Time) Outcome {
	p := current(prior)
	out := Outcome{Category: CategorySteps}

	manual, device := p.ManualSteps, p.DeviceSteps
	if in.ManualSteps != nil {
		manual = *in.ManualSteps
	}
	if in.DeviceSteps != nil {
		device = *in.DeviceSteps
	}
	effective := max(manual, device)
	out.Mutation.ManualSteps = &manual
	out.Mutation.DeviceSteps = &device
	out.Mutation.EffectiveSteps = &effective

	if !p.Awards.StepsGoal.IsAwarded() && effective >= goals.StepGoal {
		out.pay(AwardStepsGoal, StepsGoalReward(goals.StepGoal), true)
	}

	if in.ManualSteps != nil && manual-p.ManualSteps >= StepsBonusIncrement {
		if p.LastStepBonusAt == nil || now.Sub(*p.LastStepBonusAt) >= StepsBonusCooldown {
			at := now
			out.Mutation.LastStepBonusAt = &at
			out.pay(AwardStepsBonus, StepsBonusXP, false)
		}
	}
	return out
}

// EvaluateHydration pays for each glass above the day's high-water mark and
// once for reaching the goal.
func EvaluateHydration(prior *DailyLedger, in HydrationInput, goals Goals, _ time.Time) Outcome {
	p := current(prior)
	out := Outcome{Category: CategoryHydration}

	glasses := in.Glasses
	out.Mutation.HydrationGlasses = &glasses

	highWater := p.HydrationHighWater
	if glasses > highWater {
		out.pay(AwardHydrationGlasses, HydrationGlassXP*shared.XP(glasses-highWater), false)
		highWater = glasses
		out.Mutation.HydrationHighWater = &highWater
	}

	if !p.Awards.HydrationGoal.IsAwarded() && highWater >= goals.HydrationGoal {
		out.pay(AwardHydrationGoal, HydrationGoalXP, true)
	}
	return out
}

// EvaluateSleep pays once for recording each end of the night and once for a
// night of at least SleepGoalMinutes.
func EvaluateSleep(prior *DailyLedger, in SleepInput, _ Goals, _ time.Time) Outcome {
	p := current(prior)
	out := Outcome{Category: CategorySleep}

	start, end := p.SleepStart, p.SleepEnd
	if in.Start != nil {
		v := *in.Start
		start = &v
		out.Mutation.SleepStart = &v
	}
	if in.End != nil {
		v := *in.End
		end = &v
		out.Mutation.SleepEnd = &v
	}

	if start != nil && !p.Awards.SleepStart.IsAwarded() {
		out.pay(AwardSleepStart, SleepStartXP, true)
	}
	if end != nil && !p.Awards.SleepEnd.IsAwarded() {
		out.pay(AwardSleepEnd, SleepEndXP, true)
	}
	if start != nil && end != nil {
		minutes := SleepDuration(*start, *end)
		out.Mutation.SleepMinutes = &minutes
		if minutes >= SleepGoalMinutes && !p.Awards.SleepDuration.IsAwarded() {
			out.pay(AwardSleepDuration, SleepDurationXP, true)
		}
	}
	return out
}

// EvaluateMovement pays once per day when movement is marked done.
func EvaluateMovement(prior *DailyLedger, in MovementInput, _ Goals, _ time.Time) Outcome {
	p := current(prior)
	out := Outcome{Category: CategoryMovement}

	done := in.Done
	out.Mutation.MovementDone = &done
	if done && !p.Awards.Movement.IsAwarded() {
		out.pay(AwardMovement, MovementXP, true)
	}
	return out
}

// EvaluateFood pays once per item per day. Unchecking keeps the award.
func EvaluateFood(prior *DailyLedger, in FoodInput, _ Goals, _ time.Time) Outcome {
	p := current(prior)
	out := Outcome{Category: CategoryFood}

	checked := in.Checked
	out.Mutation.Food[in.Item] = &checked
	if checked && !p.Awards.Food[in.Item].IsAwarded() {
		out.pay(AwardKindFor(in.Item), FoodXP(in.Item), true)
	}
	return out
}
