package ledger

import (
	"strings"

	"github.com/habitquest/progression/internal/domain/shared"
)

// Goal defaults used when a user has no configuration.
const (
	DefaultStepGoal      = 10000
	DefaultHydrationGoal = 8

	MinStepGoal      = 1000
	MaxStepGoal      = MaxManualSteps
	MinHydrationGoal = 1
	MaxHydrationGoal = 30
)

// MovementPreference is the kind of movement a user intends to log.
// It does not affect scoring.
type MovementPreference string

const (
	MovementAny        MovementPreference = ""
	MovementWalking    MovementPreference = "walking"
	MovementRunning    MovementPreference = "running"
	MovementCycling    MovementPreference = "cycling"
	MovementYoga       MovementPreference = "yoga"
	MovementStrength   MovementPreference = "strength"
	MovementStretching MovementPreference = "stretching"
)

// IsValid reports whether p is a known preference.
func (p MovementPreference) IsValid() bool {
	switch p {
	case MovementAny, MovementWalking, MovementRunning, MovementCycling,
		MovementYoga, MovementStrength, MovementStretching:
		return true
	}
	return false
}

// ParseMovementPreference normalizes and validates a preference name.
func ParseMovementPreference(s string) (MovementPreference, error) {
	p := MovementPreference(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", shared.WrapError("ledger", "ParseMovementPreference", shared.ErrInvalidInput,
			"unknown movement preference", nil)
	}
	return p, nil
}

// Goals - цели пользователя по шагам и воде.
type Goals struct {
	StepGoal           int                `json:"step_goal"`
	HydrationGoal      int                `json:"hydration_goal"`
	MovementPreference MovementPreference `json:"movement_preference,omitempty"`
}

// DefaultGoals returns the goals applied when none are configured.
func DefaultGoals() Goals {
	return Goals{
		StepGoal:      DefaultStepGoal,
		HydrationGoal: DefaultHydrationGoal,
	}
}

// GoalsOrDefault dereferences g, falling back to DefaultGoals for nil.
func GoalsOrDefault(g *Goals) Goals {
	if g == nil {
		return DefaultGoals()
	}
	return *g
}

// Validate checks the goal ranges and returns every problem found.
func (g Goals) Validate() error {
	var problems []string
	if g.StepGoal < MinStepGoal || g.StepGoal > MaxStepGoal {
		problems = append(problems, "step goal out of range")
	}
	if g.HydrationGoal < MinHydrationGoal || g.HydrationGoal > MaxHydrationGoal {
		problems = append(problems, "hydration goal out of range")
	}
	if !g.MovementPreference.IsValid() {
		problems = append(problems, "unknown movement preference")
	}
	if len(problems) > 0 {
		return shared.WrapError("ledger", "ValidateGoals", shared.ErrInvalidInput,
			"invalid goal configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}
