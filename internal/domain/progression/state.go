package progression

import (
	"time"

	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/shared"
)

// State - состояние прогрессии пользователя. Изменяется только через
// Updater, StreakEvaluator и EvolutionWatcher.
type State struct {
	// UserID - идентификатор пользователя.
	UserID shared.UserID

	// XPTotal - суммарный XP (не убывает).
	XPTotal shared.XP

	// Level - уровень, вычисленный из XPTotal по LevelTable.
	Level shared.Level

	// CurrentStreak - текущая серия засчитанных дней.
	CurrentStreak int

	// LongestStreak - лучшая серия (всегда >= CurrentStreak).
	LongestStreak int

	// StreakShields - накопленные щиты (0 или 1).
	StreakShields int

	// StreakWatermark - последний оценённый день; nil, если оценки ещё не было.
	StreakWatermark *shared.Date

	// BMICategory - категория ИМТ, определяет линейку маскотов.
	BMICategory mascot.BMICategory

	// Mascot - текущий маскот.
	Mascot mascot.Assignment

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewState creates the initial state for a new account: level 1, no XP, no
// streak and an unset watermark. The stage-0 mascot is assigned when the
// category has a mapping.
func NewState(userID shared.UserID, bmi mascot.BMICategory, catalog *mascot.Catalog, now time.Time) *State {
	s := &State{
		UserID:      userID,
		Level:       shared.MinLevel,
		BMICategory: bmi,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a, ok := catalog.Assign(bmi, shared.MinLevel); ok {
		s.Mascot = a
	}
	return s
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.StreakWatermark != nil {
		w := *s.StreakWatermark
		c.StreakWatermark = &w
	}
	return &c
}

// Streak returns the streak counters.
func (s *State) Streak() StreakState {
	return StreakState{
		Current: s.CurrentStreak,
		Longest: s.LongestStreak,
		Shields: s.StreakShields,
	}
}

// setStreak writes the streak counters back.
func (s *State) setStreak(st StreakState) {
	s.CurrentStreak = st.Current
	s.LongestStreak = st.Longest
	s.StreakShields = st.Shields
}

// BadgeGrant is a badge held by a user.
type BadgeGrant struct {
	UserID    shared.UserID
	Code      string
	GrantedAt time.Time
}
