// Package progression contains the XP, level, streak and evolution rules
// that make up a user's long-lived progression state.
// This is a pure domain layer: persistence is reached only through Tx.
package progression

import (
	"math"
	"sort"

	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL TABLE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MaxLevel - максимальный уровень, для которого строится таблица.
	MaxLevel = 100

	levelTwoXP       shared.XP = 500
	levelThreeXP     shared.XP = 1200
	levelGrowthRatio           = 1.2
)

// LevelTable - неизменяемая таблица минимального XP для каждого уровня.
// thresholds[0] соответствует уровню 1.
type LevelTable struct {
	thresholds []shared.XP
}

// NewLevelTable builds the curve up to maxLevel: L1=0, L2=500, L3=1200, and
// every later increment is the previous increment times 1.2, rounded.
func NewLevelTable(maxLevel int) *LevelTable {
	if maxLevel < 3 {
		maxLevel = 3
	}
	thresholds := make([]shared.XP, maxLevel)
	thresholds[0] = 0
	thresholds[1] = levelTwoXP
	thresholds[2] = levelThreeXP

	increment := float64(levelThreeXP - levelTwoXP)
	for i := 3; i < maxLevel; i++ {
		increment = math.Round(increment * levelGrowthRatio)
		thresholds[i] = thresholds[i-1] + shared.XP(increment)
	}
	return &LevelTable{thresholds: thresholds}
}

var defaultTable = NewLevelTable(MaxLevel)

// DefaultLevelTable returns the process-wide table built for MaxLevel.
func DefaultLevelTable() *LevelTable {
	return defaultTable
}

// MaxLevel returns the highest level in the table.
func (t *LevelTable) MaxLevel() int {
	return len(t.thresholds)
}

// LevelForXP returns the highest level whose threshold is at most xp.
func (t *LevelTable) LevelForXP(xp shared.XP) shared.Level {
	// first index whose threshold exceeds xp
	idx := sort.Search(len(t.thresholds), func(i int) bool {
		return t.thresholds[i] > xp
	})
	if idx == 0 {
		return shared.MinLevel
	}
	return shared.Level(idx)
}

// ThresholdFor returns the minimum XP of level. Levels outside the table are
// clamped to its bounds.
func (t *LevelTable) ThresholdFor(level shared.Level) shared.XP {
	switch {
	case level < shared.MinLevel:
		return 0
	case level.Int() > len(t.thresholds):
		return t.thresholds[len(t.thresholds)-1]
	}
	return t.thresholds[level-1]
}

// NextLevelXP returns the threshold of level+1. ok is false at the top level.
func (t *LevelTable) NextLevelXP(level shared.Level) (xp shared.XP, ok bool) {
	if level < shared.MinLevel {
		level = shared.MinLevel
	}
	if level.Int() >= len(t.thresholds) {
		return 0, false
	}
	return t.thresholds[level], true
}

// ProgressInLevel returns how far xp is through its current level, in percent.
// At the top level it is always 100.
func (t *LevelTable) ProgressInLevel(xp shared.XP) int {
	level := t.LevelForXP(xp)
	next, ok := t.NextLevelXP(level)
	if !ok {
		return 100
	}
	floor := t.ThresholdFor(level)
	return int((xp - floor) * 100 / (next - floor))
}
