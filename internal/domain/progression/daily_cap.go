package progression

import "github.com/habitquest/progression/internal/domain/shared"

// DailyXPCap is the most XP habit actions can earn in one calendar day.
const DailyXPCap shared.XP = 150

// CapDelta clamps a proposed delta to what is left of the day's allowance.
// currentDayXP must be read in the same transaction that writes the result.
func CapDelta(currentDayXP, rawDelta shared.XP) shared.XP {
	if rawDelta <= 0 {
		return 0
	}
	remaining := DailyXPCap - currentDayXP
	if remaining <= 0 {
		return 0
	}
	return min(rawDelta, remaining)
}
