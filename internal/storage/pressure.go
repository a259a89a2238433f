package storage

import (
	"math"
	"time"

	"github.com/opensensor/lightNVR-sub006/internal/data"
)

// Level is a coarse classification of remaining free storage.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

// Free-space thresholds in percent. A boundary value belongs to the
// lower-pressure bucket: exactly 20.0 is NORMAL.
const (
	WarningPct   = 20.0
	CriticalPct  = 10.0
	EmergencyPct = 5.0
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Classify maps a free-space percentage to a pressure level. Inputs are not
// clamped: anything below the emergency threshold (including negatives) is
// EMERGENCY, anything at or above the warning threshold (including >100) is
// NORMAL.
func Classify(freePct float64) Level {
	switch {
	case freePct < EmergencyPct:
		return LevelEmergency
	case freePct < CriticalPct:
		return LevelCritical
	case freePct < WarningPct:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// EffectiveRetentionDays applies a tier multiplier to the base retention
// window, truncating toward zero.
func EffectiveRetentionDays(baseDays int, multiplier float64) int {
	if baseDays < 0 {
		return 0
	}
	return int(math.Floor(float64(baseDays) * multiplier))
}

// CutoffTime returns the eviction cutoff for a tier: recordings whose end
// time is older become eligible.
func CutoffTime(now time.Time, baseDays int, policy data.RetentionPolicy, tier data.Tier) time.Time {
	days := EffectiveRetentionDays(baseDays, policy.Multiplier(tier))
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
