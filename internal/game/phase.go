// Package game implements the pure rules of the daily coordinate strike game:
// phase scheduling, coordinate validation, match scoring, battery grouping,
// and the fee tokenomics table.
package game

import "time"

// Phase is the named stage of a cycle day.
type Phase int

const (
	PhaseTargeting Phase = iota
	PhaseLocked
	PhaseStrike
	PhaseOutcome
	PhaseReset
)

func (p Phase) String() string {
	switch p {
	case PhaseTargeting:
		return "targeting"
	case PhaseLocked:
		return "locked"
	case PhaseStrike:
		return "strike"
	case PhaseOutcome:
		return "outcome"
	case PhaseReset:
		return "reset"
	default:
		return "unknown"
	}
}

const secondsPerDay = 24 * 60 * 60

// ResolvePhase maps a wall-clock instant to the active cycle phase. The phase
// is a total function of the UTC hour: hours 0-20 are targeting, 21 locked,
// 22 strike, 23 outcome. The reset arm is kept for completeness; every hour of
// the day is claimed by the earlier cases.
//
// Callers scheduling actions must re-resolve the phase at the moment they act,
// not at the moment they were scheduled.
func ResolvePhase(now time.Time) Phase {
	switch hour := now.UTC().Hour(); {
	case hour < 21:
		return PhaseTargeting
	case hour == 21:
		return PhaseLocked
	case hour == 22:
		return PhaseStrike
	case hour == 23:
		return PhaseOutcome
	default:
		return PhaseReset
	}
}

// ResolveCycleDay returns the integer identifier of the cycle day containing
// now: whole days elapsed since the Unix epoch. It is strictly monotonic with
// wall-clock time and derived from nothing but elapsed time, so it is stable
// across process restarts.
func ResolveCycleDay(now time.Time) int64 {
	return now.UTC().Unix() / secondsPerDay
}
