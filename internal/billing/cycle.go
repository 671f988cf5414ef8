package billing

import "time"

// maxCyclesPerPass bounds one vehicle's backlog per transaction. Remaining
// cycles are picked up by the next pass.
const maxCyclesPerPass = 400

// Cycle is one billing period. End is exclusive.
type Cycle struct {
	Start time.Time
	End   time.Time
}

// DueCycles lists the complete cycles starting at start that have ended by
// now. A cycle still running at now is not due.
func DueCycles(start, now time.Time, lengthDays int) []Cycle {
	if lengthDays <= 0 {
		return nil
	}
	var out []Cycle
	for len(out) < maxCyclesPerPass {
		end := start.AddDate(0, 0, lengthDays)
		if end.After(now) {
			break
		}
		out = append(out, Cycle{Start: start, End: end})
		start = end
	}
	return out
}
