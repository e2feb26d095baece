// Copyright © 2024 The ELPS authors

package results

// Status is the outcome of a test, or the rolled up outcome of a group or
// suite.  Statuses are ordered by severity so the highest status of a set
// of children is simply their maximum.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusPassed
	StatusSkipped
	StatusFailed
)

var statusStrings = []string{
	StatusUnknown: "unknown",
	StatusRunning: "running",
	StatusPassed:  "passed",
	StatusSkipped: "skipped",
	StatusFailed:  "failed",
}

var statusIcons = []string{
	StatusUnknown: "unknown",
	StatusRunning: "running",
	StatusPassed:  "pass",
	StatusSkipped: "skip",
	StatusFailed:  "fail",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusStrings) {
		return "invalid"
	}
	return statusStrings[s]
}

// Icon returns the icon file name used to display a node with status s.
// Results that predate the latest run covering them use a dimmed variant.
func (s Status) Icon(stale bool) string {
	name := "unknown"
	if s >= 0 && int(s) < len(statusIcons) {
		name = statusIcons[s]
	}
	if stale {
		return name + "_stale.svg"
	}
	return name + ".svg"
}

// Highest returns the more severe of a and b.
func Highest(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}
