// Package priority maps audio duration to a queue priority band. Short jobs
// finish fast, keeping perceived latency low for the common case; long jobs
// still run eventually because no band is ever skipped.
package priority

// Band boundaries in seconds.
const (
	shortMax  = 300
	mediumMax = 900
	longMax   = 1800
)

// Highest and lowest bands. Lower is dequeued sooner.
const (
	Highest = 1
	Lowest  = 4
)

// ForDuration returns the priority band for an audio duration in seconds.
func ForDuration(durationSeconds float64) int {
	switch {
	case durationSeconds <= shortMax:
		return 1
	case durationSeconds <= mediumMax:
		return 2
	case durationSeconds <= longMax:
		return 3
	default:
		return 4
	}
}
