package generator

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// Priority paces verse synthesis. It never changes segment order.
type Priority int

const (
	PriorityInteractive Priority = iota
	PriorityBackground
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "interactive":
		return PriorityInteractive, nil
	case "background":
		return PriorityBackground, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// newPacers builds one limiter per throttled priority. A rate of zero or
// less leaves that priority unthrottled.
func newPacers(backgroundPerSecond, lowPerSecond float64) map[Priority]*rate.Limiter {
	pacers := make(map[Priority]*rate.Limiter)
	if backgroundPerSecond > 0 {
		pacers[PriorityBackground] = rate.NewLimiter(rate.Limit(backgroundPerSecond), 1)
	}
	if lowPerSecond > 0 {
		pacers[PriorityLow] = rate.NewLimiter(rate.Limit(lowPerSecond), 1)
	}
	return pacers
}
