package resample

import (
	"fmt"
	"strings"
)

// Quality selects the converter's cost/fidelity tier.
type Quality int

const (
	Fastest Quality = iota
	Medium
	Best
)

func (q Quality) String() string {
	switch q {
	case Fastest:
		return "fastest"
	case Medium:
		return "medium"
	case Best:
		return "best"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fastest", "fast", "low":
		return Fastest, nil
	case "medium":
		return Medium, nil
	case "best", "high", "":
		return Best, nil
	}
	return Best, fmt.Errorf("unknown resample quality %q", s)
}
