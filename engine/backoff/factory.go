package backoff

import (
	"fmt"
	"time"
)

// Type selects a retry delay algorithm.
type Type int

const (
	// TypeLinear scales the delay with the attempt number (default).
	TypeLinear Type = iota
	// TypeExponential doubles the delay on each attempt.
	TypeExponential
	// TypeJittered adds random jitter to exponential delays.
	TypeJittered
	// TypeDecorrelated uses decorrelated jitter, where each delay is
	// drawn relative to the previous one.
	TypeDecorrelated
)

// String returns the configuration name of the type.
func (t Type) String() string {
	switch t {
	case TypeLinear:
		return "linear"
	case TypeExponential:
		return "exponential"
	case TypeJittered:
		return "jittered"
	case TypeDecorrelated:
		return "decorrelated"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseType converts a configuration string into a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "linear", "":
		return TypeLinear, nil
	case "exponential":
		return TypeExponential, nil
	case "jittered":
		return TypeJittered, nil
	case "decorrelated":
		return TypeDecorrelated, nil
	default:
		return TypeLinear, fmt.Errorf("unknown backoff type %q", s)
	}
}

// New builds a Strategy of the given type. jitter applies only to
// TypeJittered and is clamped to [0, 1].
func New(typ Type, base, max time.Duration, jitter float64) Strategy {
	switch typ {
	case TypeExponential:
		return NewExponential(base, max)
	case TypeJittered:
		return NewJittered(base, max, jitter)
	case TypeDecorrelated:
		return NewDecorrelated(base, max)
	default:
		return NewLinear(base, max)
	}
}
