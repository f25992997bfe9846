package policy

import (
	"fmt"
	"strings"
)

// Tier is the risk classification of a tool call.
type Tier int

const (
	Safe Tier = iota
	Moderate
	Dangerous
	Critical
)

var tierNames = [...]string{"safe", "moderate", "dangerous", "critical"}

func (t Tier) String() string {
	if t < Safe || t > Critical {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// RequiresConfirmation reports whether calls at this tier must be approved
// by a human before they run.
func (t Tier) RequiresConfirmation() bool { return t >= Moderate }

// RequiresMFA reports whether approval must be escalated to a second factor.
func (t Tier) RequiresMFA() bool { return t >= Critical }

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return Dangerous, fmt.Errorf("unknown risk tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if t < Safe || t > Critical {
		return nil, fmt.Errorf("invalid risk tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
