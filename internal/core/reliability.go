package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reliability is an ordinal confidence label attached to a multi-model
// analysis. The zero value is ReliabilityVeryLow.
type Reliability int

const (
	ReliabilityVeryLow Reliability = iota
	ReliabilityLow
	ReliabilityMedium
	ReliabilityHigh
	ReliabilityVeryHigh
)

var reliabilityNames = [...]string{
	ReliabilityVeryLow:  "very_low",
	ReliabilityLow:      "low",
	ReliabilityMedium:   "medium",
	ReliabilityHigh:     "high",
	ReliabilityVeryHigh: "very_high",
}

// String returns the snake_case label.
func (r Reliability) String() string {
	if r < ReliabilityVeryLow || r > ReliabilityVeryHigh {
		return reliabilityNames[ReliabilityVeryLow]
	}
	return reliabilityNames[r]
}

// Rank returns the position of the label in the ordering (0..4).
func (r Reliability) Rank() int {
	return int(r)
}

// ParseReliability converts a label back into its ordinal.
func ParseReliability(s string) (Reliability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range reliabilityNames {
		if name == s {
			return Reliability(i), nil
		}
	}
	return ReliabilityVeryLow, fmt.Errorf("unknown reliability level %q", s)
}

// MarshalJSON encodes the label as a string.
func (r Reliability) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a string label.
func (r *Reliability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseReliability(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
