package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Quality is the ordinal verdict a check assigns to its monitor objects.
// Higher levels are better: Null < Bad < Medium < Good.
type Quality int

const (
	QualityNull Quality = iota
	QualityBad
	QualityMedium
	QualityGood
)

var ErrUnknownQuality = errors.New("unknown quality name")

var qualityNames = [...]string{
	QualityNull:   "Null",
	QualityBad:    "Bad",
	QualityMedium: "Medium",
	QualityGood:   "Good",
}

// ParseQuality resolves a quality name, ignoring case.
func ParseQuality(name string) (Quality, error) {
	name = strings.TrimSpace(name)
	for q, n := range qualityNames {
		if strings.EqualFold(n, name) {
			return Quality(q), nil
		}
	}
	return QualityNull, fmt.Errorf("%w: %q", ErrUnknownQuality, name)
}

// Level returns the ordinal used for comparisons.
func (q Quality) Level() int { return int(q) }

// IsValid reports whether q is one of the four known levels.
func (q Quality) IsValid() bool {
	return q >= QualityNull && q <= QualityGood
}

func (q Quality) String() string {
	if !q.IsValid() {
		return fmt.Sprintf("Quality(%d)", int(q))
	}
	return qualityNames[q]
}

// Worse returns the lower of the two qualities.
func (q Quality) Worse(other Quality) Quality {
	if other < q {
		return other
	}
	return q
}

func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quality) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseQuality(name)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
