package models

import (
	"time"

	"github.com/google/uuid"
)

// QualityObject is the verdict record a check produces each time it runs.
type QualityObject struct {
	ID string `json:"id"`

	// Name of the check that produced the verdict
	CheckName string `json:"check_name"`

	Quality Quality `json:"quality"`

	// Full names of the monitor objects the verdict was computed from
	Inputs []string `json:"inputs"`

	// Global revision of the cycle that produced the verdict
	Revision uint32 `json:"revision"`

	Timestamp time.Time `json:"timestamp"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewQualityObject creates a verdict stamped with a fresh ID and the current time.
func NewQualityObject(checkName string, q Quality, inputs []string) *QualityObject {
	return &QualityObject{
		ID:        uuid.NewString(),
		CheckName: checkName,
		Quality:   q,
		Inputs:    inputs,
		Timestamp: time.Now().UTC(),
	}
}
