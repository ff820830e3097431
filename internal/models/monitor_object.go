package models

import (
	"errors"
	"time"
)

// MonitorObject is one published measurement snapshot produced by an
// upstream observation task, typically a histogram.
type MonitorObject struct {
	// Object name, unique within its task
	Name string `json:"name"`

	// Task that published the object
	TaskName string `json:"task_name"`

	// Payload class, e.g. TH1F or TGraph
	ObjectType string `json:"object_type"`

	// Bin contents of the histogram payload
	Bins []float64 `json:"bins,omitempty"`

	// Number of entries filled so far
	Entries float64 `json:"entries"`

	// When the task produced the snapshot
	Timestamp time.Time `json:"timestamp"`

	// Optional structured metadata
	Metadata map[string]string `json:"metadata,omitempty"`

	// Drawing hints set by a check's beautify step
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Validation errors
var (
	ErrEmptyName        = errors.New("monitor object name cannot be empty")
	ErrEmptyTaskName    = errors.New("task name cannot be empty")
	ErrEmptyObjectType  = errors.New("object type cannot be empty")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp  = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrTooManyBins      = errors.New("too many bins")
	ErrTooManyMetadata  = errors.New("too many metadata keys")
	ErrInvalidFullName  = errors.New("full name must be task/name")
	ErrNegativeEntries  = errors.New("entries cannot be negative")
)

const (
	MaxBins         = 1 << 16
	MaxMetadataKeys = 50
)

// FullName is the key monitor objects are merged under: task/name.
func (m *MonitorObject) FullName() string {
	return m.TaskName + "/" + m.Name
}

// Validate checks if the MonitorObject has all required fields and valid values
func (m *MonitorObject) Validate() error {
	if m.Name == "" {
		return ErrEmptyName
	}

	if m.TaskName == "" {
		return ErrEmptyTaskName
	}

	if m.ObjectType == "" {
		return ErrEmptyObjectType
	}

	if m.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if m.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	if m.Entries < 0 {
		return ErrNegativeEntries
	}

	if len(m.Bins) > MaxBins {
		return ErrTooManyBins
	}

	if len(m.Metadata) > MaxMetadataKeys {
		return ErrTooManyMetadata
	}

	return nil
}

// Mean returns the bin-index weighted mean of the histogram, or 0 when empty.
func (m *MonitorObject) Mean() float64 {
	var sum, weight float64
	for i, v := range m.Bins {
		sum += float64(i) * v
		weight += v
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// Annotate records a drawing hint on the object.
func (m *MonitorObject) Annotate(key, value string) {
	if m.Annotations == nil {
		m.Annotations = make(map[string]string)
	}
	m.Annotations[key] = value
}

// Clone returns a deep copy so a check can beautify without touching the shared map.
func (m *MonitorObject) Clone() *MonitorObject {
	c := *m
	if m.Bins != nil {
		c.Bins = append([]float64(nil), m.Bins...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.Annotations != nil {
		c.Annotations = make(map[string]string, len(m.Annotations))
		for k, v := range m.Annotations {
			c.Annotations[k] = v
		}
	}
	return &c
}
