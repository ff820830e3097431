package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidPayload = errors.New("invalid JSON format: expected monitor object or array of monitor objects")

// MonitorObjectInput is the wire form of a monitor object, with a string
// timestamp for flexible parsing.
type MonitorObjectInput struct {
	Name       string            `json:"name"`
	TaskName   string            `json:"task_name"`
	ObjectType string            `json:"object_type"`
	Bins       []float64         `json:"bins,omitempty"`
	Entries    float64           `json:"entries"`
	Timestamp  string            `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IngestRequest is a single object or a batch of objects.
type IngestRequest struct {
	Object  *MonitorObjectInput  `json:"object,omitempty"`
	Objects []MonitorObjectInput `json:"objects,omitempty"`
}

// DecodeInputs accepts {"object": ...}, {"objects": [...]}, a bare array or
// a bare object.
func DecodeInputs(body []byte) ([]MonitorObjectInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Objects) > 0 {
			return req.Objects, nil
		}
		if req.Object != nil {
			return []MonitorObjectInput{*req.Object}, nil
		}
	}

	var inputs []MonitorObjectInput
	if err := json.Unmarshal(body, &inputs); err == nil && len(inputs) > 0 {
		return inputs, nil
	}

	var single MonitorObjectInput
	if err := json.Unmarshal(body, &single); err == nil && single.Name != "" {
		return []MonitorObjectInput{single}, nil
	}

	return nil, ErrInvalidPayload
}

// ToMonitorObject parses the timestamp, normalizes and validates.
func (in MonitorObjectInput) ToMonitorObject() (*MonitorObject, error) {
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}

	mo := &MonitorObject{
		Name:       in.Name,
		TaskName:   in.TaskName,
		ObjectType: in.ObjectType,
		Bins:       in.Bins,
		Entries:    in.Entries,
		Timestamp:  ts,
		Metadata:   in.Metadata,
	}
	mo.Normalize()

	if err := mo.Validate(); err != nil {
		return nil, err
	}
	return mo, nil
}

// ValidationErrorType maps a validation error to a short metric label.
func ValidationErrorType(err error) string {
	switch {
	case errors.Is(err, ErrEmptyName):
		return "empty_name"
	case errors.Is(err, ErrEmptyTaskName):
		return "empty_task_name"
	case errors.Is(err, ErrEmptyObjectType):
		return "empty_object_type"
	case errors.Is(err, ErrZeroTimestamp), errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ErrFutureTimestamp):
		return "future_timestamp"
	case errors.Is(err, ErrNegativeEntries):
		return "negative_entries"
	case errors.Is(err, ErrTooManyBins):
		return "too_many_bins"
	case errors.Is(err, ErrTooManyMetadata):
		return "too_many_metadata"
	default:
		return "other"
	}
}
