package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInputs(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
	}{
		{"wrapped batch", `{"objects":[{"name":"a"},{"name":"b"}]}`, 2},
		{"wrapped single", `{"object":{"name":"a"}}`, 1},
		{"bare array", `[{"name":"a"},{"name":"b"},{"name":"c"}]`, 3},
		{"bare object", `{"name":"a","task_name":"tpc"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs, err := DecodeInputs([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, inputs, tt.count)
		})
	}

	for _, body := range []string{`{}`, `[]`, `{"task_name":"tpc"}`, `not json`} {
		_, err := DecodeInputs([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidPayload, body)
	}
}

func TestToMonitorObject(t *testing.T) {
	in := MonitorObjectInput{
		Name:       " clusters ",
		TaskName:   "tpc",
		ObjectType: "th1f",
		Bins:       []float64{1, 2},
		Entries:    3,
		Timestamp:  "2024-03-01T10:00:00+02:00",
		Metadata:   map[string]string{" Run ": " 42 "},
	}

	mo, err := in.ToMonitorObject()
	require.NoError(t, err)
	assert.Equal(t, "clusters", mo.Name)
	assert.Equal(t, "TH1F", mo.ObjectType)
	assert.Equal(t, "tpc/clusters", mo.FullName())
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), mo.Timestamp)
	assert.Equal(t, map[string]string{"run": "42"}, mo.Metadata)

	in.Timestamp = "yesterday"
	_, err = in.ToMonitorObject()
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	in.Timestamp = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	_, err = in.ToMonitorObject()
	assert.ErrorIs(t, err, ErrFutureTimestamp)
}

func TestValidationErrorType(t *testing.T) {
	assert.Equal(t, "empty_name", ValidationErrorType(ErrEmptyName))
	assert.Equal(t, "invalid_timestamp", ValidationErrorType(fmt.Errorf("timestamp: %w", ErrInvalidTimestamp)))
	assert.Equal(t, "too_many_bins", ValidationErrorType(ErrTooManyBins))
	assert.Equal(t, "other", ValidationErrorType(errors.New("boom")))
}
