package models

import (
	"time"
)

// Envelope wraps a verdict with internal metadata for publishing
type Envelope struct {
	// Verdict being published
	Quality *QualityObject `json:"quality"`

	// Beautified monitor object, if the check produced one
	MonitorObject *MonitorObject `json:"monitor_object,omitempty"`

	// Internal processing metadata
	ProducedAt   time.Time `json:"produced_at"`
	Node         string    `json:"node"`
	RetryCount   int       `json:"retry_count"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping a verdict
func NewEnvelope(qo *QualityObject, node string) *Envelope {
	return &Envelope{
		Quality:      qo,
		ProducedAt:   time.Now().UTC(),
		Node:         node,
		RetryCount:   0,
		PartitionKey: qo.CheckName, // partition by check for ordering
	}
}

// WithMonitorObject attaches the beautified object to the envelope
func (e *Envelope) WithMonitorObject(mo *MonitorObject) *Envelope {
	e.MonitorObject = mo
	return e
}

// Batch is one input cycle's worth of monitor objects, as delivered by
// the transport or the HTTP ingest endpoint.
type Batch struct {
	ID         string           `json:"id"`
	Source     string           `json:"source"`
	ReceivedAt time.Time        `json:"received_at"`
	Objects    []*MonitorObject `json:"objects"`
}
