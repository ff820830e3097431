package models

import "time"

// AlarmEvent records one evaluation of an alarm condition.
type AlarmEvent struct {
	ID        string    `json:"id"`
	AlarmName string    `json:"alarm_name"`
	Result    string    `json:"result"`
	Condition string    `json:"condition"`
	Timestamp time.Time `json:"timestamp"`
}
