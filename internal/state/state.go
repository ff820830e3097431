// Package state keeps the latest verdict of every check and the latest
// result of every alarm so that they survive a restart.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"qcflow/internal/models"
)

var ErrNotFound = errors.New("key not found")

// Store is a small key/value interface over the state backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

const (
	verdictPrefix = "verdict/"
	alarmPrefix   = "alarm/"
)

type noopStore struct{}

// NewNoopStore returns a store that keeps nothing; every Get misses.
func NewNoopStore() Store { return noopStore{} }

func (noopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func (noopStore) Set(context.Context, string, []byte) error { return nil }

func (noopStore) Close() error { return nil }

// SaveVerdict records qo as the latest verdict of its check.
func SaveVerdict(ctx context.Context, s Store, qo *models.QualityObject) error {
	return put(ctx, s, verdictPrefix+qo.CheckName, qo)
}

// LastVerdict returns the latest verdict of check, ErrNotFound if none.
func LastVerdict(ctx context.Context, s Store, check string) (*models.QualityObject, error) {
	var qo models.QualityObject
	if err := get(ctx, s, verdictPrefix+check, &qo); err != nil {
		return nil, err
	}
	return &qo, nil
}

// SaveAlarmEvent records ev as the latest result of its alarm.
func SaveAlarmEvent(ctx context.Context, s Store, ev *models.AlarmEvent) error {
	return put(ctx, s, alarmPrefix+ev.AlarmName, ev)
}

// LastAlarmEvent returns the latest result of alarm, ErrNotFound if none.
func LastAlarmEvent(ctx context.Context, s Store, alarm string) (*models.AlarmEvent, error) {
	var ev models.AlarmEvent
	if err := get(ctx, s, alarmPrefix+alarm, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func put(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

func get(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
