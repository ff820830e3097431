// Package storage persists the output of each scheduler cycle: verdicts,
// the monitor objects they were computed from and alarm events.
package storage

import (
	"context"

	"qcflow/internal/models"
)

// Repository is the write side used by the cycle loop plus the queries the
// HTTP API serves.
type Repository interface {
	StoreMonitorObjects(ctx context.Context, objects []*models.MonitorObject) error
	StoreQualityObjects(ctx context.Context, verdicts []*models.QualityObject) error
	StoreAlarmEvents(ctx context.Context, events []*models.AlarmEvent) error
	History(ctx context.Context, check string, limit int) ([]*models.QualityObject, error)
	Close() error
}

// NewNoop returns a repository that stores nothing.
func NewNoop() Repository { return noopRepository{} }

type noopRepository struct{}

func (noopRepository) StoreMonitorObjects(context.Context, []*models.MonitorObject) error { return nil }

func (noopRepository) StoreQualityObjects(context.Context, []*models.QualityObject) error { return nil }

func (noopRepository) StoreAlarmEvents(context.Context, []*models.AlarmEvent) error { return nil }

func (noopRepository) History(context.Context, string, int) ([]*models.QualityObject, error) {
	return nil, nil
}

func (noopRepository) Close() error { return nil }
