package service

import (
	"context"
	"time"

	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/models"
	"controlling_magnet/internal/repository"
)

type MonitoringService struct {
	stateRepo repository.StateRepo
}

func NewMonitoringService(stateRepo repository.StateRepo) *MonitoringService {
	return &MonitoringService{stateRepo: stateRepo}
}

// GetState returns the latest persisted snapshot, or a zero-field baseline
// before the poller has sampled the supply.
func (s *MonitoringService) GetState(ctx context.Context) (models.MagnetState, error) {
	state, err := s.stateRepo.Load(ctx)
	if err != nil {
		return models.MagnetState{}, err
	}
	if state.ID == 0 {
		return s.baselineState(), nil
	}
	state.UpdatedAt = toUTC(state.UpdatedAt)
	return state, nil
}

func (s *MonitoringService) baselineState() models.MagnetState {
	return models.MagnetState{
		ID:        1, // single-row table
		Units:     string(magnet.UnitsTesla),
		UpdatedAt: time.Now().UTC(),
	}
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
