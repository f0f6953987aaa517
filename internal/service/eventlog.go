package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"controlling_magnet/internal/models"
	"controlling_magnet/internal/repository"
)

var (
	ErrInvalidTimeRange = errors.New("invalid time range: from must be <= to")
	ErrUnknownEventType = errors.New("unknown event type")
)

var knownEventTypes = map[string]bool{
	models.EventRampStart:   true,
	models.EventRampDone:    true,
	models.EventRampBlocked: true,
	models.EventRampCancel:  true,
	models.EventRateChange:  true,
	models.EventUnits:       true,
	models.EventPause:       true,
	models.EventZero:        true,
	models.EventQuenchReset: true,
	models.EventError:       true,
}

type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

// List returns the filtered ramp and fault history, oldest first.
func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.RampEvent, error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, f.From, f.To, f.Type)
}

// normalizeFilter converts bounds to UTC, uppercases the type and rejects
// inverted ranges and unknown types.
func normalizeFilter(f LogFilter) (LogFilter, error) {
	f.From = toUTC(f.From)
	f.To = toUTC(f.To)
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return LogFilter{}, ErrInvalidTimeRange
	}
	f.Type = strings.ToUpper(strings.TrimSpace(f.Type))
	if f.Type != "" && !knownEventTypes[f.Type] {
		return LogFilter{}, fmt.Errorf("%w: %q", ErrUnknownEventType, f.Type)
	}
	return f, nil
}
