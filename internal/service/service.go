package service

import (
	"context"
	"time"

	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/models"
	"controlling_magnet/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Magnet exposes ramp and supply control.
type Magnet interface {
	SetField(ctx context.Context, p FieldParams) (magnet.RampResult, error)
	CancelRamp(ctx context.Context) error
	ActiveRamp() (RampInfo, bool)
	SetRate(ctx context.Context, p RateParams) (magnet.RateSetting, error)
	Pause(ctx context.Context) error
	Zero(ctx context.Context) error
	QuenchReset(ctx context.Context) error
	SetUnits(ctx context.Context, units string) error
	// Close cancels a supervised ramp and waits for it to finish.
	Close()
}

// Monitoring exposes the latest sampled supply state.
type Monitoring interface {
	GetState(ctx context.Context) (models.MagnetState, error)
}

// EventLog exposes the append-only log with filtering.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.RampEvent, error)
}

// Poller samples the supply until ctx is cancelled.
type Poller interface {
	Run(ctx context.Context, tick time.Duration)
}

// Controller is the magnet driver surface used by the services.
type Controller interface {
	Field(ctx context.Context) (float64, error)
	Units(ctx context.Context) (magnet.Units, error)
	SetUnits(ctx context.Context, u magnet.Units) error
	Rate(ctx context.Context) (float64, error)
	SetRate(ctx context.Context, tPerMin float64) (magnet.RateSetting, error)
	Status(ctx context.Context) (magnet.FailureState, error)
	Sweeping(ctx context.Context) (bool, error)
	StartRamp(ctx context.Context, targetT float64) (magnet.RampResult, error)
	AwaitSetpoint(ctx context.Context, res magnet.RampResult) (magnet.RampResult, error)
	Pause(ctx context.Context) error
	ZeroCurrent(ctx context.Context) error
	QuenchReset(ctx context.Context) error
	OutputCurrent(ctx context.Context) (float64, error)
	MagnetVoltage(ctx context.Context) (float64, error)
	OutputVoltage(ctx context.Context) (float64, error)
}

var _ Controller = (*magnet.Controller)(nil)

// Service aggregates all sub-services.
type Service struct {
	Magnet
	Monitoring
	EventLog
	Poller
	Authorization
}

// Options carries the service-level settings from config.
type Options struct {
	Log         *logger.Logger
	RampTimeout time.Duration
	SigningKey  string
	TokenTTL    time.Duration
}

// NewService wires the repositories and the magnet controller into services.
func NewService(repos *repository.Repository, ctrl Controller, opts Options) *Service {
	magnetSvc := NewMagnetService(ctrl, repos.EventRepo, opts.Log, opts.RampTimeout)
	return &Service{
		Magnet:        magnetSvc,
		Monitoring:    NewMonitoringService(repos.StateRepo),
		EventLog:      NewEventLogService(repos.EventRepo),
		Poller:        NewPollerService(ctrl, repos.StateRepo, repos.EventRepo, magnetSvc, opts.Log),
		Authorization: NewAuthService(repos.Auth, opts.SigningKey, opts.TokenTTL),
	}
}
