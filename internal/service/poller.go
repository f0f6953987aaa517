package service

import (
	"context"
	"time"

	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/models"
	"controlling_magnet/internal/repository"

	"github.com/google/uuid"
)

// Error codes kept on the persisted snapshot.
const (
	CodeQuench      = "QUENCH"
	CodePowerModule = "POWER_MODULE"
	CodeLink        = "LINK"
)

// RampTracker reports the supervised ramp target, if any.
type RampTracker interface {
	ActiveRamp() (RampInfo, bool)
}

// PollerService samples the supply and persists the snapshot. Fault flags are
// written to the event log once per rising edge.
type PollerService struct {
	ctrl      Controller
	stateRepo repository.StateRepo
	eventRepo repository.EventRepo
	ramps     RampTracker
	log       *logger.Logger

	// previous sample, only touched by the Run goroutine
	quench      bool
	powerModule bool
	linkDown    bool
}

func NewPollerService(ctrl Controller, stateRepo repository.StateRepo, eventRepo repository.EventRepo, ramps RampTracker, log *logger.Logger) *PollerService {
	return &PollerService{
		ctrl:      ctrl,
		stateRepo: stateRepo,
		eventRepo: eventRepo,
		ramps:     ramps,
		log:       logger.OrNop(log),
	}
}

// Run samples at the given interval until ctx is cancelled.
func (s *PollerService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.Sample(ctx, now); err != nil && ctx.Err() == nil {
				s.log.Errorw("magnet_sample_failed", "err", err)
			}
		}
	}
}

// Sample reads the supply once and saves the snapshot. On a link failure
// the previous snapshot is kept and tagged with CodeLink.
func (s *PollerService) Sample(ctx context.Context, now time.Time) (models.MagnetState, error) {
	st, err := s.read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return models.MagnetState{}, err
		}
		return s.markLinkDown(ctx, now, err)
	}
	st.ID = 1
	st.UpdatedAt = now.UTC()
	if info, ok := s.ramps.ActiveRamp(); ok {
		st.TargetT = info.Target.FieldT
	}

	if s.linkDown {
		s.linkDown = false
		s.log.Infow("magnet_link_restored")
	}
	if st.QuenchPresent {
		st.ErrorCodes = append(st.ErrorCodes, CodeQuench)
		if !s.quench {
			s.log.Errorw("quench_detected", "field_t", st.FieldT)
			s.appendEvent(ctx, now, "quench detected", map[string]any{"code": CodeQuench, "field_t": st.FieldT})
		}
	}
	if st.PowerModuleFailure {
		st.ErrorCodes = append(st.ErrorCodes, CodePowerModule)
		if !s.powerModule {
			s.log.Errorw("power_module_failure_detected")
			s.appendEvent(ctx, now, "power module failure detected", map[string]any{"code": CodePowerModule})
		}
	}
	s.quench, s.powerModule = st.QuenchPresent, st.PowerModuleFailure

	if err := s.stateRepo.Save(ctx, st); err != nil {
		return st, err
	}
	return st, nil
}

func (s *PollerService) read(ctx context.Context) (models.MagnetState, error) {
	var st models.MagnetState

	status, err := s.ctrl.Status(ctx)
	if err != nil {
		return st, err
	}
	st.QuenchPresent = status.QuenchPresent
	st.PowerModuleFailure = status.PowerModuleFailure

	units, err := s.ctrl.Units(ctx)
	if err != nil {
		return st, err
	}
	st.Units = string(units)

	if st.FieldT, err = s.ctrl.Field(ctx); err != nil {
		return st, err
	}
	if st.RateTPerMin, err = s.ctrl.Rate(ctx); err != nil {
		return st, err
	}
	if st.OutputCurrentA, err = s.ctrl.OutputCurrent(ctx); err != nil {
		return st, err
	}
	if st.MagnetVoltageV, err = s.ctrl.MagnetVoltage(ctx); err != nil {
		return st, err
	}
	if st.OutputVoltageV, err = s.ctrl.OutputVoltage(ctx); err != nil {
		return st, err
	}
	if st.Ramping, err = s.ctrl.Sweeping(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func (s *PollerService) markLinkDown(ctx context.Context, now time.Time, cause error) (models.MagnetState, error) {
	st, err := s.stateRepo.Load(ctx)
	if err != nil {
		return models.MagnetState{}, err
	}
	if st.ID == 0 {
		st.ID = 1
	}
	if !s.linkDown {
		s.linkDown = true
		s.appendEvent(ctx, now, "magnet link lost", map[string]any{"code": CodeLink, "err": cause.Error()})
	}
	if !hasString(st.ErrorCodes, CodeLink) {
		st.ErrorCodes = append(st.ErrorCodes, CodeLink)
	}
	st.UpdatedAt = now.UTC()
	if err := s.stateRepo.Save(ctx, st); err != nil {
		return st, err
	}
	return st, cause
}

func (s *PollerService) appendEvent(ctx context.Context, now time.Time, desc string, meta map[string]any) {
	err := s.eventRepo.Append(ctx, models.RampEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  now.UTC(),
		Type:        models.EventError,
		Description: desc,
		Metadata:    meta,
	})
	if err != nil {
		s.log.Errorw("event_append_failed", "err", err)
	}
}

func hasString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
