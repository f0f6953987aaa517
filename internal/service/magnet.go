package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"controlling_magnet/internal/channel"
	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/models"
	"controlling_magnet/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrRampInProgress = errors.New("a supervised ramp is already in progress")
	ErrNoActiveRamp   = errors.New("no supervised ramp in progress")
)

// RampInfo describes the supervised ramp.
type RampInfo struct {
	Target    magnet.RampTarget `json:"target"`
	StartT    float64           `json:"start_t"`
	StartedAt time.Time         `json:"started_at"`
}

type activeRamp struct {
	info   RampInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// MagnetService runs operator commands against the controller and records
// them in the event log. At most one blocking ramp is supervised at a time.
type MagnetService struct {
	ctrl        Controller
	eventRepo   repository.EventRepo
	log         *logger.Logger
	rampTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	active   *activeRamp
	starting bool // a SetField is talking to the supply
	wg     sync.WaitGroup
}

func NewMagnetService(ctrl Controller, eventRepo repository.EventRepo, log *logger.Logger, rampTimeout time.Duration) *MagnetService {
	return &MagnetService{
		ctrl:        ctrl,
		eventRepo:   eventRepo,
		log:         logger.OrNop(log),
		rampTimeout: rampTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetField starts a ramp. A blocking request returns once the sweep is
// running; the wait for convergence continues in the background.
func (s *MagnetService) SetField(ctx context.Context, p FieldParams) (magnet.RampResult, error) {
	s.mu.Lock()
	if s.active != nil || s.starting {
		s.mu.Unlock()
		return magnet.RampResult{}, ErrRampInProgress
	}
	s.starting = true
	s.mu.Unlock()

	installed := false
	defer func() {
		if !installed {
			s.mu.Lock()
			s.starting = false
			s.mu.Unlock()
		}
	}()

	res, err := s.ctrl.StartRamp(ctx, p.TargetT)
	if err != nil {
		s.recordFailure(ctx, "set field", err)
		return magnet.RampResult{}, err
	}

	switch res.Status {
	case magnet.RampAlreadyAtTarget:
		return res, nil
	case magnet.RampBlockedBySafety:
		s.appendEvent(ctx, models.EventRampBlocked, res.Reason, map[string]any{
			"target_t":  p.TargetT,
			"current_t": res.StartT,
		})
		return res, nil
	}

	s.appendEvent(ctx, models.EventRampStart, fmt.Sprintf("ramp to %g T", p.TargetT), map[string]any{
		"target_t":    res.Target.FieldT,
		"start_t":     res.StartT,
		"direction":   res.Target.Direction,
		"setpoint_kg": res.Target.SetpointKG,
		"supervised":  p.Block,
	})
	if !p.Block {
		s.log.Warnw("ramp_unsupervised", "target_t", p.TargetT)
		return res, nil
	}

	rampCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.rampTimeout > 0 {
		rampCtx, cancel = withTimeout(rampCtx, cancel, s.rampTimeout)
	}
	ar := &activeRamp{
		info:   RampInfo{Target: res.Target, StartT: res.StartT, StartedAt: s.now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.starting = false
	s.active = ar
	s.wg.Add(1)
	s.mu.Unlock()
	installed = true

	go s.supervise(rampCtx, ar, res)
	return res, nil
}

func withTimeout(parent context.Context, cancelParent context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	return ctx, func() {
		cancel()
		cancelParent()
	}
}

func (s *MagnetService) supervise(ctx context.Context, ar *activeRamp, res magnet.RampResult) {
	defer s.wg.Done()
	defer close(ar.done)
	defer ar.cancel()

	final, err := s.ctrl.AwaitSetpoint(ctx, res)

	s.mu.Lock()
	if s.active == ar {
		s.active = nil
	}
	s.mu.Unlock()

	logCtx := context.WithoutCancel(ctx)
	meta := map[string]any{"target_t": res.Target.FieldT, "final_t": final.FinalT}
	switch {
	case err == nil:
		s.log.Infow("ramp_completed", "target_t", res.Target.FieldT, "final_t", final.FinalT)
		s.appendEvent(logCtx, models.EventRampDone, fmt.Sprintf("reached %g T", final.FinalT), meta)
	case errors.Is(err, context.Canceled):
		s.log.Warnw("ramp_cancelled", "target_t", res.Target.FieldT, "final_t", final.FinalT)
		s.appendEvent(logCtx, models.EventRampCancel, "ramp cancelled, sweep paused", meta)
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Errorw("ramp_timeout", "target_t", res.Target.FieldT, "timeout", s.rampTimeout)
		meta["err"] = err.Error()
		s.appendEvent(logCtx, models.EventError, "ramp timed out, sweep paused", meta)
	default:
		s.log.Errorw("ramp_failed", "target_t", res.Target.FieldT, "err", err)
		meta["err"] = err.Error()
		s.appendEvent(logCtx, models.EventError, "supervised ramp failed", meta)
	}
}

// CancelRamp stops the supervised ramp and waits until the sweep is paused.
func (s *MagnetService) CancelRamp(ctx context.Context) error {
	s.mu.Lock()
	ar := s.active
	s.mu.Unlock()
	if ar == nil {
		return ErrNoActiveRamp
	}
	ar.cancel()
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveRamp reports the supervised ramp, if any.
func (s *MagnetService) ActiveRamp() (RampInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return RampInfo{}, false
	}
	return s.active.info, true
}

func (s *MagnetService) SetRate(ctx context.Context, p RateParams) (magnet.RateSetting, error) {
	setting, err := s.ctrl.SetRate(ctx, p.TPerMin)
	if err != nil {
		s.recordFailure(ctx, "set rate", err)
		return magnet.RateSetting{}, err
	}
	s.appendEvent(ctx, models.EventRateChange, fmt.Sprintf("rate set to %g T/min", setting.RateTPerMin), map[string]any{
		"requested_t_per_min": p.TPerMin,
		"rate_t_per_min":      setting.RateTPerMin,
		"rate_a_s":            setting.RateAps,
		"range":               setting.Range.Index,
		"clamped":             setting.Clamped,
	})
	return setting, nil
}

// Pause holds the present current. A supervised ramp is cancelled, which
// pauses the sweep itself.
func (s *MagnetService) Pause(ctx context.Context) error {
	if err := s.CancelRamp(ctx); err == nil {
		s.appendEvent(ctx, models.EventPause, "sweep paused by operator", nil)
		return nil
	} else if !errors.Is(err, ErrNoActiveRamp) {
		return err
	}
	if err := s.ctrl.Pause(ctx); err != nil {
		s.recordFailure(ctx, "pause", err)
		return err
	}
	s.appendEvent(ctx, models.EventPause, "sweep paused by operator", nil)
	return nil
}

// Zero sweeps the supply to zero current.
func (s *MagnetService) Zero(ctx context.Context) error {
	if _, busy := s.ActiveRamp(); busy {
		return ErrRampInProgress
	}
	if err := s.ctrl.ZeroCurrent(ctx); err != nil {
		var fault *magnet.SafetyFault
		if errors.As(err, &fault) {
			s.appendEvent(ctx, models.EventRampBlocked, fault.Reason, map[string]any{"target_t": 0.0})
			return err
		}
		s.recordFailure(ctx, "zero", err)
		return err
	}
	s.appendEvent(ctx, models.EventZero, "sweeping to zero", nil)
	return nil
}

func (s *MagnetService) QuenchReset(ctx context.Context) error {
	if err := s.ctrl.QuenchReset(ctx); err != nil {
		s.recordFailure(ctx, "quench reset", err)
		return err
	}
	s.appendEvent(ctx, models.EventQuenchReset, "quench condition reset", nil)
	return nil
}

func (s *MagnetService) SetUnits(ctx context.Context, units string) error {
	u, err := magnet.ParseUnits(units)
	if err != nil {
		return err
	}
	if err := s.ctrl.SetUnits(ctx, u); err != nil {
		s.recordFailure(ctx, "set units", err)
		return err
	}
	s.appendEvent(ctx, models.EventUnits, "units set to "+string(u), map[string]any{"units": u})
	return nil
}

// Close cancels the supervised ramp, if any, and waits for it.
func (s *MagnetService) Close() {
	s.mu.Lock()
	if s.active != nil {
		s.active.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// recordFailure logs every failure; link failures also go to the event log.
func (s *MagnetService) recordFailure(ctx context.Context, op string, err error) {
	s.log.Errorw("magnet_command_failed", "op", op, "err", err)
	if channel.IsTransport(err) {
		s.appendEvent(context.WithoutCancel(ctx), models.EventError, op+": "+err.Error(), map[string]any{"op": op})
	}
}

// appendEvent never fails the caller: the supply has already acted.
func (s *MagnetService) appendEvent(ctx context.Context, typ, desc string, meta map[string]any) {
	ev := models.RampEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  s.now(),
		Type:        typ,
		Description: desc,
	}
	if meta != nil {
		ev.Metadata = meta
	}
	if err := s.eventRepo.Append(ctx, ev); err != nil {
		s.log.Errorw("event_append_failed", "type", typ, "err", err)
	}
}
