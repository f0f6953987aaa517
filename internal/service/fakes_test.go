package service

import (
	"context"
	"sync"
	"time"

	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/models"
)

// fakeController is a scripted Controller.
type fakeController struct {
	mu sync.Mutex

	startRes magnet.RampResult
	startErr error
	// startGate, when set, holds StartRamp until it is closed.
	startGate    chan struct{}
	startEntered chan struct{}
	awaitFn  func(ctx context.Context, res magnet.RampResult) (magnet.RampResult, error)

	rateSetting magnet.RateSetting
	rateErr     error

	status    magnet.FailureState
	statusErr error
	field     float64
	units     magnet.Units
	rate      float64
	iout      float64
	vmag      float64
	vout      float64
	sweeping  bool

	pauseErr  error
	zeroErr   error
	qresetErr error
	unitsErr  error

	calls []string
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeController) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeController) Field(ctx context.Context) (float64, error) {
	f.record("Field")
	return f.field, nil
}

func (f *fakeController) Units(ctx context.Context) (magnet.Units, error) {
	f.record("Units")
	if f.units == "" {
		return magnet.UnitsTesla, nil
	}
	return f.units, nil
}

func (f *fakeController) SetUnits(ctx context.Context, u magnet.Units) error {
	f.record("SetUnits")
	return f.unitsErr
}

func (f *fakeController) Rate(ctx context.Context) (float64, error) {
	f.record("Rate")
	return f.rate, nil
}

func (f *fakeController) SetRate(ctx context.Context, tPerMin float64) (magnet.RateSetting, error) {
	f.record("SetRate")
	return f.rateSetting, f.rateErr
}

func (f *fakeController) Status(ctx context.Context) (magnet.FailureState, error) {
	f.record("Status")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeController) Sweeping(ctx context.Context) (bool, error) {
	f.record("Sweeping")
	return f.sweeping, nil
}

func (f *fakeController) StartRamp(ctx context.Context, targetT float64) (magnet.RampResult, error) {
	f.record("StartRamp")
	if f.startGate != nil {
		f.startEntered <- struct{}{}
		<-f.startGate
	}
	return f.startRes, f.startErr
}

func (f *fakeController) AwaitSetpoint(ctx context.Context, res magnet.RampResult) (magnet.RampResult, error) {
	f.record("AwaitSetpoint")
	if f.awaitFn == nil {
		res.Status = magnet.RampCompleted
		res.FinalT = res.Target.FieldT
		return res, nil
	}
	return f.awaitFn(ctx, res)
}

func (f *fakeController) Pause(ctx context.Context) error {
	f.record("Pause")
	return f.pauseErr
}

func (f *fakeController) ZeroCurrent(ctx context.Context) error {
	f.record("ZeroCurrent")
	return f.zeroErr
}

func (f *fakeController) QuenchReset(ctx context.Context) error {
	f.record("QuenchReset")
	return f.qresetErr
}

func (f *fakeController) OutputCurrent(ctx context.Context) (float64, error) {
	return f.iout, nil
}

func (f *fakeController) MagnetVoltage(ctx context.Context) (float64, error) {
	return f.vmag, nil
}

func (f *fakeController) OutputVoltage(ctx context.Context) (float64, error) {
	return f.vout, nil
}

// memEventRepo keeps appended events in memory.
type memEventRepo struct {
	mu        sync.Mutex
	events    []models.RampEvent
	appendErr error
}

func (r *memEventRepo) Append(ctx context.Context, e models.RampEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.appendErr
}

func (r *memEventRepo) List(ctx context.Context, from, to time.Time, typ string) ([]models.RampEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RampEvent(nil), r.events...), nil
}

func (r *memEventRepo) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// memStateRepo keeps the last saved snapshot.
type memStateRepo struct {
	mu    sync.Mutex
	state models.MagnetState
	saves int
}

func (r *memStateRepo) Save(ctx context.Context, s models.MagnetState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.saves++
	return nil
}

func (r *memStateRepo) Load(ctx context.Context) (models.MagnetState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}
