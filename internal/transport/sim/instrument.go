// Package sim is an in-process model of a Cryomagnetics 4G style magnet power
// supply. It implements transport.Transport directly and can also be served
// over TCP, so the full stack can run without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"controlling_magnet/internal/clock"
	"controlling_magnet/internal/transport"
)

// Status byte bits reported by *STB?.
const (
	StatusQuench      = 1 << 2
	StatusPowerModule = 1 << 3
)

// Sweep modes.
const (
	SweepPause = "PAUSE"
	SweepUp    = "UP"
	SweepDown  = "DOWN"
	SweepZero  = "ZERO"
)

const (
	kiloGaussPerTesla = 10.0
	defaultRateAps    = 0.1 // A/s when no range is configured
	defaultLimitA     = 100.0
	identity          = "Cryomagnetics,4G,SIM,1.0"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
	ErrNoReply        = errors.New("command produces no reply")
	ErrInjected       = errors.New("injected link failure")
)

// Config describes the simulated magnet.
type Config struct {
	CoilConstant   float64 // T/A
	Inductance     float64 // H, drives VMAG? while sweeping
	LeadResistance float64 // Ohm, added to VOUT?
}

type rangeSetting struct {
	limitA  float64
	rateAps float64
}

// Instrument is the simulated supply. Time advances lazily on every exchange
// using the injected clock.
type Instrument struct {
	mu    sync.Mutex
	clock clock.Clock
	cfg   Config

	units    string
	currentA float64
	ulimA    float64
	llimA    float64
	sweep    string
	ranges   map[int]rangeSetting
	remote   bool
	status   int
	last     time.Time

	failNext int
	clears   int
	commands []string
	closed   bool
}

var _ transport.Transport = (*Instrument)(nil)

// New builds an instrument at zero current, paused, in amps.
func New(cfg Config, clk clock.Clock) *Instrument {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.CoilConstant <= 0 {
		cfg.CoilConstant = 0.1
	}
	in := &Instrument{clock: clk, cfg: cfg}
	in.resetLocked()
	return in
}

func (in *Instrument) resetLocked() {
	in.units = "A"
	in.currentA = 0
	in.ulimA = 0
	in.llimA = 0
	in.sweep = SweepPause
	in.ranges = map[int]rangeSetting{}
	in.remote = false
	in.status = 0
	in.last = in.clock.Now()
}

// ---- transport.Transport ----

func (in *Instrument) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.linkLocked(); err != nil {
		return err
	}
	_, _, err := in.execLocked(cmd)
	return err
}

func (in *Instrument) Query(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.linkLocked(); err != nil {
		return "", err
	}
	reply, ok, err := in.execLocked(cmd)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%q: %w", cmd, ErrNoReply)
	}
	return reply, nil
}

func (in *Instrument) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return transport.ErrClosed
	}
	in.clears++
	return nil
}

func (in *Instrument) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}

func (in *Instrument) linkLocked() error {
	if in.closed {
		return transport.ErrClosed
	}
	if in.failNext > 0 {
		in.failNext--
		return ErrInjected
	}
	return nil
}

// Exec runs one protocol line and reports whether it produced a reply.
func (in *Instrument) Exec(line string) (string, bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.execLocked(line)
}

// ---- fault injection and inspection ----

// FailNext makes the next n exchanges fail at the link level.
func (in *Instrument) FailNext(n int) {
	in.mu.Lock()
	in.failNext = n
	in.mu.Unlock()
}

// Quench trips the quench flag: current collapses and the sweep stops.
func (in *Instrument) Quench() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status |= StatusQuench
	in.currentA = 0
	in.sweep = SweepPause
}

// SetPowerModuleFailure raises or clears the power-module fault bit.
func (in *Instrument) SetPowerModuleFailure(failed bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if failed {
		in.status |= StatusPowerModule
	} else {
		in.status &^= StatusPowerModule
	}
}

// SetCurrent places the magnet at a current, e.g. to seed a test.
func (in *Instrument) SetCurrent(amps float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.currentA = amps
	in.last = in.clock.Now()
}

// CurrentA advances the model and returns the magnet current.
func (in *Instrument) CurrentA() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.advanceLocked()
	return in.currentA
}

// FieldT is CurrentA expressed in Tesla.
func (in *Instrument) FieldT() float64 {
	return in.CurrentA() * in.cfg.CoilConstant
}

// Sweep returns the active sweep mode.
func (in *Instrument) Sweep() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sweep
}

// Clears counts device-clear requests.
func (in *Instrument) Clears() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.clears
}

// Commands returns every executed line in order.
func (in *Instrument) Commands() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]string, len(in.commands))
	copy(out, in.commands)
	return out
}

// ---- protocol ----

func (in *Instrument) execLocked(line string) (string, bool, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false, fmt.Errorf("empty command: %w", ErrUnknownCommand)
	}
	in.advanceLocked()
	in.commands = append(in.commands, line)

	name := strings.ToUpper(fields[0])
	args := fields[1:]

	switch name {
	case "*IDN?":
		return identity, true, nil
	case "*STB?":
		return strconv.Itoa(in.status), true, nil
	case "*RST":
		in.resetLocked()
		return "", false, nil
	case "REMOTE":
		in.remote = true
		return "", false, nil
	case "LOCAL":
		in.remote = false
		return "", false, nil
	case "QRESET":
		in.status &^= StatusQuench
		return "", false, nil
	case "UNITS?":
		return in.units, true, nil
	case "UNITS":
		return "", false, in.setUnitsLocked(args)
	case "RANGE":
		return "", false, in.setRangeLocked(args, false)
	case "RATE":
		return "", false, in.setRangeLocked(args, true)
	case "RATE?":
		return formatNumber(in.rateForLocked(in.currentA)), true, nil
	case "IMAG?", "IOUT?":
		return in.readingLocked(in.currentA), true, nil
	case "VMAG?":
		return formatNumber(in.magnetVoltageLocked()) + "V", true, nil
	case "VOUT?":
		return formatNumber(in.magnetVoltageLocked()+in.currentA*in.cfg.LeadResistance) + "V", true, nil
	case "ULIM?":
		return in.readingLocked(in.ulimA), true, nil
	case "LLIM?":
		return in.readingLocked(in.llimA), true, nil
	case "ULIM", "LLIM":
		return "", false, in.setLimitLocked(name, args)
	case "SWEEP?":
		return in.sweep, true, nil
	case "SWEEP":
		return "", false, in.setSweepLocked(args)
	default:
		return "", false, fmt.Errorf("%q: %w", line, ErrUnknownCommand)
	}
}

func (in *Instrument) setUnitsLocked(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("UNITS: %w", ErrBadArgument)
	}
	switch strings.ToUpper(args[0]) {
	case "A":
		in.units = "A"
	case "KG":
		in.units = "kG"
	case "T":
		in.units = "T"
	default:
		return fmt.Errorf("UNITS %s: %w", args[0], ErrBadArgument)
	}
	return nil
}

func (in *Instrument) setRangeLocked(args []string, rate bool) error {
	if len(args) != 2 {
		return fmt.Errorf("RANGE/RATE: %w", ErrBadArgument)
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("range index %q: %w", args[0], ErrBadArgument)
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil || v < 0 {
		return fmt.Errorf("range value %q: %w", args[1], ErrBadArgument)
	}
	r := in.ranges[idx]
	if rate {
		r.rateAps = v
	} else {
		r.limitA = v
	}
	in.ranges[idx] = r
	return nil
}

func (in *Instrument) setLimitLocked(name string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s: %w", name, ErrBadArgument)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("%s %q: %w", name, args[0], ErrBadArgument)
	}
	amps := in.toAmpsLocked(v)
	if name == "ULIM" {
		in.ulimA = amps
	} else {
		in.llimA = amps
	}
	return nil
}

func (in *Instrument) setSweepLocked(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("SWEEP: %w", ErrBadArgument)
	}
	mode := strings.ToUpper(args[0])
	switch mode {
	case SweepUp, SweepDown, SweepZero:
		if in.status&StatusQuench != 0 {
			// a quenched supply refuses to sweep until QRESET
			return nil
		}
		in.sweep = mode
	case SweepPause:
		in.sweep = mode
	default:
		return fmt.Errorf("SWEEP %s: %w", args[0], ErrBadArgument)
	}
	return nil
}

// readingLocked formats a current in the active units. Field units report in
// kilogauss, matching the hardware.
func (in *Instrument) readingLocked(amps float64) string {
	if in.units == "A" {
		return formatNumber(amps) + "A"
	}
	return formatNumber(amps*in.cfg.CoilConstant*kiloGaussPerTesla) + "kG"
}

func (in *Instrument) toAmpsLocked(v float64) float64 {
	if in.units == "A" {
		return v
	}
	return v / kiloGaussPerTesla / in.cfg.CoilConstant
}

// rateForLocked finds the sweep rate for the band containing |amps|.
func (in *Instrument) rateForLocked(amps float64) float64 {
	if len(in.ranges) == 0 {
		return defaultRateAps
	}
	idx := make([]int, 0, len(in.ranges))
	for i := range in.ranges {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	a := math.Abs(amps)
	for _, i := range idx {
		r := in.ranges[i]
		limit := r.limitA
		if limit == 0 {
			limit = defaultLimitA
		}
		if a <= limit {
			return r.rateAps
		}
	}
	return in.ranges[idx[len(idx)-1]].rateAps
}

func (in *Instrument) sweepTargetLocked() (float64, bool) {
	switch in.sweep {
	case SweepUp:
		return in.ulimA, true
	case SweepDown:
		return in.llimA, true
	case SweepZero:
		return 0, true
	default:
		return 0, false
	}
}

func (in *Instrument) magnetVoltageLocked() float64 {
	target, ok := in.sweepTargetLocked()
	if !ok || target == in.currentA {
		return 0
	}
	v := in.cfg.Inductance * in.rateForLocked(in.currentA)
	if target < in.currentA {
		return -v
	}
	return v
}

// advanceLocked moves the current toward the sweep target for the time
// elapsed since the previous exchange.
func (in *Instrument) advanceLocked() {
	now := in.clock.Now()
	dt := now.Sub(in.last).Seconds()
	in.last = now
	if dt <= 0 {
		return
	}
	target, ok := in.sweepTargetLocked()
	if !ok {
		return
	}
	step := in.rateForLocked(in.currentA) * dt
	switch {
	case in.currentA < target:
		in.currentA = math.Min(in.currentA+step, target)
	case in.currentA > target:
		in.currentA = math.Max(in.currentA-step, target)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
