package magnet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"controlling_magnet/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSupply answers queries from per-command reply queues. The last reply
// in a queue repeats.
type fakeSupply struct {
	mu       sync.Mutex
	replies  map[string][]string
	failSend map[string]error
	writes   []string
	queries  []string
}

func newFakeSupply() *fakeSupply {
	return &fakeSupply{
		replies:  map[string][]string{"UNITS?": {"T"}, "*STB?": {"0"}},
		failSend: map[string]error{},
	}
}

func (f *fakeSupply) on(cmd string, replies ...string) *fakeSupply {
	f.replies[cmd] = replies
	return f
}

func (f *fakeSupply) Send(ctx context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, cmd)
	return f.failSend[cmd]
}

func (f *fakeSupply) Query(ctx context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, cmd)
	q, ok := f.replies[cmd]
	if !ok || len(q) == 0 {
		return "", errors.New("no reply scripted for " + cmd)
	}
	reply := q[0]
	if len(q) > 1 {
		f.replies[cmd] = q[1:]
	}
	return reply, nil
}

// reset forgets the commands recorded so far.
func (f *fakeSupply) reset() {
	f.mu.Lock()
	f.writes, f.queries = nil, nil
	f.mu.Unlock()
}

func testTable() RateTable {
	return RateTable{
		{Index: 0, UpperLimitA: 5, MaxRateAps: 0.1},
		{Index: 1, UpperLimitA: 10, MaxRateAps: 0.05},
	}
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func newTestController(t *testing.T, f *fakeSupply, clk clock.Clock) *Controller {
	t.Helper()
	c, err := New(context.Background(), f, Config{CoilConstant: 0.5, Ranges: testTable()}, WithClock(clk))
	require.NoError(t, err)
	f.reset()
	return c
}

func TestNew_ProgramsRangesThenRemoteAndTesla(t *testing.T) {
	f := newFakeSupply()
	c, err := New(context.Background(), f, Config{CoilConstant: 0.5, Ranges: testTable()})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"RANGE 0 5", "RATE 0 0.1",
		"RANGE 1 10", "RATE 1 0.05",
		"REMOTE", "UNITS T",
	}, f.writes)
	assert.Equal(t, 0.5, c.CoilConstant())
	assert.Equal(t, DefaultMaxFieldT, c.MaxFieldT())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"zero coil", Config{CoilConstant: 0, Ranges: testTable()}, ErrInvalidCoil},
		{"empty table", Config{CoilConstant: 0.5}, ErrInvalidRangeTable},
		{"duplicate index", Config{CoilConstant: 0.5, Ranges: RateTable{{0, 5, 0.1}, {0, 10, 0.05}}}, ErrInvalidRangeTable},
		{"descending limits", Config{CoilConstant: 0.5, Ranges: RateTable{{0, 10, 0.1}, {1, 5, 0.05}}}, ErrInvalidRangeTable},
		{"zero rate", Config{CoilConstant: 0.5, Ranges: RateTable{{0, 10, 0}}}, ErrInvalidRangeTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSupply()
			_, err := New(context.Background(), f, tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.writes)
		})
	}
}

func TestNew_StopsAtFirstFailedCommand(t *testing.T) {
	f := newFakeSupply()
	boom := errors.New("link down")
	f.failSend["RATE 0 0.1"] = boom

	_, err := New(context.Background(), f, Config{CoilConstant: 0.5, Ranges: testTable()})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"RANGE 0 5", "RATE 0 0.1"}, f.writes)
}

func TestField_ConvertsByUnits(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		units string
		want  float64
	}{
		{"tesla reads kilogauss", "12.5kG", "T", 1.25},
		{"negative tesla", "-20.0kG", "T", -2},
		{"amps unconverted", "3.2A", "A", 3.2},
		{"kilogauss unconverted", "7.5kG", "kG", 7.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSupply().on("IMAG?", tt.reply).on("UNITS?", tt.units)
			c := newTestController(t, f, testClock())

			got, err := c.Field(context.Background())

			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Equal(t, []string{"IMAG?", "UNITS?"}, f.queries)
		})
	}
}

func TestField_UnparseableReply(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "garbage")
	c := newTestController(t, f, testClock())

	_, err := c.Field(context.Background())

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "IMAG?", pe.Command)
}

func TestStatus_DecodesFailureBits(t *testing.T) {
	tests := []struct {
		stb  string
		want FailureState
	}{
		{"0", FailureState{}},
		{"4", FailureState{QuenchPresent: true}},
		{"8", FailureState{PowerModuleFailure: true}},
		{"12", FailureState{QuenchPresent: true, PowerModuleFailure: true}},
		{"3\r", FailureState{}},
	}
	for _, tt := range tests {
		t.Run(tt.stb, func(t *testing.T) {
			f := newFakeSupply().on("*STB?", tt.stb)
			c := newTestController(t, f, testClock())

			got, err := c.Status(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == FailureState{}, got.CanStartRamping())
		})
	}
}

func TestCheckFailureConditions_QuenchWins(t *testing.T) {
	f := newFakeSupply().on("*STB?", "12")
	c := newTestController(t, f, testClock())

	_, err := c.CheckFailureConditions(context.Background())

	var fault *SafetyFault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "quench")
}

func TestSetField_AlreadyAtTargetSendsNothing(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "10.0kG")
	c := newTestController(t, f, testClock())

	res, err := c.SetField(context.Background(), 1.00005, true)

	require.NoError(t, err)
	assert.Equal(t, RampAlreadyAtTarget, res.Status)
	assert.Empty(t, f.writes)
	assert.NotContains(t, f.queries, "*STB?")
}

func TestSetField_BlockedBySafety(t *testing.T) {
	for _, stb := range []string{"4", "8"} {
		t.Run(stb, func(t *testing.T) {
			f := newFakeSupply().on("IMAG?", "0kG").on("*STB?", stb)
			c := newTestController(t, f, testClock())

			res, err := c.SetField(context.Background(), 1.0, true)

			require.NoError(t, err, "a safety fault is reported in the result")
			assert.Equal(t, RampBlockedBySafety, res.Status)
			assert.NotEmpty(t, res.Reason)
			assert.Empty(t, f.writes)
		})
	}
}

func TestSetField_NonBlockingStartsSweepOnly(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "0kG")
	clk := testClock()
	c := newTestController(t, f, clk)

	res, err := c.SetField(context.Background(), 1.5, false)

	require.NoError(t, err)
	assert.Equal(t, RampStarted, res.Status)
	assert.Equal(t, DirectionUp, res.Target.Direction)
	assert.Equal(t, []string{"ULIM 15", "SWEEP UP"}, f.writes)
	assert.Empty(t, clk.Sleeps())
}

func TestSetField_DownwardUsesLowerLimit(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "20kG")
	c := newTestController(t, f, testClock())

	_, err := c.SetField(context.Background(), 0.5, false)

	require.NoError(t, err)
	assert.Equal(t, []string{"LLIM 5", "SWEEP DOWN"}, f.writes)
}

func TestSetField_BlockingPollsThenPausesOnce(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "0kG", "5kG", "9kG", "9.98kG", "10kG")
	clk := testClock()
	c := newTestController(t, f, clk)

	res, err := c.SetField(context.Background(), 1.0, true)

	require.NoError(t, err)
	assert.Equal(t, RampCompleted, res.Status)
	assert.InDelta(t, 1.0, res.FinalT, convergenceTolerance)
	assert.Equal(t, []string{"ULIM 10", "SWEEP UP", "SWEEP PAUSE"}, f.writes)
	require.NotEmpty(t, clk.Sleeps())
	for _, d := range clk.Sleeps() {
		assert.Equal(t, DefaultPollInterval, d)
	}
}

func TestSetField_CancelPausesSweep(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "0kG", "1kG")
	clk := testClock()
	c := newTestController(t, f, clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	polls := 0
	clk.OnSleep = func(time.Time) {
		polls++
		if polls == 2 {
			cancel()
		}
	}

	res, err := c.SetField(ctx, 1.0, true)

	assert.ErrorIs(t, err, context.Canceled)
	assert.InDelta(t, 0.1, res.FinalT, 1e-12)
	assert.Equal(t, []string{"ULIM 10", "SWEEP UP", "SWEEP PAUSE"}, f.writes)
}

func TestSetField_RejectsSetpointBeyondLimit(t *testing.T) {
	f := newFakeSupply()
	c := newTestController(t, f, testClock())

	_, err := c.SetField(context.Background(), -9.5, false)

	assert.ErrorIs(t, err, ErrFieldLimit)
	assert.Empty(t, f.queries)
}

func TestSetRate_ClampsToBandMaximum(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "20kG")
	c := newTestController(t, f, testClock())

	got, err := c.SetRate(context.Background(), 5.0)

	require.NoError(t, err)
	assert.True(t, got.Clamped)
	assert.Equal(t, 0, got.Range.Index)
	assert.Equal(t, []string{"RATE 0 0.1"}, f.writes)
	assert.InDelta(t, 3.0, got.RateTPerMin, 1e-9)
}

func TestSetRate_WithinBand(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "-20kG")
	c := newTestController(t, f, testClock())

	got, err := c.SetRate(context.Background(), 1.0)

	require.NoError(t, err)
	assert.False(t, got.Clamped)
	assert.Equal(t, []string{"RATE 0 0.03333333333333333"}, f.writes)
}

func TestSetRate_NegativeCurrentUsesSignedLookup(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "-80kG") // -16 A
	c := newTestController(t, f, testClock())

	got, err := c.SetRate(context.Background(), 1.0)

	require.NoError(t, err)
	assert.Equal(t, 0, got.Range.Index)
	assert.Equal(t, []string{"RATE 0 0.03333333333333333"}, f.writes)
}

func TestSetRate_TinyRateIsNotTruncated(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "0kG")
	c := newTestController(t, f, testClock())

	got, err := c.SetRate(context.Background(), 9e-8) // 3e-9 A/s

	require.NoError(t, err)
	assert.Equal(t, []string{"RATE 0 0.000000003"}, f.writes)
	assert.Equal(t, 3e-9, got.RateAps)
}

func TestSetRate_SecondBand(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "35kG") // 7 A
	c := newTestController(t, f, testClock())

	got, err := c.SetRate(context.Background(), 0.6)

	require.NoError(t, err)
	assert.Equal(t, 1, got.Range.Index)
	assert.Equal(t, []string{"RATE 1 0.02"}, f.writes)
}

func TestSetRate_OutOfRange(t *testing.T) {
	f := newFakeSupply().on("IMAG?", "60kG") // 12 A
	c := newTestController(t, f, testClock())

	_, err := c.SetRate(context.Background(), 1.0)

	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.InDelta(t, 12.0, oor.CurrentA, 1e-9)
	assert.Empty(t, f.writes)
}

func TestSetRate_RejectsNonPositive(t *testing.T) {
	f := newFakeSupply()
	c := newTestController(t, f, testClock())

	_, err := c.SetRate(context.Background(), 0)

	assert.ErrorIs(t, err, ErrInvalidRate)
	assert.Empty(t, f.queries)
}

func TestRate_ConvertsToTeslaPerMinute(t *testing.T) {
	f := newFakeSupply().on("RATE?", "0.1")
	c := newTestController(t, f, testClock())

	got, err := c.Rate(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestSetUnits_Validates(t *testing.T) {
	f := newFakeSupply()
	c := newTestController(t, f, testClock())

	require.NoError(t, c.SetUnits(context.Background(), "kg"))
	assert.ErrorIs(t, c.SetUnits(context.Background(), "G"), ErrInvalidUnits)
	assert.Equal(t, []string{"UNITS kG"}, f.writes)
}

func TestZeroCurrent_RefusedDuringQuench(t *testing.T) {
	f := newFakeSupply().on("*STB?", "4")
	c := newTestController(t, f, testClock())

	err := c.ZeroCurrent(context.Background())

	var fault *SafetyFault
	assert.ErrorAs(t, err, &fault)
	assert.Empty(t, f.writes)
}

func TestOutputCurrent_ConvertsFieldUnits(t *testing.T) {
	f := newFakeSupply().on("IOUT?", "15kG")
	c := newTestController(t, f, testClock())

	got, err := c.OutputCurrent(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5kG", 12.5, true},
		{" -3.20 A\r\n", -3.2, true},
		{"+0.5T", 0.5, true},
		{"0.0125V", 0.0125, true},
		{"", 0, false},
		{"kG", 0, false},
	}
	for _, tt := range tests {
		got, err := parseNumeric(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-12, tt.in)
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "10", formatValue(10))
	assert.Equal(t, "0.1", formatValue(0.1))
	assert.Equal(t, "-5.5", formatValue(-5.5))
	assert.Equal(t, "0.03333333333333333", formatValue(1.0/30))
	assert.Equal(t, "0.00000000004", formatValue(4e-11))
	assert.Equal(t, "15", formatValue(1.5*kiloGaussPerTesla))
}

func TestRateTable_Lookup(t *testing.T) {
	table := testTable()

	r, ok := table.Lookup(5)
	assert.True(t, ok)
	assert.Equal(t, 0, r.Index, "band limits are inclusive")

	r, ok = table.Lookup(5.01)
	assert.True(t, ok)
	assert.Equal(t, 1, r.Index)

	_, ok = table.Lookup(10.01)
	assert.False(t, ok)
}

func TestSweeping(t *testing.T) {
	for reply, want := range map[string]bool{
		"UP": true, "sweep down fast": true, "ZERO": true, "PAUSE": false, "Standby": false,
	} {
		f := newFakeSupply().on("SWEEP?", reply)
		c := newTestController(t, f, testClock())

		got, err := c.Sweeping(context.Background())

		require.NoError(t, err)
		assert.Equal(t, want, got, reply)
	}
}

func TestReset_ReprogramsAfterRST(t *testing.T) {
	f := newFakeSupply()
	c := newTestController(t, f, testClock())

	require.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, []string{
		"*RST",
		"RANGE 0 5", "RATE 0 0.1",
		"RANGE 1 10", "RATE 1 0.05",
		"REMOTE", "UNITS T",
	}, f.writes)
}

func TestOperatingModeAndIdentify(t *testing.T) {
	f := newFakeSupply().on("*IDN?", "CRYOMAGNETICS,4G,1234,1.50\n")
	c := newTestController(t, f, testClock())

	require.NoError(t, c.OperatingMode(context.Background(), false))
	assert.Equal(t, []string{"LOCAL"}, f.writes)

	idn, err := c.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CRYOMAGNETICS,4G,1234,1.50", idn)
}
