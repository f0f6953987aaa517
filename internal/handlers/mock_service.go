package handlers

import (
	"context"
	"net/http"
	"time"

	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/models"
	"controlling_magnet/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockMagnet struct {
	fieldResult magnet.RampResult
	fieldErr    error
	rateSetting magnet.RateSetting
	rateErr     error
	cancelErr   error
	pauseErr    error
	zeroErr     error
	resetErr    error
	unitsErr    error
	ramp        *service.RampInfo

	lastField service.FieldParams
	lastRate  service.RateParams
	lastUnits string
	calls     map[string]int
}

func (m *mockMagnet) called(name string) {
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[name]++
}

func (m *mockMagnet) SetField(ctx context.Context, p service.FieldParams) (magnet.RampResult, error) {
	m.called("SetField")
	m.lastField = p
	return m.fieldResult, m.fieldErr
}
func (m *mockMagnet) CancelRamp(ctx context.Context) error {
	m.called("CancelRamp")
	return m.cancelErr
}
func (m *mockMagnet) ActiveRamp() (service.RampInfo, bool) {
	if m.ramp == nil {
		return service.RampInfo{}, false
	}
	return *m.ramp, true
}
func (m *mockMagnet) SetRate(ctx context.Context, p service.RateParams) (magnet.RateSetting, error) {
	m.called("SetRate")
	m.lastRate = p
	return m.rateSetting, m.rateErr
}
func (m *mockMagnet) Pause(ctx context.Context) error {
	m.called("Pause")
	return m.pauseErr
}
func (m *mockMagnet) Zero(ctx context.Context) error {
	m.called("Zero")
	return m.zeroErr
}
func (m *mockMagnet) QuenchReset(ctx context.Context) error {
	m.called("QuenchReset")
	return m.resetErr
}
func (m *mockMagnet) SetUnits(ctx context.Context, units string) error {
	m.called("SetUnits")
	m.lastUnits = units
	return m.unitsErr
}
func (m *mockMagnet) Close() {}

type mockMonitoring struct {
	state models.MagnetState
	err   error
}

func (m *mockMonitoring) GetState(ctx context.Context) (models.MagnetState, error) {
	return m.state, m.err
}

type mockEventLog struct {
	resp     []models.RampEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.RampEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
