package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"controlling_magnet/internal/channel"
	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/models"
	"controlling_magnet/internal/service"

	"github.com/gin-gonic/gin"
)

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newMagnetRouter(m *mockMagnet) *gin.Engine {
	return newTestRouter(&service.Service{
		Authorization: &mockAuth{parseID: 7},
		Monitoring:    &mockMonitoring{state: models.MagnetState{Units: "T", FieldT: 1.5}},
		Magnet:        m,
	})
}

func TestMagnetHandlers_GetStateRequiresAuth(t *testing.T) {
	r := newMagnetRouter(&mockMagnet{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/magnet/state", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/magnet/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("state status=%d, body=%s", w.Code, w.Body.String())
	}
	var st models.MagnetState
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if st.FieldT != 1.5 || st.Units != "T" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestMagnetHandlers_SetField(t *testing.T) {
	m := &mockMagnet{fieldResult: magnet.RampResult{
		Status: magnet.RampStarted,
		StartT: 1.5,
		Target: magnet.RampTarget{FieldT: 2.5, SetpointKG: 25, Direction: magnet.DirectionUp},
	}}
	r := newMagnetRouter(m)

	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/field", `{"target_t":2.5,"block":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("field status=%d, body=%s", w.Code, w.Body.String())
	}
	if m.lastField.TargetT != 2.5 || !m.lastField.Block {
		t.Fatalf("wrong params: %+v", m.lastField)
	}
	var resp struct {
		Status string             `json:"status"`
		Ramp   magnet.RampResult  `json:"ramp"`
		State  models.MagnetState `json:"state"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != string(magnet.RampStarted) || resp.Ramp.Target.Direction != magnet.DirectionUp {
		t.Fatalf("bad response: %+v", resp)
	}
	if resp.State.FieldT != 1.5 {
		t.Fatalf("state missing in response: %+v", resp.State)
	}
}

func TestMagnetHandlers_SetFieldZeroTargetIsValid(t *testing.T) {
	m := &mockMagnet{fieldResult: magnet.RampResult{Status: magnet.RampStarted}}
	r := newMagnetRouter(m)

	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/field", `{"target_t":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if m.lastField.TargetT != 0 || m.lastField.Block {
		t.Fatalf("wrong params: %+v", m.lastField)
	}
}

func TestMagnetHandlers_SetFieldMissingTarget(t *testing.T) {
	m := &mockMagnet{}
	r := newMagnetRouter(m)

	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/field", `{"block":true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if m.calls["SetField"] != 0 {
		t.Fatalf("service must not be called on a bad body")
	}
}

func TestMagnetHandlers_SetFieldBlockedBySafety(t *testing.T) {
	m := &mockMagnet{fieldResult: magnet.RampResult{
		Status: magnet.RampBlockedBySafety,
		Reason: "cannot ramp due to quench condition",
	}}
	r := newMagnetRouter(m)

	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/field", `{"target_t":3}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Ramp   magnet.RampResult `json:"ramp"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != string(magnet.RampBlockedBySafety) || resp.Ramp.Reason == "" {
		t.Fatalf("bad response: %+v", resp)
	}
}

func TestMagnetHandlers_ErrorMapping(t *testing.T) {
	linkErr := &channel.TransportError{Op: channel.OpSend, Command: "RATE 0 0.1", Retried: true, Err: errors.New("timeout")}
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"out of range", &magnet.OutOfRangeError{CurrentA: 120}, http.StatusBadRequest},
		{"invalid rate", magnet.ErrInvalidRate, http.StatusBadRequest},
		{"ramp in progress", service.ErrRampInProgress, http.StatusConflict},
		{"safety fault", &magnet.SafetyFault{Reason: "cannot ramp due to power module failure"}, http.StatusConflict},
		{"link failure", fmt.Errorf("set rate: %w", linkErr), http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newMagnetRouter(&mockMagnet{rateErr: tc.err})
			w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/rate", `{"t_per_min":0.2}`)
			if w.Code != tc.want {
				t.Fatalf("status: got %d, want %d (body=%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestMagnetHandlers_SetRate(t *testing.T) {
	m := &mockMagnet{rateSetting: magnet.RateSetting{RateAps: 0.05, RateTPerMin: 0.3, Clamped: true}}
	r := newMagnetRouter(m)

	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/rate", `{"t_per_min":1.0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rate status=%d body=%s", w.Code, w.Body.String())
	}
	if m.lastRate.TPerMin != 1.0 {
		t.Fatalf("wrong params: %+v", m.lastRate)
	}
	var resp struct {
		Status string             `json:"status"`
		Rate   magnet.RateSetting `json:"rate"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != statusRateSet || !resp.Rate.Clamped {
		t.Fatalf("bad response: %+v", resp)
	}
}

func TestMagnetHandlers_SimpleCommands(t *testing.T) {
	cases := []struct {
		path   string
		call   string
		status string
	}{
		{"/api/v1/magnet/pause", "Pause", statusPaused},
		{"/api/v1/magnet/zero", "Zero", statusZeroing},
		{"/api/v1/magnet/quench-reset", "QuenchReset", statusQuenchReset},
		{"/api/v1/magnet/ramp/cancel", "CancelRamp", statusRampCanceled},
	}
	for _, tc := range cases {
		t.Run(tc.call, func(t *testing.T) {
			m := &mockMagnet{}
			r := newMagnetRouter(m)
			w := doJSON(t, r, http.MethodPost, tc.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if m.calls[tc.call] != 1 {
				t.Fatalf("%s calls=%d", tc.call, m.calls[tc.call])
			}
			var resp struct {
				Status string `json:"status"`
			}
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Status != tc.status {
				t.Fatalf("status field %q, want %q", resp.Status, tc.status)
			}
		})
	}
}

func TestMagnetHandlers_CancelWithoutRampIsConflict(t *testing.T) {
	r := newMagnetRouter(&mockMagnet{cancelErr: service.ErrNoActiveRamp})
	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/ramp/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestMagnetHandlers_ZeroDuringQuench(t *testing.T) {
	r := newMagnetRouter(&mockMagnet{zeroErr: &magnet.SafetyFault{Reason: "cannot ramp due to quench condition"}})
	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/zero", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestMagnetHandlers_GetRamp(t *testing.T) {
	r := newMagnetRouter(&mockMagnet{})
	w := doJSON(t, r, http.MethodGet, "/api/v1/magnet/ramp", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without ramp, got %d", w.Code)
	}

	r = newMagnetRouter(&mockMagnet{ramp: &service.RampInfo{Target: magnet.RampTarget{FieldT: 4}, StartT: 1}})
	w = doJSON(t, r, http.MethodGet, "/api/v1/magnet/ramp", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var info service.RampInfo
	_ = json.Unmarshal(w.Body.Bytes(), &info)
	if info.Target.FieldT != 4 || info.StartT != 1 {
		t.Fatalf("unexpected ramp: %+v", info)
	}
}

func TestMagnetHandlers_SetUnits(t *testing.T) {
	m := &mockMagnet{}
	r := newMagnetRouter(m)
	w := doJSON(t, r, http.MethodPost, "/api/v1/magnet/units", `{"units":"kG"}`)
	if w.Code != http.StatusOK || m.lastUnits != "kG" {
		t.Fatalf("status=%d units=%q", w.Code, m.lastUnits)
	}

	m = &mockMagnet{unitsErr: fmt.Errorf("%q: %w", "G", magnet.ErrInvalidUnits)}
	r = newMagnetRouter(m)
	w = doJSON(t, r, http.MethodPost, "/api/v1/magnet/units", `{"units":"G"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&service.Service{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status=%d", w.Code)
	}
}
