package models

import "time"

// MagnetState is the latest sampled snapshot of the magnet power supply.
type MagnetState struct {
	ID                 int       `json:"id"`
	Units              string    `json:"units"`                      // A | kG | T
	FieldT             float64   `json:"field_t"`                    // Tesla
	TargetT            float64   `json:"target_t,omitempty"`         // Tesla, set while a ramp is supervised
	RateTPerMin        float64   `json:"rate_t_per_min"`             // T/min
	OutputCurrentA     float64   `json:"output_current_a"`           // IOUT?
	MagnetVoltageV     float64   `json:"magnet_voltage_v"`           // VMAG?
	OutputVoltageV     float64   `json:"output_voltage_v"`           // VOUT?
	Ramping            bool      `json:"ramping"`
	QuenchPresent      bool      `json:"quench_present"`
	PowerModuleFailure bool      `json:"power_module_failure"`
	ErrorCodes         []string  `json:"error_codes,omitempty"` // e.g. ["QUENCH", "LINK"]
	UpdatedAt          time.Time `json:"updated_at"`
}
