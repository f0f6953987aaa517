package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"controlling_magnet/internal/models"
)

type StateSQLite struct {
	db *sql.DB
}

func NewStateSQLite(db *sql.DB) *StateSQLite {
	return &StateSQLite{db: db}
}

const (
	magnetStateRowID = 1

	upsertStateSQL = `
		INSERT INTO magnet_state (id, units, field_t, target_t, rate_t_per_min, output_current_a,
			magnet_voltage_v, output_voltage_v, ramping, quench, power_module_failure, errors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			units=excluded.units,
			field_t=excluded.field_t,
			target_t=excluded.target_t,
			rate_t_per_min=excluded.rate_t_per_min,
			output_current_a=excluded.output_current_a,
			magnet_voltage_v=excluded.magnet_voltage_v,
			output_voltage_v=excluded.output_voltage_v,
			ramping=excluded.ramping,
			quench=excluded.quench,
			power_module_failure=excluded.power_module_failure,
			errors=excluded.errors,
			updated_at=excluded.updated_at
	`

	selectStateSQL = `
		SELECT id, units, field_t, target_t, rate_t_per_min, output_current_a,
			magnet_voltage_v, output_voltage_v, ramping, quench, power_module_failure, errors, updated_at
		FROM magnet_state WHERE id=?
	`
)

// marshalErrorCodes converts the slice to a JSON string.
func marshalErrorCodes(codes []string) (string, error) {
	b, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalErrorCodes parses a JSON string into a slice.
func unmarshalErrorCodes(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal([]byte(s), &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Save upserts the single magnet_state row.
func (r *StateSQLite) Save(ctx context.Context, state models.MagnetState) error {
	errorsJSON, err := marshalErrorCodes(state.ErrorCodes)
	if err != nil {
		return err
	}

	ts := state.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}

	_, err = r.db.ExecContext(ctx, upsertStateSQL,
		magnetStateRowID,
		state.Units,
		state.FieldT,
		state.TargetT,
		state.RateTPerMin,
		state.OutputCurrentA,
		state.MagnetVoltageV,
		state.OutputVoltageV,
		state.Ramping,
		state.QuenchPresent,
		state.PowerModuleFailure,
		errorsJSON,
		ts,
	)
	return err
}

// Load returns the stored snapshot, or the zero value before the first sample.
func (r *StateSQLite) Load(ctx context.Context) (models.MagnetState, error) {
	row := r.db.QueryRowContext(ctx, selectStateSQL, magnetStateRowID)

	var s models.MagnetState
	var errorsJSON string
	if err := row.Scan(
		&s.ID,
		&s.Units,
		&s.FieldT,
		&s.TargetT,
		&s.RateTPerMin,
		&s.OutputCurrentA,
		&s.MagnetVoltageV,
		&s.OutputVoltageV,
		&s.Ramping,
		&s.QuenchPresent,
		&s.PowerModuleFailure,
		&errorsJSON,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MagnetState{}, nil
		}
		return models.MagnetState{}, err
	}

	codes, err := unmarshalErrorCodes(errorsJSON)
	if err != nil {
		return models.MagnetState{}, err
	}
	s.ErrorCodes = codes
	s.UpdatedAt = s.UpdatedAt.UTC()

	return s, nil
}
