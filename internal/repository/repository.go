package repository

import (
	"context"
	"database/sql"
	"time"

	"controlling_magnet/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

// StateRepo keeps the latest magnet snapshot.
type StateRepo interface {
	Save(ctx context.Context, s models.MagnetState) error
	Load(ctx context.Context) (models.MagnetState, error)
}

// EventRepo is the append-only ramp and operator event log.
type EventRepo interface {
	Append(ctx context.Context, e models.RampEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.RampEvent, error)
}

type Repository struct {
	StateRepo StateRepo
	EventRepo EventRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		StateRepo: NewStateSQLite(db),
		EventRepo: NewEventSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
