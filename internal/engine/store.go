package engine

import (
	"context"
	"time"

	"tradepilot/config"
	"tradepilot/internal/database"
	"tradepilot/internal/venue"
)

// Store persists sessions, positions and execution records. Implemented by
// database.Repository; tests supply an in-memory fake.
type Store interface {
	CreateSession(ctx context.Context, s *database.Session) error
	GetSession(ctx context.Context, id string) (*database.Session, error)
	GetActiveSessionByUser(ctx context.Context, userID string) (*database.Session, error)
	ListActiveSessions(ctx context.Context) ([]*database.Session, error)
	ListSessionsByUser(ctx context.Context, userID string, limit int) ([]*database.Session, error)
	UpdateSessionStatus(ctx context.Context, id, status string, stopReason *string, stoppedAt *time.Time) error
	UpdateSessionAggregates(ctx context.Context, id string, realizedPnL float64, tradesToday, closeFailures int) error

	CreatePosition(ctx context.Context, p *database.Position) error
	ClosePosition(ctx context.Context, p *database.Position) error
	GetOpenPositionsBySession(ctx context.Context, sessionID string) ([]*database.Position, error)
	GetPositionsBySession(ctx context.Context, sessionID string) ([]*database.Position, error)

	InsertExecution(ctx context.Context, e *database.ExecutionRecord) error
	GetExecutionsBySession(ctx context.Context, sessionID string, limit int) ([]*database.ExecutionRecord, error)
}

// VenueResolver hands out per-user venue clients in preference order.
// Implemented by venue.Resolver.
type VenueResolver interface {
	Configs() []config.VenueConfig
	Venue(ctx context.Context, userID, name string) (venue.Venue, error)
}
