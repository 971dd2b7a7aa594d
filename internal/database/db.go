package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradepilot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logging.WithComponent("database")
	log.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("Running database migrations...")

	migrations := []string{
		// Create sessions table
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'ACTIVE',
			mode VARCHAR(10) NOT NULL DEFAULT 'PAPER',
			max_daily_loss_pct DECIMAL(10, 4) NOT NULL,
			max_position_pct DECIMAL(10, 4) NOT NULL,
			stop_loss_pct DECIMAL(10, 4) NOT NULL,
			take_profit_pct DECIMAL(10, 4) NOT NULL,
			max_positions INT NOT NULL,
			session_duration_secs BIGINT NOT NULL,
			portfolio_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			trades_today INT NOT NULL DEFAULT 0,
			close_failures INT NOT NULL DEFAULT 0,
			stop_reason VARCHAR(50),
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		// One live run per user at a time.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_active
			ON sessions(user_id) WHERE status IN ('ACTIVE', 'STOPPING')`,

		// Create positions table
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			user_id VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			entry_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			venue_name VARCHAR(50) NOT NULL,
			simulated BOOLEAN NOT NULL DEFAULT FALSE,
			fallback_reason VARCHAR(50),
			venue_order_id VARCHAR(100),
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			close_price DECIMAL(20, 8),
			close_reason VARCHAR(50),
			realized_pnl DECIMAL(20, 8),
			close_failed BOOLEAN NOT NULL DEFAULT FALSE,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_session_id ON positions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_id ON positions(user_id)`,

		// Create executions table (append-only)
		`CREATE TABLE IF NOT EXISTS executions (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			user_id VARCHAR(100) NOT NULL,
			position_id UUID NOT NULL,
			action VARCHAR(5) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			venue_name VARCHAR(50) NOT NULL,
			reason VARCHAR(50) NOT NULL,
			simulated BOOLEAN NOT NULL DEFAULT FALSE,
			fallback_reason VARCHAR(50),
			venue_order_id VARCHAR(100),
			pnl DECIMAL(20, 8),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_session_id ON executions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_position_id ON executions(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		// At most one CLOSE record per position.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_position_close
			ON executions(position_id) WHERE action = 'CLOSE'`,

		// Create updated_at trigger function
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_sessions_updated_at ON sessions`,
		`CREATE TRIGGER update_sessions_updated_at BEFORE UPDATE ON sessions
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
