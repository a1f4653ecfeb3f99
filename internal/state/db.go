package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS guard_configs (
			config_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			daily_limit_pct BIGINT NOT NULL,
			weekly_limit_pct BIGINT NOT NULL,
			vesting_unlock_pct_per_week BIGINT NOT NULL,
			base_fee_pct BIGINT NOT NULL,
			large_withdrawal_fee_pct BIGINT NOT NULL,
			max_fee_pct BIGINT NOT NULL,
			removal_cooldown_seconds BIGINT NOT NULL,
			max_principal_per_account NUMERIC(78, 0) NOT NULL,
			reinjection_threshold NUMERIC(78, 0) NOT NULL,
			slippage_tolerance_bps BIGINT NOT NULL,
			tick_range_half_width_spacings BIGINT NOT NULL,
			CONSTRAINT uq_guard_configs_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_guard_configs_config_active_timestamp ON guard_configs(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS account_ledger (
			address VARCHAR(255) PRIMARY KEY,
			principal NUMERIC(78, 0) NOT NULL,
			lifetime_withdrawn NUMERIC(78, 0) NOT NULL,
			vesting_start TIMESTAMPTZ,
			daily_withdrawn NUMERIC(78, 0) NOT NULL,
			daily_window_start TIMESTAMPTZ,
			weekly_withdrawn NUMERIC(78, 0) NOT NULL,
			weekly_window_start TIMESTAMPTZ,
			last_withdrawal_time TIMESTAMPTZ,
			whitelisted BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS operation_receipts (
			receipt_id SERIAL PRIMARY KEY,
			op_id VARCHAR(64) NOT NULL,
			op_kind VARCHAR(32) NOT NULL,
			account VARCHAR(255),
			amount NUMERIC(78, 0) NOT NULL,
			fee NUMERIC(78, 0) NOT NULL,
			accepted BOOLEAN NOT NULL,
			reason VARCHAR(64),
			op_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_operation_receipts_timestamp ON operation_receipts(op_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_operation_receipts_account ON operation_receipts(account);
		CREATE INDEX IF NOT EXISTS idx_operation_receipts_kind ON operation_receipts(op_kind);

		CREATE TABLE IF NOT EXISTS position_records (
			position_id BIGINT PRIMARY KEY,
			tick_lower BIGINT NOT NULL,
			tick_upper BIGINT NOT NULL,
			liquidity_units NUMERIC(78, 0) NOT NULL,
			active BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Single-row cache of the last computed TWAP.
		CREATE TABLE IF NOT EXISTS twap_cache (
			id INTEGER PRIMARY KEY DEFAULT 1,
			twap_price DECIMAL(40, 18) NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
