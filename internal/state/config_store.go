package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/meridianprotocol/lpe/internal/types"
)

// SaveGuardConfig saves a new version of the protective parameters.
func SaveGuardConfig(cfg types.GuardConfig, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE guard_configs SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active config for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO guard_configs (
            version, config_name, is_active, activated_at, created_at,
            daily_limit_pct, weekly_limit_pct, vesting_unlock_pct_per_week,
            base_fee_pct, large_withdrawal_fee_pct, max_fee_pct,
            removal_cooldown_seconds, max_principal_per_account, reinjection_threshold,
            slippage_tolerance_bps, tick_range_half_width_spacings
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8,
            $9, $10, $11,
            $12, $13, $14,
            $15, $16
        ) RETURNING config_id;`

	var configID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		cfg.DailyLimitPct, cfg.WeeklyLimitPct, cfg.VestingUnlockPctPerWeek,
		cfg.BaseFeePct, cfg.LargeWithdrawalFeePct, cfg.MaxFeePct,
		cfg.RemovalCooldownSeconds, cfg.MaxPrincipalPerAccount.String(), cfg.ReinjectionThreshold.String(),
		cfg.SlippageToleranceBps, cfg.TickRangeHalfWidthSpacings,
	).Scan(&configID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert guard config: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("config_id", configID).
		Bool("active", makeActive).
		Msg("Saved guard config")
	return configID, nil
}

// LoadActiveGuardConfig loads the currently active protective parameters.
func LoadActiveGuardConfig(configName string) (*types.GuardConfig, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            daily_limit_pct, weekly_limit_pct, vesting_unlock_pct_per_week,
            base_fee_pct, large_withdrawal_fee_pct, max_fee_pct,
            removal_cooldown_seconds, max_principal_per_account, reinjection_threshold,
            slippage_tolerance_bps, tick_range_half_width_spacings
        FROM guard_configs
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	cfg := &types.GuardConfig{}
	var maxPrincipal, reinjection string
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&cfg.DailyLimitPct, &cfg.WeeklyLimitPct, &cfg.VestingUnlockPctPerWeek,
		&cfg.BaseFeePct, &cfg.LargeWithdrawalFeePct, &cfg.MaxFeePct,
		&cfg.RemovalCooldownSeconds, &maxPrincipal, &reinjection,
		&cfg.SlippageToleranceBps, &cfg.TickRangeHalfWidthSpacings,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active guard config found for '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active guard config for '%s': %w", configName, err)
	}

	cfg.MaxPrincipalPerAccount, err = parseIntField(maxPrincipal, "max_principal_per_account")
	if err != nil {
		return nil, err
	}
	cfg.ReinjectionThreshold, err = parseIntField(reinjection, "reinjection_threshold")
	if err != nil {
		return nil, err
	}

	log.Info().Str("config", configName).Msg("Loaded active guard config")
	return cfg, nil
}

// parseIntField converts a NUMERIC column value into an sdkmath.Int.
func parseIntField(raw, column string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid %s value %q in database", column, raw)
	}
	return v, nil
}
