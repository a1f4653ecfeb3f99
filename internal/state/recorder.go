package state

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianprotocol/lpe/internal/recorder"
	"github.com/meridianprotocol/lpe/internal/types"
)

// PostgresRecorder persists engine side effects through the global DB pool.
type PostgresRecorder struct{}

var _ recorder.Recorder = PostgresRecorder{}

func (PostgresRecorder) RecordReceipt(receipt types.OperationReceipt) error {
	return InsertReceipt(receipt)
}

func (PostgresRecorder) RecordAccount(acct *types.AccountLiquidity) error {
	return UpsertAccount(acct)
}

func (PostgresRecorder) RecordPositions(positions []types.Position) error {
	return ReplacePositions(positions)
}

func (PostgresRecorder) RecordConfig(cfg types.GuardConfig) error {
	_, err := SaveGuardConfig(cfg, "default", nextConfigVersion(), true)
	return err
}

func (PostgresRecorder) RecordTWAP(twap sdkmath.LegacyDec, computedAt time.Time) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	stmt := `
        INSERT INTO twap_cache (id, twap_price, computed_at)
        VALUES (1, $1, $2)
        ON CONFLICT (id) DO UPDATE SET twap_price = EXCLUDED.twap_price, computed_at = EXCLUDED.computed_at;`
	if _, err := DB.Exec(stmt, twap.String(), computedAt); err != nil {
		return fmt.Errorf("failed to upsert twap cache: %w", err)
	}
	return nil
}

// nextConfigVersion returns one past the highest stored version for the
// default config name. Falls back to 1 on any error; versions are advisory.
func nextConfigVersion() int {
	if DB == nil {
		return 1
	}
	var latest int
	err := DB.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM guard_configs WHERE config_name = 'default';`).Scan(&latest)
	if err != nil {
		return 1
	}
	return latest + 1
}
