package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianprotocol/lpe/internal/types"
)

// UpsertAccount persists one account ledger record, keyed by address.
func UpsertAccount(acct *types.AccountLiquidity) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO account_ledger (
            address, principal, lifetime_withdrawn, vesting_start,
            daily_withdrawn, daily_window_start,
            weekly_withdrawn, weekly_window_start,
            last_withdrawal_time, whitelisted, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (address) DO UPDATE SET
            principal = EXCLUDED.principal,
            lifetime_withdrawn = EXCLUDED.lifetime_withdrawn,
            vesting_start = EXCLUDED.vesting_start,
            daily_withdrawn = EXCLUDED.daily_withdrawn,
            daily_window_start = EXCLUDED.daily_window_start,
            weekly_withdrawn = EXCLUDED.weekly_withdrawn,
            weekly_window_start = EXCLUDED.weekly_window_start,
            last_withdrawal_time = EXCLUDED.last_withdrawal_time,
            whitelisted = EXCLUDED.whitelisted,
            updated_at = EXCLUDED.updated_at;`

	_, err := DB.Exec(stmt,
		acct.Address, acct.Principal.String(), acct.LifetimeWithdrawn.String(), nullableTime(acct.VestingStart),
		acct.DailyWithdrawn.String(), nullableTime(acct.DailyWindowStart),
		acct.WeeklyWithdrawn.String(), nullableTime(acct.WeeklyWindowStart),
		nullableTime(acct.LastWithdrawalTime), acct.Whitelisted, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", acct.Address, err)
	}
	return nil
}

// LoadAccounts returns every persisted account ledger record.
func LoadAccounts() ([]*types.AccountLiquidity, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT address, principal, lifetime_withdrawn, vesting_start,
               daily_withdrawn, daily_window_start,
               weekly_withdrawn, weekly_window_start,
               last_withdrawal_time, whitelisted
        FROM account_ledger;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query account ledger: %w", err)
	}
	defer rows.Close()

	var accounts []*types.AccountLiquidity
	for rows.Next() {
		acct := &types.AccountLiquidity{}
		var principal, lifetime, daily, weekly string
		var vestingStart, dailyStart, weeklyStart, lastWithdrawal sql.NullTime

		err := rows.Scan(
			&acct.Address, &principal, &lifetime, &vestingStart,
			&daily, &dailyStart,
			&weekly, &weeklyStart,
			&lastWithdrawal, &acct.Whitelisted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}

		if acct.Principal, err = parseIntField(principal, "principal"); err != nil {
			return nil, err
		}
		if acct.LifetimeWithdrawn, err = parseIntField(lifetime, "lifetime_withdrawn"); err != nil {
			return nil, err
		}
		if acct.DailyWithdrawn, err = parseIntField(daily, "daily_withdrawn"); err != nil {
			return nil, err
		}
		if acct.WeeklyWithdrawn, err = parseIntField(weekly, "weekly_withdrawn"); err != nil {
			return nil, err
		}
		acct.VestingStart = vestingStart.Time
		acct.DailyWindowStart = dailyStart.Time
		acct.WeeklyWindowStart = weeklyStart.Time
		acct.LastWithdrawalTime = lastWithdrawal.Time

		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating account rows: %w", err)
	}

	log.Info().Int("count", len(accounts)).Msg("Loaded account ledger")
	return accounts, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
