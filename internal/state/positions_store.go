package state

import (
	"fmt"

	"github.com/meridianprotocol/lpe/internal/types"
)

// ReplacePositions overwrites the persisted position book with the current
// one. The book is small, so a full rewrite per update keeps it consistent
// without diffing.
func ReplacePositions(positions []types.Position) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM position_records;`); err != nil {
		return fmt.Errorf("failed to clear position records: %w", err)
	}

	stmt := `
        INSERT INTO position_records (position_id, tick_lower, tick_upper, liquidity_units, active)
        VALUES ($1, $2, $3, $4, $5);`
	for _, pos := range positions {
		if _, err = tx.Exec(stmt, pos.ID, pos.TickLower, pos.TickUpper, pos.Liquidity.String(), pos.Active); err != nil {
			return fmt.Errorf("failed to insert position %d: %w", pos.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadPositions returns the persisted position book.
func LoadPositions() ([]types.Position, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT position_id, tick_lower, tick_upper, liquidity_units, active FROM position_records;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query position records: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var pos types.Position
		var liquidity string
		if err := rows.Scan(&pos.ID, &pos.TickLower, &pos.TickUpper, &liquidity, &pos.Active); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		if pos.Liquidity, err = parseIntField(liquidity, "liquidity_units"); err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating position rows: %w", err)
	}
	return positions, nil
}
