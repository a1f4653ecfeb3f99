package state

import (
	"fmt"

	"github.com/meridianprotocol/lpe/internal/types"
)

// InsertReceipt appends one operation receipt.
func InsertReceipt(receipt types.OperationReceipt) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO operation_receipts (
            op_id, op_kind, account, amount, fee, accepted, reason, op_timestamp
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := DB.Exec(stmt,
		receipt.OpID, string(receipt.Kind), receipt.Account,
		receipt.Amount.String(), receipt.Fee.String(),
		receipt.Accepted, receipt.Reason, receipt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation receipt: %w", err)
	}
	return nil
}

// LoadRecentReceipts returns the newest limit receipts, newest first.
func LoadRecentReceipts(limit int) ([]types.OperationReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
        SELECT receipt_id, op_id, op_kind, account, amount, fee, accepted, reason, op_timestamp
        FROM operation_receipts
        ORDER BY op_timestamp DESC
        LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.OperationReceipt
	for rows.Next() {
		var r types.OperationReceipt
		var kind, amount, fee string
		err := rows.Scan(&r.ReceiptID, &r.OpID, &kind, &r.Account, &amount, &fee, &r.Accepted, &r.Reason, &r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Kind = types.OperationKind(kind)
		if r.Amount, err = parseIntField(amount, "amount"); err != nil {
			return nil, err
		}
		if r.Fee, err = parseIntField(fee, "fee"); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating receipt rows: %w", err)
	}
	return receipts, nil
}
