package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianprotocol/lpe/internal/amm"
	"github.com/meridianprotocol/lpe/internal/guard"
	"github.com/meridianprotocol/lpe/internal/ledger"
	"github.com/meridianprotocol/lpe/internal/oracle"
	"github.com/meridianprotocol/lpe/internal/positions"
	"github.com/meridianprotocol/lpe/internal/tokens"
	"github.com/meridianprotocol/lpe/internal/treasury"
	"github.com/meridianprotocol/lpe/internal/types"
)

func newTestServer(t *testing.T, history func(limit int) ([]types.OperationReceipt, error)) *WebServer {
	t.Helper()

	bank := tokens.NewBank()
	pool := amm.NewSimPool("ubase", "upair", 10, 0, bank, "pool", nil)
	adapter, err := oracle.NewAdapter(pool, types.TWAPConfig{
		WindowsSeconds:  []int64{60},
		MaxDeviationPct: 5,
		CacheTTLSeconds: 600,
	}, nil)
	require.NoError(t, err)

	g, err := guard.New(guard.Config{
		Bank:          bank,
		Oracle:        adapter,
		Accounts:      ledger.New(nil),
		Positions:     positions.NewManager(pool, "engine"),
		Treasury:      treasury.NewFixedRateTreasury(bank, "treasury", "upair", sdkmath.LegacyOneDec()),
		EngineAddress: "engine",
		FeeSink:       "sink",
		BaseDenom:     "ubase",
		PairedDenom:   "upair",
		GuardConfig: types.GuardConfig{
			DailyLimitPct:              5,
			WeeklyLimitPct:             20,
			VestingUnlockPctPerWeek:    10,
			BaseFeePct:                 2,
			LargeWithdrawalFeePct:      5,
			MaxFeePct:                  50,
			MaxPrincipalPerAccount:     sdkmath.ZeroInt(),
			ReinjectionThreshold:       sdkmath.ZeroInt(),
			SlippageToleranceBps:       100,
			TickRangeHalfWidthSpacings: 8,
		},
	})
	require.NoError(t, err)

	return NewWebServer("0", g, nil, history)
}

type receiptsBody struct {
	Receipts []types.OperationReceipt `json:"receipts"`
	Count    int                      `json:"count"`
}

func getReceipts(t *testing.T, ws *WebServer) receiptsBody {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/receipts", nil)
	rr := httptest.NewRecorder()
	ws.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body receiptsBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestReceiptsServedFromHistory(t *testing.T) {
	canned := []types.OperationReceipt{{
		ReceiptID: 1,
		OpID:      "op-1",
		Kind:      types.OpWithdraw,
		Account:   "alice",
		Amount:    sdkmath.NewInt(100),
		Fee:       sdkmath.NewInt(2),
		Accepted:  true,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	ws := newTestServer(t, func(limit int) ([]types.OperationReceipt, error) {
		return canned, nil
	})

	body := getReceipts(t, ws)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "op-1", body.Receipts[0].OpID)
	assert.Equal(t, types.OpWithdraw, body.Receipts[0].Kind)
}

func TestReceiptsFallBackToMemoryOnHistoryError(t *testing.T) {
	ws := newTestServer(t, func(limit int) ([]types.OperationReceipt, error) {
		return nil, errors.New("connection refused")
	})

	body := getReceipts(t, ws)
	assert.Equal(t, 0, body.Count)
}

func TestReceiptsWithoutHistorySource(t *testing.T) {
	ws := newTestServer(t, nil)

	body := getReceipts(t, ws)
	assert.Equal(t, 0, body.Count)
}
