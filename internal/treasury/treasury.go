// Package treasury defines the collaborator that supplies the paired leg of
// capital during liquidity injection and reward reinvestment.
package treasury

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/meridianprotocol/lpe/internal/tokens"
)

var ErrTreasuryDepleted = errors.New("treasury cannot cover requested amount")

// Treasury converts base-asset amounts into the paired asset and delivers it
// to the engine account.
type Treasury interface {
	// WithdrawPairedAssetEquivalent delivers the paired-asset equivalent
	// of amount (denominated in the base asset) to the recipient.
	WithdrawPairedAssetEquivalent(amount sdk.Coin, recipient string) (sdk.Coin, error)
}

// FixedRateTreasury is the in-process implementation: it converts at a fixed
// rate and pays out of its own ledger account.
type FixedRateTreasury struct {
	bank        tokens.Ledger
	address     string
	pairedDenom string
	// rate is paired units per base unit.
	rate sdkmath.LegacyDec
}

// NewFixedRateTreasury wires a treasury account paying pairedDenom at rate.
func NewFixedRateTreasury(bank tokens.Ledger, address, pairedDenom string, rate sdkmath.LegacyDec) *FixedRateTreasury {
	return &FixedRateTreasury{bank: bank, address: address, pairedDenom: pairedDenom, rate: rate}
}

// Address returns the treasury's ledger account, used as the refund target
// when a deployment fails after the paired leg was delivered.
func (t *FixedRateTreasury) Address() string { return t.address }

func (t *FixedRateTreasury) WithdrawPairedAssetEquivalent(amount sdk.Coin, recipient string) (sdk.Coin, error) {
	paired := t.rate.MulInt(amount.Amount).TruncateInt()
	if paired.IsZero() {
		return sdk.NewCoin(t.pairedDenom, sdkmath.ZeroInt()), nil
	}
	if t.bank.BalanceOf(t.address, t.pairedDenom).LT(paired) {
		return sdk.Coin{}, fmt.Errorf("%w: need %s%s", ErrTreasuryDepleted, paired.String(), t.pairedDenom)
	}
	coin := sdk.NewCoin(t.pairedDenom, paired)
	if err := t.bank.Transfer(t.address, recipient, coin); err != nil {
		return sdk.Coin{}, err
	}
	return coin, nil
}
