// Package tokens defines the fungible-asset collaborator consumed by the
// protection engine. All transfers are checked; a failed transfer is an error,
// never silently ignored.
package tokens

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

var (
	ErrInvalidAmount         = errors.New("transfer amount must be positive")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is the standard fungible-asset interface the engine calls.
type Ledger interface {
	Transfer(from, to string, amount sdk.Coin) error
	TransferFrom(spender, from, to string, amount sdk.Coin) error
	Approve(owner, spender string, amount sdk.Coin) error
	BalanceOf(addr, denom string) sdkmath.Int
}

// Bank is an in-process Ledger used by sim mode and tests.
type Bank struct {
	mu         sync.RWMutex
	balances   map[string]map[string]sdkmath.Int
	allowances map[string]map[string]map[string]sdkmath.Int // owner -> spender -> denom
}

// NewBank returns an empty in-memory token ledger.
func NewBank() *Bank {
	return &Bank{
		balances:   make(map[string]map[string]sdkmath.Int),
		allowances: make(map[string]map[string]map[string]sdkmath.Int),
	}
}

// Mint credits freshly created units to an address. Test/sim bootstrap only.
func (b *Bank) Mint(addr string, amount sdk.Coin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount.Denom, amount.Amount)
}

// Transfer moves amount from one address to another.
func (b *Bank) Transfer(from, to string, amount sdk.Coin) error {
	if !amount.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

// TransferFrom moves amount on behalf of spender, consuming allowance.
func (b *Bank) TransferFrom(spender, from, to string, amount sdk.Coin) error {
	if !amount.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := b.allowance(from, spender, amount.Denom)
	if allowed.LT(amount.Amount) {
		return fmt.Errorf("%w: %s allowed %s, need %s", ErrInsufficientAllowance,
			spender, allowed.String(), amount.Amount.String())
	}
	if err := b.move(from, to, amount); err != nil {
		return err
	}
	b.allowances[from][spender][amount.Denom] = allowed.Sub(amount.Amount)
	return nil
}

// Approve grants spender the right to move up to amount of owner's funds.
func (b *Bank) Approve(owner, spender string, amount sdk.Coin) error {
	if amount.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allowances[owner] == nil {
		b.allowances[owner] = make(map[string]map[string]sdkmath.Int)
	}
	if b.allowances[owner][spender] == nil {
		b.allowances[owner][spender] = make(map[string]sdkmath.Int)
	}
	b.allowances[owner][spender][amount.Denom] = amount.Amount
	return nil
}

// BalanceOf returns the balance of addr in the given denom.
func (b *Bank) BalanceOf(addr, denom string) sdkmath.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if denoms, ok := b.balances[addr]; ok {
		if bal, ok := denoms[denom]; ok {
			return bal
		}
	}
	return sdkmath.ZeroInt()
}

func (b *Bank) allowance(owner, spender, denom string) sdkmath.Int {
	if spenders, ok := b.allowances[owner]; ok {
		if denoms, ok := spenders[spender]; ok {
			if a, ok := denoms[denom]; ok {
				return a
			}
		}
	}
	return sdkmath.ZeroInt()
}

// move must be called with the write lock held.
func (b *Bank) move(from, to string, amount sdk.Coin) error {
	bal := sdkmath.ZeroInt()
	if denoms, ok := b.balances[from]; ok {
		if v, ok := denoms[amount.Denom]; ok {
			bal = v
		}
	}
	if bal.LT(amount.Amount) {
		return fmt.Errorf("%w: %s has %s%s, need %s", ErrInsufficientFunds,
			from, bal.String(), amount.Denom, amount.Amount.String())
	}
	b.balances[from][amount.Denom] = bal.Sub(amount.Amount)
	b.credit(to, amount.Denom, amount.Amount)
	return nil
}

// credit must be called with the write lock held.
func (b *Bank) credit(addr, denom string, amount sdkmath.Int) {
	if b.balances[addr] == nil {
		b.balances[addr] = make(map[string]sdkmath.Int)
	}
	cur, ok := b.balances[addr][denom]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	b.balances[addr][denom] = cur.Add(amount)
}
