/*

Fixed-point tick math. price = 1.0001^tick, computed with a binary
exponentiation ladder over LegacyDec so no floating point enters policy
decisions. Negative ticks are the exact reciprocal of the positive case; the
two sides must stay symmetric.

*/

package amm

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// MaxTick bounds the tick coordinate; beyond it the price leaves the
// representable fixed-point range.
const MaxTick = 887272

// powersOfTwo[i] = 1.0001^(2^i), built once by repeated squaring.
var powersOfTwo [20]sdkmath.LegacyDec

func init() {
	powersOfTwo[0] = sdkmath.LegacyMustNewDecFromStr("1.0001")
	for i := 1; i < len(powersOfTwo); i++ {
		powersOfTwo[i] = powersOfTwo[i-1].Mul(powersOfTwo[i-1])
	}
}

// PriceAtTick returns 1.0001^tick as an 18-decimal fixed-point value.
func PriceAtTick(tick int64) (sdkmath.LegacyDec, error) {
	if tick > MaxTick || tick < -MaxTick {
		return sdkmath.LegacyDec{}, fmt.Errorf("tick %d outside [-%d, %d]", tick, MaxTick, MaxTick)
	}

	abs := tick
	if abs < 0 {
		abs = -abs
	}

	price := sdkmath.LegacyOneDec()
	for i := 0; i < len(powersOfTwo); i++ {
		if abs&(1<<uint(i)) != 0 {
			price = price.Mul(powersOfTwo[i])
		}
	}

	if tick < 0 {
		price = sdkmath.LegacyOneDec().Quo(price)
	}
	return price, nil
}

// FloorToSpacing rounds tick down to the nearest multiple of spacing.
// The AMM rejects range bounds that are not spacing-aligned.
func FloorToSpacing(tick, spacing int64) int64 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}
