// Package rates exposes the exchange-rate surface the collateral engine
// consumes. Price discovery itself lives outside this repo; the engine only
// needs value conversion between currencies and a validity signal.
package rates

import (
	"math/big"
)

// UnitOfAccount is the currency every debt value is denominated in.
const UnitOfAccount = "sUSD"

// Provider converts amounts between currencies and reports rate health.
// Implementations must treat a stale or missing rate as invalid; callers
// abort the whole operation on an invalid rate.
type Provider interface {
	// EffectiveValue returns the amount of dst equivalent in value to the
	// supplied amount of src at current rates.
	EffectiveValue(src string, amount *big.Int, dst string) (*big.Int, error)
	// RateIsInvalid reports whether the currency's rate is stale, missing
	// or flagged.
	RateIsInvalid(currency string) bool
}
