package collateral

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"synthchain/native/decmath"
)

// Address identifies an account. The engine never interprets addresses; they
// are opaque 20-byte keys.
type Address [20]byte

// ParseAddress decodes a 0x-prefixed or bare hex address.
func ParseAddress(value string) (Address, error) {
	var addr Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("collateral: parse address %q: %w", value, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("collateral: address %q must be %d bytes", value, len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

// Hex renders the address as 0x-prefixed hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Loan is one open position. A zero Collateral amount marks the loan closed;
// closed loans are removed from the ledger and never transition again.
type Loan struct {
	// ID is unique and monotonically increasing across the whole manager,
	// not per engine.
	ID uint64
	// Borrower owns the position. Immutable after Open.
	Borrower Address
	// Collateral is the locked collateral amount in the engine's
	// collateral currency.
	Collateral *big.Int
	// Principal is the outstanding borrowed amount in Currency units.
	Principal *big.Int
	// Currency is the borrowed (or shorted) synth. Immutable after Open.
	Currency string
	// Short marks the position mode. Immutable after Open.
	Short bool
	// InterestIndex snapshots the currency's cumulative index at the last
	// interaction; accrued interest is derived lazily from the gap to the
	// current index.
	InterestIndex *big.Int
	// AccruedInterest is interest computed but not yet repaid. It is paid
	// before principal.
	AccruedInterest *big.Int
	// LastInteraction is the unix time of the last state-changing
	// operation, used for the interaction-delay check.
	LastInteraction uint64
}

// Outstanding returns principal plus accrued interest.
func (l *Loan) Outstanding() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(valueOrZero(l.Principal), valueOrZero(l.AccruedInterest))
}

// Clone deep-copies the loan so callers cannot mutate ledger state.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		ID:              l.ID,
		Borrower:        l.Borrower,
		Currency:        l.Currency,
		Short:           l.Short,
		LastInteraction: l.LastInteraction,
	}
	clone.Collateral = decmath.Clone(l.Collateral)
	clone.Principal = decmath.Clone(l.Principal)
	clone.InterestIndex = decmath.Clone(l.InterestIndex)
	clone.AccruedInterest = decmath.Clone(l.AccruedInterest)
	return clone
}

func (l *Loan) ensureDefaults() {
	if l.Collateral == nil {
		l.Collateral = big.NewInt(0)
	}
	if l.Principal == nil {
		l.Principal = big.NewInt(0)
	}
	if l.InterestIndex == nil || l.InterestIndex.Sign() == 0 {
		l.InterestIndex = decmath.Clone(decmath.Unit)
	}
	if l.AccruedInterest == nil {
		l.AccruedInterest = big.NewInt(0)
	}
}

// CurrencyAggregate is the manager's per-currency exposure and interest
// state. Totals are in units of the currency, not sUSD.
type CurrencyAggregate struct {
	Currency string
	// TotalLong and TotalShort aggregate outstanding principal across
	// every engine trading this currency.
	TotalLong  *big.Int
	TotalShort *big.Int
	// BorrowIndex and ShortIndex are the cumulative interest indices for
	// the two sides. Both start at Unit and never decrease.
	BorrowIndex *big.Int
	ShortIndex  *big.Int
	// LastAccrual is the unix time both indices were last compounded.
	LastAccrual uint64
}

// Clone deep-copies the aggregate.
func (c *CurrencyAggregate) Clone() *CurrencyAggregate {
	if c == nil {
		return nil
	}
	return &CurrencyAggregate{
		Currency:    c.Currency,
		TotalLong:   decmath.Clone(c.TotalLong),
		TotalShort:  decmath.Clone(c.TotalShort),
		BorrowIndex: decmath.Clone(c.BorrowIndex),
		ShortIndex:  decmath.Clone(c.ShortIndex),
		LastAccrual: c.LastAccrual,
	}
}

func (c *CurrencyAggregate) ensureDefaults() {
	if c.TotalLong == nil {
		c.TotalLong = big.NewInt(0)
	}
	if c.TotalShort == nil {
		c.TotalShort = big.NewInt(0)
	}
	if c.BorrowIndex == nil || c.BorrowIndex.Sign() == 0 {
		c.BorrowIndex = decmath.Clone(decmath.Unit)
	}
	if c.ShortIndex == nil || c.ShortIndex.Sign() == 0 {
		c.ShortIndex = decmath.Clone(decmath.Unit)
	}
}

// ManagerParams groups the governance-controlled settings for the debt
// aggregator. Rates are annualised, in 18-decimal fixed point.
type ManagerParams struct {
	// MaxDebt caps the aggregate debt value across all currencies,
	// denominated in the unit of account.
	MaxDebt *big.Int
	// BaseBorrowRate is the floor rate paid by long positions.
	BaseBorrowRate *big.Int
	// BaseShortRate is the floor rate paid by short positions.
	BaseShortRate *big.Int
	// MaxSkewRate is the additional rate paid at full skew.
	MaxSkewRate *big.Int
}

// EngineParams configures one collateral engine.
type EngineParams struct {
	// Name identifies the engine with the manager and keys its locked
	// collateral total. Conventionally the collateral currency plus mode,
	// e.g. "collateral-eth".
	Name string
	// CollateralCurrency is the asset locked as collateral.
	CollateralCurrency string
	// Currencies is the fixed set of borrowable (or shortable) synths.
	Currencies []string
	// MinCratio is the minimum collateralization ratio enforced after
	// open, draw and withdraw, e.g. 1.2.
	MinCratio *big.Int
	// MinCollateral is the smallest collateral amount accepted at open.
	MinCollateral *big.Int
	// IssueFeeRate is charged on issued amounts at open and draw.
	IssueFeeRate *big.Int
	// LiquidationPenalty is the surcharge awarded to liquidators, e.g. 0.1.
	LiquidationPenalty *big.Int
	// ExchangeFeeRate is charged when repaying shorts out of collateral.
	ExchangeFeeRate *big.Int
	// InteractionDelay is the minimum gap in seconds between a loan's last
	// interaction and a draw or close, blocking same-slot open/close.
	InteractionDelay uint64
	// Short marks the engine as issuing short positions.
	Short bool
}

func (p *EngineParams) ensureDefaults() {
	if p.MinCollateral == nil {
		p.MinCollateral = big.NewInt(0)
	}
	if p.IssueFeeRate == nil {
		p.IssueFeeRate = big.NewInt(0)
	}
	if p.LiquidationPenalty == nil {
		p.LiquidationPenalty = big.NewInt(0)
	}
	if p.ExchangeFeeRate == nil {
		p.ExchangeFeeRate = big.NewInt(0)
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
