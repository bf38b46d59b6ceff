package rates

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"synthchain/native/decmath"
)

var (
	// ErrUnknownCurrency is returned when no price has ever been posted
	// for the requested currency.
	ErrUnknownCurrency = errors.New("rates: unknown currency")
	// ErrStaleRate is returned when a conversion is attempted against a
	// price outside the staleness window.
	ErrStaleRate = errors.New("rates: stale rate")
)

// Oracle is an in-process price table with per-currency timestamps and a
// staleness window. Prices are sUSD-per-unit in 18-decimal fixed point. The
// unit of account is always valid at 1.0.
type Oracle struct {
	mu      sync.RWMutex
	maxAge  time.Duration
	prices  map[string]*big.Int
	updated map[string]time.Time
	flagged map[string]bool
	now     func() time.Time
}

// NewOracle constructs an oracle that treats prices older than maxAge as
// invalid. A zero maxAge disables staleness checks.
func NewOracle(maxAge time.Duration) *Oracle {
	return &Oracle{
		maxAge:  maxAge,
		prices:  make(map[string]*big.Int),
		updated: make(map[string]time.Time),
		flagged: make(map[string]bool),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests advance it to trigger staleness.
func (o *Oracle) SetClock(now func() time.Time) {
	if o == nil || now == nil {
		return
	}
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// SetPrice posts the sUSD price for a currency at the current time.
func (o *Oracle) SetPrice(currency string, price *big.Int) {
	if o == nil || price == nil || price.Sign() <= 0 {
		return
	}
	symbol := normalise(currency)
	o.mu.Lock()
	o.prices[symbol] = new(big.Int).Set(price)
	o.updated[symbol] = o.now()
	delete(o.flagged, symbol)
	o.mu.Unlock()
}

// SetPriceDecimal posts a price from a decimal literal such as "1.25".
func (o *Oracle) SetPriceDecimal(currency, price string) error {
	parsed, err := decmath.Parse(price)
	if err != nil {
		return fmt.Errorf("rates: parse price for %s: %w", currency, err)
	}
	o.SetPrice(currency, parsed)
	return nil
}

// Flag marks a currency's rate as invalid until the next price update.
func (o *Oracle) Flag(currency string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.flagged[normalise(currency)] = true
	o.mu.Unlock()
}

// Price returns the current sUSD price for a currency.
func (o *Oracle) Price(currency string) (*big.Int, error) {
	symbol := normalise(currency)
	if symbol == UnitOfAccount {
		return decmath.Clone(decmath.Unit), nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if o.stale(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrStaleRate, currency)
	}
	return new(big.Int).Set(price), nil
}

// EffectiveValue converts an amount of src into dst at current prices.
func (o *Oracle) EffectiveValue(src string, amount *big.Int, dst string) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	srcPrice, err := o.Price(src)
	if err != nil {
		return nil, err
	}
	dstPrice, err := o.Price(dst)
	if err != nil {
		return nil, err
	}
	value := decmath.MulDecimal(amount, srcPrice)
	return decmath.DivDecimal(value, dstPrice), nil
}

// RateIsInvalid implements Provider. Unknown, stale and flagged currencies
// all report invalid.
func (o *Oracle) RateIsInvalid(currency string) bool {
	symbol := normalise(currency)
	if symbol == UnitOfAccount {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.flagged[symbol] {
		return true
	}
	if _, ok := o.prices[symbol]; !ok {
		return true
	}
	return o.stale(symbol)
}

func (o *Oracle) stale(symbol string) bool {
	if o.maxAge <= 0 {
		return false
	}
	updated, ok := o.updated[symbol]
	if !ok {
		return true
	}
	return o.now().Sub(updated) > o.maxAge
}

func normalise(symbol string) string {
	return strings.TrimSpace(symbol)
}
