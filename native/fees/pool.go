// Package fees collects the protocol's realised fee income: loan interest at
// the moment it is repaid, issue and exchange fees, and liquidation
// penalties. Distribution is handled elsewhere; this pool only accumulates
// and reports.
package fees

import (
	"math/big"
	"sort"
	"strings"
	"sync"
)

// Sink receives realised fee income denominated in the currency it was
// collected in.
type Sink interface {
	RecordFee(currency string, amount *big.Int)
}

// Pool is the in-process Sink implementation backing the service.
type Pool struct {
	mu     sync.RWMutex
	totals map[string]*big.Int

	// onRecord, when set, observes every accepted fee. Used to bump
	// prometheus counters without coupling the pool to the registry.
	onRecord func(currency string, amount *big.Int)
}

// NewPool constructs an empty fee pool.
func NewPool() *Pool {
	return &Pool{totals: make(map[string]*big.Int)}
}

// Observe registers a callback invoked for every recorded fee.
func (p *Pool) Observe(fn func(currency string, amount *big.Int)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.onRecord = fn
	p.mu.Unlock()
}

// RecordFee accumulates fee income for a currency. Non-positive amounts are
// ignored.
func (p *Pool) RecordFee(currency string, amount *big.Int) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	symbol := strings.TrimSpace(currency)
	if symbol == "" {
		return
	}
	p.mu.Lock()
	total, ok := p.totals[symbol]
	if !ok {
		total = big.NewInt(0)
		p.totals[symbol] = total
	}
	total.Add(total, amount)
	observer := p.onRecord
	p.mu.Unlock()

	if observer != nil {
		observer(symbol, new(big.Int).Set(amount))
	}
}

// Total reports the accumulated fee income for one currency.
func (p *Pool) Total(currency string) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total, ok := p.totals[strings.TrimSpace(currency)]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(total)
}

// Currencies lists every currency with recorded income, sorted for
// deterministic reporting.
func (p *Pool) Currencies() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	symbols := make([]string, 0, len(p.totals))
	for symbol := range p.totals {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
