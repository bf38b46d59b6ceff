package bank

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"synthchain/native/collateral"
)

// ErrInsufficientFunds is returned when a burn or lock exceeds the holder's
// balance.
var ErrInsufficientFunds = errors.New("bank: insufficient funds")

// ErrInvalidAmount is returned for nil or negative transfer amounts.
var ErrInvalidAmount = errors.New("bank: invalid amount")

// Ledger is an in-process token ledger backing the collateral engines. It
// implements both collateral.Issuer and collateral.Vault: synths are minted
// and burned against accounts, collateral moves between accounts and the
// vault pool.
type Ledger struct {
	mu       sync.Mutex
	balances map[collateral.Address]map[string]*big.Int
	vaulted  map[string]*big.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[collateral.Address]map[string]*big.Int),
		vaulted:  make(map[string]*big.Int),
	}
}

// Mint credits an account out of thin air. Used for genesis funding and in
// tests.
func (l *Ledger) Mint(to collateral.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(to, asset, amount)
	return nil
}

// Issue credits a freshly issued synth balance.
func (l *Ledger) Issue(to collateral.Address, currency string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(to, currency, amount)
	return nil
}

// Burn destroys a synth balance held by an account.
func (l *Ledger) Burn(from collateral.Address, currency string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debitLocked(from, currency, amount)
}

// Lock pulls collateral from an account into the vault pool.
func (l *Ledger) Lock(from collateral.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debitLocked(from, asset, amount); err != nil {
		return err
	}
	pool := l.vaulted[asset]
	if pool == nil {
		pool = big.NewInt(0)
		l.vaulted[asset] = pool
	}
	pool.Add(pool, amount)
	return nil
}

// Unlock releases vaulted collateral to a recipient.
func (l *Ledger) Unlock(to collateral.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pool := l.vaulted[asset]
	if pool == nil || pool.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	pool.Sub(pool, amount)
	l.creditLocked(to, asset, amount)
	return nil
}

// Consume retires vaulted collateral from circulation. The engines use it
// when collateral is converted to cover debt.
func (l *Ledger) Consume(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pool := l.vaulted[asset]
	if pool == nil || pool.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	pool.Sub(pool, amount)
	return nil
}

// Balance reports an account's holdings of one asset.
func (l *Ledger) Balance(addr collateral.Address, asset string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.balances[addr][asset]; ok {
		return new(big.Int).Set(held)
	}
	return big.NewInt(0)
}

// Vaulted reports the pooled collateral for one asset.
func (l *Ledger) Vaulted(asset string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pool, ok := l.vaulted[asset]; ok {
		return new(big.Int).Set(pool)
	}
	return big.NewInt(0)
}

// Assets lists every asset that has been vaulted, sorted.
func (l *Ledger) Assets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.vaulted))
	for asset := range l.vaulted {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) creditLocked(addr collateral.Address, asset string, amount *big.Int) {
	account := l.balances[addr]
	if account == nil {
		account = make(map[string]*big.Int)
		l.balances[addr] = account
	}
	held := account[asset]
	if held == nil {
		held = big.NewInt(0)
		account[asset] = held
	}
	held.Add(held, amount)
}

func (l *Ledger) debitLocked(addr collateral.Address, asset string, amount *big.Int) error {
	held, ok := l.balances[addr][asset]
	if !ok || held.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	held.Sub(held, amount)
	return nil
}
