package collateral

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"synthchain/native/decmath"
	"synthchain/native/rates"
)

const secondsPerYear = 31_536_000

// Manager aggregates long and short exposure per currency across every
// collateral engine, compounds the per-side interest indices, and enforces
// the global debt ceiling. Its credential-gated mutation methods are the
// sole serialization point between engines trading the same currency.
type Manager struct {
	mu         sync.RWMutex
	state      *State
	rates      rates.Provider
	params     ManagerParams
	currencies map[string]struct{}
	creds      map[uint64]string
	nextCred   uint64
	now        func() time.Time
}

// Credential proves a collateral engine registered with the manager. Only
// holders may mutate aggregate exposure or draw loan ids.
type Credential struct {
	id   uint64
	name string
}

// Name reports which engine the credential was issued to.
func (c *Credential) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// NewManager constructs the aggregator over the shared ledger state.
func NewManager(state *State, provider rates.Provider, params ManagerParams) *Manager {
	return &Manager{
		state: state,
		rates: provider,
		params: ManagerParams{
			MaxDebt:        decmath.Clone(params.MaxDebt),
			BaseBorrowRate: decmath.Clone(params.BaseBorrowRate),
			BaseShortRate:  decmath.Clone(params.BaseShortRate),
			MaxSkewRate:    decmath.Clone(params.MaxSkewRate),
		},
		currencies: make(map[string]struct{}),
		creds:      make(map[uint64]string),
		now:        time.Now,
	}
}

// SetClock overrides the time source used for interest accrual.
func (m *Manager) SetClock(now func() time.Time) {
	if m == nil || now == nil {
		return
	}
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Register issues a mutation credential to a collateral engine.
func (m *Manager) Register(name string) (*Credential, error) {
	if m == nil {
		return nil, ErrNilState
	}
	if name == "" {
		return nil, fmt.Errorf("collateral: engine name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCred++
	cred := &Credential{id: m.nextCred, name: name}
	m.creds[cred.id] = name
	return cred, nil
}

// AddCurrency registers a borrowable/shortable currency with the aggregator.
// Idempotent; engines call it for each of their allowed currencies.
func (m *Manager) AddCurrency(currency string) {
	if m == nil || currency == "" {
		return
	}
	m.mu.Lock()
	m.currencies[currency] = struct{}{}
	m.mu.Unlock()
}

// Currencies lists the registered currencies in sorted order.
func (m *Manager) Currencies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.currencies))
	for symbol := range m.currencies {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// NextLoanID draws the next global loan id. Ids are monotonic across every
// engine so liquidators can reference loans unambiguously.
func (m *Manager) NextLoanID(cred *Credential) (uint64, error) {
	if err := m.requireCred(cred); err != nil {
		return 0, err
	}
	return m.state.NextLoanID()
}

// AccrueInterest lazily compounds both interest indices for a currency up to
// the current time and returns the updated aggregate. Every state-mutating
// loan operation triggers this before touching the loan.
func (m *Manager) AccrueInterest(cred *Credential, currency string) (*CurrencyAggregate, error) {
	if err := m.requireCred(cred); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accrueLocked(currency)
}

func (m *Manager) accrueLocked(currency string) (*CurrencyAggregate, error) {
	agg, err := m.state.Aggregate(currency)
	if err != nil {
		return nil, err
	}
	nowUnix := uint64(m.now().Unix())
	if agg.LastAccrual == 0 || nowUnix <= agg.LastAccrual {
		if agg.LastAccrual == 0 {
			agg.LastAccrual = nowUnix
			if err := m.state.PutAggregate(agg); err != nil {
				return nil, err
			}
		}
		return agg, nil
	}

	delta := nowUnix - agg.LastAccrual
	borrowFactor := rateFactor(m.sideRate(m.params.BaseBorrowRate, agg.TotalLong, agg.TotalShort), delta)
	shortFactor := rateFactor(m.sideRate(m.params.BaseShortRate, agg.TotalShort, agg.TotalLong), delta)
	agg.BorrowIndex = decmath.MulDecimalRound(agg.BorrowIndex, borrowFactor)
	agg.ShortIndex = decmath.MulDecimalRound(agg.ShortIndex, shortFactor)
	agg.LastAccrual = nowUnix

	if err := m.state.PutAggregate(agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// rateFactor converts an annualised rate into a per-period compounding
// factor: Unit + rate*delta/secondsPerYear, half-up on the division.
func rateFactor(rate *big.Int, deltaSeconds uint64) *big.Int {
	if rate == nil || rate.Sign() <= 0 || deltaSeconds == 0 {
		return decmath.Clone(decmath.Unit)
	}
	scaled := new(big.Int).Mul(rate, new(big.Int).SetUint64(deltaSeconds))
	scaled.Add(scaled, big.NewInt(secondsPerYear/2))
	scaled.Quo(scaled, big.NewInt(secondsPerYear))
	return scaled.Add(scaled, decmath.Unit)
}

// sideRate computes base + positiveSkew*maxSkewRate for one side of the
// market. Skew is (same-other)/(same+other) clamped to [-1,1]; the
// under-represented side pays only the base rate, and a market with no open
// exposure has zero skew by definition.
func (m *Manager) sideRate(base, same, other *big.Int) *big.Int {
	rate := decmath.Clone(base)
	total := new(big.Int).Add(valueOrZero(same), valueOrZero(other))
	if total.Sign() == 0 {
		return rate
	}
	imbalance := new(big.Int).Sub(valueOrZero(same), valueOrZero(other))
	if imbalance.Sign() <= 0 {
		return rate
	}
	skew := decmath.DivDecimal(imbalance, total)
	if skew.Cmp(decmath.Unit) > 0 {
		skew.Set(decmath.Unit)
	}
	return rate.Add(rate, decmath.MulDecimal(skew, m.params.MaxSkewRate))
}

// IncrementLongs registers new long exposure, enforcing the debt ceiling and
// rate validity atomically with the update.
func (m *Manager) IncrementLongs(cred *Credential, currency string, amount *big.Int) error {
	return m.adjust(cred, currency, amount, false, true)
}

// DecrementLongs removes long exposure, clamping at zero.
func (m *Manager) DecrementLongs(cred *Credential, currency string, amount *big.Int) error {
	return m.adjust(cred, currency, amount, false, false)
}

// IncrementShorts registers new short exposure, enforcing the debt ceiling
// and rate validity atomically with the update.
func (m *Manager) IncrementShorts(cred *Credential, currency string, amount *big.Int) error {
	return m.adjust(cred, currency, amount, true, true)
}

// DecrementShorts removes short exposure, clamping at zero.
func (m *Manager) DecrementShorts(cred *Credential, currency string, amount *big.Int) error {
	return m.adjust(cred, currency, amount, true, false)
}

func (m *Manager) adjust(cred *Credential, currency string, amount *big.Int, short, increase bool) error {
	if err := m.requireCred(cred); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.currencies[currency]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}
	agg, err := m.state.Aggregate(currency)
	if err != nil {
		return err
	}

	total := agg.TotalLong
	if short {
		total = agg.TotalShort
	}
	if increase {
		if m.rates.RateIsInvalid(currency) {
			return fmt.Errorf("%w: %s", ErrInvalidRate, currency)
		}
		total.Add(total, amount)
		if err := m.checkDebtCeilingLocked(agg); err != nil {
			return err
		}
	} else {
		total.Sub(total, amount)
		if total.Sign() < 0 {
			total.SetInt64(0)
		}
	}
	return m.state.PutAggregate(agg)
}

// checkDebtCeilingLocked values every currency's combined exposure in the
// unit of account; the candidate aggregate substitutes for its stored copy.
func (m *Manager) checkDebtCeilingLocked(candidate *CurrencyAggregate) error {
	if m.params.MaxDebt == nil || m.params.MaxDebt.Sign() == 0 {
		return nil
	}
	debt, err := m.aggregateDebtLocked(candidate)
	if err != nil {
		return err
	}
	if debt.Cmp(m.params.MaxDebt) > 0 {
		return ErrDebtCeilingExceeded
	}
	return nil
}

func (m *Manager) aggregateDebtLocked(override *CurrencyAggregate) (*big.Int, error) {
	debt := big.NewInt(0)
	for currency := range m.currencies {
		agg := override
		if agg == nil || agg.Currency != currency {
			stored, err := m.state.Aggregate(currency)
			if err != nil {
				return nil, err
			}
			agg = stored
		}
		exposure := new(big.Int).Add(agg.TotalLong, agg.TotalShort)
		if exposure.Sign() == 0 {
			continue
		}
		value, err := m.rates.EffectiveValue(currency, exposure, rates.UnitOfAccount)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRate, currency)
		}
		debt.Add(debt, value)
	}
	return debt, nil
}

// AggregateDebt values all outstanding exposure in the unit of account.
func (m *Manager) AggregateDebt() (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregateDebtLocked(nil)
}

// TotalLong reports the aggregate long exposure for a currency.
func (m *Manager) TotalLong(currency string) (*big.Int, error) {
	agg, err := m.snapshot(currency)
	if err != nil {
		return nil, err
	}
	return agg.TotalLong, nil
}

// TotalShort reports the aggregate short exposure for a currency.
func (m *Manager) TotalShort(currency string) (*big.Int, error) {
	agg, err := m.snapshot(currency)
	if err != nil {
		return nil, err
	}
	return agg.TotalShort, nil
}

// Snapshot returns a copy of the stored aggregate without accruing.
func (m *Manager) Snapshot(currency string) (*CurrencyAggregate, error) {
	return m.snapshot(currency)
}

func (m *Manager) snapshot(currency string) (*CurrencyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Aggregate(currency)
}

// BorrowRate reports the current annualised long-side rate for a currency.
func (m *Manager) BorrowRate(currency string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, err := m.state.Aggregate(currency)
	if err != nil {
		return nil, err
	}
	return m.sideRate(m.params.BaseBorrowRate, agg.TotalLong, agg.TotalShort), nil
}

// ShortRate reports the current annualised short-side rate for a currency.
func (m *Manager) ShortRate(currency string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, err := m.state.Aggregate(currency)
	if err != nil {
		return nil, err
	}
	return m.sideRate(m.params.BaseShortRate, agg.TotalShort, agg.TotalLong), nil
}

// MaxDebt returns the configured debt ceiling in the unit of account.
func (m *Manager) MaxDebt() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decmath.Clone(m.params.MaxDebt)
}

// Rebalance overwrites a currency's exposure totals. Admin-only escape hatch
// for governance corrections; pending interest settles before the overwrite.
func (m *Manager) Rebalance(currency string, long, short *big.Int) error {
	if m == nil {
		return ErrNilState
	}
	if long == nil || short == nil || long.Sign() < 0 || short.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.currencies[currency]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}
	// Settle the elapsed period at the rates actually in force before the
	// totals, and with them the skew, change.
	agg, err := m.accrueLocked(currency)
	if err != nil {
		return err
	}
	agg.TotalLong = new(big.Int).Set(long)
	agg.TotalShort = new(big.Int).Set(short)
	return m.state.PutAggregate(agg)
}

func (m *Manager) requireCred(cred *Credential) error {
	if m == nil || m.state == nil {
		return ErrNilState
	}
	if cred == nil {
		return ErrUnknownEngine
	}
	m.mu.RLock()
	name, ok := m.creds[cred.id]
	m.mu.RUnlock()
	if !ok || name != cred.name {
		return ErrUnknownEngine
	}
	return nil
}
