package collateral

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"synthchain/native/common"
	"synthchain/native/decmath"
	"synthchain/native/fees"
	"synthchain/native/rates"
)

// Issuer mints and burns synth balances held outside the engine.
type Issuer interface {
	Issue(to Address, currency string, amount *big.Int) error
	Burn(from Address, currency string, amount *big.Int) error
}

// Vault custodies collateral on behalf of the engine. Lock pulls collateral
// in from a depositor, Unlock releases it to a recipient, and Consume
// retires locked collateral that was converted to cover debt.
type Vault interface {
	Lock(from Address, asset string, amount *big.Int) error
	Unlock(to Address, asset string, amount *big.Int) error
	Consume(asset string, amount *big.Int) error
}

// Collateral is a loan engine over one collateral asset. All nine loan
// operations follow the same shape: guard, rate check, interest accrual,
// validation, state mutation, and only then external transfers out.
type Collateral struct {
	mu      sync.Mutex
	params  EngineParams
	allowed map[string]struct{}

	state   *State
	manager *Manager
	cred    *Credential
	rates   rates.Provider
	fees    fees.Sink
	issuer  Issuer
	vault   Vault
	pauses  common.SuspensionView

	now func() time.Time
}

// NewCollateral wires a loan engine to the shared ledger and registers it
// with the manager. Each allowed currency is announced to the manager so the
// debt ceiling covers it.
func NewCollateral(params EngineParams, state *State, manager *Manager, provider rates.Provider, sink fees.Sink, issuer Issuer, vault Vault, pauses common.SuspensionView) (*Collateral, error) {
	if state == nil || manager == nil {
		return nil, ErrNilState
	}
	if params.Name == "" || params.CollateralCurrency == "" {
		return nil, fmt.Errorf("collateral: engine name and collateral currency required")
	}
	if len(params.Currencies) == 0 {
		return nil, fmt.Errorf("collateral: engine %s has no loan currencies", params.Name)
	}
	if params.MinCratio == nil || params.MinCratio.Cmp(decmath.Unit) <= 0 {
		return nil, fmt.Errorf("collateral: engine %s minimum ratio must exceed one", params.Name)
	}
	cred, err := manager.Register(params.Name)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(params.Currencies))
	for _, currency := range params.Currencies {
		allowed[currency] = struct{}{}
		manager.AddCurrency(currency)
	}
	c := &Collateral{
		params:  params,
		allowed: allowed,
		state:   state,
		manager: manager,
		cred:    cred,
		rates:   provider,
		fees:    sink,
		issuer:  issuer,
		vault:   vault,
		pauses:  pauses,
		now:     time.Now,
	}
	c.params.ensureDefaults()
	return c, nil
}

// SetClock overrides the engine's time source. Tests use it to exercise
// interest accrual and the interaction delay deterministically.
func (c *Collateral) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Name reports the engine's registered name.
func (c *Collateral) Name() string { return c.params.Name }

// CollateralCurrency reports the asset this engine custodies.
func (c *Collateral) CollateralCurrency() string { return c.params.CollateralCurrency }

// Currencies lists the currencies loans may be denominated in.
func (c *Collateral) Currencies() []string {
	out := make([]string, len(c.params.Currencies))
	copy(out, c.params.Currencies)
	return out
}

// MinCratio reports the minimum collateralization ratio.
func (c *Collateral) MinCratio() *big.Int { return decmath.Clone(c.params.MinCratio) }

// IsShort reports whether this engine issues short positions.
func (c *Collateral) IsShort() bool { return c.params.Short }

// Open creates a loan: collateral is pulled from the borrower; the principal
// is issued minus the issue fee. For a shorting engine the borrower receives
// the principal's current value in the unit of account instead of the
// currency itself. Returns the new loan id.
func (c *Collateral) Open(borrower Address, collateralAmount, principal *big.Int, currency string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionIssuance, common.SectionCollateral); err != nil {
		return 0, err
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 || principal == nil || principal.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if _, ok := c.allowed[currency]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}
	if err := c.checkRates(currency); err != nil {
		return 0, err
	}
	if c.params.MinCollateral != nil && collateralAmount.Cmp(c.params.MinCollateral) < 0 {
		return 0, ErrInsufficientCollateral
	}

	agg, err := c.manager.AccrueInterest(c.cred, currency)
	if err != nil {
		return 0, err
	}
	if err := c.checkRatio(collateralAmount, principal, currency); err != nil {
		return 0, err
	}

	// Pull collateral in before any ledger mutation so a failed transfer
	// leaves nothing to unwind.
	if err := c.vault.Lock(borrower, c.params.CollateralCurrency, collateralAmount); err != nil {
		return 0, err
	}
	if err := c.incrementExposure(currency, principal); err != nil {
		_ = c.vault.Unlock(borrower, c.params.CollateralCurrency, collateralAmount)
		return 0, err
	}

	id, err := c.manager.NextLoanID(c.cred)
	if err != nil {
		c.unwindOpen(borrower, currency, principal, collateralAmount, 0, false, false)
		return 0, err
	}
	loan := &Loan{
		ID:              id,
		Borrower:        borrower,
		Collateral:      new(big.Int).Set(collateralAmount),
		Principal:       new(big.Int).Set(principal),
		Currency:        currency,
		Short:           c.params.Short,
		InterestIndex:   decmath.Clone(c.loanIndex(agg)),
		AccruedInterest: big.NewInt(0),
		LastInteraction: uint64(c.now().Unix()),
	}
	if err := c.state.PutLoan(loan); err != nil {
		c.unwindOpen(borrower, currency, principal, collateralAmount, id, false, false)
		return 0, err
	}
	if err := c.adjustLocked(collateralAmount, true); err != nil {
		c.unwindOpen(borrower, currency, principal, collateralAmount, id, true, false)
		return 0, err
	}

	if err := c.issueProceeds(borrower, currency, principal); err != nil {
		c.unwindOpen(borrower, currency, principal, collateralAmount, id, true, true)
		return 0, err
	}
	return id, nil
}

// unwindOpen reverses a partially applied Open in reverse order of
// application so a failure after the exposure increment leaves no trace:
// custody total, loan record, exposure and vaulted collateral are all
// restored.
func (c *Collateral) unwindOpen(borrower Address, currency string, principal, collateralAmount *big.Int, id uint64, loanStored, lockedAdjusted bool) {
	if lockedAdjusted {
		_ = c.adjustLocked(collateralAmount, false)
	}
	if loanStored {
		_ = c.state.DeleteLoan(id, borrower)
	}
	_ = c.decrementExposure(currency, principal)
	_ = c.vault.Unlock(borrower, c.params.CollateralCurrency, collateralAmount)
}

// Deposit adds collateral to an open loan. Anyone may deposit on a
// borrower's behalf; the depositor funds the transfer.
func (c *Collateral) Deposit(from Address, id uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	if err := c.vault.Lock(from, c.params.CollateralCurrency, amount); err != nil {
		return err
	}
	loan.Collateral.Add(loan.Collateral, amount)
	loan.LastInteraction = uint64(c.now().Unix())
	if err := c.state.PutLoan(loan); err != nil {
		return err
	}
	return c.adjustLocked(amount, true)
}

// Withdraw releases collateral to the borrower, provided the loan stays at
// or above the minimum ratio afterwards.
func (c *Collateral) Withdraw(borrower Address, id uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.Borrower != borrower {
		return ErrNotBorrower
	}
	if err := c.checkRates(loan.Currency); err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	if amount.Cmp(loan.Collateral) > 0 {
		return ErrInsufficientCollateral
	}
	remaining := new(big.Int).Sub(loan.Collateral, amount)
	if err := c.checkRatio(remaining, loan.Outstanding(), loan.Currency); err != nil {
		return err
	}

	loan.Collateral = remaining
	loan.LastInteraction = uint64(c.now().Unix())
	if err := c.state.PutLoan(loan); err != nil {
		return err
	}
	if err := c.adjustLocked(amount, false); err != nil {
		return err
	}
	return c.vault.Unlock(borrower, c.params.CollateralCurrency, amount)
}

// Draw issues additional principal against existing collateral. Subject to
// the interaction delay, the minimum ratio, and the debt ceiling.
func (c *Collateral) Draw(borrower Address, id uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionIssuance, common.SectionCollateral); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.Borrower != borrower {
		return ErrNotBorrower
	}
	if err := c.checkDelay(loan); err != nil {
		return err
	}
	if err := c.checkRates(loan.Currency); err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	newPrincipal := new(big.Int).Add(loan.Principal, amount)
	outstanding := new(big.Int).Add(newPrincipal, loan.AccruedInterest)
	if err := c.checkRatio(loan.Collateral, outstanding, loan.Currency); err != nil {
		return err
	}
	if err := c.incrementExposure(loan.Currency, amount); err != nil {
		return err
	}

	loan.Principal = newPrincipal
	loan.LastInteraction = uint64(c.now().Unix())
	if err := c.state.PutLoan(loan); err != nil {
		return err
	}
	return c.issueProceeds(borrower, loan.Currency, amount)
}

// Repay burns currency from the repayer and reduces the loan, interest
// before principal. A payment covering the full outstanding balance closes
// the loan and returns the collateral to the borrower.
func (c *Collateral) Repay(repayer Address, id uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	outstanding := loan.Outstanding()
	payment := new(big.Int).Set(amount)
	if payment.Cmp(outstanding) > 0 {
		payment.Set(outstanding)
	}
	if err := c.issuer.Burn(repayer, loan.Currency, payment); err != nil {
		return err
	}
	return c.applyPayment(loan, payment)
}

// RepayWithCollateral converts a shorting loan's collateral into repayment:
// the repaid amount's value plus the exchange fee is deducted from
// collateral. Only the borrower may invoke it.
func (c *Collateral) RepayWithCollateral(borrower Address, id uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral); err != nil {
		return err
	}
	if !c.params.Short {
		return ErrShortOnly
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.Borrower != borrower {
		return ErrNotBorrower
	}
	if err := c.checkRates(loan.Currency); err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	if amount.Cmp(loan.Outstanding()) > 0 {
		return ErrPaymentTooHigh
	}
	if err := c.deductFromCollateral(loan, amount); err != nil {
		return err
	}
	return c.applyPayment(loan, amount)
}

// Close repays the full outstanding balance from the borrower's wallet and
// returns all collateral. Subject to the interaction delay.
func (c *Collateral) Close(borrower Address, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral); err != nil {
		return err
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.Borrower != borrower {
		return ErrNotBorrower
	}
	if err := c.checkDelay(loan); err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	outstanding := loan.Outstanding()
	if outstanding.Sign() > 0 {
		if err := c.issuer.Burn(borrower, loan.Currency, outstanding); err != nil {
			return err
		}
	}
	return c.applyPayment(loan, outstanding)
}

// CloseWithCollateral settles a shorting loan entirely out of its
// collateral and returns whatever remains to the borrower.
func (c *Collateral) CloseWithCollateral(borrower Address, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral); err != nil {
		return err
	}
	if !c.params.Short {
		return ErrShortOnly
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.Borrower != borrower {
		return ErrNotBorrower
	}
	if err := c.checkDelay(loan); err != nil {
		return err
	}
	if err := c.checkRates(loan.Currency); err != nil {
		return err
	}
	if _, err := c.accrue(loan); err != nil {
		return err
	}
	outstanding := loan.Outstanding()
	if outstanding.Sign() > 0 {
		if err := c.deductFromCollateral(loan, outstanding); err != nil {
			return err
		}
	}
	return c.applyPayment(loan, outstanding)
}

// Liquidate repays part of an undercollateralized loan on the borrower's
// behalf and seizes collateral worth the repayment plus the penalty. The
// liquidated amount is capped so the loan is restored to exactly the
// minimum ratio; a fully liquidated loan returns leftover collateral to the
// borrower. Returns the amount repaid and the collateral seized.
func (c *Collateral) Liquidate(liquidator Address, id uint64, amount *big.Int) (*big.Int, *big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := common.Guard(c.pauses, common.SectionSystem, common.SectionCollateral, common.SectionLiquidation); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkRates(loan.Currency); err != nil {
		return nil, nil, err
	}
	if _, err := c.accrue(loan); err != nil {
		return nil, nil, err
	}

	collateralValue, err := c.rates.EffectiveValue(c.params.CollateralCurrency, loan.Collateral, rates.UnitOfAccount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidRate, c.params.CollateralCurrency)
	}
	outstanding := loan.Outstanding()
	debtValue, err := c.rates.EffectiveValue(loan.Currency, outstanding, rates.UnitOfAccount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidRate, loan.Currency)
	}
	if debtValue.Sign() == 0 {
		return nil, nil, ErrNotUndercollateralized
	}
	ratio := decmath.DivDecimal(collateralValue, debtValue)
	if ratio.Cmp(c.params.MinCratio) >= 0 {
		return nil, nil, ErrNotUndercollateralized
	}

	liquidated := c.liquidationAmount(collateralValue, debtValue, outstanding, loan.Currency)
	if liquidated.Cmp(amount) > 0 {
		liquidated.Set(amount)
	}
	if liquidated.Sign() == 0 {
		return nil, nil, ErrInvalidAmount
	}
	if err := c.issuer.Burn(liquidator, loan.Currency, liquidated); err != nil {
		return nil, nil, err
	}

	liquidatedValue, err := c.rates.EffectiveValue(loan.Currency, liquidated, rates.UnitOfAccount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidRate, loan.Currency)
	}
	bonus := new(big.Int).Add(decmath.Unit, valueOrZero(c.params.LiquidationPenalty))
	seizedValue := decmath.MulDecimal(liquidatedValue, bonus)
	seized, err := c.rates.EffectiveValue(rates.UnitOfAccount, seizedValue, c.params.CollateralCurrency)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidRate, c.params.CollateralCurrency)
	}
	if seized.Cmp(loan.Collateral) > 0 {
		seized.Set(loan.Collateral)
	}
	penaltyValue := decmath.MulDecimal(liquidatedValue, valueOrZero(c.params.LiquidationPenalty))
	if penaltyValue.Sign() > 0 && c.fees != nil {
		c.fees.RecordFee(rates.UnitOfAccount, penaltyValue)
	}

	interestPaid, principalPaid := splitPayment(loan, liquidated)
	if interestPaid.Sign() > 0 && c.fees != nil {
		c.fees.RecordFee(loan.Currency, interestPaid)
	}
	if err := c.decrementExposure(loan.Currency, principalPaid); err != nil {
		return nil, nil, err
	}
	loan.AccruedInterest.Sub(loan.AccruedInterest, interestPaid)
	loan.Principal.Sub(loan.Principal, principalPaid)
	loan.Collateral.Sub(loan.Collateral, seized)
	loan.LastInteraction = uint64(c.now().Unix())

	// Collateral exhausted with debt left over is bad debt: the remainder
	// is written off so no zero-collateral loan survives.
	if loan.Collateral.Sign() == 0 && loan.Outstanding().Sign() > 0 {
		if err := c.decrementExposure(loan.Currency, loan.Principal); err != nil {
			return nil, nil, err
		}
		loan.Principal.SetInt64(0)
		loan.AccruedInterest.SetInt64(0)
	}

	if loan.Outstanding().Sign() == 0 {
		remainder := new(big.Int).Set(loan.Collateral)
		released := new(big.Int).Add(seized, remainder)
		if err := c.state.DeleteLoan(loan.ID, loan.Borrower); err != nil {
			return nil, nil, err
		}
		if err := c.adjustLocked(released, false); err != nil {
			return nil, nil, err
		}
		if err := c.vault.Unlock(liquidator, c.params.CollateralCurrency, seized); err != nil {
			return nil, nil, err
		}
		if remainder.Sign() > 0 {
			if err := c.vault.Unlock(loan.Borrower, c.params.CollateralCurrency, remainder); err != nil {
				return nil, nil, err
			}
		}
		return liquidated, seized, nil
	}

	if err := c.state.PutLoan(loan); err != nil {
		return nil, nil, err
	}
	if err := c.adjustLocked(seized, false); err != nil {
		return nil, nil, err
	}
	if err := c.vault.Unlock(liquidator, c.params.CollateralCurrency, seized); err != nil {
		return nil, nil, err
	}
	return liquidated, seized, nil
}

// liquidationAmount computes the repayment, in loan-currency units, that
// restores the loan to the minimum ratio. Values are in the unit of
// account; a minimum ratio at or below one plus the penalty makes partial
// liquidation pointless, so the whole balance becomes liquidatable.
func (c *Collateral) liquidationAmount(collateralValue, debtValue, outstanding *big.Int, currency string) *big.Int {
	bonus := new(big.Int).Add(decmath.Unit, valueOrZero(c.params.LiquidationPenalty))
	denom := new(big.Int).Sub(decmath.Unit, decmath.DivDecimal(bonus, c.params.MinCratio))
	if denom.Sign() <= 0 {
		return new(big.Int).Set(outstanding)
	}
	numer := new(big.Int).Sub(debtValue, decmath.DivDecimal(collateralValue, c.params.MinCratio))
	if numer.Sign() <= 0 {
		return new(big.Int).Set(outstanding)
	}
	capValue := decmath.DivDecimal(numer, denom)
	capUnits, err := c.rates.EffectiveValue(rates.UnitOfAccount, capValue, currency)
	if err != nil {
		return new(big.Int).Set(outstanding)
	}
	if capUnits.Cmp(outstanding) > 0 {
		capUnits.Set(outstanding)
	}
	return capUnits
}

// GetLoan returns a copy of the stored loan record.
func (c *Collateral) GetLoan(id uint64) (*Loan, error) {
	return c.state.GetLoan(id)
}

// LoansByBorrower lists a borrower's open loans.
func (c *Collateral) LoansByBorrower(borrower Address) ([]*Loan, error) {
	return c.state.LoansByBorrower(borrower)
}

// TotalCollateralLocked reports the engine's custody total, which equals
// the sum of open loans' collateral at all times.
func (c *Collateral) TotalCollateralLocked() (*big.Int, error) {
	return c.state.TotalLocked(c.params.Name)
}

// CollateralRatio values a loan at current rates, projecting unaccrued
// interest without persisting it. Zero outstanding debt reports a zero
// ratio.
func (c *Collateral) CollateralRatio(id uint64) (*big.Int, error) {
	loan, err := c.state.GetLoan(id)
	if err != nil {
		return nil, err
	}
	agg, err := c.manager.Snapshot(loan.Currency)
	if err != nil {
		return nil, err
	}
	outstanding := new(big.Int).Set(loan.Outstanding())
	index := c.loanIndex(agg)
	if loan.InterestIndex.Sign() > 0 && index.Cmp(loan.InterestIndex) > 0 {
		growth := decmath.DivDecimal(index, loan.InterestIndex)
		growth.Sub(growth, decmath.Unit)
		outstanding.Add(outstanding, decmath.MulDecimal(loan.Principal, growth))
	}
	if outstanding.Sign() == 0 {
		return big.NewInt(0), nil
	}
	collateralValue, err := c.rates.EffectiveValue(c.params.CollateralCurrency, loan.Collateral, rates.UnitOfAccount)
	if err != nil {
		return nil, err
	}
	debtValue, err := c.rates.EffectiveValue(loan.Currency, outstanding, rates.UnitOfAccount)
	if err != nil {
		return nil, err
	}
	return decmath.DivDecimal(collateralValue, debtValue), nil
}

// MaxLoan reports the largest principal the given collateral supports at
// the minimum ratio.
func (c *Collateral) MaxLoan(collateralAmount *big.Int, currency string) (*big.Int, error) {
	if _, ok := c.allowed[currency]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}
	collateralValue, err := c.rates.EffectiveValue(c.params.CollateralCurrency, valueOrZero(collateralAmount), rates.UnitOfAccount)
	if err != nil {
		return nil, err
	}
	maxValue := decmath.DivDecimal(collateralValue, c.params.MinCratio)
	return c.rates.EffectiveValue(rates.UnitOfAccount, maxValue, currency)
}

// accrue folds the currency's index growth into the loan's accrued
// interest and stamps the loan with the fresh index.
func (c *Collateral) accrue(loan *Loan) (*CurrencyAggregate, error) {
	agg, err := c.manager.AccrueInterest(c.cred, loan.Currency)
	if err != nil {
		return nil, err
	}
	index := c.loanIndex(agg)
	if loan.InterestIndex.Sign() > 0 && index.Cmp(loan.InterestIndex) > 0 {
		growth := decmath.DivDecimal(index, loan.InterestIndex)
		growth.Sub(growth, decmath.Unit)
		loan.AccruedInterest.Add(loan.AccruedInterest, decmath.MulDecimal(loan.Principal, growth))
	}
	loan.InterestIndex = decmath.Clone(index)
	return agg, nil
}

func (c *Collateral) loanIndex(agg *CurrencyAggregate) *big.Int {
	if c.params.Short {
		return agg.ShortIndex
	}
	return agg.BorrowIndex
}

// applyPayment reduces a loan by an already-settled payment, interest
// before principal, closing the loan when nothing remains outstanding.
func (c *Collateral) applyPayment(loan *Loan, payment *big.Int) error {
	interestPaid, principalPaid := splitPayment(loan, payment)
	if interestPaid.Sign() > 0 && c.fees != nil {
		c.fees.RecordFee(loan.Currency, interestPaid)
	}
	if err := c.decrementExposure(loan.Currency, principalPaid); err != nil {
		return err
	}
	loan.AccruedInterest.Sub(loan.AccruedInterest, interestPaid)
	loan.Principal.Sub(loan.Principal, principalPaid)
	loan.LastInteraction = uint64(c.now().Unix())

	if loan.Outstanding().Sign() > 0 {
		return c.state.PutLoan(loan)
	}
	collateral := new(big.Int).Set(loan.Collateral)
	if err := c.state.DeleteLoan(loan.ID, loan.Borrower); err != nil {
		return err
	}
	if collateral.Sign() == 0 {
		return nil
	}
	if err := c.adjustLocked(collateral, false); err != nil {
		return err
	}
	return c.vault.Unlock(loan.Borrower, c.params.CollateralCurrency, collateral)
}

// deductFromCollateral retires collateral worth the payment plus the
// exchange fee. Collateral for shorting engines is denominated in the unit
// of account, so the deduction needs no further conversion.
func (c *Collateral) deductFromCollateral(loan *Loan, payment *big.Int) error {
	value, err := c.rates.EffectiveValue(loan.Currency, payment, rates.UnitOfAccount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRate, loan.Currency)
	}
	fee := decmath.MulDecimal(value, valueOrZero(c.params.ExchangeFeeRate))
	deduction := new(big.Int).Add(value, fee)
	if deduction.Cmp(loan.Collateral) > 0 {
		return ErrInsufficientCollateral
	}
	if err := c.vault.Consume(c.params.CollateralCurrency, deduction); err != nil {
		return err
	}
	loan.Collateral.Sub(loan.Collateral, deduction)
	if fee.Sign() > 0 && c.fees != nil {
		c.fees.RecordFee(c.params.CollateralCurrency, fee)
	}
	return c.adjustLocked(deduction, false)
}

// issueProceeds delivers new principal to the borrower: the currency itself
// for a borrowing engine, its value in the unit of account for a shorting
// engine. The issue fee is withheld and recorded.
func (c *Collateral) issueProceeds(borrower Address, currency string, principal *big.Int) error {
	if c.params.Short {
		value, err := c.rates.EffectiveValue(currency, principal, rates.UnitOfAccount)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidRate, currency)
		}
		fee := decmath.MulDecimal(value, valueOrZero(c.params.IssueFeeRate))
		proceeds := new(big.Int).Sub(value, fee)
		if fee.Sign() > 0 && c.fees != nil {
			c.fees.RecordFee(rates.UnitOfAccount, fee)
		}
		return c.issuer.Issue(borrower, rates.UnitOfAccount, proceeds)
	}
	fee := decmath.MulDecimal(principal, valueOrZero(c.params.IssueFeeRate))
	proceeds := new(big.Int).Sub(principal, fee)
	if fee.Sign() > 0 && c.fees != nil {
		c.fees.RecordFee(currency, fee)
	}
	return c.issuer.Issue(borrower, currency, proceeds)
}

func (c *Collateral) incrementExposure(currency string, amount *big.Int) error {
	if c.params.Short {
		return c.manager.IncrementShorts(c.cred, currency, amount)
	}
	return c.manager.IncrementLongs(c.cred, currency, amount)
}

func (c *Collateral) decrementExposure(currency string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if c.params.Short {
		return c.manager.DecrementShorts(c.cred, currency, amount)
	}
	return c.manager.DecrementLongs(c.cred, currency, amount)
}

// checkRatio verifies collateral against outstanding debt at current rates.
func (c *Collateral) checkRatio(collateral, outstanding *big.Int, currency string) error {
	if outstanding.Sign() == 0 {
		return nil
	}
	collateralValue, err := c.rates.EffectiveValue(c.params.CollateralCurrency, collateral, rates.UnitOfAccount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRate, c.params.CollateralCurrency)
	}
	debtValue, err := c.rates.EffectiveValue(currency, outstanding, rates.UnitOfAccount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRate, currency)
	}
	if debtValue.Sign() == 0 {
		return nil
	}
	if decmath.DivDecimal(collateralValue, debtValue).Cmp(c.params.MinCratio) < 0 {
		return ErrCratioTooLow
	}
	return nil
}

func (c *Collateral) checkRates(currency string) error {
	if c.rates.RateIsInvalid(c.params.CollateralCurrency) {
		return fmt.Errorf("%w: %s", ErrInvalidRate, c.params.CollateralCurrency)
	}
	if c.rates.RateIsInvalid(currency) {
		return fmt.Errorf("%w: %s", ErrInvalidRate, currency)
	}
	return nil
}

func (c *Collateral) checkDelay(loan *Loan) error {
	if c.params.InteractionDelay == 0 {
		return nil
	}
	now := uint64(c.now().Unix())
	if now < loan.LastInteraction {
		return ErrInteractionTooSoon
	}
	if now-loan.LastInteraction < c.params.InteractionDelay {
		return ErrInteractionTooSoon
	}
	return nil
}

// adjustLocked moves the engine's custody total. add=false releases.
func (c *Collateral) adjustLocked(amount *big.Int, add bool) error {
	total, err := c.state.TotalLocked(c.params.Name)
	if err != nil {
		return err
	}
	if add {
		total.Add(total, amount)
	} else {
		total.Sub(total, amount)
		if total.Sign() < 0 {
			total.SetInt64(0)
		}
	}
	return c.state.PutTotalLocked(c.params.Name, total)
}

// splitPayment allocates a payment to interest first, then principal.
func splitPayment(loan *Loan, payment *big.Int) (interestPaid, principalPaid *big.Int) {
	interestPaid = new(big.Int).Set(payment)
	if interestPaid.Cmp(loan.AccruedInterest) > 0 {
		interestPaid.Set(loan.AccruedInterest)
	}
	principalPaid = new(big.Int).Sub(payment, interestPaid)
	if principalPaid.Cmp(loan.Principal) > 0 {
		principalPaid.Set(loan.Principal)
	}
	return interestPaid, principalPaid
}
