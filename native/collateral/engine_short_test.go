package collateral_test

import (
	"errors"
	"testing"

	"synthchain/native/collateral"
	"synthchain/native/decmath"
	"synthchain/native/rates"
)

func shortParams(t *testing.T) collateral.EngineParams {
	return collateral.EngineParams{
		Name:            "collateral-short",
		Currencies:      []string{"sBTC"},
		MinCratio:       dec(t, "1.2"),
		ExchangeFeeRate: dec(t, "0.005"),
	}
}

func newShortHarness(t *testing.T, params collateral.EngineParams) *harness {
	t.Helper()
	h := newHarness(t, collateral.ManagerParams{}, borrowParams(t))
	eng, err := collateral.NewShortCollateral(params, h.state, h.mgr, h.oracle, h.fees, h.ledger, h.ledger, h.pauses)
	if err != nil {
		t.Fatalf("new short engine: %v", err)
	}
	eng.SetClock(h.clock.Now)
	h.eng = eng
	return h
}

func TestShortOpenIssuesUnitOfAccount(t *testing.T) {
	h := newShortHarness(t, shortParams(t))
	h.fund(t, alice, rates.UnitOfAccount, decmath.FromInt(48000))

	// Shorting 2 sBTC at $20000 against 48000 sUSD sits at ratio 1.2.
	id, err := h.eng.Open(alice, decmath.FromInt(48000), decmath.FromInt(2), "sBTC")
	if err != nil {
		t.Fatalf("open short: %v", err)
	}

	// The borrower receives the shorted value, not the currency.
	if got := h.ledger.Balance(alice, "sBTC"); got.Sign() != 0 {
		t.Fatalf("short issued sBTC: %s", got)
	}
	if got, want := h.ledger.Balance(alice, rates.UnitOfAccount), decmath.FromInt(40000); got.Cmp(want) != 0 {
		t.Fatalf("proceeds %s, want %s", got, want)
	}

	loan, err := h.eng.GetLoan(id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if !loan.Short {
		t.Fatalf("loan not marked short")
	}
	total, err := h.mgr.TotalShort("sBTC")
	if err != nil {
		t.Fatalf("total short: %v", err)
	}
	if total.Cmp(decmath.FromInt(2)) != 0 {
		t.Fatalf("aggregate short %s, want 2", total)
	}
}

func TestShortRepayWithCollateral(t *testing.T) {
	h := newShortHarness(t, shortParams(t))
	h.fund(t, alice, rates.UnitOfAccount, decmath.FromInt(48000))

	id, err := h.eng.Open(alice, decmath.FromInt(48000), decmath.FromInt(2), "sBTC")
	if err != nil {
		t.Fatalf("open short: %v", err)
	}

	if err := h.eng.RepayWithCollateral(bob, id, decmath.FromInt(1)); !errors.Is(err, collateral.ErrNotBorrower) {
		t.Fatalf("expected borrower error, got %v", err)
	}
	if err := h.eng.RepayWithCollateral(alice, id, decmath.FromInt(3)); !errors.Is(err, collateral.ErrPaymentTooHigh) {
		t.Fatalf("expected overpayment error, got %v", err)
	}

	// Repaying 1 sBTC consumes its $20000 value plus the 0.5% exchange fee.
	if err := h.eng.RepayWithCollateral(alice, id, decmath.FromInt(1)); err != nil {
		t.Fatalf("repay with collateral: %v", err)
	}
	loan, err := h.eng.GetLoan(id)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Principal.Cmp(decmath.FromInt(1)) != 0 {
		t.Fatalf("principal %s, want 1", loan.Principal)
	}
	if want := decmath.FromInt(27900); loan.Collateral.Cmp(want) != 0 {
		t.Fatalf("collateral %s, want %s", loan.Collateral, want)
	}
	if got := h.fees.Total(rates.UnitOfAccount); got.Cmp(decmath.FromInt(100)) != 0 {
		t.Fatalf("exchange fee %s, want 100", got)
	}
	h.checkConservation(t, id)
}

func TestShortCloseWithCollateral(t *testing.T) {
	h := newShortHarness(t, shortParams(t))
	h.fund(t, alice, rates.UnitOfAccount, decmath.FromInt(48000))

	id, err := h.eng.Open(alice, decmath.FromInt(48000), decmath.FromInt(2), "sBTC")
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	if err := h.eng.CloseWithCollateral(alice, id); err != nil {
		t.Fatalf("close with collateral: %v", err)
	}
	if _, err := h.eng.GetLoan(id); !errors.Is(err, collateral.ErrLoanNotFound) {
		t.Fatalf("loan should be closed, got %v", err)
	}
	// 48000 less the 2 sBTC value and fees, plus the 40000 proceeds.
	if got, want := h.ledger.Balance(alice, rates.UnitOfAccount), decmath.FromInt(47800); got.Cmp(want) != 0 {
		t.Fatalf("balance %s, want %s", got, want)
	}
	h.checkConservation(t)
}

func TestCollateralRepayRejectedOnBorrowEngine(t *testing.T) {
	h := newHarness(t, collateral.ManagerParams{}, borrowParams(t))
	h.fund(t, alice, "ETH", decmath.FromInt(100))

	id, err := h.eng.Open(alice, decmath.FromInt(100), decmath.FromInt(10), "sUSD")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := h.eng.RepayWithCollateral(alice, id, decmath.FromInt(1)); !errors.Is(err, collateral.ErrShortOnly) {
		t.Fatalf("expected short-only error, got %v", err)
	}
	if err := h.eng.CloseWithCollateral(alice, id); !errors.Is(err, collateral.ErrShortOnly) {
		t.Fatalf("expected short-only error, got %v", err)
	}
}
