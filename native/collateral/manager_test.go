package collateral

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"synthchain/native/decmath"
	"synthchain/storage"
)

type stubRates struct {
	prices  map[string]*big.Int
	invalid map[string]bool
}

func newStubRates() *stubRates {
	return &stubRates{
		prices:  map[string]*big.Int{"sUSD": decmath.Clone(decmath.Unit)},
		invalid: make(map[string]bool),
	}
}

func (s *stubRates) setPrice(currency string, units int64) {
	s.prices[currency] = decmath.FromInt(units)
}

func (s *stubRates) EffectiveValue(src string, amount *big.Int, dst string) (*big.Int, error) {
	srcPrice, ok := s.prices[src]
	if !ok {
		return nil, errors.New("stub: unknown currency " + src)
	}
	dstPrice, ok := s.prices[dst]
	if !ok {
		return nil, errors.New("stub: unknown currency " + dst)
	}
	return decmath.DivDecimal(decmath.MulDecimal(amount, srcPrice), dstPrice), nil
}

func (s *stubRates) RateIsInvalid(currency string) bool { return s.invalid[currency] }

func newTestManager(t *testing.T, params ManagerParams) (*Manager, *stubRates, *testMgrClock) {
	t.Helper()
	state := NewState(storage.NewMemDB())
	provider := newStubRates()
	mgr := NewManager(state, provider, params)
	clock := &testMgrClock{now: time.Unix(1_700_000_000, 0)}
	mgr.SetClock(clock.Now)
	return mgr, provider, clock
}

type testMgrClock struct {
	now time.Time
}

func (c *testMgrClock) Now() time.Time { return c.now }

func (c *testMgrClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMutationRequiresCredential(t *testing.T) {
	mgr, _, _ := newTestManager(t, ManagerParams{})
	mgr.AddCurrency("sUSD")

	if err := mgr.IncrementLongs(nil, "sUSD", decmath.FromInt(1)); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("nil credential accepted: %v", err)
	}
	forged := &Credential{id: 99, name: "intruder"}
	if err := mgr.IncrementLongs(forged, "sUSD", decmath.FromInt(1)); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("forged credential accepted: %v", err)
	}

	cred, err := mgr.Register("collateral-eth")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.IncrementLongs(cred, "sUSD", decmath.FromInt(1)); err != nil {
		t.Fatalf("registered credential rejected: %v", err)
	}
}

func TestDecrementClampsAtZero(t *testing.T) {
	mgr, _, _ := newTestManager(t, ManagerParams{})
	mgr.AddCurrency("sUSD")
	cred, err := mgr.Register("collateral-eth")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := mgr.IncrementLongs(cred, "sUSD", decmath.FromInt(5)); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := mgr.DecrementLongs(cred, "sUSD", decmath.FromInt(8)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	total, err := mgr.TotalLong("sUSD")
	if err != nil {
		t.Fatalf("total long: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("clamped total %s, want 0", total)
	}
}

func TestIncrementRejectsInvalidRate(t *testing.T) {
	mgr, provider, _ := newTestManager(t, ManagerParams{})
	mgr.AddCurrency("sBTC")
	cred, err := mgr.Register("collateral-eth")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	provider.invalid["sBTC"] = true
	if err := mgr.IncrementShorts(cred, "sBTC", decmath.FromInt(1)); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected rate error, got %v", err)
	}
	// Decrements must keep working so positions can unwind.
	provider.setPrice("sBTC", 20000)
	if err := mgr.IncrementShorts(cred, "sBTC", decmath.FromInt(1)); err == nil {
		t.Fatalf("flagged currency accepted")
	}
	provider.invalid["sBTC"] = false
	if err := mgr.IncrementShorts(cred, "sBTC", decmath.FromInt(2)); err != nil {
		t.Fatalf("increment: %v", err)
	}
	provider.invalid["sBTC"] = true
	if err := mgr.DecrementShorts(cred, "sBTC", decmath.FromInt(1)); err != nil {
		t.Fatalf("decrement with invalid rate: %v", err)
	}
}

func TestAggregateDebtSpansSides(t *testing.T) {
	mgr, provider, _ := newTestManager(t, ManagerParams{})
	mgr.AddCurrency("sUSD")
	mgr.AddCurrency("sBTC")
	provider.setPrice("sBTC", 20000)
	cred, err := mgr.Register("collateral-eth")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := mgr.IncrementLongs(cred, "sUSD", decmath.FromInt(500)); err != nil {
		t.Fatalf("increment longs: %v", err)
	}
	if err := mgr.IncrementShorts(cred, "sBTC", decmath.FromInt(2)); err != nil {
		t.Fatalf("increment shorts: %v", err)
	}
	debt, err := mgr.AggregateDebt()
	if err != nil {
		t.Fatalf("aggregate debt: %v", err)
	}
	if want := decmath.FromInt(40500); debt.Cmp(want) != 0 {
		t.Fatalf("aggregate debt %s, want %s", debt, want)
	}
}

func TestIndicesCompoundIndependently(t *testing.T) {
	params := ManagerParams{
		BaseBorrowRate: mustParse("0.05"),
		BaseShortRate:  mustParse("0.1"),
	}
	mgr, _, clock := newTestManager(t, params)
	mgr.AddCurrency("sUSD")
	cred, err := mgr.Register("collateral-eth")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// First touch stamps LastAccrual without compounding.
	if _, err := mgr.AccrueInterest(cred, "sUSD"); err != nil {
		t.Fatalf("first accrue: %v", err)
	}
	clock.advance(365 * 24 * time.Hour)
	agg, err := mgr.AccrueInterest(cred, "sUSD")
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if want := mustParse("1.05"); agg.BorrowIndex.Cmp(want) != 0 {
		t.Fatalf("borrow index %s, want %s", agg.BorrowIndex, want)
	}
	if want := mustParse("1.1"); agg.ShortIndex.Cmp(want) != 0 {
		t.Fatalf("short index %s, want %s", agg.ShortIndex, want)
	}

	// Accruing again without time passing changes nothing.
	again, err := mgr.AccrueInterest(cred, "sUSD")
	if err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	if again.BorrowIndex.Cmp(agg.BorrowIndex) != 0 || again.ShortIndex.Cmp(agg.ShortIndex) != 0 {
		t.Fatalf("indices moved without time passing")
	}
}

func mustParse(literal string) *big.Int {
	v, err := decmath.Parse(literal)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRebalanceSettlesPendingInterestFirst(t *testing.T) {
	params := ManagerParams{
		BaseBorrowRate: mustParse("0.05"),
		MaxSkewRate:    mustParse("0.1"),
	}
	mgr, _, clock := newTestManager(t, params)
	mgr.AddCurrency("sUSD")
	cred, err := mgr.Register("collateral-eth")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := mgr.IncrementLongs(cred, "sUSD", decmath.FromInt(100)); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := mgr.AccrueInterest(cred, "sUSD"); err != nil {
		t.Fatalf("first accrue: %v", err)
	}

	// A fully long-skewed year accrues at 0.05 base + 0.1 skew. The
	// overwrite lands after that period settles, so the elapsed time must
	// compound at the skew that was actually in force.
	clock.advance(365 * 24 * time.Hour)
	if err := mgr.Rebalance("sUSD", decmath.FromInt(50), decmath.FromInt(50)); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	agg, err := mgr.Snapshot("sUSD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if want := mustParse("1.15"); agg.BorrowIndex.Cmp(want) != 0 {
		t.Fatalf("borrow index %s, want %s", agg.BorrowIndex, want)
	}
	if agg.TotalLong.Cmp(decmath.FromInt(50)) != 0 || agg.TotalShort.Cmp(decmath.FromInt(50)) != 0 {
		t.Fatalf("totals %s/%s, want 50/50", agg.TotalLong, agg.TotalShort)
	}
}
