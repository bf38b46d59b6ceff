package rates

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"synthchain/native/decmath"
)

func TestEffectiveValueConvertsThroughUnitOfAccount(t *testing.T) {
	oracle := NewOracle(0)
	if err := oracle.SetPriceDecimal("sBTC", "20000"); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := oracle.SetPriceDecimal("sETH", "2000"); err != nil {
		t.Fatalf("set price: %v", err)
	}

	// 0.5 sBTC => 10000 sUSD => 5 sETH
	half := decmath.DivDecimal(decmath.FromInt(1), decmath.FromInt(2))
	got, err := oracle.EffectiveValue("sBTC", half, "sETH")
	if err != nil {
		t.Fatalf("effective value: %v", err)
	}
	if got.Cmp(decmath.FromInt(5)) != 0 {
		t.Fatalf("got %s want %s", got, decmath.FromInt(5))
	}

	usd, err := oracle.EffectiveValue("sETH", decmath.FromInt(3), UnitOfAccount)
	if err != nil {
		t.Fatalf("effective value: %v", err)
	}
	if usd.Cmp(decmath.FromInt(6000)) != 0 {
		t.Fatalf("got %s want 6000", usd)
	}
}

func TestUnknownCurrencyFails(t *testing.T) {
	oracle := NewOracle(0)
	if _, err := oracle.EffectiveValue("sDOGE", decmath.FromInt(1), UnitOfAccount); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
	if !oracle.RateIsInvalid("sDOGE") {
		t.Fatalf("unknown currency must report invalid")
	}
	if oracle.RateIsInvalid(UnitOfAccount) {
		t.Fatalf("unit of account is always valid")
	}
}

func TestStaleRateReportsInvalid(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	oracle := NewOracle(time.Minute)
	oracle.SetClock(func() time.Time { return current })
	oracle.SetPrice("sETH", decmath.FromInt(2000))

	if oracle.RateIsInvalid("sETH") {
		t.Fatalf("fresh rate reported invalid")
	}

	current = current.Add(2 * time.Minute)
	if !oracle.RateIsInvalid("sETH") {
		t.Fatalf("stale rate not detected")
	}
	if _, err := oracle.Price("sETH"); !errors.Is(err, ErrStaleRate) {
		t.Fatalf("expected ErrStaleRate, got %v", err)
	}

	// A fresh post clears staleness and flags.
	oracle.Flag("sETH")
	oracle.SetPrice("sETH", decmath.FromInt(2100))
	if oracle.RateIsInvalid("sETH") {
		t.Fatalf("expected refreshed rate to be valid")
	}
}

func TestZeroAmountShortCircuits(t *testing.T) {
	oracle := NewOracle(0)
	got, err := oracle.EffectiveValue("sMISSING", big.NewInt(0), UnitOfAccount)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("zero conversion: got %s err %v", got, err)
	}
}
