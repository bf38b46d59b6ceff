package fees

import (
	"math/big"
	"testing"
)

func TestRecordFeeAccumulates(t *testing.T) {
	pool := NewPool()
	pool.RecordFee("sUSD", big.NewInt(100))
	pool.RecordFee("sUSD", big.NewInt(50))
	pool.RecordFee("sETH", big.NewInt(7))

	if got := pool.Total("sUSD"); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("sUSD total: got %s want 150", got)
	}
	if got := pool.Total("sETH"); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("sETH total: got %s want 7", got)
	}
	if got := pool.Total("sBTC"); got.Sign() != 0 {
		t.Fatalf("unrecorded currency total: got %s want 0", got)
	}

	currencies := pool.Currencies()
	if len(currencies) != 2 || currencies[0] != "sETH" || currencies[1] != "sUSD" {
		t.Fatalf("unexpected currency listing: %v", currencies)
	}
}

func TestRecordFeeIgnoresNonPositive(t *testing.T) {
	pool := NewPool()
	pool.RecordFee("sUSD", nil)
	pool.RecordFee("sUSD", big.NewInt(0))
	pool.RecordFee("sUSD", big.NewInt(-5))
	pool.RecordFee("", big.NewInt(10))
	if got := pool.Total("sUSD"); got.Sign() != 0 {
		t.Fatalf("expected empty pool, got %s", got)
	}
}

func TestObserverSeesEveryFee(t *testing.T) {
	pool := NewPool()
	var seen []string
	pool.Observe(func(currency string, amount *big.Int) {
		seen = append(seen, currency+":"+amount.String())
	})
	pool.RecordFee("sUSD", big.NewInt(3))
	pool.RecordFee("sETH", big.NewInt(4))
	if len(seen) != 2 || seen[0] != "sUSD:3" || seen[1] != "sETH:4" {
		t.Fatalf("observer calls: %v", seen)
	}
}
