package bank

import (
	"errors"
	"math/big"
	"testing"

	"synthchain/native/collateral"
	"synthchain/native/decmath"
)

func addr(last byte) collateral.Address {
	var a collateral.Address
	a[19] = last
	return a
}

func TestIssueAndBurn(t *testing.T) {
	ledger := NewLedger()
	holder := addr(0x11)

	if err := ledger.Issue(holder, "sUSD", decmath.FromInt(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.Burn(holder, "sUSD", decmath.FromInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := ledger.Balance(holder, "sUSD"); got.Cmp(decmath.FromInt(60)) != 0 {
		t.Fatalf("balance %s, want 60", got)
	}
	if err := ledger.Burn(holder, "sUSD", decmath.FromInt(61)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overburn accepted: %v", err)
	}
	if err := ledger.Burn(holder, "sETH", decmath.FromInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("burn of unheld asset accepted: %v", err)
	}
}

func TestVaultFlow(t *testing.T) {
	ledger := NewLedger()
	depositor := addr(0x21)
	recipient := addr(0x22)

	if err := ledger.Mint(depositor, "ETH", decmath.FromInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Lock(depositor, "ETH", decmath.FromInt(8)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := ledger.Lock(depositor, "ETH", decmath.FromInt(5)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overlock accepted: %v", err)
	}
	if got := ledger.Vaulted("ETH"); got.Cmp(decmath.FromInt(8)) != 0 {
		t.Fatalf("vaulted %s, want 8", got)
	}

	if err := ledger.Unlock(recipient, "ETH", decmath.FromInt(3)); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := ledger.Consume("ETH", decmath.FromInt(5)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := ledger.Vaulted("ETH"); got.Sign() != 0 {
		t.Fatalf("vault not drained: %s", got)
	}
	if err := ledger.Unlock(recipient, "ETH", decmath.FromInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("unlock from empty vault accepted: %v", err)
	}
	if got := ledger.Balance(recipient, "ETH"); got.Cmp(decmath.FromInt(3)) != 0 {
		t.Fatalf("recipient balance %s, want 3", got)
	}
	if got := ledger.Balance(depositor, "ETH"); got.Cmp(decmath.FromInt(2)) != 0 {
		t.Fatalf("depositor balance %s, want 2", got)
	}
}

func TestRejectsNegativeAmounts(t *testing.T) {
	ledger := NewLedger()
	holder := addr(0x31)

	negative := big.NewInt(-1)
	if err := ledger.Mint(holder, "ETH", negative); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative mint accepted: %v", err)
	}
	if err := ledger.Lock(holder, "ETH", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil lock accepted: %v", err)
	}
}
