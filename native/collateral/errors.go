package collateral

import "errors"

var (
	ErrInvalidCurrency        = errors.New("collateral: currency not in allowed set")
	ErrDebtCeilingExceeded    = errors.New("collateral: debt ceiling exceeded")
	ErrInsufficientCollateral = errors.New("collateral: collateral below minimum")
	ErrCratioTooLow           = errors.New("collateral: cratio below minimum")
	ErrNotUndercollateralized = errors.New("collateral: loan is not undercollateralized")
	ErrPaymentTooHigh         = errors.New("collateral: payment exceeds outstanding debt")
	ErrNotBorrower            = errors.New("collateral: caller is not the borrower")
	ErrLoanNotFound           = errors.New("collateral: loan not found")
	ErrInvalidRate            = errors.New("collateral: stale or invalid rate")
	ErrInteractionTooSoon     = errors.New("collateral: interaction delay not elapsed")
	ErrInvalidAmount          = errors.New("collateral: amount must be positive")
	ErrShortOnly              = errors.New("collateral: operation only valid for short positions")
	ErrUnknownEngine          = errors.New("collateral: engine not registered with manager")
	ErrNilState               = errors.New("collateral: state not configured")
)
