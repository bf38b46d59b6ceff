package collateral

import (
	"synthchain/native/common"
	"synthchain/native/fees"
	"synthchain/native/rates"
)

// The three engine flavours differ only in configuration: what they custody
// and whether loans are short. Behaviour differences live in EngineParams,
// not in subtypes.

// NewErc20Collateral builds a borrowing engine over a token collateral,
// e.g. renBTC backing sBTC loans.
func NewErc20Collateral(params EngineParams, state *State, manager *Manager, provider rates.Provider, sink fees.Sink, issuer Issuer, vault Vault, pauses common.SuspensionView) (*Collateral, error) {
	params.Short = false
	return NewCollateral(params, state, manager, provider, sink, issuer, vault, pauses)
}

// NewEthCollateral builds a borrowing engine custodying the chain's native
// asset.
func NewEthCollateral(params EngineParams, state *State, manager *Manager, provider rates.Provider, sink fees.Sink, issuer Issuer, vault Vault, pauses common.SuspensionView) (*Collateral, error) {
	params.CollateralCurrency = "ETH"
	params.Short = false
	return NewCollateral(params, state, manager, provider, sink, issuer, vault, pauses)
}

// NewShortCollateral builds a shorting engine: collateral is the unit of
// account, borrowers receive the shorted currency's value rather than the
// currency, and repayment may come out of collateral.
func NewShortCollateral(params EngineParams, state *State, manager *Manager, provider rates.Provider, sink fees.Sink, issuer Issuer, vault Vault, pauses common.SuspensionView) (*Collateral, error) {
	params.CollateralCurrency = rates.UnitOfAccount
	params.Short = true
	return NewCollateral(params, state, manager, provider, sink, issuer, vault, pauses)
}
