package types

import "math/big"

// Account tracks the spendable holdings of an identity. The native coin
// balance lives on the account record itself; fungible token balances are
// stored per (address, symbol) by the state manager so the record stays
// fixed-size regardless of how many tokens an identity touches.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceNative *big.Int `json:"balanceNative"`
}

// EnsureAccount returns a usable account value with all balance fields
// initialised. A nil input yields a zeroed account.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{BalanceNative: big.NewInt(0)}
	}
	if acc.BalanceNative == nil {
		acc.BalanceNative = big.NewInt(0)
	}
	return acc
}
