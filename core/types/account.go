package types

import "math/big"

// Account holds the per-address token balances tracked by the marketplace
// state. Balances are keyed by normalized asset symbol; absent entries are
// treated as zero.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// BalanceOf returns the balance held in the supplied asset. The returned value
// is a copy; mutating it does not affect the account.
func (a *Account) BalanceOf(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Balances[asset]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// Credit adds amount to the balance held in asset. Nil and non-positive
// amounts are ignored.
func (a *Account) Credit(asset string, amount *big.Int) {
	if a == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[asset] = new(big.Int).Add(a.BalanceOf(asset), amount)
}

// Debit removes amount from the balance held in asset. It reports false when
// the balance cannot cover the amount and leaves the account untouched.
func (a *Account) Debit(asset string, amount *big.Int) bool {
	if a == nil || amount == nil || amount.Sign() < 0 {
		return false
	}
	if amount.Sign() == 0 {
		return true
	}
	bal := a.BalanceOf(asset)
	if bal.Cmp(amount) < 0 {
		return false
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[asset] = bal.Sub(bal, amount)
	return true
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for asset, bal := range a.Balances {
		if bal == nil {
			clone.Balances[asset] = big.NewInt(0)
			continue
		}
		clone.Balances[asset] = new(big.Int).Set(bal)
	}
	return clone
}
