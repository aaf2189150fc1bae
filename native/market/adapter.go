package market

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AdapterKey derives the registry key for a marketplace name: the keccak256
// content hash of the canonical name.
func AdapterKey(name string) [32]byte {
	return [32]byte(ethcrypto.Keccak256Hash([]byte(name)))
}

// AdapterQuote is the normalized result of a foreign marketplace quote.
// Price is the all-in amount the foreign market charges in Currency; Fee
// reports the portion of that amount the foreign market keeps for itself.
type AdapterQuote struct {
	Price    *big.Int
	Fee      *big.Int
	Currency string
}

// AdapterContext hands an adapter the slice of settlement context it needs:
// clock, fee policy for the external route, allowed-asset checks and fund
// movement. Adapters run as plain strategies against this context instead of
// sharing the engine's storage.
type AdapterContext struct {
	Now          func() int64
	FeeBps       uint32
	FeeCollector [20]byte
	AssetAllowed func(asset string) bool
	Transfer     func(from, to [20]byte, asset string, amount *big.Int) error
	BalanceOf    func(addr [20]byte, asset string) (*big.Int, error)
}

// PurchaseAdapter normalizes one third-party marketplace's bespoke listing
// representation into the router's generic quote/buy surface. Adapters must
// re-validate the foreign listing themselves: the router trusts neither the
// caller nor the foreign marketplace's stale state.
type PurchaseAdapter interface {
	// QuoteToken resolves the foreign listing's current cost. Read-only.
	QuoteToken(ctx AdapterContext, positionID uint64, quoteData []byte) (AdapterQuote, error)
	// BuyToken executes the foreign purchase within maxTotal and forwards
	// the acquired position to buyer, never keeping it.
	BuyToken(ctx AdapterContext, buyer [20]byte, positionID uint64, maxTotal *big.Int, params BuyParams, marketData []byte) error
}

// RegisterAdapter registers an adapter under the keccak key of its
// marketplace name. Registration is administrative wiring; the router only
// reads the registry.
func (e *Engine) RegisterAdapter(name string, adapter PurchaseAdapter) [32]byte {
	key := AdapterKey(name)
	if e == nil || adapter == nil {
		return key
	}
	if e.adapters == nil {
		e.adapters = make(map[[32]byte]PurchaseAdapter)
	}
	e.adapters[key] = adapter
	return key
}

func (e *Engine) adapter(key [32]byte) (PurchaseAdapter, error) {
	if e == nil || e.adapters == nil {
		return nil, ErrUnknownAdapter
	}
	adapter, ok := e.adapters[key]
	if !ok {
		return nil, ErrUnknownAdapter
	}
	return adapter, nil
}

func (e *Engine) adapterContext() AdapterContext {
	return AdapterContext{
		Now:          e.now,
		FeeBps:       e.fees.BpsFor(RouteExternalAdapter),
		FeeCollector: e.feeCollector,
		AssetAllowed: e.assetAllowed,
		Transfer:     e.transferToken,
		BalanceOf:    e.balanceOf,
	}
}
