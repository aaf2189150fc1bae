package market

import (
	"fmt"
	"math/big"
)

// MaxFeeBps caps every configured route fee at 10%. The cap is enforced when
// a fee table is constructed, not re-validated at quote or settlement time.
const MaxFeeBps = 1_000

var basisPoints = big.NewInt(10_000)

// FeeTable maps each settlement route to its protocol fee in basis points.
type FeeTable struct {
	walletBps   uint32
	loanBps     uint32
	externalBps uint32
}

// NewFeeTable validates the supplied per-route basis points against MaxFeeBps.
func NewFeeTable(walletBps, loanBps, externalBps uint32) (FeeTable, error) {
	for _, bps := range []uint32{walletBps, loanBps, externalBps} {
		if bps > MaxFeeBps {
			return FeeTable{}, fmt.Errorf("market fees: %d bps exceeds %d cap", bps, MaxFeeBps)
		}
	}
	return FeeTable{walletBps: walletBps, loanBps: loanBps, externalBps: externalBps}, nil
}

// BpsFor returns the configured basis points for the supplied route.
// Unrecognised routes fall back to the wallet rate.
func (t FeeTable) BpsFor(route Route) uint32 {
	switch route {
	case RouteInternalLoan:
		return t.loanBps
	case RouteExternalAdapter:
		return t.externalBps
	default:
		return t.walletBps
	}
}

// CalculateFee computes floor(price * bps / 10000). Fees are computed on the
// listing price only, never on loan-payoff amounts.
func CalculateFee(price *big.Int, bps uint32) *big.Int {
	if price == nil || price.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(bps)))
	return fee.Div(fee, basisPoints)
}
