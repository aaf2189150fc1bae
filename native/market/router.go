package market

import "math/big"

// BuyRequest is the router's unified purchase parameter set across the three
// settlement routes.
type BuyRequest struct {
	Route           Route
	AdapterKey      [32]byte
	PositionID      uint64
	MaxPaymentTotal *big.Int
	Params          BuyParams
	MarketData      []byte
}

// RouterQuote answers a quote for any route. Internal routes delegate to the
// quote engine; the external route resolves the registered adapter, decodes
// its normalized result and applies the external-route fee rate.
func (e *Engine) RouterQuote(route Route, adapterKey [32]byte, positionID uint64, quoteData []byte) (*Quote, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	switch route {
	case RouteInternalWallet, RouteInternalLoan:
		listing, ok := e.state.ListingGet(positionID)
		if !ok || listing == nil || listing.Owner == ([20]byte{}) {
			return nil, ErrListingNotFound
		}
		return e.QuoteListing(positionID, listing.PaymentAsset)
	case RouteExternalAdapter:
		adapter, err := e.adapter(adapterKey)
		if err != nil {
			return nil, err
		}
		foreign, err := adapter.QuoteToken(e.adapterContext(), positionID, quoteData)
		if err != nil {
			return nil, err
		}
		price := cloneBigInt(foreign.Price)
		return &Quote{
			Price:         price,
			Fee:           CalculateFee(price, e.fees.BpsFor(RouteExternalAdapter)),
			LoanPayoff:    big.NewInt(0),
			PaymentAsset:  foreign.Currency,
			InputAsset:    foreign.Currency,
			RequiredInput: price,
		}, nil
	default:
		return nil, ErrInvalidRoute
	}
}

// RouterBuy dispatches a purchase to the settlement variant matching the
// route, or to the registered external adapter. The caller-supplied
// MaxPaymentTotal is enforced as a hard ceiling before any fund movement,
// independent of whatever a prior quote returned. Adapter failures are
// returned verbatim so callers see the true root cause.
func (e *Engine) RouterBuy(buyer [20]byte, req BuyRequest) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if !req.Route.Valid() {
		return ErrInvalidRoute
	}
	if err := e.checkValueGuards(req.Params); err != nil {
		return err
	}
	if err := e.checkCeiling(req); err != nil {
		return err
	}

	revert := e.snapshot()
	switch req.Route {
	case RouteInternalWallet:
		err = e.buyListingLocked(buyer, req.PositionID, req.Params)
	case RouteInternalLoan:
		err = e.buyLoanListingLocked(buyer, req.PositionID, req.Params)
	case RouteExternalAdapter:
		var adapter PurchaseAdapter
		adapter, err = e.adapter(req.AdapterKey)
		if err == nil {
			err = adapter.BuyToken(e.adapterContext(), buyer, req.PositionID, req.MaxPaymentTotal, req.Params, req.MarketData)
			if err == nil {
				e.emit(NewExternalPurchaseEvent(req.AdapterKey, req.PositionID, buyer))
			}
		}
	}
	if err != nil {
		revert()
		return err
	}
	return nil
}

// MatchOfferWithExternal is the cross-asset offer-matching path against an
// external marketplace. The minimum-output semantics for it were never
// specified; it fails explicitly instead of approximating a swap.
func (e *Engine) MatchOfferWithExternal(caller [20]byte, offerID uint64, adapterKey [32]byte, positionID uint64) error {
	return ErrNotImplemented
}

// checkValueGuards rejects malformed native-value combinations: value
// accompanying a token payment, a native input without trade instructions
// (there is no direct native-payment listing flow), and a native input whose
// attached value cannot cover the declared spend.
func (e *Engine) checkValueGuards(params BuyParams) error {
	native := e.nativeAsset != "" && params.InputAsset == e.nativeAsset
	value := params.value()
	if value.Sign() > 0 && !native {
		return ErrNoETHForTokenPayment
	}
	if native {
		if len(params.TradeData) == 0 {
			return ErrNoTradeData
		}
		if params.MaxInput != nil && value.Cmp(params.MaxInput) < 0 {
			return ErrInsufficientETH
		}
	}
	return nil
}

func (e *Engine) checkCeiling(req BuyRequest) error {
	if req.MaxPaymentTotal == nil {
		return nil
	}
	var total *big.Int
	switch req.Route {
	case RouteInternalWallet, RouteInternalLoan:
		listing, err := e.loadActiveListing(req.PositionID)
		if err != nil {
			return err
		}
		total = cloneBigInt(listing.Price)
		if listing.HasOutstandingLoan {
			balance, _, detailsErr := e.loans.GetLoanDetails(req.PositionID)
			if detailsErr != nil {
				return detailsErr
			}
			total.Add(total, cloneBigInt(balance))
		}
	case RouteExternalAdapter:
		adapter, err := e.adapter(req.AdapterKey)
		if err != nil {
			return err
		}
		foreign, err := adapter.QuoteToken(e.adapterContext(), req.PositionID, req.MarketData)
		if err != nil {
			return err
		}
		total = new(big.Int).Add(cloneBigInt(foreign.Price), CalculateFee(foreign.Price, e.fees.BpsFor(RouteExternalAdapter)))
	}
	if total != nil && total.Cmp(req.MaxPaymentTotal) > 0 {
		return ErrMaxTotalExceeded
	}
	return nil
}
