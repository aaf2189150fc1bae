package market

import "math/big"

// Quote is the read-only total-cost breakdown for taking a listing. When the
// input asset differs from the listing's payment asset (or from the loan
// asset, for loan-custody listings) RequiredInput sums the independently
// quoted exact-output legs.
type Quote struct {
	Price         *big.Int
	Fee           *big.Int
	LoanPayoff    *big.Int
	PaymentAsset  string
	InputAsset    string
	RequiredInput *big.Int
}

// Total returns price plus loan payoff, the amount a same-asset buyer pays.
func (q *Quote) Total() *big.Int {
	if q == nil {
		return big.NewInt(0)
	}
	total := cloneBigInt(q.Price)
	if q.LoanPayoff != nil {
		total.Add(total, q.LoanPayoff)
	}
	return total
}

// QuoteListing computes the total cost of taking a listing with the supplied
// input asset. It fails ErrListingNotFound and ErrListingExpired under the
// same conditions as settlement and never mutates state, so it is safe to
// call any number of times.
func (e *Engine) QuoteListing(positionID uint64, inputAsset string) (*Quote, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(positionID)
	if !ok || listing == nil || listing.Owner == ([20]byte{}) {
		return nil, ErrListingNotFound
	}
	if listing.Expired(e.now()) {
		return nil, ErrListingExpired
	}
	input, err := NormalizeAsset(inputAsset)
	if err != nil {
		return nil, err
	}

	route := RouteInternalWallet
	payoff := big.NewInt(0)
	if listing.HasOutstandingLoan {
		route = RouteInternalLoan
		if e.loans == nil {
			return nil, errNilLoans
		}
		balance, _, detailsErr := e.loans.GetLoanDetails(positionID)
		if detailsErr != nil {
			return nil, detailsErr
		}
		payoff = cloneBigInt(balance)
	}

	quote := &Quote{
		Price:        cloneBigInt(listing.Price),
		Fee:          CalculateFee(listing.Price, e.fees.BpsFor(route)),
		LoanPayoff:   payoff,
		PaymentAsset: listing.PaymentAsset,
		InputAsset:   input,
	}

	required, err := e.requiredInput(input, listing.PaymentAsset, quote.Price, payoff)
	if err != nil {
		return nil, err
	}
	quote.RequiredInput = required
	return quote, nil
}

// requiredInput computes the amount of the input asset needed to realise the
// listing price (in the payment asset) and the loan payoff (in the loan
// asset). The two conversions are quoted independently and summed; the legs
// are non-fungible and never netted against each other.
func (e *Engine) requiredInput(inputAsset, paymentAsset string, price, payoff *big.Int) (*big.Int, error) {
	required := big.NewInt(0)

	if inputAsset == paymentAsset {
		required.Add(required, price)
	} else {
		leg, err := e.quoteExactOutput(inputAsset, paymentAsset, price)
		if err != nil {
			return nil, err
		}
		required.Add(required, leg)
	}

	if payoff == nil || payoff.Sign() == 0 {
		return required, nil
	}
	payoffAsset := e.loanAsset
	if payoffAsset == "" {
		payoffAsset = paymentAsset
	}
	if inputAsset == payoffAsset {
		required.Add(required, payoff)
		return required, nil
	}
	leg, err := e.quoteExactOutput(inputAsset, payoffAsset, payoff)
	if err != nil {
		return nil, err
	}
	return required.Add(required, leg), nil
}

func (e *Engine) quoteExactOutput(inputAsset, outputAsset string, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if e.quoter == nil {
		return nil, ErrNoTradeData
	}
	quoted, err := e.quoter.QuoteExactOutput(inputAsset, outputAsset, amountOut)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(quoted), nil
}

// QuoteOffer returns the price and fee a seller would realise by accepting an
// offer. Offer fills pull the payment asset directly from the creator, so
// there is no swap leg to quote.
func (e *Engine) QuoteOffer(offerID uint64) (*Quote, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, ok := e.state.OfferGet(offerID)
	if !ok || offer == nil || offer.Creator == ([20]byte{}) {
		return nil, ErrOfferNotFound
	}
	if offer.Expired(e.now()) {
		return nil, ErrOfferExpired
	}
	return &Quote{
		Price:         cloneBigInt(offer.Price),
		Fee:           CalculateFee(offer.Price, e.fees.BpsFor(RouteInternalWallet)),
		LoanPayoff:    big.NewInt(0),
		PaymentAsset:  offer.PaymentAsset,
		InputAsset:    offer.PaymentAsset,
		RequiredInput: cloneBigInt(offer.Price),
	}, nil
}
