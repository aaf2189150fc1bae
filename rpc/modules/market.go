package modules

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"vemarket/native/market"
)

// MarketModule exposes read-only marketplace views over RPC: listings, offers,
// quotes and operator approvals. Mutations go through the engine entrypoints
// directly and are not reachable from this surface.
type MarketModule struct {
	engine *market.Engine
}

// NewMarketModule constructs a marketplace RPC helper module.
func NewMarketModule(engine *market.Engine) *MarketModule {
	return &MarketModule{engine: engine}
}

var errModuleOffline = &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "market module not initialised"}

type positionParams struct {
	PositionID uint64 `json:"positionId"`
}

type offerParams struct {
	OfferID uint64 `json:"offerId"`
}

type quoteParams struct {
	PositionID uint64 `json:"positionId"`
	InputAsset string `json:"inputAsset"`
}

type operatorParams struct {
	Controller string `json:"controller"`
	Operator   string `json:"operator"`
}

// ListingResult represents a standing listing returned over RPC.
type ListingResult struct {
	Owner              string `json:"owner"`
	PositionID         uint64 `json:"positionId"`
	Price              string `json:"price"`
	PaymentAsset       string `json:"paymentAsset"`
	HasOutstandingLoan bool   `json:"hasOutstandingLoan"`
	ExpiresAt          int64  `json:"expiresAt"`
	CreatedAt          int64  `json:"createdAt"`
	Active             bool   `json:"active"`
}

// OfferResult represents a standing offer returned over RPC.
type OfferResult struct {
	ID            uint64 `json:"id"`
	Creator       string `json:"creator"`
	MinWeight     string `json:"minWeight"`
	MaxWeight     string `json:"maxWeight"`
	DebtTolerance string `json:"debtTolerance"`
	Price         string `json:"price"`
	PaymentAsset  string `json:"paymentAsset"`
	MaxLockTime   int64  `json:"maxLockTime"`
	ExpiresAt     int64  `json:"expiresAt"`
	CreatedAt     int64  `json:"createdAt"`
	Active        bool   `json:"active"`
}

// QuoteResult is the total-cost breakdown for taking a listing or an offer.
type QuoteResult struct {
	Price         string `json:"price"`
	Fee           string `json:"fee"`
	LoanPayoff    string `json:"loanPayoff"`
	Total         string `json:"total"`
	PaymentAsset  string `json:"paymentAsset"`
	InputAsset    string `json:"inputAsset"`
	RequiredInput string `json:"requiredInput"`
}

// OperatorResult reports one directional operator approval.
type OperatorResult struct {
	Controller string `json:"controller"`
	Operator   string `json:"operator"`
	Approved   bool   `json:"approved"`
}

func invalidParams(err error) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
}

func notFound(message string) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: message}
}

// GetListing resolves the standing listing for a position.
func (m *MarketModule) GetListing(raw json.RawMessage) (*ListingResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errModuleOffline
	}
	var params positionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	listing, ok := m.engine.GetListing(params.PositionID)
	if !ok {
		return nil, notFound("listing not found")
	}
	return &ListingResult{
		Owner:              "0x" + hex.EncodeToString(listing.Owner[:]),
		PositionID:         listing.PositionID,
		Price:              listing.Price.String(),
		PaymentAsset:       listing.PaymentAsset,
		HasOutstandingLoan: listing.HasOutstandingLoan,
		ExpiresAt:          listing.ExpiresAt,
		CreatedAt:          listing.CreatedAt,
		Active:             m.engine.ListingActive(listing.PositionID),
	}, nil
}

// GetOffer resolves a standing offer by identifier.
func (m *MarketModule) GetOffer(raw json.RawMessage) (*OfferResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errModuleOffline
	}
	var params offerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	offer, ok := m.engine.GetOffer(params.OfferID)
	if !ok {
		return nil, notFound("offer not found")
	}
	return &OfferResult{
		ID:            offer.ID,
		Creator:       "0x" + hex.EncodeToString(offer.Creator[:]),
		MinWeight:     offer.MinWeight.String(),
		MaxWeight:     offer.MaxWeight.String(),
		DebtTolerance: offer.DebtTolerance.String(),
		Price:         offer.Price.String(),
		PaymentAsset:  offer.PaymentAsset,
		MaxLockTime:   offer.MaxLockTime,
		ExpiresAt:     offer.ExpiresAt,
		CreatedAt:     offer.CreatedAt,
		Active:        m.engine.OfferActive(offer.ID),
	}, nil
}

// QuoteListing answers the total cost of taking a listing with the supplied
// input asset. Failures mirror what a settlement attempt would return.
func (m *MarketModule) QuoteListing(raw json.RawMessage) (*QuoteResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errModuleOffline
	}
	var params quoteParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	quote, err := m.engine.QuoteListing(params.PositionID, params.InputAsset)
	if err != nil {
		return nil, quoteError(err)
	}
	return quoteResult(quote), nil
}

// QuoteOffer answers the price and fee a seller would realise by accepting an
// offer.
func (m *MarketModule) QuoteOffer(raw json.RawMessage) (*QuoteResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errModuleOffline
	}
	var params offerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	quote, err := m.engine.QuoteOffer(params.OfferID)
	if err != nil {
		return nil, quoteError(err)
	}
	return quoteResult(quote), nil
}

// IsApprovedOperator reports whether operator may act for controller.
func (m *MarketModule) IsApprovedOperator(raw json.RawMessage) (*OperatorResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errModuleOffline
	}
	var params operatorParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}
	controller, err := decodeHexAddress(params.Controller)
	if err != nil {
		return nil, invalidParams(err)
	}
	operator, err := decodeHexAddress(params.Operator)
	if err != nil {
		return nil, invalidParams(err)
	}
	return &OperatorResult{
		Controller: params.Controller,
		Operator:   params.Operator,
		Approved:   m.engine.IsApprovedOperator(controller, operator),
	}, nil
}

func quoteResult(quote *market.Quote) *QuoteResult {
	return &QuoteResult{
		Price:         quote.Price.String(),
		Fee:           quote.Fee.String(),
		LoanPayoff:    quote.LoanPayoff.String(),
		Total:         quote.Total().String(),
		PaymentAsset:  quote.PaymentAsset,
		InputAsset:    quote.InputAsset,
		RequiredInput: quote.RequiredInput.String(),
	}
}

func quoteError(err error) *ModuleError {
	switch {
	case errors.Is(err, market.ErrListingNotFound), errors.Is(err, market.ErrOfferNotFound):
		return notFound(err.Error())
	case errors.Is(err, market.ErrListingExpired), errors.Is(err, market.ErrOfferExpired),
		errors.Is(err, market.ErrInvalidPaymentToken):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	default:
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
}

func decodeHexAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(decoded) != 20 {
		return addr, errors.New("address must be 20 bytes")
	}
	copy(addr[:], decoded)
	return addr, nil
}
