package state

import (
	"sync"

	"vemarket/core/types"
	"vemarket/native/market"
)

// MemoryStore is an in-memory implementation of the marketplace state
// surface. It backs tests and single-process deployments; the RWMutex exists
// for concurrent read-only views, mutating calls are serialized by the
// engine.
type MemoryStore struct {
	mu          sync.RWMutex
	listings    map[uint64]*market.Listing
	offers      map[uint64]*market.Offer
	nextOfferID uint64
	approvals   map[[40]byte]bool
	accounts    map[[20]byte]*types.Account
}

// NewMemoryStore returns an empty store. Offer identifiers start at 1 and
// are never reused.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:  make(map[uint64]*market.Listing),
		offers:    make(map[uint64]*market.Offer),
		approvals: make(map[[40]byte]bool),
		accounts:  make(map[[20]byte]*types.Account),
	}
}

func approvalKey(controller, operator [20]byte) [40]byte {
	var key [40]byte
	copy(key[:20], controller[:])
	copy(key[20:], operator[:])
	return key
}

// ListingPut stores or replaces the listing for its position.
func (s *MemoryStore) ListingPut(l *market.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.PositionID] = l.Clone()
	return nil
}

// ListingGet returns the listing for a position, if present.
func (s *MemoryStore) ListingGet(positionID uint64) (*market.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listing, ok := s.listings[positionID]
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

// ListingDelete removes the listing for a position.
func (s *MemoryStore) ListingDelete(positionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listings, positionID)
	return nil
}

// OfferPut stores or replaces an offer.
func (s *MemoryStore) OfferPut(o *market.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = o.Clone()
	return nil
}

// OfferGet returns the offer for an identifier, if present.
func (s *MemoryStore) OfferGet(id uint64) (*market.Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[id]
	if !ok {
		return nil, false
	}
	return offer.Clone(), true
}

// OfferDelete removes an offer.
func (s *MemoryStore) OfferDelete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offers, id)
	return nil
}

// NextOfferID returns the next monotonically increasing offer identifier.
func (s *MemoryStore) NextOfferID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOfferID++
	return s.nextOfferID, nil
}

// OperatorApprove records or clears an operator approval.
func (s *MemoryStore) OperatorApprove(controller, operator [20]byte, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := approvalKey(controller, operator)
	if approved {
		s.approvals[key] = true
		return nil
	}
	delete(s.approvals, key)
	return nil
}

// OperatorApproved reports whether operator may act for controller.
func (s *MemoryStore) OperatorApproved(controller, operator [20]byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approvals[approvalKey(controller, operator)], nil
}

// GetAccount returns the account stored for an address, or nil when absent.
func (s *MemoryStore) GetAccount(addr []byte) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var key [20]byte
	copy(key[:], addr)
	acc, ok := s.accounts[key]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

// PutAccount stores the account for an address.
func (s *MemoryStore) PutAccount(addr []byte, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var key [20]byte
	copy(key[:], addr)
	s.accounts[key] = account.Clone()
	return nil
}

// Snapshot captures the full store contents and returns a function that
// restores them, giving settlement attempts all-or-nothing semantics.
func (s *MemoryStore) Snapshot() func() {
	s.mu.RLock()
	listings := make(map[uint64]*market.Listing, len(s.listings))
	for id, listing := range s.listings {
		listings[id] = listing.Clone()
	}
	offers := make(map[uint64]*market.Offer, len(s.offers))
	for id, offer := range s.offers {
		offers[id] = offer.Clone()
	}
	approvals := make(map[[40]byte]bool, len(s.approvals))
	for key, ok := range s.approvals {
		approvals[key] = ok
	}
	accounts := make(map[[20]byte]*types.Account, len(s.accounts))
	for addr, acc := range s.accounts {
		accounts[addr] = acc.Clone()
	}
	nextOfferID := s.nextOfferID
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listings = listings
		s.offers = offers
		s.approvals = approvals
		s.accounts = accounts
		s.nextOfferID = nextOfferID
	}
}
