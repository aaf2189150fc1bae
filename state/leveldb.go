package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"vemarket/core/types"
	"vemarket/native/market"
)

const (
	listingPrefix  = "market/listing/"
	offerPrefix    = "market/offer/"
	offerCounter   = "market/offer-counter"
	approvalPrefix = "market/approval/"
	accountPrefix  = "account/"
)

// LevelDBStore persists the marketplace state in a goleveldb database. It
// keeps a write journal between snapshots so a failed settlement attempt can
// restore the exact prior key contents.
type LevelDBStore struct {
	db      *leveldb.DB
	mu      sync.Mutex
	journal map[string][]byte
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open leveldb: %w", err)
	}
	return &LevelDBStore{db: db, journal: make(map[string][]byte)}, nil
}

// Close releases the underlying database handle.
func (s *LevelDBStore) Close() error { return s.db.Close() }

type storedListing struct {
	Owner              string `json:"owner"`
	PositionID         uint64 `json:"positionId"`
	Price              string `json:"price"`
	PaymentAsset       string `json:"paymentAsset"`
	HasOutstandingLoan bool   `json:"hasOutstandingLoan"`
	ExpiresAt          int64  `json:"expiresAt"`
	CreatedAt          int64  `json:"createdAt"`
}

type storedOffer struct {
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
}

type storedAccount struct {
	Nonce    uint64            `json:"nonce"`
	Balances map[string]string `json:"balances"`
}

func encodeAddress(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func decodeAddress(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return addr, fmt.Errorf("state: bad address %q", s)
	}
	copy(addr[:], raw)
	return addr, nil
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: bad amount %q", s)
	}
	return v, nil
}

func (s *LevelDBStore) get(key string) ([]byte, bool, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// record captures the current value of key into the active journal before it
// is overwritten or deleted. First write wins.
func (s *LevelDBStore) record(key string) error {
	if _, seen := s.journal[key]; seen {
		return nil
	}
	raw, ok, err := s.get(key)
	if err != nil {
		return err
	}
	if !ok {
		s.journal[key] = nil
		return nil
	}
	s.journal[key] = append([]byte(nil), raw...)
	return nil
}

func (s *LevelDBStore) put(key string, value []byte) error {
	if err := s.record(key); err != nil {
		return err
	}
	return s.db.Put([]byte(key), value, nil)
}

func (s *LevelDBStore) delete(key string) error {
	if err := s.record(key); err != nil {
		return err
	}
	return s.db.Delete([]byte(key), nil)
}

// ListingPut stores or replaces the listing for its position.
func (s *LevelDBStore) ListingPut(l *market.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(storedListing{
		Owner:              encodeAddress(l.Owner),
		PositionID:         l.PositionID,
		Price:              encodeAmount(l.Price),
		PaymentAsset:       l.PaymentAsset,
		HasOutstandingLoan: l.HasOutstandingLoan,
		ExpiresAt:          l.ExpiresAt,
		CreatedAt:          l.CreatedAt,
	})
	if err != nil {
		return err
	}
	return s.put(listingPrefix+strconv.FormatUint(l.PositionID, 10), raw)
}

// ListingGet returns the listing for a position, if present.
func (s *LevelDBStore) ListingGet(positionID uint64) (*market.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.get(listingPrefix + strconv.FormatUint(positionID, 10))
	if err != nil || !ok {
		return nil, false
	}
	var stored storedListing
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false
	}
	owner, err := decodeAddress(stored.Owner)
	if err != nil {
		return nil, false
	}
	price, err := decodeAmount(stored.Price)
	if err != nil {
		return nil, false
	}
	return &market.Listing{
		Owner:              owner,
		PositionID:         stored.PositionID,
		Price:              price,
		PaymentAsset:       stored.PaymentAsset,
		HasOutstandingLoan: stored.HasOutstandingLoan,
		ExpiresAt:          stored.ExpiresAt,
		CreatedAt:          stored.CreatedAt,
	}, true
}

// ListingDelete removes the listing for a position.
func (s *LevelDBStore) ListingDelete(positionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(listingPrefix + strconv.FormatUint(positionID, 10))
}

// OfferPut stores or replaces an offer.
func (s *LevelDBStore) OfferPut(o *market.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(storedOffer{
		ID:            o.ID,
		Creator:       encodeAddress(o.Creator),
		MinWeight:     encodeAmount(o.MinWeight),
		MaxWeight:     encodeAmount(o.MaxWeight),
		DebtTolerance: encodeAmount(o.DebtTolerance),
		Price:         encodeAmount(o.Price),
		PaymentAsset:  o.PaymentAsset,
		MaxLockTime:   o.MaxLockTime,
		ExpiresAt:     o.ExpiresAt,
		CreatedAt:     o.CreatedAt,
	})
	if err != nil {
		return err
	}
	return s.put(offerPrefix+strconv.FormatUint(o.ID, 10), raw)
}

// OfferGet returns the offer for an identifier, if present.
func (s *LevelDBStore) OfferGet(id uint64) (*market.Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.get(offerPrefix + strconv.FormatUint(id, 10))
	if err != nil || !ok {
		return nil, false
	}
	var stored storedOffer
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false
	}
	creator, err := decodeAddress(stored.Creator)
	if err != nil {
		return nil, false
	}
	offer := &market.Offer{
		ID:           stored.ID,
		Creator:      creator,
		PaymentAsset: stored.PaymentAsset,
		MaxLockTime:  stored.MaxLockTime,
		ExpiresAt:    stored.ExpiresAt,
		CreatedAt:    stored.CreatedAt,
	}
	for _, field := range []struct {
		raw string
		dst **big.Int
	}{
		{stored.MinWeight, &offer.MinWeight},
		{stored.MaxWeight, &offer.MaxWeight},
		{stored.DebtTolerance, &offer.DebtTolerance},
		{stored.Price, &offer.Price},
	} {
		amount, err := decodeAmount(field.raw)
		if err != nil {
			return nil, false
		}
		*field.dst = amount
	}
	return offer, true
}

// OfferDelete removes an offer.
func (s *LevelDBStore) OfferDelete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(offerPrefix + strconv.FormatUint(id, 10))
}

// NextOfferID returns the next monotonically increasing offer identifier.
// The counter is persisted so identifiers are never reused across restarts.
func (s *LevelDBStore) NextOfferID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := uint64(1)
	raw, ok, err := s.get(offerCounter)
	if err != nil {
		return 0, err
	}
	if ok {
		prev, parseErr := strconv.ParseUint(string(raw), 10, 64)
		if parseErr != nil {
			return 0, parseErr
		}
		next = prev + 1
	}
	if err := s.put(offerCounter, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// OperatorApprove records or clears an operator approval.
func (s *LevelDBStore) OperatorApprove(controller, operator [20]byte, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := approvalPrefix + encodeAddress(controller) + "/" + encodeAddress(operator)
	if approved {
		return s.put(key, []byte{1})
	}
	return s.delete(key)
}

// OperatorApproved reports whether operator may act for controller.
func (s *LevelDBStore) OperatorApproved(controller, operator [20]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.get(approvalPrefix + encodeAddress(controller) + "/" + encodeAddress(operator))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// GetAccount returns the account stored for an address, or nil when absent.
func (s *LevelDBStore) GetAccount(addr []byte) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.get(accountPrefix + hex.EncodeToString(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var stored storedAccount
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	account := &types.Account{Nonce: stored.Nonce, Balances: make(map[string]*big.Int, len(stored.Balances))}
	for asset, amount := range stored.Balances {
		decoded, decodeErr := decodeAmount(amount)
		if decodeErr != nil {
			return nil, decodeErr
		}
		account.Balances[asset] = decoded
	}
	return account, nil
}

// PutAccount stores the account for an address.
func (s *LevelDBStore) PutAccount(addr []byte, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := storedAccount{Nonce: account.Nonce, Balances: make(map[string]string, len(account.Balances))}
	for asset, amount := range account.Balances {
		stored.Balances[asset] = encodeAmount(amount)
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.put(accountPrefix+hex.EncodeToString(addr), raw)
}

// Snapshot starts a fresh write journal and returns a function that restores
// every key touched since, giving settlement attempts all-or-nothing
// semantics.
func (s *LevelDBStore) Snapshot() func() {
	s.mu.Lock()
	journal := make(map[string][]byte)
	s.journal = journal
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for key, prev := range journal {
			if prev == nil {
				_ = s.db.Delete([]byte(key), nil)
				continue
			}
			_ = s.db.Put([]byte(key), prev, nil)
		}
		for key := range journal {
			delete(journal, key)
		}
	}
}
