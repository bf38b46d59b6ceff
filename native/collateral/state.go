package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"synthchain/storage"
)

const (
	loanKeyFormat      = "collateral/loans/%020d"
	borrowerKeyFormat  = "collateral/borrowers/%x"
	aggregateKeyFormat = "collateral/aggregates/%s"
	lockedKeyFormat    = "collateral/locked/%s"
	loanSeqKey         = "collateral/loan-seq"
)

// State persists loan records, the per-borrower index, the manager's
// per-currency aggregates, each engine's locked-collateral total and the
// global loan-id sequence. It holds no business rules; engines and the
// manager are its only writers.
type State struct {
	db storage.Database
	mu sync.RWMutex
}

// NewState constructs a ledger backed by the supplied key-value store.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

type storedLoan struct {
	ID              uint64
	Borrower        []byte
	Collateral      []byte
	Principal       []byte
	Currency        string
	Short           bool
	InterestIndex   []byte
	AccruedInterest []byte
	LastInteraction uint64
}

type storedAggregate struct {
	Currency    string
	TotalLong   []byte
	TotalShort  []byte
	BorrowIndex []byte
	ShortIndex  []byte
	LastAccrual uint64
}

// GetLoan returns a deep copy of the loan or ErrLoanNotFound.
func (s *State) GetLoan(id uint64) (*Loan, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLoanLocked(id)
}

func (s *State) getLoanLocked(id uint64) (*Loan, error) {
	raw, err := s.db.Get([]byte(fmt.Sprintf(loanKeyFormat, id)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
		}
		return nil, err
	}
	var stored storedLoan
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("collateral: decode loan %d: %w", id, err)
	}
	loan := &Loan{
		ID:              stored.ID,
		Currency:        stored.Currency,
		Short:           stored.Short,
		Collateral:      new(big.Int).SetBytes(stored.Collateral),
		Principal:       new(big.Int).SetBytes(stored.Principal),
		InterestIndex:   new(big.Int).SetBytes(stored.InterestIndex),
		AccruedInterest: new(big.Int).SetBytes(stored.AccruedInterest),
		LastInteraction: stored.LastInteraction,
	}
	copy(loan.Borrower[:], stored.Borrower)
	loan.ensureDefaults()
	return loan, nil
}

// PutLoan writes the loan record and maintains the borrower index.
func (s *State) PutLoan(loan *Loan) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	if loan == nil {
		return errors.New("collateral: nil loan")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loan.ensureDefaults()
	stored := storedLoan{
		ID:              loan.ID,
		Borrower:        append([]byte(nil), loan.Borrower[:]...),
		Collateral:      loan.Collateral.Bytes(),
		Principal:       loan.Principal.Bytes(),
		Currency:        loan.Currency,
		Short:           loan.Short,
		InterestIndex:   loan.InterestIndex.Bytes(),
		AccruedInterest: loan.AccruedInterest.Bytes(),
		LastInteraction: loan.LastInteraction,
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("collateral: encode loan %d: %w", loan.ID, err)
	}
	if err := s.db.Put([]byte(fmt.Sprintf(loanKeyFormat, loan.ID)), encoded); err != nil {
		return err
	}
	return s.indexLoanLocked(loan.Borrower, loan.ID)
}

// DeleteLoan removes a closed loan and its borrower-index entry.
func (s *State) DeleteLoan(id uint64, borrower Address) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete([]byte(fmt.Sprintf(loanKeyFormat, id))); err != nil {
		return err
	}
	ids, err := s.borrowerIDsLocked(borrower)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return s.putBorrowerIDsLocked(borrower, filtered)
}

// LoanIDsByBorrower lists a borrower's open loan ids in open order.
func (s *State) LoanIDsByBorrower(borrower Address) ([]uint64, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.borrowerIDsLocked(borrower)
}

// LoansByBorrower resolves the borrower index into loan copies.
func (s *State) LoansByBorrower(borrower Address) ([]*Loan, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.borrowerIDsLocked(borrower)
	if err != nil {
		return nil, err
	}
	loans := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, err := s.getLoanLocked(id)
		if err != nil {
			if errors.Is(err, ErrLoanNotFound) {
				continue
			}
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

// NextLoanID increments and returns the global loan sequence. The first loan
// receives id 1.
func (s *State) NextLoanID() (uint64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	raw, err := s.db.Get([]byte(loanSeqKey))
	switch {
	case err == nil:
		if err := rlp.DecodeBytes(raw, &current); err != nil {
			return 0, fmt.Errorf("collateral: decode loan sequence: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, err
	}

	next := current + 1
	encoded, err := rlp.EncodeToBytes(next)
	if err != nil {
		return 0, err
	}
	if err := s.db.Put([]byte(loanSeqKey), encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// Aggregate returns a deep copy of the per-currency aggregate, creating a
// zeroed record on first access.
func (s *State) Aggregate(currency string) (*CurrencyAggregate, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.db.Get([]byte(fmt.Sprintf(aggregateKeyFormat, currency)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			agg := &CurrencyAggregate{Currency: currency}
			agg.ensureDefaults()
			return agg, nil
		}
		return nil, err
	}
	var stored storedAggregate
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("collateral: decode aggregate %s: %w", currency, err)
	}
	agg := &CurrencyAggregate{
		Currency:    stored.Currency,
		TotalLong:   new(big.Int).SetBytes(stored.TotalLong),
		TotalShort:  new(big.Int).SetBytes(stored.TotalShort),
		BorrowIndex: new(big.Int).SetBytes(stored.BorrowIndex),
		ShortIndex:  new(big.Int).SetBytes(stored.ShortIndex),
		LastAccrual: stored.LastAccrual,
	}
	agg.ensureDefaults()
	return agg, nil
}

// PutAggregate persists the per-currency aggregate.
func (s *State) PutAggregate(agg *CurrencyAggregate) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	if agg == nil {
		return errors.New("collateral: nil aggregate")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	agg.ensureDefaults()
	stored := storedAggregate{
		Currency:    agg.Currency,
		TotalLong:   agg.TotalLong.Bytes(),
		TotalShort:  agg.TotalShort.Bytes(),
		BorrowIndex: agg.BorrowIndex.Bytes(),
		ShortIndex:  agg.ShortIndex.Bytes(),
		LastAccrual: agg.LastAccrual,
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("collateral: encode aggregate %s: %w", agg.Currency, err)
	}
	return s.db.Put([]byte(fmt.Sprintf(aggregateKeyFormat, agg.Currency)), encoded)
}

// TotalLocked reports an engine's total locked collateral.
func (s *State) TotalLocked(engine string) (*big.Int, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.db.Get([]byte(fmt.Sprintf(lockedKeyFormat, engine)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// PutTotalLocked stores an engine's total locked collateral.
func (s *State) PutTotalLocked(engine string, total *big.Int) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	if total == nil || total.Sign() < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put([]byte(fmt.Sprintf(lockedKeyFormat, engine)), total.Bytes())
}

func (s *State) borrowerIDsLocked(borrower Address) ([]uint64, error) {
	raw, err := s.db.Get([]byte(fmt.Sprintf(borrowerKeyFormat, borrower[:])))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("collateral: decode borrower index: %w", err)
	}
	return ids, nil
}

func (s *State) putBorrowerIDsLocked(borrower Address, ids []uint64) error {
	key := []byte(fmt.Sprintf(borrowerKeyFormat, borrower[:]))
	if len(ids) == 0 {
		return s.db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

func (s *State) indexLoanLocked(borrower Address, id uint64) error {
	ids, err := s.borrowerIDsLocked(borrower)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.putBorrowerIDsLocked(borrower, append(ids, id))
}
