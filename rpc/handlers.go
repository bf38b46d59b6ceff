package rpc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"synthchain/native/collateral"
	"synthchain/native/decmath"
	"synthchain/native/rates"
)

type systemResponse struct {
	AggregateDebt string   `json:"aggregateDebt"`
	MaxDebt       string   `json:"maxDebt"`
	Currencies    []string `json:"currencies"`
	Engines       []string `json:"engines"`
	UnitOfAccount string   `json:"unitOfAccount"`
}

type engineResponse struct {
	Name               string   `json:"name"`
	CollateralCurrency string   `json:"collateralCurrency"`
	Currencies         []string `json:"currencies"`
	MinCratio          string   `json:"minCratio"`
	Short              bool     `json:"short"`
	TotalLocked        string   `json:"totalLocked"`
}

type loanResponse struct {
	ID              uint64 `json:"id"`
	Borrower        string `json:"borrower"`
	Currency        string `json:"currency"`
	Short           bool   `json:"short"`
	Collateral      string `json:"collateral"`
	Principal       string `json:"principal"`
	AccruedInterest string `json:"accruedInterest"`
	Outstanding     string `json:"outstanding"`
	CollateralRatio string `json:"collateralRatio,omitempty"`
	LastInteraction uint64 `json:"lastInteraction"`
}

type currencyResponse struct {
	Currency    string `json:"currency"`
	Price       string `json:"price,omitempty"`
	TotalLong   string `json:"totalLong"`
	TotalShort  string `json:"totalShort"`
	BorrowRate  string `json:"borrowRate"`
	ShortRate   string `json:"shortRate"`
	BorrowIndex string `json:"borrowIndex"`
	ShortIndex  string `json:"shortIndex"`
}

type feesResponse struct {
	Totals map[string]string `json:"totals"`
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	resp := systemResponse{
		MaxDebt:       decmath.Format(s.manager.MaxDebt()),
		Currencies:    s.manager.Currencies(),
		UnitOfAccount: rates.UnitOfAccount,
	}
	for _, engine := range s.engines {
		resp.Engines = append(resp.Engines, engine.Name())
	}
	debt, err := s.manager.AggregateDebt()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "aggregate debt unavailable: "+err.Error())
		return
	}
	resp.AggregateDebt = decmath.Format(debt)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	out := make([]engineResponse, 0, len(s.engines))
	for _, engine := range s.engines {
		resp, err := s.describeEngine(engine)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, resp)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, engine := range s.engines {
		if engine.Name() != name {
			continue
		}
		resp, err := s.describeEngine(engine)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeError(w, http.StatusNotFound, "unknown engine "+name)
}

func (s *Server) describeEngine(engine *collateral.Collateral) (engineResponse, error) {
	locked, err := engine.TotalCollateralLocked()
	if err != nil {
		return engineResponse{}, err
	}
	return engineResponse{
		Name:               engine.Name(),
		CollateralCurrency: engine.CollateralCurrency(),
		Currencies:         engine.Currencies(),
		MinCratio:          decmath.Format(engine.MinCratio()),
		Short:              engine.IsShort(),
		TotalLocked:        decmath.Format(locked),
	}, nil
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid loan id")
		return
	}
	engine, loan, err := s.findLoan(id)
	if err != nil {
		if errors.Is(err, collateral.ErrLoanNotFound) {
			s.writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.describeLoan(engine, loan))
}

func (s *Server) handleBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	borrower, err := collateral.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	out := make([]loanResponse, 0)
	for _, engine := range s.engines {
		loans, err := engine.LoansByBorrower(borrower)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, loan := range loans {
			if !s.engineOwnsLoan(engine, loan) {
				continue
			}
			out = append(out, s.describeLoan(engine, loan))
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Currencies())
}

func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	known := false
	for _, currency := range s.manager.Currencies() {
		if currency == symbol {
			known = true
			break
		}
	}
	if !known {
		s.writeError(w, http.StatusNotFound, "unknown currency "+symbol)
		return
	}
	agg, err := s.manager.Snapshot(symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	borrowRate, err := s.manager.BorrowRate(symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	shortRate, err := s.manager.ShortRate(symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := currencyResponse{
		Currency:    symbol,
		TotalLong:   decmath.Format(agg.TotalLong),
		TotalShort:  decmath.Format(agg.TotalShort),
		BorrowRate:  decmath.Format(borrowRate),
		ShortRate:   decmath.Format(shortRate),
		BorrowIndex: decmath.Format(agg.BorrowIndex),
		ShortIndex:  decmath.Format(agg.ShortIndex),
	}
	if s.oracle != nil {
		if price, err := s.oracle.Price(symbol); err == nil {
			resp.Price = decmath.Format(price)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	resp := feesResponse{Totals: make(map[string]string)}
	if s.fees != nil {
		for _, currency := range s.fees.Currencies() {
			resp.Totals[currency] = decmath.Format(s.fees.Total(currency))
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// findLoan resolves a loan id to its record and the engine that manages it.
// Loan ids are global, so the first engine reporting the loan wins; the
// owning engine is identified by side and currency.
func (s *Server) findLoan(id uint64) (*collateral.Collateral, *collateral.Loan, error) {
	for _, engine := range s.engines {
		loan, err := engine.GetLoan(id)
		if err != nil {
			if errors.Is(err, collateral.ErrLoanNotFound) {
				return nil, nil, err
			}
			return nil, nil, err
		}
		if s.engineOwnsLoan(engine, loan) {
			return engine, loan, nil
		}
		// Shared ledger: any engine can read the record even when another
		// engine owns it.
		for _, other := range s.engines {
			if s.engineOwnsLoan(other, loan) {
				return other, loan, nil
			}
		}
		return nil, loan, nil
	}
	return nil, nil, collateral.ErrLoanNotFound
}

func (s *Server) engineOwnsLoan(engine *collateral.Collateral, loan *collateral.Loan) bool {
	if engine.IsShort() != loan.Short {
		return false
	}
	for _, currency := range engine.Currencies() {
		if currency == loan.Currency {
			return true
		}
	}
	return false
}

func (s *Server) describeLoan(engine *collateral.Collateral, loan *collateral.Loan) loanResponse {
	resp := loanResponse{
		ID:              loan.ID,
		Borrower:        loan.Borrower.Hex(),
		Currency:        loan.Currency,
		Short:           loan.Short,
		Collateral:      decmath.Format(loan.Collateral),
		Principal:       decmath.Format(loan.Principal),
		AccruedInterest: decmath.Format(loan.AccruedInterest),
		Outstanding:     decmath.Format(loan.Outstanding()),
		LastInteraction: loan.LastInteraction,
	}
	if engine != nil {
		if ratio, err := engine.CollateralRatio(loan.ID); err == nil {
			resp.CollateralRatio = decmath.Format(ratio)
		}
	}
	return resp
}
