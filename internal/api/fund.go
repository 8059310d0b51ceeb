package api

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/ledger"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/position"
	"github.com/mtlprog/fundo/internal/shares"
)

// GetNAV handles GET /api/v1/nav?date=.
func (h *Handler) GetNAV(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.svc.NAV.Compute(r.Context(), date)
	if err != nil {
		writeDomainError(w, "compute NAV", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetOwnership handles GET /api/v1/members/{id}/ownership?date=.
func (h *Handler) GetOwnership(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	date, err := h.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.svc.Shares.Ownership(r.Context(), memberID, date)
	if err != nil {
		writeDomainError(w, "read ownership", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type registerResponse struct {
	Valuation nav.Valuation      `json:"valuation"`
	Register  []shares.Ownership `json:"register"`
}

// GetShares handles GET /api/v1/shares?date=.
func (h *Handler) GetShares(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	register, v, err := h.svc.Shares.Register(r.Context(), date)
	if err != nil {
		writeDomainError(w, "build share register", err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Valuation: v, Register: register})
}

// GetPositions handles GET /api/v1/positions?date=&account=&category=&tag=&include_no_account=.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := h.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accounts, err := idList(q.Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := position.Filter{
		AsOf:             date,
		AccountIDs:       accounts,
		TagCodes:         splitList(q.Get("tag")),
		IncludeNoAccount: q.Get("include_no_account") == "true",
	}
	for _, name := range splitList(q.Get("category")) {
		c, err := domain.ParseAccountCategory(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Categories = append(filter.Categories, c)
	}

	rep, err := h.svc.Positions.Positions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "compute positions", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListTransactions handles GET /api/v1/transactions?from=&to=&type=&account=&tag=&limit=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.ListFilter
	var err error
	if s := q.Get("from"); s != "" {
		if filter.From, err = domain.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from, expected YYYY-MM-DD")
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if filter.To, err = domain.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to, expected YYYY-MM-DD")
			return
		}
	}
	if s := q.Get("type"); s != "" {
		if filter.Type, err = domain.ParseTxType(s); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if filter.AccountIDs, err = idList(q.Get("account")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.TagCodes = splitList(q.Get("tag"))
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	txs, err := h.svc.Ledger.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// transactionRequest is a ledger row with a calendar date.
type transactionRequest struct {
	domain.Transaction
	Date string `json:"date"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// CreateTransaction handles POST /api/v1/transactions.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	tx := req.Transaction
	tx.Date = date

	id, err := h.svc.Ledger.Insert(r.Context(), tx)
	if err != nil {
		writeDomainError(w, "insert transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

type compensateRequest struct {
	Date       string `json:"date"`
	ExecutedBy int64  `json:"executedBy"`
	Notes      string `json:"notes"`
}

// CompensateTransaction handles POST /api/v1/transactions/{id}/compensate.
func (h *Handler) CompensateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	var req compensateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	ids, err := h.svc.Ledger.Compensate(r.Context(), id, date, req.ExecutedBy, req.Notes)
	if err != nil {
		writeDomainError(w, "compensate transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]int64{"ids": ids})
}

type movementRequest struct {
	MemberID    int64           `json:"memberId"`
	Date        string          `json:"date"`
	AmountEUR   decimal.Decimal `json:"amountEur"`
	ExitAll     bool            `json:"exitAll"`
	Description string          `json:"description"`
}

// CreateDeposit handles POST /api/v1/capital/deposits.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	h.capitalMovement(w, r, domain.MovementDeposit)
}

// CreateWithdrawal handles POST /api/v1/capital/withdrawals.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.capitalMovement(w, r, domain.MovementWithdrawal)
}

func (h *Handler) capitalMovement(w http.ResponseWriter, r *http.Request, kind domain.MovementType) {
	var req movementRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	mr := shares.MovementRequest{
		MemberID:    req.MemberID,
		Date:        date,
		AmountEUR:   req.AmountEUR,
		ExitAll:     req.ExitAll,
		Description: req.Description,
	}

	var alloc shares.Allocation
	if kind == domain.MovementDeposit {
		alloc, err = h.svc.Shares.Deposit(r.Context(), mr)
	} else {
		alloc, err = h.svc.Shares.Withdraw(r.Context(), mr)
	}
	if err != nil {
		writeDomainError(w, "record capital "+string(kind), err)
		return
	}
	writeJSON(w, http.StatusCreated, alloc)
}
