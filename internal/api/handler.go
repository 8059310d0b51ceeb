package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/ledger"
	"github.com/mtlprog/fundo/internal/nav"
	"github.com/mtlprog/fundo/internal/position"
	"github.com/mtlprog/fundo/internal/price"
	"github.com/mtlprog/fundo/internal/report"
	"github.com/mtlprog/fundo/internal/shares"
)

// Ledger records and lists transactions.
type Ledger interface {
	Insert(ctx context.Context, tx domain.Transaction) (int64, error)
	List(ctx context.Context, filter ledger.ListFilter) ([]domain.Transaction, error)
	Compensate(ctx context.Context, id int64, date time.Time, executedBy int64, notes string) ([]int64, error)
}

// Positions folds the ledger into holdings.
type Positions interface {
	Positions(ctx context.Context, filter position.Filter) (position.Report, error)
}

// Valuer computes the fund NAV.
type Valuer interface {
	Compute(ctx context.Context, asOf time.Time) (nav.Valuation, error)
}

// ShareLedger allocates shares for capital movements and reads ownership.
type ShareLedger interface {
	Deposit(ctx context.Context, req shares.MovementRequest) (shares.Allocation, error)
	Withdraw(ctx context.Context, req shares.MovementRequest) (shares.Allocation, error)
	Ownership(ctx context.Context, memberID int64, asOf time.Time) (shares.Ownership, error)
	Register(ctx context.Context, asOf time.Time) ([]shares.Ownership, nav.Valuation, error)
}

// Reports reads stored NAV reports.
type Reports interface {
	GetLatest(ctx context.Context) (*report.Report, error)
	GetByDate(ctx context.Context, date time.Time) (*report.Report, error)
	List(ctx context.Context, limit int) ([]report.Report, error)
}

// Backfills runs historical price fills in the background.
type Backfills interface {
	Start(req price.BackfillRequest) (uuid.UUID, error)
	Status(id uuid.UUID) (price.JobStatus, error)
	Cancel(id uuid.UUID) error
}

// Assets resolves registry assets by symbol.
type Assets interface {
	AssetBySymbol(ctx context.Context, symbol string) (domain.Asset, error)
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

// Services are the collaborators behind the HTTP API.
type Services struct {
	Ledger    Ledger
	Positions Positions
	NAV       Valuer
	Shares    ShareLedger
	Reports   Reports
	Backfills Backfills
	Assets    Assets
}

// Handler provides HTTP endpoints for the fund API.
type Handler struct {
	svc Services
	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// dateParam reads an optional YYYY-MM-DD query parameter, defaulting to today.
func (h *Handler) dateParam(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return domain.Day(h.now()), nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s, expected YYYY-MM-DD", name)
	}
	return d, nil
}

// idList parses a comma separated list of ids.
func idList(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeDomainError maps error kinds to HTTP statuses. Unclassified errors
// are logged and hidden behind a generic message.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidShape):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInsufficientShares):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUpstreamRateLimited), errors.Is(err, domain.ErrUpstreamTransient),
		errors.Is(err, domain.ErrPriceUnavailable):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("failed to "+op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
