package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/price"
)

type backfillRequest struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Symbols   []string `json:"symbols"`
	BatchSize int      `json:"batchSize"`
	Overwrite bool     `json:"overwrite"`
}

// StartBackfill handles POST /api/v1/prices/backfill. Without symbols every
// priced asset is filled; End defaults to today.
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := domain.ParseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start, expected YYYY-MM-DD")
		return
	}
	end := domain.Day(h.now())
	if req.End != "" {
		if end, err = domain.ParseDate(req.End); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end, expected YYYY-MM-DD")
			return
		}
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end precedes start")
		return
	}

	assets, err := h.backfillAssets(r, req.Symbols)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeDomainError(w, "resolve backfill assets", err)
		return
	}
	if len(assets) == 0 {
		writeError(w, http.StatusBadRequest, "no priced assets to fill")
		return
	}

	id, err := h.svc.Backfills.Start(price.BackfillRequest{
		Start:     start,
		End:       end,
		Assets:    assets,
		BatchSize: req.BatchSize,
		Overwrite: req.Overwrite,
	})
	if err != nil {
		writeDomainError(w, "start backfill", err)
		return
	}
	w.Header().Set("Location", "/api/v1/prices/backfill/"+id.String())
	writeJSON(w, http.StatusAccepted, map[string]uuid.UUID{"id": id})
}

func (h *Handler) backfillAssets(r *http.Request, symbols []string) ([]domain.Asset, error) {
	if len(symbols) == 0 {
		all, err := h.svc.Assets.ListAssets(r.Context())
		if err != nil {
			return nil, err
		}
		return lo.Filter(all, func(a domain.Asset, _ int) bool { return a.Priceable() }), nil
	}
	var assets []domain.Asset
	for _, sym := range lo.Uniq(lo.Map(symbols, func(s string, _ int) string { return domain.NormalizeSymbol(s) })) {
		a, err := h.svc.Assets.AssetBySymbol(r.Context(), sym)
		if err != nil {
			return nil, fmt.Errorf("unknown asset %s: %w", sym, err)
		}
		if a.Priceable() {
			assets = append(assets, a)
		}
	}
	return assets, nil
}

// GetBackfill handles GET /api/v1/prices/backfill/{id}.
func (h *Handler) GetBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	status, err := h.svc.Backfills.Status(id)
	if err != nil {
		writeDomainError(w, "read backfill status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CancelBackfill handles DELETE /api/v1/prices/backfill/{id}.
func (h *Handler) CancelBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := h.svc.Backfills.Cancel(id); err != nil {
		writeDomainError(w, "cancel backfill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
