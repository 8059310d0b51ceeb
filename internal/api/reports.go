package api

import (
	"net/http"
	"strconv"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/report"
)

// GetLatestReport handles GET /api/v1/reports/latest.
func (h *Handler) GetLatestReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Reports.GetLatest(r.Context())
	if err != nil {
		writeDomainError(w, "get latest report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetReportByDate handles GET /api/v1/reports/{date}.
func (h *Handler) GetReportByDate(w http.ResponseWriter, r *http.Request) {
	date, err := domain.ParseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}
	rep, err := h.svc.Reports.GetByDate(r.Context(), date)
	if err != nil {
		writeDomainError(w, "get report by date", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListReports handles GET /api/v1/reports?limit=.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 365
	limit := report.DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxLimit)
		}
	}

	reports, err := h.svc.Reports.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "list reports", err)
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}
