package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// NewServer creates an HTTP server with all routes configured.
func NewServer(port string, svc Services, adminAPIKey string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(svc, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter registers every route. Mutating routes require the admin key
// when one is configured.
func NewRouter(svc Services, adminAPIKey string) http.Handler {
	handler := NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/nav", handler.GetNAV)
	mux.HandleFunc("GET /api/v1/members/{id}/ownership", handler.GetOwnership)
	mux.HandleFunc("GET /api/v1/shares", handler.GetShares)
	mux.HandleFunc("GET /api/v1/positions", handler.GetPositions)
	mux.HandleFunc("GET /api/v1/transactions", handler.ListTransactions)
	mux.HandleFunc("GET /api/v1/reports/latest", handler.GetLatestReport)
	mux.HandleFunc("GET /api/v1/reports/{date}", handler.GetReportByDate)
	mux.HandleFunc("GET /api/v1/reports", handler.ListReports)
	mux.HandleFunc("GET /api/v1/prices/backfill/{id}", handler.GetBackfill)

	protect := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}
	mux.Handle("POST /api/v1/transactions", protect(handler.CreateTransaction))
	mux.Handle("POST /api/v1/transactions/{id}/compensate", protect(handler.CompensateTransaction))
	mux.Handle("POST /api/v1/capital/deposits", protect(handler.CreateDeposit))
	mux.Handle("POST /api/v1/capital/withdrawals", protect(handler.CreateWithdrawal))
	mux.Handle("POST /api/v1/prices/backfill", protect(handler.StartBackfill))
	mux.Handle("DELETE /api/v1/prices/backfill/{id}", protect(handler.CancelBackfill))

	return mux
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
