package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/events"
	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const HeaderAccountID = "X-Account-Id"

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(withAccount)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// withAccount moves the caller's account and the request id into the
// context. Authentication happens in front of this service.
func withAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := events.WithTrace(r.Context(), middleware.GetReqID(r.Context()))
		if id := strings.TrimSpace(r.Header.Get(HeaderAccountID)); id != "" {
			ctx = reservation.WithAccount(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reservation.AccountFromContext(r.Context()) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderAccountID})
			return
		}
		next.ServeHTTP(w, r)
	})
}
