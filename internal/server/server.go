// Package server exposes the subscription and notification HTTP API.
package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/squadx-live/notify-server/internal/push"
	"github.com/squadx-live/notify-server/internal/store"
)

// Server holds shared dependencies for all HTTP handlers.
type Server struct {
	Store          *store.Store
	Sender         *push.Sender
	AdminKey       string
	WelcomeMessage string
	// WelcomeDelay defaults to one second.
	WelcomeDelay time.Duration
	Logger       *zap.Logger
	// SubscribeLimiter throttles public subscription writes; nil disables it.
	SubscribeLimiter *rate.Limiter
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter sets up all routes and returns the top-level handler.
func (s *Server) NewRouter(corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /healthz", s.HandleHealth)
	mux.HandleFunc("GET /vapid-public-key", s.HandleGetVAPIDPublicKey)
	mux.HandleFunc("POST /subscriptions", s.rateLimit(s.HandlePostSubscription))
	mux.HandleFunc("DELETE /subscriptions", s.HandleDeleteSubscriptionByEndpoint)
	mux.HandleFunc("POST /topics/{topic}/notify", s.HandleTopicNotify)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	// Admin endpoints
	mux.HandleFunc("GET /subscriptions", s.requireAuth(s.HandleListSubscriptions))
	mux.HandleFunc("DELETE /subscriptions/{id}", s.requireAuth(s.HandleDeleteSubscriptionByID))
	mux.HandleFunc("GET /subscriptions/{id}/deliveries", s.requireAuth(s.HandleDeliveryCount))
	mux.HandleFunc("POST /notify", s.requireAuth(s.HandleNotify))
	mux.HandleFunc("DELETE /delivery-log", s.requireAuth(s.HandlePurgeDeliveryLog))

	// Apply middleware stack: CORS → logging → content-type validation
	var handler http.Handler = mux
	handler = contentTypeMiddleware(handler)
	handler = loggingMiddleware(s.logger())(handler)
	handler = corsMiddleware(corsOrigin)(handler)

	return handler
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// corsMiddleware sets CORS headers and handles preflight OPTIONS requests.
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs method, path, status, and duration for each request.
func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// contentTypeMiddleware validates Content-Type for POST and DELETE with body.
func contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodDelete) && r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Content-Type must be application/json, got %q", ct))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects requests once SubscribeLimiter runs out of tokens.
func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.SubscribeLimiter != nil && !s.SubscribeLimiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

// requireAuth wraps a handler with bearer token authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.AdminKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
