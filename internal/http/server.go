// Package http exposes the ledger over a JSON API: CRUD endpoints per
// entity, the sync status/delta endpoints and a websocket change feed.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
	"conti/internal/storage"

	"github.com/go-playground/validator/v10"
)

type Server struct {
	http.Server
	ledger      *ledger.Service
	repo        *storage.Repository
	auth        *Authenticator
	hub         *Hub
	logger      *applog.Logger
	validate    *validator.Validate
	rateLimiter *rateLimiter

	// Per-user cached collection responses for the download endpoints,
	// invalidated on any mutation for that user.
	accountsCache   *cache.Cache[[]accountResponse]
	categoriesCache *cache.Cache[[]categoryResponse]

	shutdownOnce sync.Once
}

// NewServer configures all routes and returns a ready-to-run http.Server.
func NewServer(addr string, svc *ledger.Service, repo *storage.Repository, auth *Authenticator, hub *Hub) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		ledger:          svc,
		repo:            repo,
		auth:            auth,
		hub:             hub,
		logger:          applog.New(applog.Config{Component: applog.ComponentHTTP, Handler: slog.Default().Handler()}),
		validate:        validator.New(),
		rateLimiter:     newRateLimiter(),
		accountsCache:   cache.New[[]accountResponse](1000, 5*time.Minute),
		categoriesCache: cache.New[[]categoryResponse](1000, 5*time.Minute),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("POST /transactions", s.protected(s.handleCreateTransaction))
	mux.HandleFunc("GET /transactions", s.protected(s.handleListTransactions))
	mux.HandleFunc("PUT /transactions/{id}", s.protected(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /transactions/{id}", s.protected(s.handleDeleteTransaction))

	mux.HandleFunc("POST /accounts", s.protected(s.handleCreateAccount))
	mux.HandleFunc("GET /accounts", s.protected(s.handleListAccounts))
	mux.HandleFunc("PUT /accounts/{id}", s.protected(s.handleUpdateAccount))
	mux.HandleFunc("DELETE /accounts/{id}", s.protected(s.handleDeleteAccount))

	mux.HandleFunc("POST /categories", s.protected(s.handleCreateCategory))
	mux.HandleFunc("GET /categories", s.protected(s.handleListCategories))
	mux.HandleFunc("PUT /categories/{id}", s.protected(s.handleUpdateCategory))
	mux.HandleFunc("DELETE /categories/{id}", s.protected(s.handleDeleteCategory))

	mux.HandleFunc("POST /budgets", s.protected(s.handleCreateBudget))
	mux.HandleFunc("GET /budgets", s.protected(s.handleListBudgets))
	mux.HandleFunc("PUT /budgets/{id}", s.protected(s.handleUpdateBudget))
	mux.HandleFunc("DELETE /budgets/{id}", s.protected(s.handleDeleteBudget))

	mux.HandleFunc("GET /sync/status", s.protected(s.handleSyncStatus))
	mux.HandleFunc("GET /sync/changes", s.protected(s.handleSyncChanges))

	if hub != nil {
		mux.HandleFunc("GET /ws", s.handleWebSocket)
	}

	return s
}

// protected applies request logging, rate limiting, security headers and
// bearer-token authentication, in that order.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	inner := s.withObservability(s.auth.Middleware(next))
	return applog.Middleware(s.logger)(http.HandlerFunc(inner)).ServeHTTP
}

func (s *Server) withObservability(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		logger := applog.FromContext(ctx)
		logger.InfoContext(ctx, "Request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP)

		if isMutation(r.Method) && !s.rateLimiter.allow(clientIP) {
			logger.WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		logger.InfoContext(ctx, "Request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds(),
			applog.FieldClientIP, clientIP)
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Shutdown stops background cleanup and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		if s.hub != nil {
			s.hub.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// notifyChanged broadcasts an entity-changed event to the user's websocket
// connections and drops the cached collection response.
func (s *Server) notifyChanged(userID string, entityType core.EntityType, entityID string) {
	switch entityType {
	case core.EntityAccount:
		s.accountsCache.Delete(userID)
	case core.EntityCategory:
		s.categoriesCache.Delete(userID)
	}
	if s.hub != nil {
		s.hub.NotifyEntityChanged(userID, string(entityType), entityID)
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type contextKey string

const requestIDKey contextKey = "request_id"

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Simple in-memory rate limiter, keyed by client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 120 mutating requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 120
}
