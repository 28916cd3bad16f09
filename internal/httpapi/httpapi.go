package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"posledger/internal/composer"
	"posledger/internal/domain"
	"posledger/internal/feed"
	"posledger/internal/metrics"
	"posledger/internal/service"
	"posledger/internal/store"
)

var (
	orderEntry = []string{domain.RoleMaster, domain.RoleCasher}
	backOffice = []string{domain.RoleMaster, domain.RoleManager}
	anyone     = []string{domain.RoleMaster, domain.RoleManager, domain.RoleCasher}
	masterOnly = []string{domain.RoleMaster}
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	hub           *feed.Hub
	metrics       *metrics.Metrics
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	heartbeat     time.Duration
	logger        zerolog.Logger
}

// New wires the HTTP surface. hub and m may be nil, which disables live
// subscriptions and the /metrics endpoint respectively.
func New(svc *service.Service, auth *AuthManager, hub *feed.Hub, m *metrics.Metrics, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		hub:           hub,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		heartbeat:     25 * time.Second,
		logger:        log.With().Str("component", "httpapi").Logger(),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}

	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("POST /api/v1/auth/logout", a.requireAuth(a.handleLogout, anyone...))
	mux.HandleFunc("POST /api/v1/auth/password", a.requireAuth(a.handleChangePassword, anyone...))
	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, masterOnly...))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, masterOnly...))

	mux.HandleFunc("GET /api/v1/catalog", a.requireAuth(a.handleOrderCatalog, orderEntry...))
	mux.HandleFunc("GET /api/v1/draft", a.requireAuth(a.handleDraft, orderEntry...))
	mux.HandleFunc("DELETE /api/v1/draft", a.requireAuth(a.handleClearDraft, orderEntry...))
	mux.HandleFunc("POST /api/v1/draft/items", a.requireAuth(a.handleAddDraftItem, orderEntry...))
	mux.HandleFunc("PATCH /api/v1/draft/items/{productID}", a.requireAuth(a.handleChangeDraftQuantity, orderEntry...))
	mux.HandleFunc("DELETE /api/v1/draft/items/{productID}", a.requireAuth(a.handleRemoveDraftItem, orderEntry...))
	mux.HandleFunc("PUT /api/v1/draft/discount", a.requireAuth(a.handleDraftDiscount, orderEntry...))
	mux.HandleFunc("POST /api/v1/draft/expenses", a.requireAuth(a.handleAddDraftExpense, orderEntry...))
	mux.HandleFunc("DELETE /api/v1/draft/expenses/{expenseID}", a.requireAuth(a.handleRemoveDraftExpense, orderEntry...))
	mux.HandleFunc("POST /api/v1/draft/submit", a.requireAuth(a.handleSubmitDraft, orderEntry...))

	mux.HandleFunc("GET /api/v1/orders", a.requireAuth(a.handleListOrders, orderEntry...))
	mux.HandleFunc("GET /api/v1/orders/{id}", a.requireAuth(a.handleGetOrder, orderEntry...))
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", a.requireAuth(a.handleCancelOrder, orderEntry...))
	mux.HandleFunc("PATCH /api/v1/orders/{id}/payment-method", a.requireAuth(a.handlePaymentMethod, orderEntry...))

	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleListCategories, backOffice...))
	mux.HandleFunc("POST /api/v1/categories", a.requireAuth(a.handleCreateCategory, backOffice...))
	mux.HandleFunc("PATCH /api/v1/categories/{id}", a.requireAuth(a.handleUpdateCategory, backOffice...))
	mux.HandleFunc("DELETE /api/v1/categories/{id}", a.requireAuth(a.handleDeleteCategory, backOffice...))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, backOffice...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, backOffice...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyone...))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, backOffice...))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, backOffice...))
	mux.HandleFunc("POST /api/v1/products/{id}/adjustments", a.requireAuth(a.handleAdjustInventory, backOffice...))

	mux.HandleFunc("GET /api/v1/inventory", a.requireAuth(a.handleListInventory, backOffice...))
	mux.HandleFunc("GET /api/v1/inventory/export", a.requireAuth(a.handleExportInventory, backOffice...))
	mux.HandleFunc("POST /api/v1/inventory/daily-reset", a.requireAuth(a.handleDailyReset, backOffice...))

	mux.HandleFunc("GET /api/v1/sales/dashboard", a.requireAuth(a.handleSalesDashboard, backOffice...))
	mux.HandleFunc("GET /api/v1/sales/calendar", a.requireAuth(a.handleSalesCalendar, backOffice...))
	mux.HandleFunc("GET /api/v1/sales/day", a.requireAuth(a.handleSalesDay, backOffice...))
	mux.HandleFunc("GET /api/v1/sales/year", a.requireAuth(a.handleSalesYear, backOffice...))

	mux.HandleFunc("GET /api/v1/subscribe", a.requireAuth(a.handleSubscribe, anyone...))

	return a.withMiddleware(mux)
}

type actorContextKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := r.Context().Value(actorContextKey{}).(domain.Actor)
	return actor
}

// bearerToken reads the Authorization header. The subscribe stream also
// accepts ?access_token= because browser EventSource cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):]), true
	}
	if r.URL.Path == "/api/v1/subscribe" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return token, true
		}
	}
	return "", false
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errInvalidToken)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, service.ErrForbidden)
			return
		}

		next(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ErrLoginFailed)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if err := a.auth.Logout(r.Context(), actor); err != nil {
		writeServiceError(w, err)
		return
	}
	a.service.DropDraft(actor)
	w.WriteHeader(http.StatusNoContent)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.auth.ChangePassword(r.Context(), actorFrom(r), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if a.metrics != nil {
			a.metrics.ObserveRequest(route, r.Method, rec.status, elapsed)
		}
		a.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service, store and composer errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, composer.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrCategoryDisabled),
		errors.Is(err, composer.ErrOutOfStock),
		errors.Is(err, composer.ErrExpenseDraftActive),
		errors.Is(err, composer.ErrItemsPresent),
		errors.Is(err, composer.ErrNoItems),
		errors.Is(err, composer.ErrEmptyDraft):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalid), errors.Is(err, composer.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log only.
	if status >= 500 {
		log.Error().Err(err).Str("component", "httpapi").Int("status", status).Msg("internal error")
		writeJSON(w, status, map[string]any{"error": "internal server error"})
		return
	}
	body := map[string]any{"error": err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
