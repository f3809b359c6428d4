package router

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/admin"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/auth"
	"github.com/ovaphlow/pitchfork/service-trust/internal/payment"
	"github.com/ovaphlow/pitchfork/service-trust/internal/session"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
)

// Prefix is the mount point of every route.
const Prefix = "/trust-api"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// RequestIDHeader is echoed back, or generated when the caller sent none.
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware logs every request at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, reqID)
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets conservative security headers for a JSON API.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionMiddleware resolves the bearer token to its client context and
// reloads its account. A token whose context was closed, swept or
// force-logged-out is rejected, as is one whose account was suspended after
// login by any process sharing the store.
func SessionMiddleware(tokens *auth.TokenService, registry *session.Registry, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := auth.BearerToken(r)
			if !ok {
				apperr.WriteStatus(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				logger.Debugw("rejected token", "err", err)
				apperr.WriteStatus(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
				return
			}
			m, ok := registry.Get(claims.SessionID)
			if !ok || m.Email() == "" {
				apperr.WriteError(w, session.ErrNoSession)
				return
			}
			if _, err := m.Refresh(r.Context()); err != nil {
				if errors.Is(err, session.ErrNoSession) {
					registry.Close(claims.SessionID)
				}
				logger.Debugw("session refresh failed", "session", claims.SessionID, "err", err)
				apperr.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithManager(r.Context(), claims.SessionID, m)))
		})
	}
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Registry  *session.Registry
	Tokens    *auth.TokenService
	Engine    *trust.Engine
	Simulator *payment.Simulator
	Admin     *admin.Service
	Ready     func() error
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()
	authed := SessionMiddleware(d.Tokens, d.Registry, logger)

	mux.HandleFunc("GET "+Prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				logger.Warnw("health check failed", "err", err)
				apperr.WriteError(w, errors.Join(apperr.ErrStoreUnavailable, err))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	sessions := session.NewHandler(d.Registry, d.Tokens, logger)
	mux.HandleFunc("POST "+Prefix+"/signup", sessions.Signup)
	mux.HandleFunc("POST "+Prefix+"/login", sessions.Login)
	mux.Handle("POST "+Prefix+"/logout", authed(http.HandlerFunc(sessions.Logout)))
	mux.Handle("GET "+Prefix+"/me", authed(http.HandlerFunc(sessions.Me)))
	mux.Handle("PATCH "+Prefix+"/me/profile", authed(http.HandlerFunc(sessions.UpdateProfile)))

	payments := payment.NewHandler(d.Simulator, d.Engine, logger)
	mux.HandleFunc("GET "+Prefix+"/plans", payments.Plans)
	mux.HandleFunc("POST "+Prefix+"/payments/quote", payments.Quote)
	mux.Handle("GET "+Prefix+"/eligibility", authed(http.HandlerFunc(payments.Eligibility)))
	mux.Handle("POST "+Prefix+"/payments", authed(http.HandlerFunc(payments.Pay)))

	admins := admin.NewHandler(d.Admin, logger)
	mux.Handle("GET "+Prefix+"/admin/accounts", authed(http.HandlerFunc(admins.Accounts)))
	mux.Handle("GET "+Prefix+"/admin/bad-list", authed(http.HandlerFunc(admins.BadList)))
	mux.Handle("POST "+Prefix+"/admin/accounts/mark-bad", authed(http.HandlerFunc(admins.MarkBad)))
	mux.Handle("POST "+Prefix+"/admin/accounts/mark-good", authed(http.HandlerFunc(admins.MarkGood)))

	// wrap with security headers middleware then logging middleware
	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
}
