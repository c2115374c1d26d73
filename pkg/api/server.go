// embedg - HTTP API server
// Serves the send route, saved messages, Discord login and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/embedg/embedg/pkg/app"
	"github.com/embedg/embedg/pkg/config"
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/logger"
	"github.com/embedg/embedg/pkg/metrics"
)

// maxBodyBytes bounds request bodies; attachments arrive inline as data URLs.
const maxBodyBytes = 32 << 20

// Options are the collaborators of the server.
type Options struct {
	Config    *config.Config
	Container *app.Container
	Metrics   *metrics.Metrics
	// Gatherer serves /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	// Ready reports whether storage and cache are reachable.
	Ready func(ctx context.Context) error
	// FetchUser overrides the Discord identity lookup of the login flow.
	FetchUser UserFetcher
}

// Server is the HTTP API server.
type Server struct {
	config    *config.Config
	container *app.Container
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	ready     func(ctx context.Context) error
	oauth     *oauth2.Config
	fetchUser UserFetcher
	startTime time.Time
	server    *http.Server
}

// NewServer creates a new API server instance.
func NewServer(opts Options) *Server {
	s := &Server{
		config:    opts.Config,
		container: opts.Container,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		ready:     opts.Ready,
		fetchUser: opts.FetchUser,
		startTime: time.Now(),
	}
	if s.fetchUser == nil {
		s.fetchUser = fetchDiscordUser
	}
	if opts.Config.OAuthEnabled() {
		s.oauth = discordOAuthConfig(opts.Config.Discord)
	} else {
		logger.WarnC("api", "Discord login disabled: client_secret or redirect_url missing")
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/callback", s.handleCallback)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/users/@me", s.requireSession(s.handleMe))

	mux.HandleFunc("POST /api/messages/send", s.requireSession(s.handleSend))

	mux.HandleFunc("GET /api/saved-messages", s.requireSession(s.handleListSavedMessages))
	mux.HandleFunc("POST /api/saved-messages", s.requireSession(s.handleCreateSavedMessage))
	mux.HandleFunc("GET /api/saved-messages/{id}", s.requireSession(s.handleGetSavedMessage))
	mux.HandleFunc("PUT /api/saved-messages/{id}", s.requireSession(s.handleUpdateSavedMessage))
	mux.HandleFunc("DELETE /api/saved-messages/{id}", s.requireSession(s.handleDeleteSavedMessage))

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(s.config.API.AllowedOrigins, s.metricsMiddleware(mux))
}

// Start begins listening on the configured host:port.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "API server starting", map[string]interface{}{
		"addr": addr,
	})

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && isAllowedOrigin(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin matches origin against the configured prefixes.
func isAllowedOrigin(allowed []string, origin string) bool {
	for _, prefix := range allowed {
		if prefix != "" && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(route, rec.status, time.Since(start))
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			logger.WarnCF("api", "Health check failed", map[string]interface{}{"error": err})
		}
	}
	writeJSON(w, status, body)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.InvalidRequest("invalid request body: %v", err)
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// MessageID is set when the message was delivered despite the error.
	MessageID string `json:"message_id,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// errorResponse maps err onto a status code. Platform and storage failures
// are opaque to the caller and logged here.
func errorResponse(err error) (int, errorBody) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.ErrStorage.Wrap(err)
	}

	status := http.StatusInternalServerError
	body := errorBody{Code: de.Code, Message: de.Error()}

	switch de.Kind {
	case domain.KindAccessDenied:
		status = http.StatusForbidden
		if de.Code == domain.CodeUnauthorized {
			status = http.StatusUnauthorized
		}
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindStateConflict:
		status = http.StatusConflict
		if de.Code == domain.CodeGuildChannelMismatch || de.Code == domain.CodeUnsupportedChannelType {
			status = http.StatusBadRequest
		}
	case domain.KindInvalidRequest, domain.KindIntegrityFailure:
		status = http.StatusBadRequest
	case domain.KindPlatform:
		status = http.StatusBadGateway
		body.Message = de.Message
	default:
		body.Message = de.Message
	}

	if status >= 500 {
		logger.ErrorCF("api", "Request failed", map[string]interface{}{
			"code":  de.Code,
			"error": err,
		})
	}
	return status, body
}
