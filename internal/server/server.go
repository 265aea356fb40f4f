package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/beaconauth/beacon/internal/auth"
	"github.com/beaconauth/beacon/internal/handler"
	"github.com/beaconauth/beacon/internal/middleware"
	"github.com/beaconauth/beacon/internal/store"
	"github.com/beaconauth/beacon/internal/token"
	ws "github.com/beaconauth/beacon/internal/websocket"
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	authH       *handler.AuthHandler
	authSvc     *auth.Service
	tokenStore  *store.TokenStore
	rateLimiter *middleware.RateLimiter
	frontendURL string
	staticDir   string
	logger      *slog.Logger
}

// New wires the service. signer signs magic tokens and session credentials;
// frontendURL is the public front-end origin used for CORS, the websocket
// origin allow-list, and the links embedded in mail.
func New(db *sql.DB, signer *token.Signer, mailer auth.Mailer, frontendURL, staticDir string, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	tokenStore := store.NewTokenStore(db)

	svc := auth.NewService(userStore, tokenStore, signer, mailer, hub, frontendURL, logger.With("component", "auth"))

	return &Server{
		db:          db,
		hub:         hub,
		authH:       handler.NewAuthHandler(svc, userStore, logger.With("component", "auth_handler")),
		authSvc:     svc,
		tokenStore:  tokenStore,
		rateLimiter: middleware.NewRateLimiter(),
		frontendURL: frontendURL,
		staticDir:   staticDir,
		logger:      logger,
	}
}

// TokenStore returns the token store for cleanup tasks.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokenStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/test", s.authH.Test)
	mux.HandleFunc("POST /auth/magiclink", s.rateLimitedHandler(s.authH.MagicLink))
	mux.HandleFunc("GET /auth/verify", s.authH.Verify)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws", ws.Handle(s.hub, s.originPatterns(), s.logger.With("component", "websocket")))
	mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))

	h := middleware.CORS(s.frontendURL)(mux)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	return middleware.RequestID(h)
}

// originPatterns derives the websocket origin allow-list from the front-end URL.
func (s *Server) originPatterns() []string {
	u, err := url.Parse(s.frontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
