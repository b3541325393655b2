package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/classbot/internal/database"
	"github.com/npezzotti/classbot/internal/state"
)

// Store is the slice of the resilient store the diagnostics endpoints read.
type Store interface {
	Ping(ctx context.Context) bool
	GetAccountByIdentity(ctx context.Context, identity string) *database.Account
	ListTalliesByTeacher(ctx context.Context, teacherId int) []database.ReactionTally
}

// Pinger is implemented by optional dependencies reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr           string
	SigningKey     []byte
	AllowedOrigins []string
}

// App serves the bot's diagnostics endpoints.
type App struct {
	log            *slog.Logger
	srv            *http.Server
	state          *state.Manager
	store          Store
	cache          Pinger
	feed           *Feed
	signingKey     []byte
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

type Option func(*App)

// WithCache adds the room cache to the health check.
func WithCache(p Pinger) Option {
	return func(a *App) {
		a.cache = p
	}
}

func NewApp(mux *http.ServeMux, logger *slog.Logger, sm *state.Manager, store Store, feed *Feed, cfg Config, opts ...Option) *App {
	a := &App{
		log:            logger,
		state:          sm,
		store:          store,
		feed:           feed,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}

	mux.HandleFunc("GET /healthz", a.healthz)
	mux.HandleFunc("GET /debug/state", a.authMiddleware(a.debugState))
	mux.HandleFunc("GET /debug/tallies", a.authMiddleware(a.debugTallies))
	mux.HandleFunc("GET /ws/events", a.authMiddleware(a.serveEvents))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.accessLog(h)
	h = a.errorHandler(h)

	a.srv = &http.Server{
		Addr:    cfg.Addr,
		Handler: h,
	}

	return a
}

func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

func (a *App) Start() error {
	a.log.Info("starting diagnostics server", "addr", a.srv.Addr)
	return a.srv.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down diagnostics server")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.log.Info("diagnostics server shutdown complete")
	return nil
}
