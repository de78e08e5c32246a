// Package api serves the REST wire format of package transport/rest on top
// of a Backend. It is the reference server the client is tested against and
// what `ironkey serve` runs for local development.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/transport"
)

// Backend is the server-side store behind the API. Every call after
// Authenticate is scoped to the returned username.
type Backend interface {
	KdfParams(ctx context.Context, username string) (crypto.KdfParams, error)
	Register(ctx context.Context, req transport.RegisterRequest) (transport.Tokens, error)
	Login(ctx context.Context, username string, authHash []byte) (transport.Tokens, error)
	Authenticate(accessToken string) (string, error)

	Entries(ctx context.Context, username string) ([]entry.Record, error)
	Entry(ctx context.Context, username, id string) (entry.Record, error)
	CreateEntry(ctx context.Context, username string, rec entry.Record) (entry.Record, error)
	UpdateEntry(ctx context.Context, username string, rec entry.Record) (entry.Record, error)
	DeleteEntry(ctx context.Context, username, id string) error

	UpdateMasterPassword(ctx context.Context, username string, change transport.MasterPasswordChange) (transport.Tokens, error)
	LastModified(ctx context.Context, username string) (time.Time, error)
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	backend     Backend
	rateLimiter *loginRateLimiter
	audit       *auditLogger
	alertFn     AlertFunc
	logger      *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc sets the callback for anomaly alerts. Alerts are logged
// otherwise.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance.
func New(backend Backend, opts ...Option) *API {
	a := &API{
		backend:     backend,
		rateLimiter: newLoginRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.alertFn == nil {
		a.alertFn = logAlert(a.logger)
	}
	a.audit = newAuditLogger(a.logger, newAlertMonitor(a.alertFn))
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/auth/kdf", a.GetKdfParams)
	r.Post("/auth/register", a.Register)
	r.Post("/auth/login", a.Login)
	r.With(a.AuthMiddleware).Put("/auth/master-password", a.UpdateMasterPassword)

	r.Route("/entries", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Get("/", a.ListEntries)
		r.Post("/", a.CreateEntry)
		r.Get("/{entryID}", a.GetEntry)
		r.Put("/{entryID}", a.UpdateEntry)
		r.Delete("/{entryID}", a.DeleteEntry)
	})

	r.With(a.AuthMiddleware).Get("/vault/last-modified", a.LastModified)

	return r
}
