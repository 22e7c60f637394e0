// Package httpapi is the HTTP layer. Routing is chi; the middleware chain
// and handler conventions follow the rest of the service: JSON everywhere,
// typed errors mapped at the boundary, metrics around the whole router.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"emerald.finance/internal/account"
	"emerald.finance/internal/audit"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/obs"
	"emerald.finance/internal/sharing"
)

// ReadyProbe checks a dependency before reporting ready.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// Options wires the API's dependencies.
type Options struct {
	Auth     *auth.Service
	Accounts *account.Service
	Sharing  *sharing.Service
	Audit    *audit.Recorder
	Events   audit.Store
	Ready    ReadyProbe
	Version  string
}

// API is the HTTP surface.
type API struct {
	mux      chi.Router
	auth     *auth.Service
	accounts *account.Service
	sharing  *sharing.Service
	audit    *audit.Recorder
	events   audit.Store
	ready    ReadyProbe
	version  string
}

func New(opts Options) *API {
	a := &API{
		mux:      chi.NewRouter(),
		auth:     opts.Auth,
		accounts: opts.Accounts,
		sharing:  opts.Sharing,
		audit:    opts.Audit,
		events:   opts.Events,
		ready:    opts.Ready,
		version:  opts.Version,
	}

	r := a.mux
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/logout", a.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Put("/password", a.handleChangePassword)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Route("/v1/accounts", func(r chi.Router) {
			r.Post("/", a.handleCreateAccount)
			r.Get("/", a.handleListAccounts)
			r.Get("/{accountID}", a.handleGetAccount)
			r.Post("/{accountID}/shares", a.handleShare)
			r.Get("/{accountID}/shares", a.handleListShares)
		})
		r.Route("/v1/shares/{grantID}", func(r chi.Router) {
			r.Patch("/", a.handleUpdateShare)
			r.Delete("/", a.handleRevokeShare)
		})

		r.Get("/v1/audit/me", a.handleMyActivity)
		r.Get("/v1/audit", a.handleAllActivity)
	})

	return a
}

// Handler returns the server handler with the outer middleware applied.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}
