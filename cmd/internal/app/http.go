package app

import (
	"net/http"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/database"
	"parley/cmd/internal/metrics"
	"parley/cmd/internal/pollapi"
	"parley/cmd/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// routes groups everything the router needs. Nil handlers are not mounted.
type routes struct {
	ws      *realtime.WSGateway
	poll    *pollapi.Handler
	limiter *pollapi.UserLimiter // required when poll is set
	chat    *chat.Handler
	account *account.Handler
	authn   *account.Authenticator

	dbPool   *pgxpool.Pool
	gatherer prometheus.Gatherer
}

func newRouter(log Logger, cfg Config, rt routes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && rt.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.dbPool != nil {
			if err := database.Ping(r.Context(), rt.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(rt.gatherer))
	}

	// The gateway enforces its own origin policy during the upgrade.
	if rt.ws != nil {
		r.Get("/ws", rt.ws.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return WithCORS(next, cfg, log) })

		if rt.account != nil {
			r.Mount("/auth", rt.account.Routes())
		}

		r.Group(func(r chi.Router) {
			r.Use(rt.authn.Middleware)

			if rt.poll != nil {
				r.With(rt.limiter.Middleware).Mount("/realtime", rt.poll.Routes())
			}
			if rt.chat != nil {
				r.Mount("/messages", rt.chat.Routes())
			}
		})
	})

	return r
}
