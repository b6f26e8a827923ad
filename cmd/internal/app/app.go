// Package app wires the parley server runtime: config, logging, storage,
// the presence hub and its HTTP/WebSocket surfaces.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/database"
	"parley/cmd/internal/metrics"
	"parley/cmd/internal/pollapi"
	"parley/cmd/internal/presencebus"
	"parley/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// Storage holds the persistence backends. Without a database URL every
// backend is in-memory and Pool is nil.
type Storage struct {
	Pool      *pgxpool.Pool
	Directory account.Directory
	Messages  chat.Store
	Mirror    realtime.PresenceMirror
}

// OpenStorage connects to Postgres when configured and optionally applies migrations.
func OpenStorage(ctx context.Context, cfg Config, log Logger) (*Storage, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return &Storage{
			Directory: account.NewMemoryDirectory(),
			Messages:  chat.NewMemoryStore(),
			Mirror:    realtime.NewMemoryMirror(),
		}, nil
	}

	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("db.migrate.ok")
	}

	pool, err := database.NewPool(ctx, database.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}

	// Ownership model: Storage owns the pool; the stores' Close is a no-op.
	dir, err := account.NewPostgresDirectory(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	msgs, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	mirror, err := realtime.NewPostgresMirror(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store")
	return &Storage{Pool: pool, Directory: dir, Messages: msgs, Mirror: mirror}, nil
}

// Close releases the pool, if any.
func (s *Storage) Close() {
	if s.Messages != nil {
		_ = s.Messages.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// NewTokenManager builds the PASETO token manager from config.
func NewTokenManager(cfg Config, log Logger) (*account.TokenManager, error) {
	tokens, err := account.NewTokenManager(account.TokenConfig{
		Issuer:       cfg.TokenIssuer,
		TTL:          cfg.TokenTTL,
		ClockSkew:    30 * time.Second,
		SecretKeyHex: cfg.TokenSecretHex,
	})
	if err != nil {
		return nil, err
	}
	if tokens.Ephemeral() {
		log.Warn("auth.token.ephemeral_key", "public_key_hex", tokens.PublicKeyHex())
	}
	return tokens, nil
}

// App is the parley server runtime: it owns storage, the presence hub and the HTTP server.
type App struct {
	cfg Config
	log Logger

	storage   *Storage
	hub       *realtime.Hub
	sweeper   *realtime.MirrorSweeper
	limiter   *pollapi.UserLimiter
	publisher *presencebus.Publisher
	kafka     *presencebus.KafkaPublisher

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, storage: st}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	tokens, err := NewTokenManager(cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	opts := []realtime.Option{
		realtime.WithMetrics(collector),
		realtime.WithMirror(a.storage.Mirror),
	}
	if cfg.NATSURL != "" {
		pub, err := presencebus.Connect(ctx, log, presencebus.Config{
			URL:      cfg.NATSURL,
			User:     cfg.NATSUser,
			Password: cfg.NATSPassword,
			Subject:  cfg.NATSSubject,
		})
		if err != nil {
			return err
		}
		a.publisher = pub
		opts = append(opts, realtime.WithAnnouncers(pub))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := presencebus.NewKafkaPublisher(log, presencebus.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaPresenceTopic,
		})
		if err != nil {
			return err
		}
		a.kafka = kp
		opts = append(opts, realtime.WithAnnouncers(kp))
	}

	a.hub = realtime.NewHub(log, cfg.Presence, opts...)
	typing := realtime.NewTypingBoard(nil)
	authn := account.NewAuthenticator(tokens, a.storage.Directory, cfg.RequireToken)

	gwCfg := realtime.DefaultGatewayConfig()
	gwCfg.OriginRequired = cfg.WSOriginRequired
	gwCfg.AllowedOrigins = cfg.WSAllowedOrigins
	gwCfg.InsecureSkipVerify = cfg.WSInsecureSkipVerify
	gwCfg.SendQueueSize = cfg.WSSendQueue
	gwCfg.PingInterval = cfg.Presence.HeartbeatInterval

	limCfg := pollapi.DefaultLimiterConfig()
	limCfg.Rate = rate.Limit(float64(cfg.PollRequestsPerMinute) / 60.0)
	limCfg.Burst = cfg.PollBurst
	a.limiter = pollapi.NewUserLimiter(log, limCfg)

	if cfg.MirrorSweepEnabled {
		a.sweeper = realtime.NewMirrorSweeper(a.storage.Mirror, log)
		a.sweeper.Timeout = cfg.MirrorTimeout
		a.sweeper.Interval = cfg.MirrorSweepInterval
	}

	rt := routes{
		ws:      realtime.NewWSGateway(log, a.hub, typing, authn, gwCfg),
		poll:    pollapi.NewHandler(log, a.hub, a.storage.Mirror, typing),
		limiter: a.limiter,
		chat:    chat.NewHandler(log, a.storage.Messages, a.hub, a.storage.Directory),
		account: account.NewHandler(log, a.storage.Directory, account.DefaultHasher(), tokens),
		authn:   authn,
		dbPool:  a.storage.Pool,
	}

	var observe RequestObserver
	if cfg.MetricsEnabled {
		rt.gatherer = reg
		observe = collector.ObserveHTTP
	}

	a.handler = WithRequestLogging(WithSecurityHeaders(newRouter(log, cfg, rt)), log, observe)
	return nil
}

// Run starts the hub and HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	a.hub.Start(bgCtx)
	if a.sweeper != nil {
		go a.sweeper.Run(bgCtx)
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http_base", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.storage.Pool != nil,
		"presence_nats", a.publisher != nil,
		"presence_kafka", a.kafka != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Clear sessions first so peers get the final empty online set.
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		a.log.Error("presence.shutdown.fail", "err", err)
	}
	stopBackground()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Error("presencebus.close.fail", "err", err)
		}
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Error("presencebus.kafka.close.fail", "err", err)
		}
	}
	a.storage.Close()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(httpBase, "//")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
