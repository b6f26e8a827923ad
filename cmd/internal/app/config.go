package app

import (
	"time"

	"parley/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSOriginRequired     bool
	WSAllowedOrigins     []string
	WSInsecureSkipVerify bool
	WSSendQueue          int

	// RequireToken disables the userId query/header identity used in dev.
	RequireToken   bool
	TokenSecretHex string
	TokenIssuer    string
	TokenTTL       time.Duration

	Presence realtime.Config

	MirrorSweepEnabled  bool
	MirrorTimeout       time.Duration
	MirrorSweepInterval time.Duration

	NATSURL      string
	NATSUser     string
	NATSPassword string
	NATSSubject  string

	KafkaBrokers       []string
	KafkaPresenceTopic string

	PollRequestsPerMinute int
	PollBurst             int

	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	def := realtime.DefaultConfig()

	return Config{
		HTTPAddr:  EnvString("PARLEY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PARLEY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("PARLEY_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvList("PARLEY_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("PARLEY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PARLEY_CORS_MAX_AGE_SECONDS", 600),

		WSOriginRequired:     EnvBool("PARLEY_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:     EnvList("PARLEY_WS_ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),
		WSInsecureSkipVerify: EnvBool("PARLEY_WS_DEV_INSECURE", false),
		WSSendQueue:          EnvInt("PARLEY_WS_SEND_QUEUE", 256),

		RequireToken:   EnvBool("PARLEY_AUTH_REQUIRE_TOKEN", true),
		TokenSecretHex: EnvString("PARLEY_PASETO_V4_SECRET_KEY_HEX", ""),
		TokenIssuer:    EnvString("PARLEY_TOKEN_ISSUER", "parley"),
		TokenTTL:       EnvDuration("PARLEY_TOKEN_TTL", 24*time.Hour),

		Presence: realtime.Config{
			HeartbeatInterval:   EnvDuration("PARLEY_HEARTBEAT_INTERVAL", def.HeartbeatInterval),
			ReaperInterval:      EnvDuration("PARLEY_REAPER_INTERVAL", def.ReaperInterval),
			VerifyInterval:      EnvDuration("PARLEY_VERIFY_INTERVAL", def.VerifyInterval),
			InactivityTimeout:   EnvDuration("PARLEY_INACTIVITY_TIMEOUT", def.InactivityTimeout),
			ConnectDelay:        EnvDuration("PARLEY_BROADCAST_CONNECT_DELAY", def.ConnectDelay),
			RequestDelay:        EnvDuration("PARLEY_BROADCAST_REQUEST_DELAY", def.RequestDelay),
			DisconnectDelay:     EnvDuration("PARLEY_BROADCAST_DISCONNECT_DELAY", def.DisconnectDelay),
			SweepDelay:          EnvDuration("PARLEY_BROADCAST_SWEEP_DELAY", def.SweepDelay),
			VerifyDelay:         EnvDuration("PARLEY_BROADCAST_VERIFY_DELAY", def.VerifyDelay),
			MirrorTouchInterval: EnvDuration("PARLEY_MIRROR_TOUCH_INTERVAL", def.MirrorTouchInterval),
			SideEffectQueue:     EnvInt("PARLEY_SIDE_EFFECT_QUEUE", def.SideEffectQueue),
			SideEffectTimeout:   EnvDuration("PARLEY_SIDE_EFFECT_TIMEOUT", def.SideEffectTimeout),
		},

		MirrorSweepEnabled:  EnvBool("PARLEY_MIRROR_SWEEP_ENABLED", true),
		MirrorTimeout:       EnvDuration("PARLEY_MIRROR_TIMEOUT", 30*time.Second),
		MirrorSweepInterval: EnvDuration("PARLEY_MIRROR_SWEEP_INTERVAL", 10*time.Second),

		NATSURL:      EnvString("PARLEY_NATS_URL", ""),
		NATSUser:     EnvString("PARLEY_NATS_USER", ""),
		NATSPassword: EnvString("PARLEY_NATS_PASSWORD", ""),
		NATSSubject:  EnvString("PARLEY_NATS_PRESENCE_SUBJECT", "presence.online"),

		KafkaBrokers:       EnvList("PARLEY_KAFKA_BROKERS", nil),
		KafkaPresenceTopic: EnvString("PARLEY_KAFKA_PRESENCE_TOPIC", "presence.online"),

		PollRequestsPerMinute: EnvInt("PARLEY_POLL_REQUESTS_PER_MINUTE", 120),
		PollBurst:             EnvInt("PARLEY_POLL_BURST", 30),

		MetricsEnabled: EnvBool("PARLEY_METRICS_ENABLED", true),
	}
}
