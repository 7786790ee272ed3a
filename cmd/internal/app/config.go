package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string

	LogLevel  string
	LogFormat string // "json" or "pretty"
	LogColor  bool
	// LogFile, when set, receives a JSON copy of every record.
	LogFile string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// DevProfiles seeds the profile store, "u1=Alice,u2=Bob".
	DevProfiles []string

	WS WSConfig
}

// WSConfig tunes the direct-message gateway.
type WSConfig struct {
	AllowedOrigins    []string
	OriginRequired    bool
	DevInsecure       bool
	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	SendQueueSize     int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RateEvents        int
	RateWindow        time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("BUILDLINK_HTTP_ADDR", "0.0.0.0:8080"),

		LogLevel:  EnvString("BUILDLINK_LOG_LEVEL", "info"),
		LogFormat: EnvString("BUILDLINK_LOG_FORMAT", "json"),
		LogColor:  EnvBool("BUILDLINK_LOG_COLOR", false),
		LogFile:   EnvString("BUILDLINK_LOG_FILE", ""),

		ReadHeaderTimeout: EnvDuration("BUILDLINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BUILDLINK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BUILDLINK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BUILDLINK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BUILDLINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("BUILDLINK_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("BUILDLINK_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("BUILDLINK_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("BUILDLINK_DB_SCHEMA", "buildlink"),
		DBAutoMigrate: EnvBool("BUILDLINK_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("BUILDLINK_READINESS_REQUIRE_DB", false),

		DevProfiles: EnvCSV("BUILDLINK_DEV_PROFILES", ""),

		WS: WSConfig{
			AllowedOrigins:    EnvCSV("BUILDLINK_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
			OriginRequired:    EnvBool("BUILDLINK_WS_ORIGIN_REQUIRED", true),
			DevInsecure:       EnvBool("BUILDLINK_WS_DEV_INSECURE", false),
			WriteTimeout:      EnvDuration("BUILDLINK_WS_WRITE_TIMEOUT", 5*time.Second),
			ReadIdleTimeout:   EnvDuration("BUILDLINK_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
			SendQueueSize:     EnvInt("BUILDLINK_WS_SEND_QUEUE", 256),
			HeartbeatInterval: EnvDuration("BUILDLINK_WS_HEARTBEAT_INTERVAL", 25*time.Second),
			HeartbeatTimeout:  EnvDuration("BUILDLINK_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
			RateEvents:        EnvInt("BUILDLINK_WS_RATE_EVENTS", 120),
			RateWindow:        EnvDuration("BUILDLINK_WS_RATE_WINDOW", 10*time.Second),
		},
	}
}
