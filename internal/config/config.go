package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/tracking"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	AuthModeSession = "session"
	AuthModeJWT     = "jwt"
)

// Config holds service configuration.
type Config struct {
	LogLevel      string
	ServerAddr    string
	StorageDriver string
	DatabaseURL   string
	MigrationsDir string

	AuthMode            string
	JWTSecret           string
	JWTIssuer           string
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool

	PaymentWindow       time.Duration
	Fees                payment.FeePolicy
	ProcessorURL        string
	ChargeTimeout       time.Duration
	ExpirySweepInterval time.Duration

	MeetingRadiusMeters float64
	TrackingPolicy      string
	TrackingAutoStart   bool
	DistanceUnit        tracking.Unit

	WSInsecureSkipVerify bool
	TelegramToken        string
}

// Load reads configuration from environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "swapmeet")
		pass := getenv("POSTGRES_PASSWORD", "swapmeet_pass")
		db := getenv("POSTGRES_DB", "swapmeet")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
		ServerAddr:    getenv("SERVER_ADDR", "0.0.0.0:8080"),
		StorageDriver: strings.ToLower(getenv("STORAGE_DRIVER", StoragePostgres)),
		DatabaseURL:   dsn,
		MigrationsDir: getenv("MIGRATIONS_DIR", "migrations"),

		AuthMode:            strings.ToLower(getenv("AUTH_MODE", AuthModeSession)),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTIssuer:           os.Getenv("JWT_ISSUER"),
		SessionTTL:          parseDuration(os.Getenv("SESSION_TTL"), 24*time.Hour),
		SessionCookieName:   getenv("SESSION_COOKIE_NAME", "swapmeet_session"),
		SessionCookieSecure: cast.ToBool(getenv("SESSION_COOKIE_SECURE", "false")),

		PaymentWindow:       parseDuration(os.Getenv("PAYMENT_WINDOW"), 24*time.Hour),
		ProcessorURL:        os.Getenv("PAYMENT_PROCESSOR_URL"),
		ChargeTimeout:       parseDuration(os.Getenv("PAYMENT_CHARGE_TIMEOUT"), 15*time.Second),
		ExpirySweepInterval: parseDuration(os.Getenv("EXPIRY_SWEEP_INTERVAL"), time.Minute),

		MeetingRadiusMeters: cast.ToFloat64(getenv("MEETING_RADIUS_METERS", "150")),
		TrackingPolicy:      getenv("TRACKING_POLICY", `status == "paid_complete"`),
		TrackingAutoStart:   cast.ToBool(getenv("TRACKING_AUTO_START", "true")),

		WSInsecureSkipVerify: cast.ToBool(getenv("WS_INSECURE_SKIP_VERIFY", "false")),
		TelegramToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	defaultFee, err := payment.ParseAmount(getenv("DEFAULT_EXCHANGE_FEE", "2.00"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_EXCHANGE_FEE: %w", err)
	}
	cfg.Fees, err = payment.ParseFeePolicy(os.Getenv("EXCHANGE_FEES"), defaultFee)
	if err != nil {
		return nil, fmt.Errorf("EXCHANGE_FEES: %w", err)
	}
	cfg.DistanceUnit, err = tracking.ParseUnit(os.Getenv("DISTANCE_UNIT"))
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.AuthMode {
	case AuthModeSession:
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.PaymentWindow <= 0 {
		return errors.New("PAYMENT_WINDOW must be positive")
	}
	if c.MeetingRadiusMeters <= 0 {
		return errors.New("MEETING_RADIUS_METERS must be positive")
	}
	return nil
}

// TrackerConfig configures the position broadcast client.
type TrackerConfig struct {
	LogLevel   string
	BaseURL    string
	Token      string
	SessionID  string
	ProposalID string
	Interval   time.Duration
	Timeout    time.Duration
	Grace      time.Duration
}

func LoadTracker() (*TrackerConfig, error) {
	_ = godotenv.Load(".env")

	cfg := &TrackerConfig{
		LogLevel:   strings.ToLower(getenv("LOG_LEVEL", "info")),
		BaseURL:    strings.TrimRight(getenv("SWAPMEET_URL", "http://localhost:8080"), "/"),
		Token:      os.Getenv("SWAPMEET_TOKEN"),
		SessionID:  os.Getenv("MEETING_SESSION_ID"),
		ProposalID: os.Getenv("MEETING_PROPOSAL_ID"),
		Interval:   parseDuration(os.Getenv("TRACKING_INTERVAL"), 30*time.Second),
		Timeout:    parseDuration(os.Getenv("TRACKING_TIMEOUT"), 10*time.Second),
		Grace:      parseDuration(os.Getenv("TRACKING_GRACE"), 2*time.Minute),
	}
	if cfg.Token == "" {
		return nil, errors.New("SWAPMEET_TOKEN is required")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("MEETING_SESSION_ID is required")
	}
	if cfg.ProposalID == "" {
		return nil, errors.New("MEETING_PROPOSAL_ID is required")
	}
	return cfg, nil
}

// AuthorityConfig configures one Raft authority node. Policy values must be
// identical on every voter.
type AuthorityConfig struct {
	LogLevel          string
	NodeID            string
	RaftAddr          string
	HTTPAddr          string
	DataDir           string
	Bootstrap         bool
	ApplyTimeout      time.Duration
	JoinEndpoint      string
	JoinRetries       int
	JoinRetryDelay    time.Duration
	StartupWaitLeader time.Duration

	PaymentWindow       time.Duration
	Fees                payment.FeePolicy
	MeetingRadiusMeters float64
	TrackingPolicy      string
}

func LoadAuthority() (*AuthorityConfig, error) {
	_ = godotenv.Load(".env")

	hostname, _ := os.Hostname()
	nodeID := getenv("P2P_NODE_ID", strings.TrimSpace(hostname))
	if nodeID == "" {
		nodeID = "node-1"
	}
	cfg := &AuthorityConfig{
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		NodeID:            nodeID,
		RaftAddr:          getenv("P2P_RAFT_ADDR", "127.0.0.1:17000"),
		HTTPAddr:          getenv("P2P_HTTP_ADDR", "0.0.0.0:18080"),
		DataDir:           strings.TrimSpace(getenv("P2P_DATA_DIR", filepath.Join("tmp", "authority", nodeID))),
		Bootstrap:         cast.ToBool(getenv("P2P_BOOTSTRAP", "false")),
		ApplyTimeout:      parseDuration(os.Getenv("P2P_APPLY_TIMEOUT"), 5*time.Second),
		JoinEndpoint:      strings.TrimRight(strings.TrimSpace(os.Getenv("P2P_JOIN_ENDPOINT")), "/"),
		JoinRetries:       cast.ToInt(getenv("P2P_JOIN_RETRIES", "30")),
		JoinRetryDelay:    parseDuration(os.Getenv("P2P_JOIN_RETRY_DELAY"), time.Second),
		StartupWaitLeader: parseDuration(os.Getenv("P2P_STARTUP_WAIT_LEADER"), 4*time.Second),

		PaymentWindow:       parseDuration(os.Getenv("PAYMENT_WINDOW"), 24*time.Hour),
		MeetingRadiusMeters: cast.ToFloat64(getenv("MEETING_RADIUS_METERS", "150")),
		TrackingPolicy:      getenv("TRACKING_POLICY", `status == "paid_complete"`),
	}
	if cfg.JoinRetries <= 0 {
		cfg.JoinRetries = 30
	}
	if cfg.MeetingRadiusMeters <= 0 {
		return nil, errors.New("MEETING_RADIUS_METERS must be positive")
	}
	defaultFee, err := payment.ParseAmount(getenv("DEFAULT_EXCHANGE_FEE", "2.00"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_EXCHANGE_FEE: %w", err)
	}
	cfg.Fees, err = payment.ParseFeePolicy(os.Getenv("EXCHANGE_FEES"), defaultFee)
	if err != nil {
		return nil, fmt.Errorf("EXCHANGE_FEES: %w", err)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := cast.ToDurationE(val)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
