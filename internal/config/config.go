package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"croncat/internal/observability"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// StoreConfig selects where contract state lives.
type StoreConfig struct {
	Backend  string
	StateDir string
	Redis    RedisConfig
}

// ChainConfig controls the local block producer.
type ChainConfig struct {
	BlockTime   time.Duration
	GenesisFile string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Store        StoreConfig
	Chain        ChainConfig
	Tracing      observability.TracingConfig

	// Mode is http, mcp or both.
	Mode          string
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "127.0.0.1:7070"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultBlockTime     = 5 * time.Second
	defaultShutdownGrace = 5 * time.Second
	defaultRedisAddr     = "localhost:6379"
	defaultRedisNS       = "croncat"
	defaultMode          = "http"
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse builds a Config from args (without the program name).
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse(args []string) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "croncat", ".env"))
	}
	for _, f := range envFiles {
		// optional; godotenv never overrides variables already set
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("CRONCAT_ADDR", defaultAddr),
			AuthToken: getEnvString("CRONCAT_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("CRONCAT_LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("CRONCAT_LOG_FORMAT", defaultLogFormat),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("CRONCAT_BARK_URL", ""),
				Enabled: getEnvBool("CRONCAT_BARK_ENABLED", false),
			},
		},
		Store: StoreConfig{
			Backend:  getEnvString("CRONCAT_STORE", BackendSQLite),
			StateDir: getEnvString("CRONCAT_STATE_DIR", ""),
			Redis: RedisConfig{
				Addr:      getEnvString("CRONCAT_REDIS_ADDR", defaultRedisAddr),
				Password:  getEnvString("CRONCAT_REDIS_PASSWORD", ""),
				DB:        getEnvInt("CRONCAT_REDIS_DB", 0),
				Namespace: getEnvString("CRONCAT_REDIS_NAMESPACE", defaultRedisNS),
			},
		},
		Chain: ChainConfig{
			BlockTime:   getEnvDuration("CRONCAT_BLOCK_TIME", defaultBlockTime),
			GenesisFile: getEnvString("CRONCAT_GENESIS", ""),
		},
		Tracing: observability.TracingConfig{
			Enabled:      getEnvBool("CRONCAT_TRACING_ENABLED", false),
			OTLPEndpoint: getEnvString("CRONCAT_OTLP_ENDPOINT", ""),
			SampleRate:   getEnvFloat("CRONCAT_TRACE_SAMPLE_RATE", 1.0),
			ServiceName:  "croncatd",
		},
		Mode:          getEnvString("CRONCAT_MODE", defaultMode),
		ShutdownGrace: getEnvDuration("CRONCAT_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet("croncatd", flag.ContinueOnError)
	var (
		addr, logLevel, logFormat, backend, stateDir, genesis, mode string
		blockTime, shutdownGrace                                    time.Duration
	)
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&backend, "store", "", "State backend (memory, sqlite, redis)")
	fs.StringVar(&stateDir, "state-dir", "", "Directory for the sqlite database")
	fs.StringVar(&genesis, "genesis", "", "YAML genesis file used on first start")
	fs.StringVar(&mode, "mode", "", "Serving mode (http, mcp, both)")
	fs.DurationVar(&blockTime, "block-time", 0, "Interval between produced blocks")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	if stateDir != "" {
		cfg.Store.StateDir = stateDir
	}
	if genesis != "" {
		cfg.Chain.GenesisFile = genesis
	}
	if mode != "" {
		cfg.Mode = mode
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "block-time":
			cfg.Chain.BlockTime = blockTime
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Backend == BackendSQLite && cfg.Store.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.Store.StateDir = dir
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Mode {
	case "http", "mcp", "both":
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Chain.BlockTime < time.Second {
		return fmt.Errorf("block time %s is below one second", c.Chain.BlockTime)
	}
	return nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "croncat")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
