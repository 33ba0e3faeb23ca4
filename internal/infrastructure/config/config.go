package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string                 `mapstructure:"environment"`
	LogLevel    string                 `mapstructure:"log_level"`
	Server      ServerConfig           `mapstructure:"server"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Redis       RedisConfig            `mapstructure:"redis"`
	JWT         JWTConfig              `mapstructure:"jwt"`
	CCTP        CCTPConfig             `mapstructure:"cctp"`
	Chains      map[string]ChainConfig `mapstructure:"chains"`
	Signers     SignerConfig           `mapstructure:"signers"`
	Workers     WorkerConfig           `mapstructure:"workers"`
	Monitor     MonitorConfig          `mapstructure:"monitor"`
	Tracing     TracingConfig          `mapstructure:"tracing"`
	Idempotency IdempotencyConfig      `mapstructure:"idempotency"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
	// InMemory swaps postgres for the process-local ledger, for demos and tests
	InMemory bool `mapstructure:"in_memory"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

// CCTPConfig configures the Circle attestation service and the bridge timeouts
type CCTPConfig struct {
	Environment         string `mapstructure:"environment"` // sandbox or mainnet
	BaseURL             string `mapstructure:"base_url"`
	APIKey              string `mapstructure:"api_key"`
	Timeout             int    `mapstructure:"timeout"`               // seconds, per HTTP request
	PollIntervalMS      int    `mapstructure:"poll_interval_ms"`      // attestation poll interval
	AttestationTimeout  int    `mapstructure:"attestation_timeout"`   // seconds
	ReceiptTimeout      int    `mapstructure:"receipt_timeout"`       // seconds
	ReceiptPollInterval int    `mapstructure:"receipt_poll_interval"` // milliseconds
	RequestsPerSecond   int    `mapstructure:"requests_per_second"`
}

// PollInterval returns the attestation poll interval
func (c CCTPConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AttestationWait returns the overall attestation timeout
func (c CCTPConfig) AttestationWait() time.Duration {
	return time.Duration(c.AttestationTimeout) * time.Second
}

// ReceiptWait returns the bound on waiting for a transaction receipt
func (c CCTPConfig) ReceiptWait() time.Duration {
	return time.Duration(c.ReceiptTimeout) * time.Second
}

// ChainConfig overrides fields of a built-in chain or declares a new one
type ChainConfig struct {
	DisplayName        string `mapstructure:"display_name"`
	EVMChainID         int64  `mapstructure:"evm_chain_id"`
	RPCURL             string `mapstructure:"rpc_url"`
	USDCAddress        string `mapstructure:"usdc_address"`
	TokenMessenger     string `mapstructure:"token_messenger"`
	MessageTransmitter string `mapstructure:"message_transmitter"`
	Domain             *int   `mapstructure:"domain"`
	ExplorerTxURL      string `mapstructure:"explorer_tx_url"`
}

// SignerConfig holds hex private keys for the custodial burn and mint paths.
// Both are optional; without them the service only tracks externally submitted burns.
// Inline keys win over the named secrets fetched from Source ("env" or "aws").
type SignerConfig struct {
	BurnPrivateKey string `mapstructure:"burn_private_key"`
	MintPrivateKey string `mapstructure:"mint_private_key"`

	Source        string `mapstructure:"source"`
	AWSRegion     string `mapstructure:"aws_region"`
	SecretPrefix  string `mapstructure:"secret_prefix"`
	BurnKeySecret string `mapstructure:"burn_key_secret"`
	MintKeySecret string `mapstructure:"mint_key_secret"`
	CacheTTL      int    `mapstructure:"cache_ttl"` // seconds
}

type WorkerConfig struct {
	Count      int `mapstructure:"count"`
	QueueSize  int `mapstructure:"queue_size"`
	JobTimeout int `mapstructure:"job_timeout"` // seconds, 0 derives it from the CCTP timeouts
	LockTTL    int `mapstructure:"lock_ttl"`    // seconds, redis advance lock
}

type MonitorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Schedule   string `mapstructure:"schedule"`
	StaleAfter int    `mapstructure:"stale_after"` // seconds
	FailStale  bool   `mapstructure:"fail_stale"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// StaleThreshold returns the staleness threshold
func (m MonitorConfig) StaleThreshold() time.Duration {
	return time.Duration(m.StaleAfter) * time.Second
}

// IdempotencyConfig controls replay of POST /payments keyed by Idempotency-Key
type IdempotencyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	TTL     int  `mapstructure:"ttl"` // seconds
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" && !config.Database.InMemory {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 600)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "crosspay")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("jwt.access_token_ttl", 3600)
	v.SetDefault("jwt.issuer", "crosspay")

	v.SetDefault("cctp.environment", "sandbox")
	v.SetDefault("cctp.timeout", 30)
	v.SetDefault("cctp.poll_interval_ms", 3000)
	v.SetDefault("cctp.attestation_timeout", 300)
	v.SetDefault("cctp.receipt_timeout", 120)
	v.SetDefault("cctp.receipt_poll_interval", 1000)
	v.SetDefault("cctp.requests_per_second", 10)

	v.SetDefault("signers.source", "")
	v.SetDefault("signers.aws_region", "us-east-1")
	v.SetDefault("signers.cache_ttl", 300)

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", 86400)

	v.SetDefault("workers.count", 10)
	v.SetDefault("workers.queue_size", 1000)
	v.SetDefault("workers.job_timeout", 0)
	v.SetDefault("workers.lock_ttl", 0)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.schedule", "@every 1m")
	v.SetDefault("monitor.stale_after", 900)
	v.SetDefault("monitor.fail_stale", false)
	v.SetDefault("monitor.batch_size", 100)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.insecure", false)
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		v.Set("redis.url", redisURL)
		v.Set("redis.enabled", true)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("jwt.secret", jwtSecret)
	}

	if circleKey := os.Getenv("CIRCLE_API_KEY"); circleKey != "" {
		v.Set("cctp.api_key", circleKey)
	}
	if irisURL := os.Getenv("CIRCLE_ATTESTATION_URL"); irisURL != "" {
		v.Set("cctp.base_url", irisURL)
	}

	if burnKey := os.Getenv("BURN_SIGNER_KEY"); burnKey != "" {
		v.Set("signers.burn_private_key", burnKey)
	}
	if mintKey := os.Getenv("MINT_SIGNER_KEY"); mintKey != "" {
		v.Set("signers.mint_private_key", mintKey)
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		v.Set("signers.aws_region", region)
	}

	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		v.Set("tracing.collector_url", collector)
		v.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	if !config.Database.InMemory && config.Database.URL == "" &&
		(config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.CCTP.PollIntervalMS <= 0 {
		return fmt.Errorf("cctp.poll_interval_ms must be positive")
	}
	if config.CCTP.AttestationTimeout <= 0 || config.CCTP.ReceiptTimeout <= 0 {
		return fmt.Errorf("cctp attestation and receipt timeouts must be positive")
	}
	if config.CCTP.PollInterval() > config.CCTP.AttestationWait() {
		return fmt.Errorf("cctp.poll_interval_ms exceeds the attestation timeout")
	}

	if config.Workers.Count <= 0 || config.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.count and workers.queue_size must be positive")
	}

	if config.Monitor.Enabled && config.Monitor.StaleAfter <= 0 {
		return fmt.Errorf("monitor.stale_after must be positive when the monitor is enabled")
	}

	switch strings.ToLower(config.Signers.Source) {
	case "", "env", "aws":
	default:
		return fmt.Errorf("signers.source must be one of env, aws or empty")
	}

	if config.Environment == "production" && config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required in production")
	}

	return nil
}
