package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	EngineConfig   EngineConfig   `json:"engine"`
	RiskConfig     RiskConfig     `json:"risk"`
	VenueConfigs   []VenueConfig  `json:"venues"`
	SignalsConfig  SignalsConfig  `json:"signals"`
	PricingConfig  PricingConfig  `json:"pricing"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// EngineConfig holds session/monitor behaviour shared by all users.
type EngineConfig struct {
	MonitorIntervalFast time.Duration `json:"monitor_interval_fast"` // fast-turnover sessions
	MonitorIntervalSlow time.Duration `json:"monitor_interval_slow"` // everything else
	// Sessions whose take-profit threshold is tighter than this percentage
	// are treated as fast-turnover and monitored on the fast interval.
	FastTurnoverTPCutoff float64  `json:"fast_turnover_tp_cutoff"`
	SignalBatchSize      int      `json:"signal_batch_size"` // instruments per signal request
	MaxDailyTrades       int      `json:"max_daily_trades"`  // per-session daily trade cap
	PaperPortfolioValue  float64  `json:"paper_portfolio_value"`
	Instruments          []string `json:"instruments"` // tradable universe
	LedgerPath           string   `json:"ledger_path"` // execution audit stream ("" = stdout)
}

// RiskConfig holds engine-level risk settings and the defaults applied when a
// caller starts a session without a full risk profile.
type RiskConfig struct {
	GracePeriod            time.Duration `json:"grace_period"` // min session age before daily-loss stop
	DefaultMaxDailyLossPct float64       `json:"default_max_daily_loss_pct"`
	DefaultMaxPositionPct  float64       `json:"default_max_position_pct"`
	DefaultStopLossPct     float64       `json:"default_stop_loss_pct"`
	DefaultTakeProfitPct   float64       `json:"default_take_profit_pct"`
	DefaultMaxPositions    int           `json:"default_max_positions"`
	DefaultSessionDuration time.Duration `json:"default_session_duration"`
}

// VenueConfig describes one exchange venue the router may execute on.
// Order in the config file is the default ranking.
type VenueConfig struct {
	Name        string        `json:"name"`
	BaseURL     string        `json:"base_url"`
	MinNotional float64       `json:"min_notional"`
	Symbols     []string      `json:"symbols"` // asset-class compatibility; empty = all
	Timeout     time.Duration `json:"timeout"`
}

type SignalsConfig struct {
	ServiceURL string        `json:"service_url"` // "" = offline provider
	Timeout    time.Duration `json:"timeout"`
}

type PricingConfig struct {
	ServiceURL string        `json:"service_url"` // "" = offline feed
	Timeout    time.Duration `json:"timeout"`
	CacheTTL   time.Duration `json:"cache_ttl"` // last-known reference price TTL
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"` // path prefix for venue credentials
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
}

type LoggingConfig struct {
	Level       string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"` // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// No config file is fine; environment and defaults cover everything.
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Venue API credentials are NOT read from environment; they are per-user and
// stored in Vault.
func applyEnvOverrides(cfg *Config) {
	cfg.EngineConfig.MonitorIntervalFast = getEnvDurationOrDefault("ENGINE_MONITOR_INTERVAL_FAST", cfg.EngineConfig.MonitorIntervalFast)
	cfg.EngineConfig.MonitorIntervalSlow = getEnvDurationOrDefault("ENGINE_MONITOR_INTERVAL_SLOW", cfg.EngineConfig.MonitorIntervalSlow)
	cfg.EngineConfig.SignalBatchSize = getEnvIntOrDefault("ENGINE_SIGNAL_BATCH_SIZE", cfg.EngineConfig.SignalBatchSize)
	cfg.EngineConfig.MaxDailyTrades = getEnvIntOrDefault("ENGINE_MAX_DAILY_TRADES", cfg.EngineConfig.MaxDailyTrades)
	cfg.EngineConfig.PaperPortfolioValue = getEnvFloatOrDefault("ENGINE_PAPER_PORTFOLIO_VALUE", cfg.EngineConfig.PaperPortfolioValue)
	cfg.EngineConfig.LedgerPath = getEnvOrDefault("ENGINE_LEDGER_PATH", cfg.EngineConfig.LedgerPath)
	if v := os.Getenv("ENGINE_INSTRUMENTS"); v != "" {
		cfg.EngineConfig.Instruments = strings.Split(v, ",")
	}

	cfg.RiskConfig.GracePeriod = getEnvDurationOrDefault("RISK_GRACE_PERIOD", cfg.RiskConfig.GracePeriod)

	cfg.SignalsConfig.ServiceURL = getEnvOrDefault("SIGNALS_SERVICE_URL", cfg.SignalsConfig.ServiceURL)
	cfg.PricingConfig.ServiceURL = getEnvOrDefault("PRICING_SERVICE_URL", cfg.PricingConfig.ServiceURL)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", boolString(cfg.AuthConfig.Enabled)) == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolString(cfg.LoggingConfig.IncludeFile)) == "true"
}

func applyDefaults(cfg *Config) {
	if cfg.EngineConfig.MonitorIntervalFast <= 0 {
		cfg.EngineConfig.MonitorIntervalFast = 2 * time.Second
	}
	if cfg.EngineConfig.MonitorIntervalSlow <= 0 {
		cfg.EngineConfig.MonitorIntervalSlow = 10 * time.Second
	}
	if cfg.EngineConfig.FastTurnoverTPCutoff <= 0 {
		cfg.EngineConfig.FastTurnoverTPCutoff = 1.0
	}
	if cfg.EngineConfig.SignalBatchSize <= 0 {
		cfg.EngineConfig.SignalBatchSize = 3
	}
	if cfg.EngineConfig.MaxDailyTrades <= 0 {
		cfg.EngineConfig.MaxDailyTrades = 50
	}
	if cfg.EngineConfig.PaperPortfolioValue <= 0 {
		cfg.EngineConfig.PaperPortfolioValue = 10000
	}
	if len(cfg.EngineConfig.Instruments) == 0 {
		cfg.EngineConfig.Instruments = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}

	if cfg.RiskConfig.GracePeriod <= 0 {
		cfg.RiskConfig.GracePeriod = 5 * time.Minute
	}
	if cfg.RiskConfig.DefaultMaxDailyLossPct <= 0 {
		cfg.RiskConfig.DefaultMaxDailyLossPct = 5.0
	}
	if cfg.RiskConfig.DefaultMaxPositionPct <= 0 {
		cfg.RiskConfig.DefaultMaxPositionPct = 10.0
	}
	if cfg.RiskConfig.DefaultStopLossPct <= 0 {
		cfg.RiskConfig.DefaultStopLossPct = 2.0
	}
	if cfg.RiskConfig.DefaultTakeProfitPct <= 0 {
		cfg.RiskConfig.DefaultTakeProfitPct = 4.0
	}
	if cfg.RiskConfig.DefaultMaxPositions <= 0 {
		cfg.RiskConfig.DefaultMaxPositions = 5
	}
	if cfg.RiskConfig.DefaultSessionDuration <= 0 {
		cfg.RiskConfig.DefaultSessionDuration = 24 * time.Hour
	}

	if cfg.PricingConfig.Timeout <= 0 {
		cfg.PricingConfig.Timeout = 5 * time.Second
	}
	if cfg.PricingConfig.CacheTTL <= 0 {
		cfg.PricingConfig.CacheTTL = time.Hour
	}
	if cfg.SignalsConfig.Timeout <= 0 {
		cfg.SignalsConfig.Timeout = 10 * time.Second
	}

	for i := range cfg.VenueConfigs {
		if cfg.VenueConfigs[i].Timeout <= 0 {
			cfg.VenueConfigs[i].Timeout = 10 * time.Second
		}
	}

	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.User == "" {
		cfg.DatabaseConfig.User = "tradepilot"
	}
	if cfg.DatabaseConfig.Database == "" {
		cfg.DatabaseConfig.Database = "tradepilot"
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}

	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "tradepilot/venue-keys"
	}

	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
