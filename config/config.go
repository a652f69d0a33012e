package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Quote      QuoteConfig      `mapstructure:"quote"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the persistence backend.
// "postgres" uses PostgreSQL + Redis; "memory" keeps everything in process (dev and tests).
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// VaultConfig describes where the master secret comes from.
// Source is one of env, file, passphrase.
type VaultConfig struct {
	Source         string             `mapstructure:"source"`
	MasterKey      string             `mapstructure:"master_key"`      // hex, source=env
	MasterKeyFile  string             `mapstructure:"master_key_file"` // source=file
	Passphrase     string             `mapstructure:"passphrase"`      // source=passphrase
	PassphraseSalt string             `mapstructure:"passphrase_salt"` // hex
	KeyVersion     int                `mapstructure:"key_version"`
	RetiredKeys    []RetiredKeyConfig `mapstructure:"retired_keys"`
}

// RetiredKeyConfig keeps an older master key readable until every envelope is resealed.
type RetiredKeyConfig struct {
	Version int    `mapstructure:"version"`
	Key     string `mapstructure:"key"` // hex
}

type ChainConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	RouterAddress   string        `mapstructure:"router_address"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	MaxGasPriceGwei int64         `mapstructure:"max_gas_price_gwei"`
	DeadlineWindow  time.Duration `mapstructure:"deadline_window"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Pools           []PoolConfig  `mapstructure:"pools"`
}

// PoolConfig registers one tradable pool. Kind is constant_product or bonding_curve.
type PoolConfig struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
	Kind    string `mapstructure:"kind"`
	Token0  string `mapstructure:"token0"`
	Token1  string `mapstructure:"token1"`
	FeeBps  int64  `mapstructure:"fee_bps"`
}

type QuoteConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	MaxPoolAge         time.Duration `mapstructure:"max_pool_age"`
	SnapshotRefresh    time.Duration `mapstructure:"snapshot_refresh"`
	HighImpactBps      int64         `mapstructure:"high_impact_bps"`
	DefaultSlippageBps int64         `mapstructure:"default_slippage_bps"`
	MinSlippageBps     int64         `mapstructure:"min_slippage_bps"`
	MaxSlippageBps     int64         `mapstructure:"max_slippage_bps"`
}

type ExecutorConfig struct {
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	SigningTimeout     time.Duration `mapstructure:"signing_timeout"`
	SubmitAttempts     int           `mapstructure:"submit_attempts"`
	PollInitialBackoff time.Duration `mapstructure:"poll_initial_backoff"`
	PollMaxBackoff     time.Duration `mapstructure:"poll_max_backoff"`
	PollMaxAttempts    int           `mapstructure:"poll_max_attempts"`
	MaxWait            time.Duration `mapstructure:"max_wait"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
}

type WalletConfig struct {
	MaxPerUser int `mapstructure:"max_per_user"`
}

type ReconcilerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	MinAge    time.Duration `mapstructure:"min_age"`
	BatchSize int           `mapstructure:"batch_size"`

	// ExpiredLookback bounds how far back EXPIRED orders are re-checked on chain.
	ExpiredLookback time.Duration `mapstructure:"expired_lookback"`
}

// NotifierConfig points at the front-end callback. An empty CallbackURL disables notifications.
type NotifierConfig struct {
	CallbackURL string        `mapstructure:"callback_url"`
	Secret      string        `mapstructure:"secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: DTC_ (DEX Trade Core).
// Nested keys use underscore: DTC_DATABASE_HOST, DTC_VAULT_MASTER_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// DTC_CHAIN_RPC_URL -> chain.rpc_url
	v.SetEnvPrefix("DTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "dex_trade_core")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "dex-trade-core")

	v.SetDefault("vault.source", "env")
	v.SetDefault("vault.master_key", "")
	v.SetDefault("vault.master_key_file", "")
	v.SetDefault("vault.passphrase", "")
	v.SetDefault("vault.passphrase_salt", "")
	v.SetDefault("vault.key_version", 1)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 10143)
	v.SetDefault("chain.router_address", "")
	v.SetDefault("chain.gas_limit", 500000)
	v.SetDefault("chain.max_gas_price_gwei", 200)
	v.SetDefault("chain.deadline_window", "5m")
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("quote.ttl", "30s")
	v.SetDefault("quote.max_pool_age", "60s")
	v.SetDefault("quote.snapshot_refresh", "2s")
	v.SetDefault("quote.high_impact_bps", 500)
	v.SetDefault("quote.default_slippage_bps", 500)
	v.SetDefault("quote.min_slippage_bps", 10)
	v.SetDefault("quote.max_slippage_bps", 5000)

	v.SetDefault("executor.lock_timeout", "5s")
	v.SetDefault("executor.lock_ttl", "6m")
	v.SetDefault("executor.signing_timeout", "5s")
	v.SetDefault("executor.submit_attempts", 3)
	v.SetDefault("executor.poll_initial_backoff", "1s")
	v.SetDefault("executor.poll_max_backoff", "15s")
	v.SetDefault("executor.poll_max_attempts", 60)
	v.SetDefault("executor.max_wait", "300s")
	v.SetDefault("executor.idempotency_ttl", "24h")

	v.SetDefault("wallet.max_per_user", 10)

	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "1m")
	v.SetDefault("reconciler.min_age", "10m")
	v.SetDefault("reconciler.batch_size", 50)
	v.SetDefault("reconciler.expired_lookback", "24h")

	v.SetDefault("notifier.callback_url", "")
	v.SetDefault("notifier.secret", "")
	v.SetDefault("notifier.timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	switch c.Vault.Source {
	case "env", "file", "passphrase":
	default:
		return fmt.Errorf("vault.source must be env, file or passphrase, got %q", c.Vault.Source)
	}
	if c.Vault.KeyVersion <= 0 {
		return fmt.Errorf("vault.key_version must be positive")
	}
	if c.Quote.MinSlippageBps <= 0 || c.Quote.MinSlippageBps > c.Quote.MaxSlippageBps || c.Quote.MaxSlippageBps >= 10000 {
		return fmt.Errorf("quote slippage bounds invalid: min=%d max=%d", c.Quote.MinSlippageBps, c.Quote.MaxSlippageBps)
	}
	if c.Quote.DefaultSlippageBps < c.Quote.MinSlippageBps || c.Quote.DefaultSlippageBps > c.Quote.MaxSlippageBps {
		return fmt.Errorf("quote.default_slippage_bps %d outside [%d, %d]", c.Quote.DefaultSlippageBps, c.Quote.MinSlippageBps, c.Quote.MaxSlippageBps)
	}
	if c.Executor.SubmitAttempts < 1 {
		return fmt.Errorf("executor.submit_attempts must be at least 1")
	}
	for _, p := range c.Chain.Pools {
		if p.Kind != "constant_product" && p.Kind != "bonding_curve" {
			return fmt.Errorf("pool %s: unknown kind %q", p.ID, p.Kind)
		}
		if p.FeeBps < 0 || p.FeeBps >= 10000 {
			return fmt.Errorf("pool %s: fee_bps out of range", p.ID)
		}
	}
	return nil
}
