package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Valuation ValuationConfig `mapstructure:"valuation"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	WebhookPath string `mapstructure:"webhook_path"`
	SigningKey  string `mapstructure:"signing_key"`
	// MaxInFlight bounds webhook batches processed concurrently.
	MaxInFlight int64 `mapstructure:"max_in_flight"`
}

type ChainConfig struct {
	Name          string `mapstructure:"name"`
	ChainID       int64  `mapstructure:"chain_id"`
	RPCEndpoint   string `mapstructure:"rpc_endpoint"`
	AlchemyAPIKey string `mapstructure:"alchemy_api_key"`
	LogWindow     uint64 `mapstructure:"log_window"`
	// AlchemyMetadata switches token metadata to alchemy_getTokenMetadata
	// instead of ERC-20 contract calls.
	AlchemyMetadata bool `mapstructure:"alchemy_metadata"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type ValuationConfig struct {
	Stablecoins   []string `mapstructure:"stablecoins"`
	NativeSymbol  string   `mapstructure:"native_symbol"`
	NativeAddress string   `mapstructure:"native_address"`
}

type OracleConfig struct {
	MapURL     string        `mapstructure:"map_url"`
	ChartURL   string        `mapstructure:"chart_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Channel string `mapstructure:"channel"`
}

type BackfillConfig struct {
	CSVPath string `mapstructure:"csv_path"`
	// FollowInterval enables scanning newly mined blocks when non-zero.
	FollowInterval time.Duration `mapstructure:"follow_interval"`
	Wallets        []string      `mapstructure:"wallets"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultStablecoins are seeded at 1 USD. Propagation pops from the end of
// the list, so later entries are explored first.
var DefaultStablecoins = []string{
	"GHO", "GRAI", "SEUR", "aUSDC", "BUSD", "GUSD", "CRVUSD", "EUSD", "aUSDT",
	"USDP", "TUSD", "MIM", "EURA", "TAI", "XAI", "USDD", "BOB", "PUSd", "DAI",
	"VEUR", "DOLA", "FRAX", "anyCRU", "anyETH", "MXNt", "LUSD", "SUSD", "USDC",
	"USDT",
}

// Load reads configuration from an optional YAML file, a .env file in the
// working directory and TRACKER_* environment variables.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variable names used by existing deployments
	_ = v.BindEnv("server.signing_key", "TRACKER_SERVER_SIGNING_KEY", "WEBHOOK_SIGNING_KEY")
	_ = v.BindEnv("server.host", "TRACKER_SERVER_HOST", "HOST")
	_ = v.BindEnv("server.port", "TRACKER_SERVER_PORT", "PORT")
	_ = v.BindEnv("chain.alchemy_api_key", "TRACKER_CHAIN_ALCHEMY_API_KEY", "ALCHEMY_API_KEY")

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Backfill.Wallets = NormalizeWallets(config.Backfill.Wallets)
	config.Valuation.NativeAddress = strings.ToLower(config.Valuation.NativeAddress)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.webhook_path", "/webhook")
	v.SetDefault("server.signing_key", "")
	v.SetDefault("server.max_in_flight", 4)
	v.SetDefault("chain.name", "ethereum")
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.rpc_endpoint", "")
	v.SetDefault("chain.alchemy_api_key", "")
	v.SetDefault("chain.log_window", 500)
	v.SetDefault("chain.alchemy_metadata", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("valuation.stablecoins", DefaultStablecoins)
	v.SetDefault("valuation.native_symbol", "WETH")
	v.SetDefault("valuation.native_address", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	v.SetDefault("oracle.map_url", "https://s3.coinmarketcap.com/generated/core/crypto/cryptos.json")
	v.SetDefault("oracle.chart_url", "https://api.coinmarketcap.com/data-api/v3/cryptocurrency/detail/chart")
	v.SetDefault("oracle.timeout", "30s")
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "swap-events")
	v.SetDefault("realtime.enabled", false)
	v.SetDefault("realtime.url", "http://localhost:8000/api")
	v.SetDefault("realtime.api_key", "")
	v.SetDefault("realtime.channel", "swaps")
	v.SetDefault("backfill.csv_path", "settings.csv")
	v.SetDefault("backfill.follow_interval", "0s")
	v.SetDefault("backfill.wallets", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings every entry point depends on.
func (c *Config) Validate() error {
	if c.Chain.RPCURL() == "" {
		return fmt.Errorf("chain.rpc_endpoint or chain.alchemy_api_key is required")
	}
	if c.Chain.LogWindow == 0 {
		return fmt.Errorf("chain.log_window must be positive")
	}
	if c.Valuation.NativeSymbol == "" {
		return fmt.Errorf("valuation.native_symbol is required")
	}
	if c.Server.MaxInFlight <= 0 {
		c.Server.MaxInFlight = 1
	}
	return nil
}

// RPCURL returns the configured endpoint, or the Alchemy mainnet endpoint
// derived from the API key.
func (c *ChainConfig) RPCURL() string {
	if c.RPCEndpoint != "" {
		return c.RPCEndpoint
	}
	if c.AlchemyAPIKey != "" {
		return "https://eth-mainnet.g.alchemy.com/v2/" + c.AlchemyAPIKey
	}
	return ""
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns host:port for the HTTP listener.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NormalizeWallets trims, lowercases and drops empty wallet addresses.
func NormalizeWallets(wallets []string) []string {
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
