// Package config loads the triangular-arbitrage engine's configuration:
// viper defaults set programmatically, then a YAML file, then
// TRIARB_-prefixed environment variables, in increasing precedence, with a
// local .env picked up first via godotenv for ergonomic secret-path
// overrides.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the raw, unmarshaled configuration surface: fee/slippage/sizing
// knobs, the market-data and scanner tuning parameters, and the executor,
// logging, and credential paths every subsystem needs. Fields that are
// ultimately Decimal-typed downstream are kept as strings here, since
// viper's mapstructure decoding has no native shopspring/decimal hook; each
// subsystem converts the fields it needs via MustDecimal at startup.
type Config struct {
	Live       bool              `mapstructure:"live"`
	UseTestnet bool              `mapstructure:"useTestnet"`
	PairsFile  string            `mapstructure:"pairsFile"`
	WalletInit map[string]string `mapstructure:"walletInit"`

	Fee                 string `mapstructure:"fee"`
	Slippage            string `mapstructure:"slippage"`
	MaxFractionPerTrade string `mapstructure:"maxFractionPerTrade"`
	MinFill             string `mapstructure:"minFill"`
	Threshold           string `mapstructure:"threshold"`
	MinProfitUSDT       string `mapstructure:"minProfitUSDT"`

	MarketData  MarketDataConfig  `mapstructure:"marketData"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Logs        LogsConfig        `mapstructure:"logs"`
	Server      ServerConfig      `mapstructure:"server"`
	GCP         GCPConfig         `mapstructure:"gcp"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Wallet      WalletFileConfig  `mapstructure:"walletFile"`
}

type MarketDataConfig struct {
	BaseURL                 string `mapstructure:"baseURL"`
	MaxSymbolsPerConn       int    `mapstructure:"maxSymbolsPerConn"`
	DepthLevels             int    `mapstructure:"depthLevels"`
	CadenceMs               int    `mapstructure:"cadenceMs"`
	InitialBackoffSeconds   int    `mapstructure:"initialBackoffSeconds"`
	MaxBackoffSeconds       int    `mapstructure:"maxBackoffSeconds"`
	StalenessSeconds        int    `mapstructure:"stalenessSeconds"`
	WatchdogIntervalSeconds int    `mapstructure:"watchdogIntervalSeconds"`
}

type ScannerConfig struct {
	TopNPerSymbol     int `mapstructure:"topNPerSymbol"`
	WorkerPoolSize    int `mapstructure:"workerPoolSize"`
	CooldownSeconds   int `mapstructure:"cooldownSeconds"`
	FailWindowSeconds int `mapstructure:"failWindowSeconds"`
	MaxFailsInWindow  int `mapstructure:"maxFailsInWindow"`
}

type ExecutorConfig struct {
	BaseURL                    string `mapstructure:"baseURL"`
	RecvWindowMs               int    `mapstructure:"recvWindowMs"`
	MaxRequestsPerMinute       int    `mapstructure:"maxRequestsPerMinute"`
	MaxOrdersPerSecond         int    `mapstructure:"maxOrdersPerSecond"`
	AccountSyncIntervalSeconds int    `mapstructure:"accountSyncIntervalSeconds"`

	DryBaseLatencyMs  int     `mapstructure:"dryBaseLatencyMs"`
	DryPTransientFail float64 `mapstructure:"dryPTransientFail"`
	DryFillRatio      string  `mapstructure:"dryFillRatio"`
	DrySlippageBps    string  `mapstructure:"drySlippageBps"`
	DryMockPrice      string  `mapstructure:"dryMockPrice"`
}

type LogsConfig struct {
	SimLog           string `mapstructure:"simLog"`
	LegLog           string `mapstructure:"legLog"`
	ScanLog          string `mapstructure:"scanLog"`
	FailLog          string `mapstructure:"failLog"`
	ProfitableCycles string `mapstructure:"profitableCycles"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type GCPConfig struct {
	ProjectID  string `mapstructure:"projectId"`
	UseSecrets bool   `mapstructure:"useSecrets"`
}

// CredentialsConfig names the passphrase file and encrypted-keys file paths
// required to resolve venue credentials in live mode.
type CredentialsConfig struct {
	PassphraseFile    string `mapstructure:"passphraseFile"`
	EncryptedKeysFile string `mapstructure:"encryptedKeysFile"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" in production, "text" when running interactively.
	Format string `mapstructure:"format"`
}

type WalletFileConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configPath (or the default search path) through viper, with
// TRIARB_-prefixed environment variables taking precedence over the file and
// the file taking precedence over the programmatic defaults below.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/triarb")
	}

	v.SetEnvPrefix("TRIARB")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Live && !c.UseTestnet {
		if c.Credentials.PassphraseFile == "" || c.Credentials.EncryptedKeysFile == "" {
			return fmt.Errorf("live mode against the real venue requires credentials.passphraseFile and credentials.encryptedKeysFile")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("live", false)
	v.SetDefault("useTestnet", true)
	v.SetDefault("fee", "0.001")
	v.SetDefault("slippage", "0.01")
	v.SetDefault("maxFractionPerTrade", "0.5")
	v.SetDefault("minFill", "1.0")
	v.SetDefault("threshold", "0.5")
	v.SetDefault("minProfitUSDT", "0.5")

	v.SetDefault("marketData.baseURL", "wss://stream.binance.com:9443")
	v.SetDefault("marketData.maxSymbolsPerConn", 50)
	v.SetDefault("marketData.depthLevels", 20)
	v.SetDefault("marketData.cadenceMs", 100)
	v.SetDefault("marketData.initialBackoffSeconds", 1)
	v.SetDefault("marketData.maxBackoffSeconds", 300)
	v.SetDefault("marketData.stalenessSeconds", 30)
	v.SetDefault("marketData.watchdogIntervalSeconds", 5)

	v.SetDefault("scanner.topNPerSymbol", 50)
	v.SetDefault("scanner.workerPoolSize", 4)
	v.SetDefault("scanner.cooldownSeconds", 10)
	v.SetDefault("scanner.failWindowSeconds", 60)
	v.SetDefault("scanner.maxFailsInWindow", 3)

	v.SetDefault("executor.baseURL", "https://api.binance.com")
	v.SetDefault("executor.recvWindowMs", 5000)
	v.SetDefault("executor.maxRequestsPerMinute", 1200)
	v.SetDefault("executor.maxOrdersPerSecond", 10)
	v.SetDefault("executor.accountSyncIntervalSeconds", 30)
	v.SetDefault("executor.dryBaseLatencyMs", 50)
	v.SetDefault("executor.dryPTransientFail", 0.10)
	v.SetDefault("executor.dryFillRatio", "1.0")
	v.SetDefault("executor.drySlippageBps", "5")
	v.SetDefault("executor.dryMockPrice", "100")

	v.SetDefault("logs.simLog", "sim_log.csv")
	v.SetDefault("logs.legLog", "leg_log.csv")
	v.SetDefault("logs.scanLog", "scan_log.csv")
	v.SetDefault("logs.failLog", "fail_log.csv")
	v.SetDefault("logs.profitableCycles", "profitable_cycles.csv")

	v.SetDefault("server.port", 8080)

	v.SetDefault("gcp.useSecrets", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("walletFile.path", "wallet_state.json")
}

// MustDecimal parses s or panics — used only at startup for config values,
// never on data crossing a runtime boundary. Load does not check that the
// decimal-valued keys parse, so a malformed value panics here.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("config: invalid decimal %q: %v", s, err))
	}
	return d
}

func (c MarketDataConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

func (c MarketDataConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c MarketDataConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessSeconds) * time.Second
}

func (c MarketDataConfig) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSeconds) * time.Second
}

func (c ScannerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c ScannerConfig) FailWindow() time.Duration {
	return time.Duration(c.FailWindowSeconds) * time.Second
}

func (c ExecutorConfig) AccountSyncInterval() time.Duration {
	return time.Duration(c.AccountSyncIntervalSeconds) * time.Second
}

func (c ExecutorConfig) DryBaseLatency() time.Duration {
	return time.Duration(c.DryBaseLatencyMs) * time.Millisecond
}
