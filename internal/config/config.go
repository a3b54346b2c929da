// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. AUTOTRADER_SOLANA_RPC_URL.
const EnvPrefix = "AUTOTRADER"

// Config holds application settings loaded from config.yaml / config.json.
type Config struct {
	WalletsFile string          `mapstructure:"wallets_file"`
	Wallet      WalletDefaults  `mapstructure:"wallet_defaults"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Consensus   ConsensusConfig `mapstructure:"consensus"`
	Advisors    []AdvisorConfig `mapstructure:"advisors"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Position    PositionConfig  `mapstructure:"position"`
	Portfolio   PortfolioConfig `mapstructure:"portfolio"`
	Rotation    RotationConfig  `mapstructure:"rotation"`
	Strategy    StrategyConfig  `mapstructure:"strategy"`
	Market      MarketConfig    `mapstructure:"market"`
	Dex         DexConfig       `mapstructure:"dex"`
	Solana      SolanaConfig    `mapstructure:"solana"`
	Store       StoreConfig     `mapstructure:"store"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Log         LogConfig       `mapstructure:"log"`
}

// WalletDefaults seed the BotConfig of a wallet seen for the first time.
type WalletDefaults struct {
	TotalBudget    float64 `mapstructure:"total_budget"` // SOL, 0 means unlimited
	MaxTradePct    float64 `mapstructure:"max_trade_pct"`
	FeeExempt      bool    `mapstructure:"fee_exempt"`
	DrawdownBypass bool    `mapstructure:"drawdown_bypass"`
}

type SchedulerConfig struct {
	FastScan         time.Duration `mapstructure:"fast_scan"`
	DeepScan         time.Duration `mapstructure:"deep_scan"`
	PositionMonitor  time.Duration `mapstructure:"position_monitor"`
	Rebalance        time.Duration `mapstructure:"rebalance"`
	CacheJanitor     time.Duration `mapstructure:"cache_janitor"`
	StaleJanitor     time.Duration `mapstructure:"stale_janitor"`
	StrategyRefresh  time.Duration `mapstructure:"strategy_refresh"`
	StaleRecordAge   time.Duration `mapstructure:"stale_record_age"`
	ScanConcurrency  int           `mapstructure:"scan_concurrency"`
	DeepScanMaxSlots int           `mapstructure:"deep_scan_candidates"`
}

type CacheConfig struct {
	DiscoveryTTL        time.Duration `mapstructure:"discovery_ttl"`
	AnalysisMaxAge      time.Duration `mapstructure:"analysis_max_age"`
	AnalysisPriceMove   float64       `mapstructure:"analysis_price_move_pct"`
	AnalysisProfitMove  float64       `mapstructure:"analysis_profit_move_pct"`
	FingerprintPrice    float64       `mapstructure:"fingerprint_price_pct"`
	FingerprintProfit   float64       `mapstructure:"fingerprint_profit_pct"`
	FingerprintInterval time.Duration `mapstructure:"fingerprint_interval"`
}

type ConsensusConfig struct {
	HealthFloor      float64       `mapstructure:"health_floor"`
	FailurePenalty   float64       `mapstructure:"failure_penalty"`
	SuccessReward    float64       `mapstructure:"success_reward"`
	Quorum           int           `mapstructure:"quorum"`
	Supermajority    float64       `mapstructure:"supermajority"`
	ExhaustCooldown  time.Duration `mapstructure:"exhaust_cooldown"`
	ReasoningSources int           `mapstructure:"reasoning_sources"`
}

// AdvisorConfig describes one OpenAI-compatible chat completion endpoint.
type AdvisorConfig struct {
	Name          string        `mapstructure:"name"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	APIKey        string        `mapstructure:"api_key"`
	Weight        float64       `mapstructure:"weight"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RiskPanel     bool          `mapstructure:"risk_panel"`
}

type RiskConfig struct {
	ExtremeLossPct  float64       `mapstructure:"extreme_loss_pct"`
	HighLossPct     float64       `mapstructure:"high_loss_pct"`
	MajoritySize    float64       `mapstructure:"majority_size_factor"`
	StrongSize      float64       `mapstructure:"strong_majority_size_factor"`
	StopTightening  float64       `mapstructure:"stop_tightening_factor"`
	DrawdownPause   float64       `mapstructure:"drawdown_pause_pct"`
	DrawdownResume  float64       `mapstructure:"drawdown_resume_pct"`
	MinLiquidityUSD float64       `mapstructure:"rule_min_liquidity_usd"`
	SpikePct        float64       `mapstructure:"rule_spike_1h_pct"`
	MinAge          time.Duration `mapstructure:"rule_min_age"`
	DumpPct         float64       `mapstructure:"rule_dump_24h_pct"`
}

type PositionConfig struct {
	TrailingArmPct      float64 `mapstructure:"trailing_arm_pct"`
	TrailingDistancePct float64 `mapstructure:"trailing_distance_pct"`
	AdvisorStreak       int     `mapstructure:"advisor_streak"`
	LowConfidence       float64 `mapstructure:"low_confidence"`
	AdvisorSellMinConf  float64 `mapstructure:"advisor_sell_min_confidence"`
	RebuyDipPct         float64 `mapstructure:"rebuy_dip_pct"`
	RebuyCap            int     `mapstructure:"rebuy_cap"`
	AccumulateConf      float64 `mapstructure:"accumulate_confidence"`
	AccumulateMaxStake  float64 `mapstructure:"accumulate_max_stake_multiple"`
	AccumulateMaxLoss   float64 `mapstructure:"accumulate_max_loss_pct"`
	LostTrackAfter      int     `mapstructure:"lost_track_after"`
	PlatformFeeBps      int     `mapstructure:"platform_fee_bps"`
	SlippageBps         int     `mapstructure:"slippage_bps"`
}

type PortfolioConfig struct {
	DeployablePct    float64 `mapstructure:"deployable_pct"`
	ConcentrationPct float64 `mapstructure:"concentration_pct"`
	ReservePct       float64 `mapstructure:"reserve_pct"`
	ReserveMin       float64 `mapstructure:"reserve_min_sol"`
	ReserveMax       float64 `mapstructure:"reserve_max_sol"`
	MinTradeSOL      float64 `mapstructure:"min_trade_sol"`
	PriceBatch       int     `mapstructure:"price_batch"`
}

type RotationConfig struct {
	MinHold           time.Duration `mapstructure:"min_hold"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	MarginPoints      float64       `mapstructure:"margin_points"`
	LossPct           float64       `mapstructure:"loss_pct"`
	LossMinConfidence float64       `mapstructure:"loss_min_confidence"`
	EmergencySOL      float64       `mapstructure:"emergency_sol"`
	Haircut           float64       `mapstructure:"proceeds_haircut"`
	SmallProfitPct    float64       `mapstructure:"small_profit_pct"`
	OutrankedPenalty  float64       `mapstructure:"outranked_penalty"`
}

type StrategyConfig struct {
	Window          int           `mapstructure:"window"`
	Validity        time.Duration `mapstructure:"validity"`
	MaxTradesPerDay int           `mapstructure:"max_trades_per_day"`
	MinLiquidityUSD float64       `mapstructure:"min_liquidity_usd"`
	MinVolumeUSD    float64       `mapstructure:"min_volume_usd"`
}

type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Queries        []string      `mapstructure:"queries"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retries        int           `mapstructure:"retries"`
	BinanceSymbol  string        `mapstructure:"binance_symbol"`
	DiscoveryLimit int           `mapstructure:"discovery_limit"`
}

type DexConfig struct {
	PrimaryURL   string        `mapstructure:"primary_url"`
	SecondaryURL string        `mapstructure:"secondary_url"`
	PriorityFee  uint64        `mapstructure:"priority_fee_lamports"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DryRun       bool          `mapstructure:"dry_run"`
}

type SolanaConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory | postgres
	PostgresURL string `mapstructure:"postgres_url"`
}

type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
	WebsocketAddr  string `mapstructure:"websocket_addr"`
	BufferSize     int    `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

var defaults = map[string]interface{}{
	"wallets_file": "configs/wallets.csv",

	"wallet_defaults.total_budget":    0.0,
	"wallet_defaults.max_trade_pct":   0.0,
	"wallet_defaults.fee_exempt":      false,
	"wallet_defaults.drawdown_bypass": false,

	"scheduler.fast_scan":            "5m",
	"scheduler.deep_scan":            "20m",
	"scheduler.position_monitor":     "5m",
	"scheduler.rebalance":            "20m",
	"scheduler.cache_janitor":        "1h",
	"scheduler.stale_janitor":        "24h",
	"scheduler.strategy_refresh":     "6h",
	"scheduler.stale_record_age":     "720h",
	"scheduler.scan_concurrency":     4,
	"scheduler.deep_scan_candidates": 10,

	"cache.discovery_ttl":            "5m",
	"cache.analysis_max_age":         "15m",
	"cache.analysis_price_move_pct":  5.0,
	"cache.analysis_profit_move_pct": 3.0,
	"cache.fingerprint_price_pct":    2.0,
	"cache.fingerprint_profit_pct":   1.0,
	"cache.fingerprint_interval":     "10m",

	"consensus.health_floor":      30.0,
	"consensus.failure_penalty":   15.0,
	"consensus.success_reward":    5.0,
	"consensus.quorum":            3,
	"consensus.supermajority":     0.64,
	"consensus.exhaust_cooldown":  "1h",
	"consensus.reasoning_sources": 3,

	"risk.extreme_loss_pct":            95.0,
	"risk.high_loss_pct":               70.0,
	"risk.majority_size_factor":        0.5,
	"risk.strong_majority_size_factor": 0.25,
	"risk.stop_tightening_factor":      0.6,
	"risk.drawdown_pause_pct":          20.0,
	"risk.drawdown_resume_pct":         10.0,
	"risk.rule_min_liquidity_usd":      10000.0,
	"risk.rule_spike_1h_pct":           100.0,
	"risk.rule_min_age":                "1h",
	"risk.rule_dump_24h_pct":           -20.0,

	"position.trailing_arm_pct":              1.5,
	"position.trailing_distance_pct":         3.0,
	"position.advisor_streak":                3,
	"position.low_confidence":                0.5,
	"position.advisor_sell_min_confidence":   0.6,
	"position.rebuy_dip_pct":                 10.0,
	"position.rebuy_cap":                     2,
	"position.accumulate_confidence":         0.85,
	"position.accumulate_max_stake_multiple": 2.0,
	"position.accumulate_max_loss_pct":       -25.0,
	"position.lost_track_after":              2,
	"position.platform_fee_bps":              50,
	"position.slippage_bps":                  300,

	"portfolio.deployable_pct":    90.0,
	"portfolio.concentration_pct": 25.0,
	"portfolio.reserve_pct":       2.0,
	"portfolio.reserve_min_sol":   0.01,
	"portfolio.reserve_max_sol":   0.5,
	"portfolio.min_trade_sol":     0.01,
	"portfolio.price_batch":       30,

	"rotation.min_hold":            "30m",
	"rotation.min_confidence":      0.78,
	"rotation.margin_points":       15.0,
	"rotation.loss_pct":            -10.0,
	"rotation.loss_min_confidence": 0.8,
	"rotation.emergency_sol":       0.02,
	"rotation.proceeds_haircut":    0.03,
	"rotation.small_profit_pct":    10.0,
	"rotation.outranked_penalty":   25.0,

	"strategy.window":             50,
	"strategy.validity":           "6h",
	"strategy.max_trades_per_day": 20,
	"strategy.min_liquidity_usd":  25000.0,
	"strategy.min_volume_usd":     50000.0,

	"market.base_url":        "https://api.dexscreener.com/latest/dex",
	"market.queries":         []string{"SOL"},
	"market.rate_per_minute": 300,
	"market.timeout":         "10s",
	"market.retries":         3,
	"market.binance_symbol":  "SOLUSDT",
	"market.discovery_limit": 30,

	"dex.primary_url":           "https://api.jup.ag/swap/v1",
	"dex.secondary_url":         "https://lite-api.jup.ag/swap/v1",
	"dex.priority_fee_lamports": 100000,
	"dex.timeout":               "20s",
	"dex.dry_run":               false,

	"solana.rpc_url": "https://api.mainnet-beta.solana.com",

	"store.driver": "memory",

	"notify.buffer_size": 256,

	"metrics.addr": ":9090",

	"log.file":         "logs/autotrader.log",
	"log.max_size_mb":  100,
	"log.max_backups":  5,
	"log.max_age_days": 30,
}

// Loader owns the viper instance so the config can be watched after loading.
type Loader struct {
	v    *viper.Viper
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// LoadConfig reads configuration from the specified file path and performs validation.
// A .env file next to the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Current(), nil
}

// NewLoader loads and validates configuration and keeps it for hot reload.
func NewLoader(path string) (*Loader, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config error: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, cfg: cfg, path: path}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Current returns the last successfully validated configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch re-reads the file on change. Invalid edits are reported through onError
// and the previous configuration stays active.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(l.v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		l.mu.Lock()
		l.cfg = cfg
		l.mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

func (c *Config) validate() error {
	if err := validateURL(c.Solana.RPCURL, "http"); err != nil {
		return fmt.Errorf("solana.rpc_url: %w", err)
	}
	if err := validateURL(c.Market.BaseURL, "http"); err != nil {
		return fmt.Errorf("market.base_url: %w", err)
	}
	if c.Consensus.Quorum < 1 {
		return errors.New("consensus.quorum must be at least 1")
	}
	if c.Consensus.Supermajority <= 0.5 || c.Consensus.Supermajority > 1 {
		return errors.New("consensus.supermajority must be in (0.5, 1]")
	}
	if c.Risk.DrawdownResume >= c.Risk.DrawdownPause {
		return errors.New("risk.drawdown_resume_pct must be shallower than risk.drawdown_pause_pct")
	}
	if c.Risk.HighLossPct >= c.Risk.ExtremeLossPct {
		return errors.New("risk.high_loss_pct must be below risk.extreme_loss_pct")
	}
	if c.Wallet.TotalBudget < 0 || c.Wallet.MaxTradePct < 0 || c.Wallet.MaxTradePct > 100 {
		return errors.New("wallet_defaults: budget must be >= 0 and max_trade_pct in [0, 100]")
	}
	if c.Position.RebuyCap < 0 {
		return errors.New("position.rebuy_cap must not be negative")
	}
	if c.Portfolio.ConcentrationPct <= 0 || c.Portfolio.ConcentrationPct > 100 {
		return errors.New("portfolio.concentration_pct must be in (0, 100]")
	}
	if c.Portfolio.DeployablePct <= 0 || c.Portfolio.DeployablePct > 100 {
		return errors.New("portfolio.deployable_pct must be in (0, 100]")
	}
	if c.Portfolio.PriceBatch <= 0 {
		c.Portfolio.PriceBatch = 30
	}
	if c.Scheduler.ScanConcurrency <= 0 {
		c.Scheduler.ScanConcurrency = 1
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	names := make(map[string]struct{}, len(c.Advisors))
	for i := range c.Advisors {
		a := &c.Advisors[i]
		if a.Name == "" {
			return fmt.Errorf("advisors[%d]: name is required", i)
		}
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("advisors[%d]: duplicate name %q", i, a.Name)
		}
		names[a.Name] = struct{}{}
		if err := validateURL(a.BaseURL, "http"); err != nil {
			return fmt.Errorf("advisors[%d].base_url: %w", i, err)
		}
		// ключи держим в .env, в yaml только ${VAR}
		a.APIKey = os.ExpandEnv(a.APIKey)
		if a.Weight <= 0 {
			a.Weight = 1
		}
		if a.Timeout <= 0 {
			a.Timeout = 30 * time.Second
		}
		if a.RatePerMinute <= 0 {
			a.RatePerMinute = 20
		}
	}
	return nil
}

var urlCache sync.Map

func validateURL(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}
