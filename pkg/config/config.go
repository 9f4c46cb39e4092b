package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所连接配置
// API 凭证由外部提供（.env 或环境变量），不在此处设计凭证管理
type ExchangeConfig struct {
	Name      string `yaml:"name" json:"name"`             // 交易所名称，例如 "kucoin"
	RestURL   string `yaml:"rest_url" json:"rest_url"`     // REST API 地址
	WsURL     string `yaml:"ws_url" json:"ws_url"`         // WebSocket 行情地址（可选）
	APIKey    string `yaml:"api_key" json:"api_key"`       // API Key（建议通过环境变量注入）
	APISecret string `yaml:"api_secret" json:"api_secret"` // API Secret
	APIPass   string `yaml:"api_passphrase" json:"api_passphrase"` // API Passphrase（部分交易所要求）
	Sandbox   bool   `yaml:"sandbox" json:"sandbox"`       // 是否使用沙盒模式
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"` // 单次请求超时（毫秒），默认 10000
}

// ScannerConfig 波动率扫描配置
type ScannerConfig struct {
	MinVolatilityPct  float64  `yaml:"min_volatility_pct" json:"min_volatility_pct"`   // 最小波动率（%），默认 5.0
	WindowMinutes     int      `yaml:"window_minutes" json:"window_minutes"`           // 回看窗口（分钟），默认 60
	ScanIntervalSecs  int      `yaml:"scan_interval_secs" json:"scan_interval_secs"`   // 扫描间隔（秒），默认 300
	Symbols           []string `yaml:"symbols" json:"symbols"`                         // 指定扫描的交易对，为空则扫描全部
}

// OrderConfig 场订单（field order）配置
type OrderConfig struct {
	DiscountPct     float64   `yaml:"discount_pct" json:"discount_pct"`           // 买单折扣（%），默认 15.0
	ProfitTiers     []float64 `yaml:"profit_tiers" json:"profit_tiers"`           // 卖单分层利润（%），递增，默认 [5,10,15]
	TierWeights     []float64 `yaml:"tier_weights" json:"tier_weights"`           // 每层卖出仓位占比，总和 ≤ 1.0，默认 [0.5,0.3,0.2]
	MaxPositionSize float64   `yaml:"max_position_size" json:"max_position_size"` // 单笔最大仓位（计价货币），默认 100.0
}

// RiskConfig 风险限制配置
type RiskConfig struct {
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions" json:"max_concurrent_positions"` // 最大并发持仓数，默认 5
	MaxDailyTrades         int     `yaml:"max_daily_trades" json:"max_daily_trades"`                 // 每日最大成交数，默认 20
	MaxDailyLoss           float64 `yaml:"max_daily_loss" json:"max_daily_loss"`                     // 每日最大亏损（计价货币），默认 100.0
}

// StorageConfig 持久化配置
type StorageConfig struct {
	DBPath       string `yaml:"db_path" json:"db_path"`             // SQLite 数据库路径
	CandleCache  string `yaml:"candle_cache" json:"candle_cache"`   // K线本地缓存目录（badger），为空则不启用
	CacheTTLSecs int    `yaml:"cache_ttl_secs" json:"cache_ttl_secs"` // 缓存有效期（秒），默认 55
}

// ServerConfig 状态读取 API 配置
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"` // 是否启动 HTTP 状态接口
	Listen  string `yaml:"listen" json:"listen"`   // 监听地址，默认 "127.0.0.1:8090"
}

// Config 应用配置
type Config struct {
	Exchange  ExchangeConfig `yaml:"exchange" json:"exchange"`
	Scanner   ScannerConfig  `yaml:"scanner" json:"scanner"`
	Order     OrderConfig    `yaml:"order" json:"order"`
	Risk      RiskConfig     `yaml:"risk" json:"risk"`
	Storage   StorageConfig  `yaml:"storage" json:"storage"`
	Server    ServerConfig   `yaml:"server" json:"server"`
	LogLevel  string         `yaml:"log_level" json:"log_level"`   // 日志级别
	LogFile   string         `yaml:"log_file" json:"log_file"`     // 日志文件路径（可选）
	PollSecs  int            `yaml:"poll_secs" json:"poll_secs"`   // 订单轮询间隔（秒），默认 5
	DryRun    bool           `yaml:"dry_run" json:"dry_run"`       // 纸交易模式：不真实下单，只打印日志
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:      "kucoin",
			Sandbox:   true,
			TimeoutMs: 10000,
		},
		Scanner: ScannerConfig{
			MinVolatilityPct: 5.0,
			WindowMinutes:    60,
			ScanIntervalSecs: 300,
		},
		Order: OrderConfig{
			DiscountPct:     15.0,
			ProfitTiers:     []float64{5.0, 10.0, 15.0},
			TierWeights:     []float64{0.5, 0.3, 0.2},
			MaxPositionSize: 100.0,
		},
		Risk: RiskConfig{
			MaxConcurrentPositions: 5,
			MaxDailyTrades:         20,
			MaxDailyLoss:           100.0,
		},
		Storage: StorageConfig{
			DBPath:       "data/gofield.db",
			CacheTTLSecs: 55,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8090",
		},
		LogLevel: "info",
		PollSecs: 5,
	}
}

// Load 从文件加载配置（支持 .yaml/.yml/.json），缺省字段使用默认值
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configFilePath = path
	globalConfig = cfg
	return cfg, nil
}

// Get 获取全局配置（未加载时返回默认配置）
func Get() *Config {
	if globalConfig == nil {
		globalConfig = Default()
	}
	return globalConfig
}

// Set 设置全局配置（测试用）
func Set(cfg *Config) {
	globalConfig = cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Order.DiscountPct <= 0 || c.Order.DiscountPct >= 100 {
		return fmt.Errorf("discount_pct 必须在 (0,100) 区间: %.2f", c.Order.DiscountPct)
	}
	if len(c.Order.ProfitTiers) == 0 {
		return fmt.Errorf("profit_tiers 不能为空")
	}
	if len(c.Order.ProfitTiers) != len(c.Order.TierWeights) {
		return fmt.Errorf("profit_tiers 与 tier_weights 长度不一致: %d != %d",
			len(c.Order.ProfitTiers), len(c.Order.TierWeights))
	}
	sum := 0.0
	for i, w := range c.Order.TierWeights {
		if w <= 0 {
			return fmt.Errorf("tier_weights[%d] 必须为正数: %.4f", i, w)
		}
		sum += w
	}
	// 容忍极小的浮点误差
	if sum > 1.0+1e-9 {
		return fmt.Errorf("tier_weights 总和不能超过 1.0: %.4f", sum)
	}
	for i := 1; i < len(c.Order.ProfitTiers); i++ {
		if c.Order.ProfitTiers[i] <= c.Order.ProfitTiers[i-1] {
			return fmt.Errorf("profit_tiers 必须严格递增: %v", c.Order.ProfitTiers)
		}
	}
	if c.Scanner.WindowMinutes <= 0 {
		return fmt.Errorf("window_minutes 必须为正数: %d", c.Scanner.WindowMinutes)
	}
	if c.Scanner.MinVolatilityPct < 0 {
		return fmt.Errorf("min_volatility_pct 不能为负数: %.2f", c.Scanner.MinVolatilityPct)
	}
	if c.PollSecs <= 0 {
		c.PollSecs = 5
	}
	if c.Exchange.TimeoutMs <= 0 {
		c.Exchange.TimeoutMs = 10000
	}
	return nil
}
