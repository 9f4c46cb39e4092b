package scanner

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/exchange"
)

var log = logrus.WithField("component", "scanner")

// Config 扫描器配置
type Config struct {
	MinVolatilityPct float64 // 入选的最小波动率（%），默认 5.0
	WindowMinutes    int     // 回看窗口（分钟），默认 60
}

// Validate 校验并填充默认值
func (c *Config) Validate() error {
	if c.MinVolatilityPct < 0 {
		return errors.Errorf("min volatility 不能为负数: %.2f", c.MinVolatilityPct)
	}
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = 60
	}
	return nil
}

// Scanner 波动率扫描器
// 按近期K线振幅对交易对排序，给 FieldOrderManager 提供候选
type Scanner struct {
	gateway exchange.Gateway
	config  Config
}

// New 创建扫描器
func New(gateway exchange.Gateway, config Config) (*Scanner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scanner{gateway: gateway, config: config}, nil
}

// CalculateVolatility 计算交易对的波动率得分：
// 窗口内每根K线 (high-low)/low*100 的算术平均。
// 无K线数据或获取失败时返回 0（该交易对随后被排除）。
func (s *Scanner) CalculateVolatility(ctx context.Context, symbol string) float64 {
	candles, err := s.gateway.GetOHLCV(ctx, symbol, 1, s.config.WindowMinutes)
	if err != nil {
		log.Errorf("获取 %s K线失败: %v", symbol, err)
		return 0
	}
	if len(candles) == 0 {
		return 0
	}

	sum := 0.0
	for _, c := range candles {
		sum += c.RangePct()
	}
	return sum / float64(len(candles))
}

// Scan 扫描市场，返回按波动率降序排列的候选列表
// （同分按交易对字典序，保证确定性）。
//
// symbols 为空时扫描全部可交易交易对。单个交易对的获取失败只会
// 跳过该交易对，绝不中断整个扫描；只有交易对枚举本身失败才算硬失败，
// 此时返回空列表和错误。
func (s *Scanner) Scan(ctx context.Context, symbols []string) ([]domain.VolatilityCandidate, error) {
	if len(symbols) == 0 {
		markets, err := s.gateway.ListMarkets(ctx)
		if err != nil {
			log.Errorf("枚举交易对失败: %v", err)
			return nil, errors.Wrap(err, "scanner: list markets")
		}
		symbols = make([]string, 0, len(markets))
		for sym, m := range markets {
			if m.Active {
				symbols = append(symbols, sym)
			}
		}
	}

	candidates := make([]domain.VolatilityCandidate, 0)
	for _, symbol := range symbols {
		volatility := s.CalculateVolatility(ctx, symbol)
		if volatility < s.config.MinVolatilityPct {
			continue
		}

		ticker, err := s.gateway.GetTicker(ctx, symbol)
		if err != nil {
			// 行情拿不到就跳过，不影响其它交易对
			log.Errorf("获取 %s 行情失败: %v", symbol, err)
			continue
		}

		candidates = append(candidates, domain.VolatilityCandidate{
			Symbol:        symbol,
			VolatilityPct: volatility,
			LastPrice:     ticker.LastPrice,
			QuoteVolume:   ticker.QuoteVolume,
			ObservedAt:    ticker.ObservedAt,
		})
		log.Infof("发现高波动交易对: %s 波动率 %.2f%%", symbol, volatility)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].VolatilityPct != candidates[j].VolatilityPct {
			return candidates[i].VolatilityPct > candidates[j].VolatilityPct
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	return candidates, nil
}
