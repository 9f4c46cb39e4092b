package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/exchange"
)

var log = logrus.WithField("component", "sim")

// 默认模拟交易对及基准价格
var defaultBasePrices = map[string]float64{
	"BTC/USDT": 40000.0,
	"ETH/USDT": 2000.0,
	"XRP/USDT": 0.5,
	"LTC/USDT": 150.0,
	"ADA/USDT": 1.0,
}

// simOrder 模拟订单记录，与真实网关上报的 {status, filled, remaining} 形状一致
type simOrder struct {
	ID        string
	Symbol    string
	Side      domain.Side
	Amount    float64
	Price     float64
	Status    string
	Filled    float64
	Remaining float64
	CreatedAt time.Time
}

// Simulator 确定性市场模拟器
//
// 实现 exchange.Gateway 契约，使 scanner / fieldorder 可以在无真实交易所
// 的情况下运行和测试。价格演化为随机游走，随机源可注入种子以复现。
//
// 已知简化（刻意为之，不是缺陷）：
//   - 成交为立即全量成交，无部分成交、无滑点；
//   - OHLCV 为合成数据，只用于喂给扫描器，不是回测引擎。
type Simulator struct {
	mu         sync.Mutex
	symbols    []string
	prices     map[string]float64
	orders     map[string]*simOrder
	nextID     int
	lastUpdate time.Time
	rng        *rand.Rand
	now        func() time.Time

	// FatFingerProb 每次 advance 每个交易对出现“胖手指”急跌的概率（默认 0.01）
	FatFingerProb float64
}

// Option 模拟器构造选项
type Option func(*Simulator)

// WithSymbols 指定模拟交易对
func WithSymbols(symbols ...string) Option {
	return func(s *Simulator) { s.symbols = symbols }
}

// WithPrices 指定初始价格
func WithPrices(prices map[string]float64) Option {
	return func(s *Simulator) {
		for sym, p := range prices {
			s.prices[sym] = p
		}
	}
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New 创建模拟器；seed 固定时价格序列可复现
func New(seed int64, opts ...Option) *Simulator {
	s := &Simulator{
		prices:        make(map[string]float64),
		orders:        make(map[string]*simOrder),
		nextID:        1000,
		rng:           rand.New(rand.NewSource(seed)),
		now:           time.Now,
		FatFingerProb: 0.01,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.symbols) == 0 {
		s.symbols = []string{"BTC/USDT", "ETH/USDT", "XRP/USDT", "LTC/USDT", "ADA/USDT"}
	}
	for _, sym := range s.symbols {
		if _, ok := s.prices[sym]; ok {
			continue
		}
		if base, ok := defaultBasePrices[sym]; ok {
			s.prices[sym] = base
		} else {
			// 未知交易对给一个 0.1 ~ 1000 的随机价
			s.prices[sym] = 0.1 + s.rng.Float64()*999.9
		}
	}
	s.lastUpdate = s.now()
	return s
}

// Advance 推进模拟：对每个交易对应用随机游走
//
// price *= 1 + U(-vol, +vol) * elapsedMinutes / 100
// 另以 FatFingerProb 的概率附加一次 U(10%,30%) 的急跌，
// 模拟错误大卖单砸盘——折价 entry 策略要捕捉的正是这种场景。
func (s *Simulator) Advance(volatilityPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	elapsedMin := now.Sub(s.lastUpdate).Minutes()
	s.lastUpdate = now

	for _, sym := range s.symbols {
		price, ok := s.prices[sym]
		if !ok {
			continue
		}
		changePct := (s.rng.Float64()*2 - 1) * volatilityPct * elapsedMin
		price *= 1 + changePct/100

		if s.rng.Float64() < s.FatFingerProb {
			dropPct := 10.0 + s.rng.Float64()*20.0
			price *= 1 - dropPct/100
			log.Infof("模拟胖手指砸盘: %s 下跌 %.2f%%", sym, dropPct)
		}
		s.prices[sym] = price
	}

	s.matchOrders()
}

// matchOrders 按撮合规则更新挂单（调用方需持锁）
// 买单：现价 <= 委托价即成交；卖单：现价 >= 委托价即成交。
// 成交为立即全量。
func (s *Simulator) matchOrders() {
	for _, order := range s.orders {
		if order.Status != exchange.StatusOpen {
			continue
		}
		current, ok := s.prices[order.Symbol]
		if !ok {
			continue
		}
		buyFill := order.Side == domain.SideBuy && current <= order.Price
		sellFill := order.Side == domain.SideSell && current >= order.Price
		if buyFill || sellFill {
			order.Status = exchange.StatusClosed
			order.Filled = order.Amount
			order.Remaining = 0
			log.Infof("模拟成交: %s %s %.6f @ %.6f", order.Symbol, order.Side, order.Amount, order.Price)
		}
	}
}

// CurrentPrice 返回交易对当前模拟价格
func (s *Simulator) CurrentPrice(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// ListMarkets 实现 Gateway
func (s *Simulator) ListMarkets(ctx context.Context) (map[string]domain.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	markets := make(map[string]domain.Market, len(s.symbols))
	for _, sym := range s.symbols {
		base, quote := splitSymbol(sym)
		markets[sym] = domain.Market{
			Symbol:        sym,
			BaseCurrency:  base,
			QuoteCurrency: quote,
			Active:        true,
		}
	}
	return markets, nil
}

// GetTicker 实现 Gateway
func (s *Simulator) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return domain.Ticker{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return domain.Ticker{}, exchange.ErrNotFound
	}
	return domain.Ticker{
		Symbol:      symbol,
		LastPrice:   price,
		Bid:         price * 0.999,
		Ask:         price * 1.001,
		BaseVolume:  10000 + s.rng.Float64()*990000,
		QuoteVolume: price * (10 + s.rng.Float64()*990),
		ObservedAt:  s.now(),
	}, nil
}

// GetOHLCV 实现 Gateway：生成 limit 根合成K线，结束于当前时间
//
// 越旧的K线波动越大（振幅随新近程度收窄），只用于喂给扫描器做测试，
// 不追求价格精确。
func (s *Simulator) GetOHLCV(ctx context.Context, symbol string, windowMinutes, limit int) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.prices[symbol]
	if !ok {
		return nil, exchange.ErrNotFound
	}
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	step := time.Duration(windowMinutes) * time.Minute
	candles := make([]domain.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		openTime := now.Add(-time.Duration(limit-i-1) * step)

		// 越早的K线给越大的波动
		vol := 5.0 * (1 + float64(limit-i)/float64(limit))
		open := current * (1 + (s.rng.Float64()*2-1)*vol/100)
		close_ := current * (1 + (s.rng.Float64()*2-1)*vol/100)
		high := maxf(open, close_) * (1 + s.rng.Float64()*vol/2/100)
		low := minf(open, close_) * (1 - s.rng.Float64()*vol/2/100)
		volume := (1 + s.rng.Float64()*99) * current

		candles = append(candles, domain.Candle{
			OpenTime: openTime,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close_,
			Volume:   volume,
		})
	}
	return candles, nil
}

// PlaceLimitBuy 实现 Gateway
func (s *Simulator) PlaceLimitBuy(ctx context.Context, symbol string, amount, price float64) (string, error) {
	return s.placeOrder(ctx, symbol, domain.SideBuy, amount, price)
}

// PlaceLimitSell 实现 Gateway
func (s *Simulator) PlaceLimitSell(ctx context.Context, symbol string, amount, price float64) (string, error) {
	return s.placeOrder(ctx, symbol, domain.SideSell, amount, price)
}

func (s *Simulator) placeOrder(ctx context.Context, symbol string, side domain.Side, amount, price float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount <= 0 || price <= 0 {
		return "", &exchange.RejectionError{Reason: fmt.Sprintf("invalid amount/price: %.8f/%.8f", amount, price)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[symbol]; !ok {
		return "", exchange.ErrNotFound
	}

	orderID := fmt.Sprintf("%d", s.nextID)
	s.nextID++

	s.orders[orderID] = &simOrder{
		ID:        orderID,
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Status:    exchange.StatusOpen,
		Filled:    0,
		Remaining: amount,
		CreatedAt: s.now(),
	}
	log.Infof("模拟挂单: %s %s %.6f @ %.6f (id=%s)", symbol, side, amount, price, orderID)

	// 挂单后立即撮合一次：现价已满足条件的订单直接成交
	s.matchOrders()
	return orderID, nil
}

// GetOrderStatus 实现 Gateway；每次查询前先撮合一次
func (s *Simulator) GetOrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderStatusSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderStatusSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matchOrders()

	order, ok := s.orders[orderID]
	if !ok {
		return exchange.OrderStatusSnapshot{}, exchange.ErrNotFound
	}
	return exchange.OrderStatusSnapshot{
		OrderID:      order.ID,
		Status:       order.Status,
		FilledAmount: order.Filled,
	}, nil
}

// CancelOrder 实现 Gateway；只有挂单中的订单可撤
func (s *Simulator) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.Status != exchange.StatusOpen {
		return false, nil
	}
	order.Status = exchange.StatusCanceled
	log.Infof("模拟撤单: id=%s", orderID)
	return true, nil
}

func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return symbol, ""
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
