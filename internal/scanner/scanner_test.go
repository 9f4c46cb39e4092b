package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/exchange"
)

// stubGateway 按交易对返回固定K线/行情的假网关
type stubGateway struct {
	markets    map[string]domain.Market
	candles    map[string][]domain.Candle
	tickers    map[string]domain.Ticker
	marketsErr error
	candlesErr map[string]error
	tickersErr map[string]error
}

func (g *stubGateway) ListMarkets(ctx context.Context) (map[string]domain.Market, error) {
	if g.marketsErr != nil {
		return nil, g.marketsErr
	}
	return g.markets, nil
}

func (g *stubGateway) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := g.tickersErr[symbol]; err != nil {
		return domain.Ticker{}, err
	}
	t, ok := g.tickers[symbol]
	if !ok {
		return domain.Ticker{}, exchange.ErrNotFound
	}
	return t, nil
}

func (g *stubGateway) GetOHLCV(ctx context.Context, symbol string, windowMinutes, limit int) ([]domain.Candle, error) {
	if err := g.candlesErr[symbol]; err != nil {
		return nil, err
	}
	return g.candles[symbol], nil
}

func (g *stubGateway) PlaceLimitBuy(ctx context.Context, symbol string, amount, price float64) (string, error) {
	return "", errors.New("not implemented")
}

func (g *stubGateway) PlaceLimitSell(ctx context.Context, symbol string, amount, price float64) (string, error) {
	return "", errors.New("not implemented")
}

func (g *stubGateway) GetOrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderStatusSnapshot, error) {
	return exchange.OrderStatusSnapshot{}, exchange.ErrNotFound
}

func (g *stubGateway) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return false, nil
}

// candlesWithRange 生成 n 根固定振幅的K线
func candlesWithRange(n int, low, high float64) []domain.Candle {
	out := make([]domain.Candle, n)
	base := time.Unix(1700000000, 0)
	for i := range out {
		out[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     low,
			High:     high,
			Low:      low,
			Close:    high,
			Volume:   1,
		}
	}
	return out
}

// 波动率 = 窗口内每根K线 (high-low)/low*100 的算术平均
func TestCalculateVolatility(t *testing.T) {
	gw := &stubGateway{
		candles: map[string][]domain.Candle{
			// 两根K线：10% 与 5% → 均值 7.5%
			"BTC/USDT": {
				{Low: 100, High: 110, Open: 100, Close: 110},
				{Low: 100, High: 105, Open: 100, Close: 105},
			},
		},
	}
	s, err := New(gw, Config{MinVolatilityPct: 5.0, WindowMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}

	got := s.CalculateVolatility(context.Background(), "BTC/USDT")
	if got < 7.49 || got > 7.51 {
		t.Fatalf("期望波动率 7.5%%，得到 %.4f%%", got)
	}
}

// 无K线数据或获取失败 → 波动率 0
func TestCalculateVolatilityEmptyAndError(t *testing.T) {
	gw := &stubGateway{
		candles:    map[string][]domain.Candle{"EMPTY/USDT": {}},
		candlesErr: map[string]error{"FAIL/USDT": errors.New("timeout")},
	}
	s, _ := New(gw, Config{MinVolatilityPct: 5.0})

	if got := s.CalculateVolatility(context.Background(), "EMPTY/USDT"); got != 0 {
		t.Fatalf("空K线应返回 0，得到 %.4f", got)
	}
	if got := s.CalculateVolatility(context.Background(), "FAIL/USDT"); got != 0 {
		t.Fatalf("获取失败应返回 0，得到 %.4f", got)
	}
}

// low 为 0 的K线不产生 NaN/Inf
func TestCalculateVolatilityZeroLow(t *testing.T) {
	gw := &stubGateway{
		candles: map[string][]domain.Candle{
			"ZERO/USDT": {{Low: 0, High: 10}},
		},
	}
	s, _ := New(gw, Config{MinVolatilityPct: 0})

	if got := s.CalculateVolatility(context.Background(), "ZERO/USDT"); got != 0 {
		t.Fatalf("low=0 的K线应计为 0，得到 %.4f", got)
	}
}

// 候选按波动率降序排列，同分按交易对字典序；低于阈值的被排除
func TestScanOrderingAndThreshold(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	gw := &stubGateway{
		candles: map[string][]domain.Candle{
			"AAA/USDT": candlesWithRange(10, 100, 108), // 8%
			"BBB/USDT": candlesWithRange(10, 100, 112), // 12%
			"CCC/USDT": candlesWithRange(10, 100, 112), // 12%（与 BBB 同分）
			"DDD/USDT": candlesWithRange(10, 100, 102), // 2%，低于阈值
		},
		tickers: map[string]domain.Ticker{
			"AAA/USDT": {Symbol: "AAA/USDT", LastPrice: 1, ObservedAt: ts},
			"BBB/USDT": {Symbol: "BBB/USDT", LastPrice: 2, ObservedAt: ts},
			"CCC/USDT": {Symbol: "CCC/USDT", LastPrice: 3, ObservedAt: ts},
			"DDD/USDT": {Symbol: "DDD/USDT", LastPrice: 4, ObservedAt: ts},
		},
	}
	s, _ := New(gw, Config{MinVolatilityPct: 5.0, WindowMinutes: 60})

	got, err := s.Scan(context.Background(), []string{"AAA/USDT", "BBB/USDT", "CCC/USDT", "DDD/USDT"})
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}

	want := []string{"BBB/USDT", "CCC/USDT", "AAA/USDT"}
	if len(got) != len(want) {
		t.Fatalf("期望 %d 个候选，得到 %d", len(want), len(got))
	}
	for i, sym := range want {
		if got[i].Symbol != sym {
			t.Fatalf("第 %d 位期望 %s，得到 %s", i, sym, got[i].Symbol)
		}
	}
}

// 单个交易对行情失败只跳过该交易对，不中断扫描
func TestScanSkipsTickerFailure(t *testing.T) {
	gw := &stubGateway{
		candles: map[string][]domain.Candle{
			"AAA/USDT": candlesWithRange(10, 100, 110),
			"BBB/USDT": candlesWithRange(10, 100, 110),
		},
		tickers: map[string]domain.Ticker{
			"BBB/USDT": {Symbol: "BBB/USDT", LastPrice: 2},
		},
		tickersErr: map[string]error{"AAA/USDT": errors.New("timeout")},
	}
	s, _ := New(gw, Config{MinVolatilityPct: 5.0})

	got, err := s.Scan(context.Background(), []string{"AAA/USDT", "BBB/USDT"})
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BBB/USDT" {
		t.Fatalf("期望只剩 BBB/USDT，得到 %+v", got)
	}
}

// symbols 为空时枚举全部可交易交易对；枚举失败是硬失败
func TestScanEnumeratesMarkets(t *testing.T) {
	gw := &stubGateway{
		markets: map[string]domain.Market{
			"AAA/USDT": {Symbol: "AAA/USDT", Active: true},
			"OFF/USDT": {Symbol: "OFF/USDT", Active: false}, // 停牌不参与
		},
		candles: map[string][]domain.Candle{
			"AAA/USDT": candlesWithRange(10, 100, 110),
			"OFF/USDT": candlesWithRange(10, 100, 110),
		},
		tickers: map[string]domain.Ticker{
			"AAA/USDT": {Symbol: "AAA/USDT", LastPrice: 1},
			"OFF/USDT": {Symbol: "OFF/USDT", LastPrice: 1},
		},
	}
	s, _ := New(gw, Config{MinVolatilityPct: 5.0})

	got, err := s.Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "AAA/USDT" {
		t.Fatalf("期望只有 AAA/USDT，得到 %+v", got)
	}

	gw.marketsErr = errors.New("boom")
	if _, err := s.Scan(context.Background(), nil); err == nil {
		t.Fatal("枚举交易对失败应返回错误")
	}
}
