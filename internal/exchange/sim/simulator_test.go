package sim

import (
	"context"
	"testing"
	"time"

	"github.com/fieldbot/gofield/internal/exchange"
)

// 可控时钟：测试里手动拨动时间
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestSim(seed int64) (*Simulator, *fakeClock) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	s := New(seed,
		WithSymbols("BTC/USDT"),
		WithPrices(map[string]float64{"BTC/USDT": 40000}),
		WithClock(clock.now),
	)
	return s, clock
}

// 相同种子相同时钟 → 价格序列完全可复现
func TestDeterministicWithSeed(t *testing.T) {
	s1, c1 := newTestSim(42)
	s2, c2 := newTestSim(42)

	for i := 0; i < 10; i++ {
		c1.advance(time.Minute)
		c2.advance(time.Minute)
		s1.Advance(6.0)
		s2.Advance(6.0)
	}

	p1, _ := s1.CurrentPrice("BTC/USDT")
	p2, _ := s2.CurrentPrice("BTC/USDT")
	if p1 != p2 {
		t.Fatalf("相同种子应产生相同价格: %.8f != %.8f", p1, p2)
	}
}

// 现价已满足委托价的买单在挂出时立即成交
func TestBuyOrderFillsImmediatelyAbovePrice(t *testing.T) {
	s, _ := newTestSim(1)
	ctx := context.Background()

	current, _ := s.CurrentPrice("BTC/USDT")
	orderID, err := s.PlaceLimitBuy(ctx, "BTC/USDT", 0.1, current*1.01)
	if err != nil {
		t.Fatalf("挂单失败: %v", err)
	}

	snap, err := s.GetOrderStatus(ctx, orderID, "BTC/USDT")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if snap.Status != exchange.StatusClosed {
		t.Fatalf("期望 closed，得到 %s", snap.Status)
	}
	if snap.FilledAmount != 0.1 {
		t.Fatalf("期望全量成交 0.1，得到 %.6f", snap.FilledAmount)
	}
}

// 胖手指急跌至少 10%，折价买单在砸盘后成交
func TestBuyOrderFillsOnFatFinger(t *testing.T) {
	s, clock := newTestSim(7)
	ctx := context.Background()

	current, _ := s.CurrentPrice("BTC/USDT")
	orderID, err := s.PlaceLimitBuy(ctx, "BTC/USDT", 0.1, current*0.95)
	if err != nil {
		t.Fatalf("挂单失败: %v", err)
	}

	snap, _ := s.GetOrderStatus(ctx, orderID, "BTC/USDT")
	if snap.Status != exchange.StatusOpen {
		t.Fatalf("低于现价的买单不应立即成交: %s", snap.Status)
	}

	// 强制每次推进都触发急跌（跌幅 ≥ 10%）
	s.FatFingerProb = 1.0
	clock.advance(time.Minute)
	s.Advance(0)

	snap, _ = s.GetOrderStatus(ctx, orderID, "BTC/USDT")
	if snap.Status != exchange.StatusClosed {
		price, _ := s.CurrentPrice("BTC/USDT")
		t.Fatalf("砸盘后买单应成交，现价 %.2f 状态 %s", price, snap.Status)
	}
}

// 现价已满足委托价的卖单立即成交
func TestSellOrderFillsBelowPrice(t *testing.T) {
	s, _ := newTestSim(3)
	ctx := context.Background()

	current, _ := s.CurrentPrice("BTC/USDT")
	orderID, err := s.PlaceLimitSell(ctx, "BTC/USDT", 0.2, current*0.99)
	if err != nil {
		t.Fatalf("挂单失败: %v", err)
	}
	snap, _ := s.GetOrderStatus(ctx, orderID, "BTC/USDT")
	if snap.Status != exchange.StatusClosed {
		t.Fatalf("期望 closed，得到 %s", snap.Status)
	}
}

// 非法参数拒单
func TestRejectInvalidOrder(t *testing.T) {
	s, _ := newTestSim(5)
	ctx := context.Background()

	if _, err := s.PlaceLimitBuy(ctx, "BTC/USDT", 0, 100); !exchange.IsRejection(err) {
		t.Fatalf("数量为 0 应拒单，得到 %v", err)
	}
	if _, err := s.PlaceLimitBuy(ctx, "BTC/USDT", 1, -1); !exchange.IsRejection(err) {
		t.Fatalf("负价格应拒单，得到 %v", err)
	}
	if _, err := s.PlaceLimitBuy(ctx, "NOPE/USDT", 1, 100); err != exchange.ErrNotFound {
		t.Fatalf("未知交易对应返回 ErrNotFound，得到 %v", err)
	}
}

// 只有挂单中的订单可撤；撤过的订单二次撤单返回 false
func TestCancelOrder(t *testing.T) {
	s, _ := newTestSim(9)
	ctx := context.Background()

	current, _ := s.CurrentPrice("BTC/USDT")
	orderID, _ := s.PlaceLimitBuy(ctx, "BTC/USDT", 0.1, current*0.5)

	ok, err := s.CancelOrder(ctx, orderID, "BTC/USDT")
	if err != nil || !ok {
		t.Fatalf("撤单应成功: ok=%v err=%v", ok, err)
	}
	snap, _ := s.GetOrderStatus(ctx, orderID, "BTC/USDT")
	if snap.Status != exchange.StatusCanceled {
		t.Fatalf("期望 canceled，得到 %s", snap.Status)
	}

	ok, _ = s.CancelOrder(ctx, orderID, "BTC/USDT")
	if ok {
		t.Fatal("已撤销订单二次撤单应返回 false")
	}
}

// 订单 ID 从 1000 起顺序分配
func TestSequentialOrderIDs(t *testing.T) {
	s, _ := newTestSim(11)
	ctx := context.Background()

	current, _ := s.CurrentPrice("BTC/USDT")
	id1, _ := s.PlaceLimitBuy(ctx, "BTC/USDT", 0.1, current*0.5)
	id2, _ := s.PlaceLimitBuy(ctx, "BTC/USDT", 0.1, current*0.5)
	if id1 != "1000" || id2 != "1001" {
		t.Fatalf("期望顺序 ID 1000/1001，得到 %s/%s", id1, id2)
	}
}

// 合成K线：根数、升序、high/low 合法
func TestSyntheticOHLCV(t *testing.T) {
	s, _ := newTestSim(13)
	ctx := context.Background()

	candles, err := s.GetOHLCV(ctx, "BTC/USDT", 1, 60)
	if err != nil {
		t.Fatalf("获取K线失败: %v", err)
	}
	if len(candles) != 60 {
		t.Fatalf("期望 60 根K线，得到 %d", len(candles))
	}
	for i, c := range candles {
		if c.High < c.Low {
			t.Fatalf("第 %d 根K线 high < low: %.2f < %.2f", i, c.High, c.Low)
		}
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Fatalf("第 %d 根K线 OHLC 不合法: %+v", i, c)
		}
		if i > 0 && !candles[i-1].OpenTime.Before(c.OpenTime) {
			t.Fatalf("K线应按时间升序排列")
		}
	}

	if _, err := s.GetOHLCV(ctx, "NOPE/USDT", 1, 60); err != exchange.ErrNotFound {
		t.Fatalf("未知交易对应返回 ErrNotFound，得到 %v", err)
	}
}
