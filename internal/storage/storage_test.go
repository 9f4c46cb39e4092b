package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveOrderUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		OrderID:         "1000",
		Symbol:          "BTC/USDT",
		Side:            domain.SideBuy,
		Role:            domain.RoleEntry,
		RequestedPrice:  85,
		RequestedAmount: 1,
		Status:          domain.OrderStatusArmed,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, store.SaveOrder(ctx, order))

	// 同一订单更新状态：应覆盖而不是新增一行
	order.Status = domain.OrderStatusActivated
	order.FilledAmount = 1
	require.NoError(t, store.SaveOrder(ctx, order))

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusActivated, orders[0].Status)
	assert.Equal(t, 1.0, orders[0].FilledAmount)
	assert.Equal(t, domain.RoleEntry, orders[0].Role)
}

func TestTradesRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertTrade(ctx, domain.TradeRecord{
			OrderID:   "1000",
			Symbol:    "BTC/USDT",
			Side:      domain.SideSell,
			Role:      domain.RoleExit,
			Amount:    0.5,
			Price:     90,
			ProfitPct: 5,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	trades, err := store.ListTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// 按时间倒序
	assert.True(t, trades[0].Timestamp.After(trades[1].Timestamp))
	assert.Equal(t, 5.0, trades[0].ProfitPct)
}

func TestVolatilityHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertVolatility(ctx, domain.VolatilityCandidate{
		Symbol: "ETH/USDT", VolatilityPct: 7.5, LastPrice: 2000, ObservedAt: time.Now(),
	}))
	require.NoError(t, store.InsertVolatility(ctx, domain.VolatilityCandidate{
		Symbol: "BTC/USDT", VolatilityPct: 6.0, LastPrice: 40000, ObservedAt: time.Now(),
	}))

	history, err := store.ListVolatility(ctx, "ETH/USDT", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 7.5, history[0].VolatilityPct)
}

func TestSettings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, found, err := store.GetSetting(ctx, "mode")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetSetting(ctx, "mode", "simulate"))
	require.NoError(t, store.SetSetting(ctx, "mode", "live")) // 覆盖

	value, found, err := store.GetSetting(ctx, "mode")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "live", value)
}

// Sink：entry_filled 事件 → 订单落库 + 买方向成交记录
func TestSinkPersistsFillEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		OrderID:         "1000",
		Symbol:          "BTC/USDT",
		Side:            domain.SideBuy,
		Role:            domain.RoleEntry,
		RequestedPrice:  85,
		RequestedAmount: 1,
		FilledAmount:    1,
		Status:          domain.OrderStatusActivated,
		CreatedAt:       time.Now(),
	}
	sink := NewSink(store, func(orderID string) (domain.Order, bool) {
		if orderID == order.OrderID {
			return order, true
		}
		return domain.Order{}, false
	})

	sink.OnLifecycleEvent(events.LifecycleEvent{
		Kind:      events.KindEntryFilled,
		OrderID:   "1000",
		Symbol:    "BTC/USDT",
		Price:     85,
		Amount:    1,
		Timestamp: time.Now(),
	})

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	trades, err := store.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, domain.RoleEntry, trades[0].Role)
}

// error 事件不落库
func TestSinkSkipsErrorEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sink := NewSink(store, nil)
	sink.OnLifecycleEvent(events.LifecycleEvent{
		Kind:    events.KindError,
		OrderID: "1000",
		Err:     "timeout",
	})

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
