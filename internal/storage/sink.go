package storage

import (
	"context"
	"time"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/events"
	"github.com/fieldbot/gofield/pkg/logger"
)

// Sink 把订单生命周期事件落库
//
// 取代旧实现中在运行时替换 manager 方法注入持久化的做法：
// manager 只负责发事件，这里决定写什么。
type Sink struct {
	store  *Store
	lookup func(orderID string) (domain.Order, bool) // 从订单表取完整订单（可为 nil）
}

// NewSink 创建持久化 Sink；lookup 通常接 manager.Table().Get
func NewSink(store *Store, lookup func(orderID string) (domain.Order, bool)) *Sink {
	return &Sink{store: store, lookup: lookup}
}

// OnLifecycleEvent 实现 events.Sink
func (s *Sink) OnLifecycleEvent(event events.LifecycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 错误事件只记日志，不建行
	if event.Kind == events.KindError {
		logger.Debugf("[storage] 跳过错误事件: %s %s", event.OrderID, event.Err)
		return
	}

	if s.lookup != nil && event.OrderID != "" {
		if order, ok := s.lookup(event.OrderID); ok {
			if err := s.store.SaveOrder(ctx, order); err != nil {
				logger.Errorf("[storage] 保存订单失败: %s: %v", event.OrderID, err)
			}
		}
	}

	// 成交事件追加 trade 记录（订单迁移到 activated 时恰好一次）
	switch event.Kind {
	case events.KindEntryFilled, events.KindExitFilled:
		trade := domain.TradeRecord{
			OrderID:   event.OrderID,
			Symbol:    event.Symbol,
			Amount:    event.Amount,
			Price:     event.Price,
			ProfitPct: event.ProfitPct,
			Timestamp: event.Timestamp,
		}
		if event.Kind == events.KindEntryFilled {
			trade.Side = domain.SideBuy
			trade.Role = domain.RoleEntry
		} else {
			trade.Side = domain.SideSell
			trade.Role = domain.RoleExit
		}
		if err := s.store.InsertTrade(ctx, trade); err != nil {
			logger.Errorf("[storage] 保存成交记录失败: %s: %v", event.OrderID, err)
		}
	}
}
