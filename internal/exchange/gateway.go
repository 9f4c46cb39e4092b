package exchange

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/fieldbot/gofield/internal/domain"
)

// 交易所侧订单状态（ccxt 口径），由 FieldOrderManager 映射到领域状态机
const (
	StatusOpen     = "open"     // 挂单中
	StatusClosed   = "closed"   // 完全成交
	StatusCanceled = "canceled" // 已撤销
	StatusRejected = "rejected" // 被拒绝
)

// ErrNotFound 表示交易对或订单不存在
var ErrNotFound = errors.New("exchange: not found")

// RejectionError 交易所拒单错误（价格/数量不合法、余额不足等）
// Reason 携带交易所返回的原因串
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange: order rejected: %s", e.Reason)
}

// IsRejection 判断错误是否为拒单
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// OrderStatusSnapshot 订单状态快照
type OrderStatusSnapshot struct {
	OrderID      string
	Status       string // open / closed / canceled / rejected
	FilledAmount float64
}

// Gateway 交易所网关契约
//
// 真实连接器（live）与模拟器（sim）实现同一接口，在构造时选择，
// 调用方不感知差异。所有调用都应受 ctx 超时约束；
// 超时是可恢复失败（记日志、状态不变），不是崩溃。
type Gateway interface {
	// ListMarkets 返回全部可交易交易对
	ListMarkets(ctx context.Context) (map[string]domain.Market, error)

	// GetTicker 返回交易对当前行情；交易对未知时返回 ErrNotFound
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)

	// GetOHLCV 返回最近 limit 根 windowMinutes 分钟K线，按时间升序
	GetOHLCV(ctx context.Context, symbol string, windowMinutes, limit int) ([]domain.Candle, error)

	// PlaceLimitBuy / PlaceLimitSell 挂限价单，返回交易所分配的订单 ID；
	// 价格/数量不合法时返回 RejectionError
	PlaceLimitBuy(ctx context.Context, symbol string, amount, price float64) (string, error)
	PlaceLimitSell(ctx context.Context, symbol string, amount, price float64) (string, error)

	// GetOrderStatus 查询订单状态；订单未知时返回 ErrNotFound
	GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderStatusSnapshot, error)

	// CancelOrder 撤单；只有挂单中的订单可撤，返回是否撤销成功
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
}
