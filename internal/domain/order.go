package domain

import (
	"time"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Role 订单在场中的角色：entry = 折价买入场，exit = 分层卖出场
type Role string

const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// OrderStatus 订单状态（状态机）
//
// armed --(交易所成交)--> activated（终态）
// armed --(retract/交易所撤销)--> retracted（终态）
// 终态不可再变更。
type OrderStatus string

const (
	OrderStatusArmed     OrderStatus = "armed"     // 挂单中，未成交
	OrderStatusActivated OrderStatus = "activated" // 完全成交
	OrderStatusRetracted OrderStatus = "retracted" // 已撤销
)

// Order 订单领域模型
//
// 订单由 FieldOrderManager 独占持有；交易所是成交状态的事实来源，
// 但只能通过轮询对账更新本地记录，不会直接修改。
type Order struct {
	OrderID         string      // 交易所分配的订单 ID
	Symbol          string      // 交易对
	Side            Side        // 订单方向
	Role            Role        // entry / exit
	RequestedPrice  float64     // 委托价格
	RequestedAmount float64     // 委托数量（基础货币）
	FilledAmount    float64     // 已成交数量
	Status          OrderStatus // 订单状态
	CreatedAt       time.Time   // 创建时间
	LastCheckedAt   time.Time   // 最后一次对账时间

	// 以下仅 exit 订单有效
	EntryOrderID string // 所属 entry 订单 ID（反向引用）
	Tier         int    // 层级索引（0 起）
	EntryPrice   float64 // entry 成交价，用于利润计算
}

// IsTerminal 检查订单是否处于终态（activated/retracted）
// 终态订单不可变更，只作为历史保留在订单表中
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusActivated || o.Status == OrderStatusRetracted
}

// IsArmed 检查订单是否仍在挂单
func (o *Order) IsArmed() bool {
	return o.Status == OrderStatusArmed
}

// CanTransition 检查状态迁移是否合法
func (o *Order) CanTransition(next OrderStatus) bool {
	if o.IsTerminal() {
		return false
	}
	switch next {
	case OrderStatusActivated, OrderStatusRetracted:
		return true
	default:
		return false
	}
}

// ProfitPct 计算 exit 订单相对 entry 成交价的利润百分比
// 非 exit 订单或缺少 entry 价时返回 0
func (o *Order) ProfitPct() float64 {
	if o.Role != RoleExit || o.EntryPrice <= 0 {
		return 0
	}
	return (o.RequestedPrice - o.EntryPrice) / o.EntryPrice * 100
}
