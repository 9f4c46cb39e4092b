package events

import (
	"time"
)

// Kind 生命周期事件类型
type Kind string

const (
	KindEntryPlaced Kind = "entry_placed" // entry 订单已挂出
	KindEntryFilled Kind = "entry_filled" // entry 订单完全成交
	KindExitPlaced  Kind = "exit_placed"  // exit 订单已挂出
	KindExitFilled  Kind = "exit_filled"  // exit 订单完全成交
	KindRetracted   Kind = "retracted"    // 订单已撤销
	KindError       Kind = "error"        // 操作失败
)

// LifecycleEvent 订单生命周期事件
// FieldOrderManager 在每次状态迁移后调用 Sink，
// 持久化/告警等外围系统据此响应，核心不依赖它们
type LifecycleEvent struct {
	Kind      Kind
	OrderID   string
	Symbol    string
	Price     float64
	Amount    float64
	Tier      int     // exit 事件的层级索引，其余为 0
	ProfitPct float64 // exit_filled 事件的已实现利润（%）
	Err       string  // error 事件的错误描述
	Timestamp time.Time
}

// Sink 事件接收器
// 实现方不应阻塞：慢速消费者应自行排队
type Sink interface {
	OnLifecycleEvent(event LifecycleEvent)
}

// SinkFunc 函数式 Sink 适配器
type SinkFunc func(event LifecycleEvent)

func (f SinkFunc) OnLifecycleEvent(event LifecycleEvent) { f(event) }

// NopSink 空实现
type NopSink struct{}

func (NopSink) OnLifecycleEvent(LifecycleEvent) {}

// MultiSink 把事件广播给多个 Sink
type MultiSink []Sink

func (m MultiSink) OnLifecycleEvent(event LifecycleEvent) {
	for _, s := range m {
		if s != nil {
			s.OnLifecycleEvent(event)
		}
	}
}
