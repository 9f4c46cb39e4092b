package fieldorder

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fieldbot/gofield/internal/domain"
)

var (
	// ErrOrderNotFound 订单不在表中
	ErrOrderNotFound = errors.New("fieldorder: order not found")
	// ErrDuplicateOrder 订单 ID 已存在
	ErrDuplicateOrder = errors.New("fieldorder: duplicate order id")
	// ErrTerminalOrder 订单已处于终态，拒绝迁移
	ErrTerminalOrder = errors.New("fieldorder: order already terminal")
)

// OrderTable 订单表（以 order_id 为键的受锁 arena）
//
// 所有写入（挂单插入、轮询后的状态迁移）经互斥锁串行化；
// 读取返回副本，外部持有快照不会观察到半更新状态。
// 订单从不删除，终态订单作为历史保留到进程结束。
type OrderTable struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewOrderTable 创建订单表
func NewOrderTable() *OrderTable {
	return &OrderTable{
		orders: make(map[string]*domain.Order),
	}
}

// Insert 插入新订单；ID 重复时返回 ErrDuplicateOrder
func (t *OrderTable) Insert(order domain.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.orders[order.OrderID]; exists {
		return ErrDuplicateOrder
	}
	o := order
	t.orders[order.OrderID] = &o
	return nil
}

// Get 返回订单副本
func (t *OrderTable) Get(orderID string) (domain.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	o, ok := t.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Transition 执行状态迁移并记录成交数量，返回更新后的副本
// 终态订单拒绝任何迁移（状态机约束在此强制执行）
func (t *OrderTable) Transition(orderID string, next domain.OrderStatus, filledAmount float64, at time.Time) (domain.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[orderID]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if !o.CanTransition(next) {
		return *o, ErrTerminalOrder
	}
	o.Status = next
	o.LastCheckedAt = at
	if next == domain.OrderStatusActivated {
		if filledAmount > 0 {
			o.FilledAmount = filledAmount
		} else {
			o.FilledAmount = o.RequestedAmount
		}
	}
	return *o, nil
}

// Touch 更新订单的最后对账时间（状态不变）
func (t *OrderTable) Touch(orderID string, at time.Time) (domain.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[orderID]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	o.LastCheckedAt = at
	return *o, nil
}

// Snapshot 返回全部订单的一致性副本，按创建时间（同时间按 ID）排序
func (t *OrderTable) Snapshot() []domain.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// Armed 返回所有仍在挂单的订单副本
func (t *OrderTable) Armed() []domain.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range t.orders {
		if o.IsArmed() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// CountArmed 统计指定角色的挂单数（风险限制用）
func (t *OrderTable) CountArmed(role domain.Role) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, o := range t.orders {
		if o.IsArmed() && o.Role == role {
			n++
		}
	}
	return n
}

// ExitsOf 返回某个 entry 订单派生的全部 exit 订单，按层级排序
func (t *OrderTable) ExitsOf(entryOrderID string) []domain.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range t.orders {
		if o.Role == domain.RoleExit && o.EntryOrderID == entryOrderID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}
