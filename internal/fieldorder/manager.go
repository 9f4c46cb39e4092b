package fieldorder

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/events"
	"github.com/fieldbot/gofield/internal/exchange"
)

var log = logrus.WithField("component", "fieldorder")

var (
	// ErrInvalidArgs 入参不合法（参考价/仓位必须为正）
	ErrInvalidArgs = errors.New("fieldorder: invalid arguments")
	// ErrNotEntryOrder 指定订单不是 entry 订单
	ErrNotEntryOrder = errors.New("fieldorder: not an entry order")
	// ErrEntryNotActivated entry 订单尚未成交，拒绝部署卖出场
	ErrEntryNotActivated = errors.New("fieldorder: entry order not activated")
)

// Config 场订单配置
type Config struct {
	DiscountPct float64   // 买单折扣（%），默认 15.0
	ProfitTiers []float64 // 卖单分层利润（%），递增
	TierWeights []float64 // 每层卖出仓位占比，总和 ≤ 1.0（由调用方保证，manager 不做归一化）
}

// Validate 校验并填充默认值
func (c *Config) Validate() error {
	if c.DiscountPct == 0 {
		c.DiscountPct = 15.0
	}
	if c.DiscountPct <= 0 || c.DiscountPct >= 100 {
		return errors.Errorf("discount 必须在 (0,100) 区间: %.2f", c.DiscountPct)
	}
	if len(c.ProfitTiers) == 0 {
		c.ProfitTiers = []float64{5.0, 10.0, 15.0}
		c.TierWeights = []float64{0.5, 0.3, 0.2}
	}
	if len(c.ProfitTiers) != len(c.TierWeights) {
		return errors.Errorf("profit tiers 与 tier weights 长度不一致: %d != %d",
			len(c.ProfitTiers), len(c.TierWeights))
	}
	sum := 0.0
	for _, w := range c.TierWeights {
		sum += w
	}
	if sum > 1.0+1e-9 {
		return errors.Errorf("tier weights 总和不能超过 1.0: %.4f", sum)
	}
	return nil
}

// Manager 场订单管理器
//
// 负责折价 entry 买单的挂出、成交检测，以及成交后分层 exit 卖出场的部署。
// 管理器不在内部自动串联（poll 检测到成交后由调用方决定何时部署卖出场），
// 保证调用方控制权和可测试性。每次状态迁移通过 events.Sink 通知外围系统。
type Manager struct {
	gateway exchange.Gateway
	table   *OrderTable
	sink    events.Sink
	config  Config
}

// New 创建管理器；sink 为 nil 时使用空实现
func New(gateway exchange.Gateway, config Config, sink events.Sink) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Manager{
		gateway: gateway,
		table:   NewOrderTable(),
		sink:    sink,
		config:  config,
	}, nil
}

// Table 返回订单表（快照读取用）
func (m *Manager) Table() *OrderTable {
	return m.table
}

// Config 返回管理器配置副本
func (m *Manager) Config() Config {
	return m.config
}

func (m *Manager) emit(kind events.Kind, o domain.Order, profitPct float64, errMsg string) {
	m.sink.OnLifecycleEvent(events.LifecycleEvent{
		Kind:      kind,
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Price:     o.RequestedPrice,
		Amount:    o.RequestedAmount,
		Tier:      o.Tier,
		ProfitPct: profitPct,
		Err:       errMsg,
		Timestamp: time.Now(),
	})
}

func (m *Manager) emitError(symbol, orderID string, err error) {
	m.sink.OnLifecycleEvent(events.LifecycleEvent{
		Kind:      events.KindError,
		OrderID:   orderID,
		Symbol:    symbol,
		Err:       err.Error(),
		Timestamp: time.Now(),
	})
}

// PlaceEntry 挂出折价 entry 买单
//
// entry_price = reference_price * (1 - discount/100)
// amount      = position_value / entry_price
//
// 网关失败时不产生任何本地状态（无部分插入）。幂等性由调用方负责：
// 相同参数调用两次会挂出两张独立订单。
func (m *Manager) PlaceEntry(ctx context.Context, symbol string, referencePrice, positionValue float64) (*domain.Order, error) {
	if referencePrice <= 0 || positionValue <= 0 {
		return nil, ErrInvalidArgs
	}

	entryPrice := referencePrice * (1 - m.config.DiscountPct/100)
	amount := positionValue / entryPrice

	log.Infof("挂出折价买单: %s %.6f @ %.6f（低于市价 %.1f%%）",
		symbol, amount, entryPrice, m.config.DiscountPct)

	orderID, err := m.gateway.PlaceLimitBuy(ctx, symbol, amount, entryPrice)
	if err != nil {
		log.Errorf("挂买单失败: %s: %v", symbol, err)
		m.emitError(symbol, "", err)
		return nil, errors.Wrap(err, "place entry")
	}

	now := time.Now()
	order := domain.Order{
		OrderID:         orderID,
		Symbol:          symbol,
		Side:            domain.SideBuy,
		Role:            domain.RoleEntry,
		RequestedPrice:  entryPrice,
		RequestedAmount: amount,
		Status:          domain.OrderStatusArmed,
		CreatedAt:       now,
		LastCheckedAt:   now,
	}
	if err := m.table.Insert(order); err != nil {
		// 交易所已接单但本地登记失败：保留日志并上报，不回滚远端
		log.Errorf("订单登记失败: %s: %v", orderID, err)
		m.emitError(symbol, orderID, err)
		return nil, err
	}

	m.emit(events.KindEntryPlaced, order, 0, "")
	return &order, nil
}

// PollEntry 对账 entry 订单状态
//
// 交易所报告完全成交 → 迁移到 activated 并记录成交数量（这是部署
// 卖出场的触发条件，由调用方观察后调用 DeployExitField）；
// 报告撤销/拒绝 → 迁移到 retracted；否则仅更新最后对账时间。
// 网关瞬时失败（超时/限流）只记日志，状态不变。
func (m *Manager) PollEntry(ctx context.Context, orderID string) (domain.Order, error) {
	return m.poll(ctx, orderID, domain.RoleEntry)
}

// PollExit 对账 exit 订单状态，语义与 PollEntry 对称；
// 成交时生成已实现利润 (exit-entry)/entry*100
func (m *Manager) PollExit(ctx context.Context, orderID string) (domain.Order, error) {
	return m.poll(ctx, orderID, domain.RoleExit)
}

func (m *Manager) poll(ctx context.Context, orderID string, role domain.Role) (domain.Order, error) {
	order, ok := m.table.Get(orderID)
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if order.Role != role {
		if role == domain.RoleEntry {
			return domain.Order{}, ErrNotEntryOrder
		}
		return domain.Order{}, errors.New("fieldorder: not an exit order")
	}
	if order.IsTerminal() {
		// 终态订单无需对账，直接返回当前快照
		return order, nil
	}

	snapshot, err := m.gateway.GetOrderStatus(ctx, orderID, order.Symbol)
	if err != nil {
		// 可恢复失败：状态不变，下个轮询周期重试
		log.Warnf("查询订单状态失败: %s: %v", orderID, err)
		return domain.Order{}, errors.Wrap(err, "poll order")
	}

	now := time.Now()
	switch snapshot.Status {
	case exchange.StatusClosed:
		updated, terr := m.table.Transition(orderID, domain.OrderStatusActivated, snapshot.FilledAmount, now)
		if terr != nil {
			return updated, terr
		}
		if role == domain.RoleEntry {
			log.Infof("买单成交: %s %s %.6f @ %.6f", updated.Symbol, orderID, updated.FilledAmount, updated.RequestedPrice)
			m.emit(events.KindEntryFilled, updated, 0, "")
		} else {
			profit := updated.ProfitPct()
			log.Infof("卖单成交: %s %s tier=%d 利润 %.2f%%", updated.Symbol, orderID, updated.Tier, profit)
			m.emit(events.KindExitFilled, updated, profit, "")
		}
		return updated, nil

	case exchange.StatusCanceled, exchange.StatusRejected:
		updated, terr := m.table.Transition(orderID, domain.OrderStatusRetracted, 0, now)
		if terr != nil {
			return updated, terr
		}
		log.Infof("订单已被交易所撤销: %s (%s)", orderID, snapshot.Status)
		m.emit(events.KindRetracted, updated, 0, "")
		return updated, nil

	default:
		return m.table.Touch(orderID, now)
	}
}

// DeployExitField 为已成交的 entry 订单部署分层卖出场
//
// 前置条件：entry 存在且本地状态为 activated，并再次向交易所核实；
// 交易所不认可成交时返回空列表（绝不对未成交的 entry 挂卖单）。
// 单层挂单失败只跳过该层，其余层继续（部分场在交易所拒单下是正常形态，
// 例如小层触发最小下单金额限制）。
// 不变量：成功挂出的各层数量之和不超过 entry 成交数量。
func (m *Manager) DeployExitField(ctx context.Context, entryOrderID string) ([]domain.Order, error) {
	entry, ok := m.table.Get(entryOrderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	if entry.Role != domain.RoleEntry {
		return nil, ErrNotEntryOrder
	}
	if entry.Status != domain.OrderStatusActivated {
		return nil, ErrEntryNotActivated
	}

	// 向交易所二次核实：本地缓存可能落后或失真
	snapshot, err := m.gateway.GetOrderStatus(ctx, entryOrderID, entry.Symbol)
	if err != nil {
		log.Warnf("核实 entry 状态失败: %s: %v", entryOrderID, err)
		return nil, errors.Wrap(err, "verify entry")
	}
	if snapshot.Status != exchange.StatusClosed {
		log.Errorf("本地认为 %s 已成交但交易所报告 %s，拒绝部署卖出场", entryOrderID, snapshot.Status)
		m.emitError(entry.Symbol, entryOrderID, ErrEntryNotActivated)
		return nil, ErrEntryNotActivated
	}

	fillPrice := entry.RequestedPrice
	fillAmount := entry.FilledAmount
	if fillAmount <= 0 {
		fillAmount = entry.RequestedAmount
	}

	placed := make([]domain.Order, 0, len(m.config.ProfitTiers))
	for i, profit := range m.config.ProfitTiers {
		weight := m.config.TierWeights[i]
		exitPrice := fillPrice * (1 + profit/100)
		exitAmount := fillAmount * weight

		log.Infof("挂出第 %d 层卖单: %s %.6f @ %.6f（利润 %.1f%%，占仓位 %.0f%%）",
			i+1, entry.Symbol, exitAmount, exitPrice, profit, weight*100)

		orderID, perr := m.gateway.PlaceLimitSell(ctx, entry.Symbol, exitAmount, exitPrice)
		if perr != nil {
			// 该层放弃，继续尝试其余层
			log.Errorf("第 %d 层卖单失败: %s: %v", i+1, entry.Symbol, perr)
			m.emitError(entry.Symbol, entryOrderID, perr)
			continue
		}

		now := time.Now()
		order := domain.Order{
			OrderID:         orderID,
			Symbol:          entry.Symbol,
			Side:            domain.SideSell,
			Role:            domain.RoleExit,
			RequestedPrice:  exitPrice,
			RequestedAmount: exitAmount,
			Status:          domain.OrderStatusArmed,
			CreatedAt:       now,
			LastCheckedAt:   now,
			EntryOrderID:    entryOrderID,
			Tier:            i,
			EntryPrice:      fillPrice,
		}
		if ierr := m.table.Insert(order); ierr != nil {
			log.Errorf("卖单登记失败: %s: %v", orderID, ierr)
			m.emitError(entry.Symbol, orderID, ierr)
			continue
		}
		m.emit(events.KindExitPlaced, order, 0, "")
		placed = append(placed, order)
	}
	return placed, nil
}

// Retract 撤销一张挂单中的订单
//
// 只有 armed 订单可撤；终态订单（已成交/已撤销）返回 false 且状态不变。
func (m *Manager) Retract(ctx context.Context, orderID string) bool {
	order, ok := m.table.Get(orderID)
	if !ok {
		log.Warnf("撤单失败: 订单 %s 不存在", orderID)
		return false
	}
	if !order.IsArmed() {
		log.Warnf("撤单失败: 订单 %s 已处于终态 %s", orderID, order.Status)
		return false
	}

	ok2, err := m.gateway.CancelOrder(ctx, orderID, order.Symbol)
	if err != nil {
		log.Warnf("交易所撤单失败: %s: %v", orderID, err)
		m.emitError(order.Symbol, orderID, err)
		return false
	}
	if !ok2 {
		return false
	}

	updated, terr := m.table.Transition(orderID, domain.OrderStatusRetracted, 0, time.Now())
	if terr != nil {
		log.Errorf("撤单状态迁移失败: %s: %v", orderID, terr)
		return false
	}
	log.Infof("订单已撤销: %s %s", updated.Symbol, orderID)
	m.emit(events.KindRetracted, updated, 0, "")
	return true
}
