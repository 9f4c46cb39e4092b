package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/exchange"
	"github.com/fieldbot/gofield/internal/fieldorder"
	"github.com/fieldbot/gofield/internal/scanner"
	"github.com/fieldbot/gofield/internal/storage"
	"github.com/fieldbot/gofield/pkg/config"
	"github.com/fieldbot/gofield/pkg/sigchan"
	"github.com/fieldbot/gofield/pkg/syncgroup"
)

var log = logrus.WithField("component", "runner")

// Runner 策略运行器
//
// 两条独立循环：
//   - 扫描循环：周期性扫描高波动交易对，在风险限制内对头名候选挂折价买单
//   - 轮询循环：周期性对账所有挂单中的订单；观察到 entry 成交且尚未部署
//     卖出场时，部署分层卖出场
//
// Runner 自己不做状态迁移，全部经 fieldorder.Manager；落库与告警
// 由挂在 manager 上的事件 Sink 负责。
type Runner struct {
	gateway exchange.Gateway
	scanner *scanner.Scanner
	manager *fieldorder.Manager
	store   *storage.Store // 可为 nil（纯内存运行）
	cfg     *config.Config

	mu            sync.Mutex
	deployed      map[string]bool // 已部署卖出场的 entry 订单
	dailyTrades   int
	dailyProfit   float64 // 当日已实现利润（%加权不做，按笔计）
	dailyResetDay int     // 计数归属的自然日（yearday）

	pollNow *sigchan.Chan // 挂单后立即触发一次对账，不等下个周期
	cancel  context.CancelFunc
	group   *syncgroup.Group
}

// NewRunner 创建运行器
func NewRunner(gateway exchange.Gateway, sc *scanner.Scanner, mgr *fieldorder.Manager, store *storage.Store, cfg *config.Config) *Runner {
	return &Runner{
		gateway:  gateway,
		scanner:  sc,
		manager:  mgr,
		store:    store,
		cfg:      cfg,
		deployed: make(map[string]bool),
		pollNow:  sigchan.New(1),
		group:    syncgroup.New(),
	}
}

// Start 启动扫描与轮询循环
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	scanInterval := time.Duration(r.cfg.Scanner.ScanIntervalSecs) * time.Second
	if scanInterval <= 0 {
		scanInterval = 5 * time.Minute
	}
	pollInterval := time.Duration(r.cfg.PollSecs) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	r.group.Go(func() { r.scanLoop(ctx, scanInterval) })
	r.group.Go(func() { r.pollLoop(ctx, pollInterval) })
	log.Infof("运行器已启动: 扫描间隔 %s，轮询间隔 %s", scanInterval, pollInterval)
}

// Stop 停止循环并等待退出；不撤销任何挂单
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.group.Wait()
	log.Info("运行器已停止（挂单保留在交易所）")
}

func (r *Runner) scanLoop(ctx context.Context, interval time.Duration) {
	// 启动即扫一次，不等第一个周期
	r.scanOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

func (r *Runner) scanOnce(ctx context.Context) {
	candidates, err := r.scanner.Scan(ctx, r.cfg.Scanner.Symbols)
	if err != nil {
		log.Errorf("扫描失败: %v", err)
		return
	}
	log.Infof("扫描完成: %d 个候选", len(candidates))

	if r.store != nil {
		for _, c := range candidates {
			if err := r.store.InsertVolatility(ctx, c); err != nil {
				log.Warnf("记录波动率失败: %s: %v", c.Symbol, err)
			}
		}
	}
	if len(candidates) == 0 {
		return
	}

	top := candidates[0]
	if !r.allowEntry(top.Symbol) {
		return
	}
	if r.cfg.DryRun {
		log.Infof("[纸交易] 本应挂出 %s 折价买单（波动率 %.2f%%，现价 %.6f）",
			top.Symbol, top.VolatilityPct, top.LastPrice)
		return
	}

	if _, err := r.manager.PlaceEntry(ctx, top.Symbol, top.LastPrice, r.cfg.Order.MaxPositionSize); err != nil {
		log.Errorf("挂买单失败: %s: %v", top.Symbol, err)
		return
	}
	r.pollNow.Emit()
}

// allowEntry 风险闸门：并发持仓、当日成交数、当日亏损
func (r *Runner) allowEntry(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()

	table := r.manager.Table()
	open := table.CountArmed(domain.RoleEntry)
	// activated 且卖出场未结清的 entry 也占用持仓额度
	for _, o := range table.Snapshot() {
		if o.Role == domain.RoleEntry && o.Status == domain.OrderStatusActivated {
			open++
		}
	}
	if open >= r.cfg.Risk.MaxConcurrentPositions {
		log.Debugf("跳过 %s: 持仓数已达上限 %d", symbol, r.cfg.Risk.MaxConcurrentPositions)
		return false
	}
	if r.cfg.Risk.MaxDailyTrades > 0 && r.dailyTrades >= r.cfg.Risk.MaxDailyTrades {
		log.Warnf("跳过 %s: 当日成交数已达上限 %d", symbol, r.cfg.Risk.MaxDailyTrades)
		return false
	}
	if r.cfg.Risk.MaxDailyLoss > 0 && -r.dailyProfit >= r.cfg.Risk.MaxDailyLoss {
		log.Warnf("跳过 %s: 当日亏损已达上限 %.2f", symbol, r.cfg.Risk.MaxDailyLoss)
		return false
	}

	// 同一交易对已有未终结的 entry 时不再加仓
	for _, o := range table.Snapshot() {
		if o.Role == domain.RoleEntry && o.Symbol == symbol && !o.IsTerminal() {
			log.Debugf("跳过 %s: 已有在途 entry", symbol)
			return false
		}
	}
	return true
}

func (r *Runner) rollDayLocked() {
	day := time.Now().YearDay()
	if day != r.dailyResetDay {
		r.dailyResetDay = day
		r.dailyTrades = 0
		r.dailyProfit = 0
	}
}

func (r *Runner) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		case <-r.pollNow.C():
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	for _, order := range r.manager.Table().Armed() {
		var updated domain.Order
		var err error
		if order.Role == domain.RoleEntry {
			updated, err = r.manager.PollEntry(ctx, order.OrderID)
		} else {
			updated, err = r.manager.PollExit(ctx, order.OrderID)
		}
		if err != nil {
			// 瞬时失败，下个周期重试
			continue
		}
		if updated.Status == domain.OrderStatusActivated {
			r.recordFill(updated)
			if updated.Role == domain.RoleEntry {
				r.deployExits(ctx, updated.OrderID)
			}
		}
	}
}

func (r *Runner) recordFill(o domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()
	r.dailyTrades++
	if o.Role == domain.RoleExit {
		// 已实现利润按计价货币估算：数量 * entry 价 * 利润%
		r.dailyProfit += o.FilledAmount * o.EntryPrice * o.ProfitPct() / 100
	}
}

func (r *Runner) deployExits(ctx context.Context, entryOrderID string) {
	r.mu.Lock()
	if r.deployed[entryOrderID] {
		r.mu.Unlock()
		return
	}
	r.deployed[entryOrderID] = true
	r.mu.Unlock()

	placed, err := r.manager.DeployExitField(ctx, entryOrderID)
	if err != nil {
		log.Errorf("部署卖出场失败: %s: %v", entryOrderID, err)
		// 失败可重试（交易所核实失败属瞬时），撤销占位
		r.mu.Lock()
		delete(r.deployed, entryOrderID)
		r.mu.Unlock()
		return
	}
	log.Infof("已为 %s 部署 %d 层卖出场", entryOrderID, len(placed))
}
