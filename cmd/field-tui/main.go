package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/events"
	"github.com/fieldbot/gofield/internal/exchange/sim"
	"github.com/fieldbot/gofield/internal/fieldorder"
	"github.com/fieldbot/gofield/internal/scanner"
)

// 模拟器驱动的交互面板：观察扫描候选与场订单生命周期，
// 按键挂单/撤单，不连接真实交易所。

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type tickMsg time.Time

type model struct {
	sim     *sim.Simulator
	scanner *scanner.Scanner
	manager *fieldorder.Manager
	simVol  float64

	candidates []domain.VolatilityCandidate
	lastEvent  string
	err        error
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Init() tea.Cmd {
	return tick()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "b":
			// 对头名候选挂折价买单
			if len(m.candidates) > 0 {
				top := m.candidates[0]
				_, m.err = m.manager.PlaceEntry(context.Background(), top.Symbol, top.LastPrice, 100)
			}
		case "r":
			// 撤销最早的挂单
			if armed := m.manager.Table().Armed(); len(armed) > 0 {
				m.manager.Retract(context.Background(), armed[0].OrderID)
			}
		}
		return m, nil

	case tickMsg:
		m.sim.Advance(m.simVol)
		m.candidates, m.err = m.scanner.Scan(context.Background(), nil)

		// 对账所有挂单；entry 成交即部署卖出场
		for _, o := range m.manager.Table().Armed() {
			if o.Role == domain.RoleEntry {
				if updated, err := m.manager.PollEntry(context.Background(), o.OrderID); err == nil &&
					updated.Status == domain.OrderStatusActivated {
					_, _ = m.manager.DeployExitField(context.Background(), o.OrderID)
				}
			} else {
				_, _ = m.manager.PollExit(context.Background(), o.OrderID)
			}
		}
		return m, tick()
	}
	return m, nil
}

func (m *model) View() string {
	var b string
	b += titleStyle.Render("场订单模拟面板") + dimStyle.Render("   [b]挂买单 [r]撤单 [q]退出") + "\n\n"

	b += headerStyle.Render("高波动候选") + "\n"
	if len(m.candidates) == 0 {
		b += dimStyle.Render("  （暂无，等待K线积累）") + "\n"
	}
	for i, c := range m.candidates {
		if i >= 5 {
			break
		}
		b += fmt.Sprintf("  %-10s 波动率 %s  现价 %.4f\n",
			c.Symbol, upStyle.Render(fmt.Sprintf("%5.2f%%", c.VolatilityPct)), c.LastPrice)
	}

	b += "\n" + headerStyle.Render("订单表") + "\n"
	orders := m.manager.Table().Snapshot()
	if len(orders) == 0 {
		b += dimStyle.Render("  （空）") + "\n"
	}
	for _, o := range orders {
		status := string(o.Status)
		switch o.Status {
		case domain.OrderStatusActivated:
			status = upStyle.Render(status)
		case domain.OrderStatusRetracted:
			status = downStyle.Render(status)
		default:
			status = warnStyle.Render(status)
		}
		role := "买"
		if o.Role == domain.RoleExit {
			role = fmt.Sprintf("卖%d", o.Tier+1)
		}
		b += fmt.Sprintf("  %-6s %-4s %-10s %.4f @ %.4f  %s\n",
			o.OrderID, role, o.Symbol, o.RequestedAmount, o.RequestedPrice, status)
	}

	if m.lastEvent != "" {
		b += "\n" + dimStyle.Render("最近事件: "+m.lastEvent) + "\n"
	}
	if m.err != nil {
		b += "\n" + downStyle.Render("错误: "+m.err.Error()) + "\n"
	}
	return b
}

func main() {
	seed := flag.Int64("seed", time.Now().UnixNano(), "模拟器随机种子")
	simVol := flag.Float64("sim-vol", 6.0, "模拟器每根K线的波动率（%）")
	minVol := flag.Float64("min-vol", 5.0, "扫描阈值（%）")
	flag.Parse()

	// TUI 模式下日志静音，避免打乱画面
	logrus.SetLevel(logrus.PanicLevel)

	simulator := sim.New(*seed)
	sc, err := scanner.New(simulator, scanner.Config{MinVolatilityPct: *minVol, WindowMinutes: 60})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	m := &model{sim: simulator, scanner: sc, simVol: *simVol}
	mgr, err := fieldorder.New(simulator, fieldorder.Config{}, events.SinkFunc(func(e events.LifecycleEvent) {
		m.lastEvent = fmt.Sprintf("%s %s %s", e.Kind, e.Symbol, e.OrderID)
	}))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	m.manager = mgr

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
