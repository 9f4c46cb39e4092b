package alerts

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/events"
)

var log = logrus.WithField("component", "alerts")

const defaultHistorySize = 256

// Callback 告警回调
type Callback func(event events.LifecycleEvent)

// Manager 告警管理器
//
// 作为 events.Sink 订阅订单生命周期事件：记录有界历史、
// 分发给注册的回调、输出通知日志。桌面通知由外围系统自行接入回调。
type Manager struct {
	mu        sync.Mutex
	callbacks map[events.Kind][]Callback
	history   []events.LifecycleEvent
	maxSize   int
}

// NewManager 创建告警管理器
func NewManager() *Manager {
	return &Manager{
		callbacks: make(map[events.Kind][]Callback),
		maxSize:   defaultHistorySize,
	}
}

// Register 注册某类事件的回调
func (m *Manager) Register(kind events.Kind, cb Callback) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[kind] = append(m.callbacks[kind], cb)
}

// History 返回事件历史副本（新到旧）
func (m *Manager) History() []events.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]events.LifecycleEvent, len(m.history))
	for i, e := range m.history {
		out[len(m.history)-1-i] = e
	}
	return out
}

// OnLifecycleEvent 实现 events.Sink
func (m *Manager) OnLifecycleEvent(event events.LifecycleEvent) {
	m.mu.Lock()
	m.history = append(m.history, event)
	if len(m.history) > m.maxSize {
		m.history = m.history[len(m.history)-m.maxSize:]
	}
	cbs := append([]Callback(nil), m.callbacks[event.Kind]...)
	m.mu.Unlock()

	switch event.Kind {
	case events.KindEntryFilled:
		log.Infof("【成交】%s 买单 %s 成交 %.6f @ %.6f", event.Symbol, event.OrderID, event.Amount, event.Price)
	case events.KindExitFilled:
		log.Infof("【止盈】%s 卖单 %s 成交，利润 %.2f%%", event.Symbol, event.OrderID, event.ProfitPct)
	case events.KindError:
		log.Warnf("【异常】%s %s: %s", event.Symbol, event.OrderID, event.Err)
	}

	for _, cb := range cbs {
		cb(event)
	}
}
