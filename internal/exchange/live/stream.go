package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldbot/gofield/internal/domain"
)

// TickerStream WebSocket 行情流
//
// 订阅一组交易对的逐笔行情，维护最新快照供 Client.GetTicker 优先使用。
// 断线后指数退避自动重连，重连期间 GetTicker 自然回退到 REST。
type TickerStream struct {
	wsURL   string
	symbols []string

	mu      sync.RWMutex
	tickers map[string]domain.Ticker

	cancel context.CancelFunc
	done   chan struct{}
}

// wsMessage 推送消息外层
type wsMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// wsTickerData 行情推送负载
type wsTickerData struct {
	Price   string `json:"price"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
	Time    int64  `json:"time"`
}

// NewTickerStream 创建行情流（未启动）
func NewTickerStream(wsURL string, symbols []string) *TickerStream {
	return &TickerStream{
		wsURL:   wsURL,
		symbols: append([]string(nil), symbols...),
		tickers: make(map[string]domain.Ticker),
	}
}

// Start 启动后台读取循环
func (s *TickerStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop 停止行情流并等待退出
func (s *TickerStream) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Latest 返回交易对的最新流式行情
func (s *TickerStream) Latest(symbol string) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[symbol]
	return t, ok
}

func (s *TickerStream) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	for {
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("行情流断开: %v，%s 后重连", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *TickerStream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	venueSymbols := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		venueSymbols[i] = toVenueSymbol(sym)
	}
	sub := map[string]interface{}{
		"id":       time.Now().UnixMilli(),
		"type":     "subscribe",
		"topic":    "/market/ticker:" + strings.Join(venueSymbols, ","),
		"response": true,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Infof("行情流已订阅 %d 个交易对", len(venueSymbols))

	// 周期性 ping 保活
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				ping := fmt.Sprintf(`{"id":%d,"type":"ping"}`, time.Now().UnixMilli())
				if err := conn.WriteMessage(websocket.TextMessage, []byte(ping)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debugf("行情流消息解析失败: %v", err)
			continue
		}
		if msg.Type != "message" || !strings.HasPrefix(msg.Topic, "/market/ticker:") {
			continue
		}

		var data wsTickerData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			continue
		}
		symbol := fromVenueSymbol(strings.TrimPrefix(msg.Topic, "/market/ticker:"))

		s.mu.Lock()
		s.tickers[symbol] = domain.Ticker{
			Symbol:     symbol,
			LastPrice:  parseFloat(data.Price),
			Bid:        parseFloat(data.BestBid),
			Ask:        parseFloat(data.BestAsk),
			ObservedAt: time.UnixMilli(data.Time),
		}
		s.mu.Unlock()
	}
}
