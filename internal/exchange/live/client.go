package live

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/exchange"
	"github.com/fieldbot/gofield/internal/exchange/candlecache"
	"github.com/fieldbot/gofield/pkg/ratelimit"
)

var log = logrus.WithField("component", "live")

const defaultRestURL = "https://api.kucoin.com"
const sandboxRestURL = "https://openapi-sandbox.kucoin.com"

// Options 连接器选项
type Options struct {
	RestURL     string
	APIKey      string
	APISecret   string
	Passphrase  string
	Sandbox     bool
	Timeout     time.Duration
	CandleCache *candlecache.Cache // 可选：K线本地缓存
	CacheTTL    time.Duration
}

// Client 真实交易所连接器
//
// 与模拟器实现同一 exchange.Gateway 契约。所有请求受调用方 ctx 超时
// 约束；429 限流走 Retry-After，本地再叠加滑动窗口限速。
// 下单数量/价格按交易对步进截断（decimal，避免浮点尾差被拒单）。
type Client struct {
	http    *resty.Client
	opts    Options
	limiter *ratelimit.Manager

	marketsMu sync.RWMutex
	markets   map[string]domain.Market // 按领域符号（BTC/USDT）索引
	stream    *TickerStream
}

// NewClient 创建连接器
func NewClient(opts Options) *Client {
	if opts.RestURL == "" {
		if opts.Sandbox {
			opts.RestURL = sandboxRestURL
		} else {
			opts.RestURL = defaultRestURL
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.RestURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil {
						return time.Duration(seconds) * time.Second, nil
					}
				}
				return 3 * time.Second, nil
			}
			return 0, nil
		})

	mode := "PRODUCTION"
	if opts.Sandbox {
		mode = "SANDBOX"
	}
	log.Infof("已连接交易所 %s（%s 模式）", opts.RestURL, mode)

	return &Client{
		http:    httpClient,
		opts:    opts,
		limiter: ratelimit.NewManager(),
		markets: make(map[string]domain.Market),
	}
}

// AttachStream 挂接 WebSocket 行情流；GetTicker 会优先使用新鲜的流式行情
func (c *Client) AttachStream(stream *TickerStream) {
	c.stream = stream
}

// toVenueSymbol 领域符号 BTC/USDT -> 交易所符号 BTC-USDT
func toVenueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

// fromVenueSymbol 交易所符号 BTC-USDT -> 领域符号 BTC/USDT
func fromVenueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "/")
}

// sign 生成请求签名头（API 凭证由外部提供）
func (c *Client) sign(req *resty.Request, method, endpoint, body string) {
	if c.opts.APIKey == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	payload := ts + method + endpoint + body
	mac := hmac.New(sha256.New, []byte(c.opts.APISecret))
	mac.Write([]byte(payload))
	req.SetHeader("KC-API-KEY", c.opts.APIKey)
	req.SetHeader("KC-API-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.SetHeader("KC-API-TIMESTAMP", ts)
	req.SetHeader("KC-API-PASSPHRASE", c.opts.Passphrase)
}

// doGet 执行公共 GET 请求并解包响应
func (c *Client) doGet(ctx context.Context, limitKey, endpoint string, params map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx, limitKey); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		return errors.Wrapf(err, "GET %s", endpoint)
	}
	return decodeResponse(resp, endpoint, out)
}

func decodeResponse(resp *resty.Response, endpoint string, out interface{}) error {
	if resp.StatusCode() == 404 {
		return exchange.ErrNotFound
	}
	var wrapper venueResponse
	if err := json.Unmarshal(resp.Body(), &wrapper); err != nil {
		return errors.Wrapf(err, "解析 %s 响应失败", endpoint)
	}
	if wrapper.Code != "200000" {
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != 429 {
			return &exchange.RejectionError{Reason: fmt.Sprintf("%s: %s", wrapper.Code, wrapper.Msg)}
		}
		return errors.Errorf("%s: venue error %s: %s", endpoint, wrapper.Code, wrapper.Msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(wrapper.Data, out)
}

// ListMarkets 实现 Gateway
func (c *Client) ListMarkets(ctx context.Context) (map[string]domain.Market, error) {
	var symbols []symbolData
	if err := c.doGet(ctx, "public:markets", "/api/v1/symbols", nil, &symbols); err != nil {
		return nil, err
	}

	markets := make(map[string]domain.Market, len(symbols))
	for _, s := range symbols {
		m := domain.Market{
			Symbol:         fromVenueSymbol(s.Symbol),
			BaseCurrency:   s.BaseCurrency,
			QuoteCurrency:  s.QuoteCurrency,
			BaseIncrement:  parseFloat(s.BaseIncrement),
			PriceIncrement: parseFloat(s.PriceIncrement),
			MinNotional:    parseFloat(s.QuoteMinSize),
			Active:         s.EnableTrading,
		}
		markets[m.Symbol] = m
	}

	c.marketsMu.Lock()
	c.markets = markets
	c.marketsMu.Unlock()
	log.Infof("已加载 %d 个交易对", len(markets))
	return markets, nil
}

// GetTicker 实现 Gateway；流式行情足够新鲜时直接返回，否则走 REST
func (c *Client) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if c.stream != nil {
		if t, ok := c.stream.Latest(symbol); ok && time.Since(t.ObservedAt) < 5*time.Second {
			return t, nil
		}
	}

	venueSym := toVenueSymbol(symbol)
	var tick tickerData
	err := c.doGet(ctx, "public:ticker", "/api/v1/market/orderbook/level1",
		map[string]string{"symbol": venueSym}, &tick)
	if err != nil {
		return domain.Ticker{}, err
	}
	if tick.Price == "" {
		return domain.Ticker{}, exchange.ErrNotFound
	}

	var stats statsData
	if err := c.doGet(ctx, "public:ticker", "/api/v1/market/stats",
		map[string]string{"symbol": venueSym}, &stats); err != nil {
		// 成交量拿不到不算硬失败
		log.Debugf("获取 %s 24h 统计失败: %v", symbol, err)
	}

	return domain.Ticker{
		Symbol:      symbol,
		LastPrice:   parseFloat(tick.Price),
		Bid:         parseFloat(tick.BestBid),
		Ask:         parseFloat(tick.BestAsk),
		BaseVolume:  parseFloat(stats.Vol),
		QuoteVolume: parseFloat(stats.VolValue),
		ObservedAt:  time.UnixMilli(tick.Time),
	}, nil
}

// GetOHLCV 实现 Gateway；命中本地缓存时不请求交易所
func (c *Client) GetOHLCV(ctx context.Context, symbol string, windowMinutes, limit int) ([]domain.Candle, error) {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	if c.opts.CandleCache != nil {
		if candles, ok, err := c.opts.CandleCache.Get(symbol, windowMinutes); err == nil && ok && len(candles) >= limit {
			return candles[len(candles)-limit:], nil
		}
	}

	end := time.Now()
	start := end.Add(-time.Duration(windowMinutes*limit) * time.Minute)
	var raw [][]string
	err := c.doGet(ctx, "public:ohlcv", "/api/v1/market/candles", map[string]string{
		"symbol":  toVenueSymbol(symbol),
		"type":    fmt.Sprintf("%dmin", windowMinutes),
		"startAt": strconv.FormatInt(start.Unix(), 10),
		"endAt":   strconv.FormatInt(end.Unix(), 10),
	}, &raw)
	if err != nil {
		return nil, err
	}

	// 交易所按时间倒序返回 [time, open, close, high, low, volume, turnover]
	candles := make([]domain.Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, domain.Candle{
			OpenTime: time.Unix(ts, 0),
			Open:     parseFloat(row[1]),
			Close:    parseFloat(row[2]),
			High:     parseFloat(row[3]),
			Low:      parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}

	if c.opts.CandleCache != nil && len(candles) > 0 {
		ttl := c.opts.CacheTTL
		if ttl <= 0 {
			ttl = 55 * time.Second
		}
		if err := c.opts.CandleCache.Put(symbol, windowMinutes, candles, ttl); err != nil {
			log.Debugf("写入K线缓存失败: %s: %v", symbol, err)
		}
	}
	return candles, nil
}

// PlaceLimitBuy 实现 Gateway
func (c *Client) PlaceLimitBuy(ctx context.Context, symbol string, amount, price float64) (string, error) {
	return c.placeOrder(ctx, symbol, "buy", amount, price)
}

// PlaceLimitSell 实现 Gateway
func (c *Client) PlaceLimitSell(ctx context.Context, symbol string, amount, price float64) (string, error) {
	return c.placeOrder(ctx, symbol, "sell", amount, price)
}

func (c *Client) placeOrder(ctx context.Context, symbol, side string, amount, price float64) (string, error) {
	if amount <= 0 || price <= 0 {
		return "", &exchange.RejectionError{Reason: "invalid amount/price"}
	}
	if err := c.limiter.Wait(ctx, "trade:order:post"); err != nil {
		return "", err
	}

	sizeStr, priceStr := c.roundToIncrements(symbol, amount, price)
	body := map[string]string{
		"clientOid": uuid.NewString(),
		"symbol":    toVenueSymbol(symbol),
		"side":      side,
		"type":      "limit",
		"price":     priceStr,
		"size":      sizeStr,
	}
	bodyJSON, _ := json.Marshal(body)

	endpoint := "/api/v1/orders"
	req := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(body)
	c.sign(req, "POST", endpoint, string(bodyJSON))

	resp, err := req.Post(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "place order")
	}
	var data placeOrderData
	if err := decodeResponse(resp, endpoint, &data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", &exchange.RejectionError{Reason: "venue returned empty order id"}
	}
	log.Infof("已挂单: %s %s %s @ %s (id=%s)", symbol, side, sizeStr, priceStr, data.OrderID)
	return data.OrderID, nil
}

// roundToIncrements 按交易对步进向下截断数量和价格
// 步进未知时保留 8 位小数
func (c *Client) roundToIncrements(symbol string, amount, price float64) (sizeStr, priceStr string) {
	c.marketsMu.RLock()
	market, ok := c.markets[symbol]
	c.marketsMu.RUnlock()

	size := decimal.NewFromFloat(amount)
	prc := decimal.NewFromFloat(price)

	if ok && market.BaseIncrement > 0 {
		inc := decimal.NewFromFloat(market.BaseIncrement)
		size = size.Div(inc).Floor().Mul(inc)
	} else {
		size = size.Truncate(8)
	}
	if ok && market.PriceIncrement > 0 {
		inc := decimal.NewFromFloat(market.PriceIncrement)
		prc = prc.Div(inc).Floor().Mul(inc)
	} else {
		prc = prc.Truncate(8)
	}
	return size.String(), prc.String()
}

// GetOrderStatus 实现 Gateway
func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderStatusSnapshot, error) {
	if err := c.limiter.Wait(ctx, "trade:order:get"); err != nil {
		return exchange.OrderStatusSnapshot{}, err
	}

	endpoint := "/api/v1/orders/" + orderID
	req := c.http.R().SetContext(ctx)
	c.sign(req, "GET", endpoint, "")

	resp, err := req.Get(endpoint)
	if err != nil {
		return exchange.OrderStatusSnapshot{}, errors.Wrap(err, "get order status")
	}
	var data orderData
	if err := decodeResponse(resp, endpoint, &data); err != nil {
		return exchange.OrderStatusSnapshot{}, err
	}

	status := exchange.StatusOpen
	switch {
	case data.CancelExist:
		status = exchange.StatusCanceled
	case !data.IsActive:
		// 非活跃且非撤销 = 完全成交
		status = exchange.StatusClosed
	}
	return exchange.OrderStatusSnapshot{
		OrderID:      data.ID,
		Status:       status,
		FilledAmount: parseFloat(data.DealSize),
	}, nil
}

// CancelOrder 实现 Gateway
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if err := c.limiter.Wait(ctx, "trade:order:delete"); err != nil {
		return false, err
	}

	endpoint := "/api/v1/orders/" + orderID
	req := c.http.R().SetContext(ctx)
	c.sign(req, "DELETE", endpoint, "")

	resp, err := req.Delete(endpoint)
	if err != nil {
		return false, errors.Wrap(err, "cancel order")
	}
	var data cancelData
	if err := decodeResponse(resp, endpoint, &data); err != nil {
		if errors.Is(err, exchange.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return len(data.CancelledOrderIDs) > 0, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
