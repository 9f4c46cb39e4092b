package domain

import "time"

// Market 交易对元信息
type Market struct {
	Symbol         string  // 交易对，例如 "BTC/USDT"
	BaseCurrency   string  // 基础货币
	QuoteCurrency  string  // 计价货币
	BaseIncrement  float64 // 数量最小步进（可选，0 表示未知）
	PriceIncrement float64 // 价格最小步进（可选，0 表示未知）
	MinNotional    float64 // 最小下单金额（可选）
	Active         bool    // 是否可交易
}

// Candle K线（一旦生成不可变，按 OpenTime 升序排列）
type Candle struct {
	OpenTime time.Time // 开盘时间
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// RangePct 单根K线的振幅百分比 (high-low)/low*100
// low 非正时返回 0，避免除零
func (c Candle) RangePct() float64 {
	if c.Low <= 0 {
		return 0
	}
	return (c.High - c.Low) / c.Low * 100
}

// Ticker 行情快照（时点数据，不可变）
type Ticker struct {
	Symbol      string
	LastPrice   float64
	Bid         float64
	Ask         float64
	BaseVolume  float64
	QuoteVolume float64
	ObservedAt  time.Time
}
