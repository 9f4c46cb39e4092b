package live

import "encoding/json"

// venueResponse 交易所统一响应包装
// code == "200000" 表示成功，其余 code 的 msg 作为拒单/错误原因
type venueResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// symbolData 交易对元信息
type symbolData struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	BaseIncrement  string `json:"baseIncrement"`
	PriceIncrement string `json:"priceIncrement"`
	QuoteMinSize   string `json:"quoteMinSize"`
	EnableTrading  bool   `json:"enableTrading"`
}

// tickerData level1 行情
type tickerData struct {
	Price       string `json:"price"`
	BestBid     string `json:"bestBid"`
	BestAsk     string `json:"bestAsk"`
	Size        string `json:"size"`
	Time        int64  `json:"time"`
}

// statsData 24h 统计（成交量）
type statsData struct {
	Vol      string `json:"vol"`
	VolValue string `json:"volValue"`
}

// placeOrderData 下单响应
type placeOrderData struct {
	OrderID string `json:"orderId"`
}

// orderData 订单详情
type orderData struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	DealSize   string `json:"dealSize"`
	IsActive   bool   `json:"isActive"`
	CancelExist bool  `json:"cancelExist"`
}

// cancelData 撤单响应
type cancelData struct {
	CancelledOrderIDs []string `json:"cancelledOrderIds"`
}
