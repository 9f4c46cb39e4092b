package domain

import "time"

// TradeRecord 成交记录（派生数据，append-only）
// 订单迁移到 activated 时生成一次；exit 成交时带有相对 entry 的利润百分比
type TradeRecord struct {
	OrderID   string
	Symbol    string
	Side      Side
	Role      Role
	Amount    float64
	Price     float64
	ProfitPct float64 // 仅 exit 成交有意义，entry 为 0
	Timestamp time.Time
}
