package domain

import "time"

// VolatilityCandidate 波动率扫描结果
// 每次扫描重新计算，不跨扫描保留身份
type VolatilityCandidate struct {
	Symbol        string
	VolatilityPct float64 // 窗口内单根K线振幅的算术平均（%）
	LastPrice     float64
	QuoteVolume   float64
	ObservedAt    time.Time
}
