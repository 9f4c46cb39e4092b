package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	if cfg.Order.DiscountPct != 15.0 {
		t.Fatalf("默认折扣应为 15%%，得到 %.2f", cfg.Order.DiscountPct)
	}
	if cfg.Scanner.MinVolatilityPct != 5.0 {
		t.Fatalf("默认波动率阈值应为 5%%，得到 %.2f", cfg.Scanner.MinVolatilityPct)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Order.TierWeights = []float64{0.6, 0.3, 0.2} // 总和 1.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("权重总和超过 1.0 应报错")
	}

	cfg = Default()
	cfg.Order.TierWeights = []float64{0.5, 0.5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("层数与权重数不一致应报错")
	}

	cfg = Default()
	cfg.Order.ProfitTiers = []float64{5, 5, 15}
	if err := cfg.Validate(); err == nil {
		t.Fatal("利润层非严格递增应报错")
	}

	cfg = Default()
	cfg.Order.DiscountPct = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("折扣 100% 应报错")
	}
}

// 权重总和恰为 1.0 时允许浮点尾差
func TestValidateWeightsFloatTolerance(t *testing.T) {
	cfg := Default()
	cfg.Order.ProfitTiers = []float64{5, 10, 15}
	cfg.Order.TierWeights = []float64{0.1, 0.2, 0.7}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("总和 1.0 应通过: %v", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
scanner:
  min_volatility_pct: 8.0
  symbols: ["BTC/USDT"]
order:
  discount_pct: 20.0
log_level: debug
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Scanner.MinVolatilityPct != 8.0 {
		t.Fatalf("阈值未覆盖: %.2f", cfg.Scanner.MinVolatilityPct)
	}
	if cfg.Order.DiscountPct != 20.0 {
		t.Fatalf("折扣未覆盖: %.2f", cfg.Order.DiscountPct)
	}
	// 未出现的字段保留默认值
	if cfg.Scanner.WindowMinutes != 60 {
		t.Fatalf("缺省字段应保留默认值: %d", cfg.Scanner.WindowMinutes)
	}
	if len(cfg.Scanner.Symbols) != 1 || cfg.Scanner.Symbols[0] != "BTC/USDT" {
		t.Fatalf("symbols 未覆盖: %v", cfg.Scanner.Symbols)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("未知扩展名应报错")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("order:\n  discount_pct: -5\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("非法配置应在加载时报错")
	}
}
