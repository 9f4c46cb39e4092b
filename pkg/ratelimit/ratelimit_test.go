package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestSlidingWindowAllow(t *testing.T) {
	sw := NewSlidingWindow(3, time.Second)

	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Fatalf("第 %d 次请求应放行", i+1)
		}
	}
	if sw.Allow() {
		t.Fatal("超出配额的请求应被拒绝")
	}
	if sw.GetRemaining() != 0 {
		t.Fatalf("剩余配额应为 0，得到 %d", sw.GetRemaining())
	}
}

func TestSlidingWindowRecovers(t *testing.T) {
	sw := NewSlidingWindow(1, 50*time.Millisecond)

	if !sw.Allow() {
		t.Fatal("首个请求应放行")
	}
	if sw.Allow() {
		t.Fatal("窗口内第二个请求应被拒绝")
	}

	time.Sleep(60 * time.Millisecond)
	if !sw.Allow() {
		t.Fatal("窗口滑过后应恢复配额")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	_ = sw.Allow() // 占满配额

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sw.Wait(ctx); err == nil {
		t.Fatal("配额耗尽且 ctx 超时，Wait 应返回错误")
	}
}

func TestManagerFallback(t *testing.T) {
	m := NewManager()

	if m.GetLimiter("public:markets") == m.GetLimiter("nonexistent") {
		t.Fatal("已注册端点不应落到兜底限速器")
	}
	if m.GetLimiter("a") != m.GetLimiter("b") {
		t.Fatal("未注册端点应共享兜底限速器")
	}
	if !m.Allow("trade:order:post") {
		t.Fatal("首个请求应放行")
	}
}
