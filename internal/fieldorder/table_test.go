package fieldorder

import (
	"sync"
	"testing"
	"time"

	"github.com/fieldbot/gofield/internal/domain"
)

func armedEntry(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		OrderID:         id,
		Symbol:          "BTC/USDT",
		Side:            domain.SideBuy,
		Role:            domain.RoleEntry,
		RequestedPrice:  100,
		RequestedAmount: 1,
		Status:          domain.OrderStatusArmed,
		CreatedAt:       createdAt,
	}
}

func TestInsertDuplicate(t *testing.T) {
	table := NewOrderTable()
	now := time.Now()

	if err := table.Insert(armedEntry("1000", now)); err != nil {
		t.Fatalf("首次插入失败: %v", err)
	}
	if err := table.Insert(armedEntry("1000", now)); err != ErrDuplicateOrder {
		t.Fatalf("重复插入应返回 ErrDuplicateOrder，得到 %v", err)
	}
}

// 终态订单拒绝任何迁移
func TestTerminalIsImmutable(t *testing.T) {
	table := NewOrderTable()
	now := time.Now()
	_ = table.Insert(armedEntry("1000", now))

	if _, err := table.Transition("1000", domain.OrderStatusActivated, 1, now); err != nil {
		t.Fatalf("armed → activated 应成功: %v", err)
	}
	if _, err := table.Transition("1000", domain.OrderStatusRetracted, 0, now); err != ErrTerminalOrder {
		t.Fatalf("activated → retracted 应被拒绝，得到 %v", err)
	}
	if _, err := table.Transition("1000", domain.OrderStatusArmed, 0, now); err != ErrTerminalOrder {
		t.Fatalf("终态回退应被拒绝，得到 %v", err)
	}
}

// 成交数量缺省时回填委托数量
func TestTransitionFilledAmountDefault(t *testing.T) {
	table := NewOrderTable()
	now := time.Now()
	_ = table.Insert(armedEntry("1000", now))

	updated, err := table.Transition("1000", domain.OrderStatusActivated, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if updated.FilledAmount != updated.RequestedAmount {
		t.Fatalf("成交数量应回填为委托数量: %.4f != %.4f", updated.FilledAmount, updated.RequestedAmount)
	}
}

// Get 返回副本：外部修改不影响表内状态
func TestGetReturnsCopy(t *testing.T) {
	table := NewOrderTable()
	_ = table.Insert(armedEntry("1000", time.Now()))

	o, _ := table.Get("1000")
	o.Status = domain.OrderStatusRetracted

	again, _ := table.Get("1000")
	if again.Status != domain.OrderStatusArmed {
		t.Fatal("外部修改副本不应影响表内订单")
	}
}

func TestSnapshotOrdering(t *testing.T) {
	table := NewOrderTable()
	base := time.Unix(1700000000, 0)
	_ = table.Insert(armedEntry("1002", base.Add(2*time.Second)))
	_ = table.Insert(armedEntry("1000", base))
	_ = table.Insert(armedEntry("1001", base.Add(time.Second)))

	snap := table.Snapshot()
	want := []string{"1000", "1001", "1002"}
	for i, id := range want {
		if snap[i].OrderID != id {
			t.Fatalf("第 %d 位期望 %s，得到 %s", i, id, snap[i].OrderID)
		}
	}
}

// 并发迁移同一订单：恰好一个成功，无状态破坏
func TestConcurrentTransitions(t *testing.T) {
	table := NewOrderTable()
	now := time.Now()
	_ = table.Insert(armedEntry("1000", now))

	var wg sync.WaitGroup
	successes := make(chan domain.OrderStatus, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := table.Transition("1000", domain.OrderStatusActivated, 1, now); err == nil {
				successes <- domain.OrderStatusActivated
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := table.Transition("1000", domain.OrderStatusRetracted, 0, now); err == nil {
				successes <- domain.OrderStatusRetracted
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Fatalf("并发迁移应恰好一次成功，实际 %d 次", count)
	}

	final, _ := table.Get("1000")
	if !final.IsTerminal() {
		t.Fatalf("最终状态应为终态，得到 %s", final.Status)
	}
}

func TestExitsOfSortedByTier(t *testing.T) {
	table := NewOrderTable()
	now := time.Now()
	for i, id := range []string{"2002", "2000", "2001"} {
		o := armedEntry(id, now)
		o.Role = domain.RoleExit
		o.Side = domain.SideSell
		o.EntryOrderID = "1000"
		o.Tier = []int{2, 0, 1}[i]
		_ = table.Insert(o)
	}

	exits := table.ExitsOf("1000")
	if len(exits) != 3 {
		t.Fatalf("期望 3 个 exit，得到 %d", len(exits))
	}
	for i, o := range exits {
		if o.Tier != i {
			t.Fatalf("exit 应按层级排序，第 %d 位层级为 %d", i, o.Tier)
		}
	}
}
