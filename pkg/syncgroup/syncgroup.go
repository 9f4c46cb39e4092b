package syncgroup

import "sync"

// Group sync.WaitGroup 的薄包装：Go 自动配对 Add/Done，
// 避免手写计数遗漏
type Group struct {
	wg sync.WaitGroup
}

// New 创建 Group
func New() *Group {
	return &Group{}
}

// Go 在新 goroutine 中运行 fn
func (g *Group) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait 等待全部 goroutine 退出
func (g *Group) Wait() {
	g.wg.Wait()
}
