package sigchan

// Chan 非阻塞信号 channel：只通知事件发生，不传递数据。
// 缓冲满时信号被合并（多次 Emit 至少触发一次消费）。
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号；channel 已满时直接丢弃
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回用于 select 的只读 channel
func (c *Chan) C() <-chan struct{} {
	return c.c
}
