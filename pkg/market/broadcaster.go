// 文件: pkg/market/broadcaster.go
// 行情扇出: 一条 Ticker 分发给 N 个订阅者
//
// 每个订阅者持有独立的带缓冲通道, 通道满即丢弃该条行情,
// 慢订阅者只丢自己的数据, 不拖累其他订阅者。

package market

import "sync"

const subscriberBuffer = 64

// Broadcaster 行情广播器
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]chan Ticker
	closed bool
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int64]chan Ticker)}
}

// Subscribe 订阅行情, 返回订阅号与只读通道
func (b *Broadcaster) Subscribe() (int64, <-chan Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Ticker, subscriberBuffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe 取消订阅并关闭通道
func (b *Broadcaster) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Broadcast 非阻塞分发, 通道满则丢弃
func (b *Broadcaster) Broadcast(t Ticker) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Close 关闭所有订阅通道, 此后 Subscribe 返回已关闭通道
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
