package memory

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/internal/channel"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// defaultEventBuffer 单订阅者事件缓冲大小
const defaultEventBuffer = 64

// Broadcaster 有界非阻塞事件广播器。
// 每个订阅者持有独立缓冲通道；缓冲满时丢弃该订阅者的事件，
// 发布方永不阻塞。写入、去重、删除与反思完成都会发布事件.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[int]*channel.TunableChannel[types.Event]
	nextID  int
	closed  bool
	bufSize int
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewBroadcaster 创建广播器，bufSize <= 0 时使用默认缓冲.
func NewBroadcaster(bufSize int, logger *zap.Logger) *Broadcaster {
	if bufSize <= 0 {
		bufSize = defaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:    make(map[int]*channel.TunableChannel[types.Event]),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe 注册订阅者，返回事件通道与注销函数。
// 注销函数可安全重复调用；广播器关闭后返回已关闭的通道.
func (b *Broadcaster) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan types.Event)
		close(ch)
		return ch, func() {}
	}

	// 固定容量，不调用 Tune，保证 Chan() 返回的通道稳定
	tc := channel.NewTunableChannel[types.Event](channel.TunableConfig{
		InitialSize: b.bufSize,
		MinSize:     b.bufSize,
		MaxSize:     b.bufSize,
	})
	id := b.nextID
	b.nextID++
	b.subs[id] = tc

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// 仅当仍在表中时关闭，Close 已清空则跳过
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				sub.Close()
			}
		})
	}
	return tc.Chan(), cancel
}

// Publish 向所有订阅者非阻塞投递事件，慢订阅者丢弃.
func (b *Broadcaster) Publish(evt types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.TrySend(evt) {
			b.dropped.Add(1)
			b.logger.Debug("event dropped for slow subscriber",
				zap.String("type", string(evt.Type)),
				zap.String("namespace", evt.Namespace))
		}
	}
}

// Dropped 返回累计丢弃的事件数.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers 返回当前订阅者数量.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭广播器并断开所有订阅者.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.Close()
	}
}
