// Package channel 提供容量可调的缓冲通道，事件广播的订阅缓冲用.
package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TunableConfig 通道容量配置。
// Min == Max 时容量固定，Tune 永不调整.
type TunableConfig struct {
	InitialSize  int           `json:"initial_size"`
	MinSize      int           `json:"min_size"`
	MaxSize      int           `json:"max_size"`
	GrowFactor   float64       `json:"grow_factor"`
	ShrinkFactor float64       `json:"shrink_factor"`
	SampleWindow time.Duration `json:"sample_window"`
}

// DefaultTunableConfig 返回默认配置.
func DefaultTunableConfig() TunableConfig {
	return TunableConfig{
		InitialSize:  64,
		MinSize:      16,
		MaxSize:      4096,
		GrowFactor:   2.0,
		ShrinkFactor: 0.5,
		SampleWindow: 10 * time.Second,
	}
}

// TunableChannel 容量可在运行期调整的缓冲通道。
// Resize 只在 Tune 内发生；持有 Chan() 返回值做 select 的调用方
// 必须使用固定容量配置（Min == Max），否则换通道后会读不到新事件.
type TunableChannel[T any] struct {
	config TunableConfig
	mu     sync.RWMutex
	ch     chan T
	size   int
	closed atomic.Bool

	sends    atomic.Int64
	receives atomic.Int64
	blocks   atomic.Int64
	lastTune time.Time
}

// NewTunableChannel 创建通道，初始容量至少为 1.
func NewTunableChannel[T any](config TunableConfig) *TunableChannel[T] {
	if config.InitialSize < 1 {
		config.InitialSize = 1
	}
	return &TunableChannel[T]{
		config:   config,
		ch:       make(chan T, config.InitialSize),
		size:     config.InitialSize,
		lastTune: time.Now(),
	}
}

// Send 发送一个值，缓冲满时阻塞到有空位或 ctx 取消.
func (tc *TunableChannel[T]) Send(ctx context.Context, v T) error {
	tc.sends.Add(1)

	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case ch <- v:
		return nil
	default:
	}

	tc.blocks.Add(1)
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive 接收一个值，通道空时阻塞到有值或 ctx 取消.
func (tc *TunableChannel[T]) Receive(ctx context.Context) (T, error) {
	tc.receives.Add(1)

	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TrySend 非阻塞发送，缓冲满返回 false.
func (tc *TunableChannel[T]) TrySend(v T) bool {
	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case ch <- v:
		tc.sends.Add(1)
		return true
	default:
		tc.blocks.Add(1)
		return false
	}
}

// TryReceive 非阻塞接收，通道空返回 false.
func (tc *TunableChannel[T]) TryReceive() (T, bool) {
	tc.mu.RLock()
	ch := tc.ch
	tc.mu.RUnlock()

	select {
	case v := <-ch:
		tc.receives.Add(1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Chan 返回底层通道，select 用.
func (tc *TunableChannel[T]) Chan() <-chan T {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ch
}

// Len 返回通道内当前元素数.
func (tc *TunableChannel[T]) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.ch)
}

// Cap 返回当前容量.
func (tc *TunableChannel[T]) Cap() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.size
}

// Tune 根据发送阻塞率与利用率调整容量，采样窗口内最多调一次.
func (tc *TunableChannel[T]) Tune() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.closed.Load() || time.Since(tc.lastTune) < tc.config.SampleWindow {
		return
	}

	blocks := tc.blocks.Swap(0)
	sends := tc.sends.Swap(0)
	if sends == 0 {
		return
	}

	blockRate := float64(blocks) / float64(sends)
	utilization := float64(len(tc.ch)) / float64(tc.size)

	newSize := tc.size
	if blockRate > 0.1 && tc.size < tc.config.MaxSize {
		newSize = int(float64(tc.size) * tc.config.GrowFactor)
		if newSize > tc.config.MaxSize {
			newSize = tc.config.MaxSize
		}
	}
	if utilization < 0.25 && blockRate < 0.01 && tc.size > tc.config.MinSize {
		newSize = int(float64(tc.size) * tc.config.ShrinkFactor)
		if newSize < tc.config.MinSize {
			newSize = tc.config.MinSize
		}
	}

	if newSize != tc.size {
		tc.resize(newSize)
	}
	tc.lastTune = time.Now()
}

// resize 换一条新容量的通道并搬运积压，缩容不低于积压量，不丢元素.
func (tc *TunableChannel[T]) resize(newSize int) {
	if backlog := len(tc.ch); newSize < backlog {
		newSize = backlog
	}

	newCh := make(chan T, newSize)
	for {
		select {
		case v := <-tc.ch:
			newCh <- v
		default:
			tc.ch = newCh
			tc.size = newSize
			return
		}
	}
}

// Stats 返回通道统计快照.
func (tc *TunableChannel[T]) Stats() TunableChannelStats {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return TunableChannelStats{
		Size:        tc.size,
		Length:      len(tc.ch),
		Sends:       tc.sends.Load(),
		Receives:    tc.receives.Load(),
		Blocks:      tc.blocks.Load(),
		Utilization: float64(len(tc.ch)) / float64(tc.size),
	}
}

// TunableChannelStats 通道统计.
type TunableChannelStats struct {
	Size        int     `json:"size"`
	Length      int     `json:"length"`
	Sends       int64   `json:"sends"`
	Receives    int64   `json:"receives"`
	Blocks      int64   `json:"blocks"`
	Utilization float64 `json:"utilization"`
}

// Close 关闭通道，幂等。关闭后 TrySend 会向已关闭通道发送导致 panic，
// 发布方需先从订阅表摘除再 Close.
func (tc *TunableChannel[T]) Close() {
	if tc.closed.Swap(true) {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	close(tc.ch)
}
