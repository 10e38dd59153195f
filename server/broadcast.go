package server

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/sasha-s/go-deadlock"
)

// DefaultBacklog 每个订阅者最多积压的快照数
const DefaultBacklog = 10

// Snapshot 某个 Tick 结束时的世界状态序列化结果，产生后不再修改
type Snapshot struct {
	Tick   uint64
	Data   []byte
	Digest uint64 // xxhash(Data)，用于 ETag
}

func NewSnapshot(tick uint64, data []byte) Snapshot {
	return Snapshot{Tick: tick, Data: data, Digest: xxhash.Sum64(data)}
}

// Broadcaster 单生产者（Tick）/多消费者（连接）的快照分发器
type Broadcaster struct {
	mu      deadlock.RWMutex
	subs    map[*Subscription]struct{}
	backlog int
	metrics *Metrics
}

func NewBroadcaster(backlog int, metrics *Metrics) *Broadcaster {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Broadcaster{
		subs:    make(map[*Subscription]struct{}),
		backlog: backlog,
		metrics: metrics,
	}
}

// Subscription 一个订阅者的接收端，只能看到订阅之后发布的快照
type Subscription struct {
	b      *Broadcaster
	ch     chan Snapshot
	missed atomic.Uint64
	closed atomic.Bool
}

// Subscribe 注册新的订阅者
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{b: b, ch: make(chan Snapshot, b.backlog)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish 发给当前所有订阅者，返回送达数量。
// 没有订阅者时直接返回 0；订阅者积压满时丢弃它最旧的快照而不是阻塞 Tick。
func (b *Broadcaster) Publish(s Snapshot) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if dropped := sub.push(s); dropped > 0 {
			b.metrics.AddLagged(int64(dropped))
		}
	}
	b.metrics.IncPublished(int64(len(b.subs)))
	return len(b.subs)
}

// Subscribers 当前订阅者数量
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// push 由持有读锁的发布方调用；发布方唯一，所以循环一定结束
func (s *Subscription) push(snap Snapshot) int {
	dropped := 0
	for {
		select {
		case s.ch <- snap:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped++
			s.missed.Add(1)
		default:
		}
	}
}

// C 快照接收通道
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// TakeMissed 返回并清零自上次调用以来被丢弃的快照数
func (s *Subscription) TakeMissed() uint64 { return s.missed.Swap(0) }

// Close 取消订阅，可重复调用
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
}
