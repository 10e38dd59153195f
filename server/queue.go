package server

import (
	"errors"

	"github.com/sasha-s/go-deadlock"
)

// ErrQueueFull 入站队列已达上限（仅对位置更新生效）
var ErrQueueFull = errors.New("intent queue full")

// IntentQueue 所有连接共享的入站意图队列（多生产者、单消费者）。
// 锁只在追加与整体取出时持有，不跨 I/O。
type IntentQueue struct {
	mu      deadlock.Mutex
	pending []Intent
	updates int
	limit   int // 位置更新的排队上限，0 表示不限
}

// NewIntentQueue limit 为 0 时不限制长度
func NewIntentQueue(limit int) *IntentQueue {
	return &IntentQueue{limit: limit}
}

// Enqueue 追加到队尾。
// 队列满时只拒绝 UpdatePlayerPosition，加入/离开总是接受，保证玩家生命周期完整。
func (q *IntentQueue) Enqueue(in Intent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := in.(UpdatePlayerPosition); ok {
		if q.limit > 0 && q.updates >= q.limit {
			return ErrQueueFull
		}
		q.updates++
	}
	q.pending = append(q.pending, in)
	return nil
}

// DrainAll 原子地取出当前全部意图并清空队列；取出期间新入队的留到下一次
func (q *IntentQueue) DrainAll() []Intent {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	q.updates = 0
	q.mu.Unlock()
	return out
}

// Len 当前排队数量
func (q *IntentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
