package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount          int64 // Tick 次数
	TotalTickNs        int64 // Tick 累计耗时（纳秒）
	IntentsApplied     int64 // 已应用的意图数
	ApplyErrors        int64 // 应用失败的意图数（如更新不存在的玩家）
	ParseFailures      int64 // 无法解析的入站消息
	QueueRejected      int64 // 因队列满被拒绝的位置更新
	RateLimited        int64 // 因限流被丢弃的位置更新
	SnapshotsPublished int64 // 发布次数
	Deliveries         int64 // 投递给订阅者的快照总数
	LaggedDropped      int64 // 因订阅者积压被丢弃的快照
	ConnsAccepted      int64
	ConnsClosed        int64
	AcceptErrors       int64
}

func (m *Metrics) IncParseFailure()  { atomic.AddInt64(&m.ParseFailures, 1) }
func (m *Metrics) IncQueueRejected() { atomic.AddInt64(&m.QueueRejected, 1) }
func (m *Metrics) IncRateLimited()   { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) IncAccepted()      { atomic.AddInt64(&m.ConnsAccepted, 1) }
func (m *Metrics) IncClosed()        { atomic.AddInt64(&m.ConnsClosed, 1) }
func (m *Metrics) IncAcceptError()   { atomic.AddInt64(&m.AcceptErrors, 1) }
func (m *Metrics) AddLagged(n int64) { atomic.AddInt64(&m.LaggedDropped, n) }

func (m *Metrics) IncPublished(receivers int64) {
	atomic.AddInt64(&m.SnapshotsPublished, 1)
	atomic.AddInt64(&m.Deliveries, receivers)
}

func (m *Metrics) AddApplied(applied, failed int64) {
	atomic.AddInt64(&m.IntentsApplied, applied)
	atomic.AddInt64(&m.ApplyErrors, failed)
}

func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	accepted := atomic.LoadInt64(&m.ConnsAccepted)
	closed := atomic.LoadInt64(&m.ConnsClosed)
	return map[string]any{
		"tick_count":          tick,
		"avg_tick_ms":         avgMs,
		"intents_applied":     atomic.LoadInt64(&m.IntentsApplied),
		"apply_errors":        atomic.LoadInt64(&m.ApplyErrors),
		"parse_failures":      atomic.LoadInt64(&m.ParseFailures),
		"queue_rejected":      atomic.LoadInt64(&m.QueueRejected),
		"rate_limited":        atomic.LoadInt64(&m.RateLimited),
		"snapshots_published": atomic.LoadInt64(&m.SnapshotsPublished),
		"deliveries":          atomic.LoadInt64(&m.Deliveries),
		"lagged_dropped":      atomic.LoadInt64(&m.LaggedDropped),
		"conns_accepted":      accepted,
		"conns_closed":        closed,
		"conns_active":        accepted - closed,
		"accept_errors":       atomic.LoadInt64(&m.AcceptErrors),
	}
}
