package server

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Run 启动 Tick 循环（单协程推进世界），直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	interval := e.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	Log.Infof("tick loop started: interval=%s", interval)

	for {
		select {
		case <-ctx.Done():
			Log.Info("tick loop stopped")
			return ctx.Err()
		case <-ticker.C:
			// 核心循环：取出意图 → 更新世界 → 序列化 → 广播
			e.step()
		case <-e.reload:
			if next := e.TickInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				Log.Infof("tick interval changed: %s", interval)
			}
		}
	}
}

// step 执行一次 Tick，只能由 Tick 协程调用
func (e *Engine) step() Snapshot {
	start := time.Now()
	seq := e.tickSeq.Add(1)

	intents := e.queue.DrainAll()
	err := e.world.ApplyIntents(intents)
	failed := len(multierr.Errors(err))
	e.metrics.AddApplied(int64(len(intents)-failed), int64(failed))
	if err != nil {
		Log.Warnf("tick %d: %d of %d intents failed: %v", seq, failed, len(intents), err)
	}

	snap := NewSnapshot(seq, e.world.Serialize())
	e.latest.Store(&snap)
	n := e.hub.Publish(snap)
	Log.Debugf("tick %d: %d clients received %s", seq, n, snap.Data)

	e.metrics.AddTick(time.Since(start).Nanoseconds())
	return snap
}
