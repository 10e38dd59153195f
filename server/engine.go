package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Engine 连接共享的核心：世界状态、入站队列、快照广播与指标。
// 世界状态只属于 Tick 协程，连接只能入队意图、订阅快照。
type Engine struct {
	cfg     Config
	world   *World
	queue   *IntentQueue
	hub     *Broadcaster
	metrics *Metrics

	interval atomic.Int64 // Tick 间隔（纳秒），可热更新
	reload   chan struct{}
	tickSeq  atomic.Uint64
	latest   atomic.Pointer[Snapshot]

	connMu   deadlock.Mutex
	draining bool
	conns    sync.WaitGroup
}

// NewEngine 创建引擎，Tick 循环需调用 Run 启动
func NewEngine(cfg Config) *Engine {
	metrics := &Metrics{}
	e := &Engine{
		cfg:     cfg,
		world:   NewWorld(),
		queue:   NewIntentQueue(cfg.MaxQueuedUpdates),
		hub:     NewBroadcaster(cfg.SubscriberBacklog, metrics),
		metrics: metrics,
		reload:  make(chan struct{}, 1),
	}
	interval := cfg.TickInterval()
	if interval <= 0 {
		interval = DefaultConfig().TickInterval()
	}
	e.interval.Store(int64(interval))
	return e
}

func (e *Engine) Config() Config              { return e.cfg }
func (e *Engine) Queue() *IntentQueue         { return e.queue }
func (e *Engine) Broadcaster() *Broadcaster   { return e.hub }
func (e *Engine) Metrics() *Metrics           { return e.metrics }
func (e *Engine) TickSeq() uint64             { return e.tickSeq.Load() }
func (e *Engine) TickInterval() time.Duration { return time.Duration(e.interval.Load()) }

// SetTickInterval 热更新 Tick 间隔，Run 立即重置计时器；非正值忽略
func (e *Engine) SetTickInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	e.interval.Store(int64(d))
	select {
	case e.reload <- struct{}{}:
	default:
	}
}

// Latest 最近一次发布的快照，首个 Tick 之前为 nil
func (e *Engine) Latest() *Snapshot {
	return e.latest.Load()
}

// track 在启动连接处理协程之前登记；Wait 开始后返回 false，连接应直接关闭
func (e *Engine) track() bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.draining {
		return false
	}
	e.conns.Add(1)
	return true
}

// Wait 拒绝新连接并等待所有连接处理协程退出
func (e *Engine) Wait() {
	e.connMu.Lock()
	e.draining = true
	e.connMu.Unlock()
	e.conns.Wait()
}
