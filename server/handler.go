package server

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Conn 传输层无关的客户端连接：TCP 字节流与 WebSocket 都实现它
type Conn interface {
	// ReadMessage 阻塞读取下一条入站消息；对端正常关闭时返回 io.EOF
	ReadMessage() ([]byte, error)
	// WriteMessage 写出一条快照
	WriteMessage(b []byte) error
	Close() error
	RemoteAddr() string
}

// ServeConn 在当前协程中处理一个连接的完整生命周期：Connecting → Active → Closing → Closed。
// 返回时已入队 RemovePlayer 并关闭连接；引擎已在 Wait 中排空时直接关闭连接。
func (e *Engine) ServeConn(ctx context.Context, c Conn) {
	if !e.track() {
		_ = c.Close()
		return
	}
	defer e.conns.Done()
	e.serveConn(ctx, c)
}

// serveConn 调用方负责 track/Done
func (e *Engine) serveConn(ctx context.Context, c Conn) {
	e.metrics.IncAccepted()
	defer e.metrics.IncClosed()

	id := NewPlayerID()
	log := Log.With(zap.Stringer("player", id), zap.String("remote", c.RemoteAddr()))

	// Connecting → Active；队列上限只作用于位置更新，加入/离开不会被拒绝
	if err := e.queue.Enqueue(AddPlayer{ID: id}); err != nil {
		log.Errorf("enqueue join: %v", err)
	}
	sub := e.hub.Subscribe()
	log.Info("player connected")

	var limiter *rate.Limiter
	if e.cfg.MaxUpdatesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.MaxUpdatesPerSecond), e.cfg.UpdateBurst)
	}

	done := make(chan struct{})
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go readPump(c, inbound, readErr, done)

	err := e.pump(ctx, c, id, sub, limiter, inbound, readErr, log)

	// Closing：先退订再关闭连接，读协程随之退出
	close(done)
	sub.Close()
	_ = c.Close()
	if err := e.queue.Enqueue(RemovePlayer{ID: id}); err != nil {
		log.Errorf("enqueue leave: %v", err)
	}

	switch {
	case err == nil, errors.Is(err, io.EOF):
		log.Info("player disconnected (client closed connection)")
	case errors.Is(err, context.Canceled):
		log.Info("player disconnected (server shutting down)")
	default:
		log.Warnf("player disconnected: %v", err)
	}
}

// pump 同时等待入站消息与出站快照，两者没有优先级；任一方向出错即返回
func (e *Engine) pump(
	ctx context.Context,
	c Conn,
	id PlayerID,
	sub *Subscription,
	limiter *rate.Limiter,
	inbound <-chan []byte,
	readErr <-chan error,
	log *zap.SugaredLogger,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case msg := <-inbound:
			x, y, err := ParsePosition(msg)
			if err != nil {
				e.metrics.IncParseFailure()
				log.Warnf("failed to parse message %q: %v", msg, err)
				continue
			}
			if limiter != nil && !limiter.Allow() {
				e.metrics.IncRateLimited()
				log.Debug("update rate limited")
				continue
			}
			if err := e.queue.Enqueue(UpdatePlayerPosition{ID: id, X: x, Y: y}); err != nil {
				e.metrics.IncQueueRejected()
				log.Debugf("update dropped: %v", err)
				continue
			}
			log.Debugf("queued position (%g, %g)", x, y)

		case snap := <-sub.C():
			if missed := sub.TakeMissed(); missed > 0 {
				log.Debugf("lagged: skipped %d snapshots", missed)
			}
			if err := c.WriteMessage(snap.Data); err != nil {
				return err
			}
		}
	}
}

// readPump 独立协程，阻塞读取入站消息并交给 pump
func readPump(c Conn, inbound chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if len(msg) == 0 {
			continue
		}
		select {
		case inbound <- msg:
		case <-done:
			return
		}
	}
}
