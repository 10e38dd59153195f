package server

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn 测试用连接：in 投递入站消息（关闭即 EOF），out 收集写出的快照
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case f.out <- cp:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickIntervalMs = 10
	cfg.Log.File = ""
	cfg.Log.Console = false
	return cfg
}

// serveFake 在后台运行 ServeConn，返回等待其结束的函数
func serveFake(t *testing.T, ctx context.Context, e *Engine, c *fakeConn) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.ServeConn(ctx, c)
	}()
	return func() {
		t.Helper()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection handler did not exit")
		}
	}
}

// startEngine 在 127.0.0.1:0 上启动完整引擎（Tick + Accept）
func startEngine(t *testing.T, mutate func(*Config)) (*Engine, string) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	e := NewEngine(cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	go e.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		e.Wait()
	})
	return e, ln.Addr().String()
}

func decode(t *testing.T, b []byte) map[PlayerID][2]float32 {
	t.Helper()
	m, err := DecodeSnapshot(b)
	require.NoError(t, err)
	return m
}
