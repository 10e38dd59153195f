package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	return c
}

// waitForState 连续解析无分帧的 JSON 快照，直到 match 返回 true
func waitForState(t *testing.T, dec *json.Decoder, match func(map[string][2]float32) bool) {
	t.Helper()
	for {
		var state map[string][2]float32
		require.NoError(t, dec.Decode(&state))
		if match(state) {
			return
		}
	}
}

func TestTCPPositionUpdate(t *testing.T) {
	_, addr := startEngine(t, nil)
	c := dial(t, addr)

	_, err := c.Write([]byte("[1.5,-2.0]"))
	require.NoError(t, err)

	waitForState(t, json.NewDecoder(c), func(state map[string][2]float32) bool {
		if len(state) != 1 {
			return false
		}
		for id, pos := range state {
			_, err := parsePlayerID(id)
			require.NoError(t, err)
			return pos == [2]float32{1.5, -2}
		}
		return false
	})
}

func TestTCPLinesFraming(t *testing.T) {
	_, addr := startEngine(t, func(cfg *Config) { cfg.Framing = FramingLines })
	c := dial(t, addr)

	_, err := c.Write([]byte("[1,2]\n\n[3,4]\n"))
	require.NoError(t, err)

	r := bufio.NewReader(c)
	for {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		state := decode(t, line[:len(line)-1])
		if len(state) == 1 {
			for _, pos := range state {
				if pos == [2]float32{3, 4} {
					return
				}
			}
		}
	}
}

func TestTCPDisconnectRemovesPlayer(t *testing.T) {
	e, addr := startEngine(t, nil)
	observer := dial(t, addr)
	dec := json.NewDecoder(observer)
	waitForState(t, dec, func(state map[string][2]float32) bool { return len(state) == 1 })

	leaver, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, leaver.Close())

	require.Eventually(t, func() bool {
		return e.Metrics().Snapshot()["conns_closed"] == int64(1)
	}, 2*time.Second, time.Millisecond)
	closedAt := e.TickSeq()
	require.Eventually(t, func() bool {
		snap := e.Latest()
		return snap != nil && snap.Tick > closedAt
	}, 2*time.Second, time.Millisecond)

	assert.Len(t, decode(t, e.Latest().Data), 1)
}

func TestTCPMalformedPayloadKeepsConnection(t *testing.T) {
	e, addr := startEngine(t, nil)
	c := dial(t, addr)
	dec := json.NewDecoder(c)

	_, err := c.Write([]byte("not json"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return e.Metrics().Snapshot()["parse_failures"] == int64(1)
	}, 2*time.Second, time.Millisecond)

	_, err = c.Write([]byte("[7,8]"))
	require.NoError(t, err)
	waitForState(t, dec, func(state map[string][2]float32) bool {
		for _, pos := range state {
			return pos == [2]float32{7, 8}
		}
		return false
	})
}

func TestTCPTwoClients(t *testing.T) {
	_, addr := startEngine(t, nil)
	a := dial(t, addr)
	b := dial(t, addr)

	_, err := a.Write([]byte("[1,1]"))
	require.NoError(t, err)
	_, err = b.Write([]byte("[2,2]"))
	require.NoError(t, err)

	both := func(state map[string][2]float32) bool {
		var seenA, seenB bool
		for _, pos := range state {
			seenA = seenA || pos == [2]float32{1, 1}
			seenB = seenB || pos == [2]float32{2, 2}
		}
		return len(state) == 2 && seenA && seenB
	}
	waitForState(t, json.NewDecoder(a), both)
	waitForState(t, json.NewDecoder(b), both)
}

func TestTCPIdleTimeout(t *testing.T) {
	e, addr := startEngine(t, func(cfg *Config) { cfg.IdleTimeoutMs = 30 })
	dial(t, addr)

	require.Eventually(t, func() bool {
		return e.Metrics().Snapshot()["conns_closed"] == int64(1)
	}, 2*time.Second, 5*time.Millisecond)
}

// flakyListener 前 failures 次 Accept 返回错误，之后交出 conns 中的连接
type flakyListener struct {
	mu       sync.Mutex
	failures int
	conns    chan net.Conn
	closed   chan struct{}
	once     sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, errors.New("accept: too many open files")
	}
	l.mu.Unlock()
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestAcceptLoopSurvivesErrors(t *testing.T) {
	e := NewEngine(testConfig())
	ln := &flakyListener{failures: 2, conns: make(chan net.Conn, 1), closed: make(chan struct{})}
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	ln.conns <- serverSide

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		return e.Metrics().Snapshot()["conns_accepted"] == int64(1)
	}, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 2, e.Metrics().Snapshot()["accept_errors"])

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("accept loop did not stop")
	}
	e.Wait()
}

func TestServeReturnsOnListenerClose(t *testing.T) {
	e := NewEngine(testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- e.Serve(context.Background(), ln) }()
	require.NoError(t, ln.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("accept loop did not stop")
	}
}

func TestWaitCoversAcceptedConns(t *testing.T) {
	e := NewEngine(testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	go e.Serve(ctx, ln)

	const n = 5
	for i := 0; i < n; i++ {
		nc, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer nc.Close()
	}
	require.Eventually(t, func() bool {
		return e.Metrics().Snapshot()["conns_accepted"] == int64(n)
	}, 2*time.Second, time.Millisecond)

	cancel()
	e.Wait()

	// Wait 返回时所有处理协程都已退出
	m := e.Metrics().Snapshot()
	assert.Equal(t, int64(n), m["conns_closed"])
	assert.Equal(t, 0, e.Broadcaster().Subscribers())
}
