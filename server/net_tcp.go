package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// maxLineSize lines 分帧下单条消息的最大长度
const maxLineSize = 64 << 10

var newline = []byte{'\n'}

// TCPConn 基于 TCP 字节流的客户端连接
type TCPConn struct {
	nc           net.Conn
	framing      Framing
	bufSize      int
	reader       *bufio.Reader
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

func NewTCPConn(nc net.Conn, cfg Config) *TCPConn {
	c := &TCPConn{
		nc:           nc,
		framing:      cfg.Framing,
		bufSize:      cfg.ReadBufferSize,
		writeTimeout: cfg.WriteTimeout(),
		idleTimeout:  cfg.IdleTimeout(),
	}
	if c.bufSize <= 0 {
		c.bufSize = 128
	}
	if c.framing == FramingLines {
		c.reader = bufio.NewReaderSize(nc, maxLineSize)
	}
	return c
}

// ReadMessage raw 模式下一次读取即一条消息（最多 bufSize 字节）；lines 模式读到 '\n' 为止
func (c *TCPConn) ReadMessage() ([]byte, error) {
	if c.idleTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	if c.reader != nil {
		return c.readLine()
	}
	buf := make([]byte, c.bufSize)
	n, err := c.nc.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (c *TCPConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("message exceeds %d bytes", maxLineSize)
	}
	if len(line) > 0 {
		// 空行原样返回空消息，由读协程跳过
		return bytes.Clone(bytes.TrimRight(line, "\r\n")), nil
	}
	return nil, err
}

// WriteMessage 写出一条快照；lines 模式追加换行
func (c *TCPConn) WriteMessage(b []byte) error {
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if c.framing == FramingLines {
		bufs := net.Buffers{b, newline}
		_, err := bufs.WriteTo(c.nc)
		return err
	}
	_, err := c.nc.Write(b)
	return err
}

func (c *TCPConn) Close() error { return c.nc.Close() }

func (c *TCPConn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

// Serve Accept 循环：每个连接一个独立协程。
// Accept 出错时记录并退避重试，只有监听关闭或 ctx 取消才返回。
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	Log.Infof("tcp listening on %s (framing=%s)", ln.Addr(), e.cfg.Framing)
	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			e.metrics.IncAcceptError()
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			Log.Warnf("accept error: %v; retrying in %s", err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		delay = 0
		if !e.track() {
			_ = nc.Close()
			continue
		}
		go func() {
			defer e.conns.Done()
			e.serveConn(ctx, NewTCPConn(nc, e.cfg))
		}()
	}
}
