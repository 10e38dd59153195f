// Package client 参考客户端：连接服务器，周期上报随机坐标并打印收到的快照
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"posync/server"
)

// readLimit 单次读取快照的缓冲大小
const readLimit = 64 << 10

type Options struct {
	Addr     string
	Count    int
	Interval time.Duration
	Framing  server.Framing
	Out      io.Writer
}

// Run 发送 Count 次随机坐标，每次发送后读取一个快照
func Run(ctx context.Context, opts Options) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintf(opts.Out, "Connected to the game server at %s\n", opts.Addr)

	// ctx 取消时关闭连接，打断阻塞的读写
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r := NewReader(conn, opts.Framing)
	for i := 0; i < opts.Count; i++ {
		x, y := rand.Float32()*10, rand.Float32()*10
		if err := Send(conn, opts.Framing, x, y); err != nil {
			return err
		}
		fmt.Fprintf(opts.Out, "Sent player position: [%g, %g]\n", x, y)

		_ = conn.SetReadDeadline(time.Now().Add(opts.Interval + 5*time.Second))
		snap, err := r.Next()
		if err != nil {
			return err
		}
		fmt.Fprintf(opts.Out, "Received game state: %s\n", snap)

		if i+1 < opts.Count {
			select {
			case <-time.After(opts.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Send 以 JSON [x,y] 上报坐标；lines 分帧时追加换行
func Send(w io.Writer, framing server.Framing, x, y float32) error {
	b, err := json.Marshal([2]float32{x, y})
	if err != nil {
		return err
	}
	if framing == server.FramingLines {
		b = append(b, '\n')
	}
	_, err = w.Write(b)
	return err
}

// Reader 按分帧方式读取快照
type Reader struct {
	framing server.Framing
	conn    io.Reader
	br      *bufio.Reader
}

func NewReader(conn io.Reader, framing server.Framing) *Reader {
	return &Reader{
		framing: framing,
		conn:    conn,
		br:      bufio.NewReaderSize(conn, readLimit),
	}
}

// Next 读取下一个快照。raw 分帧没有边界，一次读取即视为一个快照
func (r *Reader) Next() ([]byte, error) {
	if r.framing == server.FramingLines {
		line, err := r.br.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		return line[:len(line)-1], nil
	}
	buf := make([]byte, readLimit)
	n, err := r.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}
