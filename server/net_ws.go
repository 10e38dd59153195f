package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn WebSocket 连接：一帧即一条消息，快照以文本帧发出
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

func NewWSConn(ws *websocket.Conn, cfg Config) *WSConn {
	ws.SetReadLimit(maxLineSize)
	return &WSConn{
		ws:           ws,
		writeTimeout: cfg.WriteTimeout(),
		idleTimeout:  cfg.IdleTimeout(),
	}
}

// ReadMessage 读取下一帧；对端正常关闭时返回 io.EOF
func (c *WSConn) ReadMessage() ([]byte, error) {
	if c.idleTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return payload, nil
}

func (c *WSConn) WriteMessage(b []byte) error {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *WSConn) Close() error { return c.ws.Close() }

func (c *WSConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：升级后交给与 TCP 相同的连接处理流程
func (e *Engine) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !e.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer e.conns.Done()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	e.serveConn(r.Context(), NewWSConn(ws, e.cfg))
}
