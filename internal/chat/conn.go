package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ConnConfig struct {
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
}

// wsConn adapts a gorilla connection to Conn. It keeps the peer alive with
// pings; a peer that stops answering within PongWait fails ReadFrame.
type wsConn struct {
	ws        *websocket.Conn
	cfg       ConnConfig
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, cfg ConnConfig) *wsConn {
	c := &wsConn{ws: ws, cfg: cfg, done: make(chan struct{})}
	if cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	go c.pingLoop()
	return c
}

const minPingPeriod = 10 * time.Millisecond

// pingPeriod keeps pings inside the pong window. The ticker needs a
// positive period.
func pingPeriod(pongWait time.Duration) time.Duration {
	return max(pongWait*9/10, minPingPeriod)
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod(c.cfg.PongWait))
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	return data, nil
}

func (c *wsConn) WriteFrame(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame with code before dropping the socket.
func (c *wsConn) CloseWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		err = c.ws.Close()
	})
	return err
}
