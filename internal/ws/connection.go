package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/typetrial/internal/limiter"
	"github.com/koopa0/typetrial/internal/race"
	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

var (
	errConnectionClosed = errors.New("連接已關閉")
	errSendBufferFull   = errors.New("發送緩衝已滿")
)

// Connection 一條 WebSocket 連接，實作 race.Channel
type Connection struct {
	user    string
	conn    *websocket.Conn
	hub     *Hub
	limiter *limiter.TokenBucket

	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newConnection(hub *Hub, user string, conn *websocket.Conn) *Connection {
	return &Connection{
		user:    user,
		conn:    conn,
		hub:     hub,
		limiter: limiter.NewTokenBucket(hub.cfg.RateCapacity, hub.cfg.RateRefill),
		send:    make(chan []byte, hub.cfg.SendBuffer),
	}
}

// Send 非阻塞地放入發送緩衝，緩衝滿或已關閉時回傳錯誤
func (c *Connection) Send(msg race.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close 關閉發送緩衝，writePump 送出 close frame 後斷開
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// readPump 讀取客戶端消息
//
// 超過 PongWait 沒有收到任何資料（包括 Pong）就斷線。
// 結束時通知引擎，引擎只在這仍是該使用者登記的連線時處理。
func (c *Connection) readPump() {
	logger := c.hub.logger.With("user", c.user)
	defer func() {
		c.hub.engine.Disconnect(c.user, c)
		c.hub.unregister(c)
		_ = c.Close()
		_ = c.conn.Close()
		logger.Info("WebSocket 連接關閉")
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket 讀取錯誤", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			logger.Debug("消息頻率超過限制")
			_ = c.Send(race.ErrorMessage(apperrors.MessageOf(apperrors.ErrRateLimited)))
			continue
		}

		msg, err := race.DecodeInbound(data)
		if err != nil {
			logger.Debug("解析客戶端消息失敗", "error", err)
			_ = c.Send(race.ErrorMessage(apperrors.MessageOf(err)))
			continue
		}

		c.hub.engine.Handle(c.user, c, msg)
	}
}

// writePump 寫入消息到客戶端並定時 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if !ok {
				c.writeClose()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for range n {
				queued, ok := <-c.send
				if !ok {
					c.writeClose()
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					c.hub.logger.Warn("寫入消息失敗", "user", c.user, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeClose 發送緩衝已關閉，送出 close frame
func (c *Connection) writeClose() {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
