// Package ws 把 WebSocket 連線接到比賽引擎。
//
// 每條連線對應一個使用者（由 ?username= 指定），
// 讀到的訊息經過限流與驗證後交給引擎；引擎送出的訊息經由緩衝 channel 寫回。
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/koopa0/typetrial/internal/race"
	"github.com/koopa0/typetrial/pkg/logger"
)

// Engine 連線需要的引擎操作
type Engine interface {
	Handle(user string, ch race.Channel, msg race.Inbound)
	Disconnect(user string, ch race.Channel)
}

// Config WebSocket 配置
type Config struct {
	// 每條連線的發送緩衝，滿了視為發送失敗
	SendBuffer int `yaml:"send_buffer" split_words:"true"`
	// 寫入超時
	WriteWait time.Duration `yaml:"write_wait" split_words:"true"`
	// 多久沒收到 Pong 視為斷線
	PongWait time.Duration `yaml:"pong_wait" split_words:"true"`
	// Ping 間隔，必須小於 PongWait
	PingPeriod time.Duration `yaml:"ping_period" split_words:"true"`
	// 單則訊息上限（bytes）
	MaxMessageSize int64 `yaml:"max_message_size" split_words:"true"`
	// 限流：突發容量與每秒填充數
	RateCapacity int64 `yaml:"rate_capacity" split_words:"true"`
	RateRefill   int64 `yaml:"rate_refill" split_words:"true"`
	// 允許的 Origin，空白表示全部允許
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		RateCapacity:   30,
		RateRefill:     20,
	}
}

// Hub WebSocket 連接中心
//
// 房間與玩家的對應由引擎負責，Hub 只追蹤活著的連線以便關閉時一併斷開。
type Hub struct {
	engine   Engine
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	conns   map[*Connection]struct{}
	mu      sync.Mutex
	stopped bool
}

// NewHub 創建 WebSocket Hub
func NewHub(engine Engine, cfg Config, logger *slog.Logger) *Hub {
	hub := &Hub{
		engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "ws_hub"),
		conns:  make(map[*Connection]struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

func (hub *Hub) checkOrigin(r *http.Request) bool {
	if len(hub.cfg.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(hub.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeWS 處理 WebSocket 連接
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return
	}
	if username == race.BotName {
		http.Error(w, "reserved username", http.StatusBadRequest)
		return
	}

	ctx := logger.WithUserID(r.Context(), username)

	hub.mu.Lock()
	stopped := hub.stopped
	hub.mu.Unlock()
	if stopped {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.ErrorContext(ctx, "升級 WebSocket 失敗", "error", err)
		return
	}

	c := newConnection(hub, username, conn)
	if !hub.register(c) {
		_ = conn.Close()
		return
	}

	_ = c.Send(race.NewUserMessage(username))

	go c.writePump()
	go c.readPump()

	hub.logger.InfoContext(ctx, "WebSocket 連接建立", "remote", r.RemoteAddr)
}

// register 註冊連接，Hub 已停止時回傳 false
func (hub *Hub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.conns[c] = struct{}{}
	return true
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.conns, c)
}

// Count 目前連線數
func (hub *Hub) Count() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.conns)
}

// Stop 停止 Hub 並關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := lo.Keys(hub.conns)
	hub.conns = make(map[*Connection]struct{})
	hub.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
		_ = c.conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}
