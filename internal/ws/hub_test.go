package ws_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/typetrial/internal/race"
	"github.com/koopa0/typetrial/internal/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeEngine 記錄收到的訊息，並回一個快照讓客戶端看得到
type fakeEngine struct {
	mu           sync.Mutex
	handled      []race.Inbound
	disconnected []string
}

func (e *fakeEngine) Handle(user string, ch race.Channel, msg race.Inbound) {
	e.mu.Lock()
	e.handled = append(e.handled, msg)
	e.mu.Unlock()

	if msg.Type == race.MsgStart {
		// 連續推送後立刻關閉，模擬比賽逾時收尾
		for range closeBurst {
			_ = ch.Send(race.RaceDataMessage(race.RoomState{RoomID: "ROOM01", Users: []string{user}}))
		}
		_ = ch.Close()
		return
	}

	_ = ch.Send(race.RaceDataMessage(race.RoomState{RoomID: "ROOM01", Users: []string{user}}))
}

const closeBurst = 20

func (e *fakeEngine) Disconnect(user string, ch race.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, user)
}

func (e *fakeEngine) handledCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handled)
}

func (e *fakeEngine) disconnectedUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.disconnected...)
}

func newTestServer(t *testing.T, cfg ws.Config) (*ws.Hub, *fakeEngine, *httptest.Server) {
	t.Helper()
	engine := &fakeEngine{}
	hub := ws.NewHub(engine, cfg, testLogger())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})
	return hub, engine, server
}

func dial(t *testing.T, server *httptest.Server, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readOutbound(t *testing.T, conn *websocket.Conn) race.Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg race.Outbound
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// TestHub_Connect 連線後收到 new_user，訊息交給引擎
func TestHub_Connect(t *testing.T) {
	hub, engine, server := newTestServer(t, ws.DefaultConfig())
	conn := dial(t, server, "alice")

	msg := readOutbound(t, conn)
	assert.Equal(t, race.MsgNewUser, msg.Type)
	assert.Equal(t, "alice", msg.Username)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect_public"}`)))
	msg = readOutbound(t, conn)
	assert.Equal(t, race.MsgRaceData, msg.Type)
	require.NotNil(t, msg.RaceInfo)
	assert.Equal(t, []string{"alice"}, msg.RaceInfo.Users)
	assert.Equal(t, 1, engine.handledCount())
	assert.Equal(t, 1, hub.Count())
}

// TestHub_InvalidMessage 無法解析或驗證失敗的訊息回覆錯誤
func TestHub_InvalidMessage(t *testing.T) {
	_, engine, server := newTestServer(t, ws.DefaultConfig())
	conn := dial(t, server, "alice")
	readOutbound(t, conn)

	for _, payload := range []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"connect_private"}`,
		`{"type":"type","charsTyped":-1}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
		msg := readOutbound(t, conn)
		assert.Equal(t, race.MsgError, msg.Type, payload)
		assert.Equal(t, "invalid message", msg.Message, payload)
	}
	assert.Equal(t, 0, engine.handledCount())
}

// TestHub_RateLimit 超過限流的訊息被丟棄
func TestHub_RateLimit(t *testing.T) {
	cfg := ws.DefaultConfig()
	cfg.RateCapacity = 1
	cfg.RateRefill = 1
	_, engine, server := newTestServer(t, cfg)
	conn := dial(t, server, "alice")
	readOutbound(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"type","charsTyped":1}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"type","charsTyped":2}`)))

	assert.Equal(t, race.MsgRaceData, readOutbound(t, conn).Type)
	msg := readOutbound(t, conn)
	assert.Equal(t, race.MsgError, msg.Type)
	assert.Equal(t, "too many messages", msg.Message)
	assert.Equal(t, 1, engine.handledCount())
}

// TestHub_Disconnect 客戶端關閉後通知引擎
func TestHub_Disconnect(t *testing.T) {
	hub, engine, server := newTestServer(t, ws.DefaultConfig())
	conn := dial(t, server, "alice")
	readOutbound(t, conn)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(engine.disconnectedUsers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, engine.disconnectedUsers())
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestHub_RejectsBadUsername 缺少或保留的使用者名稱
func TestHub_RejectsBadUsername(t *testing.T) {
	_, _, server := newTestServer(t, ws.DefaultConfig())

	for _, query := range []string{"", "?username=" + race.BotName} {
		resp, err := http.Get(server.URL + "/" + query)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

// TestHub_Stop 停止時關閉所有連線
func TestHub_Stop(t *testing.T) {
	hub, _, server := newTestServer(t, ws.DefaultConfig())
	conn := dial(t, server, "alice")
	readOutbound(t, conn)

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.Count())
}

// TestHub_CloseAfterQueuedMessages 緩衝中的訊息送完後收到正常的 close frame
func TestHub_CloseAfterQueuedMessages(t *testing.T) {
	_, _, server := newTestServer(t, ws.DefaultConfig())
	conn := dial(t, server, "alice")
	readOutbound(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)))
	for range closeBurst {
		msg := readOutbound(t, conn)
		assert.Equal(t, race.MsgRaceData, msg.Type)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}
