package race

import (
	"context"
	"crypto/rand"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/samber/lo"

	apperrors "github.com/koopa0/typetrial/pkg/errors"
	"github.com/koopa0/typetrial/pkg/logger"
)

// Engine 比賽引擎
//
// 所有房間與連線表只在 loop goroutine 內存取。
// 對外方法把工作送進佇列並等待完成；計時器與背景工作用 post 送回結果。
type Engine struct {
	cfg    Config
	collab Collaborators
	logger *slog.Logger

	rooms    map[string]*Room
	order    []string // 房間建立順序，配對時依此掃描
	registry *Registry
	seq      uint64

	now func() time.Time
	rng *mrand.Rand

	actions  chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
	bg       sync.WaitGroup
}

// Option 引擎選項
type Option func(*Engine)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand 替換亂數來源（測試用）
func WithRand(r *mrand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// Stats 引擎統計
type Stats struct {
	Rooms          int `json:"rooms"`
	RacingRooms    int `json:"racing_rooms"`
	ConnectedUsers int `json:"connected_users"`
}

// NewEngine 創建引擎並啟動 loop
func NewEngine(cfg Config, collab Collaborators, logger *slog.Logger, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		collab:   collab,
		logger:   logger.With("component", "race_engine"),
		rooms:    make(map[string]*Room),
		registry: NewRegistry(),
		now:      time.Now,
		rng:      mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64())),
		actions:  make(chan func(), 256),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.loop()

	return e
}

// Stop 停止引擎並關閉所有玩家通道
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		close(e.stopCh)
		<-e.loopDone
		e.bg.Wait()

		for user, reg := range e.registry.entries {
			_ = reg.channel.Close()
			delete(e.registry.entries, user)
		}
		e.logger.Info("比賽引擎已停止", "rooms", len(e.rooms))
	})
}

// Handle 把一則協定訊息交給對應的操作
func (e *Engine) Handle(user string, ch Channel, msg Inbound) {
	switch msg.Type {
	case MsgConnectPublic:
		e.ConnectPublic(user, ch)
	case MsgConnectPrivate:
		_ = e.ConnectPrivate(user, ch, msg.RoomID)
	case MsgCreatePrivate:
		_, _ = e.CreatePrivate(user, ch, msg.Solo)
	case MsgStart:
		_ = e.Start(user)
	case MsgType:
		_ = e.Type(user, msg.CharsTyped)
	case MsgPowerup:
		_ = e.UsePowerup(user, msg.PowerupType)
	default:
		e.logger.Debug("收到未知消息類型", "user", user, "type", msg.Type)
	}
}

// ConnectPublic 配對到公開房
func (e *Engine) ConnectPublic(user string, ch Channel) {
	e.do(func() {
		e.reply(user, ch, e.connectToPublicRoom(user, ch))
	})
}

// ConnectPrivate 以房間 ID 加入房間
func (e *Engine) ConnectPrivate(user string, ch Channel, roomID string) error {
	var err error
	if !e.do(func() {
		err = e.joinRoom(user, ch, roomID)
		e.reply(user, ch, err)
	}) {
		return apperrors.ErrEngineStopped
	}
	return err
}

// CreatePrivate 建立私人房（或單人房）並加入
func (e *Engine) CreatePrivate(user string, ch Channel, solo bool) (string, error) {
	var (
		roomID string
		err    error
	)
	if !e.do(func() {
		roomID, err = e.createPrivateRoom(user, ch, solo)
		e.reply(user, ch, err)
	}) {
		return "", apperrors.ErrEngineStopped
	}
	return roomID, err
}

// Start 房主開始私人房比賽
func (e *Engine) Start(user string) error {
	var err error
	if !e.do(func() {
		err = e.start(user)
		e.reply(user, nil, err)
	}) {
		return apperrors.ErrEngineStopped
	}
	return err
}

// Type 回報已輸入的正確字元數
func (e *Engine) Type(user string, charsTyped int) error {
	var err error
	if !e.do(func() {
		err = e.applyProgress(user, charsTyped)
		e.reply(user, nil, err)
	}) {
		return apperrors.ErrEngineStopped
	}
	return err
}

// UsePowerup 使用道具
func (e *Engine) UsePowerup(user string, powerup PowerupType) error {
	var err error
	if !e.do(func() {
		err = e.usePowerup(user, powerup)
		e.reply(user, nil, err)
	}) {
		return apperrors.ErrEngineStopped
	}
	return err
}

// Disconnect 玩家斷線
//
// ch 不為 nil 時只有在它仍是該使用者登記的通道才處理，
// 避免同一使用者被拒絕的第二條連線關閉時踢掉第一條。
func (e *Engine) Disconnect(user string, ch Channel) {
	e.do(func() {
		if ch != nil {
			registered, ok := e.registry.Channel(user)
			if !ok || registered != ch {
				return
			}
		}
		e.disconnect(user)
	})
}

// Room 取得房間快照
func (e *Engine) Room(roomID string) (RoomState, bool) {
	var (
		state RoomState
		ok    bool
	)
	e.do(func() {
		room, exists := e.rooms[roomID]
		if exists {
			state, ok = room.snapshot(), true
		}
	})
	return state, ok
}

// RoomOf 取得使用者目前所在房間
func (e *Engine) RoomOf(user string) (string, bool) {
	var (
		roomID string
		ok     bool
	)
	e.do(func() {
		roomID, ok = e.registry.RoomOf(user)
	})
	return roomID, ok
}

// Stats 統計資訊
func (e *Engine) Stats() Stats {
	var stats Stats
	e.do(func() {
		stats = Stats{
			Rooms: len(e.rooms),
			RacingRooms: lo.CountBy(lo.Values(e.rooms), func(r *Room) bool {
				return r.HasStarted
			}),
			ConnectedUsers: e.registry.Len(),
		}
	})
	return stats
}

// loop 引擎唯一的寫入者
func (e *Engine) loop() {
	defer close(e.loopDone)

	for {
		select {
		case fn := <-e.actions:
			e.run(fn)
		case <-e.stopCh:
			return
		}
	}
}

// run 執行單一操作，panic 只影響這個操作
func (e *Engine) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("引擎動作發生 panic", "panic", r)
		}
	}()
	fn()
}

// do 送出操作並等待完成，引擎已停止時回傳 false
func (e *Engine) do(fn func()) bool {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case e.actions <- wrapped:
	case <-e.loopDone:
		return false
	}

	select {
	case <-done:
		return true
	case <-e.loopDone:
		return false
	}
}

// post 送出操作但不等待。不可在 loop 內呼叫。
func (e *Engine) post(fn func()) {
	select {
	case e.actions <- fn:
	case <-e.loopDone:
	}
}

// schedule 延遲執行房間操作
//
// 計時器只記住房間 ID 與序號，觸發時重新查詢，房間已移除就略過。
func (e *Engine) schedule(d time.Duration, room *Room, fn func(*Room)) {
	id, seq := room.ID, room.seq
	time.AfterFunc(d, func() {
		e.post(func() {
			if r := e.lookup(id, seq); r != nil {
				fn(r)
			}
		})
	})
}

// background 在 loop 外呼叫外部協作者
func (e *Engine) background(roomID string, fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(logger.WithRoomID(e.ctx, roomID), e.cfg.CollaboratorTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// lookup 依 ID 與序號取得仍存在的房間
func (e *Engine) lookup(id string, seq uint64) *Room {
	room, ok := e.rooms[id]
	if !ok || room.seq != seq {
		return nil
	}
	return room
}

// roomOf 取得使用者所在的房間
func (e *Engine) roomOf(user string) (*Room, error) {
	roomID, ok := e.registry.RoomOf(user)
	if !ok {
		return nil, apperrors.ErrNotInRoom
	}
	room, ok := e.rooms[roomID]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	return room, nil
}

// newRoomID 產生不與任何存活房間重複的 ID
func (e *Engine) newRoomID() string {
	for {
		id := generateRoomCode()
		if _, taken := e.rooms[id]; !taken {
			return id
		}
	}
}

// generateRoomCode 生成簡短的房間碼
func generateRoomCode() string {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間作為隨機源
		n := time.Now().UnixNano()
		for i := range b {
			b[i] = byte(n >> (8 * i))
		}
	}
	for i := range b {
		b[i] = chars[int(b[i])%len(chars)]
	}
	return string(b)
}
