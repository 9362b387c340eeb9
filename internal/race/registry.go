package race

// Channel 玩家的對外訊息通道
//
// Send 失敗視為玩家斷線；Close 由引擎在比賽超時時呼叫。
type Channel interface {
	Send(msg Outbound) error
	Close() error
}

// registration 一個使用者的連線登記
type registration struct {
	channel Channel
	roomID  string
}

// Registry 使用者 → 連線通道
//
// 只用來投遞訊息，房間狀態以 Room 為準。只由引擎 loop 存取，不加鎖。
type Registry struct {
	entries map[string]registration
}

// NewRegistry 創建連線表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register 登記使用者的通道與所在房間
func (r *Registry) Register(user string, ch Channel, roomID string) {
	r.entries[user] = registration{channel: ch, roomID: roomID}
}

// Unregister 移除使用者的登記
func (r *Registry) Unregister(user string) {
	delete(r.entries, user)
}

// Has 使用者是否已有連線
func (r *Registry) Has(user string) bool {
	_, ok := r.entries[user]
	return ok
}

// Channel 取得使用者的通道
func (r *Registry) Channel(user string) (Channel, bool) {
	reg, ok := r.entries[user]
	return reg.channel, ok
}

// RoomOf 取得使用者所在房間
func (r *Registry) RoomOf(user string) (string, bool) {
	reg, ok := r.entries[user]
	return reg.roomID, ok
}

// Len 已登記的使用者數
func (r *Registry) Len() int {
	return len(r.entries)
}
