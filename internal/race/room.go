package race

import (
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

// PowerupType 道具種類
type PowerupType string

const (
	PowerupKnockout  PowerupType = "knockout"
	PowerupDoubletap PowerupType = "doubletap"
	PowerupRumble    PowerupType = "rumble"
	PowerupWhiteout  PowerupType = "whiteout"
)

// powerups 掉落時均勻抽選
var powerups = []PowerupType{PowerupKnockout, PowerupDoubletap, PowerupRumble, PowerupWhiteout}

// effectDurations 道具效果持續時間
var effectDurations = map[PowerupType]time.Duration{
	PowerupKnockout:  1500 * time.Millisecond,
	PowerupDoubletap: 3000 * time.Millisecond,
	PowerupRumble:    5000 * time.Millisecond,
	PowerupWhiteout:  5000 * time.Millisecond,
}

// palette 玩家顏色，依序取第一個未使用的
var palette = []string{
	"red", "blue", "green", "orange", "purple",
	"pink", "yellow", "teal", "brown", "grey",
}

// BotName 單人房機器人的身分
const BotName = "Bot"

// defaultPassageLength 題目尚未載入時用於計算掉落機率
const defaultPassageLength = 100

// Participant 玩家在一場比賽中的狀態
type Participant struct {
	Color      string
	CharsTyped int
	WPM        int
	Finished   bool
	FinishTime time.Time
	Inventory  PowerupType // 空字串表示沒有道具
	JoinedTime time.Time
	Left       bool
	IsBot      bool
}

// Effect 道具效果（只帶結束時間，由前端負責過期顯示）
type Effect struct {
	PowerupType PowerupType
	User        string
	Target      string
	EndTime     time.Time
}

// pendingResult 完賽時比賽紀錄 ID 還沒回來，先暫存
type pendingResult struct {
	user   string
	userID int64
	wpm    int
	rank   int
}

// Room 一場比賽的權威狀態
//
// 只由引擎的 loop goroutine 讀寫。
type Room struct {
	ID       string
	IsPublic bool
	IsSolo   bool
	Owner    string

	HasStarted     bool
	CountdownStart time.Time
	RaceStart      time.Time

	Passage       string
	PassageID     int64
	PassageLoaded bool

	PersistedRaceID *int64

	Users         []string
	UserInfo      map[string]*Participant
	ActiveEffects []Effect

	seq            uint64
	pendingResults []pendingResult
	botWPM         int
	botProgress    float64
}

func newRoom(id string, seq uint64, isPublic, isSolo bool, owner string) *Room {
	return &Room{
		ID:       id,
		IsPublic: isPublic,
		IsSolo:   isSolo,
		Owner:    owner,
		UserInfo: make(map[string]*Participant),
		seq:      seq,
	}
}

// passageLength 題目長度（以字元計），未載入時回傳預設值
func (r *Room) passageLength() int {
	if !r.PassageLoaded {
		return defaultPassageLength
	}
	return utf8.RuneCountInString(r.Passage)
}

// humanCount 不含機器人的玩家數
func (r *Room) humanCount() int {
	return lo.CountBy(r.Users, func(u string) bool {
		p := r.UserInfo[u]
		return p != nil && !p.IsBot
	})
}

// vacant 沒有任何仍在線上的真人玩家
func (r *Room) vacant() bool {
	return !lo.SomeBy(lo.Values(r.UserInfo), func(p *Participant) bool {
		return !p.IsBot && !p.Left
	})
}

// nextColor 第一個未被使用的顏色
func (r *Room) nextColor() string {
	used := make(map[string]bool, len(r.UserInfo))
	for _, p := range r.UserInfo {
		used[p.Color] = true
	}
	color, ok := lo.Find(palette, func(c string) bool { return !used[c] })
	if !ok {
		return ""
	}
	return color
}

func (r *Room) addParticipant(user string, p *Participant) {
	p.Color = r.nextColor()
	r.UserInfo[user] = p
	r.Users = append(r.Users, user)
}

func (r *Room) removeParticipant(user string) {
	delete(r.UserInfo, user)
	r.Users = lo.Without(r.Users, user)
}

// leaderChars 目前最多的字元數
func (r *Room) leaderChars() int {
	return lo.Max(lo.Map(lo.Values(r.UserInfo), func(p *Participant, _ int) int {
		return p.CharsTyped
	}))
}

// leader 字元數最多的玩家（同分取先加入者）
func (r *Room) leader() string {
	users := lo.Filter(r.Users, func(u string, _ int) bool {
		return r.UserInfo[u] != nil
	})
	if len(users) == 0 {
		return ""
	}
	return lo.MaxBy(users, func(a, b string) bool {
		return r.UserInfo[a].CharsTyped > r.UserInfo[b].CharsTyped
	})
}

// finishRank 1 + 其他已完賽且完賽時間較早的玩家數
func (r *Room) finishRank(user string) int {
	me := r.UserInfo[user]
	if me == nil {
		return 0
	}
	earlier := lo.CountBy(lo.Entries(r.UserInfo), func(e lo.Entry[string, *Participant]) bool {
		return e.Key != user && e.Value.Finished && e.Value.FinishTime.Before(me.FinishTime)
	})
	return earlier + 1
}

// status 狀態機目前所在狀態（房間被移除即為 closed，不會出現在這裡）
func (r *Room) status() Status {
	switch {
	case r.HasStarted:
		return StatusRacing
	case !r.CountdownStart.IsZero():
		return StatusCountdown
	default:
		return StatusWaiting
	}
}

// Status 比賽狀態
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusRacing    Status = "racing"
)

// RoomState 廣播用的房間快照
type RoomState struct {
	RoomID         string                      `json:"roomId"`
	IsPublic       bool                        `json:"isPublic"`
	IsSolo         bool                        `json:"isSolo"`
	Owner          string                      `json:"owner"`
	Status         Status                      `json:"status"`
	HasStarted     bool                        `json:"hasStarted"`
	CountdownStart *int64                      `json:"countdownStart,omitempty"`
	RaceStart      *int64                      `json:"raceStart,omitempty"`
	Passage        string                      `json:"passage"`
	PassageID      int64                       `json:"passageId,omitempty"`
	RaceID         *int64                      `json:"raceId,omitempty"`
	Users          []string                    `json:"users"`
	UserInfo       map[string]ParticipantState `json:"userInfo"`
	ActiveEffects  []EffectState               `json:"activeEffects"`
}

// ParticipantState 玩家快照
type ParticipantState struct {
	Color      string      `json:"color"`
	CharsTyped int         `json:"charsTyped"`
	WPM        int         `json:"wpm"`
	Finished   bool        `json:"finished"`
	FinishTime *int64      `json:"finishTime,omitempty"`
	Inventory  PowerupType `json:"inventory,omitempty"`
	JoinedTime int64       `json:"joinedTime"`
	Left       bool        `json:"left"`
	IsBot      bool        `json:"isBot,omitempty"`
}

// EffectState 效果快照
type EffectState struct {
	PowerupType PowerupType `json:"powerupType"`
	User        string      `json:"user"`
	Target      string      `json:"target,omitempty"`
	EndTime     int64       `json:"endTime"`
}

// snapshot 深拷貝房間狀態，送出後不再受房間修改影響
func (r *Room) snapshot() RoomState {
	state := RoomState{
		RoomID:         r.ID,
		IsPublic:       r.IsPublic,
		IsSolo:         r.IsSolo,
		Owner:          r.Owner,
		Status:         r.status(),
		HasStarted:     r.HasStarted,
		CountdownStart: optionalMillis(r.CountdownStart),
		RaceStart:      optionalMillis(r.RaceStart),
		Passage:        r.Passage,
		PassageID:      r.PassageID,
		Users:          append([]string{}, r.Users...),
		UserInfo:       make(map[string]ParticipantState, len(r.UserInfo)),
		ActiveEffects: lo.Map(r.ActiveEffects, func(e Effect, _ int) EffectState {
			return EffectState{
				PowerupType: e.PowerupType,
				User:        e.User,
				Target:      e.Target,
				EndTime:     e.EndTime.UnixMilli(),
			}
		}),
	}
	if r.PersistedRaceID != nil {
		id := *r.PersistedRaceID
		state.RaceID = &id
	}
	for user, p := range r.UserInfo {
		state.UserInfo[user] = ParticipantState{
			Color:      p.Color,
			CharsTyped: p.CharsTyped,
			WPM:        p.WPM,
			Finished:   p.Finished,
			FinishTime: optionalMillis(p.FinishTime),
			Inventory:  p.Inventory,
			JoinedTime: p.JoinedTime.UnixMilli(),
			Left:       p.Left,
			IsBot:      p.IsBot,
		}
	}
	return state
}

func optionalMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
