package race

import (
	"context"
	"time"

	"github.com/samber/lo"

	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// createRoom 建立房間並開始載入題目
//
// 單人房在建立時就放入機器人並排定開賽。
func (e *Engine) createRoom(isPublic, isSolo bool, owner string) *Room {
	e.seq++
	room := newRoom(e.newRoomID(), e.seq, isPublic, isSolo, owner)
	e.rooms[room.ID] = room
	e.order = append(e.order, room.ID)

	if isSolo {
		now := e.now()
		room.CountdownStart = now.Truncate(time.Second)
		room.RaceStart = room.CountdownStart.Add(e.cfg.SoloCountdown)
		room.botWPM = e.cfg.BotDefaultWPM
		room.addParticipant(BotName, &Participant{IsBot: true, JoinedTime: now})
		e.schedule(e.cfg.SoloCountdown, room, e.startRace)
	}

	e.logger.Info("房間已創建",
		"room_id", room.ID,
		"public", isPublic,
		"solo", isSolo,
		"owner", owner,
	)

	e.loadPassage(room)
	return room
}

// createPrivateRoom 建立私人房並讓建立者加入
func (e *Engine) createPrivateRoom(user string, ch Channel, solo bool) (string, error) {
	if e.registry.Has(user) {
		return "", apperrors.ErrAlreadyConnected
	}

	owner := user
	if solo {
		owner = ""
	}
	room := e.createRoom(false, solo, owner)
	if err := e.joinRoom(user, ch, room.ID); err != nil {
		e.deleteRoom(room)
		return "", err
	}
	if solo {
		e.resolveBotPace(room, user)
	}
	return room.ID, nil
}

// capacity 房間可容納的真人數
func (e *Engine) capacity(room *Room) int {
	if room.IsSolo {
		return 1
	}
	return e.cfg.MaxUsers
}

// joinRoom 把使用者加入指定房間
func (e *Engine) joinRoom(user string, ch Channel, roomID string) error {
	if e.registry.Has(user) {
		return apperrors.ErrAlreadyConnected
	}

	room, ok := e.rooms[roomID]
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	if room.humanCount() >= e.capacity(room) {
		return apperrors.ErrRoomFull
	}
	if _, raced := room.UserInfo[user]; raced {
		// 已完賽後離開的玩家仍留在房內
		return apperrors.ErrAlreadyConnected.WithDetails("user already raced in this room")
	}

	e.registry.Register(user, ch, room.ID)
	room.addParticipant(user, &Participant{JoinedTime: e.now()})

	e.logger.Info("玩家加入房間",
		"room_id", room.ID,
		"user", user,
		"users", room.humanCount(),
	)

	if room.IsPublic && len(room.Users) == 2 && room.CountdownStart.IsZero() {
		e.beginCountdown(room, e.cfg.PublicCountdown)
		e.schedule(e.cfg.PublicCountdown, room, e.startRace)
	}

	e.broadcastRoom(room)
	return nil
}

// disconnect 使用者離開
//
// 未完賽者從房間移除；已完賽者保留紀錄但標記離開。
// 房內沒有在線真人時移除房間。
func (e *Engine) disconnect(user string) {
	roomID, ok := e.registry.RoomOf(user)
	if !ok {
		return
	}
	e.registry.Unregister(user)

	room, ok := e.rooms[roomID]
	if !ok {
		return
	}
	p := room.UserInfo[user]
	if p == nil {
		return
	}

	p.Left = true
	if !p.Finished {
		room.removeParticipant(user)
	}

	e.logger.Info("玩家離開房間",
		"room_id", room.ID,
		"user", user,
		"finished", p.Finished,
	)

	if !room.HasStarted && room.Owner != "" && room.Owner == user {
		e.broadcastError(room, apperrors.ErrOwnerDisconnected)
	} else {
		e.broadcastRoom(room)
	}

	if room.vacant() {
		e.deleteRoom(room)
	}
}

// deleteRoom 移除房間，之後觸發的計時器都會略過
func (e *Engine) deleteRoom(room *Room) {
	if e.rooms[room.ID] != room {
		return
	}
	delete(e.rooms, room.ID)
	e.order = lo.Without(e.order, room.ID)
	e.logger.Info("房間已移除", "room_id", room.ID, "started", room.HasStarted)
}

// loadPassage 背景取得題目，成功後廣播並建立比賽紀錄
func (e *Engine) loadPassage(room *Room) {
	id, seq := room.ID, room.seq
	e.background(id, func(ctx context.Context) {
		passage, err := e.collab.Passages.FetchPassage(ctx)
		e.post(func() {
			room := e.lookup(id, seq)
			if room == nil {
				return
			}
			if err != nil {
				e.logger.Error("取得題目失敗", "room_id", id, "error", err)
				return
			}
			room.Passage = passage.Text
			room.PassageID = passage.ID
			room.PassageLoaded = true
			e.broadcastRoom(room)
			e.persistRace(room)
		})
	})
}

// persistRace 寫入比賽紀錄，取得 ID 後補寫暫存的成績
func (e *Engine) persistRace(room *Room) {
	id, seq, passageID := room.ID, room.seq, room.PassageID
	e.background(id, func(ctx context.Context) {
		raceID, err := e.collab.Races.CreateRace(ctx, passageID)
		e.post(func() {
			room := e.lookup(id, seq)
			if room == nil {
				return
			}
			if err != nil {
				e.logger.Error("建立比賽紀錄失敗", "room_id", id, "passage_id", passageID, "error", err)
				return
			}
			room.PersistedRaceID = &raceID
			e.logger.Debug("比賽紀錄已建立", "room_id", id, "race_id", raceID)
			e.flushPendingResults(room)
		})
	})
}
