package race

import (
	"time"

	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// 狀態轉換：
//
//	waiting --(公開房第二人加入 / 房主 start)--> countdown
//	countdown --(倒數結束)--> racing
//	racing --(超時)--> 所有人斷線
//	任何狀態 --(沒有在線真人)--> 房間移除
//
// 單人房建立時即進入 countdown。

// beginCountdown 設定倒數並重設所有玩家的加入時間
func (e *Engine) beginCountdown(room *Room, countdown time.Duration) {
	now := e.now()
	room.CountdownStart = now
	room.RaceStart = now.Add(countdown)
	for _, p := range room.UserInfo {
		p.JoinedTime = now
	}
	e.logger.Info("倒數開始",
		"room_id", room.ID,
		"race_start", room.RaceStart,
	)
}

// startRace 倒數結束，比賽開始
func (e *Engine) startRace(room *Room) {
	if room.HasStarted {
		return
	}
	room.HasStarted = true

	e.logger.Info("比賽開始", "room_id", room.ID, "users", len(room.Users))

	e.broadcastRoom(room)
	e.schedule(e.cfg.RaceTimeout, room, e.timeoutRace)
	if room.IsSolo {
		e.startBot(room)
	}
}

// start 房主開始私人房比賽，重複呼叫不會重設倒數
func (e *Engine) start(user string) error {
	room, err := e.roomOf(user)
	if err != nil {
		return err
	}
	if room.Owner == "" || room.Owner != user {
		return apperrors.ErrNotRoomOwner
	}
	if !room.CountdownStart.IsZero() {
		return nil
	}

	e.beginCountdown(room, e.cfg.PrivateCountdown)
	e.broadcastRoom(room)
	e.schedule(e.cfg.PrivateCountdown, room, e.startRace)
	return nil
}

// timeoutRace 比賽超時，通知並斷開所有仍在房內的連線
func (e *Engine) timeoutRace(room *Room) {
	e.logger.Warn("比賽逾時", "room_id", room.ID, "users", len(room.Users))

	e.broadcastError(room, apperrors.ErrRaceTimedOut)
	for _, user := range append([]string{}, room.Users...) {
		ch, ok := e.channelIn(user, room.ID)
		if !ok {
			continue
		}
		e.disconnect(user)
		_ = ch.Close()
	}
}
