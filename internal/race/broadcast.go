package race

import (
	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// broadcastRoom 送出房間快照給房內所有在線玩家
func (e *Engine) broadcastRoom(room *Room) {
	e.broadcast(room, RaceDataMessage(room.snapshot()))
}

// broadcastError 送出錯誤通知給房內所有在線玩家
func (e *Engine) broadcastError(room *Room, err error) {
	e.broadcast(room, ErrorMessage(apperrors.MessageOf(err)))
}

// broadcast 發送失敗的玩家視為斷線
//
// 先送完所有人再處理失敗，斷線本身也會廣播。
func (e *Engine) broadcast(room *Room, msg Outbound) {
	var failed []string
	for _, user := range room.Users {
		ch, ok := e.channelIn(user, room.ID)
		if !ok {
			continue
		}
		if err := ch.Send(msg); err != nil {
			e.logger.Warn("發送消息失敗",
				"room_id", room.ID,
				"user", user,
				"type", msg.Type,
				"error", err,
			)
			failed = append(failed, user)
		}
	}

	for _, user := range failed {
		ch, ok := e.channelIn(user, room.ID)
		if !ok {
			continue
		}
		e.disconnect(user)
		_ = ch.Close()
	}
}

// reply 把操作錯誤回給發起者
//
// ch 為 nil 時使用登記的通道；重複連線的錯誤不回覆。
func (e *Engine) reply(user string, ch Channel, err error) {
	if err == nil || apperrors.IsAlreadyConnected(err) {
		return
	}
	if ch == nil {
		registered, ok := e.registry.Channel(user)
		if !ok {
			return
		}
		ch = registered
	}

	e.logger.Debug("操作被拒絕", "user", user, "error", err)

	if sendErr := ch.Send(ErrorMessage(apperrors.MessageOf(err))); sendErr != nil {
		if registered, ok := e.registry.Channel(user); ok && registered == ch {
			e.disconnect(user)
			_ = ch.Close()
		}
	}
}

// channelIn 使用者登記在 roomID 時回傳其通道
func (e *Engine) channelIn(user, roomID string) (Channel, bool) {
	current, ok := e.registry.RoomOf(user)
	if !ok || current != roomID {
		return nil, false
	}
	return e.registry.Channel(user)
}
