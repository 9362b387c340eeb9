package race

import (
	"github.com/samber/lo"

	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// connectToPublicRoom 配對公開房
//
// 依建立順序找第一個尚未開賽且未滿的公開房，找不到就開新房。
func (e *Engine) connectToPublicRoom(user string, ch Channel) error {
	if e.registry.Has(user) {
		return apperrors.ErrAlreadyConnected
	}

	room := e.findOpenRoom()
	if room == nil {
		room = e.createRoom(true, false, "")
	}
	return e.joinRoom(user, ch, room.ID)
}

// findOpenRoom 第一個可加入的公開房
func (e *Engine) findOpenRoom() *Room {
	id, ok := lo.Find(e.order, func(id string) bool {
		room := e.rooms[id]
		return room != nil &&
			room.IsPublic &&
			!room.HasStarted &&
			room.humanCount() < e.cfg.MaxUsers
	})
	if !ok {
		return nil
	}
	return e.rooms[id]
}
