package race

import (
	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// usePowerup 使用道具並加入效果
//
// 不檢查玩家是否真的持有道具；未知種類當作 whiteout。
func (e *Engine) usePowerup(user string, powerup PowerupType) error {
	room, err := e.roomOf(user)
	if err != nil {
		return err
	}
	p := room.UserInfo[user]
	if p == nil {
		return apperrors.ErrNotInRoom
	}
	p.Inventory = ""

	duration, known := effectDurations[powerup]
	if !known {
		e.logger.Warn("未知的道具種類，改用 whiteout",
			"room_id", room.ID,
			"user", user,
			"powerup", powerup,
		)
		powerup = PowerupWhiteout
		duration = effectDurations[PowerupWhiteout]
	}

	effect := Effect{
		PowerupType: powerup,
		User:        user,
		EndTime:     e.now().Add(duration),
	}
	if powerup == PowerupKnockout {
		effect.Target = room.leader()
	}
	room.ActiveEffects = append(room.ActiveEffects, effect)

	e.logger.Debug("使用道具",
		"room_id", room.ID,
		"user", user,
		"powerup", powerup,
		"target", effect.Target,
	)

	e.broadcastRoom(room)
	return nil
}
