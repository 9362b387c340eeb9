package race

import (
	"context"
	"math"
	"time"
)

// resolveBotPace 以玩家近期平均速度設定機器人速度
func (e *Engine) resolveBotPace(room *Room, user string) {
	id, seq := room.ID, room.seq
	e.background(id, func(ctx context.Context) {
		u, err := e.collab.Users.GetUserByField(ctx, "username", user)
		e.post(func() {
			room := e.lookup(id, seq)
			if room == nil {
				return
			}
			if err != nil {
				e.logger.Warn("查詢使用者失敗，機器人使用預設速度", "room_id", id, "user", user, "error", err)
				return
			}
			if u == nil || u.AverageWPM <= 0 {
				return
			}
			room.botWPM = int(math.Round(u.AverageWPM))
			e.logger.Debug("機器人速度已設定", "room_id", id, "wpm", room.botWPM)
		})
	})
}

// startBot 開賽後機器人定時前進，直到完賽、房間移除或引擎停止
func (e *Engine) startBot(room *Room) {
	id, seq := room.ID, room.seq
	tick := e.cfg.BotTick

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				done := true
				if !e.do(func() { done = e.advanceBot(id, seq) }) || done {
					return
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// advanceBot 前進一格，回傳是否結束
func (e *Engine) advanceBot(id string, seq uint64) bool {
	room := e.lookup(id, seq)
	if room == nil {
		return true
	}
	bot := room.UserInfo[BotName]
	if bot == nil || !bot.IsBot || bot.Finished {
		return true
	}
	if !room.PassageLoaded {
		return false
	}

	length := room.passageLength()
	room.botProgress += float64(room.botWPM) * 5 / 60 * e.cfg.BotTick.Seconds()

	now := e.now()
	bot.CharsTyped = min(int(room.botProgress), length)
	bot.WPM = computeWPM(bot.CharsTyped, room.RaceStart, now)

	done := bot.CharsTyped >= length
	if done {
		e.finish(room, BotName, bot, now)
	}

	e.broadcastRoom(room)
	return done
}
