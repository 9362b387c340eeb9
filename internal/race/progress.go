package race

import (
	"context"
	"math"
	"time"

	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// applyProgress 更新玩家進度
//
// 字元數只增不減，題目載入後不超過題目長度，完賽後的回報忽略。
func (e *Engine) applyProgress(user string, charsTyped int) error {
	room, err := e.roomOf(user)
	if err != nil {
		return err
	}
	p := room.UserInfo[user]
	if p == nil {
		return apperrors.ErrNotInRoom
	}
	if p.Finished {
		return nil
	}

	length := room.passageLength()
	chars := max(charsTyped, p.CharsTyped)
	if room.PassageLoaded {
		chars = min(chars, length)
	}

	now := e.now()
	p.CharsTyped = chars
	p.WPM = computeWPM(chars, room.RaceStart, now)

	if p.Inventory == "" && !room.IsSolo {
		if drop, ok := rollPowerup(e.rng, room.leaderChars()-chars, length); ok {
			p.Inventory = drop
			e.logger.Debug("獲得道具", "room_id", room.ID, "user", user, "powerup", drop)
		}
	}

	if room.PassageLoaded && chars == length {
		e.finish(room, user, p, now)
	}

	e.broadcastRoom(room)
	return nil
}

// computeWPM 以五個字元為一個字計算每分鐘字數（無條件捨去）
func computeWPM(chars int, raceStart, now time.Time) int {
	if raceStart.IsZero() {
		return 0
	}
	elapsed := now.Sub(raceStart).Milliseconds()
	if elapsed <= 0 {
		return 0
	}
	return int(math.Floor(float64(chars) / 5 * 60000 / float64(elapsed)))
}

// dropChance 落後領先者越多，拿到道具的機會越高
func dropChance(behind, passageLength int) float64 {
	if passageLength <= 0 {
		passageLength = defaultPassageLength
	}
	return 0.2*float64(behind)/float64(passageLength) + 0.02
}

// randSource rollPowerup 需要的亂數介面
type randSource interface {
	Float64() float64
	IntN(n int) int
}

// rollPowerup 擲骰決定是否掉落道具，掉落時均勻抽選種類
func rollPowerup(rng randSource, behind, passageLength int) (PowerupType, bool) {
	if rng.Float64() >= dropChance(behind, passageLength) {
		return "", false
	}
	return powerups[rng.IntN(len(powerups))], true
}

// finish 玩家完賽
func (e *Engine) finish(room *Room, user string, p *Participant, now time.Time) {
	p.Finished = true
	p.FinishTime = now

	e.logger.Info("玩家完賽",
		"room_id", room.ID,
		"user", user,
		"wpm", p.WPM,
		"rank", room.finishRank(user),
	)

	if p.IsBot {
		return
	}
	e.resolveResult(room, user)
}

// resolveResult 查詢使用者後記錄成績，訪客不記錄
func (e *Engine) resolveResult(room *Room, user string) {
	id, seq := room.ID, room.seq
	e.background(id, func(ctx context.Context) {
		u, err := e.collab.Users.GetUserByField(ctx, "username", user)
		e.post(func() {
			e.recordResult(id, seq, user, u, err)
		})
	})
}

// recordResult 比賽紀錄 ID 已知就寫入，否則暫存
func (e *Engine) recordResult(id string, seq uint64, user string, u *User, err error) {
	room := e.lookup(id, seq)
	if room == nil {
		e.logger.Debug("房間已移除，略過成績寫入", "room_id", id, "user", user)
		return
	}
	if err != nil {
		e.logger.Warn("查詢使用者失敗", "room_id", id, "user", user, "error", err)
		return
	}
	if u == nil {
		e.logger.Debug("訪客完賽，不寫入成績", "room_id", id, "user", user)
		return
	}
	p := room.UserInfo[user]
	if p == nil {
		return
	}

	res := pendingResult{
		user:   user,
		userID: u.ID,
		wpm:    p.WPM,
		rank:   room.finishRank(user),
	}
	if room.PersistedRaceID == nil {
		room.pendingResults = append(room.pendingResults, res)
		return
	}
	e.persistResult(room.ID, *room.PersistedRaceID, res)
}

// flushPendingResults 比賽紀錄 ID 取得後寫入暫存的成績
func (e *Engine) flushPendingResults(room *Room) {
	pending := room.pendingResults
	room.pendingResults = nil
	for _, res := range pending {
		e.persistResult(room.ID, *room.PersistedRaceID, res)
	}
}

func (e *Engine) persistResult(roomID string, raceID int64, res pendingResult) {
	e.background(roomID, func(ctx context.Context) {
		if err := e.collab.Results.CreateResult(ctx, res.userID, raceID, res.wpm, res.rank); err != nil {
			e.logger.Error("寫入成績失敗",
				"room_id", roomID,
				"race_id", raceID,
				"user", res.user,
				"error", err,
			)
			return
		}
		e.logger.Debug("成績已寫入",
			"room_id", roomID,
			"race_id", raceID,
			"user", res.user,
			"wpm", res.wpm,
			"rank", res.rank,
		)
	})
}
