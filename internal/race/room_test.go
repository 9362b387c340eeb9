package race

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoom_Colors 任何加入與離開順序下顏色都不重複
func TestRoom_Colors(t *testing.T) {
	room := newRoom("ABC123", 1, true, false, "")
	joinedAt := time.Unix(1_700_000_000, 0)

	for _, user := range []string{"u1", "u2", "u3"} {
		room.addParticipant(user, &Participant{JoinedTime: joinedAt})
	}
	assert.Equal(t, "red", room.UserInfo["u1"].Color)
	assert.Equal(t, "blue", room.UserInfo["u2"].Color)
	assert.Equal(t, "green", room.UserInfo["u3"].Color)

	// u2 離開後下一個人拿回 blue
	room.removeParticipant("u2")
	room.addParticipant("u4", &Participant{JoinedTime: joinedAt})
	assert.Equal(t, "blue", room.UserInfo["u4"].Color)

	seen := make(map[string]string)
	for user, p := range room.UserInfo {
		other, dup := seen[p.Color]
		assert.False(t, dup, "color %s used by %s and %s", p.Color, user, other)
		seen[p.Color] = user
	}
	assert.Equal(t, []string{"u1", "u3", "u4"}, room.Users)
}

// TestRoom_HumanCount 機器人不佔名額
func TestRoom_HumanCount(t *testing.T) {
	room := newRoom("SOLO01", 1, false, true, "")
	room.addParticipant(BotName, &Participant{IsBot: true})
	assert.Equal(t, 0, room.humanCount())
	assert.True(t, room.vacant())

	room.addParticipant("solo1", &Participant{})
	assert.Equal(t, 1, room.humanCount())
	assert.False(t, room.vacant())

	room.UserInfo["solo1"].Left = true
	assert.True(t, room.vacant())
}

// TestRoom_FinishRank 名次為 1 + 較早完賽的人數
func TestRoom_FinishRank(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	room := newRoom("RANK01", 1, true, false, "")
	room.addParticipant("a", &Participant{Finished: true, FinishTime: base.Add(2 * time.Second)})
	room.addParticipant("b", &Participant{Finished: true, FinishTime: base.Add(1 * time.Second)})
	room.addParticipant("c", &Participant{Finished: true, FinishTime: base.Add(3 * time.Second)})
	room.addParticipant("d", &Participant{CharsTyped: 50})

	assert.Equal(t, 1, room.finishRank("b"))
	assert.Equal(t, 2, room.finishRank("a"))
	assert.Equal(t, 3, room.finishRank("c"))
	assert.Equal(t, 0, room.finishRank("missing"))
}

// TestRoom_Leader 同分時取先加入者
func TestRoom_Leader(t *testing.T) {
	room := newRoom("LEAD01", 1, true, false, "")
	room.addParticipant("a", &Participant{CharsTyped: 40})
	room.addParticipant("b", &Participant{CharsTyped: 40})
	room.addParticipant("c", &Participant{CharsTyped: 10})

	assert.Equal(t, "a", room.leader())
	assert.Equal(t, 40, room.leaderChars())

	room.UserInfo["b"].CharsTyped = 41
	assert.Equal(t, "b", room.leader())

	solo := newRoom("LEAD02", 2, true, false, "")
	solo.addParticipant("only", &Participant{})
	assert.Equal(t, "only", solo.leader())

	empty := newRoom("LEAD03", 3, true, false, "")
	assert.Equal(t, "", empty.leader())
}

// TestRoom_Snapshot 快照與房間狀態隔離
func TestRoom_Snapshot(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	room := newRoom("SNAP01", 1, true, false, "")
	room.Passage = "héllo"
	room.PassageLoaded = true
	room.CountdownStart = start
	room.RaceStart = start.Add(10 * time.Second)
	room.addParticipant("u1", &Participant{JoinedTime: start})

	state := room.snapshot()
	require.NotNil(t, state.CountdownStart)
	assert.Equal(t, start.UnixMilli(), *state.CountdownStart)
	assert.Equal(t, StatusCountdown, state.Status)
	assert.Nil(t, state.RaceID)
	assert.Nil(t, state.UserInfo["u1"].FinishTime)
	assert.Equal(t, 5, room.passageLength())

	room.UserInfo["u1"].CharsTyped = 3
	room.Users = append(room.Users, "u2")
	assert.Equal(t, 0, state.UserInfo["u1"].CharsTyped)
	assert.Equal(t, []string{"u1"}, state.Users)
}
