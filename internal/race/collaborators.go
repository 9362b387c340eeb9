package race

import "context"

// Passage 比賽題目
type Passage struct {
	ID   int64
	Text string
}

// User 已註冊使用者及近期成績
type User struct {
	ID         int64   `json:"id"`
	Username   string  `json:"username"`
	AverageWPM float64 `json:"average_wpm"`
	RaceCount  int     `json:"race_count"`
}

// PassageProvider 隨機提供一篇題目
type PassageProvider interface {
	FetchPassage(ctx context.Context) (Passage, error)
}

// RaceLedger 寫入比賽紀錄並回傳 ID
type RaceLedger interface {
	CreateRace(ctx context.Context, passageID int64) (int64, error)
}

// ResultLedger 寫入完賽成績
type ResultLedger interface {
	CreateResult(ctx context.Context, userID, raceID int64, wpm, rank int) error
}

// UserLookup 依欄位查詢使用者，不存在時回傳 nil, nil
type UserLookup interface {
	GetUserByField(ctx context.Context, field, value string) (*User, error)
}

// Collaborators 引擎依賴的外部協作者
type Collaborators struct {
	Passages PassageProvider
	Races    RaceLedger
	Results  ResultLedger
	Users    UserLookup
}
