package race

import (
	"fmt"
	"time"
)

// Config 比賽引擎配置
type Config struct {
	// 每房最多真人玩家數（單人房的機器人不佔名額）
	MaxUsers int `yaml:"max_users" split_words:"true"`

	// 公開房第二位玩家加入後的倒數
	PublicCountdown time.Duration `yaml:"public_countdown" split_words:"true"`
	// 私人房房主按下開始後的倒數
	PrivateCountdown time.Duration `yaml:"private_countdown" split_words:"true"`
	// 單人房建立後的倒數
	SoloCountdown time.Duration `yaml:"solo_countdown" split_words:"true"`
	// 比賽開始後的最長時間，超過即強制結束
	RaceTimeout time.Duration `yaml:"race_timeout" split_words:"true"`

	// 機器人前進間隔
	BotTick time.Duration `yaml:"bot_tick" split_words:"true"`
	// 查不到玩家近期成績時機器人的速度
	BotDefaultWPM int `yaml:"bot_default_wpm" split_words:"true"`

	// 每次呼叫外部協作者的超時
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout" split_words:"true"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() Config {
	return Config{
		MaxUsers:            5,
		PublicCountdown:     10 * time.Second,
		PrivateCountdown:    5 * time.Second,
		SoloCountdown:       5 * time.Second,
		RaceTimeout:         5 * time.Minute,
		BotTick:             500 * time.Millisecond,
		BotDefaultWPM:       40,
		CollaboratorTimeout: 5 * time.Second,
	}
}

// Validate 檢查配置
func (c Config) Validate() error {
	// 留一個顏色給機器人
	if c.MaxUsers < 1 || c.MaxUsers > len(palette)-1 {
		return fmt.Errorf("race.max_users 必須在 1-%d 之間，目前為 %d", len(palette)-1, c.MaxUsers)
	}
	durations := map[string]time.Duration{
		"race.public_countdown":     c.PublicCountdown,
		"race.private_countdown":    c.PrivateCountdown,
		"race.solo_countdown":       c.SoloCountdown,
		"race.race_timeout":         c.RaceTimeout,
		"race.bot_tick":             c.BotTick,
		"race.collaborator_timeout": c.CollaboratorTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s 必須大於 0，目前為 %s", name, d)
		}
	}
	if c.BotDefaultWPM <= 0 {
		return fmt.Errorf("race.bot_default_wpm 必須大於 0，目前為 %d", c.BotDefaultWPM)
	}
	return nil
}
