// Package events 把完賽成績發布到 NATS JetStream。
//
// Subject 以比賽 ID 區分：results.{raceId}，同一場的成績依寫入順序保存。
// 每則訊息帶 Nats-Msg-Id，重送時由 JetStream 去重。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/koopa0/typetrial/internal/race"
)

// Config JetStream 配置
type Config struct {
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream_name" split_words:"true"`
	SubjectPrefix string        `yaml:"subject_prefix" split_words:"true"`
	MaxAge        time.Duration `yaml:"max_age" split_words:"true"`
}

// DefaultConfig 返回預設配置（URL 空白表示不啟用）
func DefaultConfig() Config {
	return Config{
		StreamName:    "RACE_RESULTS",
		SubjectPrefix: "results",
		MaxAge:        7 * 24 * time.Hour,
	}
}

// ResultEvent 完賽事件
type ResultEvent struct {
	EventID    string    `json:"event_id"`
	RaceID     int64     `json:"race_id"`
	UserID     int64     `json:"user_id"`
	WPM        int       `json:"wpm"`
	Rank       int       `json:"rank"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ResultPublisher 寫入成績後發布事件
//
// 成績以下游寫入為準；發布失敗只記錄日誌。
type ResultPublisher struct {
	next   race.ResultLedger
	js     nats.JetStreamContext
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewResultPublisher 創建發布者並確保 Stream 存在
func NewResultPublisher(next race.ResultLedger, conn *nats.Conn, cfg Config, logger *slog.Logger) (*ResultPublisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("建立 JetStream 上下文失敗: %w", err)
	}

	p := &ResultPublisher{
		next:   next,
		js:     js,
		cfg:    cfg,
		logger: logger.With("component", "result_publisher"),
		now:    time.Now,
	}
	if err := p.initStream(); err != nil {
		return nil, err
	}
	return p, nil
}

// initStream 建立或更新 Stream
func (p *ResultPublisher) initStream() error {
	streamConfig := &nats.StreamConfig{
		Name:       p.cfg.StreamName,
		Subjects:   []string{p.cfg.SubjectPrefix + ".*"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     p.cfg.MaxAge,
		Discard:    nats.DiscardOld,
		Duplicates: 2 * time.Minute,
	}

	if _, err := p.js.StreamInfo(p.cfg.StreamName); err == nil {
		if _, err := p.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("更新 Stream %s 失敗: %w", p.cfg.StreamName, err)
		}
		return nil
	}

	if _, err := p.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("建立 Stream %s 失敗: %w", p.cfg.StreamName, err)
	}
	return nil
}

// Subject 某場比賽的成績 subject
func (p *ResultPublisher) Subject(raceID int64) string {
	return fmt.Sprintf("%s.%d", p.cfg.SubjectPrefix, raceID)
}

// CreateResult 寫入成績並發布
func (p *ResultPublisher) CreateResult(ctx context.Context, userID, raceID int64, wpm, rank int) error {
	if err := p.next.CreateResult(ctx, userID, raceID, wpm, rank); err != nil {
		return err
	}

	event := ResultEvent{
		EventID:    uuid.NewString(),
		RaceID:     raceID,
		UserID:     userID,
		WPM:        wpm,
		Rank:       rank,
		RecordedAt: p.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "序列化事件失敗", "race_id", raceID, "error", err)
		return nil
	}

	msg := nats.NewMsg(p.Subject(raceID))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.EventID)

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		p.logger.WarnContext(ctx, "發布成績事件失敗",
			"race_id", raceID,
			"user_id", userID,
			"error", err)
		return nil
	}

	p.logger.DebugContext(ctx, "成績事件已發布", "race_id", raceID, "user_id", userID, "event_id", event.EventID)
	return nil
}
