// Package store 實作比賽引擎的外部協作者。
//
// Postgres 負責題目、比賽紀錄、成績與使用者查詢；
// CachedUsers 在使用者查詢前加一層 Redis 快取。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koopa0/typetrial/internal/race"
	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// DBTX pgxpool.Pool 與 pgx.Tx 共同的查詢介面
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// recentResults 計算平均速度時取最近幾場
const recentResults = 10

// userColumns GetUserByField 可查詢的欄位
var userColumns = map[string]string{
	"id":       "u.id::text",
	"username": "u.username",
	"email":    "u.email",
}

const (
	fetchPassageSQL = `SELECT id, text FROM passages ORDER BY random() LIMIT 1`

	createRaceSQL = `INSERT INTO races (passage_id) VALUES ($1) RETURNING id`

	createResultSQL = `
INSERT INTO results (user_id, race_id, wpm, rank)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, race_id) DO NOTHING`

	// %s 由 userColumns 提供，不接受外部輸入
	getUserSQL = `
SELECT u.id, u.username,
       COALESCE(s.avg_wpm, 0)::float8,
       COALESCE(s.race_count, 0)::int
FROM users u
LEFT JOIN LATERAL (
    SELECT AVG(recent.wpm) AS avg_wpm, COUNT(*) AS race_count
    FROM (
        SELECT r.wpm
        FROM results r
        WHERE r.user_id = u.id
        ORDER BY r.created_at DESC
        LIMIT %d
    ) recent
) s ON true
WHERE %s = $1`
)

// Postgres 以 PostgreSQL 實作四個協作者
type Postgres struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgres 創建 PostgreSQL 協作者
func NewPostgres(db DBTX, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger.With("component", "postgres_store"),
	}
}

// FetchPassage 隨機取一篇題目
func (p *Postgres) FetchPassage(ctx context.Context) (race.Passage, error) {
	var passage race.Passage
	err := p.db.QueryRow(ctx, fetchPassageSQL).Scan(&passage.ID, &passage.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return race.Passage{}, apperrors.New(apperrors.ErrCodeNotFound, "no passages available")
		}
		p.logger.ErrorContext(ctx, "取得題目失敗", "error", err)
		return race.Passage{}, dbError("fetch passage", err)
	}
	return passage, nil
}

// CreateRace 寫入比賽紀錄
func (p *Postgres) CreateRace(ctx context.Context, passageID int64) (int64, error) {
	var id int64
	if err := p.db.QueryRow(ctx, createRaceSQL, passageID).Scan(&id); err != nil {
		p.logger.ErrorContext(ctx, "建立比賽紀錄失敗", "passage_id", passageID, "error", err)
		return 0, dbError("create race", err)
	}
	return id, nil
}

// CreateResult 寫入成績，同一場同一人只保留第一筆
func (p *Postgres) CreateResult(ctx context.Context, userID, raceID int64, wpm, rank int) error {
	if _, err := p.db.Exec(ctx, createResultSQL, userID, raceID, wpm, rank); err != nil {
		p.logger.ErrorContext(ctx, "寫入成績失敗",
			"user_id", userID,
			"race_id", raceID,
			"error", err)
		return dbError("create result", err)
	}
	return nil
}

// GetUserByField 依欄位查詢使用者與近期平均速度，不存在時回傳 nil, nil
func (p *Postgres) GetUserByField(ctx context.Context, field, value string) (*race.User, error) {
	column, ok := userColumns[field]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "unsupported user field").WithDetails(field)
	}

	query := fmt.Sprintf(getUserSQL, recentResults, column)

	var u race.User
	err := p.db.QueryRow(ctx, query, value).Scan(&u.ID, &u.Username, &u.AverageWPM, &u.RaceCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		p.logger.ErrorContext(ctx, "查詢使用者失敗", "field", field, "error", err)
		return nil, dbError("get user by "+field, err)
	}
	return &u, nil
}

// dbError 連線失敗或超時轉成 ErrDatabaseUnavailable，其餘保留原始錯誤
func dbError(op string, err error) error {
	var connectErr *pgconn.ConnectError
	if pgconn.Timeout(err) || errors.As(err, &connectErr) {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrDatabaseUnavailable.Message).WithDetails(op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
