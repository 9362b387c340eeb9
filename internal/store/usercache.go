package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/typetrial/internal/race"
)

const userKeyPrefix = "typetrial:user:"

// CachedUsers Redis 讀穿快取
//
// 快取失效只靠 TTL，平均速度最多落後一個 TTL。
// Redis 出錯時直接查下游，不影響完賽流程。
type CachedUsers struct {
	next   race.UserLookup
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedUsers 創建使用者查詢快取
func NewCachedUsers(next race.UserLookup, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedUsers {
	return &CachedUsers{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "user_cache"),
	}
}

func userKey(field, value string) string {
	return fmt.Sprintf("%s%s:%s", userKeyPrefix, field, value)
}

// GetUserByField 先查 Redis，未命中再查下游並回寫
func (c *CachedUsers) GetUserByField(ctx context.Context, field, value string) (*race.User, error) {
	key := userKey(field, value)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u race.User
		if jsonErr := json.Unmarshal(data, &u); jsonErr == nil {
			return &u, nil
		}
		c.logger.WarnContext(ctx, "快取資料損壞，重新查詢", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "Redis 讀取失敗，改查資料庫", "key", key, "error", err)
	}

	u, err := c.next.GetUserByField(ctx, field, value)
	if err != nil || u == nil {
		return u, err
	}

	encoded, err := json.Marshal(u)
	if err != nil {
		return u, nil
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Redis 寫入失敗", "key", key, "error", err)
	}
	return u, nil
}
