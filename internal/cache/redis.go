// Package cache содержит кэш времени последних просмотров на базе Redis.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/adrewards/internal/model"
)

const keyPrefix = "adrewards:cooldown:"

// Connect создаёт клиент Redis по URL (redis://...) или по адресу host:port и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CooldownCache хранит время последнего засчитанного просмотра в хэше на пользователя.
// Источником истины остаётся журнал в БД: кэш пополняется только после фиксации транзакции.
type CooldownCache struct {
	client *redis.Client
}

// NewCooldownCache создаёт кэш поверх готового клиента Redis.
func NewCooldownCache(client *redis.Client) *CooldownCache {
	return &CooldownCache{client: client}
}

func accountKey(accountID int64) string {
	return keyPrefix + strconv.FormatInt(accountID, 10)
}

// Remember сохраняет время просмотра. TTL хэша продлевается при каждой записи.
func (c *CooldownCache) Remember(ctx context.Context, accountID, adID int64, at time.Time) error {
	key := accountKey(accountID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, strconv.FormatInt(adID, 10), at.UnixMilli())
		p.Expire(ctx, key, model.EngagementCooldown)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember cooldown: %w", err)
	}
	return nil
}

// Last возвращает время последнего просмотра объявления, если оно есть в кэше.
func (c *CooldownCache) Last(ctx context.Context, accountID, adID int64) (time.Time, bool, error) {
	raw, err := c.client.HGet(ctx, accountKey(accountID), strconv.FormatInt(adID, 10)).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get cooldown: %w", err)
	}

	at, ok := parseMillis(raw)
	return at, ok, nil
}

// Close закрывает соединение с Redis.
func (c *CooldownCache) Close() error {
	return c.client.Close()
}

func parseMillis(raw string) (time.Time, bool) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
