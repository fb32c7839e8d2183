// Package cache реализует кэширование живого статуса, последних отчетов
// и счетчиков в Redis
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"vibration-monitor/internal/models"
)

const (
	// StatusKeyPrefix префикс для живого статуса сессии
	StatusKeyPrefix = "status:"
	// SummaryKeyPrefix префикс для итогов сессий
	SummaryKeyPrefix = "summary:"
	// LatestReportsKey список последних отчетов по окнам
	LatestReportsKey = "reports:latest"
	// LatestReportsLimit сколько отчетов хранится в списке
	LatestReportsLimit = 1000

	// Счетчики
	WindowsCounterKey  = "stats:windows"
	AlertsCounterKey   = "stats:alerts"
	SessionsCounterKey = "stats:sessions"

	// StatusTTL время жизни живого статуса
	StatusTTL = 5 * time.Minute
	// SummaryTTL время жизни итога сессии
	SummaryTTL = 24 * time.Hour
)

// ErrMiss возвращается, когда ключа нет в кэше
var ErrMiss = errors.New("cache miss")

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Name реализует контракт потребителя событий
func (r *RedisCache) Name() string { return "redis" }

// Consume кэширует статус окна, итог сессии и обновляет счетчики
func (r *RedisCache) Consume(ctx context.Context, e models.Event) error {
	switch e.Kind {
	case models.EventWindow:
		if e.Status != nil {
			return r.CacheStatus(ctx, *e.Status)
		}
	case models.EventAlert:
		_, err := r.IncrementCounter(ctx, AlertsCounterKey)
		return err
	case models.EventSummary:
		if e.Summary != nil {
			return r.CacheSummary(ctx, *e.Summary)
		}
	}
	return nil
}

// CacheStatus сохраняет живой статус сессии и добавляет его в список
// последних отчетов
func (r *RedisCache) CacheStatus(ctx context.Context, st models.LiveStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, StatusKeyPrefix+st.SessionID, data, StatusTTL)
	pipe.LPush(ctx, LatestReportsKey, data)
	pipe.LTrim(ctx, LatestReportsKey, 0, LatestReportsLimit-1)
	pipe.Incr(ctx, WindowsCounterKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// GetStatus возвращает закэшированный статус сессии
func (r *RedisCache) GetStatus(ctx context.Context, sessionID string) (models.LiveStatus, error) {
	var st models.LiveStatus
	err := r.Get(ctx, StatusKeyPrefix+sessionID, &st)
	return st, err
}

// GetLatestReports возвращает последние count отчетов по окнам, новые первыми
func (r *RedisCache) GetLatestReports(ctx context.Context, count int64) ([]models.LiveStatus, error) {
	data, err := r.client.LRange(ctx, LatestReportsKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reports: %w", err)
	}

	reports := make([]models.LiveStatus, 0, len(data))
	for _, d := range data {
		var st models.LiveStatus
		if err := json.Unmarshal([]byte(d), &st); err != nil {
			continue
		}
		reports = append(reports, st)
	}
	return reports, nil
}

// CacheSummary сохраняет итог сессии
func (r *RedisCache) CacheSummary(ctx context.Context, sum models.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, SummaryKeyPrefix+sum.SessionID, data, SummaryTTL)
	pipe.Del(ctx, StatusKeyPrefix+sum.SessionID)
	pipe.Incr(ctx, SessionsCounterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache summary: %w", err)
	}
	return nil
}

// GetSummary возвращает закэшированный итог сессии
func (r *RedisCache) GetSummary(ctx context.Context, sessionID string) (models.Summary, error) {
	var sum models.Summary
	err := r.Get(ctx, SummaryKeyPrefix+sessionID, &sum)
	return sum, err
}

// IncrementCounter увеличивает счетчик
func (r *RedisCache) IncrementCounter(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Get получает значение по ключу; ErrMiss, если ключа нет
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", ErrMiss, key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// FlushDB очищает базу (только для тестов)
func (r *RedisCache) FlushDB(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}
