package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей для кэшированных курсов
	rateKeyPrefix = "fx_rate:"

	// DefaultRateTTL сколько хранится полученный курс
	DefaultRateTTL = 30 * time.Minute
)

// RedisCacheRepository кэширует курсы валют в Redis
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository подключается к Redis и проверяет соединение
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, ttl time.Duration, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultRateTTL
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return NewRedisCacheRepositoryWithClient(client, ttl, log), nil
}

// NewRedisCacheRepositoryWithClient оборачивает существующий клиент
func NewRedisCacheRepositoryWithClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

func rateKey(from, to string) string {
	return rateKeyPrefix + strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// CacheRate сохраняет курс from→to
func (r *RedisCacheRepository) CacheRate(ctx context.Context, from, to string, rate float64) error {
	key := rateKey(from, to)
	value := strconv.FormatFloat(rate, 'f', -1, 64)

	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.log.Errorw("Failed to cache exchange rate in Redis", "error", err, "key", key)
		return fmt.Errorf("failed to cache exchange rate: %w", err)
	}

	r.log.Debugw("Exchange rate cached", "key", key, "rate", rate)
	return nil
}

// GetCachedRate возвращает курс из кэша, ok равен false при промахе
func (r *RedisCacheRepository) GetCachedRate(ctx context.Context, from, to string) (float64, bool, error) {
	key := rateKey(from, to)

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		r.log.Errorw("Error getting exchange rate from Redis", "error", err, "key", key)
		return 0, false, fmt.Errorf("failed to get exchange rate from cache: %w", err)
	}

	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.log.Warnw("Discarding unparsable cached exchange rate", "key", key, "value", value)
		return 0, false, nil
	}

	return rate, true, nil
}
