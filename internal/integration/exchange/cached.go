package exchange

import (
	"context"

	"github.com/Dhoini/numgate/pkg/logger"
)

// RateSource источник курса конвертации
type RateSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// RateCache хранит полученные курсы некоторое время
type RateCache interface {
	CacheRate(ctx context.Context, from, to string, rate float64) error
	GetCachedRate(ctx context.Context, from, to string) (float64, bool, error)
}

// CachedSource отвечает из кэша и при промахе обращается к источнику. Ошибки
// кэша никогда не ломают запрос курса.
type CachedSource struct {
	source RateSource
	cache  RateCache
	log    *logger.Logger
}

// NewCachedSource оборачивает source кэшем cache
func NewCachedSource(source RateSource, cache RateCache, log *logger.Logger) *CachedSource {
	return &CachedSource{source: source, cache: cache, log: log}
}

func (c *CachedSource) Rate(ctx context.Context, from, to string) (float64, error) {
	rate, ok, err := c.cache.GetCachedRate(ctx, from, to)
	if err != nil {
		c.log.Warnw("Rate cache read failed", "from", from, "to", to, "error", err)
	} else if ok {
		return rate, nil
	}

	rate, err = c.source.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}

	if err := c.cache.CacheRate(ctx, from, to, rate); err != nil {
		c.log.Warnw("Rate cache write failed", "from", from, "to", to, "error", err)
	}
	return rate, nil
}
