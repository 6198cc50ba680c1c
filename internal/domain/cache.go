package domain

import (
	"context"
	"time"
)

// RateCache keeps the latest summaries for fast reads by the API.
type RateCache interface {
	SetRate(ctx context.Context, s CurrencySummary) error
	GetRates(ctx context.Context, league string) ([]CurrencySummary, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus provides fire-and-forget pub/sub.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels.
const (
	ChannelSummaries = "poefixer:summaries"
	ChannelPasses    = "poefixer:passes"
)

// RateLimiter paces requests to an external API across processes.
type RateLimiter interface {
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
