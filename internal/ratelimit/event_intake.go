package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jijenga/referral/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyEventIntakeSource = "events:intake:source:%s"
	keyJobLock           = "scheduler:job:lock:%s"
)

// EventIntakeLimiter throttles the public event intake per source IP and
// hands out scheduler job locks. A nil limiter (rate limiting disabled)
// allows everything.
type EventIntakeLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	intakeRate  float64
	intakeBurst int
	lockTTL     time.Duration
}

func NewEventIntakeLimiter(cfg config.Config) (*EventIntakeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IntakeRate <= 0 || limitCfg.IntakeBurst <= 0 {
		return nil, errors.New("event intake rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &EventIntakeLimiter{
		enabled:     true,
		bucket:      NewTokenBucket(client),
		locker:      NewLocker(client),
		intakeRate:  limitCfg.IntakeRate,
		intakeBurst: limitCfg.IntakeBurst,
		lockTTL:     time.Duration(limitCfg.LockTTLSeconds) * time.Second,
	}, nil
}

func (l *EventIntakeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *EventIntakeLimiter) AllowSource(ctx context.Context, source string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEventIntakeSource, strings.TrimSpace(source)), l.intakeRate, l.intakeBurst)
}

// TryLockJob fences a named scheduler job across instances.
func (l *EventIntakeLimiter) TryLockJob(ctx context.Context, job string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyJobLock, strings.TrimSpace(job)), l.lockTTL)
}

func (l *EventIntakeLimiter) ReleaseJob(ctx context.Context, job string, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyJobLock, strings.TrimSpace(job)), token)
}
