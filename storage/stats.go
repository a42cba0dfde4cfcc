package storage

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Monotonic processing counters. The backing counter is 64-bit; on
// overflow the counter wraps to 0 instead of failing.

const (
	counterMessages = "stats:messages"
	counterServices = "stats:services"
)

type Stats interface {
	IncrementMessages(ctx context.Context) error
	IncrementServices(ctx context.Context) error
	ProcessedMessages(ctx context.Context) (int64, error)
	ProcessedServices(ctx context.Context) (int64, error)
	ResetCounters(ctx context.Context) error
}

type RedisStats struct {
	client *redis.Client
}

func NewRedisStats(client *redis.Client) *RedisStats {
	return &RedisStats{client: client}
}

func (s *RedisStats) IncrementMessages(ctx context.Context) error {
	return s.increment(ctx, counterMessages)
}

func (s *RedisStats) IncrementServices(ctx context.Context) error {
	return s.increment(ctx, counterServices)
}

func (s *RedisStats) increment(ctx context.Context, counter string) error {
	err := s.client.Incr(ctx, counter).Err()
	if err != nil && strings.Contains(err.Error(), "increment or decrement would overflow") {
		return errors.Wrap(s.client.Set(ctx, counter, 0, 0).Err(), "wrapping counter")
	}
	return errors.Wrap(err, "incrementing counter")
}

func (s *RedisStats) ProcessedMessages(ctx context.Context) (int64, error) {
	return s.counter(ctx, counterMessages)
}

func (s *RedisStats) ProcessedServices(ctx context.Context) (int64, error) {
	return s.counter(ctx, counterServices)
}

func (s *RedisStats) counter(ctx context.Context, counter string) (int64, error) {
	value, err := s.client.Get(ctx, counter).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return value, errors.Wrap(err, "reading counter")
}

func (s *RedisStats) ResetCounters(ctx context.Context) error {
	return errors.Wrap(
		s.client.Del(ctx, counterMessages, counterServices).Err(),
		"resetting counters")
}

// MemoryStats implements Stats in memory, with the same wrap-to-0
// overflow behavior as the Redis backend.
type MemoryStats struct {
	mu       sync.Mutex
	messages int64
	services int64
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{}
}

// SetMessages primes the message counter, e.g. near the overflow
// boundary.
func (s *MemoryStats) SetMessages(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = v
}

func (s *MemoryStats) IncrementMessages(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = wrapIncrement(s.messages)
	return nil
}

func (s *MemoryStats) IncrementServices(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = wrapIncrement(s.services)
	return nil
}

func (s *MemoryStats) ProcessedMessages(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages, nil
}

func (s *MemoryStats) ProcessedServices(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services, nil
}

func (s *MemoryStats) ResetCounters(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = 0
	s.services = 0
	return nil
}

func wrapIncrement(v int64) int64 {
	if v == math.MaxInt64 {
		return 0
	}
	return v + 1
}
