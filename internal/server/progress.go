package server

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	core "github.com/consultdeck/deckgen/internal/deck/core"
)

// progressChannelPrefix is joined with the job id to form the Redis
// pub/sub channel a client subscribes to for live progress.
const progressChannelPrefix = "deckgen:progress:"

// RedisProgressSink publishes pipeline progress events to Redis
// pub/sub. Publish failures are logged, not propagated: losing a
// progress event must not fail a job.
type RedisProgressSink struct {
	rdb    *redis.Client
	logger *log.Logger
}

func NewRedisProgressSink(rdb *redis.Client) *RedisProgressSink {
	return &RedisProgressSink{
		rdb:    rdb,
		logger: log.New(log.Writer(), "[PROGRESS] ", log.LstdFlags),
	}
}

func (s *RedisProgressSink) Publish(ctx context.Context, event core.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Printf("marshal progress event: %v", err)
		return
	}
	if err := s.rdb.Publish(ctx, progressChannelPrefix+event.JobID, payload).Err(); err != nil {
		s.logger.Printf("publish progress for job %s: %v", event.JobID, err)
	}
}
