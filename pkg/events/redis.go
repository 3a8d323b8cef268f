package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// RedisSink appends events to Redis Streams. Events of one instance share
// the stream key "windlass:events:<instance_id>", so XADD preserves
// per-instance (and therefore per-UOW) order; instance-less events go to
// "windlass:events:system".
type RedisSink struct {
	client  redis.UniversalClient
	maxLen  int64
	dropped atomic.Uint64
}

// NewRedisSink wraps an existing client. maxLen > 0 trims streams
// approximately (XADD MAXLEN ~) to bound memory.
func NewRedisSink(client redis.UniversalClient, maxLen int64) *RedisSink {
	return &RedisSink{client: client, maxLen: maxLen}
}

// NewRedisSinkURL connects from a redis:// URL.
func NewRedisSinkURL(url string, maxLen int64) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	return NewRedisSink(redis.NewClient(opts), maxLen), nil
}

// StreamKey returns the stream an instance's events land on.
func StreamKey(instanceID string) string {
	if instanceID == "" {
		return "windlass:events:system"
	}
	return "windlass:events:" + instanceID
}

func (s *RedisSink) Write(ctx context.Context, ev *contracts.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("events: encode payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: StreamKey(ev.InstanceID),
		Values: map[string]any{
			"seq":     ev.Seq,
			"ts_utc":  ev.TS.Format("2006-01-02T15:04:05.000000000Z07:00"),
			"type":    ev.Type,
			"uow_id":  ev.UOWID,
			"payload": string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("events: xadd: %w", err)
	}
	return nil
}

func (s *RedisSink) Dropped() uint64 { return s.dropped.Load() }

func (s *RedisSink) Close() error { return s.client.Close() }

// Trim deletes stream entries older than minID on one instance stream.
// Memory decay uses it; history rows are never touched.
func (s *RedisSink) Trim(ctx context.Context, instanceID, minID string) (int64, error) {
	return s.client.XTrimMinID(ctx, StreamKey(instanceID), minID).Result()
}
