package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
)

// redisBatch is one queued write: a target's values, or an availability
// change when avail is set.
type redisBatch struct {
	target Target
	values []Value
	stamp  time.Time
	avail  *bool
}

// RedisSink mirrors each target into a hash at <prefix>:<target> and
// announces updates on a pub/sub channel. All writes happen on a worker;
// batches are dropped when the queue is full.
type RedisSink struct {
	cfg    config.RedisConfig
	client *redis.Client
	queue  chan redisBatch
}

func NewRedisSink(cfg config.RedisConfig) *RedisSink {
	return &RedisSink{
		cfg: cfg,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		queue: make(chan redisBatch, 64),
	}
}

func (s *RedisSink) Name() string { return "redis" }

// Connect checks the server is reachable.
func (s *RedisSink) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", s.cfg.Addr, err)
	}
	return nil
}

// Start runs the write worker until ctx is cancelled.
func (s *RedisSink) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-s.queue:
				if b.avail != nil {
					if err := s.writeStatus(ctx, *b.avail); err != nil {
						log.Printf("[redis] set status: %v", err)
					}
					continue
				}
				if err := s.write(ctx, b); err != nil {
					log.Printf("[redis] %s: %v", b.target, err)
				}
			}
		}
	}()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) Publish(t Target, values []Value) {
	select {
	case s.queue <- redisBatch{target: t, values: values, stamp: time.Now()}:
	default:
		log.Printf("[redis] queue full, dropping %s update", t)
	}
}

// SetAvailable queues a status change for the worker.
func (s *RedisSink) SetAvailable(up bool) {
	select {
	case s.queue <- redisBatch{avail: &up, stamp: time.Now()}:
	default:
		log.Printf("[redis] queue full, dropping status update")
	}
}

func (s *RedisSink) writeStatus(ctx context.Context, up bool) error {
	state := statusOffline
	if up {
		state = statusOnline
	}
	return s.client.Set(ctx, s.statusKey(), state, 0).Err()
}

func (s *RedisSink) write(ctx context.Context, b redisBatch) error {
	key := s.hashKey(b.target)
	set, del := hashFields(b.values)
	set["updated"] = b.stamp.UTC().Format(time.RFC3339)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, set)
	if len(del) > 0 {
		pipe.HDel(ctx, key, del...)
	}
	if s.cfg.Channel != "" {
		pipe.Publish(ctx, s.cfg.Channel, key)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// hashFields splits values into fields to set and absent fields to delete.
func hashFields(values []Value) (map[string]interface{}, []string) {
	set := make(map[string]interface{}, len(values)+1)
	var del []string
	for _, v := range values {
		if v.Present() {
			set[v.Entity] = v.Payload()
		} else {
			del = append(del, v.Entity)
		}
	}
	return set, del
}

func (s *RedisSink) hashKey(t Target) string {
	if s.cfg.KeyPrefix == "" {
		return t.Key()
	}
	return s.cfg.KeyPrefix + ":" + t.Key()
}

func (s *RedisSink) statusKey() string {
	if s.cfg.KeyPrefix == "" {
		return "status"
	}
	return s.cfg.KeyPrefix + ":status"
}
