package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"blafast-backend/config"
	"blafast-backend/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ Queue = (*Redis)(nil)

// Redis implements the lane queue on redis streams: one stream + consumer
// group per lane, plus a ZSET of delayed retries drained by the Scheduler.
type Redis struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func NewRedis(cfg config.Redis) *Redis {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{Cfg: cfg, Rdb: c}
}

func (r *Redis) stream(lane models.Priority) string {
	switch lane {
	case models.PriorityHigh:
		return r.Cfg.HighStream
	case models.PriorityLow:
		return r.Cfg.LowStream
	default:
		return r.Cfg.DefaultStream
	}
}

// Init ensures every lane stream and its consumer group exist.
func (r *Redis) Init(ctx context.Context) error {
	if err := r.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	for _, lane := range Lanes {
		err := r.Rdb.XGroupCreateMkStream(ctx, r.stream(lane), r.Cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group for %s: %w", r.stream(lane), err)
		}
	}
	log.Ctx(ctx).Info().Str("group", r.Cfg.Group).Msg("redis lane streams and consumer groups ready")
	return nil
}

func (r *Redis) Enqueue(ctx context.Context, lane models.Priority, env Envelope) error {
	b, _ := json.Marshal(env)
	return r.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream(lane),
		Values: map[string]interface{}{"envelope": b},
	}).Err()
}

// delayedEntry is the ZSET member: the lane travels with the envelope so the
// scheduler knows which stream to surface it on.
type delayedEntry struct {
	Lane     models.Priority `json:"lane"`
	Envelope Envelope        `json:"envelope"`
}

func (r *Redis) EnqueueDelayed(ctx context.Context, lane models.Priority, env Envelope, runAt time.Time) error {
	b, _ := json.Marshal(delayedEntry{Lane: lane, Envelope: env})
	return r.Rdb.ZAdd(ctx, r.Cfg.ScheduledZSet, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: b,
	}).Err()
}

func (r *Redis) Claim(ctx context.Context, lane models.Priority, consumer string, block time.Duration) (*Envelope, string, error) {
	res, err := r.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.Cfg.Group,
		Consumer: consumer,
		Streams:  []string{r.stream(lane), ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, "", nil
	}

	msg := res[0].Messages[0]
	raw := msg.Values["envelope"]
	var env Envelope
	switch v := raw.(type) {
	case string:
		_ = json.Unmarshal([]byte(v), &env)
	case []byte:
		_ = json.Unmarshal(v, &env)
	default:
		return nil, "", fmt.Errorf("unexpected envelope type: %T", v)
	}
	return &env, msg.ID, nil
}

func (r *Redis) Ack(ctx context.Context, lane models.Priority, deliveryID string) error {
	return r.Rdb.XAck(ctx, r.stream(lane), r.Cfg.Group, deliveryID).Err()
}

// Scheduler moves due delayed retries from the ZSET onto their lane streams.
type Scheduler struct {
	R        *Redis
	Interval time.Duration
}

func NewScheduler(r *Redis, interval time.Duration) *Scheduler {
	return &Scheduler{R: r, Interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := s.moveDue(ctx); err != nil {
			log.Ctx(ctx).Err(err).Msg("scheduler pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) moveDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := s.R.Rdb.ZRangeByScore(ctx, s.R.Cfg.ScheduledZSet, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    now,
		Offset: 0,
		Count:  128,
	}).Result()
	if err != nil {
		return err
	}

	for _, m := range members {
		var entry delayedEntry
		if err := json.Unmarshal([]byte(m), &entry); err != nil {
			// Poison member; drop it rather than loop forever.
			log.Ctx(ctx).Warn().Str("member", m).Msg("dropping unparseable scheduled entry")
			_ = s.R.Rdb.ZRem(ctx, s.R.Cfg.ScheduledZSet, m).Err()
			continue
		}
		if err := s.R.Enqueue(ctx, entry.Lane, entry.Envelope); err == nil {
			_ = s.R.Rdb.ZRem(ctx, s.R.Cfg.ScheduledZSet, m).Err()
		}
	}
	return nil
}
