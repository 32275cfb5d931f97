package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisPollInterval = time.Second
	redisMoveBatch    = 100
)

// RedisTransport keeps envelopes in a hash and their ids in three places: a
// ready list, a delayed set scored by due time and a leased set scored by
// lease expiry.
type RedisTransport struct {
	rdb           redis.Cmdable
	prefix        string
	leaseDuration time.Duration

	mu      sync.Mutex
	onStall func(jobID string)
}

func NewRedisTransport(rdb redis.Cmdable, prefix string, leaseDuration time.Duration) *RedisTransport {
	return &RedisTransport{rdb: rdb, prefix: prefix, leaseDuration: leaseDuration}
}

func (t *RedisTransport) key(name string) string { return t.prefix + ":" + name }

func (t *RedisTransport) OnStall(fn func(jobID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStall = fn
}

func (t *RedisTransport) Enqueue(ctx context.Context, env Envelope) error {
	env.Normalize()
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, t.key("jobs"), env.ID, body)
	pipe.LPush(ctx, t.key("ready"), env.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", env.ID, err)
	}
	return nil
}

func (t *RedisTransport) Lease(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := time.Now()
		if err := t.promoteDue(ctx, now); err != nil {
			return nil, err
		}
		if err := t.reapExpired(ctx, now); err != nil {
			return nil, err
		}

		res, err := t.rdb.BRPop(ctx, redisPollInterval, t.key("ready")).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pop ready job: %w", err)
		}
		if len(res) != 2 {
			continue
		}
		id := res[1]

		body, err := t.rdb.HGet(ctx, t.key("jobs"), id).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", id, err)
		}

		token := uuid.New().String()
		expires := now.Add(t.leaseDuration)
		if err := t.rdb.ZAdd(ctx, t.key("leased"), redis.Z{
			Score:  float64(expires.UnixMilli()),
			Member: leaseMember(id, token),
		}).Err(); err != nil {
			return nil, fmt.Errorf("lease job %s: %w", id, err)
		}

		job, _, decodeErr := DecodeBytes(body, id)
		job.Status = StatusActive
		job.LeaseToken = token
		job.LeaseExpiresAt = expires
		return job, decodeErr
	}
}

func (t *RedisTransport) Ack(ctx context.Context, job *Job) error {
	if err := t.release(ctx, job); err != nil {
		return err
	}
	return t.rdb.HDel(ctx, t.key("jobs"), job.ID).Err()
}

func (t *RedisTransport) Nack(ctx context.Context, job *Job, delay time.Duration) error {
	if err := t.release(ctx, job); err != nil {
		return err
	}
	env := job.Envelope()
	env.Attempts++
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, t.key("jobs"), job.ID, body)
	if delay > 0 {
		pipe.ZAdd(ctx, t.key("delayed"), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.LPush(ctx, t.key("ready"), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	return nil
}

func (t *RedisTransport) Fail(ctx context.Context, job *Job, reason string) error {
	if err := t.release(ctx, job); err != nil {
		return err
	}
	pipe := t.rdb.TxPipeline()
	pipe.HDel(ctx, t.key("jobs"), job.ID)
	pipe.HSet(ctx, t.key("failed"), job.ID, reason)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTransport) Close() error { return nil }

// release drops the lease. Zero removed members means the reaper already
// handed the job back to the queue.
func (t *RedisTransport) release(ctx context.Context, job *Job) error {
	n, err := t.rdb.ZRem(ctx, t.key("leased"), leaseMember(job.ID, job.LeaseToken)).Result()
	if err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, job.ID)
	}
	return nil
}

func (t *RedisTransport) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := t.rdb.ZRangeByScore(ctx, t.key("delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: redisMoveBatch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	for _, id := range ids {
		if _, err := t.move(ctx, "delayed", id, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *RedisTransport) reapExpired(ctx context.Context, now time.Time) error {
	members, err := t.rdb.ZRangeByScore(ctx, t.key("leased"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: redisMoveBatch,
	}).Result()
	if err != nil || len(members) == 0 {
		return err
	}

	t.mu.Lock()
	fn := t.onStall
	t.mu.Unlock()

	for _, member := range members {
		id, _, _ := strings.Cut(member, "|")
		moved, err := t.move(ctx, "leased", member, id)
		if err != nil {
			return err
		}
		if moved && fn != nil {
			fn(id)
		}
	}
	return nil
}

// move pushes id onto the ready list if this caller is the one that removed
// member from the named set. Concurrent workers race on ZREM and only one wins.
func (t *RedisTransport) move(ctx context.Context, set, member, id string) (bool, error) {
	n, err := t.rdb.ZRem(ctx, t.key(set), member).Result()
	if err != nil {
		return false, fmt.Errorf("move %s from %s: %w", id, set, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := t.rdb.LPush(ctx, t.key("ready"), id).Err(); err != nil {
		return false, fmt.Errorf("move %s to ready: %w", id, err)
	}
	return true, nil
}

func leaseMember(id, token string) string { return id + "|" + token }
