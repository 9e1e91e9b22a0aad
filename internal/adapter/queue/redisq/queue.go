package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	r "github.com/redis/go-redis/v9"

	"github.com/migrahosting-alt/mpanel-sub000/internal/config"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
)

// Client is the queue transport: one ready list and one delay set per
// job type. It only wakes workers; the jobs table stays authoritative.
type Client struct {
	rdb *r.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{rdb: r.NewClient(&r.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})}
}

// NewFromRedis wraps an existing redis client, mainly for tests.
func NewFromRedis(rdb *r.Client) *Client {
	return &Client{rdb: rdb}
}

func readyKey(t job.Type) string { return "queue:" + string(t) }
func delayKey(t job.Type) string { return "delay:" + string(t) }

func (c *Client) Push(ctx context.Context, jobType job.Type, jobID int64) error {
	return c.rdb.LPush(ctx, readyKey(jobType), jobID).Err()
}

func (c *Client) PushDelayed(ctx context.Context, jobType job.Type, jobID int64, runAt time.Time) error {
	if !runAt.After(time.Now()) {
		return c.Push(ctx, jobType, jobID)
	}
	return c.rdb.ZAdd(ctx, delayKey(jobType), r.Z{
		Score:  float64(runAt.Unix()),
		Member: jobID,
	}).Err()
}

// Pop blocks up to timeout and returns 0 when nothing arrived, so
// workers can check for shutdown without busy-looping.
func (c *Client) Pop(ctx context.Context, jobType job.Type, timeout time.Duration) (int64, error) {
	res, err := c.rdb.BRPop(ctx, timeout, readyKey(jobType)).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return 0, nil
		}
		return 0, err
	}
	if len(res) != 2 {
		return 0, nil
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed job id %q: %w", res[1], err)
	}
	return id, nil
}

// MoveDue promotes delayed job ids whose run time has passed onto the
// ready list.
func (c *Client) MoveDue(ctx context.Context, jobType job.Type, now time.Time, batch int64) error {
	ids, err := c.rdb.ZRangeByScore(ctx, delayKey(jobType), &r.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.Unix()),
		Offset: 0,
		Count:  batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}

	pipe := c.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, readyKey(jobType), id)
		pipe.ZRem(ctx, delayKey(jobType), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
