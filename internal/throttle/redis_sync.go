package throttle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v7"
)

// RedisSync externalises bucket accounting into Redis so that multiple
// dispatcher processes sharing one exchange canonical observe the same
// budget. It layers on top of the process-local Throttler rather than
// replacing it: the local view stays authoritative for FIFO ordering
// within this process, while Redis provides the cross-process ceiling.
type RedisSync struct {
	client *redis.Client
}

func NewRedisSync(client *redis.Client) *RedisSync {
	return &RedisSync{client: client}
}

func key(canonical, bucket string) string {
	return fmt.Sprintf("throttle:%s:%s", canonical, bucket)
}

// Reserve adds weight to the bucket's Redis sorted set (scored by expiry
// unix-nano), then reads back every other process's live reservations in
// the same set. If their combined weight plus this one would exceed
// capacity, it walks them in expiry order — as if retiring the
// earliest-expiring entries first — until enough of the externally-held
// budget would have freed up, and returns that later time instead of at.
// Redis here only ever pushes admission later, mirroring the "never
// downward" clamp rule RecordResponseHeaders applies locally.
func (s *RedisSync) Reserve(ctx context.Context, canonical, bucket string, weight, capacity int64, at, expireAt time.Time) (time.Time, error) {
	k := key(canonical, bucket)
	member := fmt.Sprintf("%d:%d", at.UnixNano(), weight)
	score := float64(expireAt.UnixNano())

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(k, "-inf", fmt.Sprintf("%d", at.UnixNano()))
	pipe.ZAdd(k, &redis.Z{Score: score, Member: member})
	pipe.PExpireAt(k, expireAt)
	if _, err := pipe.Exec(); err != nil {
		return at, err
	}
	if capacity <= 0 {
		return at, nil
	}

	entries, err := s.liveEntries(k, at)
	if err != nil {
		return at, err
	}

	var total int64
	for _, e := range entries {
		total += e.weight
	}
	if total <= capacity {
		return at, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].expireAt.Before(entries[j].expireAt) })
	remaining := total
	for _, e := range entries {
		remaining -= e.weight
		if remaining <= capacity {
			if e.expireAt.After(at) {
				return e.expireAt, nil
			}
			return at, nil
		}
	}
	// Every live entry would need to retire and it's still over capacity;
	// nothing earlier than the last entry's expiry can possibly fit.
	if len(entries) > 0 {
		last := entries[len(entries)-1].expireAt
		if last.After(at) {
			return last, nil
		}
	}
	return at, nil
}

type syncEntry struct {
	weight   int64
	expireAt time.Time
}

func (s *RedisSync) liveEntries(k string, now time.Time) ([]syncEntry, error) {
	members, err := s.client.ZRangeByScoreWithScores(k, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", now.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]syncEntry, 0, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var atNano, w int64
		if _, err := fmt.Sscanf(member, "%d:%d", &atNano, &w); err != nil {
			continue
		}
		entries = append(entries, syncEntry{weight: w, expireAt: time.Unix(0, int64(z.Score))})
	}
	return entries, nil
}

// UsedWeight sums the weights of un-expired entries in bucket's sorted
// set, for reconciliation against RecordResponseHeaders or for an
// operator dashboard to read the cross-process picture.
func (s *RedisSync) UsedWeight(canonical, bucket string, now time.Time) (int64, error) {
	entries, err := s.liveEntries(key(canonical, bucket), now)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.weight
	}
	return total, nil
}
