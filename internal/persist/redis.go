package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/UynajGI/yuusim/internal/compress"
)

const defaultRedisPrefix = "yuusim:"

type RedisOptions struct {
	Prefix      string        // key prefix, "yuusim:" by default
	TTL         time.Duration // 0 keeps snapshots forever
	Compression compress.Algorithm
}

// RedisStore keeps each snapshot in a hash at <prefix>snapshot:<project>:<run>
// and indexes runs per project in a sorted set scored by creation time.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.Compression == "" {
		opts.Compression = compress.LZ4
	}
	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) snapshotKey(project, runID string) string {
	return s.opts.Prefix + "snapshot:" + project + ":" + runID
}

func (s *RedisStore) indexKey(project string) string {
	return s.opts.Prefix + "index:" + project
}

func (s *RedisStore) Save(ctx context.Context, project string, snap *Snapshot) error {
	if snap == nil || snap.RunID == "" {
		return fmt.Errorf("persist: invalid snapshot")
	}
	payload, err := encode(snap, s.opts.Compression)
	if err != nil {
		return err
	}

	key := s.snapshotKey(project, snap.RunID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"config_hash": snap.ConfigHash,
			"created_at":  snap.CreatedAt.UnixNano(),
			"tasks":       len(snap.Tasks),
			"compression": string(s.opts.Compression),
			"checksum":    checksum(payload),
			"payload":     payload,
		})
		if s.opts.TTL > 0 {
			pipe.Expire(ctx, key, s.opts.TTL)
		}
		pipe.ZAdd(ctx, s.indexKey(project), redis.Z{
			Score:  float64(snap.CreatedAt.UnixNano()),
			Member: snap.RunID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the newest snapshot whose key has not expired. Index entries
// pointing at expired keys are pruned on the way.
func (s *RedisStore) Load(ctx context.Context, project string) (*Snapshot, error) {
	runIDs, err := s.client.ZRevRange(ctx, s.indexKey(project), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	for _, runID := range runIDs {
		fields, err := s.client.HGetAll(ctx, s.snapshotKey(project, runID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get snapshot: %w", err)
		}
		if len(fields) == 0 {
			if err := s.client.ZRem(ctx, s.indexKey(project), runID).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune expired run %s: %w", runID, err)
			}
			continue
		}

		payload := []byte(fields["payload"])
		if got := checksum(payload); got != fields["checksum"] {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, fields["checksum"], got)
		}
		return decode(compress.Algorithm(fields["compression"]), payload)
	}

	return nil, fmt.Errorf("%w: project %s", ErrNotFound, project)
}

func (s *RedisStore) List(ctx context.Context, project string) ([]Meta, error) {
	runIDs, err := s.client.ZRevRange(ctx, s.indexKey(project), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	metas := make([]Meta, 0, len(runIDs))
	for _, runID := range runIDs {
		vals, err := s.client.HMGet(ctx, s.snapshotKey(project, runID),
			"config_hash", "created_at", "tasks", "compression", "payload").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get snapshot meta: %w", err)
		}
		if vals[0] == nil {
			continue
		}

		m := Meta{Project: project, RunID: runID}
		m.ConfigHash, _ = vals[0].(string)
		if ns, err := strconv.ParseInt(str(vals[1]), 10, 64); err == nil {
			m.CreatedAt = time.Unix(0, ns).UTC()
		}
		m.Tasks, _ = strconv.Atoi(str(vals[2]))
		m.Compression = compress.Algorithm(str(vals[3]))
		m.Size = len(str(vals[4]))
		metas = append(metas, m)
	}
	return metas, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
