// Package redis adapts a go-redis client to store.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/conjcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const defaultScanCount = 512

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	scanCount   int64
}

// testHookBeforeExec runs after WATCH and before MULTI/EXEC.
var testHookBeforeExec = func() {}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool  // set true only if this store exclusively owns the client
	ScanCount   int64 // SCAN COUNT hint for Keys; 0 => 512
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	sc := cfg.ScanCount
	if sc <= 0 {
		sc = defaultScanCount
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, scanCount: sc}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, normTTL(ttl)).Err()
}

func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.rdb.SAdd(ctx, key, toArgs(members)...).Err()
}

func (s *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *Redis) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.rdb.SUnion(ctx, keys...).Result()
}

func (s *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, keys...).Result()
}

// Keys walks the keyspace with SCAN rather than KEYS so a large keyspace does
// not block the server. The result may include keys written during the walk.
func (s *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, pattern, s.scanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup { // SCAN may return a key more than once
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FlushAll issues FLUSHDB: only the logical database the client is bound to
// is emptied.
func (s *Redis) FlushAll(ctx context.Context) error {
	return s.rdb.FlushDB(ctx).Err()
}

func (s *Redis) Exec(ctx context.Context, b *store.Batch) error {
	b.Reset()
	var cmds []goredis.Cmder
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		cmds = queue(ctx, p, b)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	return collect(b, cmds)
}

func (s *Redis) RunOptimistic(ctx context.Context, watch []string, b *store.Batch) (bool, error) {
	b.Reset()
	var cmds []goredis.Cmder
	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		testHookBeforeExec()
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			cmds = queue(ctx, p, b)
			return nil
		})
		return err
	}, watch...)
	switch {
	case errors.Is(err, goredis.TxFailedErr):
		b.Reset()
		return false, nil
	case err != nil && !errors.Is(err, goredis.Nil):
		return false, err
	}
	return true, collect(b, cmds)
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// queue pushes every op onto the pipeline and returns the commands aligned
// with b.Ops(). Ops that would be rejected by the server for lack of keys are
// skipped and get a nil slot.
func queue(ctx context.Context, p goredis.Pipeliner, b *store.Batch) []goredis.Cmder {
	cmds := make([]goredis.Cmder, len(b.Ops()))
	for i, op := range b.Ops() {
		switch op.Kind {
		case store.OpGet:
			cmds[i] = p.Get(ctx, op.Key)
		case store.OpSet:
			cmds[i] = p.Set(ctx, op.Key, op.Value, normTTL(op.TTL))
		case store.OpIncr:
			cmds[i] = p.Incr(ctx, op.Key)
		case store.OpSAdd:
			if len(op.Members) > 0 {
				cmds[i] = p.SAdd(ctx, op.Key, toArgs(op.Members)...)
			}
		case store.OpSMembers:
			cmds[i] = p.SMembers(ctx, op.Key)
		case store.OpSUnion:
			if len(op.Keys) > 0 {
				cmds[i] = p.SUnion(ctx, op.Keys...)
			}
		case store.OpDel:
			if len(op.Keys) > 0 {
				cmds[i] = p.Del(ctx, op.Keys...)
			}
		}
	}
	return cmds
}

func collect(b *store.Batch, cmds []goredis.Cmder) error {
	for i, op := range b.Ops() {
		if i >= len(cmds) || cmds[i] == nil {
			continue
		}
		res := op.Result()
		switch c := cmds[i].(type) {
		case *goredis.StringCmd:
			v, err := c.Bytes()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", op.Kind, op.Key, err)
			}
			res.Bytes, res.Found = v, true
		case *goredis.IntCmd:
			v, err := c.Result()
			if err != nil {
				return fmt.Errorf("%s %s: %w", op.Kind, op.Key, err)
			}
			res.Int = v
		case *goredis.StringSliceCmd:
			v, err := c.Result()
			if err != nil {
				return fmt.Errorf("%s: %w", op.Kind, err)
			}
			res.Strings = v
		case *goredis.StatusCmd:
			if err := c.Err(); err != nil {
				return fmt.Errorf("%s %s: %w", op.Kind, op.Key, err)
			}
		}
	}
	return nil
}

func normTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0 // no expiry
	}
	return ttl
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
