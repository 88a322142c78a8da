package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

// DefaultRedisPrefix namespaces state keys.
const DefaultRedisPrefix = "chanlun:state:"

// maxTxRetries bounds optimistic-lock retries when another writer touched
// the same key between WATCH and EXEC.
const maxTxRetries = 50

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// RedisStore keeps one JSON document per code. Update uses WATCH/MULTI so
// concurrent writers from different processes never interleave.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewStoreError(BackendRedis, "ping", "", err)
	}
	return &RedisStore{client: client, prefix: opts.Prefix}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Backend() string { return BackendRedis }

func (s *RedisStore) key(code string) string {
	return s.prefix + code
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c redisGetter, code string) (*models.ChanState, error) {
	data, err := c.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewChanState(code), nil
	}
	if err != nil {
		return nil, err
	}
	var st models.ChanState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.History == nil {
		st.History = []models.LabelHistoryEntry{}
	}
	return &st, nil
}

func (s *RedisStore) Load(ctx context.Context, code string) (*models.ChanState, error) {
	st, err := s.get(ctx, s.client, code)
	if err != nil {
		return nil, apperrors.NewStoreError(BackendRedis, "load", code, err)
	}
	return st, nil
}

func (s *RedisStore) Update(ctx context.Context, code string, fn func(*models.ChanState) error) error {
	key := s.key(code)

	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, code)
		if err != nil {
			return err
		}
		next, err := runUpdate(code, current, fn)
		if err != nil {
			fnErr = err
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			time.Sleep(time.Duration(i+1) * time.Millisecond)
			continue
		}
		return apperrors.NewStoreError(BackendRedis, "update", code, err)
	}
	return apperrors.NewStoreError(BackendRedis, "update", code, redis.TxFailedErr)
}

func (s *RedisStore) Save(ctx context.Context, state *models.ChanState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return apperrors.NewStoreError(BackendRedis, "save", state.Code, err)
	}
	if err := s.client.Set(ctx, s.key(state.Code), data, 0).Err(); err != nil {
		return apperrors.NewStoreError(BackendRedis, "save", state.Code, err)
	}
	return nil
}

func (s *RedisStore) Codes(ctx context.Context) ([]string, error) {
	var codes []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		codes = append(codes, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewStoreError(BackendRedis, "codes", "", err)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
