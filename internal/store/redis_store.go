package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"auth/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "auth:"

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// RedisCredentialStore stores each credential as one JSON value under
// <prefix>credential:<username>. SETNX provides the uniqueness guarantee.
type RedisCredentialStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCredentialStore(client *redis.Client, prefix string) *RedisCredentialStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisCredentialStore{client: client, prefix: prefix}
}

type redisCredential struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	EncodedSecret string    `json:"encodedSecret"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (r *RedisCredentialStore) key(username string) string {
	return r.prefix + "credential:" + username
}

func (r *RedisCredentialStore) Lookup(ctx context.Context, username string) (*domain.Credential, error) {
	raw, err := r.client.Get(ctx, r.key(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lookup credential")
	}
	return decodeRedisCredential(raw)
}

func (r *RedisCredentialStore) Insert(ctx context.Context, c *domain.Credential) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	payload, err := json.Marshal(toRedisCredential(c))
	if err != nil {
		return errors.Wrap(err, "encode credential")
	}
	created, err := r.client.SetNX(ctx, r.key(c.Username), payload, 0).Result()
	if err != nil {
		return errors.Wrap(err, "insert credential")
	}
	if !created {
		return ErrConflict
	}
	return nil
}

// Replace watches the key so a write landing between read and update aborts
// the transaction with ErrStaleRecord.
func (r *RedisCredentialStore) Replace(ctx context.Context, username, previous, next string) error {
	key := r.key(username)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRecordNotFound
		}
		if err != nil {
			return errors.Wrap(err, "read credential")
		}
		cred, err := decodeRedisCredential(raw)
		if err != nil {
			return err
		}
		if cred.EncodedSecret != previous {
			return ErrStaleRecord
		}
		cred.EncodedSecret = next
		cred.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(toRedisCredential(cred))
		if err != nil {
			return errors.Wrap(err, "encode credential")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleRecord
	}
	return err
}

func (r *RedisCredentialStore) Delete(ctx context.Context, username string) error {
	n, err := r.client.Del(ctx, r.key(username)).Result()
	if err != nil {
		return errors.Wrap(err, "delete credential")
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List walks the credential keys with SCAN so a large keyspace does not
// block the server.
func (r *RedisCredentialStore) List(ctx context.Context) ([]string, error) {
	keyPrefix := r.key("")
	var names []string
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "list credentials")
	}
	sort.Strings(names)
	return names, nil
}

func toRedisCredential(c *domain.Credential) redisCredential {
	return redisCredential{
		ID:            c.ID.String(),
		Username:      c.Username,
		EncodedSecret: c.EncodedSecret,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func decodeRedisCredential(raw []byte) (*domain.Credential, error) {
	var rc redisCredential
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, errors.Wrap(err, "decode credential")
	}
	id, err := uuid.Parse(rc.ID)
	if err != nil {
		return nil, errors.Wrap(err, "decode credential id")
	}
	return &domain.Credential{
		ID:            id,
		Username:      rc.Username,
		EncodedSecret: rc.EncodedSecret,
		CreatedAt:     rc.CreatedAt,
		UpdatedAt:     rc.UpdatedAt,
	}, nil
}
