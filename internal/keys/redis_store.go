package keys

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"saas-auth-core/internal/security"
)

// RedisStore shares keys between instances through Redis. Layout under prefix:
//
//	<prefix>active      string, kid of the active key
//	<prefix>kids        set of all stored kids
//	<prefix>key:<kid>   hash {private_key_pem, status, created_at, retired_at}
//
// Create and Rotate WATCH the active pointer so concurrent rotations from two
// instances cannot both succeed.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authkeys:"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) activeKey() string { return s.prefix + "active" }
func (s *RedisStore) kidsKey() string { return s.prefix + "kids" }
func (s *RedisStore) keyKey(kid string) string { return s.prefix + "key:" + kid }

func (s *RedisStore) Load(ctx context.Context) ([]SigningKey, error) {
	kids, err := s.redis.SMembers(ctx, s.kidsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(kids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, kid := range kids {
			cmds[i] = pipe.HGetAll(ctx, s.keyKey(kid))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	out := make([]SigningKey, 0, len(kids))
	for i, kid := range kids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		k, err := decodeRedisKey(kid, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Create(ctx context.Context, key SigningKey) error {
	fields, err := encodeRedisKey(key, StatusActive)
	if err != nil {
		return err
	}
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, s.activeKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != "" {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.keyKey(key.KID), fields)
			pipe.SAdd(ctx, s.kidsKey(), key.KID)
			pipe.Set(ctx, s.activeKey(), key.KID, 0)
			return nil
		})
		return err
	}, s.activeKey())
	return mapTxErr("create signing key", err)
}

func (s *RedisStore) Rotate(ctx context.Context, next SigningKey, retiredKID string, retiredAt time.Time) error {
	fields, err := encodeRedisKey(next, StatusActive)
	if err != nil {
		return err
	}
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, s.activeKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != retiredKID {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.keyKey(retiredKID),
				"status", string(StatusRetired),
				"retired_at", retiredAt.UTC().Format(time.RFC3339Nano))
			pipe.HSet(ctx, s.keyKey(next.KID), fields)
			pipe.SAdd(ctx, s.kidsKey(), next.KID)
			pipe.Set(ctx, s.activeKey(), next.KID, 0)
			return nil
		})
		return err
	}, s.activeKey())
	return mapTxErr("rotate signing key", err)
}

func (s *RedisStore) Delete(ctx context.Context, kid string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keyKey(kid))
		pipe.SRem(ctx, s.kidsKey(), kid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete signing key: %w", err)
	}
	return nil
}

func mapTxErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func encodeRedisKey(k SigningKey, status Status) (map[string]any, error) {
	privPEM, err := security.EncodePrivateKeyPEM(k.Private)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"private_key_pem": string(privPEM),
		"status":          string(status),
		"created_at":      k.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if k.RetiredAt != nil {
		fields["retired_at"] = k.RetiredAt.UTC().Format(time.RFC3339Nano)
	}
	return fields, nil
}

func decodeRedisKey(kid string, fields map[string]string) (SigningKey, error) {
	priv, err := security.ParsePrivateKeyPEM([]byte(fields["private_key_pem"]))
	if err != nil {
		return SigningKey{}, fmt.Errorf("parse signing key %s: %w", kid, err)
	}
	created, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return SigningKey{}, fmt.Errorf("parse created_at for %s: %w", kid, err)
	}
	k := SigningKey{KID: kid, Private: priv, Status: Status(fields["status"]), CreatedAt: created.UTC()}
	if v := fields["retired_at"]; v != "" {
		retired, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return SigningKey{}, fmt.Errorf("parse retired_at for %s: %w", kid, err)
		}
		retired = retired.UTC()
		k.RetiredAt = &retired
	}
	return k, nil
}
