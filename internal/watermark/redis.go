package watermark

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore keeps each record as a JSON string under {prefix}{id}, swapped
// inside a WATCH/MULTI transaction.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store. An empty prefix uses "lakejobs:watermark:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "lakejobs:watermark:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Load returns the record for id.
func (s *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrNotFound, "watermark: load %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "watermark: load %s", id)
	}
	return decodeState(raw)
}

// CompareAndSwap reads the current version under WATCH and writes next in a
// MULTI block. A concurrent write aborts the transaction and reports a
// conflict.
func (s *RedisStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next State) error {
	key := s.key(next.ID)
	payload, err := json.Marshal(next)
	if err != nil {
		return eris.Wrap(err, "watermark: encode state")
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return eris.Wrapf(err, "watermark: load %s", next.ID)
		default:
			st, err := decodeState(raw)
			if err != nil {
				return err
			}
			current = st.Version
		}
		if current != expectedVersion {
			return eris.Wrapf(ErrVersionConflict, "watermark: %s at version %d, expected %d", next.ID, current, expectedVersion)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return eris.Wrapf(ErrVersionConflict, "watermark: %s changed during swap", next.ID)
	}
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return eris.Wrapf(err, "watermark: swap %s", next.ID)
	}
	return err
}

func decodeState(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, eris.Wrap(err, "watermark: decode state")
	}
	return &st, nil
}
