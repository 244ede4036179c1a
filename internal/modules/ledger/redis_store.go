// README: Ledger store backed by Redis hashes, committed with MULTI/EXEC.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ridesim/internal/types"
)

const (
	ridesKeyFmt   = "%s:ledger:rides"
	remoteKeyFmt  = "%s:ledger:remote_ids"
	lastDayKeyFmt = "%s:ledger:last_generated_day"
)

// RedisStore keeps each person's ledger as a field of one hash. Durability
// follows the server's persistence settings (AOF with fsync for crash safety).
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

func NewRedisStore(redis *redis.Client, prefix string) *RedisStore {
	return &RedisStore{redis: redis, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context) (*State, error) {
	st := NewState()

	rides, err := s.redis.HGetAll(ctx, s.key(ridesKeyFmt)).Result()
	if err != nil {
		return nil, err
	}
	for id, payload := range rides {
		pr, err := decodePersonRides(id, []byte(payload))
		if err != nil {
			return nil, err
		}
		st.Rides[types.ID(id)] = pr
	}

	remote, err := s.redis.HGetAll(ctx, s.key(remoteKeyFmt)).Result()
	if err != nil {
		return nil, err
	}
	for remoteID, id := range remote {
		st.RemoteIDs[remoteID] = types.ID(id)
	}

	day, err := s.redis.Get(ctx, s.key(lastDayKeyFmt)).Result()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if st.LastGeneratedDay, err = decodeDay(day); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *RedisStore) Commit(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	rides := make([]interface{}, 0, 2*len(b.Put))
	for id, pr := range b.Put {
		payload, err := encodePersonRides(pr)
		if err != nil {
			return err
		}
		rides = append(rides, string(id), string(payload))
	}
	remote := make([]interface{}, 0, 2*len(b.RemoteIDs))
	for remoteID, id := range b.RemoteIDs {
		remote = append(remote, remoteID, string(id))
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(rides) > 0 {
			pipe.HSet(ctx, s.key(ridesKeyFmt), rides...)
		}
		if len(remote) > 0 {
			pipe.HSet(ctx, s.key(remoteKeyFmt), remote...)
		}
		if b.LastGeneratedDay != nil {
			pipe.Set(ctx, s.key(lastDayKeyFmt), encodeDay(*b.LastGeneratedDay), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}

func (s *RedisStore) key(format string) string {
	return fmt.Sprintf(format, s.prefix)
}
