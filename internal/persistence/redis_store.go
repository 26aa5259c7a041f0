package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/hexflow/pkg/api"
)

// RedisSessionStore is a SessionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>sess:<id>             => JSON-encoded session payload
//	<prefix>token:<token>         => session id
//	<prefix>idx:created           => ZSET of session ids scored by created_at (µs)
//	<prefix>idx:wf:<workflow>     => SET of session ids for a given workflow
//	<prefix>idx:status:<status>   => SET of session ids for a given status
//
// Writes go through WATCH/MULTI so a session and its token key always change
// together. The workflow and status sets are maintained on every write;
// List still re-checks each payload so a stale set entry is harmless.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	now    Clock
}

// NewRedisSessionStore creates a RedisSessionStore.
// prefix is optional but recommended (e.g. "hexflow:").
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "hexflow:"
	}
	return &RedisSessionStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisSessionStore) keySession(id string) string {
	return s.prefix + "sess:" + id
}

func (s *RedisSessionStore) keyToken(token string) string {
	return s.prefix + "token:" + token
}

func (s *RedisSessionStore) keyCreated() string {
	return s.prefix + "idx:created"
}

func (s *RedisSessionStore) keyWorkflow(name string) string {
	return s.prefix + "idx:wf:" + name
}

func (s *RedisSessionStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisSessionStore) Create(ctx context.Context, workflowName, token string, opts ...RecordOption) (*api.SessionRecord, error) {
	rec := newRecord(workflowName, token, s.now(), opts)
	rec.Version = 1

	data, err := encodePayload(rec)
	if err != nil {
		return nil, storageErr("create", err)
	}

	tokenKey := s.keyToken(rec.WorkflowToken)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, tokenKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errTokenInUse
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeRecord(ctx, pipe, rec, data, nil)
			return nil
		})
		return err
	}, tokenKey)
	if errors.Is(err, redis.TxFailedErr) {
		err = errTokenInUse
	}
	if err != nil {
		return nil, storageErr("create", err)
	}
	return rec, nil
}

// writeRecord queues every key update for rec. prev is the stored version of
// the record, if any, so stale index entries can be removed.
func (s *RedisSessionStore) writeRecord(ctx context.Context, pipe redis.Pipeliner, rec *api.SessionRecord, data []byte, prev *api.SessionRecord) {
	pipe.Set(ctx, s.keySession(rec.SessionID), data, 0)
	pipe.Set(ctx, s.keyToken(rec.WorkflowToken), rec.SessionID, 0)
	pipe.ZAdd(ctx, s.keyCreated(), redis.Z{Score: float64(rec.CreatedAt.UnixMicro()), Member: rec.SessionID})
	pipe.SAdd(ctx, s.keyWorkflow(rec.WorkflowName), rec.SessionID)
	pipe.SAdd(ctx, s.keyStatus(rec.Status), rec.SessionID)

	if prev == nil {
		return
	}
	if prev.WorkflowToken != rec.WorkflowToken {
		pipe.Del(ctx, s.keyToken(prev.WorkflowToken))
	}
	if prev.WorkflowName != rec.WorkflowName {
		pipe.SRem(ctx, s.keyWorkflow(prev.WorkflowName), rec.SessionID)
	}
	if prev.Status != rec.Status {
		pipe.SRem(ctx, s.keyStatus(prev.Status), rec.SessionID)
	}
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*api.SessionRecord, error) {
	rec, err := s.load(ctx, s.client, sessionID)
	return rec, storageErr("get", err)
}

func (s *RedisSessionStore) GetByToken(ctx context.Context, token string) (*api.SessionRecord, error) {
	id, err := s.client.Get(ctx, s.keyToken(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrSessionNotFound
		}
		return nil, storageErr("get_by_token", err)
	}
	rec, err := s.load(ctx, s.client, id)
	return rec, storageErr("get_by_token", err)
}

func (s *RedisSessionStore) load(ctx context.Context, c redis.Cmdable, id string) (*api.SessionRecord, error) {
	data, err := c.Get(ctx, s.keySession(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrSessionNotFound
		}
		return nil, err
	}
	return decodePayload(data)
}

func (s *RedisSessionStore) Save(ctx context.Context, rec *api.SessionRecord) error {
	sessKey := s.keySession(rec.SessionID)
	tokenKey := s.keyToken(rec.WorkflowToken)

	next := *rec
	next.UpdatedAt = s.now()
	next.Version = rec.Version + 1

	data, err := encodePayload(&next)
	if err != nil {
		return storageErr("save", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := s.load(ctx, tx, rec.SessionID)
		switch {
		case errors.Is(err, api.ErrSessionNotFound):
			prev = nil
		case err != nil:
			return err
		case prev.Version != rec.Version:
			return api.ErrVersionConflict
		}

		owner, err := tx.Get(ctx, tokenKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if owner != "" && owner != rec.SessionID {
			return errTokenInUse
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeRecord(ctx, pipe, &next, data, prev)
			return nil
		})
		return err
	}, sessKey, tokenKey)
	if errors.Is(err, redis.TxFailedErr) {
		return api.ErrVersionConflict
	}
	if err != nil {
		return storageErr("save", err)
	}

	rec.UpdatedAt = next.UpdatedAt
	rec.Version = next.Version
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	rec, err := s.load(ctx, s.client, sessionID)
	if err != nil {
		return storageErr("delete", err)
	}
	if err := s.remove(ctx, rec); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *RedisSessionStore) remove(ctx context.Context, rec *api.SessionRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keySession(rec.SessionID))
		pipe.Del(ctx, s.keyToken(rec.WorkflowToken))
		pipe.ZRem(ctx, s.keyCreated(), rec.SessionID)
		pipe.SRem(ctx, s.keyWorkflow(rec.WorkflowName), rec.SessionID)
		pipe.SRem(ctx, s.keyStatus(rec.Status), rec.SessionID)
		return nil
	})
	return err
}

func (s *RedisSessionStore) List(ctx context.Context, filter api.SessionFilter) ([]*api.SessionRecord, error) {
	var ids []string
	var err error

	switch {
	case filter.WorkflowName != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyWorkflow(filter.WorkflowName),
			s.keyStatus(filter.Status),
		).Result()
	case filter.WorkflowName != "":
		ids, err = s.client.SMembers(ctx, s.keyWorkflow(filter.WorkflowName)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.ZRange(ctx, s.keyCreated(), 0, -1).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storageErr("list", err)
	}

	recs, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, storageErr("list", err)
	}

	result := make([]*api.SessionRecord, 0, len(recs))
	for _, rec := range recs {
		if matches(rec, filter) {
			result = append(result, rec)
		}
	}
	sortByUpdatedDesc(result)
	return result, nil
}

// loadMany fetches sessions in one round trip, skipping ids whose payload
// has disappeared.
func (s *RedisSessionStore) loadMany(ctx context.Context, ids []string) ([]*api.SessionRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keySession(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	recs := make([]*api.SessionRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodePayload(data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *RedisSessionStore) Expire(ctx context.Context, maxAgeDays int) (int, error) {
	limit := cutoff(s.now(), maxAgeDays)

	ids, err := s.client.ZRangeByScore(ctx, s.keyCreated(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(limit.UnixMicro(), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, storageErr("expire", err)
	}

	recs, err := s.loadMany(ctx, ids)
	if err != nil {
		return 0, storageErr("expire", err)
	}

	deleted := 0
	for _, rec := range recs {
		if !rec.CreatedAt.Before(limit) {
			continue
		}
		if err := s.remove(ctx, rec); err != nil {
			return deleted, storageErr("expire", err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *RedisSessionStore) Stats(ctx context.Context) (api.SessionStats, error) {
	stats := newStats()

	ids, err := s.client.ZRange(ctx, s.keyCreated(), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, storageErr("stats", err)
	}
	recs, err := s.loadMany(ctx, ids)
	if err != nil {
		return stats, storageErr("stats", err)
	}
	for _, rec := range recs {
		stats.TotalSessions++
		stats.StatusCounts[rec.Status]++
		stats.WorkflowCounts[rec.WorkflowName]++
	}
	return stats, nil
}
