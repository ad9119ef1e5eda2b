package session

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/redis/go-redis/v9"
)

const recordTTL = 24 * time.Hour

type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = shared.NewSessionID()
	}
	now := time.Now()
	rec.StartedAt = now
	rec.LastActiveAt = now
	return s.save(ctx, rec)
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, RecordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetState records a transport state transition. A non-empty cause is kept
// as the terminal error.
func (s *Store) SetState(ctx context.Context, id, state, cause string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.State = state
	if cause != "" {
		rec.Error = cause
	}
	if state == "closed" && rec.EndedAt == nil {
		now := time.Now()
		rec.EndedAt = &now
	}
	rec.LastActiveAt = time.Now()
	return s.save(ctx, rec)
}

func (s *Store) SetEvents(ctx context.Context, id string, events bool) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Events = events
	rec.LastActiveAt = time.Now()
	return s.save(ctx, rec)
}

func (s *Store) Touch(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.LastActiveAt = time.Now()
	return s.save(ctx, rec)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, RecordKey(id), CountersKey(id)).Err()
}

func (s *Store) Increment(ctx context.Context, id, field string, value int64) error {
	key := CountersKey(id)
	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, recordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Counters(ctx context.Context, id string) (map[string]int64, error) {
	data, err := s.redis.HGetAll(ctx, CountersKey(id)).Result()
	if err != nil {
		return nil, err
	}
	counters := make(map[string]int64, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counters[k] = n
	}
	return counters, nil
}

// List returns every stored record, skipping entries that fail to decode.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	iter := s.redis.Scan(ctx, 0, RecordKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":counters") {
			continue
		}
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rec.RedisKey(), data, recordTTL).Err()
}
