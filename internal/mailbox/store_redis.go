package mailbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type boxRecord struct {
	Offer  string `json:"offer"`
	Answer string `json:"answer,omitempty"`
}

// RedisStore keeps mailboxes in Redis so multiple relay instances can
// share them. Keys expire with the invite TTL.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) key(code string) string { return "box:" + code }

func (s *RedisStore) CreateOffer(ctx context.Context, code, offer string, ttl time.Duration) error {
	raw, err := json.Marshal(&boxRecord{Offer: offer})
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.key(code), raw, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeTaken
	}
	return nil
}

func (s *RedisStore) Offer(ctx context.Context, code string) (string, error) {
	rec, err := s.load(ctx, code)
	if err != nil {
		return "", err
	}
	return rec.Offer, nil
}

func (s *RedisStore) SetAnswer(ctx context.Context, code, answer string) error {
	key := s.key(code)
	// WATCH so two joiners cannot both claim the invite.
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec boxRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.Answer != "" {
			return ErrHasAnswer
		}
		rec.Answer = answer
		ttl, err := tx.TTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			ttl = time.Minute
		}
		newRaw, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, ttl)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
}

func (s *RedisStore) Answer(ctx context.Context, code string) (string, error) {
	rec, err := s.load(ctx, code)
	if err != nil {
		return "", err
	}
	if rec.Answer == "" {
		return "", ErrNoAnswer
	}
	return rec.Answer, nil
}

func (s *RedisStore) load(ctx context.Context, code string) (*boxRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(code)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec boxRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
