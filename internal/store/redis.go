package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/jam-signaling/internal/models"
)

// Redis keeps each record as a JSON document under "<kind>:<id>".
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already connected client. Closing the store does not
// close the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(kind string, id int32) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func (r *Redis) get(ctx context.Context, kind string, id int32, v any) error {
	data, err := r.client.Get(ctx, redisKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "get %s %d", kind, id)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s %d", kind, id)
	}
	return nil
}

func (r *Redis) put(ctx context.Context, kind string, id int32, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s %d", kind, id)
	}
	if err := r.client.Set(ctx, redisKey(kind, id), data, 0).Err(); err != nil {
		return errors.Wrapf(err, "set %s %d", kind, id)
	}
	return nil
}

func (r *Redis) GetMusician(ctx context.Context, id int32) (*models.Musician, error) {
	var m models.Musician
	if err := r.get(ctx, "musician", id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Redis) PutMusician(ctx context.Context, m *models.Musician) error {
	return r.put(ctx, "musician", m.ID, m)
}

func (r *Redis) GetBand(ctx context.Context, id int32) (*models.Band, error) {
	var b models.Band
	if err := r.get(ctx, "band", id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Redis) PutBand(ctx context.Context, b *models.Band) error {
	return r.put(ctx, "band", b.ID, b)
}

func (r *Redis) GetSession(ctx context.Context, id int32) (*models.Session, error) {
	var s models.Session
	if err := r.get(ctx, "session", id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Redis) PutSession(ctx context.Context, s *models.Session) error {
	return r.put(ctx, "session", s.ID, s)
}

func (r *Redis) Close() error {
	return nil
}
