package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/printquote/internal/order"
)

const claimRetries = 3

var errUnchanged = errors.New("order unchanged")

// Redis stores each order as JSON under order:<id> and indexes uploaded
// orders in a sorted set scored by creation time.
type Redis struct {
	client   *redis.Client
	keyNS    string
	queueKey string
	now      func() time.Time
}

// NewRedis connects and pings the server at redisURL.
func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFromClient(c), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(c *redis.Client) *Redis {
	return &Redis{client: c, keyNS: "order", queueKey: "orders:uploaded", now: time.Now}
}

func (s *Redis) Close() error { return s.client.Close() }

func (s *Redis) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Redis) key(id string) string { return fmt.Sprintf("%s:%s", s.keyNS, id) }

// Put writes o as-is, assigning an id and timestamps when missing.
func (s *Redis) Put(ctx context.Context, o *order.Order) (string, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(o.ID), b, 0)
		s.index(ctx, p, o)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("put order %s: %w", o.ID, err)
	}
	return o.ID, nil
}

func (s *Redis) index(ctx context.Context, p redis.Pipeliner, o *order.Order) {
	if o.Status == order.StatusUploaded {
		p.ZAdd(ctx, s.queueKey, redis.Z{Score: float64(o.CreatedAt.UnixMilli()), Member: o.ID})
	} else {
		p.ZRem(ctx, s.queueKey, o.ID)
	}
}

func (s *Redis) Get(ctx context.Context, id string) (*order.Order, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return decodeJSON(id, b)
}

func (s *Redis) ListClaimable(ctx context.Context, limit int) ([]*order.Order, error) {
	ids, err := s.client.ZRange(ctx, s.queueKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", s.queueKey, err)
	}
	return s.loadUploaded(ctx, ids, limit)
}

// ListClaimableUnordered scans every order key and ignores the index.
func (s *Redis) ListClaimableUnordered(ctx context.Context, limit int) ([]*order.Order, error) {
	var out []*order.Order
	iter := s.client.Scan(ctx, 0, s.keyNS+":*", 100).Iterator()
	for iter.Next(ctx) && len(out) < limit {
		id := iter.Val()[len(s.keyNS)+1:]
		batch, err := s.loadUploaded(ctx, []string{id}, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return out, nil
}

func (s *Redis) loadUploaded(ctx context.Context, ids []string, limit int) ([]*order.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	out := make([]*order.Order, 0, len(ids))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		o, err := decodeJSON(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		if o.Status == order.StatusUploaded && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

// TryClaim runs a WATCH/MULTI compare-and-swap on the order key. A writer
// that slips in between the read and EXEC aborts the transaction; the claim
// is then re-evaluated against the new state.
func (s *Redis) TryClaim(ctx context.Context, id string, expected, next order.Status, claimant string) (bool, error) {
	err := s.update(ctx, id, func(o *order.Order) error {
		if o.Status != expected {
			return errUnchanged
		}
		o.Status = next
		o.Worker = &order.Claim{ClaimedBy: claimant, ClaimedAt: s.now().UTC()}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errUnchanged), errors.Is(err, order.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("claim order %s: %w", id, err)
	}
}

func (s *Redis) MarkQuoted(ctx context.Context, id string, r order.Result) error {
	err := s.update(ctx, id, func(o *order.Order) error {
		a, p, q := r.Analysis, r.Preview, r.Quote
		o.Analysis, o.Preview, o.Quote = &a, &p, &q
		o.Status = order.StatusQuoted
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark order %s quoted: %w", id, err)
	}
	return nil
}

func (s *Redis) MarkFailed(ctx context.Context, id string, f order.Failure) error {
	err := s.update(ctx, id, func(o *order.Order) error {
		o.Error = &f
		o.Status = order.StatusError
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark order %s failed: %w", id, err)
	}
	return nil
}

// update applies fn to the stored order under WATCH and writes it back in
// MULTI/EXEC, retrying a few times when another client wins the race.
func (s *Redis) update(ctx context.Context, id string, fn func(*order.Order) error) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return order.ErrNotFound
		}
		if err != nil {
			return err
		}
		o, err := decodeJSON(id, b)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		o.UpdatedAt = s.now().UTC()
		nb, err := json.Marshal(o)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, 0)
			s.index(ctx, p, o)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < claimRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return err
}

func decodeJSON(id string, b []byte) (*order.Order, error) {
	var o order.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	o.ID = id
	return &o, nil
}
