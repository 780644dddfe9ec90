// Package store holds the order store backends: Firestore for production,
// Redis for self-hosted deployments and an in-process map for local runs.
package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/local/printquote/internal/order"
)

// Memory is a mutex-guarded order map. Reads return copies.
type Memory struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*order.Order), now: time.Now}
}

// Put stores a copy of o, assigning an id and timestamps when missing.
func (s *Memory) Put(_ context.Context, o *order.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *o
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	s.orders[c.ID] = &c
	return c.ID, nil
}

func (s *Memory) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (s *Memory) ListClaimable(ctx context.Context, limit int) ([]*order.Order, error) {
	out, _ := s.ListClaimableUnordered(ctx, math.MaxInt)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) ListClaimableUnordered(_ context.Context, limit int) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*order.Order
	for _, o := range s.orders {
		if len(out) >= limit {
			break
		}
		if o.Status == order.StatusUploaded {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Memory) TryClaim(_ context.Context, id string, expected, next order.Status, claimant string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != expected {
		return false, nil
	}
	c := *o
	now := s.now().UTC()
	c.Status = next
	c.Worker = &order.Claim{ClaimedBy: claimant, ClaimedAt: now}
	c.UpdatedAt = now
	s.orders[id] = &c
	return true, nil
}

func (s *Memory) MarkQuoted(_ context.Context, id string, r order.Result) error {
	return s.modify(id, func(o *order.Order) {
		a, p, q := r.Analysis, r.Preview, r.Quote
		o.Analysis, o.Preview, o.Quote = &a, &p, &q
		o.Status = order.StatusQuoted
	})
}

func (s *Memory) MarkFailed(_ context.Context, id string, f order.Failure) error {
	return s.modify(id, func(o *order.Order) {
		o.Error = &f
		o.Status = order.StatusError
	})
}

func (s *Memory) modify(id string, fn func(*order.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	c := *o
	fn(&c)
	c.UpdatedAt = s.now().UTC()
	s.orders[id] = &c
	return nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() error { return nil }
