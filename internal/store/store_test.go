package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/printquote/internal/config"
	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/order"
	"github.com/local/printquote/internal/quote"
)

// seedable is a store tests can write orders into directly.
type seedable interface {
	order.Store
	Put(ctx context.Context, o *order.Order) (string, error)
}

func backends(t *testing.T) map[string]func(t *testing.T) seedable {
	return map[string]func(t *testing.T) seedable{
		"memory": func(t *testing.T) seedable { return NewMemory() },
		"redis": func(t *testing.T) seedable {
			mr := miniredis.RunT(t)
			c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = c.Close() })
			return NewRedisFromClient(c)
		},
	}
}

func seed(t *testing.T, s seedable, id string, st order.Status, created time.Time) {
	t.Helper()
	_, err := s.Put(context.Background(), &order.Order{
		ID:        id,
		Status:    st,
		File:      &order.FileRef{DriveFileID: "file-" + id},
		Options:   quote.Options{Color: quote.ColorMono},
		CreatedAt: created,
	})
	require.NoError(t, err)
}

func TestStoreContract(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing", func(t *testing.T) {
				s := mk(t)
				_, err := s.Get(ctx, "nope")
				assert.ErrorIs(t, err, order.ErrNotFound)
			})

			t.Run("put assigns id", func(t *testing.T) {
				s := mk(t)
				id, err := s.Put(ctx, &order.Order{Status: order.StatusUploaded})
				require.NoError(t, err)
				require.NotEmpty(t, id)
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, id, got.ID)
				assert.False(t, got.CreatedAt.IsZero())
			})

			t.Run("claimable ordered by creation", func(t *testing.T) {
				s := mk(t)
				seed(t, s, "c", order.StatusUploaded, base.Add(3*time.Minute))
				seed(t, s, "a", order.StatusUploaded, base.Add(1*time.Minute))
				seed(t, s, "q", order.StatusQuoted, base)
				seed(t, s, "b", order.StatusUploaded, base.Add(2*time.Minute))
				seed(t, s, "e", order.StatusError, base)

				got, err := s.ListClaimable(ctx, 2)
				require.NoError(t, err)
				require.Len(t, got, 2)
				assert.Equal(t, "a", got[0].ID)
				assert.Equal(t, "b", got[1].ID)

				all, err := s.ListClaimableUnordered(ctx, 10)
				require.NoError(t, err)
				ids := []string{}
				for _, o := range all {
					ids = append(ids, o.ID)
				}
				assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)

				few, err := s.ListClaimableUnordered(ctx, 1)
				require.NoError(t, err)
				assert.Len(t, few, 1)
			})

			t.Run("claim once", func(t *testing.T) {
				s := mk(t)
				seed(t, s, "o1", order.StatusUploaded, base)

				ok, err := s.TryClaim(ctx, "o1", order.StatusUploaded, order.StatusInProgress, "w1")
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.TryClaim(ctx, "o1", order.StatusUploaded, order.StatusInProgress, "w2")
				require.NoError(t, err)
				assert.False(t, ok)

				got, err := s.Get(ctx, "o1")
				require.NoError(t, err)
				assert.Equal(t, order.StatusInProgress, got.Status)
				require.NotNil(t, got.Worker)
				assert.Equal(t, "w1", got.Worker.ClaimedBy)
				assert.False(t, got.Worker.ClaimedAt.IsZero())

				left, err := s.ListClaimable(ctx, 5)
				require.NoError(t, err)
				assert.Empty(t, left)
			})

			t.Run("claim missing", func(t *testing.T) {
				s := mk(t)
				ok, err := s.TryClaim(ctx, "ghost", order.StatusUploaded, order.StatusInProgress, "w1")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("concurrent claims", func(t *testing.T) {
				s := mk(t)
				seed(t, s, "hot", order.StatusUploaded, base)

				var wins atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := s.TryClaim(ctx, "hot", order.StatusUploaded, order.StatusInProgress, "w")
						assert.NoError(t, err)
						if ok {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
			})

			t.Run("mark quoted", func(t *testing.T) {
				s := mk(t)
				seed(t, s, "o2", order.StatusInProgress, base)
				res := order.Result{
					Analysis: coverage.Analysis{Pages: 2, CoveragePct: 12.5, PageMM: &coverage.PageSize{W: 210, H: 297}},
					Preview:  order.Preview{Provider: "drive", FileID: "pv", URL: "https://x/pv", ContentType: "application/pdf"},
					Quote:    quote.Quote{Currency: quote.Currency, TotalCLP: 288},
				}
				require.NoError(t, s.MarkQuoted(ctx, "o2", res))

				got, err := s.Get(ctx, "o2")
				require.NoError(t, err)
				assert.Equal(t, order.StatusQuoted, got.Status)
				require.NotNil(t, got.Quote)
				assert.Equal(t, int64(288), got.Quote.TotalCLP)
				require.NotNil(t, got.Preview)
				assert.Equal(t, "pv", got.Preview.FileID)
				require.NotNil(t, got.Analysis)
				assert.Equal(t, 12.5, got.Analysis.CoveragePct)
				assert.Nil(t, got.Error)
			})

			t.Run("mark failed", func(t *testing.T) {
				s := mk(t)
				seed(t, s, "o3", order.StatusInProgress, base)
				require.NoError(t, s.MarkFailed(ctx, "o3", order.Failure{Message: "boom", Trace: "stack"}))

				got, err := s.Get(ctx, "o3")
				require.NoError(t, err)
				assert.Equal(t, order.StatusError, got.Status)
				require.NotNil(t, got.Error)
				assert.Equal(t, "boom", got.Error.Message)
				assert.Nil(t, got.Quote)

				assert.ErrorIs(t, s.MarkFailed(ctx, "ghost", order.Failure{Message: "x"}), order.ErrNotFound)
			})
		})
	}
}

func TestRedisResubmittedOrderIsClaimableAgain(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	seed(t, s, "r1", order.StatusUploaded, time.Now())
	require.NoError(t, s.MarkFailed(ctx, "r1", order.Failure{Message: "bad"}))
	assert.Empty(t, zMembers(mr))

	o, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	o.Status = order.StatusUploaded
	_, err = s.Put(ctx, o)
	require.NoError(t, err)

	got, err := s.ListClaimable(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func zMembers(mr *miniredis.Miniredis) []string {
	m, err := mr.ZMembers("orders:uploaded")
	if err != nil {
		return nil
	}
	return m
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("not-a-url")
	assert.Error(t, err)
}

func TestFirestoreAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	s, err := NewFirestore(ctx, "printquote-test", "", "orders_test")
	require.NoError(t, err)
	defer s.Close()

	id := "emu-" + time.Now().Format("150405.000000000")
	_, err = s.coll.Doc(id).Set(ctx, map[string]interface{}{
		"status":    string(order.StatusUploaded),
		"file":      map[string]interface{}{"driveFileId": "f1"},
		"createdAt": time.Now(),
	})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryClaim(ctx, id, order.StatusUploaded, order.StatusInProgress, "w")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusInProgress, got.Status)
	assert.Equal(t, "f1", got.File.DriveFileID)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	m, err := Open(ctx, config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, m)
	assert.NoError(t, m.Ping(ctx))

	mr := miniredis.RunT(t)
	r, err := Open(ctx, config.StoreConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	assert.NoError(t, r.Ping(ctx))
	assert.NoError(t, r.Close())

	_, err = Open(ctx, config.StoreConfig{Backend: "postgres"})
	assert.Error(t, err)
}
