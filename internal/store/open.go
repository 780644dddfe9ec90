package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/config"
	"github.com/local/printquote/internal/order"
)

// Backend is an order store that can report its health and be released.
type Backend interface {
	order.Store
	Ping(ctx context.Context) error
	Close() error
}

// Open connects the backend selected by c.Backend.
func Open(ctx context.Context, c config.StoreConfig) (Backend, error) {
	switch c.Backend {
	case "firestore":
		fs, err := NewFirestore(ctx, c.ProjectID, c.CredentialsFile, c.Collection)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "redis":
		rs, err := NewRedis(c.RedisURL)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case "memory":
		log.Warn().Msg("using in-memory order store; orders are lost on exit")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown order store %q", c.Backend)
	}
}
