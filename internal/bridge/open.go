package bridge

import (
	"context"
	"fmt"

	"github.com/local/printquote/internal/config"
)

// Open builds the bridge selected by c.Kind. The returned close func is
// never nil.
func Open(ctx context.Context, c config.BridgeConfig, credentialsFile string) (Bridge, func() error, error) {
	switch c.Kind {
	case "http":
		return NewHTTP(HTTPOptions{URL: c.URL, Secret: c.Secret, Timeout: c.Timeout}), noClose, nil
	case "s3":
		b, err := NewS3(ctx, c.S3Bucket, c.Timeout)
		if err != nil {
			return nil, noClose, err
		}
		return b, noClose, nil
	case "gcs":
		b, err := NewGCS(ctx, c.GCSBucket, credentialsFile, c.Timeout)
		if err != nil {
			return nil, noClose, err
		}
		return b, b.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unknown bridge %q", c.Kind)
	}
}

func noClose() error { return nil }
