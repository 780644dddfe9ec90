// Package statuscheck summarizes the readiness of the services the worker
// and the HTTP surface depend on.
package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/local/printquote/internal/imagerender"
)

// Pinger is satisfied by every order store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the Checker. A nil Store reports the store as not
// configured rather than failing.
type Options struct {
	Store        Pinger
	StoreBackend string
	BridgeKind   string
	BridgeURL    string
	S3Bucket     string
	GCSBucket    string
	// HeadBucket overrides the S3 reachability probe. Tests use it.
	HeadBucket func(ctx context.Context, bucket string) error
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Store    Status `json:"store"`
	Bridge   Status `json:"bridge"`
	Renderer Status `json:"renderer"`
}

// OK reports whether every subsystem is ready.
func (s Summary) OK() bool { return s.Store.OK && s.Bridge.OK && s.Renderer.OK }

type Checker struct {
	opts Options
}

func New(opts Options) *Checker {
	if opts.HeadBucket == nil {
		opts.HeadBucket = headS3Bucket
	}
	return &Checker{opts: opts}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Store:    c.checkStore(ctx),
		Bridge:   c.checkBridge(ctx),
		Renderer: checkRenderer(),
	}
}

func (c *Checker) checkStore(ctx context.Context) Status {
	if c.opts.Store == nil {
		return Status{OK: false, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.opts.Store.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: fmt.Sprintf("%s connected", c.opts.StoreBackend)}
}

func (c *Checker) checkBridge(ctx context.Context) Status {
	switch c.opts.BridgeKind {
	case "http":
		u, err := url.Parse(c.opts.BridgeURL)
		if c.opts.BridgeURL == "" || err != nil || u.Host == "" {
			return Status{OK: false, Message: "URL not configured"}
		}
		return Status{OK: true, Message: "http bridge at " + u.Host}
	case "s3":
		if c.opts.S3Bucket == "" {
			return Status{OK: false, Message: "Bucket not configured"}
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.opts.HeadBucket(ctx, c.opts.S3Bucket); err != nil {
			return Status{OK: false, Message: trimError(err)}
		}
		return Status{OK: true, Message: "Connected"}
	case "gcs":
		if c.opts.GCSBucket == "" {
			return Status{OK: false, Message: "Bucket not configured"}
		}
		return Status{OK: true, Message: "gcs bucket " + c.opts.GCSBucket}
	case "":
		return Status{OK: false, Message: "not configured"}
	default:
		return Status{OK: false, Message: fmt.Sprintf("unknown bridge %q", c.opts.BridgeKind)}
	}
}

func headS3Bucket(ctx context.Context, bucket string) error {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}
	_, err = s3.NewFromConfig(cfg).HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	return err
}

// probePDF is a one-page 1in square document. MuPDF rebuilds its missing
// cross-reference table on open.
const probePDF = "%PDF-1.4\n" +
	"1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n" +
	"2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj\n" +
	"3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] /Resources << >> >> endobj\n" +
	"trailer << /Root 1 0 R >>\n%%EOF\n"

func checkRenderer() Status {
	page, err := imagerender.RenderFirstPage([]byte(probePDF), 36)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	if page.Image.Bounds().Empty() {
		return Status{OK: false, Message: "empty raster"}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
