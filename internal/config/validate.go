package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode"
)

// Error is a fatal startup configuration problem.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ValidateWorker checks everything the order worker needs before it touches
// the store or the bridge.
func (c Config) ValidateWorker() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBridge(); err != nil {
		return err
	}
	if c.Worker.ID == "" {
		return &Error{Field: "WORKER_ID", Reason: "must not be empty"}
	}
	if c.Worker.BatchLimit <= 0 {
		return &Error{Field: "BATCH_LIMIT", Reason: "must be positive"}
	}
	if c.Worker.PollInterval <= 0 {
		return &Error{Field: "POLL_SECS", Reason: "must be positive"}
	}
	if c.Worker.RunOnce && c.Worker.RunWindow <= 0 {
		return &Error{Field: "RUN_WINDOW_SECS", Reason: "must be positive in run-once mode"}
	}
	return c.validateRender()
}

// ValidateServer checks the configuration of the synchronous HTTP surface.
func (c Config) ValidateServer() error {
	if c.Port == "" {
		return &Error{Field: "PORT", Reason: "must not be empty"}
	}
	return c.validateRender()
}

func (c Config) validateRender() error {
	if c.Render.AnalysisDPI <= 0 {
		return &Error{Field: "ANALYSIS_DPI", Reason: "must be positive"}
	}
	if c.Render.PreviewDPI <= 0 {
		return &Error{Field: "PREVIEW_DPI", Reason: "must be positive"}
	}
	return nil
}

func (c Config) validateStore() error {
	switch c.Store.Backend {
	case "firestore":
		if c.Store.CredentialsFile == "" {
			return &Error{Field: "GOOGLE_APPLICATION_CREDENTIALS", Reason: "missing"}
		}
		if _, err := os.Stat(c.Store.CredentialsFile); err != nil {
			return &Error{Field: "GOOGLE_APPLICATION_CREDENTIALS", Reason: fmt.Sprintf("file not readable: %v", err)}
		}
		if c.Store.Collection == "" {
			return &Error{Field: "ORDERS_COLLECTION", Reason: "must not be empty"}
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return &Error{Field: "REDIS_URL", Reason: "missing"}
		}
	case "memory":
	default:
		return &Error{Field: "ORDER_STORE", Reason: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}
	return nil
}

func (c Config) validateBridge() error {
	if c.Bridge.Timeout <= 0 {
		return &Error{Field: "BRIDGE_TIMEOUT", Reason: "must be positive"}
	}
	switch c.Bridge.Kind {
	case "http":
		if c.Bridge.URL == "" {
			return &Error{Field: "APPS_SCRIPT_URL", Reason: "missing"}
		}
		if strings.IndexFunc(c.Bridge.URL, unicode.IsSpace) >= 0 {
			return &Error{Field: "APPS_SCRIPT_URL", Reason: fmt.Sprintf("contains whitespace: %q", c.Bridge.URL)}
		}
		u, err := url.Parse(c.Bridge.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &Error{Field: "APPS_SCRIPT_URL", Reason: fmt.Sprintf("not an http(s) URL: %q", c.Bridge.URL)}
		}
		if c.Bridge.Secret == "" {
			return &Error{Field: "WORKER_SECRET", Reason: "missing"}
		}
	case "s3":
		if c.Bridge.S3Bucket == "" {
			return &Error{Field: "AWS_S3_BUCKET", Reason: "missing"}
		}
	case "gcs":
		if c.Bridge.GCSBucket == "" {
			return &Error{Field: "GCS_BUCKET", Reason: "missing"}
		}
	default:
		return &Error{Field: "BRIDGE", Reason: fmt.Sprintf("unknown bridge %q", c.Bridge.Kind)}
	}
	return nil
}
