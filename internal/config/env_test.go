package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkerConfig(t *testing.T) Config {
	t.Helper()
	cfg := FromEnv()
	cfg.Store.Backend = "memory"
	cfg.Bridge.Kind = "http"
	cfg.Bridge.URL = "https://script.example.com/macros/s/abc/exec"
	cfg.Bridge.Secret = "s3cret"
	return cfg
}

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"POLL_SECS", "BATCH_LIMIT", "RUN_WINDOW_SECS", "ORDER_WAIT_SECS", "BRIDGE_TIMEOUT", "WORKER_ID", "RUN_ONCE", "ORDER_ID"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()

	assert.Equal(t, 4*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5, cfg.Worker.BatchLimit)
	assert.Equal(t, 240*time.Second, cfg.Worker.RunWindow)
	assert.Equal(t, 10*time.Second, cfg.Worker.OrderWait)
	assert.Equal(t, 120*time.Second, cfg.Bridge.Timeout)
	assert.False(t, cfg.Worker.RunOnce)
	assert.Empty(t, cfg.Worker.OrderID)
	assert.Contains(t, cfg.Worker.ID, "worker-")
	assert.Equal(t, 200, cfg.Render.AnalysisDPI)
	assert.Equal(t, 150, cfg.Render.PreviewDPI)
}

func TestFromEnvTrimsAndParses(t *testing.T) {
	t.Setenv("WORKER_SECRET", "  abc\n")
	t.Setenv("ORDER_ID", " ord-1 ")
	t.Setenv("RUN_ONCE", "1")
	t.Setenv("POLL_SECS", "1.5")
	t.Setenv("RUN_WINDOW_SECS", "90s")

	cfg := FromEnv()
	assert.Equal(t, "abc", cfg.Bridge.Secret)
	assert.Equal(t, "ord-1", cfg.Worker.OrderID)
	assert.True(t, cfg.Worker.RunOnce)
	assert.Equal(t, 1500*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Worker.RunWindow)
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BATCH_LIMIT=9\nORDERS_COLLECTION=jobs\n"), 0o600))
	t.Setenv("ORDERS_COLLECTION", "orders-live")
	t.Setenv("BATCH_LIMIT", "")
	require.NoError(t, os.Unsetenv("BATCH_LIMIT"))

	cfg := Load(path)
	assert.Equal(t, 9, cfg.Worker.BatchLimit)
	assert.Equal(t, "orders-live", cfg.Store.Collection)
}

func TestValidateWorkerAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validWorkerConfig(t).ValidateWorker())
}

func TestValidateWorkerRejectsBridgeURLWithWhitespace(t *testing.T) {
	cfg := validWorkerConfig(t)
	cfg.Bridge.URL = "https://script.example.com/exec\n?x=1"

	err := cfg.ValidateWorker()
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "APPS_SCRIPT_URL", cerr.Field)
	assert.Contains(t, cerr.Reason, "whitespace")
}

func TestValidateWorkerMissingValues(t *testing.T) {
	cases := map[string]func(*Config){
		"WORKER_SECRET":                  func(c *Config) { c.Bridge.Secret = "" },
		"APPS_SCRIPT_URL":                func(c *Config) { c.Bridge.URL = "" },
		"GOOGLE_APPLICATION_CREDENTIALS": func(c *Config) { c.Store.Backend = "firestore"; c.Store.CredentialsFile = "" },
		"ORDER_STORE":                    func(c *Config) { c.Store.Backend = "mongo" },
		"AWS_S3_BUCKET":                  func(c *Config) { c.Bridge.Kind = "s3"; c.Bridge.S3Bucket = "" },
		"BATCH_LIMIT":                    func(c *Config) { c.Worker.BatchLimit = 0 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := validWorkerConfig(t)
			mutate(&cfg)
			var cerr *Error
			require.ErrorAs(t, cfg.ValidateWorker(), &cerr)
			assert.Equal(t, field, cerr.Field)
		})
	}
}

func TestValidateWorkerFirestoreCredentialsMustExist(t *testing.T) {
	cfg := validWorkerConfig(t)
	cfg.Store.Backend = "firestore"
	cfg.Store.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	assert.Error(t, cfg.ValidateWorker())

	creds := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))
	cfg.Store.CredentialsFile = creds
	assert.NoError(t, cfg.ValidateWorker())
}

func TestValidateServer(t *testing.T) {
	cfg := FromEnv()
	assert.NoError(t, cfg.ValidateServer())

	cfg.Render.PreviewDPI = 0
	var cerr *Error
	require.ErrorAs(t, cfg.ValidateServer(), &cerr)
	assert.Equal(t, "PREVIEW_DPI", cerr.Field)

	cfg = FromEnv()
	cfg.Port = ""
	require.ErrorAs(t, cfg.ValidateServer(), &cerr)
	assert.Equal(t, "PORT", cerr.Field)
}
