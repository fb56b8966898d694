package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load("", "")

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "auto", cfg.Checkout.Mode)
	assert.Equal(t, 5, cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryPolicy().BaseDelay)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_MissingFilesAreSkipped(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", `
http:
  addr: ":9090"
store:
  backend: postgres
  database_url: postgres://file
kafka:
  brokers: ["k1:9092"]
  topic: from-file
checkout:
  mode: saga
  retry_base_delay: 25ms
auth:
  jwt_secret: `+testSecret+`
`)
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("RETRY_MAX_ATTEMPTS", "7")

	cfg, err := Load(yamlPath, "")

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://file", cfg.Store.DatabaseURL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "from-file", cfg.Kafka.Topic)
	assert.Equal(t, "saga", cfg.Checkout.Mode)
	assert.Equal(t, 25*time.Millisecond, cfg.Checkout.RetryBaseDelay)
	assert.Equal(t, 7, cfg.Checkout.RetryMaxAttempts)
}

func TestLoad_DotEnv(t *testing.T) {
	envPath := writeFile(t, ".env", "JWT_SECRET="+testSecret+"\nINVOICE_CACHE_TTL=5m\n")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")
	t.Cleanup(func() { os.Unsetenv("INVOICE_CACHE_TTL") })

	cfg, err := Load("", envPath)

	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.Redis.InvoiceTTL)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "mongo"}},
		{"bad mode", map[string]string{"CHECKOUT_MODE": "yolo"}},
		{"bad attempts", map[string]string{"RETRY_MAX_ATTEMPTS": "many"}},
		{"zero attempts", map[string]string{"RETRY_MAX_ATTEMPTS": "0"}},
		{"bad duration", map[string]string{"RETRY_BASE_DELAY": "soon"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("", "")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	path := writeFile(t, "config.yaml", "http: [unclosed")

	_, err := Load(path, "")
	assert.ErrorContains(t, err, "invalid config file")
}

func TestRequireAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireAuth(), ErrInvalidConfig)

	cfg.Auth.JWTSecret = testSecret
	assert.NoError(t, cfg.RequireAuth())
}
