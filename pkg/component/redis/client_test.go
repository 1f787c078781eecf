package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/chatbase/pkg/utils/json"
)

func TestNewOptions_CacheDefaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, "127.0.0.1", opts.Host)
	assert.Equal(t, 6379, opts.Port)
	assert.Equal(t, 0, opts.Database)
	assert.Equal(t, 50, opts.PoolSize)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)

	// cache reads and writes are short operations
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
	assert.Equal(t, 3*time.Second, opts.WriteTimeout)
}

func TestOptions_MarshalRedactsPassword(t *testing.T) {
	opts := NewOptions()
	opts.Password = "cache-secret"

	data, err := json.Marshal(opts)
	require.NoError(t, err)

	payload := string(data)
	assert.NotContains(t, payload, "cache-secret")
	assert.Contains(t, payload, redacted)

	// empty passwords stay empty instead of being masked
	opts.Password = ""
	data, err = json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), redacted)
}

func TestOptions_StringRedactsPassword(t *testing.T) {
	opts := NewOptions()
	opts.Password = "cache-secret"

	s := opts.String()
	assert.NotContains(t, s, "cache-secret")
	assert.Contains(t, s, redacted)
	assert.Contains(t, s, "127.0.0.1:6379")
}

func TestOptions_ValidatePasswordFromEnv(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "from-env")

	opts := NewOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, "from-env", opts.Password)

	// an explicit password wins over the environment
	opts = NewOptions()
	opts.Password = "explicit"
	require.NoError(t, opts.Validate())
	assert.Equal(t, "explicit", opts.Password)
}

func TestOptions_ValidateRejectsBadTarget(t *testing.T) {
	opts := NewOptions()
	opts.Host = ""
	assert.Error(t, opts.Validate())

	opts = NewOptions()
	opts.Port = 0
	assert.Error(t, opts.Validate())

	opts = NewOptions()
	opts.Port = 70000
	assert.Error(t, opts.Validate())
}

// Flags are registered under the prefix the service assembly uses.
func TestOptions_AddFlags(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs, "redis.")

	err := fs.Parse([]string{
		"--redis.host=cache.internal",
		"--redis.database=2",
		"--redis.pool-size=8",
		"--redis.read-timeout=500ms",
	})
	require.NoError(t, err)

	assert.Equal(t, "cache.internal", opts.Host)
	assert.Equal(t, 2, opts.Database)
	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, 500*time.Millisecond, opts.ReadTimeout)
}

func TestNew_NilOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nil"))
}

func TestClientName(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "redis", c.Name())
}
