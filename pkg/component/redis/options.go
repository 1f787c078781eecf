package redis

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/chatbase/pkg/utils/json"
)

// redacted replaces non-empty passwords in serialized output.
const redacted = "[REDACTED]"

// Options configures the Redis connection backing the response cache.
// Only the knobs the cache workload actually tunes are exposed: a single
// logical database, bounded pool, and per-operation timeouts.
type Options struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	Password     string        `json:"-" mapstructure:"password"`
	Database     int           `json:"database" mapstructure:"database"`
	MaxRetries   int           `json:"max-retries" mapstructure:"max-retries"`
	PoolSize     int           `json:"pool-size" mapstructure:"pool-size"`
	DialTimeout  time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	ReadTimeout  time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`
}

// NewOptions returns options with defaults suitable for a local Redis.
func NewOptions() *Options {
	return &Options{
		Host:         "127.0.0.1",
		Port:         6379,
		Database:     0,
		MaxRetries:   3,
		PoolSize:     50,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// MarshalJSON keeps the password out of logs and config dumps.
func (o *Options) MarshalJSON() ([]byte, error) {
	type plain Options
	return json.Marshal(struct {
		*plain
		Password string `json:"password"`
	}{(*plain)(o), redactPassword(o.Password)})
}

// String returns a log-safe description of the target instance.
func (o *Options) String() string {
	return fmt.Sprintf("Redis{addr=%s:%d, database=%d, password=%s}",
		o.Host, o.Port, o.Database, redactPassword(o.Password))
}

// Validate checks the options and pulls the password from the environment
// when it was not set explicitly. Passing secrets on the command line leaks
// them into process listings, so the env var is the supported path.
func (o *Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("redis port must be between 1 and 65535")
	}

	if o.Password == "" {
		o.Password = os.Getenv("REDIS_PASSWORD")
	} else if os.Getenv("REDIS_PASSWORD") == "" {
		fmt.Fprintln(os.Stderr, "WARNING: Redis password passed via CLI; prefer the REDIS_PASSWORD environment variable.")
	}

	return nil
}

// AddFlags registers Redis flags under the given prefix.
func (o *Options) AddFlags(fs *pflag.FlagSet, namePrefix string) {
	fs.StringVar(&o.Host, namePrefix+"host", o.Host, "Redis host")
	fs.IntVar(&o.Port, namePrefix+"port", o.Port, "Redis port")
	fs.StringVar(&o.Password, namePrefix+"password", o.Password, "Redis password (prefer REDIS_PASSWORD env var)")
	fs.IntVar(&o.Database, namePrefix+"database", o.Database, "Redis logical database")
	fs.IntVar(&o.MaxRetries, namePrefix+"max-retries", o.MaxRetries, "Redis command retry limit")
	fs.IntVar(&o.PoolSize, namePrefix+"pool-size", o.PoolSize, "Redis connection pool size")
	fs.DurationVar(&o.DialTimeout, namePrefix+"dial-timeout", o.DialTimeout, "Redis dial timeout")
	fs.DurationVar(&o.ReadTimeout, namePrefix+"read-timeout", o.ReadTimeout, "Redis read timeout")
	fs.DurationVar(&o.WriteTimeout, namePrefix+"write-timeout", o.WriteTimeout, "Redis write timeout")
}

func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return redacted
}
