package mysql

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/chatbase/pkg/utils/json"
)

// redacted replaces non-empty passwords in serialized output.
const redacted = "[REDACTED]"

// Options configures the MySQL connection holding documents, conversations
// and knowledge bases.
type Options struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`

	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
	MaxIdleTime           time.Duration `json:"max-idle-time" mapstructure:"max-idle-time"`

	// LogLevel maps to gorm log levels: 1 silent, 2 error, 3 warn, 4 info.
	LogLevel int `json:"log-level" mapstructure:"log-level"`
}

// NewOptions returns options with defaults suitable for a local MySQL.
func NewOptions() *Options {
	return &Options{
		Host:                  "127.0.0.1",
		Port:                  3306,
		Username:              "root",
		MaxIdleConnections:    20,
		MaxOpenConnections:    200,
		MaxConnectionLifeTime: time.Hour,
		MaxIdleTime:           10 * time.Minute,
		LogLevel:              1,
	}
}

// DSN builds the driver connection string. The password is URL-escaped so
// characters like '@' or '/' cannot break the DSN grammar.
func (o *Options) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		o.Username, url.QueryEscape(o.Password), o.Host, o.Port, o.Database)
}

// MarshalJSON keeps the password out of logs and config dumps.
func (o *Options) MarshalJSON() ([]byte, error) {
	type plain Options
	return json.Marshal(struct {
		*plain
		Password string `json:"password"`
	}{(*plain)(o), redactPassword(o.Password)})
}

// String returns a log-safe description of the target database.
func (o *Options) String() string {
	return fmt.Sprintf("MySQL{addr=%s:%d, user=%s, database=%s, password=%s}",
		o.Host, o.Port, o.Username, o.Database, redactPassword(o.Password))
}

// Validate checks the options and pulls the password from the environment
// when it was not set explicitly. Passing secrets on the command line leaks
// them into process listings, so the env var is the supported path.
func (o *Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("mysql host is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("mysql port must be between 1 and 65535")
	}
	if o.Username == "" {
		return fmt.Errorf("mysql username is required")
	}
	if o.Database == "" {
		return fmt.Errorf("mysql database is required")
	}

	if o.Password == "" {
		o.Password = os.Getenv("MYSQL_PASSWORD")
	} else if os.Getenv("MYSQL_PASSWORD") == "" {
		fmt.Fprintln(os.Stderr, "WARNING: MySQL password passed via CLI; prefer the MYSQL_PASSWORD environment variable.")
	}

	return nil
}

// AddFlags registers MySQL flags under the given prefix.
func (o *Options) AddFlags(fs *pflag.FlagSet, namePrefix string) {
	fs.StringVar(&o.Host, namePrefix+"host", o.Host, "MySQL host")
	fs.IntVar(&o.Port, namePrefix+"port", o.Port, "MySQL port")
	fs.StringVar(&o.Username, namePrefix+"username", o.Username, "MySQL username")
	fs.StringVar(&o.Password, namePrefix+"password", o.Password, "MySQL password (prefer MYSQL_PASSWORD env var)")
	fs.StringVar(&o.Database, namePrefix+"database", o.Database, "MySQL database name")
	fs.IntVar(&o.MaxIdleConnections, namePrefix+"max-idle-connections", o.MaxIdleConnections, "MySQL max idle connections")
	fs.IntVar(&o.MaxOpenConnections, namePrefix+"max-open-connections", o.MaxOpenConnections, "MySQL max open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, namePrefix+"max-connection-life-time", o.MaxConnectionLifeTime, "MySQL max connection lifetime")
	fs.DurationVar(&o.MaxIdleTime, namePrefix+"max-idle-time", o.MaxIdleTime, "MySQL max connection idle time")
	fs.IntVar(&o.LogLevel, namePrefix+"log-level", o.LogLevel, "MySQL log level (1 silent, 2 error, 3 warn, 4 info)")
}

func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return redacted
}
