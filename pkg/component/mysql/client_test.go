package mysql

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/chatbase/pkg/utils/json"
)

func testOptions() *Options {
	opts := NewOptions()
	opts.Database = "chatbase"
	return opts
}

func TestNewOptions_Defaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, "127.0.0.1", opts.Host)
	assert.Equal(t, 3306, opts.Port)
	assert.Equal(t, "root", opts.Username)
	assert.Equal(t, 20, opts.MaxIdleConnections)
	assert.Equal(t, 200, opts.MaxOpenConnections)
	assert.Equal(t, time.Hour, opts.MaxConnectionLifeTime)
	assert.Equal(t, 1, opts.LogLevel)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Options) {}},
		{name: "empty host", mutate: func(o *Options) { o.Host = "" }, wantErr: true},
		{name: "empty database", mutate: func(o *Options) { o.Database = "" }, wantErr: true},
		{name: "empty username", mutate: func(o *Options) { o.Username = "" }, wantErr: true},
		{name: "port too low", mutate: func(o *Options) { o.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(o *Options) { o.Port = 65536 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOptions_ValidatePasswordFromEnv(t *testing.T) {
	t.Setenv("MYSQL_PASSWORD", "from-env")

	opts := testOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, "from-env", opts.Password)
}

// Special characters in passwords must not break the DSN grammar.
func TestOptions_DSNEscapesPassword(t *testing.T) {
	opts := testOptions()
	opts.Password = "p@ss/word:1"

	dsn := opts.DSN()
	assert.NotContains(t, dsn, "p@ss/word:1")
	assert.Contains(t, dsn, "@tcp(127.0.0.1:3306)/chatbase")
	assert.Contains(t, dsn, "parseTime=True")
}

func TestOptions_MarshalRedactsPassword(t *testing.T) {
	opts := testOptions()
	opts.Password = "db-secret"

	data, err := json.Marshal(opts)
	require.NoError(t, err)

	payload := string(data)
	assert.NotContains(t, payload, "db-secret")
	assert.Contains(t, payload, redacted)

	assert.NotContains(t, opts.String(), "db-secret")
}

func TestOptions_AddFlags(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs, "mysql.")

	err := fs.Parse([]string{
		"--mysql.host=db.internal",
		"--mysql.database=chatbase",
		"--mysql.max-open-connections=64",
	})
	require.NoError(t, err)

	assert.Equal(t, "db.internal", opts.Host)
	assert.Equal(t, "chatbase", opts.Database)
	assert.Equal(t, 64, opts.MaxOpenConnections)
}

func TestNew_NilOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nil"))
}

func TestNew_InvalidOptions(t *testing.T) {
	opts := NewOptions() // no database set
	_, err := New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mysql options")
}

func TestClientName(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "mysql", c.Name())
}
