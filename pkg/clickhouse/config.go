package clickhouse

import "time"

// Option configures the client.
type Option func(*Config)

// Config holds connection and pool settings for a ClickHouse server.
type Config struct {
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	UseHTTP          bool
	AsyncInsert      bool
	WaitForAsync     bool
	MaxExecutionTime time.Duration
}

// WithHost sets the server host.
func WithHost(host string) Option {
	return func(c *Config) { c.Host = host }
}

// WithPort sets the server port.
func WithPort(port int) Option {
	return func(c *Config) {
		if port > 0 {
			c.Port = port
		}
	}
}

// WithDatabase sets the database name.
func WithDatabase(database string) Option {
	return func(c *Config) { c.Database = database }
}

// WithCredentials sets the user and password.
func WithCredentials(user, password string) Option {
	return func(c *Config) {
		c.User = user
		c.Password = password
	}
}

// WithMaxConnections bounds the pool. Zero values keep the defaults.
func WithMaxConnections(maxOpen, maxIdle int) Option {
	return func(c *Config) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			c.MaxIdleConns = maxIdle
		}
	}
}

// WithTimeouts sets the dial and read timeouts. Zero values keep the
// defaults.
func WithTimeouts(dial, read time.Duration) Option {
	return func(c *Config) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithHTTP switches the wire protocol from native TCP to HTTP. Needed when
// only port 8123 is reachable, e.g. through some managed proxies.
func WithHTTP(useHTTP bool) Option {
	return func(c *Config) { c.UseHTTP = useHTTP }
}

// WithAsyncInsert enables server-side async inserts. When wait is false the
// server acks before the buffer flushes, so a crash can drop acked rows.
func WithAsyncInsert(enabled, wait bool) Option {
	return func(c *Config) {
		c.AsyncInsert = enabled
		c.WaitForAsync = wait
	}
}

// WithMaxExecutionTime caps per-query execution time on the server.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxExecutionTime = d
		}
	}
}
