// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sqlrec/internal/stmt"
)

// Config describes a database and how to connect to it.
type Config struct {
	Dialect  string            `yaml:"dialect"`
	Host     string            `yaml:"host,omitempty"`
	Port     int               `yaml:"port,omitempty"`
	User     string            `yaml:"user,omitempty"`
	Password string            `yaml:"password,omitempty"`
	Database string            `yaml:"database"`
	Params   map[string]string `yaml:"params,omitempty"`

	QuoteIdentifiers bool `yaml:"quote-identifiers,omitempty"`

	MaxOpen          int           `yaml:"max-open,omitempty"`
	MaxIdle          int           `yaml:"max-idle,omitempty"`
	MaxIdleTime      time.Duration `yaml:"max-idle-time,omitempty"`
	MaxLifetime      time.Duration `yaml:"max-lifetime,omitempty"`
	AcquireTimeout   time.Duration `yaml:"acquire-timeout,omitempty"`
	StatementTimeout time.Duration `yaml:"statement-timeout,omitempty"`
	SlowThreshold    time.Duration `yaml:"slow-threshold,omitempty"`

	CacheSize int           `yaml:"cache-size,omitempty"`
	CacheTTL  time.Duration `yaml:"cache-ttl,omitempty"`
}

var defaultPorts = map[string]int{
	"mysql":    3306,
	"postgres": 5432,
}

// ParseConfig reads a YAML configuration, applies defaults and validates
// it. Unknown keys are an error.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("sqlrec: parsing config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("sqlrec: reading config: %w", err)
	}
	return ParseConfig(data)
}

func (c *Config) normalize() error {
	d, err := stmt.DialectFor(c.Dialect)
	if err != nil {
		return fmt.Errorf("sqlrec: invalid config: %w", err)
	}
	c.Dialect = d.Name
	if c.Database == "" {
		return errors.New("sqlrec: invalid config: database is required")
	}
	if d.Name != stmt.SQLite.Name {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = defaultPorts[d.Name]
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("sqlrec: invalid config: port %d out of range", c.Port)
	}
	for name, v := range map[string]int{
		"max-open":   c.MaxOpen,
		"max-idle":   c.MaxIdle,
		"cache-size": c.CacheSize,
	} {
		if v < 0 {
			return fmt.Errorf("sqlrec: invalid config: negative %s", name)
		}
	}
	for name, v := range map[string]time.Duration{
		"max-idle-time":     c.MaxIdleTime,
		"max-lifetime":      c.MaxLifetime,
		"acquire-timeout":   c.AcquireTimeout,
		"statement-timeout": c.StatementTimeout,
		"slow-threshold":    c.SlowThreshold,
		"cache-ttl":         c.CacheTTL,
	} {
		if v < 0 {
			return fmt.Errorf("sqlrec: invalid config: negative %s", name)
		}
	}
	return nil
}

// DriverName returns the database/sql driver name of the dialect.
func (c Config) DriverName() string {
	return c.Dialect
}

// DSN returns the data source name for the driver of the dialect.
func (c Config) DSN() string {
	switch c.Dialect {
	case stmt.MySQL.Name:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		if len(c.Params) > 0 {
			mc.Params = c.Params
		}
		return mc.FormatDSN()
	case stmt.Postgres.Name:
		u := url.URL{
			Scheme:   "postgres",
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.Database,
			RawQuery: encodeParams(c.Params),
		}
		if c.User != "" {
			if c.Password != "" {
				u.User = url.UserPassword(c.User, c.Password)
			} else {
				u.User = url.User(c.User)
			}
		}
		return u.String()
	default:
		if len(c.Params) == 0 {
			return c.Database
		}
		return c.Database + "?" + encodeParams(c.Params)
	}
}

func encodeParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

// Options returns the DB options described by the configuration.
func (c Config) Options() Options {
	opts := Options{
		Pool: PoolConfig{
			MaxOpen:        c.MaxOpen,
			MaxIdle:        c.MaxIdle,
			MaxIdleTime:    c.MaxIdleTime,
			MaxLifetime:    c.MaxLifetime,
			AcquireTimeout: c.AcquireTimeout,
		},
		StatementTimeout: c.StatementTimeout,
		SlowThreshold:    c.SlowThreshold,
		QuoteIdentifiers: c.QuoteIdentifiers,
		CacheTTL:         c.CacheTTL,
	}
	if c.CacheSize > 0 {
		opts.Cache = NewLRUCache(c.CacheSize)
	}
	return opts
}

// Open connects to the database described by cfg and checks that it is
// reachable. Each opt modifies the options derived from cfg, for instance
// to set a logger.
func Open(ctx context.Context, cfg Config, opts ...func(*Options)) (*DB, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	sqldb, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqlrec: opening %s database: %w", cfg.Dialect, err)
	}
	o := cfg.Options()
	for _, opt := range opts {
		opt(&o)
	}
	db, err := NewDB(sqldb, cfg.Dialect, o)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
