// Package sqlconn binds the generic pool package to database/sql/driver
// sessions: it knows how to open a driver.Conn from a URL plus
// credentials or a properties bag, validate it, and wrap every freshly
// created connection in a stmtcache.Session before handing it to the
// pool.
package sqlconn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config is the per-pool configuration recognised by sqlconn, matching
// the option table a pool-manager entry or a flag/DSN parse produces.
type Config struct {
	// Name identifies the pool in logs, events, and metrics.
	Name string
	// URL is the database driver connection string. Required.
	URL string
	// User and Password are optional credentials; Password is run
	// through Decoder first when one is configured.
	User, Password string
	// Props, when non-empty, forces the properties-bag create() path:
	// the driver is opened with URL plus every prop.X value (including
	// a decoded "password" entry, if credentials are set).
	Props map[string]string

	// PoolSize is the soft cap on total entries (maxpool option).
	PoolSize int
	// MaxSize is the hard cap on checked-out entries (maxconn option).
	MaxSize int
	// Init prepopulates this many entries at construction time.
	Init int
	// Expiry is the idle-entry lifetime. The expiry option is specified
	// in seconds; Config stores the parsed Duration.
	Expiry time.Duration

	// CacheSimple, CachePrepared, CacheCallable gate statement caching
	// per family. The "cache" option sets all three at once.
	CacheSimple, CachePrepared, CacheCallable bool
	// Async enables asynchronous destruction of pooled sessions.
	Async bool
	// Debug enables verbose cache hit/miss logging.
	Debug bool

	// Validator overrides the default "ping, if supported" validator.
	Validator Validator
	// Decoder decodes an at-rest-encoded password before use. Nil means
	// Password is used as-is.
	Decoder PasswordDecoder

	Logger *zap.SugaredLogger
}

func (c Config) normalized() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.MaxSize > 0 && c.MaxSize < c.PoolSize {
		c.MaxSize = c.PoolSize
	}
	if c.Init < 0 {
		c.Init = 0
	}
	if c.Init > c.PoolSize {
		c.Init = c.PoolSize
	}
	return c
}

// ParseOptions decodes a pool's option set from URL-query-parameter
// style values (the same shape poolmgr extracts from a YAML pool entry,
// or a DSN parsed with net/url). Numeric options that fail to parse are
// logged and silently defaulted to zero rather than treated as fatal,
// per spec.md's ConfigInvalid handling.
//
// Recognised keys: url (required), user, password, maxpool, maxconn,
// init, expiry (seconds), cache, async, debug, and any prop.* key. The
// validator, decoder, logfile, and dateformat keys are not read; the
// returned Config has a nil Validator and Decoder.
func ParseOptions(values url.Values, logger *zap.SugaredLogger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	rawURL := values.Get("url")
	if rawURL == "" {
		return Config{}, fmt.Errorf("sqlconn: missing required option %q", "url")
	}

	cfg := Config{
		URL:           rawURL,
		User:          values.Get("user"),
		Password:      values.Get("password"),
		CacheSimple:   true,
		CachePrepared: true,
		CacheCallable: true,
		Logger:        logger,
	}

	cfg.PoolSize = parseIntOption(values, "maxpool", 0, logger)
	cfg.MaxSize = parseIntOption(values, "maxconn", 0, logger)
	cfg.Init = parseIntOption(values, "init", 0, logger)

	if expirySecs := parseIntOption(values, "expiry", 0, logger); expirySecs > 0 {
		cfg.Expiry = time.Duration(expirySecs) * time.Second
	}

	if cacheStr := values.Get("cache"); cacheStr != "" {
		enabled := parseBoolOption(cacheStr)
		cfg.CacheSimple, cfg.CachePrepared, cfg.CacheCallable = enabled, enabled, enabled
	}
	cfg.Async = parseBoolOption(values.Get("async"))
	cfg.Debug = parseBoolOption(values.Get("debug"))

	props := map[string]string{}
	for key, vs := range values {
		if strings.HasPrefix(key, "prop.") && len(vs) > 0 {
			props[strings.TrimPrefix(key, "prop.")] = vs[0]
		}
	}
	if len(props) > 0 {
		cfg.Props = props
	}

	return cfg.normalized(), nil
}

func parseIntOption(values url.Values, key string, def int, logger *zap.SugaredLogger) int {
	raw := values.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warnw("invalid numeric option, defaulting", "option", key, "value", raw, "default", def)
		return def
	}
	return n
}

func parseBoolOption(raw string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return raw == "true" || raw == "1" || raw == "yes"
}
