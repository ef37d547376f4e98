// Package poolmgr is the multi-pool registry: it loads a YAML document
// describing N named pool configurations and constructs one
// sqlconn.ConnectionPool per entry, isolating construction failures to
// the offending entry.
package poolmgr

import "github.com/lordbasex/dbpool/sqlconn"

// document is the top-level YAML shape a registry file decodes into.
type document struct {
	Drivers    []string             `yaml:"drivers"`
	Logfile    string               `yaml:"logfile"`
	DateFormat string               `yaml:"dateformat"`
	Pools      map[string]poolEntry `yaml:"pools"`
}

// poolEntry mirrors spec.md §6's per-pool option table as YAML keys.
type poolEntry struct {
	Driver    string            `yaml:"driver"`
	URL       string            `yaml:"url"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	MaxPool   int               `yaml:"maxpool"`
	MaxConn   int               `yaml:"maxconn"`
	Init      int               `yaml:"init"`
	ExpirySec int               `yaml:"expiry"`
	Cache     *bool             `yaml:"cache"`
	Async     bool              `yaml:"async"`
	Debug     bool              `yaml:"debug"`
	Validator string            `yaml:"validator"`
	Decoder   string            `yaml:"decoder"`
	Props     map[string]string `yaml:"prop"`
}

func (e poolEntry) toConfig(name string) sqlconn.Config {
	cacheEnabled := true
	if e.Cache != nil {
		cacheEnabled = *e.Cache
	}
	cfg := sqlconn.Config{
		Name:          name,
		URL:           e.URL,
		User:          e.User,
		Password:      e.Password,
		Props:         e.Props,
		PoolSize:      e.MaxPool,
		MaxSize:       e.MaxConn,
		Init:          e.Init,
		CacheSimple:   cacheEnabled,
		CachePrepared: cacheEnabled,
		CacheCallable: cacheEnabled,
		Async:         e.Async,
		Debug:         e.Debug,
		Validator:     resolveValidator(e.Validator),
		Decoder:       resolveDecoder(e.Decoder),
	}
	if e.ExpirySec > 0 {
		cfg.Expiry = secondsToDuration(e.ExpirySec)
	}
	return cfg
}

// resolveValidator and resolveDecoder map the spec's "fully-qualified
// class/plugin name" option to the concrete implementations this module
// ships. There is no Go analogue of loading an arbitrary class by name,
// so only the names this module defines are recognised; anything else
// is ignored and the default is used -- an embedding application that
// needs a custom validator or decoder wires it in through Config
// directly rather than through the registry file.
func resolveValidator(name string) sqlconn.Validator {
	switch name {
	case "autocommit":
		return sqlconn.AutoCommitValidator{}
	default:
		return nil
	}
}

func resolveDecoder(name string) sqlconn.PasswordDecoder {
	switch name {
	case "base64":
		return sqlconn.Base64Decoder{}
	default:
		return nil
	}
}
