package sqlconn_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/lordbasex/dbpool/sqlconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionPoolOpensAndReusesSQLiteConnections(t *testing.T) {
	cfg := sqlconn.Config{Name: "sqlite-test", URL: "file::memory:?cache=shared", PoolSize: 2, MaxSize: 2}
	cp := sqlconn.Open(cfg, &sqlite3.SQLiteDriver{})
	defer cp.Release(true)

	s1, err := cp.CheckOut(context.Background())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := cp.CheckOutTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, s1, s2, "LIFO discipline should hand back the same just-returned session")
	require.NoError(t, s2.Close())

	stats := cp.Stats()
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestConnectionPoolMaxSizeReturnsPoolFull(t *testing.T) {
	cfg := sqlconn.Config{Name: "sqlite-capped", URL: "file::memory:?cache=shared", PoolSize: 1, MaxSize: 1}
	cp := sqlconn.Open(cfg, &sqlite3.SQLiteDriver{})
	defer cp.Release(true)

	_, err := cp.CheckOut(context.Background())
	require.NoError(t, err)

	_, err = cp.CheckOutTimeout(context.Background(), 30*time.Millisecond)
	assert.Error(t, err)
}

func TestParseOptionsAppliesDefaultsAndPropPrefix(t *testing.T) {
	raw, err := url.ParseQuery("url=file::memory:&maxpool=5&maxconn=3&cache=false&prop.charset=utf8")
	require.NoError(t, err)

	cfg, err := sqlconn.ParseOptions(raw, nil)
	require.NoError(t, err)

	assert.Equal(t, "file::memory:", cfg.URL)
	assert.Equal(t, 5, cfg.PoolSize)
	assert.Equal(t, 5, cfg.MaxSize, "maxconn below maxpool must be raised to maxpool")
	assert.False(t, cfg.CacheSimple)
	assert.Equal(t, "utf8", cfg.Props["charset"])
}

func TestParseOptionsRequiresURL(t *testing.T) {
	_, err := sqlconn.ParseOptions(url.Values{}, nil)
	assert.Error(t, err)
}
