package poolmgr

import (
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{}

func (stubConn) Prepare(query string) (driver.Stmt, error) { return nil, errors.New("unused") }
func (stubConn) Close() error                               { return nil }
func (stubConn) Begin() (driver.Tx, error)                   { return nil, errors.New("unused") }

type stubDriver struct{}

func (stubDriver) Open(dsn string) (driver.Conn, error) { return stubConn{}, nil }

const registryYAML = `
drivers: [stub]
pools:
  primary:
    driver: stub
    url: "stub://primary"
    maxpool: 5
    maxconn: 5
  broken:
    driver: nonexistent
    url: "stub://broken"
  missingurl:
    driver: stub
`

func TestLoadConstructsEachPoolIndependently(t *testing.T) {
	m := NewManager(nil)
	drivers := map[string]driver.Driver{"stub": stubDriver{}}

	err := m.Load(strings.NewReader(registryYAML), drivers)
	require.NoError(t, err, "Load itself never fails on a per-pool construction error")

	_, ok := m.Get("primary")
	assert.True(t, ok)

	_, ok = m.Get("broken")
	assert.False(t, ok)
	_, ok = m.Get("missingurl")
	assert.False(t, ok)

	failures := m.Failures()
	assert.Len(t, failures, 2)
	assert.Contains(t, failures, "broken")
	assert.Contains(t, failures, "missingurl")

	m.Close(true)
}
