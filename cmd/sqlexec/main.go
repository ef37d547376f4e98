// Command sqlexec is the pool's command-line runner: it reads a file of
// SQL statements and executes each one through a named pool resolved
// from a poolmgr registry file, reporting progress as it goes.
package main

import (
	"bufio"
	"context"
	"database/sql/driver"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/lordbasex/dbpool/poolmgr"
	"github.com/lordbasex/dbpool/stmtcache"
)

const errorLogName = "SQLUpdate.log"

func builtinDrivers() map[string]driver.Driver {
	return map[string]driver.Driver{
		"mysql":    &mysql.MySQLDriver{},
		"postgres": &pq.Driver{},
		"sqlite3":  &sqlite3.SQLiteDriver{},
	}
}

func main() {
	registryPath := flag.String("registry", "", "path to the poolmgr YAML registry file")
	poolName := flag.String("pool", "", "name of the pool (within the registry) to run statements against")
	sqlPath := flag.String("file", "", "path to the file of SQL statements to execute")
	delim := flag.String("delim", "", "statement delimiter; defaults to newline-separated")
	flag.Parse()

	os.Exit(run(*registryPath, *poolName, *sqlPath, *delim))
}

func run(registryPath, poolName, sqlPath, delim string) int {
	if registryPath == "" || poolName == "" || sqlPath == "" {
		fmt.Fprintln(os.Stderr, "sqlexec: -registry, -pool, and -file are required")
		return 1
	}

	registryFile, err := os.Open(registryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlexec: open registry: %v\n", err)
		return 1
	}
	defer registryFile.Close()

	mgr := poolmgr.NewManager(nil)
	if err := mgr.Load(registryFile, builtinDrivers()); err != nil {
		fmt.Fprintf(os.Stderr, "sqlexec: load registry: %v\n", err)
		return 1
	}

	cp, ok := mgr.Get(poolName)
	if !ok {
		fmt.Fprintf(os.Stderr, "sqlexec: pool %q did not construct (see registry failures)\n", poolName)
		return 1
	}
	defer mgr.Close(false)

	statements, err := readStatements(sqlPath, delim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlexec: read statements: %v\n", err)
		return 1
	}

	ctx := context.Background()
	session, err := cp.CheckOutTimeout(ctx, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlexec: check out pool %q: %v\n", poolName, err)
		return 1
	}
	defer func() { _ = session.Close() }()

	errLog, err := os.Create(errorLogName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlexec: create %s: %v\n", errorLogName, err)
		return 1
	}
	defer errLog.Close()

	for _, stmt := range statements {
		if err := execStatement(ctx, session, stmt); err != nil {
			fmt.Print("x")
			fmt.Fprintf(errLog, "%s\n%s\n\n", stmt, err)
			continue
		}
		fmt.Print(".")
	}
	fmt.Println()

	// Per-statement failures are reported via the "x" markers and
	// SQLUpdate.log, not a nonzero exit: exit 1 is reserved for
	// argument, file, and connection errors that stop the run before it
	// starts.
	return 0
}

func execStatement(ctx context.Context, session *stmtcache.Session, sql string) error {
	w, err := session.Prepared(ctx, sql, stmtcache.ModeDefault, true)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = w.Exec(ctx, nil)
	return err
}

func readStatements(path, delim string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sep := delim
	if sep == "" {
		sep = "\n"
	}

	var raw strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		raw.WriteString(scanner.Text())
		raw.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var statements []string
	for _, candidate := range strings.Split(raw.String(), sep) {
		line := strings.TrimSpace(candidate)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
			continue
		}
		statements = append(statements, line)
	}
	return statements, nil
}
