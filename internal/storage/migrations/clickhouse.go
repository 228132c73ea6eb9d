package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	chstore "github.com/bushboy/bookingswap-sub010/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the journal database if it is missing and
// applies the embedded schema files to it. The connection it returns is bound
// to that database so callers reuse it for the event store.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := journalDatabase(dsn)
	if err != nil {
		return nil, err
	}

	// CREATE DATABASE has to run outside the target database.
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		admin.Close()
		return nil, fmt.Errorf("ensure database %s: %w", dbName, err)
	}
	if err := admin.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dbName, err)
	}
	if err := applyClickhouseFiles(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applyClickhouseFiles(ctx context.Context, conn *chstore.Conn) error {
	files, err := orderedSQL(clickhouseFS, "clickhouse")
	if err != nil {
		return fmt.Errorf("list clickhouse migrations: %w", err)
	}

	for _, name := range files {
		sql, err := fs.ReadFile(clickhouseFS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		// The driver rejects multi-statement Exec, so files are split on
		// semicolons. That only works when no string literal contains one.
		if err := checkQuotedSemicolons(string(sql)); err != nil {
			return fmt.Errorf("reject %s: %w", name, err)
		}
		for _, stmt := range splitSQL(string(sql)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
	}
	return nil
}

// splitSQL cuts a migration file into statements on semicolons, after
// dropping blank lines and -- comments. Block comments and dollar quoting
// are not handled; migration files must not use them around semicolons.
func splitSQL(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, chunk := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(chunk); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// checkQuotedSemicolons rejects files that would confuse splitSQL: a ';'
// inside a single-quoted literal would split one statement into two broken
// halves. Doubled quotes ('') count as an escape, not a string boundary.
func checkQuotedSemicolons(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("semicolon inside string literal at byte %d", i)
			}
		}
	}
	return nil
}

// journalDatabase extracts the target database from the DSN path.
func journalDatabase(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
