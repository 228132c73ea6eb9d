package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/bushboy/bookingswap-sub010/internal/storage/postgres"
)

// RunPostgresMigrations brings the relational schema up to date. Each file
// runs as a single Exec, so one file may hold several statements.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := orderedSQL(postgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("list postgres migrations: %w", err)
	}

	for _, name := range files {
		sql, err := fs.ReadFile(postgresFS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(sql)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
