// Package migrations carries the schema for both stores compiled into the
// binary and applies it on startup. Every file must be safe to re-run:
// CREATE ... IF NOT EXISTS or equivalent.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// orderedSQL lists the .sql files under dir in lexical order, so numeric
// prefixes on the filenames control apply order.
func orderedSQL(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, dir+"/"+e.Name())
	}
	sort.Strings(names)
	return names, nil
}
