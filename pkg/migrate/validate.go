package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	markerUp            = "-- +goose Up"
	markerDown          = "-- +goose Down"
	markerNoTransaction = "-- +goose NO TRANSACTION"
)

// ValidateDir checks a migrations directory without touching a database:
// file naming, unique versions, Up/Down markers, and that concurrent index
// builds are declared outside a transaction.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("list %q: %w", dir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	sort.Strings(files)

	versions := make(map[string]string, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		m := migrationFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := versions[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		if err := checkMarkers(name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func checkMarkers(name, body string) error {
	for _, marker := range []string{markerUp, markerDown} {
		if !strings.Contains(body, marker) {
			return fmt.Errorf("migration %q missing %q", name, strings.TrimPrefix(marker, "-- "))
		}
	}
	if strings.Contains(strings.ToUpper(body), "CONCURRENTLY") && !strings.Contains(body, markerNoTransaction) {
		return fmt.Errorf("migration %q builds an index concurrently without %q", name, strings.TrimPrefix(markerNoTransaction, "-- "))
	}
	return nil
}
