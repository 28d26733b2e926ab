package migrator

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration represents a database migration.
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.*)$`)
)

// ParseMigration parses the contents of a migration named like 001_name.sql.
func ParseMigration(filename string, content []byte) (*Migration, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}
	version, _ := strconv.Atoi(matches[1])

	m := &Migration{Version: version, Name: matches[2]}

	lines := strings.Split(string(content), "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start < 0 {
			if sub := upMarkerRegex.FindStringSubmatch(trimmed); sub != nil {
				m.NoTransaction = strings.TrimSpace(sub[1]) == "notransaction"
				start = i + 1
			}
			continue
		}

		sub := dependsRegex.FindStringSubmatch(trimmed)
		if sub == nil {
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				break
			}
			start = i + 1
			continue
		}

		deps := strings.Fields(sub[1])
		if len(deps) == 0 {
			return nil, fmt.Errorf("empty dependency list in migration file: %s", filename)
		}
		for _, d := range deps {
			dep, err := strconv.Atoi(d)
			if err != nil {
				return nil, fmt.Errorf("invalid dependency version '%s' in migration file: %s", d, filename)
			}
			m.Dependencies = append(m.Dependencies, dep)
		}
		start = i + 1
	}

	if start < 0 {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	m.UpSQL = strings.TrimSpace(strings.Join(lines[start:], "\n"))
	if m.UpSQL == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}
	return m, nil
}

// LoadMigrations reads every NNN_name.sql file at the root of fsys,
// validates the set, and returns it sorted by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}
		m, err := ParseMigration(entry.Name(), content)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, m := range migrations {
		if i > 0 && migrations[i-1].Version == m.Version {
			return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
		}
		if m.Version != i+1 {
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", i+1, m.Version)
		}
	}

	// Versions are contiguous from 1, so a dependency is valid only if it
	// points at an earlier migration. That also rules out cycles.
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if dep < 1 || dep > len(migrations) {
				return nil, fmt.Errorf("migration %d depends on non-existent version %d", m.Version, dep)
			}
			if dep >= m.Version {
				return nil, fmt.Errorf("migration %d depends on later version %d", m.Version, dep)
			}
		}
	}

	return migrations, nil
}
