// Package fileset resolves the configured glob patterns into the list of
// files that make up a job.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Resolve expands patterns relative to the working directory. Results keep
// pattern order, are deduplicated and skip directories.
func Resolve(patterns []string) ([]string, error) {
	return ResolveIn(".", patterns)
}

// ResolveIn is Resolve rooted at dir. Returned paths are relative to dir.
func ResolveIn(dir string, patterns []string) ([]string, error) {
	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(filepath.Clean(pattern))
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid file pattern %q", pattern)
		}

		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		slices.Sort(matches)

		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}

	return files, nil
}

// Unsynced returns the files that the sync exclude rules keep out of the
// pushed tree. Workers will not find them on the file server.
func Unsynced(files, exclude []string) []string {
	if len(exclude) == 0 {
		return nil
	}
	matcher := gitignore.CompileIgnoreLines(exclude...)

	var out []string
	for _, f := range files {
		if matcher.MatchesPath(f) {
			out = append(out, f)
		}
	}
	return out
}
