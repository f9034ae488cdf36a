package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/oshokin/kernl-deploy/internal/logger"
)

// commentPrefix starts a comment line in the ignore file.
const commentPrefix = "#"

// ErrBadPattern is returned for ignore patterns that are not valid globs.
var ErrBadPattern = errors.New("invalid ignore pattern")

// DefaultIgnorePatterns are always excluded: CI marker files, the action log and archives.
func DefaultIgnorePatterns() []string {
	return []string{"DOCKER_ENV", "docker_tag", "output.log", "*.zip"}
}

// ParseIgnorePatterns extracts patterns from ignore file contents.
// All whitespace is removed from each line; blank lines and comments are dropped.
func ParseIgnorePatterns(contents string) []string {
	lines := strings.Split(contents, "\n")
	patterns := make([]string, 0, len(lines))

	for _, line := range lines {
		pattern := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}

			return r
		}, line)

		if pattern == "" || strings.HasPrefix(pattern, commentPrefix) {
			continue
		}

		patterns = append(patterns, pattern)
	}

	return patterns
}

// ResolveIgnorePatterns reads the ignore file and appends the default patterns.
// A missing ignore file only means there are no custom patterns.
func ResolveIgnorePatterns(ctx context.Context, fs afero.Fs, filename string) ([]string, error) {
	contents, err := afero.ReadFile(fs, filepath.Clean(filename))

	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.WarnKV(ctx, "Ignore file not found, using default patterns only", "path", filename)
	case err != nil:
		return nil, fmt.Errorf("read ignore file: %w", err)
	}

	patterns := append(ParseIgnorePatterns(string(contents)), DefaultIgnorePatterns()...)

	return normalizePatterns(patterns)
}

// normalizePatterns strips "./" prefixes and trailing slashes and validates each pattern.
func normalizePatterns(patterns []string) ([]string, error) {
	result := make([]string, 0, len(patterns))

	for _, pattern := range patterns {
		normalized := strings.TrimSuffix(strings.TrimPrefix(pattern, "./"), "/")
		if normalized == "" {
			continue
		}

		if !doublestar.ValidatePattern(normalized) {
			return nil, fmt.Errorf("%q: %w", pattern, ErrBadPattern)
		}

		result = append(result, normalized)
	}

	return result, nil
}

// childrenSuffix marks a pattern that excludes everything below a directory.
const childrenSuffix = "/**"

// matcher decides which relative, slash-separated paths are excluded.
type matcher struct {
	// patterns are validated doublestar globs.
	patterns []string
	// includeHidden keeps dot-files and dot-directories.
	includeHidden bool
}

// hidden reports whether rel is a dot-file or dot-directory that must be skipped.
func (m *matcher) hidden(rel string) bool {
	return !m.includeHidden && strings.HasPrefix(path.Base(rel), ".")
}

// excluded reports whether the file rel must be left out of the archive.
func (m *matcher) excluded(rel string) bool {
	if m.hidden(rel) {
		return true
	}

	for _, pattern := range m.patterns {
		// Patterns were validated, so MatchUnvalidated cannot fail.
		if doublestar.MatchUnvalidated(pattern, rel) {
			return true
		}
	}

	return false
}

// pruned reports whether nothing below the directory rel can be archived.
// Only patterns ending in "/**" prune; a plain match on a directory name
// leaves its contents to be matched one by one.
func (m *matcher) pruned(rel string) bool {
	if m.hidden(rel) {
		return true
	}

	for _, pattern := range m.patterns {
		dir, ok := strings.CutSuffix(pattern, childrenSuffix)
		if !ok || dir == "" {
			continue
		}

		if doublestar.MatchUnvalidated(dir, rel) {
			return true
		}
	}

	return false
}
