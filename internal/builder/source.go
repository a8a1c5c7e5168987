package builder

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Dialect identifies which compiler family a source file belongs to.
type Dialect int

const (
	DialectC Dialect = iota
	DialectCxx
	DialectObjC
	DialectObjCxx
)

func (d Dialect) String() string {
	switch d {
	case DialectC:
		return "c"
	case DialectCxx:
		return "c++"
	case DialectObjC:
		return "objective-c"
	case DialectObjCxx:
		return "objective-c++"
	}
	return "unknown"
}

// IsCxx reports whether sources of this dialect go through the C++ driver.
func (d Dialect) IsCxx() bool {
	return d == DialectCxx || d == DialectObjCxx
}

var dialectBySuffix = map[string]Dialect{
	".c":   DialectC,
	".cc":  DialectCxx,
	".cpp": DialectCxx,
	".cxx": DialectCxx,
	".m":   DialectObjC,
	".mm":  DialectObjCxx,
}

// DialectForPath classifies a file by its suffix.
func DialectForPath(path string) (Dialect, bool) {
	d, ok := dialectBySuffix[strings.ToLower(filepath.Ext(path))]
	return d, ok
}

// defaultSourcePatterns matches every known dialect suffix. With
// recursive enabled the patterns descend into subdirectories, otherwise
// only the root itself is searched.
func defaultSourcePatterns(recursive bool) []string {
	suffixes := make([]string, 0, len(dialectBySuffix))
	for suffix := range dialectBySuffix {
		suffixes = append(suffixes, suffix)
	}
	slices.Sort(suffixes)

	patterns := make([]string, 0, len(suffixes))
	for _, suffix := range suffixes {
		if recursive {
			patterns = append(patterns, "**/*"+suffix)
		} else {
			patterns = append(patterns, "*"+suffix)
		}
	}
	return patterns
}

// SourceFile is one discovered translation unit. The set of SourceFiles
// is recomputed fresh on every build invocation; only dependency
// records persist between runs.
type SourceFile struct {
	Path    string // absolute path
	Rel     string // path relative to its source root, keys the object file
	Dialect Dialect
	ModTime time.Time
}

// discoverSources enumerates the source files under root that match the
// given glob patterns, classified by suffix, in deterministic
// (lexicographic) order. Files whose suffix does not map to a known
// dialect are skipped even if a pattern matches them.
func discoverSources(root string, patterns []string) ([]SourceFile, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}

	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var sources []SourceFile

	for _, pat := range patterns {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pat), doublestar.WithFilesOnly())
		if err != nil {
			return nil, &DiscoveryError{Root: root, Err: fmt.Errorf("glob %q: %w", pat, err)}
		}
		for _, match := range matches {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}

			dialect, ok := DialectForPath(match)
			if !ok {
				continue
			}

			abs := filepath.Join(root, filepath.FromSlash(match))
			info, err := fs.Stat(fsys, match)
			if err != nil {
				return nil, &DiscoveryError{Root: root, Err: err}
			}

			sources = append(sources, SourceFile{
				Path:    abs,
				Rel:     filepath.FromSlash(match),
				Dialect: dialect,
				ModTime: info.ModTime(),
			})
		}
	}

	// glob order is per-pattern; link order must be stable across runs
	slices.SortFunc(sources, func(a, b SourceFile) int {
		return strings.Compare(a.Path, b.Path)
	})
	return sources, nil
}
