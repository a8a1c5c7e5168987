package builder

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"

	"github.com/mason-build/mason/internal/msg"
)

// Source dependencies are directories of C-family sources compiled into
// the final executable alongside the root package. A dependency string
// is a git URL (`git:` prefix), a forge shortcut, or a local path.
var sourceShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const gitPrefix = "git:"

var errIllegalDep = errors.New("empty or illegal dependency string")

// sourceRoot is one directory contributing sources to the build: the
// build root itself, or a fetched dependency. cfg is nil when the
// directory carries no Mason.toml.
type sourceRoot struct {
	name string
	dir  string
	cfg  *Config
}

// fetchDependency materializes the dependency described by source at
// dest (for remote sources) and returns the directory its sources live
// in. Local path sources are used in place, relative to basedir.
func fetchDependency(source, basedir, dest string) (string, error) {
	if source == "" {
		return "", errIllegalDep
	}

	// git:https://example.com/libhello.git
	if strings.HasPrefix(source, gitPrefix) {
		return dest, cloneGitRepo(source[len(gitPrefix):], dest)
	}

	// gh:someone/libhello
	for shortcut, base := range sourceShortcuts {
		if strings.HasPrefix(source, shortcut) {
			return dest, cloneGitRepo(base+source[len(shortcut):], dest)
		}
	}

	if isURL(source) {
		return "", fmt.Errorf("unsupported dependency URL %q (use a git: source or a local path)", source)
	}

	// local path
	dir := source
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(basedir, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func isURL(maybeURL string) bool {
	u, err := url.Parse(maybeURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	parts := strings.SplitN(rawURL, "#", 2)
	baseURL := parts[0]
	if len(parts) == 2 {
		res.commitOrTag = parts[1]
	}

	parts = strings.SplitN(baseURL, "@", 2)
	res.cleanURL = parts[0]
	if len(parts) == 2 {
		res.branch = parts[1]
	}

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}

	return
}

// isRemoteSource reports whether a dependency string names something to
// fetch rather than a local directory.
func isRemoteSource(source string) bool {
	if strings.HasPrefix(source, gitPrefix) || isURL(source) {
		return true
	}
	for shortcut := range sourceShortcuts {
		if strings.HasPrefix(source, shortcut) {
			return true
		}
	}
	return false
}

// cloneGitRepo clones a git remote into the specified directory.
func cloneGitRepo(rawURL, toWhere string) error {
	if err := os.MkdirAll(toWhere, 0755); err != nil {
		return err
	}
	parsedURL := parseGitURL(rawURL)

	cloneOptions := &git.CloneOptions{
		URL:               parsedURL.cleanURL,
		Progress:          &msg.IndentWriter{Indent: "    ", W: os.Stdout},
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}

	if parsedURL.commitOrTag == "" {
		cloneOptions.Depth = 1 // shallow clone of the latest commit
	}

	if parsedURL.branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(parsedURL.branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainClone(toWhere, cloneOptions)
	if err != nil {
		return err
	}

	if parsedURL.commitOrTag != "" {
		w, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("could not get worktree: %w", err)
		}

		revision := parsedURL.commitOrTag
		hash, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return fmt.Errorf("could not resolve revision `%s`: %w", revision, err)
		}

		err = w.Checkout(&git.CheckoutOptions{
			Hash:  *hash,
			Force: true,
		})
		if err != nil {
			return fmt.Errorf("failed to checkout `%s`: %w", revision, err)
		}
	}

	return nil
}

// fetchDependencies resolves every [dependencies] entry to a source
// root, cloning remote ones into depsDir the first time they are seen.
// A dependency's own Mason.toml, when present, supplies its source
// patterns and include dirs; its dependencies are not followed.
func (b *Builder) fetchDependencies(depsDir string) ([]sourceRoot, error) {
	if len(b.cfg.Dependencies) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(b.cfg.Dependencies))
	for name := range b.cfg.Dependencies {
		names = append(names, name)
	}
	slices.Sort(names)

	roots := make([]sourceRoot, 0, len(names))
	for _, name := range names {
		source := b.cfg.Dependencies[name]
		dest := filepath.Join(depsDir, name)

		var dir string
		if stat, err := os.Stat(dest); err == nil && stat.IsDir() {
			dir = dest // already fetched
		} else {
			if isRemoteSource(source) {
				fmt.Printf("  %s %s\n", color.HiGreenString("Fetching"), name)
			}
			dir, err = fetchDependency(source, b.basedir, dest)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch dependency %q: %w", name, err)
			}
		}

		root := sourceRoot{name: name, dir: dir}
		cfgPath := filepath.Join(dir, ConfigFilename)
		if _, err := os.Stat(cfgPath); err == nil {
			cfg, err := ParseConfigFromFile(cfgPath, b.env)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config for dependency %q: %w", name, err)
			}
			if cfg.Package.Name != "" && cfg.Package.Name != name {
				msg.Warn("dependency %q has a mismatched package name: %q", name, cfg.Package.Name)
			}
			root.cfg = cfg
		}
		roots = append(roots, root)
	}

	return roots, nil
}
