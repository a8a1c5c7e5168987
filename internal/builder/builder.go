// Package builder implements an incremental build orchestrator for
// C-family sources: discover sources, decide which object files are
// stale from recorded include closures, recompile those, and link the
// full object set into one executable.
package builder

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mason-build/mason/internal/msg"
)

// buildPhase tracks where an invocation is in the
// Idle -> Discovering -> Evaluating -> Compiling -> Linking -> Done
// sequence, with Failed reachable from Discovering, Compiling and
// Linking.
type buildPhase int32

const (
	PhaseIdle buildPhase = iota
	PhaseDiscovering
	PhaseEvaluating
	PhaseCompiling
	PhaseLinking
	PhaseDone
	PhaseFailed
)

func (p buildPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscovering:
		return "discovering"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseCompiling:
		return "compiling"
	case PhaseLinking:
		return "linking"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Builder orchestrates one build root. It is not re-entrant: a Build or
// Clean requested while another is in flight is rejected with
// ErrBuildInFlight.
type Builder struct {
	cfg     *Config
	basedir string
	env     ConfigEnv
	oracle  ChangeOracle
	tc      Toolchain
	jobs    int

	inflight sync.Mutex
	phase    atomic.Int32
}

// NewBuilderInDirectory creates a Builder for the given root. A missing
// Mason.toml is not an error; the build then uses defaults (every
// source in the root itself, output named after the directory).
func NewBuilderInDirectory(path string) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv()
	cfg, err := ParseConfigFromFile(filepath.Join(path, ConfigFilename), env)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{Profile: maps.Clone(defaultProfiles)}
	}
	if cfg.Package.Name == "" {
		cfg.Package.Name = filepath.Base(path)
	}

	return &Builder{
		cfg:     cfg,
		basedir: path,
		env:     env,
		oracle:  MtimeOracle{},
		jobs:    runtime.NumCPU(),
	}, nil
}

// SetJobs bounds the number of concurrent compilations.
func (b *Builder) SetJobs(n int) {
	if n > 0 {
		b.jobs = n
	}
}

// SetOracle replaces the change oracle used for staleness decisions.
func (b *Builder) SetOracle(o ChangeOracle) {
	if o != nil {
		b.oracle = o
	}
}

// SetToolchain replaces the compiler/linker collaborators. Used by
// tests; a nil toolchain means "find one on the system at build time".
func (b *Builder) SetToolchain(tc Toolchain) {
	b.tc = tc
}

// Phase reports where the current (or last) invocation is in the build
// state machine.
func (b *Builder) Phase() buildPhase { return buildPhase(b.phase.Load()) }

func (b *Builder) setPhase(p buildPhase) { b.phase.Store(int32(p)) }

func (b *Builder) buildDir() string { return filepath.Join(b.basedir, "build") }
func (b *Builder) objDir() string   { return filepath.Join(b.buildDir(), "MasonFiles") }
func (b *Builder) depsDir() string  { return filepath.Join(b.buildDir(), "_deps") }

func (b *Builder) outputName() string {
	name := b.cfg.Package.Name
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func (b *Builder) executablePath() string {
	return filepath.Join(b.buildDir(), b.outputName())
}

// compileUnit pairs a discovered source with its derived object path.
type compileUnit struct {
	src SourceFile
	obj string
}

// profileCflags maps a build profile to compiler flags.
func (b *Builder) profileCflags(profile string) ([]string, error) {
	prof, ok := b.cfg.Profile[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q, known profiles: %s", profile, strings.Join(b.cfg.Profiles(), ", "))
	}
	var cflags []string
	if optLevel := prof.OptLevel.String(); optLevel != "" {
		cflags = append(cflags, "-O"+optLevel)
	}
	return cflags, nil
}

// makeCflags assembles the full, deterministic flag set for this
// invocation: profile flags, configured cflags, defines, then include
// paths for the root and every dependency. Determinism matters because
// the flags are recorded and compared to decide staleness.
func (b *Builder) makeCflags(profile string, roots []sourceRoot) ([]string, error) {
	cflags, err := b.profileCflags(profile)
	if err != nil {
		return nil, err
	}

	cflags = append(cflags, b.cfg.Target.Cflags...)

	defines := make([]string, 0, len(b.cfg.Target.Defines))
	for define := range b.cfg.Target.Defines {
		defines = append(defines, define)
	}
	slices.Sort(defines)
	for _, define := range defines {
		if v := b.cfg.Target.Defines[define]; v != "" {
			cflags = append(cflags, "-D"+define+"="+v)
		} else {
			cflags = append(cflags, "-D"+define)
		}
	}

	for _, root := range roots {
		for _, dir := range root.includeDirs() {
			cflags = append(cflags, "-I"+dir)
		}
	}

	return cflags, nil
}

// includeDirs returns the directories a root exports to the compiler:
// the configured include-dirs, or for config-less dependencies an
// include/ subdirectory when present, else the root itself.
func (r sourceRoot) includeDirs() []string {
	if r.cfg != nil && len(r.cfg.Target.IncludeDirs) > 0 {
		dirs := make([]string, len(r.cfg.Target.IncludeDirs))
		for i, dir := range r.cfg.Target.IncludeDirs {
			dirs[i] = filepath.Join(r.dir, dir)
		}
		return dirs
	}
	if r.cfg == nil {
		if inc := filepath.Join(r.dir, "include"); dirExists(inc) {
			return []string{inc}
		}
	}
	return nil
}

func dirExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.IsDir()
}

// sourcePatterns returns the glob patterns for a root, falling back to
// the default dialect suffixes. Dependencies are searched recursively
// by default, the build root only when configured to.
func (r sourceRoot) sourcePatterns(isDep bool) []string {
	if r.cfg != nil && len(r.cfg.Target.Sources) > 0 {
		return r.cfg.Target.Sources
	}
	recursive := isDep
	if r.cfg != nil {
		recursive = recursive || r.cfg.Target.Recursive
	}
	return defaultSourcePatterns(recursive)
}

// Build runs one full invocation: discovery, staleness evaluation,
// compilation of the stale subset, then linking. It returns the path of
// the linked executable, or "" if the root contains no sources.
func (b *Builder) Build(profile string) (string, error) {
	if !b.inflight.TryLock() {
		return "", ErrBuildInFlight
	}
	defer b.inflight.Unlock()

	path, err := b.build(profile)
	if err != nil {
		b.setPhase(PhaseFailed)
		return "", err
	}
	b.setPhase(PhaseDone)
	return path, nil
}

func (b *Builder) build(profile string) (string, error) {
	// fail on a missing root before MkdirAll would create it
	if _, err := os.Stat(b.basedir); err != nil {
		return "", &DiscoveryError{Root: b.basedir, Err: err}
	}
	if err := os.MkdirAll(b.objDir(), 0755); err != nil {
		return "", err
	}

	if b.tc == nil {
		tc, err := newSystemToolchain()
		if err != nil {
			return "", err
		}
		b.tc = tc
	}

	roots, err := b.fetchDependencies(b.depsDir())
	if err != nil {
		return "", err
	}
	roots = append([]sourceRoot{{name: b.cfg.Package.Name, dir: b.basedir, cfg: b.cfg}}, roots...)

	cflags, err := b.makeCflags(profile, roots)
	if err != nil {
		return "", err
	}

	b.setPhase(PhaseDiscovering)
	units, err := b.discover(roots)
	if err != nil {
		return "", err
	}
	if len(units) == 0 {
		msg.Warn("no sources found in %s, nothing to build", b.basedir)
		return "", nil
	}

	b.setPhase(PhaseEvaluating)
	var stale []compileUnit
	for _, u := range units {
		rec, err := loadRecord(u.obj)
		if err != nil {
			return "", err
		}
		dirty, err := isStale(u.src, u.obj, rec, cflags, b.oracle)
		if err != nil {
			return "", err
		}
		if dirty {
			stale = append(stale, u)
		}
	}

	b.setPhase(PhaseCompiling)
	if err := b.compileAll(stale, cflags); err != nil {
		return "", err
	}

	relink, err := b.needsLink(units, len(stale) > 0)
	if err != nil {
		return "", err
	}
	if !relink {
		fmt.Println("mason: no work to do.")
		return b.executablePath(), nil
	}

	b.setPhase(PhaseLinking)
	return b.link(units)
}

// discover enumerates the sources of every root in order. The build
// root comes first, dependencies follow in name order; within a root,
// enumeration is lexicographic. Link order preserves this.
func (b *Builder) discover(roots []sourceRoot) ([]compileUnit, error) {
	var units []compileUnit
	for i, root := range roots {
		sources, err := discoverSources(root.dir, root.sourcePatterns(i > 0))
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			obj := filepath.Join(b.objDir(), root.name+".dir", src.Rel+".o")
			units = append(units, compileUnit{src: src, obj: obj})
		}
	}
	return units, nil
}

// compileAll runs the stale compilations on a bounded worker pool.
// Once one compilation fails no new ones are launched; already-running
// ones drain before the first failure is reported.
func (b *Builder) compileAll(units []compileUnit, cflags []string) error {
	if len(units) == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(context.Background())
	eg.SetLimit(b.jobs)

	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			// a launch blocked on the limit may have slipped past the
			// check above while a sibling was failing
			if err := ctx.Err(); err != nil {
				return err
			}
			return b.compileOne(u, cflags)
		})
	}

	return eg.Wait()
}

// compileOne compiles a single source and refreshes its dependency
// record. The record is made durable before the object file is renamed
// into place: an artifact must never become visible without a record at
// least as recent as itself, or a crash in between would leave the
// artifact looking current. A crash the other way round (record saved,
// object missing) self-heals as stale on the next invocation.
func (b *Builder) compileOne(u compileUnit, cflags []string) error {
	if err := os.MkdirAll(filepath.Dir(u.obj), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	fmt.Printf("CC %s\n", u.src.Rel)

	tmp := u.obj + ".tmp-" + uuid.NewString()
	if err := b.tc.Compile(u.src, tmp, cflags); err != nil {
		os.Remove(tmp)
		return &CompileError{Source: u.src.Path, Diagnostic: err.Error()}
	}

	includes, err := b.tc.DiscoverIncludes(u.src, cflags)
	if err != nil {
		os.Remove(tmp)
		return &CompileError{Source: u.src.Path, Diagnostic: err.Error()}
	}

	rec := &Record{
		Includes:   includes,
		Cflags:     slices.Clone(cflags),
		ProducedAt: time.Now(),
	}
	snapshot := append(slices.Clone(includes), u.src.Path)
	if rec.Fingerprints, err = b.oracle.Snapshot(snapshot); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to fingerprint %s: %w", u.src.Path, err)
	}

	if err := saveRecord(u.obj, rec); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save dependency record for %s: %w", u.src.Path, err)
	}
	if err := os.Rename(tmp, u.obj); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// needsLink reports whether the executable must be regenerated: a
// source was recompiled, the executable is missing, or it is older than
// any object file.
func (b *Builder) needsLink(units []compileUnit, recompiled bool) (bool, error) {
	if recompiled {
		return true, nil
	}

	exe, err := os.Stat(b.executablePath())
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}

	for _, u := range units {
		obj, err := os.Stat(u.obj)
		if err != nil {
			return true, err
		}
		if obj.ModTime().After(exe.ModTime()) {
			return true, nil
		}
	}
	return false, nil
}

// link links every object file, in enumeration order, into the final
// executable. The executable is written to a temp path and renamed so a
// failed link never leaves a partial executable behind.
func (b *Builder) link(units []compileUnit) (string, error) {
	objs := make([]string, len(units))
	cxx := false
	for i, u := range units {
		objs[i] = u.obj
		cxx = cxx || u.src.Dialect.IsCxx()
	}

	out := b.executablePath()
	fmt.Printf("LINK %s\n", b.outputName())

	tmp := out + ".tmp-" + uuid.NewString()
	if err := b.tc.Link(objs, tmp, b.cfg.Target.Ldflags, cxx); err != nil {
		os.Remove(tmp)
		return "", &LinkError{Output: out, Diagnostic: err.Error()}
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return out, nil
}

// Clean deletes every object file, dependency record and the
// executable. Per-file failures do not abort the clean; they are
// collected and reported together. Fetched dependency sources are kept.
func (b *Builder) Clean() error {
	if !b.inflight.TryLock() {
		return ErrBuildInFlight
	}
	defer b.inflight.Unlock()

	var failures []error

	err := filepath.WalkDir(b.objDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			failures = append(failures, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if err := os.Remove(path); err != nil {
			failures = append(failures, err)
		}
		return nil
	})
	if err != nil {
		failures = append(failures, err)
	}

	// prune the emptied directory tree
	if err := os.RemoveAll(b.objDir()); err != nil {
		failures = append(failures, err)
	}

	if err := os.Remove(b.executablePath()); err != nil && !os.IsNotExist(err) {
		failures = append(failures, err)
	}

	if len(failures) > 0 {
		return &CleanError{Failures: failures}
	}
	return nil
}

// BuildAndRun builds, then executes the resulting executable with the
// given arguments and inherited stdio.
func (b *Builder) BuildAndRun(args []string, profile string) error {
	exe, err := b.Build(profile)
	if err != nil {
		return err
	}
	if exe == "" {
		return errors.New("nothing to run: no sources were discovered")
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
