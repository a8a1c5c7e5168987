package builder

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Toolchain is the collaborator boundary around the actual compilers
// and linker. They are opaque subprocesses: given a source path and
// flags they either produce an output file or diagnostic text, and can
// separately emit the include closure for a source. Tests substitute a
// fake implementation.
type Toolchain interface {
	// Compile translates src into an object file at objPath. On failure
	// the returned error's text is the compiler's diagnostic output.
	Compile(src SourceFile, objPath string, cflags []string) error

	// DiscoverIncludes reports every file src transitively includes,
	// not counting src itself or system headers.
	DiscoverIncludes(src SourceFile, cflags []string) ([]string, error)

	// Link links the ordered object files into an executable at
	// outPath. Order is preserved as given; it may be significant for
	// symbol resolution. cxx selects the C++ driver, needed whenever
	// any object came from a C++ or Objective-C++ source.
	Link(objPaths []string, outPath string, ldflags []string, cxx bool) error
}

// TODO: zig cc
var (
	commonCCompilers   = []string{"clang", "gcc", "cc", "icx", "icc", "tcc"}
	commonCxxCompilers = []string{"clang++", "g++", "c++", "clang", "gcc", "icpx", "icx"}
)

// findCompiler attempts to find a suitable C or C++ compiler on the
// system. CC/CXX env vars win over the candidate list. Clang and gcc
// both select the Objective-C dialects from the file suffix, so the
// same two drivers cover all four dialects.
func findCompiler(needCxx bool) string {
	cc := os.Getenv("CC")
	cxx := os.Getenv("CXX")

	if needCxx && cxx != "" {
		return cxx
	}
	if !needCxx && cc != "" {
		return cc
	}

	var compilersToTry []string
	if needCxx {
		compilersToTry = commonCxxCompilers
	} else {
		compilersToTry = commonCCompilers
	}

	for _, compiler := range compilersToTry {
		path, err := exec.LookPath(compiler)
		if err == nil {
			return path
		}
	}

	return ""
}

// systemToolchain drives the compilers found on the host system.
type systemToolchain struct {
	cc, cxx string
}

func newSystemToolchain() (*systemToolchain, error) {
	cc := findCompiler(false)
	if cc == "" {
		return nil, errors.New("no C compiler found (set CC, or install clang or gcc)")
	}
	cxx := findCompiler(true)
	if cxx == "" {
		cxx = cc
	}
	return &systemToolchain{cc: cc, cxx: cxx}, nil
}

func (t *systemToolchain) compilerFor(d Dialect) string {
	if d.IsCxx() {
		return t.cxx
	}
	return t.cc
}

// diagnosticError carries a subprocess's output verbatim as its error
// text, so callers can pass it through unsummarized.
type diagnosticError struct {
	output string
	err    error
}

func (e *diagnosticError) Error() string {
	if strings.TrimSpace(e.output) == "" {
		return e.err.Error()
	}
	return e.output
}

func (e *diagnosticError) Unwrap() error { return e.err }

func runTool(bin string, args []string) ([]byte, error) {
	var diag bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Stderr = &diag
	out, err := cmd.Output()
	if err != nil {
		return nil, &diagnosticError{output: diag.String(), err: err}
	}
	// successful compiles may still print warnings
	if diag.Len() > 0 {
		os.Stderr.Write(diag.Bytes())
	}
	return out, nil
}

func (t *systemToolchain) Compile(src SourceFile, objPath string, cflags []string) error {
	args := make([]string, 0, len(cflags)+4)
	args = append(args, cflags...)
	args = append(args, "-c", src.Path, "-o", objPath)

	_, err := runTool(t.compilerFor(src.Dialect), args)
	return err
}

func (t *systemToolchain) DiscoverIncludes(src SourceFile, cflags []string) ([]string, error) {
	args := make([]string, 0, len(cflags)+2)
	args = append(args, cflags...)
	args = append(args, "-MM", src.Path)

	out, err := runTool(t.compilerFor(src.Dialect), args)
	if err != nil {
		return nil, err
	}

	includes := parseIncludeClosure(string(out))
	// the compiler lists the source itself as the first prerequisite
	filtered := includes[:0]
	for _, inc := range includes {
		if sameFile(inc, src.Path) {
			continue
		}
		abs, err := filepath.Abs(inc)
		if err != nil {
			abs = inc
		}
		filtered = append(filtered, abs)
	}
	return filtered, nil
}

func (t *systemToolchain) Link(objPaths []string, outPath string, ldflags []string, cxx bool) error {
	linker := t.cc
	if cxx {
		linker = t.cxx
	}

	args := make([]string, 0, len(objPaths)+len(ldflags)+2)
	args = append(args, "-o", outPath)
	args = append(args, objPaths...)
	args = append(args, ldflags...)

	_, err := runTool(linker, args)
	return err
}

func sameFile(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// parseIncludeClosure parses make-style dependency output as emitted by
// `cc -MM`: a `target: prereq...` rule with backslash-newline
// continuations and backslash-escaped spaces in paths.
func parseIncludeClosure(out string) []string {
	// drop the "target:" prefix; the rule colon is the first one
	// followed by whitespace, which skips windows drive-letter colons
	for i := 0; i+1 < len(out); i++ {
		if out[i] == ':' && (out[i+1] == ' ' || out[i+1] == '\t' || out[i+1] == '\n' || out[i+1] == '\r') {
			out = out[i+1:]
			break
		}
	}

	var (
		paths   []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			paths = append(paths, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c == '\\' && i+1 < len(out):
			next := out[i+1]
			if next == '\n' || next == '\r' {
				flush() // line continuation
				continue
			}
			if next == ' ' || next == '\\' {
				current.WriteByte(next)
				i++
				continue
			}
			current.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return paths
}
