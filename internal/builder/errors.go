package builder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBuildInFlight is returned when Build or Clean is requested
	// while another build on the same Builder has not finished.
	ErrBuildInFlight = errors.New("another build is already in flight")
)

// DiscoveryError means the source root could not be enumerated. It is
// fatal and aborts the build before any compilation.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering sources in %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// CompileError means one source failed to compile. The compiler's
// diagnostic text is carried verbatim. A CompileError is fatal to the
// invocation: no further compilations are started and nothing is
// linked.
type CompileError struct {
	Source     string
	Diagnostic string
}

func (e *CompileError) Error() string {
	diag := strings.TrimRight(e.Diagnostic, "\n")
	if diag == "" {
		return fmt.Sprintf("compiling %s failed", e.Source)
	}
	return fmt.Sprintf("compiling %s failed:\n%s", e.Source, diag)
}

// LinkError means the final link failed. No executable is produced;
// object files remain on disk for the next invocation to reuse.
type LinkError struct {
	Output     string
	Diagnostic string
}

func (e *LinkError) Error() string {
	diag := strings.TrimRight(e.Diagnostic, "\n")
	if diag == "" {
		return fmt.Sprintf("linking %s failed", e.Output)
	}
	return fmt.Sprintf("linking %s failed:\n%s", e.Output, diag)
}

// CleanError collects the per-file failures of a clean operation.
// Clean keeps going past individual failures and reports them together.
type CleanError struct {
	Failures []error
}

func (e *CleanError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "clean failed for %d file(s):", len(e.Failures))
	for _, err := range e.Failures {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *CleanError) Unwrap() []error { return e.Failures }
