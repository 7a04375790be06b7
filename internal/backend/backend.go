// Package backend runs the external build tools: a compile-to-native tool
// (cythonize by default) for dynamic-library formats and a
// bundle-to-executable tool (pyinstaller by default) for executables.
//
// Each planned step runs as an isolated subprocess. Failure of one unit
// never aborts sibling units; per-unit outcomes are collected and reported
// together. Outputs are produced under a scratch directory and renamed into
// place only on success, so cancellation leaves no partial artifact under a
// final name.
package backend

import (
	"fmt"
	"os/exec"
)

// UnitStatus is the outcome of one backend step.
type UnitStatus int

const (
	StatusSucceeded UnitStatus = iota
	StatusFailed
	StatusSkipped
)

func (s UnitStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// UnitResult is the outcome of invoking a backend on one source unit (or on
// the assembled set, for bundle and archive steps).
type UnitResult struct {
	Unit     string
	Status   UnitStatus
	Artifact string // produced artifact path, empty unless succeeded
	Output   string // captured stdout+stderr of the subprocess, verbatim
	Warning  string // non-fatal post-processing problem (banner injection)
	Err      error
}

// UnavailableError reports a backend tool that is not installed. It is
// detected with a lookup before any invocation is attempted.
type UnavailableError struct {
	Tool string
	Hint string
}

func (e *UnavailableError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("backend tool unavailable: %s", e.Tool)
	}
	return fmt.Sprintf("backend tool unavailable: %s (%s)", e.Tool, e.Hint)
}

// lookTool resolves a tool name on PATH, mapping failure to UnavailableError.
func lookTool(name, hint string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &UnavailableError{Tool: name, Hint: hint}
	}
	return path, nil
}
