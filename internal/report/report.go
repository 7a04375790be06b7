// Package report renders the end-of-run summary: one row per unit
// attempted, with its outcome, sorted by unit path so output is
// deterministic across runs.
package report

import (
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/pypack/pypack/internal/backend"
)

// Render writes the per-unit summary table. Unit paths are shown relative
// to root when possible to keep the table readable.
func Render(w io.Writer, root string, results []backend.UnitResult) error {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b backend.UnitResult) int {
		return strings.Compare(a.Unit, b.Unit)
	})

	table := tablewriter.NewTable(w)
	table.Header("Unit", "Status", "Artifact", "Detail")

	for _, r := range sorted {
		detail := ""
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case r.Warning != "":
			detail = r.Warning
		}
		if err := table.Append([]string{
			display(root, r.Unit),
			r.Status.String(),
			display(root, r.Artifact),
			detail,
		}); err != nil {
			return err
		}
	}

	return table.Render()
}

// Failed reports whether any unit's own step failed.
func Failed(results []backend.UnitResult) bool {
	return slices.ContainsFunc(results, func(r backend.UnitResult) bool {
		return r.Status == backend.StatusFailed
	})
}

func display(root, path string) string {
	if path == "" {
		return ""
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
