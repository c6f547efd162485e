// Package report renders the outcome of a run for the console.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dedupe-go/internal/engine"
	"dedupe-go/internal/index"
)

// FormatGroups lists every duplicate group with its canonical file first.
func FormatGroups(groups []*index.Group) string {
	if len(groups) == 0 {
		return "No duplicates found."
	}

	var b strings.Builder
	total := 0
	for _, g := range groups {
		total += len(g.Duplicates)
	}
	fmt.Fprintf(&b, "DUPLICATES (%s groups, %s files):\n\n",
		humanize.Comma(int64(len(groups))), humanize.Comma(int64(total)))

	for _, g := range groups {
		fmt.Fprintf(&b, "  %s\n", g.Hash)
		fmt.Fprintf(&b, "    = %s\n", g.Canonical.FullPath)
		for _, d := range g.Duplicates {
			fmt.Fprintf(&b, "    - %s (%s)\n", d.FullPath, d.Origin)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatSummary renders the run counters.
func FormatSummary(s *engine.Summary) string {
	var b strings.Builder

	status := "completed"
	if s.Cancelled {
		status = "cancelled, progress saved"
	}
	fmt.Fprintf(&b, "Run %s (%s) in %s\n", s.RunID, status, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Loaded:     %s\n", humanize.Comma(int64(s.Loaded)))
	fmt.Fprintf(&b, "  Discovered: %s\n", humanize.Comma(int64(s.Discovered)))
	fmt.Fprintf(&b, "  Hashed:     %s\n", humanize.Comma(int64(s.Hashed)))
	if s.HashFailures > 0 {
		fmt.Fprintf(&b, "  Skipped:    %s\n", humanize.Comma(int64(s.HashFailures)))
	}
	if s.Pending > 0 {
		fmt.Fprintf(&b, "  Pending:    %s\n", humanize.Comma(int64(s.Pending)))
	}
	fmt.Fprintf(&b, "  Duplicates: %s in %s groups\n",
		humanize.Comma(int64(s.DuplicateFiles)), humanize.Comma(int64(s.Groups)))
	if s.Moved > 0 || s.MoveSkipped > 0 || s.MoveFailed > 0 {
		fmt.Fprintf(&b, "  Moved:      %s (%s skipped, %s failed)\n",
			humanize.Comma(int64(s.Moved)), humanize.Comma(int64(s.MoveSkipped)), humanize.Comma(int64(s.MoveFailed)))
	}
	return b.String()
}
