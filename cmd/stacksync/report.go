package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/dispatch"
	"github.com/BadgerOps/stacksync/internal/engine"
)

// printReport writes the human summary of a run
func printReport(w io.Writer, report *engine.Report, runErr error) {
	if report == nil {
		return
	}

	title := strings.ToUpper(string(report.Command)) + " SUMMARY"
	fmt.Fprintf(w, "\n=== %s ===\n", title)
	fmt.Fprintf(w, "Run:           %s\n", report.RunID)
	fmt.Fprintf(w, "Environments:  %s\n", strings.Join(report.Environments, ", "))
	fmt.Fprintf(w, "Locale:        %s\n", report.Locale)
	fmt.Fprintf(w, "Type:          %s\n", report.Mode)
	if report.BackupPath != "" {
		fmt.Fprintf(w, "Backup:        %s\n", report.BackupPath)
	}
	if report.Mode.IncludesEntries() {
		fmt.Fprintf(w, "Content types: %d\n", report.ContentTypes)
	}
	if len(report.Dropped) > 0 {
		fmt.Fprintf(w, "Ignored:       %s\n", color.Yellow.Sprint(strings.Join(report.Dropped, ", ")))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-8s %10s %10s\n", "Kind", "Succeeded", "Failed")
	fmt.Fprintln(w, strings.Repeat("-", 30))
	if report.Mode.IncludesAssets() {
		printCounts(w, "Assets", report.Assets)
	}
	if report.Mode.IncludesEntries() {
		printCounts(w, "Entries", report.Entries)
	}
	if report.Skipped > 0 {
		fmt.Fprintf(w, "Skipped malformed records: %d\n", report.Skipped)
	}
	if report.Ineligible > 0 {
		fmt.Fprintf(w, "Not published to target:   %d\n", report.Ineligible)
	}

	if len(report.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed jobs:")
		for _, f := range report.Failures {
			name := f.Job.UID
			if f.Job.ContentType != nil {
				name = f.Job.ContentType.UID + "/" + name
			}
			fmt.Fprintf(w, "  - %s %s (%s): %v\n", f.Job.Kind, name, f.Job.Title, f.Err)
		}
	}

	fmt.Fprintln(w)
	elapsed := report.End.Sub(report.Start).Truncate(time.Millisecond)
	switch {
	case runErr != nil:
		status := "aborted"
		if apperr.CodeOf(runErr) == apperr.CodeCancelled {
			status = "cancelled"
		}
		fmt.Fprintf(w, "Status: %s in %s phase after %s\n", color.Red.Sprint(status), lastActivePhase(report), elapsed)
	case report.Failed() > 0:
		fmt.Fprintf(w, "Status: %s after %s\n", color.Yellow.Sprint("completed with failures"), elapsed)
	default:
		fmt.Fprintf(w, "Status: %s after %s\n", color.Green.Sprint("completed"), elapsed)
	}
}

func printCounts(w io.Writer, label string, c dispatch.Counts) {
	failed := fmt.Sprintf("%10d", c.Failed)
	if c.Failed > 0 {
		failed = color.Red.Sprint(failed)
	}
	fmt.Fprintf(w, "%-8s %10d %s\n", label, c.Succeeded, failed)
}

// lastActivePhase returns the phase a run was in when it aborted
func lastActivePhase(report *engine.Report) engine.Phase {
	for i := len(report.Transitions) - 1; i >= 0; i-- {
		if p := report.Transitions[i].Phase; !p.Terminal() {
			return p
		}
	}
	return report.Phase
}
