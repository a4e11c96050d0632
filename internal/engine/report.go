package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// HunkResult pairs an attempted hunk with its outcome: a nil error on
// success, the failure otherwise.
type HunkResult struct {
	Hunk Hunk
	Err  error
}

// Report is the outcome of running one folder's patch. Every scheduled
// hunk appears exactly once in Patch. CachePatch records cache writes
// that diverged after their backend operation succeeded, so cache
// divergence is surfaced rather than silently swallowed.
type Report struct {
	Folder     string
	Patch      []HunkResult
	CachePatch []HunkResult

	// Err records a folder-level failure outside any hunk, such as an
	// envelope listing that could not be taken.
	Err error
}

// Failed returns the number of failed hunks in the report.
func (r Report) Failed() int {
	n := 0
	for _, hr := range r.Patch {
		if hr.Err != nil {
			n++
		}
	}
	return n
}

// SyncReport aggregates the per-folder reports of one sync run.
type SyncReport struct {
	RunID      string
	Account    string
	StartedAt  time.Time
	FinishedAt time.Time
	Folders    []Report

	// Fatal is set when the run was aborted by a store-level failure,
	// as opposed to individual hunk errors.
	Fatal error
}

// Add appends a folder report.
func (sr *SyncReport) Add(r Report) {
	sr.Folders = append(sr.Folders, r)
}

// TotalAttempted returns the number of hunks attempted across all folders.
func (sr *SyncReport) TotalAttempted() int {
	n := 0
	for _, r := range sr.Folders {
		n += len(r.Patch)
	}
	return n
}

// TotalFailed returns the number of failed hunks across all folders.
func (sr *SyncReport) TotalFailed() int {
	n := 0
	for _, r := range sr.Folders {
		n += r.Failed()
	}
	return n
}

// TotalSucceeded returns the number of successful hunks across all folders.
func (sr *SyncReport) TotalSucceeded() int {
	return sr.TotalAttempted() - sr.TotalFailed()
}

// Summary renders a human-readable per-folder breakdown, folders sorted
// by name, failed hunks listed with their errors.
func (sr *SyncReport) Summary() string {
	folders := make([]Report, len(sr.Folders))
	copy(folders, sr.Folders)
	sort.Slice(folders, func(i, j int) bool { return folders[i].Folder < folders[j].Folder })

	var b strings.Builder
	fmt.Fprintf(&b, "sync %s: %d hunks, %d succeeded, %d failed\n",
		sr.Account, sr.TotalAttempted(), sr.TotalSucceeded(), sr.TotalFailed())

	for _, r := range folders {
		fmt.Fprintf(&b, "  %s: %d hunks", r.Folder, len(r.Patch))
		if failed := r.Failed(); failed > 0 {
			fmt.Fprintf(&b, " (%d failed)", failed)
		}
		b.WriteString("\n")
		if r.Err != nil {
			fmt.Fprintf(&b, "    folder error: %v\n", r.Err)
		}
		for _, hr := range r.Patch {
			if hr.Err != nil {
				fmt.Fprintf(&b, "    failed: %s: %v\n", hr.Hunk, hr.Err)
			}
		}
		for _, hr := range r.CachePatch {
			if hr.Err != nil {
				fmt.Fprintf(&b, "    cache divergence: %s: %v\n", hr.Hunk, hr.Err)
			}
		}
	}

	if sr.Fatal != nil {
		fmt.Fprintf(&b, "  aborted: %v\n", sr.Fatal)
	}
	return b.String()
}
