package main

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
)

// runSummary accumulates counts across the passes of a run. dropRecord is the
// only method called from sync workers, so it takes the lock; everything else
// runs on the main goroutine.
type runSummary struct {
	mu      sync.Mutex
	dropped int

	unmatchedAccounts  int
	unmatchedSnapshots int
	overlayUnknown     int

	promoted  int
	overlaid  int
	trained   int
	ruled     int
	predicted int

	predictionSkipped bool
	reviewCandidates  []string
	aiReviewed        int

	balanceDays   int
	balanceGroups int
}

var warnc = color.New(color.BgYellow, color.FgBlack).PrintfFunc()

func (r *runSummary) dropRecord(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
	// Printing stays under the lock so diagnostics from concurrent sync
	// workers come out whole lines.
	warnc(" DROP ")
	fmt.Printf(" %s: %v\n", source, err)
}

func chip(label string, n int) {
	color.New(color.BgBlue, color.FgWhite).Printf(" %s ", label)
	fmt.Printf(" %d\n", n)
}

func (r *runSummary) print(results []syncResult, backups []string) {
	fmt.Println()
	for _, res := range results {
		if res.Err != nil {
			errc(" SYNC %s ", res.Account)
			fmt.Printf(" %v\n", res.Err)
			continue
		}
		color.New(color.BgGreen, color.FgBlack).Printf(" SYNC %s ", res.Account)
		fmt.Printf(" %s\n", res.Counts.String())
	}

	chip("promoted", r.promoted)
	chip("overlaid", r.overlaid)
	chip("trained", r.trained)
	chip("ruled", r.ruled)
	chip("predicted", r.predicted)
	if r.aiReviewed > 0 {
		chip("ai reviewed", r.aiReviewed)
	}
	chip("balance days", r.balanceDays)
	chip("balance groups", r.balanceGroups)

	if r.dropped > 0 {
		chip("dropped", r.dropped)
	}
	if r.unmatchedAccounts > 0 {
		warnc(" WARN ")
		fmt.Printf(" %d transactions reference unknown accounts\n", r.unmatchedAccounts)
	}
	if r.unmatchedSnapshots > 0 {
		warnc(" WARN ")
		fmt.Printf(" %d snapshots reference unknown accounts\n", r.unmatchedSnapshots)
	}
	if r.overlayUnknown > 0 {
		warnc(" WARN ")
		fmt.Printf(" %d sheet rows reference unknown transactions\n", r.overlayUnknown)
	}
	if r.predictionSkipped {
		warnc(" WARN ")
		fmt.Println(" prediction skipped, training corpus is empty")
	}
	if len(r.reviewCandidates) > 0 {
		color.New(color.BgMagenta, color.FgWhite).Printf(" REVIEW ")
		fmt.Printf(" %d predictions where the classifiers disagree:\n", len(r.reviewCandidates))
		for _, c := range r.reviewCandidates {
			fmt.Printf("  %s\n", c)
		}
	}
	if len(backups) > 0 {
		color.New(color.BgCyan, color.FgBlack).Printf(" BACKUPS ")
		fmt.Println()
		for _, b := range backups {
			fmt.Printf("  %s\n", filepath.Base(b))
		}
	}
}
