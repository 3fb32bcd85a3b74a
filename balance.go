package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// reconstructBalances combines sparse balance snapshots with daily
// transaction aggregates into a gap-free daily series per parent group:
//
//  1. Snapshots join account info for the parent group; the per-day anchor is
//     the sum of each member account's authoritative snapshot for that day
//     (the store's ingest precedence already keeps only the earliest arrival
//     per account and day).
//  2. Processed transactions aggregate into per-(group, day) sums.
//  3. Each group gets one cell per calendar day in [start, today], valued
//     anchor + transaction sum, and the balance for a day is the cumulative
//     sum of those cells in date order: an anchor seeds the level, and
//     transaction deltas carry it across the days between anchors.
//
// The result merges into the reconstructed table with incoming wins, so a
// re-run always supersedes stale values for the days it recomputes.
func reconstructBalances(s *ledgerStore, start, today time.Time, sum *runSummary) error {
	start, today = day(start), day(today)
	if today.Before(start) {
		return errors.Errorf("start date %v is after today %v", start.Format(dayStamp), today.Format(dayStamp))
	}
	snaps, _, err := readTable[BalanceSnapshot](s, tblSnapshots)
	if err != nil {
		return err
	}
	accts, _, err := readTable[AccountInfo](s, tblAccounts)
	if err != nil {
		return err
	}
	processed, _, err := readTable[ProcessedTransaction](s, tblProcessed)
	if err != nil {
		return err
	}

	groupOf := make(map[string]string, len(accts))
	for _, a := range accts {
		groupOf[a.AccountID] = a.ParentGroup
	}

	type cell struct {
		group string
		day   time.Time
	}
	anchors := make(map[cell]decimal.Decimal)
	flows := make(map[cell]decimal.Decimal)
	groups := make(map[string]bool)

	for _, b := range snaps {
		group, ok := groupOf[b.AccountID]
		if !ok {
			sum.unmatchedSnapshots++
			continue
		}
		c := cell{group, day(b.AsOf)}
		anchors[c] = anchors[c].Add(b.Current)
		groups[group] = true
	}
	for _, t := range processed {
		if t.ParentGroup == "" {
			continue
		}
		c := cell{t.ParentGroup, day(t.Date)}
		flows[c] = flows[c].Add(t.Amount)
		groups[t.ParentGroup] = true
	}
	if len(groups) == 0 {
		return nil
	}

	var series []ReconstructedBalance
	for group := range groups {
		running := decimal.Zero
		for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
			c := cell{group, d}
			running = running.Add(anchors[c]).Add(flows[c])
			series = append(series, ReconstructedBalance{
				ParentGroup: group,
				Date:        d,
				Balance:     running,
			})
		}
	}
	stats, err := appendOrMerge(s, tblBalances, series, incomingWins)
	if err != nil {
		return errors.Wrap(err, "balance merge failed")
	}
	sum.balanceDays = stats.Added + stats.Updated
	sum.balanceGroups = len(groups)
	return nil
}
