package main

import (
	"github.com/pkg/errors"
)

// The reconciliation engine runs two independent merge passes over the
// processed table. Both go through the store, so every pass is preceded by a
// backup and applied atomically.

// promoteRaw joins raw transactions with account info and inserts any txn id
// not yet present in the processed table, uncategorized and unconfirmed.
// Existing processed rows always win: promotion can never undo curation,
// which keeps category confirmation monotonic across re-runs.
func promoteRaw(s *ledgerStore, sum *runSummary) error {
	raw, ok, err := readTable[RawTransaction](s, tblRaw)
	if err != nil {
		return err
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	accts, _, err := readTable[AccountInfo](s, tblAccounts)
	if err != nil {
		return err
	}
	byID := make(map[string]AccountInfo, len(accts))
	for _, a := range accts {
		byID[a.AccountID] = a
	}

	var promoted []ProcessedTransaction
	for _, t := range raw {
		acct, ok := byID[t.AccountID]
		if !ok {
			// No account info yet for this account; the row stays raw until
			// the next sync or manual account import provides it.
			sum.unmatchedAccounts++
			continue
		}
		promoted = append(promoted, ProcessedTransaction{
			TxnID:       t.TxnID,
			AccountID:   t.AccountID,
			AccountName: acct.AccountName,
			ParentGroup: acct.ParentGroup,
			Date:        t.Date,
			Desc:        t.Desc,
			Amount:      t.Amount,
		})
	}
	stats, err := appendOrMerge(s, tblProcessed, promoted, existingWins)
	if err != nil {
		return errors.Wrap(err, "raw promotion failed")
	}
	sum.promoted += stats.Added
	return nil
}

// applyOverlay folds spreadsheet-confirmed edits back into the processed
// table. The overlay wins for category, and confirmation is OR-combined, so a
// txn id once confirmed never reverts. Every confirmed row is appended to the
// training corpus, deduped by txn id: a transaction enters the corpus at
// most once, however often it is re-confirmed.
func applyOverlay(s *ledgerStore, overlay []overlayRow, sum *runSummary) error {
	if len(overlay) == 0 {
		return nil
	}
	processed, ok, err := readTable[ProcessedTransaction](s, tblProcessed)
	if err != nil {
		return err
	}
	if !ok {
		// Nothing to overlay onto yet.
		return nil
	}
	byID := make(map[string]int, len(processed))
	for i, t := range processed {
		byID[t.TxnID] = i
	}

	// One pull can carry the same txn id on several tabs. Fold duplicates
	// first, OR-combining confirmation and taking the last non-empty
	// category, so the batch obeys the same semantics a txn-at-a-time pull
	// would.
	folded := make(map[string]overlayRow, len(overlay))
	var order []string
	for _, o := range overlay {
		f, seen := folded[o.TxnID]
		if !seen {
			folded[o.TxnID] = o
			order = append(order, o.TxnID)
			continue
		}
		if o.Category != "" {
			f.Category = o.Category
		}
		f.Confirmed = f.Confirmed || o.Confirmed
		folded[o.TxnID] = f
	}

	var updated []ProcessedTransaction
	var examples []TrainingExample
	for _, id := range order {
		o := folded[id]
		i, ok := byID[o.TxnID]
		if !ok {
			sum.overlayUnknown++
			continue
		}
		t := processed[i]
		if o.Category != "" {
			t.Category = o.Category
		}
		t.CategoryConfirmed = t.CategoryConfirmed || o.Confirmed
		updated = append(updated, t)
		if t.CategoryConfirmed && t.Category != "" {
			examples = append(examples, TrainingExample{
				TxnID:    t.TxnID,
				Desc:     t.Desc,
				Category: t.Category,
			})
		}
	}
	if len(updated) > 0 {
		stats, err := appendOrMerge(s, tblProcessed, updated, incomingWins)
		if err != nil {
			return errors.Wrap(err, "overlay merge failed")
		}
		sum.overlaid += stats.Updated + stats.Added
	}
	if len(examples) > 0 {
		stats, err := appendOrMerge(s, tblTraining, examples, existingWins)
		if err != nil {
			return errors.Wrap(err, "training corpus append failed")
		}
		sum.trained += stats.Added
	}
	return nil
}
