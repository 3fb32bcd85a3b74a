package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testStore(t *testing.T) *ledgerStore {
	t.Helper()
	dir := t.TempDir()
	s, err := openStore(dir+"/data", dir+"/backups", nil)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	return s
}

func rawTxn(id, acct, desc string, amt string, d string) RawTransaction {
	dt, _ := time.Parse(dayStamp, d)
	return RawTransaction{
		TxnID:     id,
		AccountID: acct,
		Date:      dt,
		Desc:      desc,
		Amount:    decimal.RequireFromString(amt),
		Current:   true,
	}
}

func TestAppendOrMerge(t *testing.T) {
	t.Run("bootstrap", func(t *testing.T) {
		s := testStore(t)
		stats, err := appendOrMerge(s, tblRaw, []RawTransaction{
			rawTxn("t1", "a1", "COFFEE", "-4.50", "2024-01-01"),
			rawTxn("t2", "a1", "FUEL", "-30.00", "2024-01-02"),
		}, existingWins)
		if err != nil {
			t.Fatalf("appendOrMerge: %v", err)
		}
		if stats.Added != 2 || stats.Kept != 0 || stats.Updated != 0 {
			t.Errorf("got %+v, want 2 added", stats)
		}
		if stats.Backup != "" {
			t.Errorf("bootstrap should not write a backup, got %q", stats.Backup)
		}
		rows, ok, err := readTable[RawTransaction](s, tblRaw)
		if err != nil || !ok {
			t.Fatalf("readTable: ok=%v err=%v", ok, err)
		}
		if len(rows) != 2 || rows[0].TxnID != "t1" || rows[1].TxnID != "t2" {
			t.Errorf("rows out of order or missing: %+v", rows)
		}
	})

	t.Run("reimportIsNoop", func(t *testing.T) {
		s := testStore(t)
		batch := []RawTransaction{
			rawTxn("t1", "a1", "COFFEE", "-4.50", "2024-01-01"),
			rawTxn("t2", "a1", "FUEL", "-30.00", "2024-01-02"),
		}
		if _, err := appendOrMerge(s, tblRaw, batch, existingWins); err != nil {
			t.Fatalf("first merge: %v", err)
		}
		stats, err := appendOrMerge(s, tblRaw, batch, existingWins)
		if err != nil {
			t.Fatalf("second merge: %v", err)
		}
		if stats.Added != 0 || stats.Kept != 2 {
			t.Errorf("re-import should keep everything, got %+v", stats)
		}
		rows, _, _ := readTable[RawTransaction](s, tblRaw)
		if len(rows) != 2 {
			t.Errorf("got %d rows, want 2", len(rows))
		}
	})

	t.Run("incomingWinsPreservesOrder", func(t *testing.T) {
		s := testStore(t)
		a := rawTxn("A", "a1", "one", "-1", "2024-01-01")
		b := rawTxn("B", "a1", "two", "-2", "2024-01-02")
		c := rawTxn("C", "a1", "three", "-3", "2024-01-03")
		if _, err := appendOrMerge(s, tblRaw, []RawTransaction{a, b, c}, incomingWins); err != nil {
			t.Fatalf("merge: %v", err)
		}
		a2 := a
		a2.Desc = "one amended"
		b2 := b
		d := rawTxn("D", "a1", "four", "-4", "2024-01-04")
		stats, err := appendOrMerge(s, tblRaw, []RawTransaction{a2, b2, d}, incomingWins)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if stats.Added != 1 || stats.Updated != 2 {
			t.Errorf("got %+v, want 1 added 2 updated", stats)
		}
		rows, _, _ := readTable[RawTransaction](s, tblRaw)
		ids := []string{}
		for _, r := range rows {
			ids = append(ids, r.TxnID)
		}
		want := []string{"A", "B", "C", "D"}
		for i := range want {
			if i >= len(ids) || ids[i] != want[i] {
				t.Fatalf("got order %v, want %v", ids, want)
			}
		}
		if rows[0].Desc != "one amended" {
			t.Errorf("A should be overwritten in place, got %q", rows[0].Desc)
		}
	})

	t.Run("existingWinsKeepsStoredRow", func(t *testing.T) {
		s := testStore(t)
		a := rawTxn("A", "a1", "original", "-1", "2024-01-01")
		if _, err := appendOrMerge(s, tblRaw, []RawTransaction{a}, existingWins); err != nil {
			t.Fatalf("merge: %v", err)
		}
		a2 := a
		a2.Desc = "clobbered"
		if _, err := appendOrMerge(s, tblRaw, []RawTransaction{a2}, existingWins); err != nil {
			t.Fatalf("merge: %v", err)
		}
		rows, _, _ := readTable[RawTransaction](s, tblRaw)
		if rows[0].Desc != "original" {
			t.Errorf("existing row should win, got %q", rows[0].Desc)
		}
	})

	t.Run("backupBeforeMutation", func(t *testing.T) {
		s := testStore(t)
		a := rawTxn("A", "a1", "before", "-1", "2024-01-01")
		if _, err := appendOrMerge(s, tblRaw, []RawTransaction{a}, existingWins); err != nil {
			t.Fatalf("merge: %v", err)
		}
		a2 := a
		a2.Desc = "after"
		stats, err := appendOrMerge(s, tblRaw, []RawTransaction{a2}, incomingWins)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if stats.Backup == "" {
			t.Fatal("mutation of an existing table must write a backup")
		}
		// The backup is a full bolt file holding the pre-mutation contents.
		bs := &ledgerStore{paths: map[string]string{tblRaw: stats.Backup}}
		rows, ok, err := readTable[RawTransaction](bs, tblRaw)
		if err != nil || !ok {
			t.Fatalf("backup unreadable: ok=%v err=%v", ok, err)
		}
		if len(rows) != 1 || rows[0].Desc != "before" {
			t.Errorf("backup should hold pre-mutation rows, got %+v", rows)
		}
		if got := len(s.backupFiles()); got != 1 {
			t.Errorf("got %d backups recorded, want 1", got)
		}
	})

	t.Run("absentTableIsBootstrapNotError", func(t *testing.T) {
		s := testStore(t)
		rows, ok, err := readTable[RawTransaction](s, tblRaw)
		if err != nil {
			t.Fatalf("absent table must not error: %v", err)
		}
		if ok || rows != nil {
			t.Errorf("got ok=%v rows=%v, want absent", ok, rows)
		}
	})

	t.Run("dedupKeyScopedByAccount", func(t *testing.T) {
		s := testStore(t)
		// Same txn id under two accounts is two raw rows.
		stats, err := appendOrMerge(s, tblRaw, []RawTransaction{
			rawTxn("t1", "a1", "x", "-1", "2024-01-01"),
			rawTxn("t1", "a2", "y", "-2", "2024-01-01"),
		}, existingWins)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if stats.Added != 2 {
			t.Errorf("got %+v, want 2 added", stats)
		}
	})
}
