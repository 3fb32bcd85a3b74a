package main

import (
	"strings"
	"testing"
)

func TestManualTransactions(t *testing.T) {
	t.Run("chaseRemapAndSign", func(t *testing.T) {
		csv := strings.Join([]string{
			"Transaction Date,Description,Category,Amount",
			"01/15/2024,STARBUCKS #123,Food,4.50",
			"01/16/2024,PAYMENT THANK YOU,,-100.00",
		}, "\n")
		sum := &runSummary{}
		txns, err := manualTransactions("chase", "a1", []byte(csv), sum)
		if err != nil {
			t.Fatalf("manualTransactions: %v", err)
		}
		if len(txns) != 2 {
			t.Fatalf("got %d txns, want 2", len(txns))
		}
		// Spend is reported positive and flips to the canonical negative.
		if got := txns[0].Amount.String(); got != "-4.5" {
			t.Errorf("amount = %v, want -4.5", got)
		}
		if got := txns[1].Amount.String(); got != "100" {
			t.Errorf("payment amount = %v, want 100", got)
		}
		if txns[0].Desc != "STARBUCKS #123" || txns[0].SourceCategory != "Food" {
			t.Errorf("remap failed: %+v", txns[0])
		}
		if txns[0].AccountID != "a1" {
			t.Errorf("account id = %q, want a1", txns[0].AccountID)
		}
	})

	t.Run("citiSplitAmount", func(t *testing.T) {
		csv := strings.Join([]string{
			"Date,Description,Debit,Credit",
			"01/15/2024,GROCERY STORE,-25.00,",
			"01/16/2024,REFUND,,10.00",
		}, "\n")
		sum := &runSummary{}
		txns, err := manualTransactions("citi", "a2", []byte(csv), sum)
		if err != nil {
			t.Fatalf("manualTransactions: %v", err)
		}
		if got := txns[0].Amount.String(); got != "-25" {
			t.Errorf("debit = %v, want -25", got)
		}
		if got := txns[1].Amount.String(); got != "10" {
			t.Errorf("credit = %v, want 10", got)
		}
	})

	t.Run("synthesizedKeysAreDeterministic", func(t *testing.T) {
		csv := strings.Join([]string{
			"Transaction Date,Description,Category,Amount",
			"01/15/2024,COFFEE,Food,4.50",
			"01/15/2024,COFFEE,Food,4.50",
		}, "\n")
		sum := &runSummary{}
		first, err := manualTransactions("chase", "a1", []byte(csv), sum)
		if err != nil {
			t.Fatalf("manualTransactions: %v", err)
		}
		second, _ := manualTransactions("chase", "a1", []byte(csv), sum)
		if first[0].TxnID == first[1].TxnID {
			t.Error("same-day duplicates must get distinct keys")
		}
		for i := range first {
			if first[i].TxnID != second[i].TxnID {
				t.Errorf("key %d differs between parses: %q vs %q", i, first[i].TxnID, second[i].TxnID)
			}
		}
	})

	t.Run("malformedRowIsDropped", func(t *testing.T) {
		csv := strings.Join([]string{
			"Transaction Date,Description,Category,Amount",
			"01/15/2024,GOOD ROW,Food,4.50",
			"garbage,BAD ROW,Food,4.50",
		}, "\n")
		sum := &runSummary{}
		txns, err := manualTransactions("chase", "a1", []byte(csv), sum)
		if err != nil {
			t.Fatalf("manualTransactions: %v", err)
		}
		if len(txns) != 1 {
			t.Errorf("got %d txns, want 1", len(txns))
		}
		if sum.dropped != 1 {
			t.Errorf("dropped = %d, want 1", sum.dropped)
		}
	})

	t.Run("missingColumnRejectsFile", func(t *testing.T) {
		csv := "Description,Amount\nNO DATE COLUMN,4.50\n"
		sum := &runSummary{}
		if _, err := manualTransactions("chase", "a1", []byte(csv), sum); err == nil {
			t.Error("a file without a date column must be rejected whole")
		}
	})

	t.Run("unknownInstitution", func(t *testing.T) {
		sum := &runSummary{}
		if _, err := manualTransactions("wellsfargo", "a1", []byte("x\n"), sum); err == nil {
			t.Error("expected an error for an unknown institution")
		}
	})
}

func TestSheetOverlay(t *testing.T) {
	t.Run("remapsOverlayColumns", func(t *testing.T) {
		csv := strings.Join([]string{
			"Date,Amount,Description,Account,Category,Complete,Key",
			"45356,-4.50,STARBUCKS #123,alice,Food,complete,t1",
			",,,,Travel,,t2",
		}, "\n")
		sum := &runSummary{}
		rows, err := sheetOverlay([]byte(csv), sum)
		if err != nil {
			t.Fatalf("sheetOverlay: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("got %d rows, want 2", len(rows))
		}
		if rows[0].TxnID != "t1" || rows[0].Category != "Food" || !rows[0].Confirmed {
			t.Errorf("row 0: %+v", rows[0])
		}
		if rows[0].Date.Format(dayStamp) != "2024-03-05" {
			t.Errorf("serial date = %v", rows[0].Date)
		}
		if rows[1].Category != "Travel" || rows[1].Confirmed {
			t.Errorf("row 1: %+v", rows[1])
		}
	})

	t.Run("rowWithoutKeyIsDropped", func(t *testing.T) {
		csv := strings.Join([]string{
			"Date,Amount,Description,Account,Category,Complete,Key",
			",,,,Food,complete,",
		}, "\n")
		sum := &runSummary{}
		rows, err := sheetOverlay([]byte(csv), sum)
		if err != nil {
			t.Fatalf("sheetOverlay: %v", err)
		}
		if len(rows) != 0 || sum.dropped != 1 {
			t.Errorf("got %d rows, %d dropped", len(rows), sum.dropped)
		}
	})

	t.Run("missingKeyColumnRejectsPull", func(t *testing.T) {
		csv := "Date,Amount,Description\n,,\n"
		sum := &runSummary{}
		if _, err := sheetOverlay([]byte(csv), sum); err == nil {
			t.Error("a pull without the Key column must be rejected")
		}
	})
}

func TestManualAccounts(t *testing.T) {
	csv := strings.Join([]string{
		"account_id,account_name,account_name_parent,account_type",
		"a1,Alice Checking,alice,depository",
		"a2,Alice Card,alice,credit",
	}, "\n")
	sum := &runSummary{}
	accts, err := manualAccounts([]byte(csv), sum)
	if err != nil {
		t.Fatalf("manualAccounts: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accts))
	}
	if accts[0].ParentGroup != "alice" || accts[0].Type != "depository" {
		t.Errorf("account 0: %+v", accts[0])
	}
}

func TestFeedTransactionRow(t *testing.T) {
	t.Run("negatesFeedSign", func(t *testing.T) {
		ft := feedTxn{
			ID:        "t1",
			AccountID: "a1",
			Amount:    12.5,
			Date:      "2024-01-15",
			Name:      "LYFT *RIDE",
			Category:  feedCategory{Primary: "TRANSPORTATION", Detailed: "TRANSPORTATION_TAXI"},
		}
		got, err := feedTransactionRow(ft)
		if err != nil {
			t.Fatalf("feedTransactionRow: %v", err)
		}
		if got.Amount.String() != "-12.5" {
			t.Errorf("amount = %v, want -12.5", got.Amount)
		}
		if got.SourceCategoryDetail != "TRANSPORTATION_TAXI" {
			t.Errorf("detail = %q", got.SourceCategoryDetail)
		}
	})
	t.Run("rejectsMissingIDs", func(t *testing.T) {
		if _, err := feedTransactionRow(feedTxn{Date: "2024-01-15"}); err == nil {
			t.Error("expected an error")
		}
	})
}
