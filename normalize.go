package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// The normalizer is the only place that knows source-specific shapes. Each
// function maps one source kind onto the canonical rows declared in the
// schema registry; rows that fail coercion are dropped with a diagnostic and
// counted, never propagated.

// institution describes how one bank's export maps onto the canonical
// transaction shape: column renames, and the source's sign convention.
type institution struct {
	renames map[string]string
	// negate flips the sign: these exports report spend as positive.
	negate bool
	// splitAmount sums separate Debit/Credit columns into one amount.
	splitAmount bool
}

var institutions = map[string]institution{
	"chase": {
		renames: map[string]string{
			"Transaction Date": "txn_date",
			"Description":      "txn_name",
			"Category":         "txn_cat",
			"Amount":           "txn_amount",
		},
		negate: true,
	},
	"citi": {
		renames: map[string]string{
			"Date":        "txn_date",
			"Description": "txn_name",
		},
		splitAmount: true,
	},
	"usaa": {
		renames: map[string]string{
			"Date":                 "txn_date",
			"Original Description": "txn_name",
			"Category":             "txn_cat",
			"Amount":               "txn_amount",
		},
		negate: true,
	},
	"amex": {
		renames: map[string]string{
			"Date":        "txn_date",
			"Description": "txn_name",
			"Category":    "txn_cat",
			"Amount":      "txn_amount",
		},
		negate: true,
	},
}

// sheetRenames maps the spreadsheet overlay's header onto canonical names.
var sheetRenames = map[string]string{
	"Date":        "txn_date",
	"Amount":      "txn_amount",
	"Description": "txn_name",
	"Account":     "account_name_parent",
	"Category":    "txn_cat",
	"Complete":    "txn_cat_flag",
	"Key":         "txn_id",
}

// overlayRow is a spreadsheet-confirmed categorization. Not persisted; it is
// applied onto processed transactions and then discarded.
type overlayRow struct {
	TxnID       string
	Date        time.Time
	Amount      decimal.Decimal
	Desc        string
	ParentGroup string
	Category    string
	Confirmed   bool
}

// readRecords parses a delimited file into header-keyed records, applying the
// source's column renames. Unrecognized extra columns pass through untouched
// and are simply never read.
func readRecords(data []byte, renames map[string]string) ([]map[string]string, []string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to read header line")
	}
	for i, col := range header {
		if canon, ok := renames[col]; ok {
			header[i] = canon
		}
	}
	var recs []map[string]string
	for {
		cols, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "unable to read line")
		}
		rec := make(map[string]string, len(header))
		for i, col := range cols {
			if i < len(header) {
				rec[header[i]] = col
			}
		}
		recs = append(recs, rec)
	}
	return recs, header, nil
}

func requireColumns(header []string, cols ...string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	for _, col := range cols {
		if !have[col] {
			return errors.Errorf("mandatory column %q is missing", col)
		}
	}
	return nil
}

// manualTransactions converts a bank's CSV export into raw transactions for
// the given account. The file's institution picks the column remap and sign
// convention. A missing mandatory column rejects the whole file; individual
// malformed rows are dropped with a diagnostic.
func manualTransactions(name, accountID string, data []byte, sum *runSummary) ([]RawTransaction, error) {
	inst, ok := institutions[name]
	if !ok {
		return nil, errors.Errorf("unknown institution %q", name)
	}
	recs, header, err := readRecords(data, inst.renames)
	if err != nil {
		return nil, err
	}
	required := []string{"txn_date", "txn_name"}
	if inst.splitAmount {
		required = append(required, "Debit", "Credit")
	} else {
		required = append(required, "txn_amount")
	}
	if err := requireColumns(header, required...); err != nil {
		return nil, errors.Wrapf(err, "rejecting %v import", name)
	}

	sc := schemas[tblRaw]
	now := time.Now().UTC()
	var txns []RawTransaction
	keyCounts := make(map[string]int)
	for _, rec := range recs {
		if inst.splitAmount {
			rec["txn_amount"] = sumDebitCredit(rec["Debit"], rec["Credit"])
		}
		rec["account_id"] = accountID
		vals, err := sc.coerce(rec)
		if err != nil {
			sum.dropRecord(name, err)
			continue
		}
		t := RawTransaction{
			TxnID:          str(vals, "txn_id"),
			AccountID:      accountID,
			Date:           date(vals, "txn_date"),
			Desc:           str(vals, "txn_name"),
			Amount:         amount(vals, "txn_amount"),
			SourceCategory: str(vals, "txn_cat"),
			CreatedAt:      now,
			Current:        true,
		}
		if inst.negate {
			t.Amount = t.Amount.Neg()
		}
		if t.TxnID == "" {
			t.TxnID = synthesizeKey(t, keyCounts)
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// sumDebitCredit folds split Debit/Credit columns into one signed amount.
// Empty cells count as zero.
func sumDebitCredit(debit, credit string) string {
	total := decimal.Zero
	for _, cell := range []string{debit, credit} {
		if cell == "" {
			continue
		}
		if d, err := parseAmount(cell); err == nil {
			total = total.Add(d)
		}
	}
	return total.String()
}

// synthesizeKey builds a deterministic transaction id for sources that have
// none, so a re-import of the same file is an exact no-op merge. Collisions
// within one file (same day, amount and description) get a dense ordinal.
func synthesizeKey(t RawTransaction, counts map[string]int) string {
	base := fmt.Sprintf("%s|%s|%s|%s", t.Date.Format(dayStamp), t.Amount.String(), t.Desc, t.AccountID)
	counts[base]++
	return fmt.Sprintf("%s_%d", base, counts[base])
}

// manualAccounts converts an account reference CSV into account info rows.
func manualAccounts(data []byte, sum *runSummary) ([]AccountInfo, error) {
	recs, header, err := readRecords(data, nil)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(header, "account_id", "account_name", "account_name_parent"); err != nil {
		return nil, errors.Wrap(err, "rejecting account import")
	}
	sc := schemas[tblAccounts]
	var accts []AccountInfo
	for _, rec := range recs {
		vals, err := sc.coerce(rec)
		if err != nil {
			sum.dropRecord("accounts", err)
			continue
		}
		accts = append(accts, AccountInfo{
			AccountID:    str(vals, "account_id"),
			AccountName:  str(vals, "account_name"),
			ParentGroup:  str(vals, "account_name_parent"),
			OfficialName: str(vals, "account_name_ofcl"),
			Type:         str(vals, "account_type"),
			Subtype:      str(vals, "account_subtype"),
			Mask:         str(vals, "account_number"),
		})
	}
	return accts, nil
}

// sheetOverlay converts a spreadsheet pull into overlay rows. Rows without a
// Key cannot be matched to a transaction and are dropped.
func sheetOverlay(data []byte, sum *runSummary) ([]overlayRow, error) {
	recs, header, err := readRecords(data, sheetRenames)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(header, "txn_id"); err != nil {
		return nil, errors.Wrap(err, "rejecting spreadsheet pull")
	}
	sc := schemas["sheet_overlay"]
	var rows []overlayRow
	for _, rec := range recs {
		vals, err := sc.coerce(rec)
		if err != nil {
			sum.dropRecord("sheet", err)
			continue
		}
		rows = append(rows, overlayRow{
			TxnID:       str(vals, "txn_id"),
			Date:        date(vals, "txn_date"),
			Amount:      amount(vals, "txn_amount"),
			Desc:        str(vals, "txn_name"),
			ParentGroup: str(vals, "account_name_parent"),
			Category:    str(vals, "txn_cat"),
			Confirmed:   boolean(vals, "txn_cat_flag"),
		})
	}
	return rows, nil
}

// --- Feed shapes ---

// feedTransactionRow maps one sync-feed transaction onto a raw transaction.
// The feed reports spend as positive; the canonical convention is negative,
// matching how the amounts flow into balance reconstruction.
func feedTransactionRow(t feedTxn) (RawTransaction, error) {
	tm, err := parseDay(t.Date)
	if err != nil {
		return RawTransaction{}, errors.Wrapf(err, "txn %v", t.ID)
	}
	if t.ID == "" || t.AccountID == "" {
		return RawTransaction{}, errors.Errorf("txn missing id or account id")
	}
	return RawTransaction{
		TxnID:                t.ID,
		AccountID:            t.AccountID,
		Date:                 tm,
		Desc:                 t.Name,
		Amount:               decimal.NewFromFloat(t.Amount).Neg(),
		SourceCategory:       t.Category.Primary,
		SourceCategoryDetail: t.Category.Detailed,
		CreatedAt:            time.Now().UTC(),
		Current:              true,
	}, nil
}

// feedAccountRow maps one feed account onto account info. The parent group is
// the configured account name the token belongs to, so every card fetched
// with one token aggregates under that name.
func feedAccountRow(a feedAccount, parent string) AccountInfo {
	return AccountInfo{
		AccountID:    a.ID,
		AccountName:  a.Name,
		ParentGroup:  parent,
		OfficialName: a.OfficialName,
		Type:         a.Type,
		Subtype:      a.Subtype,
		Mask:         a.Mask,
	}
}

func feedSnapshotRow(a feedAccount, asOf time.Time) BalanceSnapshot {
	return BalanceSnapshot{
		AccountID: a.ID,
		AsOf:      day(asOf),
		Current:   decimal.NewFromFloat(a.Balances.Current),
	}
}

// --- typed-value accessors for coerced records ---

func str(vals map[string]any, name string) string {
	if v, ok := vals[name].(string); ok {
		return v
	}
	return ""
}

func date(vals map[string]any, name string) time.Time {
	if v, ok := vals[name].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func amount(vals map[string]any, name string) decimal.Decimal {
	if v, ok := vals[name].(decimal.Decimal); ok {
		return v
	}
	return decimal.Zero
}

func boolean(vals map[string]any, name string) bool {
	if v, ok := vals[name].(bool); ok {
		return v
	}
	return false
}
