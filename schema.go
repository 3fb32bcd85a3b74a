package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Table names. One canonical file per entity kind.
const (
	tblRaw       = "raw_transactions"
	tblAccounts  = "account_info"
	tblProcessed = "processed_transactions"
	tblTraining  = "training_examples"
	tblSnapshots = "balance_snapshots"
	tblBalances  = "reconstructed_balances"
)

const dayStamp = "2006-01-02"

// RawTransaction is a transaction exactly as a source reported it.
// Immutable once written, except for ArchivedAt which is reserved.
type RawTransaction struct {
	TxnID                string
	AccountID            string
	Date                 time.Time
	Desc                 string
	Amount               decimal.Decimal
	SourceCategory       string
	SourceCategoryDetail string
	CreatedAt            time.Time
	ArchivedAt           time.Time // zero until archived
	Current              bool
}

// TxnID is only unique within an account on the raw side.
func (t RawTransaction) DedupKey() string { return t.AccountID + "/" + t.TxnID }

// AccountInfo describes one underlying account. ParentGroup is the logical
// unit balances are aggregated under (e.g. several cards of one person).
type AccountInfo struct {
	AccountID    string
	AccountName  string
	ParentGroup  string
	OfficialName string
	Type         string
	Subtype      string
	Mask         string
}

func (a AccountInfo) DedupKey() string { return a.AccountID }

// ProcessedTransaction is the canonical merged view. TxnID is globally unique
// here; it is the merge key across every source.
type ProcessedTransaction struct {
	TxnID             string
	AccountID         string
	AccountName       string
	ParentGroup       string
	Date              time.Time
	Desc              string
	Amount            decimal.Decimal
	Category          string
	CategoryConfirmed bool
}

func (t ProcessedTransaction) DedupKey() string { return t.TxnID }

// TrainingExample is a human-confirmed categorization. Append-only.
type TrainingExample struct {
	TxnID    string
	Desc     string
	Category string
}

func (e TrainingExample) DedupKey() string { return e.TxnID }

// BalanceSnapshot is a known balance for one account on one day. Only the
// earliest-arriving snapshot per (account, day) is authoritative, which the
// store enforces through existing-wins precedence at ingest.
type BalanceSnapshot struct {
	AccountID string
	AsOf      time.Time
	Current   decimal.Decimal
}

func (b BalanceSnapshot) DedupKey() string {
	return b.AccountID + "/" + b.AsOf.Format(dayStamp)
}

// ReconstructedBalance is one cell of the gap-free daily series.
type ReconstructedBalance struct {
	ParentGroup string
	Date        time.Time
	Balance     decimal.Decimal
}

func (r ReconstructedBalance) DedupKey() string {
	return r.ParentGroup + "/" + r.Date.Format(dayStamp)
}

// --- Schema registry ---

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldDate
	fieldAmount
	fieldBool
)

type field struct {
	name     string
	kind     fieldKind
	required bool
}

type schema struct {
	kind   string
	fields []field
}

// schemas declares, per entity kind, the typed fields the normalizer must
// produce and how raw string values coerce into them. Downstream components
// only ever see rows shaped by one of these.
var schemas = map[string]schema{
	tblRaw: {kind: tblRaw, fields: []field{
		{"txn_id", fieldString, false}, // synthesized when absent
		{"account_id", fieldString, true},
		{"txn_date", fieldDate, true},
		{"txn_name", fieldString, true},
		{"txn_amount", fieldAmount, true},
		{"txn_cat", fieldString, false},
		{"txn_cat_dtl", fieldString, false},
	}},
	tblAccounts: {kind: tblAccounts, fields: []field{
		{"account_id", fieldString, true},
		{"account_name", fieldString, true},
		{"account_name_parent", fieldString, true},
		{"account_name_ofcl", fieldString, false},
		{"account_type", fieldString, false},
		{"account_subtype", fieldString, false},
		{"account_number", fieldString, false},
	}},
	tblSnapshots: {kind: tblSnapshots, fields: []field{
		{"account_id", fieldString, true},
		{"bal_date", fieldDate, true},
		{"bal_current", fieldAmount, true},
	}},
	// The spreadsheet overlay shape, after header remap.
	"sheet_overlay": {kind: "sheet_overlay", fields: []field{
		{"txn_id", fieldString, true},
		{"txn_date", fieldDate, false},
		{"txn_amount", fieldAmount, false},
		{"txn_name", fieldString, false},
		{"account_name_parent", fieldString, false},
		{"txn_cat", fieldString, false},
		{"txn_cat_flag", fieldBool, false},
	}},
}

// coerce types a raw string record against the schema. A missing or
// unparseable required field fails the whole record so the caller can drop it
// with a diagnostic.
func (s schema) coerce(rec map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		raw, ok := rec[f.name]
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			if f.required {
				return nil, errors.Errorf("%s: missing required field %q", s.kind, f.name)
			}
			continue
		}
		switch f.kind {
		case fieldString:
			out[f.name] = raw
		case fieldDate:
			d, err := parseDay(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: field %q", s.kind, f.name)
			}
			out[f.name] = d
		case fieldAmount:
			a, err := parseAmount(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: field %q", s.kind, f.name)
			}
			out[f.name] = a
		case fieldBool:
			out[f.name] = parseFlag(raw)
		}
	}
	return out, nil
}

// sheetEpoch is day zero of spreadsheet serial dates.
var sheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var dayFormats = []string{dayStamp, "01/02/2006", "1/2/2006", "2006/01/02"}

// parseDay accepts ISO and US date strings plus spreadsheet serial day
// numbers, and normalizes to UTC midnight.
func parseDay(s string) (time.Time, error) {
	for _, layout := range dayFormats {
		if tm, err := time.Parse(layout, s); err == nil {
			return day(tm), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		return day(sheetEpoch.AddDate(0, 0, int(serial))), nil
	}
	return time.Time{}, errors.Errorf("cannot parse %q as a date", s)
}

// parseAmount strips currency noise and parentheses negation.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "cannot parse %q as an amount", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// parseFlag covers boolean spellings plus the overlay's Complete convention.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "complete":
		return true
	}
	return false
}

// day truncates to UTC midnight, the canonical form for all dates in the
// store.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
