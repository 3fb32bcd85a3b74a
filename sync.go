package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Thin wrapper over the transaction-sync provider. Token exchange and account
// linking live outside this program; all it needs is a working access token
// per account.

var feedHosts = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

type feedCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

type feedTxn struct {
	ID        string       `json:"transaction_id"`
	AccountID string       `json:"account_id"`
	Amount    float64      `json:"amount"`
	Date      string       `json:"date"`
	Name      string       `json:"name"`
	Pending   bool         `json:"pending"`
	Category  feedCategory `json:"personal_finance_category"`
}

type feedBalances struct {
	Available float64 `json:"available"`
	Current   float64 `json:"current"`
}

type feedAccount struct {
	ID           string       `json:"account_id"`
	Name         string       `json:"name"`
	OfficialName string       `json:"official_name"`
	Type         string       `json:"type"`
	Subtype      string       `json:"subtype"`
	Mask         string       `json:"mask"`
	Balances     feedBalances `json:"balances"`
}

type feedResponse struct {
	Accounts     []feedAccount `json:"accounts"`
	Transactions []feedTxn     `json:"transactions"`
	Total        int           `json:"total_transactions"`
}

type feedOptions struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

type feedRequest struct {
	ClientID    string      `json:"client_id"`
	Secret      string      `json:"secret"`
	AccessToken string      `json:"access_token"`
	StartDate   string      `json:"start_date,omitempty"`
	EndDate     string      `json:"end_date,omitempty"`
	Opt         feedOptions `json:"options"`
}

type feedClient struct {
	host     string
	clientID string
	secret   string
	hc       *http.Client
}

func newFeedClient(cfg *Config) (*feedClient, error) {
	host, ok := feedHosts[cfg.Feed.Environment]
	if !ok {
		return nil, errors.Errorf("unknown feed environment %q", cfg.Feed.Environment)
	}
	return &feedClient{
		host:     host,
		clientID: cfg.Feed.ClientID,
		secret:   cfg.Feed.Secret,
		hc:       &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *feedClient) post(ctx context.Context, endpoint string, req feedRequest) (*feedResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+endpoint, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	hreq.Header.Add("Content-Type", "application/json")
	resp, err := c.hc.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("feed returned %v: %s", resp.Status, data)
	}
	fr := &feedResponse{}
	if err := json.Unmarshal(data, fr); err != nil {
		return nil, err
	}
	return fr, nil
}

// transactions pages through the full window, 500 at a time.
func (c *feedClient) transactions(ctx context.Context, token string, start, end time.Time) ([]feedTxn, []feedAccount, error) {
	req := feedRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: token,
		StartDate:   start.Format(dayStamp),
		EndDate:     end.Format(dayStamp),
		Opt:         feedOptions{Count: 500},
	}
	var txns []feedTxn
	var accounts []feedAccount
	for {
		fr, err := c.post(ctx, "/transactions/get", req)
		if err != nil {
			return nil, nil, err
		}
		txns = append(txns, fr.Transactions...)
		accounts = fr.Accounts
		if len(txns) >= fr.Total || len(fr.Transactions) == 0 {
			return txns, accounts, nil
		}
		req.Opt.Offset = len(txns)
	}
}

func (c *feedClient) balances(ctx context.Context, token string) ([]feedAccount, error) {
	fr, err := c.post(ctx, "/accounts/balance/get", feedRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: token,
	})
	if err != nil {
		return nil, err
	}
	return fr.Accounts, nil
}

type syncCounts struct {
	Fetched   int
	Added     int
	Pending   int
	Accounts  int
	Snapshots int
}

type syncResult struct {
	Account string
	Counts  syncCounts
	Err     error
}

const syncWorkers = 4

// syncAccounts fetches and ingests every enabled account on a bounded worker
// pool. Each account's fetch-and-normalize step is independent and its
// failure is captured in its result; it never blocks or corrupts the other
// accounts, whose ledger writes remain serialized inside the store.
func syncAccounts(ctx context.Context, cfg *Config, s *ledgerStore, sum *runSummary) []syncResult {
	client, err := newFeedClient(cfg)
	if err != nil {
		return []syncResult{{Account: "*", Err: err}}
	}
	names := cfg.enabledAccounts()
	results := make([]syncResult, len(names))

	var wg sync.WaitGroup
	sem := make(chan struct{}, syncWorkers)
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = syncOne(ctx, client, cfg, name, s, sum)
		}(i, name)
	}
	wg.Wait()
	return results
}

func syncOne(ctx context.Context, client *feedClient, cfg *Config, name string, s *ledgerStore, sum *runSummary) syncResult {
	res := syncResult{Account: name}
	acct := cfg.Accounts[name]
	start, end := cfg.startDate(), day(time.Now().UTC())

	feedTxns, feedAccts, err := client.transactions(ctx, acct.AccessToken, start, end)
	if err != nil {
		res.Err = errors.Wrapf(err, "fetch failed for %v", name)
		return res
	}
	res.Counts.Fetched = len(feedTxns)
	res.Counts.Accounts = len(feedAccts)

	var raw []RawTransaction
	for _, ft := range feedTxns {
		if ft.Pending {
			res.Counts.Pending++
			continue
		}
		t, err := feedTransactionRow(ft)
		if err != nil {
			sum.dropRecord(name, err)
			continue
		}
		raw = append(raw, t)
	}
	accounts := make([]AccountInfo, 0, len(feedAccts))
	for _, fa := range feedAccts {
		accounts = append(accounts, feedAccountRow(fa, name))
	}

	var snapshots []BalanceSnapshot
	if acct.Balances {
		balAccts, err := client.balances(ctx, acct.AccessToken)
		if err != nil {
			res.Err = errors.Wrapf(err, "balance fetch failed for %v", name)
			return res
		}
		asOf := time.Now().UTC()
		for _, fa := range balAccts {
			snapshots = append(snapshots, feedSnapshotRow(fa, asOf))
		}
	}

	// Fresh sync data is authoritative for transactions and account info;
	// snapshots keep the earliest arrival per (account, day).
	if _, err := appendOrMerge(s, tblAccounts, accounts, incomingWins); err != nil {
		res.Err = err
		return res
	}
	stats, err := appendOrMerge(s, tblRaw, raw, incomingWins)
	if err != nil {
		res.Err = err
		return res
	}
	res.Counts.Added = stats.Added
	if len(snapshots) > 0 {
		stats, err := appendOrMerge(s, tblSnapshots, snapshots, existingWins)
		if err != nil {
			res.Err = err
			return res
		}
		res.Counts.Snapshots = stats.Added
	}
	return res
}

func (c syncCounts) String() string {
	return fmt.Sprintf("%d new (%d pending skipped), %d fetched over %d accounts, %d snapshots",
		c.Added, c.Pending, c.Fetched, c.Accounts, c.Snapshots)
}
