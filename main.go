package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

var (
	conf = flag.String("conf", os.Getenv("HOME")+"/.plaid-ledger/config.yaml",
		"Path to the YAML configuration file.")
	doSync  = flag.Bool("sync", false, "Fetch transactions and balances from the feed for all enabled accounts.")
	csvFile = flag.String("csv", "",
		"File path of a bank CSV export containing transactions to import.")
	csvInstitution = flag.String("institution", "",
		"Institution the -csv file came from (chase, citi, usaa, amex).")
	csvAccount  = flag.String("account", "", "Account id the -csv transactions belong to.")
	accountsCSV = flag.String("csv-accounts", "", "File path of a CSV with account reference info.")
	sheetFile   = flag.String("sheet", "", "File path of the spreadsheet overlay CSV export.")
	since       = flag.String("since", "", "Start date (YYYY-MM-DD) for balance reconstruction. Overrides config.")
	until       = flag.String("until", "", "End date (YYYY-MM-DD) for balance reconstruction. Defaults to today.")
	debug       = flag.Bool("debug", false, "Additional debug information if set.")
)

func parseDateFlag(val string, fallback time.Time) time.Time {
	if val == "" {
		return fallback
	}
	t, err := time.Parse(dayStamp, val)
	checkf(err, "Unable to parse date %q", val)
	return t
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(*conf)
	checkf(err, "Unable to load config from %s", *conf)

	s, err := openStore(cfg.DataDir, cfg.BackupDir, cfg.Tables)
	checkf(err, "Unable to open store at %s", cfg.DataDir)

	sum := &runSummary{}
	ctx := context.Background()

	var results []syncResult
	if *doSync {
		if len(cfg.enabledAccounts()) == 0 {
			oerr("No enabled accounts in config. Nothing to sync.")
			return
		}
		results = syncAccounts(ctx, cfg, s, sum)
	}

	if *csvFile != "" {
		if *csvInstitution == "" || *csvAccount == "" {
			oerr("Please specify -institution and -account along with -csv")
			return
		}
		data, err := os.ReadFile(*csvFile)
		checkf(err, "Unable to read %s", *csvFile)
		txns, err := manualTransactions(*csvInstitution, *csvAccount, data, sum)
		checkf(err, "Unable to import %s", *csvFile)
		stats, err := appendOrMerge(s, tblRaw, txns, existingWins)
		checkf(err, "Unable to merge transactions from %s", *csvFile)
		if *debug {
			fmt.Printf("imported %s: %d added, %d already present\n", *csvFile, stats.Added, stats.Kept)
		}
	}

	if *accountsCSV != "" {
		data, err := os.ReadFile(*accountsCSV)
		checkf(err, "Unable to read %s", *accountsCSV)
		accts, err := manualAccounts(data, sum)
		checkf(err, "Unable to import %s", *accountsCSV)
		_, err = appendOrMerge(s, tblAccounts, accts, existingWins)
		checkf(err, "Unable to merge accounts from %s", *accountsCSV)
	}

	checkf(promoteRaw(s, sum), "Unable to promote raw transactions")

	if *sheetFile != "" {
		data, err := os.ReadFile(*sheetFile)
		checkf(err, "Unable to read %s", *sheetFile)
		overlay, err := sheetOverlay(data, sum)
		checkf(err, "Unable to parse %s", *sheetFile)
		checkf(applyOverlay(s, overlay, sum), "Unable to apply sheet overlay")
	}

	checkf(applyRules(s, cfg.Prediction.Rules, sum), "Unable to apply category rules")
	checkf(predictCategories(s, cfg.Prediction.Neighbors, sum), "Unable to predict categories")

	if err := reviewWithAI(ctx, cfg, s, sum); err != nil {
		// Categorization is best effort. The run still reconstructs balances.
		errc(" AI ")
		fmt.Printf(" %v\n", err)
	}

	start := parseDateFlag(*since, cfg.startDate())
	end := parseDateFlag(*until, time.Now().UTC())
	assertf(!day(end).Before(day(start)), "-until %s precedes -since %s",
		end.Format(dayStamp), start.Format(dayStamp))
	checkf(reconstructBalances(s, start, end, sum), "Unable to reconstruct balances")

	sum.print(results, s.backupFiles())
}
