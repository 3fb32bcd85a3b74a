package main

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// A tableRow can be persisted in a ledger table. DedupKey returns the value
// of the table's unique key, composite keys joined with "/".
type tableRow interface {
	DedupKey() string
}

type precedence int

const (
	// existingWins keeps the stored row when a dedup key collides. Used when
	// re-importing, so curated data is never clobbered.
	existingWins precedence = iota
	// incomingWins replaces the stored row. Used when the incoming source is
	// authoritative, e.g. fresh sync data.
	incomingWins
)

var (
	rowsBucket = []byte("rows")
	keysBucket = []byte("keys")

	errBackupFailed = errors.New("backup write failed")
)

// ledgerStore holds one bolt file per table plus a backup directory. Rows are
// gob-encoded under a monotonic insertion sequence, with a dedup-key index
// bucket, so iteration order is insertion order. All mutations are serialized
// by a single in-process lock: each mutation snapshots, then rewrites, a whole
// table.
type ledgerStore struct {
	dataDir   string
	backupDir string
	paths     map[string]string // per-table overrides from config

	mu        sync.Mutex
	backupSeq int
	backups   []string // backup files written during this run
}

func openStore(dataDir, backupDir string, paths map[string]string) (*ledgerStore, error) {
	for _, dir := range []string{dataDir, backupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "unable to create %v", dir)
		}
	}
	return &ledgerStore{dataDir: dataDir, backupDir: backupDir, paths: paths}, nil
}

func (s *ledgerStore) path(table string) string {
	if p, ok := s.paths[table]; ok {
		return p
	}
	return filepath.Join(s.dataDir, table+".db")
}

// backupFiles returns the backups written so far in this run.
func (s *ledgerStore) backupFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.backups...)
}

type mergeStats struct {
	Added   int // rows inserted under a new dedup key
	Updated int // rows replacing an existing key (incoming wins)
	Kept    int // incoming rows discarded for an existing key (existing wins)
	Backup  string
}

// readTable loads every row of a table in insertion order. ok is false when
// the table has never been written, which callers treat as bootstrap, not
// failure. A table that exists but cannot be decoded is an error.
func readTable[T tableRow](s *ledgerStore, table string) (rows []T, ok bool, err error) {
	path := s.path(table)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, false, errors.Wrapf(err, "table %v is unreadable", table)
	}
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row T
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&row); err != nil {
				return errors.Wrapf(err, "corrupt row in table %v", table)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

// appendOrMerge combines rows into a table under the given precedence. If the
// table does not exist, the result is exactly rows (bootstrap). Otherwise the
// table's current contents are snapshotted to the backup directory before any
// destructive write; a backup failure aborts with the canonical file
// untouched. The merge itself runs in a single bolt transaction, so readers
// never observe a partial result.
func appendOrMerge[T tableRow](s *ledgerStore, table string, rows []T, prec precedence) (mergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats mergeStats
	path := s.path(table)
	_, statErr := os.Stat(path)
	exists := statErr == nil

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return stats, errors.Wrapf(err, "unable to open table %v", table)
	}
	defer db.Close()

	if exists {
		backup, err := s.writeBackup(db, table)
		if err != nil {
			return stats, errors.WithMessagef(errBackupFailed, "table %v: %v", table, err)
		}
		stats.Backup = backup
		s.backups = append(s.backups, backup)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		rb, err := tx.CreateBucketIfNotExists(rowsBucket)
		if err != nil {
			return err
		}
		kb, err := tx.CreateBucketIfNotExists(keysBucket)
		if err != nil {
			return err
		}
		for _, row := range rows {
			key := []byte(row.DedupKey())
			var val bytes.Buffer
			if err := gob.NewEncoder(&val).Encode(row); err != nil {
				return errors.Wrapf(err, "unable to encode row %q", key)
			}
			if seq := kb.Get(key); seq != nil {
				if prec == existingWins {
					stats.Kept++
					continue
				}
				// Incoming wins: overwrite in place, keeping the row's
				// original position in insertion order.
				if err := rb.Put(seq, val.Bytes()); err != nil {
					return err
				}
				stats.Updated++
				continue
			}
			n, err := rb.NextSequence()
			if err != nil {
				return err
			}
			seq := u64tob(n)
			if err := rb.Put(seq, val.Bytes()); err != nil {
				return err
			}
			if err := kb.Put(key, seq); err != nil {
				return err
			}
			stats.Added++
		}
		return nil
	})
	if err != nil {
		return stats, errors.Wrapf(err, "merge into table %v failed", table)
	}
	return stats, nil
}

// writeBackup snapshots the table's pre-mutation contents. Naming is
// timestamp plus a process-monotonic counter, so repeated mutations of one
// table within a second never overwrite an earlier backup.
func (s *ledgerStore) writeBackup(db *bolt.DB, table string) (string, error) {
	s.backupSeq++
	name := fmt.Sprintf("%s-%s-%03d.db", table, time.Now().Format("20060102-150405"), s.backupSeq)
	path := filepath.Join(s.backupDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	err = db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(f)
		return err
	})
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func u64tob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
