package bdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/czh0526/btc-walletd/walletdb"
	"go.etcd.io/bbolt"
)

// db is a bbolt database. Rewrite replaces the underlying file, so every
// use of bolt holds mtx.
type db struct {
	mtx     sync.RWMutex
	bolt    *bbolt.DB
	options bbolt.Options
}

func (db *db) BeginReadTx() (walletdb.ReadTx, error) {
	return db.beginTx(false)
}

func (db *db) beginTx(writable bool) (*transaction, error) {
	db.mtx.RLock()
	boltTx, err := db.bolt.Begin(writable)
	db.mtx.RUnlock()
	if err != nil {
		return nil, convertErr(err)
	}
	return &transaction{boltTx: boltTx}, nil
}

func (db *db) BeginReadWriteTx() (walletdb.ReadWriteTx, error) {
	return db.beginTx(true)
}

func (db *db) Copy(w io.Writer) error {
	db.mtx.RLock()
	defer db.mtx.RUnlock()

	return convertErr(db.bolt.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	}))
}

func (db *db) Close() error {
	db.mtx.RLock()
	defer db.mtx.RUnlock()

	return convertErr(db.bolt.Close())
}

func (db *db) PrintStats() string {
	db.mtx.RLock()
	stats := db.bolt.Stats()
	db.mtx.RUnlock()

	return fmt.Sprintf("free_pages=%d pending_pages=%d free_alloc=%d "+
		"freelist_inuse=%d txs=%d open_txs=%d",
		stats.FreePageN, stats.PendingPageN, stats.FreeAlloc,
		stats.FreelistInuse, stats.TxN, stats.OpenTxN)
}

func (db *db) View(f func(tx walletdb.ReadTx) error, reset func()) error {
	db.mtx.RLock()
	defer db.mtx.RUnlock()

	reset()

	boltTx, err := db.bolt.Begin(false)
	if err != nil {
		return convertErr(err)
	}
	tx := &transaction{boltTx: boltTx}

	err = f(tx)
	rollbackErr := tx.Rollback()
	if err != nil {
		return err
	}

	return rollbackErr
}

func (db *db) Update(f func(tx walletdb.ReadWriteTx) error, reset func()) error {
	db.mtx.RLock()
	defer db.mtx.RUnlock()

	reset()

	boltTx, err := db.bolt.Begin(true)
	if err != nil {
		return convertErr(err)
	}
	tx := &transaction{boltTx: boltTx}

	err = f(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (db *db) Check() error {
	db.mtx.RLock()
	defer db.mtx.RUnlock()

	return db.bolt.View(func(tx *bbolt.Tx) error {
		var errs []error
		for err := range tx.Check() {
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil
		}
		return fmt.Errorf("%w: %v", walletdb.ErrDbCorrupt,
			errors.Join(errs...))
	})
}

func (db *db) Sync() error {
	db.mtx.RLock()
	defer db.mtx.RUnlock()

	return convertErr(db.bolt.Sync())
}

// Rewrite copies the live records into a new file and renames it over the
// database file. Freed pages of the old file, which may still hold
// overwritten values, are not carried over. On a failed rename the
// original file is reopened and stays in use.
func (db *db) Rewrite() error {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	path := db.bolt.Path()
	tmpPath := path + ".rewrite"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := compact(tmpPath, db.bolt, db.options.Timeout); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("unable to copy %s: %w", path, err)
	}
	if err := db.bolt.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return convertErr(err)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		_ = os.Remove(tmpPath)
	}

	options := db.options
	boltDB, err := bbolt.Open(path, 0600, &options)
	if err != nil {
		return convertErr(err)
	}
	db.bolt = boltDB

	if renameErr != nil {
		return fmt.Errorf("unable to replace %s: %w", path, renameErr)
	}
	return nil
}

var _ walletdb.DB = (*db)(nil)

func openDB(dbPath string, noFreelistSync bool, create bool,
	timeout time.Duration, noSync bool) (walletdb.DB, error) {

	if !create && !fileExists(dbPath) {
		return nil, walletdb.ErrDbDoesNotExist
	}

	options := bbolt.Options{
		NoFreelistSync: noFreelistSync,
		FreelistType:   bbolt.FreelistMapType,
		Timeout:        timeout,
		NoSync:         noSync,
	}

	opts := options
	boltDB, err := bbolt.Open(dbPath, 0600, &opts)
	if err != nil {
		return nil, convertErr(err)
	}
	return &db{bolt: boltDB, options: options}, nil
}

func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

func convertErr(err error) error {
	switch err {
	// Database open/create errors.
	case bbolt.ErrDatabaseNotOpen:
		return walletdb.ErrDbNotOpen
	case bbolt.ErrInvalid:
		return walletdb.ErrInvalid
	case bbolt.ErrTimeout:
		return walletdb.ErrDbLocked

	// Transaction errors.
	case bbolt.ErrTxNotWritable:
		return walletdb.ErrTxNotWritable
	case bbolt.ErrTxClosed:
		return walletdb.ErrTxClosed

	// Value/bucket errors.
	case bbolt.ErrBucketNotFound:
		return walletdb.ErrBucketNotFound
	case bbolt.ErrBucketExists:
		return walletdb.ErrBucketExists
	case bbolt.ErrBucketNameRequired:
		return walletdb.ErrBucketNameRequired
	case bbolt.ErrKeyRequired:
		return walletdb.ErrKeyRequired
	case bbolt.ErrKeyTooLarge:
		return walletdb.ErrKeyTooLarge
	case bbolt.ErrValueTooLarge:
		return walletdb.ErrValueTooLarge
	case bbolt.ErrIncompatibleValue:
		return walletdb.ErrIncompatibleValue
	}

	// Return the original error if none of the above applies.
	return err
}
