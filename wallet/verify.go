package wallet

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/czh0526/btc-walletd/walletdb"
)

// VerifyResult reports what VerifyWallet did.
type VerifyResult struct {
	// Salvaged is set when the database was rebuilt from a backup.
	Salvaged bool

	// BackupPath is where the original file was moved before salvage.
	BackupPath string

	// Recovered is the number of key/value pairs copied by salvage.
	Recovered int
}

// VerifyWallet checks the integrity of the database at dbPath. With
// salvage, or when the check fails, the file is renamed to
// <dbPath>.<unixtime>.bak and every readable record is copied into a new
// database at dbPath. A missing file is not an error.
//
// A database held by another process yields walletdb.ErrDbLocked.
func VerifyWallet(dbPath string, salvage bool, timeout time.Duration) (*VerifyResult, error) {
	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &VerifyResult{}, nil
	}

	if !salvage {
		checkErr := checkDB(dbPath, timeout)
		switch {
		case checkErr == nil:
			return &VerifyResult{}, nil
		case errors.Is(checkErr, walletdb.ErrDbLocked):
			return nil, checkErr
		}
		log.Warnf("Wallet database %s failed verification: %v", dbPath,
			checkErr)
	}

	backup := fmt.Sprintf("%s.%d.bak", dbPath, time.Now().Unix())
	if err := os.Rename(dbPath, backup); err != nil {
		return nil, walletError(ErrCorrupt, fmt.Sprintf(
			"unable to rename %s to %s", dbPath, backup), err)
	}
	log.Infof("Renamed %s to %s", dbPath, backup)

	res := &VerifyResult{BackupPath: backup}
	n, err := walletdb.Recover(dbDriver, backup, dbPath, timeout)
	if err != nil {
		return res, walletError(ErrCorrupt, "salvage failed", err)
	}
	res.Salvaged = true
	res.Recovered = n
	log.Infof("Salvaged %d records from %s", n, backup)
	return res, nil
}

func checkDB(dbPath string, timeout time.Duration) error {
	db, err := walletdb.Open(dbDriver, dbPath, true, timeout)
	if err != nil {
		return err
	}
	checkErr := db.Check()
	if err := db.Close(); err != nil && checkErr == nil {
		checkErr = err
	}
	return checkErr
}
