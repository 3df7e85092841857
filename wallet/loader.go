package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/czh0526/btc-walletd/walletdb"
	_ "github.com/czh0526/btc-walletd/walletdb/bdb"
)

const (
	// DefaultWalletFile is the wallet database file name inside the
	// network data directory.
	DefaultWalletFile = "wallet.db"

	dbDriver = "bdb"
)

// Loader opens and creates the wallet database of one data directory and
// hands out the loaded wallet.
type Loader struct {
	callbacks      []func(*Wallet)
	chainParams    *chaincfg.Params
	dbDirPath      string
	fileName       string
	noFreelistSync bool
	noSync         bool
	timeout        time.Duration
	cfg            Config

	wallet *Wallet
	db     walletdb.DB
	mu     sync.Mutex
}

// NewLoader returns a Loader for dbDirPath/fileName. With noSync the
// database is not synced on every commit and relies on the Flusher.
func NewLoader(chainParams *chaincfg.Params, dbDirPath, fileName string,
	noFreelistSync bool, timeout time.Duration, noSync bool,
	cfg Config) *Loader {

	if fileName == "" {
		fileName = DefaultWalletFile
	}
	return &Loader{
		chainParams:    chainParams,
		dbDirPath:      dbDirPath,
		fileName:       fileName,
		noFreelistSync: noFreelistSync,
		noSync:         noSync,
		timeout:        timeout,
		cfg:            cfg,
	}
}

// DBPath returns the path of the wallet database.
func (l *Loader) DBPath() string {
	return filepath.Join(l.dbDirPath, l.fileName)
}

// FileName returns the wallet database file name.
func (l *Loader) FileName() string {
	return l.fileName
}

// onLoaded runs the registered callbacks. Callers hold l.mu.
func (l *Loader) onLoaded(w *Wallet, db walletdb.DB) {
	for _, fn := range l.callbacks {
		fn(w)
	}
	l.wallet = w
	l.db = db
}

// RunAfterLoad registers fn to run after every wallet load, and right away
// when a wallet is already loaded. fn runs with the loader locked and must
// not call back into it.
func (l *Loader) RunAfterLoad(fn func(*Wallet)) {
	l.mu.Lock()
	if l.wallet != nil {
		w := l.wallet
		l.mu.Unlock()
		fn(w)
		return
	}
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
}

// CreateNewWallet creates the wallet database and a new wallet in it.
func (l *Loader) CreateNewWallet(seed, privPassphrase []byte,
	bday time.Time) (*Wallet, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	dbPath := l.DBPath()
	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	if err := CheckCreateDir(l.dbDirPath); err != nil {
		return nil, err
	}
	db, err := walletdb.Create(dbDriver, dbPath, l.noFreelistSync,
		l.timeout, l.noSync)
	if err != nil {
		return nil, err
	}

	w, err := Create(db, l.chainParams, seed, privPassphrase, l.cfg, 0, bday)
	if err != nil {
		db.Close()
		return nil, err
	}

	l.onLoaded(w, db)
	return w, nil
}

// OpenExistingWallet opens the wallet database and loads the wallet.
func (l *Loader) OpenExistingWallet() (*Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	if err := CheckCreateDir(l.dbDirPath); err != nil {
		return nil, err
	}
	db, err := walletdb.Open(dbDriver, l.DBPath(), l.noFreelistSync,
		l.timeout, l.noSync)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return nil, err
	}

	w, err := Open(db, l.chainParams, l.cfg)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			log.Warnf("Error closing database: %v", cerr)
		}
		return nil, err
	}

	l.onLoaded(w, db)
	return w, nil
}

// WalletExists reports whether the wallet database file exists.
func (l *Loader) WalletExists() (bool, error) {
	return fileExists(l.DBPath())
}

// LoadedWallet returns the loaded wallet, if any.
func (l *Loader) LoadedWallet() (*Wallet, bool) {
	l.mu.Lock()
	w := l.wallet
	l.mu.Unlock()
	return w, w != nil
}

// UnloadWallet closes the loaded wallet and its database.
func (l *Loader) UnloadWallet() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	err := l.wallet.Close()
	l.wallet = nil
	l.db = nil
	return err
}

// Verify checks the wallet database before it is loaded, salvaging it
// when asked to or when it is found to be corrupt.
func (l *Loader) Verify(salvage bool) (*VerifyResult, error) {
	if err := CheckCreateDir(l.dbDirPath); err != nil {
		return nil, err
	}
	return VerifyWallet(l.DBPath(), salvage, l.timeout)
}

func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
