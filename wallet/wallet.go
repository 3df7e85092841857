package wallet

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/snacl"
	"github.com/czh0526/btc-walletd/walletdb"
	"github.com/czh0526/btc-walletd/walletdb/migration"
	"github.com/lightninglabs/neutrino/cache/lru"
)

const (
	// DefaultKeyPoolSize is the number of pre-generated keys kept in the
	// key pool.
	DefaultKeyPoolSize = 100

	// DefaultMinTxFee is the lowest fee rate, per kB, used for sends.
	DefaultMinTxFee = btcutil.Amount(10000)

	// defaultKeyCacheSize is the number of key records kept in memory.
	defaultKeyCacheSize = 1000
)

// ScryptOptions are the cost parameters used to derive the master key from
// the wallet passphrase.
type ScryptOptions struct {
	N, R, P int
}

var (
	DefaultScryptOptions = ScryptOptions{
		N: 262144,
		R: 8,
		P: 1,
	}

	// FastScryptOptions trade security for speed and exist for tests.
	FastScryptOptions = ScryptOptions{
		N: 16,
		R: 8,
		P: 1,
	}
)

// Config holds the tunables of an opened wallet.
type Config struct {
	KeyPoolSize         int
	PayTxFee            btcutil.Amount
	MinTxFee            btcutil.Amount
	SpendZeroConfChange bool
	ScryptOptions       ScryptOptions
	KeyCacheSize        uint64
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		KeyPoolSize:         DefaultKeyPoolSize,
		MinTxFee:            DefaultMinTxFee,
		SpendZeroConfChange: true,
		ScryptOptions:       DefaultScryptOptions,
		KeyCacheSize:        defaultKeyCacheSize,
	}
}

// Wallet is an HD key wallet with an account address book and a
// transaction store, persisted in a walletdb database.
type Wallet struct {
	// updates counts committed writes; the flusher watches it.
	updates uint64

	db          walletdb.DB
	chainParams *chaincfg.Params
	cfg         Config

	mtx             sync.RWMutex
	version         uint32
	encrypted       bool
	cryptoKey       *snacl.CryptoKey
	unlockedUntil   time.Time
	relockTimer     *time.Timer
	keyCache        *lru.Cache[string, *keyRecord]
	lockedOutpoints map[wire.OutPoint]struct{}
	synced          syncState
	nonCritical     int
	closed          bool

	chainMtx    sync.RWMutex
	chainClient chain.Interface

	ntfnMtx       sync.Mutex
	txListeners   []func(TxNotification)
	shutdownHooks []func()
}

// TxNotification is delivered to listeners when a transaction touching the
// wallet is recorded.
type TxNotification struct {
	Hash     string
	Received btcutil.Amount
	Mined    bool
	FromUs   bool
}

// Create lays out a new wallet in db. The seed is used for HD key
// derivation; a nil seed generates a random one. A non-empty passphrase
// encrypts the wallet right away. version 0 means FeatureLatest.
func Create(db walletdb.DB, params *chaincfg.Params, seed, privPass []byte,
	cfg Config, version uint32, bday time.Time) (*Wallet, error) {

	if version == 0 {
		version = FeatureLatest
	}
	if version < FeatureBase || version > FeatureLatest {
		return nil, walletError(ErrUnsupported,
			fmt.Sprintf("unknown wallet version %d", version), nil)
	}

	if seed == nil {
		var err error
		seed, err = hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
		if err != nil {
			return nil, err
		}
	}
	if _, err := hdkeychain.NewMaster(seed, params); err != nil {
		return nil, walletError(ErrUnsupported, "invalid seed", err)
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if tx.ReadBucket(mainBucketName) != nil {
			return walletError(ErrDuplicate, "wallet already exists",
				nil)
		}
		if err := createWalletBuckets(tx, version); err != nil {
			return err
		}
		main := tx.ReadWriteBucket(mainBucketName)
		if err := putInt64(main, createdKey, bday.Unix()); err != nil {
			return err
		}
		if err := main.Put(seedKey, seed); err != nil {
			return err
		}
		return putSyncState(main, syncState{Height: -1})
	})
	if err != nil {
		return nil, err
	}

	w, err := Open(db, params, cfg)
	if err != nil {
		return nil, err
	}

	// First run: the default key goes to the empty account.
	addr, err := w.NewAddress("")
	if err != nil {
		return nil, err
	}
	err = w.update(func(tx walletdb.ReadWriteTx) error {
		main := tx.ReadWriteBucket(mainBucketName)
		return main.Put(defaultKeyKey, []byte(addr.EncodeAddress()))
	})
	if err != nil {
		return nil, err
	}

	if len(privPass) > 0 {
		if err := w.encrypt(privPass, false); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Open loads the wallet stored in db. Records that cannot be decoded are
// fatal for keys (ErrCorrupt) and counted as non-critical otherwise.
func Open(db walletdb.DB, params *chaincfg.Params, cfg Config) (*Wallet, error) {
	if cfg.KeyCacheSize == 0 {
		cfg.KeyCacheSize = defaultKeyCacheSize
	}
	if cfg.ScryptOptions.N == 0 {
		cfg.ScryptOptions = DefaultScryptOptions
	}

	w := &Wallet{
		db:              db,
		chainParams:     params,
		cfg:             cfg,
		keyCache:        lru.NewCache[string, *keyRecord](cfg.KeyCacheSize),
		lockedOutpoints: make(map[wire.OutPoint]struct{}),
	}

	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		main := tx.ReadBucket(mainBucketName)
		if main == nil {
			return walletError(ErrCorrupt, "missing main bucket", nil)
		}
		for _, name := range baseBuckets {
			if tx.ReadBucket(name) == nil {
				return walletError(ErrCorrupt, fmt.Sprintf(
					"missing %s bucket", name), nil)
			}
		}

		version, err := fetchVersion(main)
		if err != nil {
			return err
		}
		if version > FeatureLatest {
			return walletError(ErrTooNew, fmt.Sprintf("wallet "+
				"version %d is newer than supported version %d",
				version, FeatureLatest), nil)
		}
		w.version = version

		if main.Get(seedKey) == nil {
			return walletError(ErrCorrupt, "missing wallet seed", nil)
		}

		if crypto := tx.ReadBucket(cryptoBucketName); crypto != nil {
			w.encrypted = crypto.Get(masterKeyParamsKey) != nil
		}
		w.synced = fetchSyncState(main)

		err = tx.ReadBucket(keysBucketName).ForEach(func(k, v []byte) error {
			if _, err := deserializeKeyRecord(v); err != nil {
				return walletError(ErrCorrupt, fmt.Sprintf(
					"unreadable key record %s", k), err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		w.nonCritical = countUnreadable(tx)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return w, nil
}

// countUnreadable counts transaction, credit and accounting records that
// fail to decode.
func countUnreadable(tx walletdb.ReadTx) int {
	var bad int
	_ = tx.ReadBucket(txBucketName).ForEach(func(k, v []byte) error {
		if _, err := deserializeTxRecord(k, v); err != nil {
			bad++
		}
		return nil
	})
	_ = tx.ReadBucket(creditBucketName).ForEach(func(k, v []byte) error {
		if _, err := deserializeCredit(k, v); err != nil {
			bad++
		}
		return nil
	})
	_ = tx.ReadBucket(movesBucketName).ForEach(func(k, v []byte) error {
		if _, err := deserializeMove(v); err != nil {
			bad++
		}
		return nil
	})
	return bad
}

// ChainParams returns the network parameters of the wallet.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.chainParams
}

// Database returns the underlying database.
func (w *Wallet) Database() walletdb.DB {
	return w.db
}

// Version returns the wallet's feature version.
func (w *Wallet) Version() uint32 {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.version
}

// NonCriticalErrors returns how many non-key records could not be read
// when the wallet was opened.
func (w *Wallet) NonCriticalErrors() int {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.nonCritical
}

// Config returns the wallet tunables.
func (w *Wallet) Config() Config {
	return w.cfg
}

// Upgrade raises the wallet version to target, FeatureLatest when target
// is 0.
func (w *Wallet) Upgrade(target uint32) error {
	if target == 0 {
		target = FeatureLatest
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	if target < w.version {
		return walletError(ErrDowngrade, "Cannot downgrade wallet", nil)
	}
	if target > FeatureLatest {
		target = FeatureLatest
	}

	var version uint32
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		main := tx.ReadWriteBucket(mainBucketName)
		var err error
		version, err = migration.Upgrade(&versionManager{ns: main}, target)
		return err
	})
	if err != nil {
		if errors.Is(err, migration.ErrTargetTooLow) {
			return walletError(ErrDowngrade, "Cannot downgrade wallet",
				err)
		}
		return walletError(ErrDatabase, "upgrade failed", err)
	}
	w.version = version
	return nil
}

// Stats are the numbers shown at startup.
type Stats struct {
	KeyPoolSize     int
	Transactions    int
	AddressBookSize int
}

// Stats counts key pool entries, transactions and address book entries.
func (w *Wallet) Stats() (Stats, error) {
	var s Stats
	err := w.view(func(tx walletdb.ReadTx) error {
		s.KeyPoolSize = countBucket(tx.ReadBucket(poolBucketName))
		s.Transactions = countBucket(tx.ReadBucket(txBucketName))
		s.AddressBookSize = countBucket(tx.ReadBucket(addrBookBucketName))
		return nil
	})
	return s, err
}

func countBucket(b walletdb.ReadBucket) int {
	if b == nil {
		return 0
	}
	var n int
	_ = b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}

// ZapTransactions drops every transaction, credit and accounting entry.
// Keys and the address book are kept. It returns the number of
// transactions removed.
func (w *Wallet) ZapTransactions() (int, error) {
	var zapped int
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		zapped = countBucket(tx.ReadBucket(txBucketName))
		for _, name := range [][]byte{txBucketName, creditBucketName} {
			if err := tx.DeleteTopLevelBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateTopLevelBucket(name); err != nil {
				return err
			}
		}
		main := tx.ReadWriteBucket(mainBucketName)
		return putSyncState(main, syncState{Height: -1})
	})
	if err != nil {
		return 0, err
	}

	w.mtx.Lock()
	w.synced = syncState{Height: -1}
	w.mtx.Unlock()
	return zapped, nil
}

// SetChainClient attaches the chain backend used for broadcasting,
// rescans and address watching.
func (w *Wallet) SetChainClient(c chain.Interface) {
	w.chainMtx.Lock()
	w.chainClient = c
	w.chainMtx.Unlock()
}

// ChainClient returns the attached chain backend, or nil.
func (w *Wallet) ChainClient() chain.Interface {
	w.chainMtx.RLock()
	defer w.chainMtx.RUnlock()
	return w.chainClient
}

// OnTransaction registers fn to be called for every newly recorded wallet
// transaction.
func (w *Wallet) OnTransaction(fn func(TxNotification)) {
	w.ntfnMtx.Lock()
	w.txListeners = append(w.txListeners, fn)
	w.ntfnMtx.Unlock()
}

// OnShutdownRequest registers fn to be called when a wallet operation
// needs the process to restart, as encryptwallet does.
func (w *Wallet) OnShutdownRequest(fn func()) {
	w.ntfnMtx.Lock()
	w.shutdownHooks = append(w.shutdownHooks, fn)
	w.ntfnMtx.Unlock()
}

func (w *Wallet) notifyTx(n TxNotification) {
	w.ntfnMtx.Lock()
	listeners := append([]func(TxNotification){}, w.txListeners...)
	w.ntfnMtx.Unlock()

	for _, fn := range listeners {
		fn(n)
	}
}

func (w *Wallet) requestShutdown() {
	w.ntfnMtx.Lock()
	hooks := append([]func(){}, w.shutdownHooks...)
	w.ntfnMtx.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// UpdateCount returns the number of committed writes since open.
func (w *Wallet) UpdateCount() uint64 {
	return atomic.LoadUint64(&w.updates)
}

func (w *Wallet) update(f func(tx walletdb.ReadWriteTx) error) error {
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		tx.OnCommit(func() {
			atomic.AddUint64(&w.updates, 1)
		})
		return f(tx)
	})
}

func (w *Wallet) view(f func(tx walletdb.ReadTx) error) error {
	return walletdb.View(w.db, f)
}

// Close locks the wallet and closes its database. Closing twice is a
// no-op.
func (w *Wallet) Close() error {
	w.mtx.Lock()
	if w.closed {
		w.mtx.Unlock()
		return nil
	}
	w.closed = true
	w.lockLocked()
	w.mtx.Unlock()

	if err := w.db.Sync(); err != nil {
		log.Warnf("Unable to sync wallet database: %v", err)
	}
	return w.db.Close()
}
