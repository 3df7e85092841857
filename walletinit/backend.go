// Package walletinit adapts the wallet to the host lifecycle: it parses the
// wallet options, verifies and loads the wallet, starts its background
// work and tears it down again.
package walletinit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/node"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/czh0526/btc-walletd/walletdb"
)

// highPayTxFee is the fee rate above which a warning is shown.
const highPayTxFee = btcutil.Amount(25000000)

// Config holds the raw wallet options.
type Config struct {
	Params *netparams.Params

	// DataDir is the network data directory holding the wallet file.
	DataDir    string
	WalletFile string
	DBTimeout  time.Duration

	SalvageWallet bool
	ZapWalletTxes bool
	Rescan        bool

	// UpgradeWallet requests an upgrade to UpgradeVersion, the latest
	// version when zero.
	UpgradeWallet  bool
	UpgradeVersion uint32

	// Fee rates in BTC per kB.
	PayTxFee string
	MinTxFee string

	// KeyPool is the key pool size, the wallet default when zero.
	KeyPool             int
	SpendZeroConfChange bool
	ScryptOptions       wallet.ScryptOptions

	// CreatePassphrase encrypts a wallet created on first run. Empty
	// creates an unencrypted wallet.
	CreatePassphrase []byte

	// Flush timings, the wallet defaults when zero.
	FlushPoll time.Duration
	FlushIdle time.Duration

	Version string

	// Chain is the chain backend, nil when running without one.
	Chain chain.Interface

	// OnShutdownRequest is called when a wallet operation needs the
	// process to stop.
	OnShutdownRequest func()

	// OnTransaction is called for every new wallet transaction.
	OnTransaction func(wallet.TxNotification)
}

// Backend is the wallet backend run by the node.
type Backend struct {
	cfg      Config
	loader   *wallet.Loader
	warnings []string

	mu           sync.Mutex
	wallet       *wallet.Wallet
	flusher      *wallet.Flusher
	needRescan   bool
	rescanFrom   int32
	genProcLimit int
	ctx          context.Context
	group        *node.ThreadGroup
}

var _ node.WalletBackend = (*Backend)(nil)

// New returns a backend for cfg. Nothing is touched on disk before
// VerifyWallets.
func New(cfg Config) *Backend {
	if cfg.WalletFile == "" {
		cfg.WalletFile = wallet.DefaultWalletFile
	}
	return &Backend{
		cfg:          cfg,
		genProcLimit: -1,
	}
}

// Wallet returns the loaded wallet, nil when there is none or when it was
// closed through the loader.
func (b *Backend) Wallet() *wallet.Wallet {
	b.mu.Lock()
	w := b.wallet
	b.mu.Unlock()
	if w == nil {
		return nil
	}
	if loaded, ok := b.loader.LoadedWallet(); !ok || loaded != w {
		return nil
	}
	return w
}

// attachWallet connects a wallet loaded by the loader, at startup or
// later through the gRPC loader service, to the chain backend and the
// host callbacks.
func (b *Backend) attachWallet(w *wallet.Wallet) {
	if b.cfg.Chain != nil {
		w.SetChainClient(b.cfg.Chain)
	}
	if b.cfg.OnShutdownRequest != nil {
		w.OnShutdownRequest(b.cfg.OnShutdownRequest)
	}
	if b.cfg.OnTransaction != nil {
		w.OnTransaction(b.cfg.OnTransaction)
	}

	b.mu.Lock()
	b.wallet = w
	b.mu.Unlock()
}

// Loader returns the wallet loader. It is nil before
// ParseAndValidateArguments succeeded.
func (b *Backend) Loader() *wallet.Loader {
	return b.loader
}

func parseAmount(name, s string) (btcutil.Amount, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("Invalid amount for -%s=<amount>: '%s'", name, s)
	}
	amt, err := btcutil.NewAmount(f)
	if err != nil || amt < 0 {
		return 0, fmt.Errorf("Invalid amount for -%s=<amount>: '%s'", name, s)
	}
	return amt, nil
}

func (b *Backend) ParseAndValidateArguments() error {
	cfg := &b.cfg

	if filepath.Base(cfg.WalletFile) != cfg.WalletFile {
		return fmt.Errorf("Wallet %s resides outside data directory %s",
			cfg.WalletFile, cfg.DataDir)
	}

	if cfg.SalvageWallet && !cfg.Rescan {
		cfg.Rescan = true
		log.Infof("Parameter interaction: -salvagewallet=1 -> setting -rescan=1")
	}
	if cfg.ZapWalletTxes && !cfg.Rescan {
		cfg.Rescan = true
		log.Infof("Parameter interaction: -zapwallettxes=1 -> setting -rescan=1")
	}

	wcfg := wallet.DefaultConfig()
	if cfg.PayTxFee != "" {
		fee, err := parseAmount("paytxfee", cfg.PayTxFee)
		if err != nil {
			return err
		}
		if fee > highPayTxFee {
			b.warnings = append(b.warnings, "Warning: -paytxfee is set "+
				"very high! This is the transaction fee you will pay "+
				"if you send a transaction.")
		}
		wcfg.PayTxFee = fee
	}
	if cfg.MinTxFee != "" {
		fee, err := parseAmount("mintxfee", cfg.MinTxFee)
		if err != nil {
			return err
		}
		wcfg.MinTxFee = fee
	}
	if cfg.KeyPool < 0 {
		return fmt.Errorf("Invalid -keypool=%d: must not be negative",
			cfg.KeyPool)
	}
	if cfg.KeyPool > 0 {
		wcfg.KeyPoolSize = cfg.KeyPool
	}
	wcfg.SpendZeroConfChange = cfg.SpendZeroConfChange
	if cfg.ScryptOptions.N != 0 {
		wcfg.ScryptOptions = cfg.ScryptOptions
	}
	b.loader = wallet.NewLoader(cfg.Params.Params, cfg.DataDir,
		cfg.WalletFile, true, cfg.DBTimeout, true, wcfg)
	return nil
}

func (b *Backend) VerifyWallets(errs *node.Messages) bool {
	for _, w := range b.warnings {
		errs.Warnf("%s", w)
	}

	dir := b.cfg.DataDir
	if err := wallet.CheckCreateDir(dir); err != nil {
		errs.Errorf("Error creating data directory %s: %v", dir, err)
		return false
	}

	log.Infof("Using wallet %s", b.cfg.WalletFile)
	res, err := b.loader.Verify(b.cfg.SalvageWallet)
	switch {
	case errors.Is(err, walletdb.ErrDbLocked):
		errs.Errorf("Cannot obtain a lock on wallet database %s. "+
			"The wallet is probably already in use.", b.loader.DBPath())
		return false
	case wallet.IsError(err, wallet.ErrCorrupt):
		errs.Errorf("wallet corrupt, salvage failed")
		return false
	case err != nil:
		errs.Errorf("Error verifying wallet %s: %v", b.cfg.WalletFile, err)
		return false
	}

	if res.Salvaged {
		errs.Warnf("Warning: wallet corrupt, data salvaged! Original "+
			"%s saved as %s in %s; if your balance or transactions are "+
			"incorrect you should restore from a backup.",
			b.cfg.WalletFile, filepath.Base(res.BackupPath), dir)
	}
	return true
}

func (b *Backend) LoadWallets(errs *node.Messages) bool {
	file := b.cfg.WalletFile
	start := time.Now()

	b.loader.RunAfterLoad(b.attachWallet)

	exists, err := b.loader.WalletExists()
	if err != nil {
		errs.Errorf("Error loading %s: %v", file, err)
		return false
	}

	var w *wallet.Wallet
	if exists {
		w, err = b.loader.OpenExistingWallet()
		switch {
		case wallet.IsError(err, wallet.ErrCorrupt):
			errs.Errorf("Error loading %s: Wallet corrupted", file)
			return false
		case wallet.IsError(err, wallet.ErrTooNew):
			errs.Errorf("Error loading %s: Wallet requires newer "+
				"version of btcwallet", file)
			return false
		case errors.Is(err, walletdb.ErrDbLocked):
			errs.Errorf("Cannot obtain a lock on wallet database %s. "+
				"The wallet is probably already in use.", b.loader.DBPath())
			return false
		case err != nil:
			errs.Errorf("Error loading %s: %v", file, err)
			return false
		}
		if n := w.NonCriticalErrors(); n > 0 {
			errs.Warnf("Error reading %s! All keys read correctly, but "+
				"transaction data or address book entries might be "+
				"missing or incorrect.", file)
		}
	} else {
		w, err = b.loader.CreateNewWallet(nil, b.cfg.CreatePassphrase,
			time.Now())
		if err != nil {
			errs.Errorf("Error creating %s: %v", file, err)
			return false
		}
		log.Infof("Created new wallet %s", b.loader.DBPath())
	}

	if b.cfg.UpgradeWallet {
		target := b.cfg.UpgradeVersion
		if target == 0 {
			log.Infof("Performing wallet upgrade to %d", wallet.FeatureLatest)
		} else {
			log.Infof("Allowing wallet upgrade up to %d", target)
		}
		if err := w.Upgrade(target); err != nil {
			if wallet.IsError(err, wallet.ErrDowngrade) {
				errs.Errorf("Cannot downgrade wallet")
			} else {
				errs.Errorf("Error upgrading %s: %v", file, err)
			}
			return false
		}
	}

	if b.cfg.ZapWalletTxes {
		n, err := w.ZapTransactions()
		if err != nil {
			errs.Errorf("Error loading %s: Wallet corrupted", file)
			return false
		}
		log.Infof("Zapped %d wallet transactions", n)
	}

	b.mu.Lock()
	if b.cfg.Rescan {
		b.needRescan, b.rescanFrom = true, 0
	} else {
		height, _ := w.SyncedTo()
		b.needRescan, b.rescanFrom = true, height+1
	}
	b.mu.Unlock()

	log.Infof("Wallet loaded in %v", time.Since(start).Round(time.Millisecond))
	return true
}

func (b *Backend) ShowStartupStatistics() {
	w := b.Wallet()
	if w == nil {
		return
	}
	stats, err := w.Stats()
	if err != nil {
		log.Errorf("Unable to read wallet statistics: %v", err)
		return
	}
	log.Infof("Key pool size: %d", stats.KeyPoolSize)
	log.Infof("Wallet transactions: %d", stats.Transactions)
	log.Infof("Address book entries: %d", stats.AddressBookSize)
}

func (b *Backend) GenerateCoins(generate bool, threads int) {
	b.mu.Lock()
	b.genProcLimit = threads
	b.mu.Unlock()

	c := b.cfg.Chain
	if c == nil {
		if generate {
			log.Warnf("Mining requested without a chain backend")
		}
		return
	}
	if err := c.SetGenerate(generate, threads); err != nil {
		log.Errorf("Unable to set generation: %v", err)
	}
}

func (b *Backend) InitializePostNodeStart(ctx context.Context, group *node.ThreadGroup) {
	b.mu.Lock()
	w := b.wallet
	b.ctx, b.group = ctx, group
	rescan, from := b.needRescan, b.rescanFrom
	b.needRescan = false
	b.mu.Unlock()

	if w == nil {
		return
	}

	if c := b.cfg.Chain; c != nil {
		w.ReacceptWalletTransactions(c)
		group.Go("chain notifications", func() {
			if err := w.WatchAll(c); err != nil {
				log.Errorf("Unable to watch wallet addresses: %v", err)
			}
			if rescan {
				if err := w.Rescan(ctx, c, from); err != nil &&
					!errors.Is(err, context.Canceled) {

					log.Errorf("Rescan failed: %v", err)
				}
			}
			w.HandleNotifications(ctx, c)
		})
	}

	f := wallet.NewFlusher(w)
	if b.cfg.FlushPoll > 0 && b.cfg.FlushIdle > 0 {
		f.SetTimings(b.cfg.FlushPoll, b.cfg.FlushIdle)
	}
	b.mu.Lock()
	b.flusher = f
	b.mu.Unlock()
	group.Go("wallet flusher", func() { f.Run(ctx) })
}

func (b *Backend) ShutdownPreNodeStop() {
	b.mu.Lock()
	f := b.flusher
	b.mu.Unlock()

	if f != nil {
		f.Flush(false)
	}
	b.GenerateCoins(false, 0)
}

func (b *Backend) ShutdownPostNodeStop() {
	b.mu.Lock()
	w, f := b.wallet, b.flusher
	b.mu.Unlock()

	if w == nil {
		return
	}

	height, hash := w.SyncedTo()
	if height >= 0 {
		if err := w.SetSyncedTo(height, hash); err != nil {
			log.Warnf("Unable to store best chain: %v", err)
		}
	}
	if f != nil {
		f.Flush(true)
	}
}

func (b *Backend) DeleteWallets() {
	b.mu.Lock()
	b.wallet = nil
	b.flusher = nil
	b.mu.Unlock()

	if b.loader == nil {
		return
	}
	if err := b.loader.UnloadWallet(); err != nil &&
		!errors.Is(err, wallet.ErrNotLoaded) {

		log.Errorf("Failed to close wallet: %v", err)
	}
}

func (b *Backend) RegisterRPCCommands(table *legacyrpc.Table) error {
	handlers := &legacyrpc.Handlers{
		ChainParams: b.cfg.Params.Params,
		Wallet:      b.Wallet,
		Chain:       b.chainClient,
		WalletFile:  b.cfg.WalletFile,
		Version:     b.cfg.Version,
		Rescan:      b.rescanSince,
	}
	if err := table.Register(handlers.WalletCommands()); err != nil {
		return err
	}
	if err := table.Register(handlers.MiningCommands()); err != nil {
		return err
	}
	table.SetWalletLoaded(func() bool { return b.Wallet() != nil })
	return nil
}

func (b *Backend) chainClient() chain.Interface {
	if b.cfg.Chain == nil {
		return nil
	}
	return b.cfg.Chain
}

// rescanSince rescans, in the background, the blocks mined after keys
// created at from were imported.
func (b *Backend) rescanSince(w *wallet.Wallet, from time.Time) {
	c := b.cfg.Chain
	b.mu.Lock()
	ctx, group := b.ctx, b.group
	b.mu.Unlock()

	if c == nil || group == nil {
		log.Infof("No chain backend running, rescan skipped")
		return
	}
	group.Go("import rescan", func() {
		height, err := heightForTime(c, from)
		if err != nil {
			log.Errorf("Unable to find rescan start: %v", err)
			return
		}
		if err := w.Rescan(ctx, c, height); err != nil &&
			!errors.Is(err, context.Canceled) {

			log.Errorf("Rescan failed: %v", err)
		}
	})
}

// rescanWindow is how far before a key's creation time a rescan starts,
// allowing for block timestamps lagging behind.
const rescanWindow = 2 * time.Hour

// heightForTime returns the first block height whose timestamp is not
// before from less the rescan window.
func heightForTime(c chain.Interface, from time.Time) (int32, error) {
	if from.IsZero() {
		return 0, nil
	}
	from = from.Add(-rescanWindow)

	_, best, err := c.GetBestBlock()
	if err != nil {
		return 0, err
	}
	var searchErr error
	height := sort.Search(int(best)+1, func(h int) bool {
		if searchErr != nil {
			return true
		}
		hash, err := c.GetBlockHash(int64(h))
		if err != nil {
			searchErr = err
			return true
		}
		block, err := c.GetBlock(hash)
		if err != nil {
			searchErr = err
			return true
		}
		return !block.Header.Timestamp.Before(from)
	})
	if searchErr != nil {
		return 0, searchErr
	}
	return int32(height), nil
}

func (b *Backend) GetInfo(info map[string]interface{}) {
	w := b.Wallet()
	if w == nil {
		return
	}
	info["walletversion"] = w.Version()
	if bal, err := w.Balance(1); err == nil {
		info["balance"] = bal.ToBTC()
	}
	info["keypoololdest"] = w.KeyPoolOldest().Unix()
	info["keypoolsize"] = w.KeyPoolSize()
	if w.IsEncrypted() {
		info["unlocked_until"] = w.UnlockedUntil().Unix()
	}
	info["paytxfee"] = w.Config().PayTxFee.ToBTC()
}

func (b *Backend) GetMiningInfo(info map[string]interface{}) {
	b.mu.Lock()
	info["genproclimit"] = b.genProcLimit
	b.mu.Unlock()

	c := b.cfg.Chain
	if c == nil {
		info["generate"] = false
		info["hashespersec"] = int64(0)
		return
	}
	generate, err := c.GetGenerate()
	if err != nil {
		log.Debugf("Unable to get generation state: %v", err)
	}
	info["generate"] = generate
	hps, err := c.GetHashesPerSec()
	if err != nil {
		log.Debugf("Unable to get hash rate: %v", err)
	}
	info["hashespersec"] = hps
}

func (b *Backend) EnsureWalletIsUnlocked() error {
	w := b.Wallet()
	if w == nil {
		return legacyrpc.ErrNoWallet
	}
	return w.EnsureUnlocked()
}

func (b *Backend) Keystore() node.Keystore {
	w := b.Wallet()
	if w == nil {
		return nil
	}
	return w
}
