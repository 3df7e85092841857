package node

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/txscript"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
)

// WalletBackend is the contract between the host and a wallet subsystem.
// The host calls the lifecycle methods in declaration order: the first
// six during Init, the last three during Shutdown.
type WalletBackend interface {
	// ParseAndValidateArguments parses and stores the wallet options.
	ParseAndValidateArguments() error

	// VerifyWallets checks the wallet storage, salvaging it if needed.
	// Failures and warnings are added to errs; false aborts startup.
	VerifyWallets(errs *Messages) bool

	// LoadWallets loads, or on first run creates, the wallet.
	LoadWallets(errs *Messages) bool

	ShowStartupStatistics()

	// GenerateCoins starts or stops background mining.
	GenerateCoins(generate bool, threads int)

	// InitializePostNodeStart starts the wallet's background work on
	// group. The work stops when ctx is done.
	InitializePostNodeStart(ctx context.Context, group *ThreadGroup)

	ShutdownPreNodeStop()
	ShutdownPostNodeStop()
	DeleteWallets()

	// RegisterRPCCommands adds the wallet commands to table.
	RegisterRPCCommands(table *legacyrpc.Table) error

	// GetInfo and GetMiningInfo add the wallet fields of the getinfo
	// and getmininginfo replies.
	GetInfo(info map[string]interface{})
	GetMiningInfo(info map[string]interface{})

	EnsureWalletIsUnlocked() error

	// Keystore returns the keys and scripts used to sign raw
	// transactions.
	Keystore() Keystore
}

// Keystore looks up private keys and redeem scripts by address.
type Keystore interface {
	txscript.KeyDB
	txscript.ScriptDB
}

// Messages accumulates the errors and warnings of the startup steps.
type Messages struct {
	errors   []string
	warnings []string
}

// Errorf adds an error.
func (m *Messages) Errorf(format string, args ...interface{}) {
	m.errors = append(m.errors, fmt.Sprintf(format, args...))
}

// Warnf adds a warning.
func (m *Messages) Warnf(format string, args ...interface{}) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

func (m *Messages) Errors() []string   { return m.errors }
func (m *Messages) Warnings() []string { return m.warnings }

// HasErrors reports whether any error was added.
func (m *Messages) HasErrors() bool {
	return len(m.errors) != 0
}

// String joins the errors followed by the warnings, one per line.
func (m *Messages) String() string {
	all := make([]string, 0, len(m.errors)+len(m.warnings))
	all = append(all, m.errors...)
	all = append(all, m.warnings...)
	return strings.Join(all, "\n")
}

// ThreadGroup tracks the host's background goroutines.
type ThreadGroup struct {
	mtx     sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

// Go runs fn in a new goroutine of the group. Once Wait was called the
// group is closed and fn is not run.
func (g *ThreadGroup) Go(name string, fn func()) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.stopped {
		log.Warnf("Not starting %s: shutdown in progress", name)
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		log.Debugf("%s started", name)
		fn()
		log.Debugf("%s stopped", name)
	}()
}

// Wait closes the group and blocks until every goroutine of the group
// returned.
func (g *ThreadGroup) Wait() {
	g.mtx.Lock()
	g.stopped = true
	g.mtx.Unlock()
	g.wg.Wait()
}
