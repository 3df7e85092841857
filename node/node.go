// Package node is the host application: it sequences the wallet backend
// through startup and shutdown, owns the RPC command table and tracks the
// safe mode warning.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
	"github.com/czh0526/btc-walletd/statusicon"
)

// ErrStartupAborted is returned by Init when a startup step failed.
var ErrStartupAborted = errors.New("startup aborted")

// ErrShutdownRequested is returned by Init when a shutdown was requested
// before startup completed.
var ErrShutdownRequested = errors.New("shutdown requested during startup")

const defaultStatusPollInterval = 5 * time.Second

// Config holds the host settings.
type Config struct {
	Params  *netparams.Params
	Version string

	// Chain is the chain backend, nil when running without one.
	Chain chain.Interface

	// Status receives the node status. Nil disables the status poller.
	Status *statusicon.Integration

	StatusPollInterval time.Duration

	Generate     bool
	GenProcLimit int

	// DisableSafeMode keeps every command enabled even when a warning
	// is set.
	DisableSafeMode bool
}

// Node runs a wallet backend inside the host lifecycle.
type Node struct {
	cfg     Config
	backend WalletBackend
	table   *legacyrpc.Table
	msgs    Messages
	group   ThreadGroup

	ctx    context.Context
	cancel context.CancelFunc

	// lifecycleMtx keeps Shutdown from running while Init is in
	// progress.
	lifecycleMtx sync.Mutex
	chainStarted bool

	quit         chan struct{}
	quitOnce     sync.Once
	shutdownOnce sync.Once

	warningMtx sync.Mutex
	warning    string
}

// New returns a node running backend. A nil backend runs the host with
// the wallet disabled.
func New(cfg Config, backend WalletBackend) *Node {
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = defaultStatusPollInterval
	}
	n := &Node{
		cfg:     cfg,
		backend: backend,
		table:   legacyrpc.NewTable(),
		quit:    make(chan struct{}),
	}
	n.table.SetSafeMode(n.safeModeWarning)
	if err := n.table.Register(n.hostCommands()); err != nil {
		panic(err)
	}
	return n
}

// Table returns the command table served by the RPC servers.
func (n *Node) Table() *legacyrpc.Table {
	return n.table
}

// Messages returns the errors and warnings collected during Init.
func (n *Node) Messages() *Messages {
	return &n.msgs
}

// Init runs the startup steps. When a step fails the collected messages
// are logged and ErrStartupAborted is returned; Shutdown must still be
// called. A shutdown requested while Init runs stops it between steps with
// ErrShutdownRequested.
func (n *Node) Init(ctx context.Context) error {
	n.lifecycleMtx.Lock()
	defer n.lifecycleMtx.Unlock()

	n.ctx, n.cancel = context.WithCancel(ctx)
	if n.ShutdownRequested() {
		n.cancel()
		return ErrShutdownRequested
	}
	go func() {
		select {
		case <-n.ctx.Done():
			n.StartShutdown()
		case <-n.quit:
			n.cancel()
		}
	}()

	b := n.backend
	if b != nil {
		if err := b.ParseAndValidateArguments(); err != nil {
			n.msgs.Errorf("%v", err)
			return n.abort()
		}
		if err := b.RegisterRPCCommands(n.table); err != nil {
			n.msgs.Errorf("Unable to register wallet RPC commands: %v", err)
			return n.abort()
		}
		if n.ShutdownRequested() {
			return ErrShutdownRequested
		}
		if !b.VerifyWallets(&n.msgs) {
			return n.abort()
		}
		if n.ShutdownRequested() {
			return ErrShutdownRequested
		}
		if !b.LoadWallets(&n.msgs) {
			return n.abort()
		}
		b.ShowStartupStatistics()
	} else {
		log.Infof("Wallet disabled")
	}

	if n.ShutdownRequested() {
		return ErrShutdownRequested
	}
	if err := n.startNode(); err != nil {
		n.msgs.Errorf("%v", err)
		return n.abort()
	}

	if n.ShutdownRequested() {
		return ErrShutdownRequested
	}
	if b != nil {
		b.GenerateCoins(n.cfg.Generate, n.cfg.GenProcLimit)
		b.InitializePostNodeStart(n.ctx, &n.group)
	}

	n.logMessages()
	return nil
}

func (n *Node) abort() error {
	n.logMessages()
	if errs := n.msgs.Errors(); len(errs) != 0 {
		return fmt.Errorf("%w: %s", ErrStartupAborted, errs[0])
	}
	return ErrStartupAborted
}

func (n *Node) logMessages() {
	for _, e := range n.msgs.Errors() {
		log.Errorf("%s", e)
	}
	for _, w := range n.msgs.Warnings() {
		log.Warnf("%s", w)
	}
}

// startNode connects the chain backend and starts the status poller.
func (n *Node) startNode() error {
	if c := n.cfg.Chain; c != nil {
		if err := c.Start(); err != nil {
			return fmt.Errorf("unable to start chain client: %w", err)
		}
		n.chainStarted = true
	}
	if n.cfg.Status != nil {
		n.cfg.Status.SetTestnet(n.cfg.Params.IsTestNet())
		n.group.Go("status poller", n.pollStatus)
	}
	return nil
}

// Shutdown runs the shutdown steps. It is safe to call more than once and
// after a failed Init. Called during Init, it requests the shutdown and
// waits for Init to return first.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		log.Infof("Shutdown in progress...")
		n.StartShutdown()

		n.lifecycleMtx.Lock()
		defer n.lifecycleMtx.Unlock()

		b := n.backend
		if b != nil {
			b.ShutdownPreNodeStop()
		}
		if n.chainStarted {
			n.cfg.Chain.Stop()
			n.cfg.Chain.WaitForShutdown()
		}
		n.group.Wait()
		if b != nil {
			b.ShutdownPostNodeStop()
			b.DeleteWallets()
		}
		log.Infof("Shutdown complete")
	})
}

// StartShutdown requests the node to stop.
func (n *Node) StartShutdown() {
	n.quitOnce.Do(func() {
		close(n.quit)
	})
}

// ShutdownRequested reports whether StartShutdown was called.
func (n *Node) ShutdownRequested() bool {
	select {
	case <-n.quit:
		return true
	default:
		return false
	}
}

// Done is closed once a shutdown was requested.
func (n *Node) Done() <-chan struct{} {
	return n.quit
}

// SetWarning sets the node warning. A non-empty warning puts the node in
// safe mode unless safe mode is disabled.
func (n *Node) SetWarning(warning string) {
	n.warningMtx.Lock()
	changed := n.warning != warning
	n.warning = warning
	n.warningMtx.Unlock()

	if changed && warning != "" {
		log.Warnf("%s", warning)
	}
	if n.cfg.Status != nil {
		n.cfg.Status.SetErrorFlag(warning != "")
	}
}

// Warning returns the node warning.
func (n *Node) Warning() string {
	n.warningMtx.Lock()
	defer n.warningMtx.Unlock()
	return n.warning
}

func (n *Node) safeModeWarning() string {
	if n.cfg.DisableSafeMode {
		return ""
	}
	return n.Warning()
}

// pollStatus feeds the status icon from the chain backend until shutdown.
func (n *Node) pollStatus() {
	ticker := time.NewTicker(n.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		n.updateStatus()
		select {
		case <-ticker.C:
		case <-n.quit:
			return
		}
	}
}

type chainInfo struct {
	Blocks  int32  `json:"blocks"`
	Headers int32  `json:"headers"`
	Errors  string `json:"errors"`
}

func (n *Node) updateStatus() {
	status := n.cfg.Status
	c := n.cfg.Chain
	if c == nil {
		status.SetNumConnections(0)
		return
	}

	conns, err := c.GetConnectionCount()
	if err != nil {
		log.Debugf("Unable to get connection count: %v", err)
		conns = 0
	}
	status.SetNumConnections(int(conns))

	var progress chainInfo
	if raw, err := c.RawRequest("getblockchaininfo", nil); err == nil &&
		json.Unmarshal(raw, &progress) == nil && progress.Headers > 0 {

		syncing := progress.Blocks < progress.Headers
		status.SetProgressVisible(syncing)
		status.SetProgress(int(progress.Blocks), int(progress.Headers))
	}

	var info chainInfo
	if raw, err := c.RawRequest("getinfo", nil); err == nil &&
		json.Unmarshal(raw, &info) == nil {

		n.SetWarning(info.Errors)
	}
}
