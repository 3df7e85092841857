package node

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/czh0526/btc-walletd/chain/chaintest"
	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
	"github.com/czh0526/btc-walletd/statusicon"
	"github.com/stretchr/testify/require"
)

// fakeBackend records the lifecycle calls made by the host.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	parseErr   error
	verifyFail bool
	loadFail   bool
	keystore   Keystore
	locked     bool

	generate bool
	threads  int

	onLoad func()
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) ParseAndValidateArguments() error {
	b.record("parse")
	return b.parseErr
}

func (b *fakeBackend) VerifyWallets(errs *Messages) bool {
	b.record("verify")
	if b.verifyFail {
		errs.Errorf("wallet corrupt, salvage failed")
		return false
	}
	errs.Warnf("wallet corrupt, data salvaged!")
	return true
}

func (b *fakeBackend) LoadWallets(errs *Messages) bool {
	b.record("load")
	if b.onLoad != nil {
		b.onLoad()
	}
	if b.loadFail {
		errs.Errorf("Error loading wallet.db: Wallet corrupted")
		return false
	}
	return true
}

func (b *fakeBackend) ShowStartupStatistics() { b.record("stats") }

func (b *fakeBackend) GenerateCoins(generate bool, threads int) {
	b.record("generate")
	b.generate, b.threads = generate, threads
}

func (b *fakeBackend) InitializePostNodeStart(ctx context.Context, group *ThreadGroup) {
	b.record("poststart")
	group.Go("fake flusher", func() {
		<-ctx.Done()
		b.record("flusher stopped")
	})
}

func (b *fakeBackend) ShutdownPreNodeStop()  { b.record("prestop") }
func (b *fakeBackend) ShutdownPostNodeStop() { b.record("poststop") }
func (b *fakeBackend) DeleteWallets()        { b.record("delete") }

func (b *fakeBackend) RegisterRPCCommands(table *legacyrpc.Table) error {
	b.record("register")
	return table.Register([]legacyrpc.Command{{
		Name:  "getbalance",
		Actor: func([]json.RawMessage) (interface{}, error) { return 1.5, nil },
	}})
}

func (b *fakeBackend) GetInfo(info map[string]interface{}) {
	info["walletversion"] = 60000
}

func (b *fakeBackend) GetMiningInfo(info map[string]interface{}) {
	info["generate"] = b.generate
}

func (b *fakeBackend) EnsureWalletIsUnlocked() error {
	if b.locked {
		return btcjson.NewRPCError(btcjson.ErrRPCWalletUnlockNeeded,
			"Error: Please enter the wallet passphrase with walletpassphrase first.")
	}
	return nil
}

func (b *fakeBackend) Keystore() Keystore { return b.keystore }

func testConfig() Config {
	return Config{
		Params:  &netparams.RegressionNetParams,
		Version: "0.1.0",
	}
}

func TestLifecycleOrder(t *testing.T) {
	b := &fakeBackend{}
	cfg := testConfig()
	cfg.Generate = true
	cfg.GenProcLimit = 2
	n := New(cfg, b)

	require.NoError(t, n.Init(context.Background()))
	require.Equal(t, []string{"parse", "register", "verify", "load", "stats",
		"generate", "poststart"}, b.Calls())
	require.True(t, b.generate)
	require.Equal(t, 2, b.threads)
	require.Equal(t, []string{"wallet corrupt, data salvaged!"}, n.Messages().Warnings())

	_, ok := n.Table().Lookup("getbalance")
	require.True(t, ok)

	n.Shutdown()
	n.Shutdown()
	require.True(t, n.ShutdownRequested())

	// The flusher stops before the wallet is closed.
	calls := b.Calls()[7:]
	require.ElementsMatch(t, []string{"prestop", "flusher stopped"}, calls[:2])
	require.Equal(t, []string{"poststop", "delete"}, calls[2:])
}

// rawParams marshals args into positional parameters.
func rawParams(t *testing.T, args ...interface{}) []json.RawMessage {
	t.Helper()
	p := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		p = append(p, b)
	}
	return p
}

func TestInitAborts(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		calls   []string
		msg     string
	}{{
		name:    "bad arguments",
		backend: &fakeBackend{parseErr: errors.New("Invalid amount for -paytxfee=<amount>: 'x'")},
		calls:   []string{"parse"},
		msg:     "Invalid amount for -paytxfee=<amount>: 'x'",
	}, {
		name:    "verify fails",
		backend: &fakeBackend{verifyFail: true},
		calls:   []string{"parse", "register", "verify"},
		msg:     "wallet corrupt, salvage failed",
	}, {
		name:    "load fails",
		backend: &fakeBackend{loadFail: true},
		calls:   []string{"parse", "register", "verify", "load"},
		msg:     "Error loading wallet.db: Wallet corrupted",
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n := New(testConfig(), test.backend)
			err := n.Init(context.Background())
			require.ErrorIs(t, err, ErrStartupAborted)
			require.Contains(t, err.Error(), test.msg)
			require.Equal(t, test.calls, test.backend.Calls())
			require.Equal(t, []string{test.msg}, n.Messages().Errors())

			n.Shutdown()
			calls := test.backend.Calls()
			require.Equal(t, []string{"prestop", "poststop", "delete"},
				calls[len(test.calls):])
		})
	}
}

func TestDisabledWallet(t *testing.T) {
	n := New(testConfig(), nil)
	require.NoError(t, n.Init(context.Background()))

	result, rpcErr := n.Table().Execute("getinfo", nil)
	require.Nil(t, rpcErr)
	info := result.(map[string]interface{})
	require.Equal(t, "0.1.0", info["version"])
	require.NotContains(t, info, "walletversion")

	_, rpcErr = n.Table().Execute("signrawtransaction", rawParams(t, "00"))
	require.NotNil(t, rpcErr)

	n.Shutdown()
}

func TestContextCancelRequestsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := New(testConfig(), &fakeBackend{})
	require.NoError(t, n.Init(ctx))

	cancel()
	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown not requested after the context was cancelled")
	}
	n.Shutdown()
}

func TestSafeMode(t *testing.T) {
	n := New(testConfig(), &fakeBackend{})
	require.NoError(t, n.Init(context.Background()))
	defer n.Shutdown()

	_, rpcErr := n.Table().Execute("getbalance", nil)
	require.Nil(t, rpcErr)

	n.SetWarning("Warning: Displayed transactions may not be correct!")
	_, rpcErr = n.Table().Execute("getbalance", nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCForbiddenBySafeMode, rpcErr.Code)

	// Host queries keep working in safe mode.
	result, rpcErr := n.Table().Execute("getinfo", nil)
	require.Nil(t, rpcErr)
	require.Equal(t, "Warning: Displayed transactions may not be correct!",
		result.(map[string]interface{})["errors"])

	n.SetWarning("")
	_, rpcErr = n.Table().Execute("getbalance", nil)
	require.Nil(t, rpcErr)
}

func TestSafeModeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DisableSafeMode = true
	n := New(cfg, &fakeBackend{})
	require.NoError(t, n.Init(context.Background()))
	defer n.Shutdown()

	n.SetWarning("Warning: chain fork detected")
	_, rpcErr := n.Table().Execute("getbalance", nil)
	require.Nil(t, rpcErr)
}

func TestStatusPoller(t *testing.T) {
	c := chaintest.New()
	c.Connections = 3
	c.Raw = map[string]interface{}{
		"getblockchaininfo": map[string]interface{}{"blocks": 50, "headers": 100},
		"getinfo":           map[string]interface{}{"errors": "Warning: chain fork detected"},
	}
	status := statusicon.New(statusicon.StyleUnity, nil)

	cfg := testConfig()
	cfg.Chain = c
	cfg.Status = status
	cfg.StatusPollInterval = 10 * time.Millisecond
	n := New(cfg, &fakeBackend{})
	require.NoError(t, n.Init(context.Background()))
	require.True(t, c.Started())

	require.Eventually(t, func() bool {
		snap := status.Snapshot()
		return snap.Connections == 3 && snap.Error && snap.ProgressVisible
	}, time.Second, 10*time.Millisecond)

	snap := status.Snapshot()
	require.Equal(t, 0.5, snap.Progress)
	require.Equal(t, statusicon.IconError, snap.Icon)
	require.True(t, snap.Testnet)
	require.Equal(t, "Warning: chain fork detected", n.Warning())

	status.SetAttentionFlag(true)
	result, rpcErr := n.Table().Execute("getstatus", nil)
	require.Nil(t, rpcErr)
	require.True(t, result.(statusicon.Snapshot).Attention)

	// Reading the status does not clear the flag.
	require.True(t, status.Snapshot().Attention)

	n.Shutdown()
	require.False(t, c.Started())
}

func TestShutdownDuringInit(t *testing.T) {
	loading := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackend{onLoad: func() {
		close(loading)
		<-release
	}}
	n := New(testConfig(), b)

	initErr := make(chan error, 1)
	go func() { initErr <- n.Init(context.Background()) }()
	<-loading

	shutdownDone := make(chan struct{})
	go func() {
		n.Shutdown()
		close(shutdownDone)
	}()
	require.Eventually(t, n.ShutdownRequested, time.Second, time.Millisecond)

	// The shutdown steps wait for the running startup step.
	select {
	case <-shutdownDone:
		t.Fatal("shutdown ran while init was loading")
	case <-time.After(50 * time.Millisecond):
	}
	require.NotContains(t, b.Calls(), "prestop")

	close(release)
	require.ErrorIs(t, <-initErr, ErrShutdownRequested)
	<-shutdownDone

	require.Equal(t, []string{"parse", "register", "verify", "load", "stats",
		"prestop", "poststop", "delete"}, b.Calls())
}

func TestInitAfterShutdownRequest(t *testing.T) {
	b := &fakeBackend{}
	n := New(testConfig(), b)
	n.StartShutdown()

	require.ErrorIs(t, n.Init(context.Background()), ErrShutdownRequested)
	n.Shutdown()
	require.Equal(t, []string{"prestop", "poststop", "delete"}, b.Calls())
}

func TestThreadGroupClosedAfterWait(t *testing.T) {
	var g ThreadGroup
	ran := make(chan struct{})
	g.Go("first", func() { close(ran) })
	<-ran
	g.Wait()

	var late bool
	g.Go("late", func() { late = true })
	g.Wait()
	require.False(t, late)
}

type failingRegisterBackend struct {
	fakeBackend
}

func (b *failingRegisterBackend) RegisterRPCCommands(table *legacyrpc.Table) error {
	b.record("register")
	return errors.New("duplicate command getinfo")
}

func TestRegisterFailureAborts(t *testing.T) {
	b := &failingRegisterBackend{}
	n := New(testConfig(), b)

	err := n.Init(context.Background())
	require.ErrorIs(t, err, ErrStartupAborted)
	require.Equal(t, []string{"Unable to register wallet RPC commands: " +
		"duplicate command getinfo"}, n.Messages().Errors())
	require.Equal(t, []string{"parse", "register"}, b.Calls())
	n.Shutdown()
}
