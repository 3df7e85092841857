package legacyrpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/chain/chaintest"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

// harness is a command table serving a fresh wallet and a fake chain.
type harness struct {
	table  *Table
	wallet *wallet.Wallet
	chain  *chaintest.Chain

	rescans []time.Time
}

func newHarness(t *testing.T, pass []byte) *harness {
	t.Helper()

	cfg := wallet.DefaultConfig()
	cfg.KeyPoolSize = 5
	cfg.ScryptOptions = wallet.FastScryptOptions

	loader := wallet.NewLoader(testParams, t.TempDir(), "", true,
		time.Second, false, cfg)
	w, err := loader.CreateNewWallet(nil, pass, time.Now())
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.UnloadWallet() })

	h := &harness{
		table:  NewTable(),
		wallet: w,
		chain:  chaintest.New(),
	}
	w.SetChainClient(h.chain)

	handlers := &Handlers{
		ChainParams: testParams,
		Wallet:      func() *wallet.Wallet { return h.wallet },
		WalletFile:  loader.FileName(),
		Version:     "0.1.0",
	}
	handlers.Chain = func() chain.Interface {
		if h.chain == nil {
			return nil
		}
		return h.chain
	}
	handlers.Rescan = func(_ *wallet.Wallet, from time.Time) {
		h.rescans = append(h.rescans, from)
	}
	require.NoError(t, h.table.Register(handlers.WalletCommands()))
	require.NoError(t, h.table.Register(handlers.MiningCommands()))
	h.table.SetWalletLoaded(func() bool { return h.wallet != nil })
	return h
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

func (h *harness) call(t *testing.T, method string, args ...interface{}) (interface{}, *btcjson.RPCError) {
	t.Helper()
	return h.table.Execute(method, rawParams(t, args...))
}

// mustCall executes method and fails the test on an RPC error.
func (h *harness) mustCall(t *testing.T, method string, args ...interface{}) interface{} {
	t.Helper()
	result, rpcErr := h.call(t, method, args...)
	require.Nil(t, rpcErr, "%s: %v", method, rpcErr)
	return result
}

// requireCode executes method and checks it fails with code.
func (h *harness) requireCode(t *testing.T, code btcjson.RPCErrorCode, method string,
	args ...interface{}) *btcjson.RPCError {

	t.Helper()
	_, rpcErr := h.call(t, method, args...)
	require.NotNil(t, rpcErr, method)
	require.Equal(t, code, rpcErr.Code, rpcErr.Message)
	return rpcErr
}

var fundingIndex uint32

// fund mines a transaction paying amount to a new address of account.
func (h *harness) fund(t *testing.T, account string, amount btcutil.Amount) btcutil.Address {
	t.Helper()

	addr, err := h.wallet.NewAddress(account)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	fundingIndex++
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.OutPoint{
		Hash:  chainhash.DoubleHashH([]byte("legacyrpc funding")),
		Index: fundingIndex,
	}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	block := h.chain.AddBlock(tx)
	_, err = h.wallet.AddRelevantTx(tx, block)
	require.NoError(t, err)
	require.NoError(t, h.wallet.SetSyncedTo(block.Height, block.Hash))
	return addr
}

// externalAddress returns an address the wallet has no key for.
func externalAddress(t *testing.T) string {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20), testParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}
