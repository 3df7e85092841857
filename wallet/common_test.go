package wallet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/walletdb"
	_ "github.com/czh0526/btc-walletd/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

var (
	testParams = &chaincfg.RegressionNetParams

	testSeed = []byte{
		0x2a, 0x64, 0xdf, 0x08, 0x5e, 0xef, 0xed, 0xd8, 0xbf, 0xdb,
		0xb3, 0x31, 0x76, 0xb5, 0xba, 0x2e, 0x62, 0xe8, 0xbe, 0x8b,
		0x56, 0xc8, 0x83, 0x77, 0x95, 0x59, 0x8b, 0xb6, 0xc4, 0x40,
		0xc0, 0x64,
	}

	testPass = []byte("hunter2")
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeyPoolSize = 5
	cfg.ScryptOptions = FastScryptOptions
	return cfg
}

func openTestDB(t *testing.T, dir string) walletdb.DB {
	t.Helper()
	db, err := walletdb.Create("bdb", filepath.Join(dir, "wallet.db"),
		true, time.Second)
	require.NoError(t, err)
	return db
}

func openExistingTestDB(t *testing.T, path string) walletdb.DB {
	t.Helper()
	db, err := walletdb.Open("bdb", path, true, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestWallet creates an unencrypted wallet in a temporary directory.
func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	return newTestWalletVersion(t, 0, nil)
}

func newTestWalletVersion(t *testing.T, version uint32, pass []byte) *Wallet {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	w, err := Create(db, testParams, testSeed, pass, testConfig(), version,
		time.Now())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// externalAddress returns an address the wallet has no key for.
func externalAddress(t *testing.T) btcutil.Address {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), testParams)
	require.NoError(t, err)
	return addr
}

var fundingIndex uint32

// fundingTx returns a transaction paying amount to addr from an outpoint
// the wallet does not own.
func fundingTx(t *testing.T, addr btcutil.Address, amount btcutil.Amount) *wire.MsgTx {
	t.Helper()
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	fundingIndex++
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.OutPoint{
		Hash:  chainhash.DoubleHashH([]byte("funding")),
		Index: fundingIndex,
	}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))
	return tx
}

// coinbaseTx returns a coinbase transaction paying amount to addr.
func coinbaseTx(t *testing.T, addr btcutil.Address, amount btcutil.Amount) *wire.MsgTx {
	t.Helper()
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.OutPoint{Index: wire.MaxPrevOutIndex}
	tx.AddTxIn(wire.NewTxIn(&prev, []byte{0x51, 0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))
	return tx
}
