package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type keyMap map[string]*btcutil.WIF

func (m keyMap) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool, error) {
	wif, ok := m[addr.EncodeAddress()]
	if !ok {
		return nil, false, errors.New("not found")
	}
	return wif.PrivKey, wif.CompressPubKey, nil
}

func (m keyMap) GetScript(btcutil.Address) ([]byte, error) {
	return nil, errors.New("not found")
}

// spendFixture returns an unsigned transaction spending a P2PKH output of
// a fresh key.
func spendFixture(t *testing.T) (*btcutil.WIF, string, string, []byte) {
	t.Helper()
	params := testConfig().Params.Params

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, params, true)
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(wif.SerializePubKey()), params)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	prev := wire.OutPoint{Hash: chainhash.DoubleHashH([]byte("prev")), Index: 1}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, pkScript))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return wif, hex.EncodeToString(buf.Bytes()), prev.Hash.String(), pkScript
}

func TestSignRawTransactionWithKeys(t *testing.T) {
	n := New(testConfig(), nil)
	wif, rawTx, prevHash, pkScript := spendFixture(t)

	prevTxs := []btcjson.RawTxInput{{
		Txid:         prevHash,
		Vout:         1,
		ScriptPubKey: hex.EncodeToString(pkScript),
	}}

	result, rpcErr := n.Table().Execute("signrawtransaction",
		rawParams(t, rawTx, prevTxs, []string{wif.String()}))
	require.Nil(t, rpcErr)
	signed := result.(btcjson.SignRawTransactionResult)
	require.True(t, signed.Complete)
	require.Empty(t, signed.Errors)
	require.NotEqual(t, rawTx, signed.Hex)

	// An empty key list signs nothing.
	result, rpcErr = n.Table().Execute("signrawtransaction",
		rawParams(t, rawTx, prevTxs, []string{}))
	require.Nil(t, rpcErr)
	signed = result.(btcjson.SignRawTransactionResult)
	require.False(t, signed.Complete)
	require.Len(t, signed.Errors, 1)
	require.Equal(t, prevHash, signed.Errors[0].TxID)

	_, rpcErr = n.Table().Execute("signrawtransaction",
		rawParams(t, rawTx, prevTxs, []string{wif.String()}, "EVERYTHING"))
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCInvalidParameter, rpcErr.Code)

	_, rpcErr = n.Table().Execute("signrawtransaction", rawParams(t, "zz"))
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCDeserialization, rpcErr.Code)
}

func TestSignRawTransactionWithWallet(t *testing.T) {
	wif, rawTx, prevHash, pkScript := spendFixture(t)
	params := testConfig().Params.Params
	addr, err := btcutil.NewAddressPubKey(wif.SerializePubKey(), params)
	require.NoError(t, err)

	b := &fakeBackend{
		keystore: keyMap{addr.EncodeAddress(): wif},
		locked:   true,
	}
	n := New(testConfig(), b)
	require.NoError(t, n.Init(context.Background()))
	defer n.Shutdown()

	prevTxs := []btcjson.RawTxInput{{
		Txid:         prevHash,
		Vout:         1,
		ScriptPubKey: hex.EncodeToString(pkScript),
	}}

	_, rpcErr := n.Table().Execute("signrawtransaction", rawParams(t, rawTx, prevTxs))
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCWalletUnlockNeeded, rpcErr.Code)

	b.locked = false
	result, rpcErr := n.Table().Execute("signrawtransaction", rawParams(t, rawTx, prevTxs))
	require.Nil(t, rpcErr)
	require.True(t, result.(btcjson.SignRawTransactionResult).Complete)

	// Without the previous output and no chain backend the input is
	// reported, not fatal.
	result, rpcErr = n.Table().Execute("signrawtransaction", rawParams(t, rawTx))
	require.Nil(t, rpcErr)
	signed := result.(btcjson.SignRawTransactionResult)
	require.False(t, signed.Complete)
	require.Equal(t, "Input not found", signed.Errors[0].Error)
}

func TestHelpAndStop(t *testing.T) {
	n := New(testConfig(), nil)

	result, rpcErr := n.Table().Execute("help", nil)
	require.Nil(t, rpcErr)
	require.Contains(t, result, "getinfo\ngetmininginfo\ngetstatus\nhelp")

	result, rpcErr = n.Table().Execute("help", rawParams(t, "stop"))
	require.Nil(t, rpcErr)
	require.Equal(t, "stop", result)

	result, rpcErr = n.Table().Execute("help", rawParams(t, "nope"))
	require.Nil(t, rpcErr)
	require.Equal(t, "help: unknown command: nope", result)

	require.False(t, n.ShutdownRequested())
	result, rpcErr = n.Table().Execute("stop", nil)
	require.Nil(t, rpcErr)
	require.Equal(t, "btcwalletd stopping", result)
	require.True(t, n.ShutdownRequested())
}
