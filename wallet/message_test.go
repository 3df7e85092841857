package wallet

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyMessage(t *testing.T) {
	w := newTestWallet(t)
	addr, err := w.DefaultAddress()
	require.NoError(t, err)

	sig, err := w.SignMessage(addr, "hello")
	require.NoError(t, err)

	ok, err := VerifyMessage(addr, sig, "hello", testParams)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyMessage(addr, sig, "hello!", testParams)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = VerifyMessage(externalAddress(t), sig, "hello", testParams)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = VerifyMessage(addr, "not base64!", "hello", testParams)
	require.True(t, IsError(err, ErrInvalidAddress))

	_, err = w.SignMessage(externalAddress(t), "hello")
	require.True(t, IsError(err, ErrAddressNotFound))
}

func TestSignMessageLocked(t *testing.T) {
	w := newTestWalletVersion(t, 0, testPass)
	addr, err := w.DefaultAddress()
	require.NoError(t, err)

	_, err = w.SignMessage(addr, "hello")
	require.True(t, IsError(err, ErrLocked))

	require.NoError(t, w.Unlock(testPass, 0))
	sig, err := w.SignMessage(addr, "hello")
	require.NoError(t, err)
	ok, err := VerifyMessage(addr, sig, "hello", testParams)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMultiSig(t *testing.T) {
	w := newTestWallet(t)
	a1, err := w.DefaultAddress()
	require.NoError(t, err)
	a2, err := w.NewAddress("")
	require.NoError(t, err)

	pub2, err := w.PubKey(a2)
	require.NoError(t, err)
	keys := []string{a1.EncodeAddress(), hex.EncodeToString(pub2)}

	ms, err := w.CreateMultiSig(2, keys)
	require.NoError(t, err)
	class, _, nRequired, err := txscript.ExtractPkScriptAddrs(
		ms.RedeemScript, testParams)
	require.NoError(t, err)
	require.Equal(t, txscript.MultiSigTy, class)
	require.Equal(t, 2, nRequired)

	_, err = w.CreateMultiSig(3, keys)
	require.True(t, IsError(err, ErrInvalidAmount))
	_, err = w.CreateMultiSig(0, keys)
	require.True(t, IsError(err, ErrInvalidAmount))
	_, err = w.CreateMultiSig(1, []string{"zz"})
	require.True(t, IsError(err, ErrInvalidAddress))
	_, err = w.CreateMultiSig(1, []string{externalAddress(t).EncodeAddress()})
	require.True(t, IsError(err, ErrInvalidAddress))

	require.False(t, w.HaveAddress(ms.Address))

	added, err := w.AddMultiSigAddress(2, keys, "joint")
	require.NoError(t, err)
	require.Equal(t, ms.Address.EncodeAddress(), added.EncodeAddress())
	require.True(t, w.HaveAddress(added))
	require.Equal(t, "joint", w.Account(added))

	script, err := w.GetScript(added)
	require.NoError(t, err)
	require.Equal(t, ms.RedeemScript, script)

	info, err := w.AddressInfo(added)
	require.NoError(t, err)
	require.True(t, info.IsMine)
	require.True(t, info.IsScript)

	// Multisig addresses cannot sign messages.
	_, err = w.SignMessage(added, "hello")
	require.True(t, IsError(err, ErrInvalidAddress))
}

func TestMultiSigUnsupported(t *testing.T) {
	w := newTestWalletVersion(t, FeatureWalletCrypt, nil)
	a, err := w.DefaultAddress()
	require.NoError(t, err)

	_, err = w.AddMultiSigAddress(1, []string{a.EncodeAddress()}, "")
	require.True(t, IsError(err, ErrUnsupported))

	_, err = w.GetScript(a)
	require.True(t, IsError(err, ErrAddressNotFound))
}

func TestAddressInfo(t *testing.T) {
	w := newTestWallet(t)
	a, err := w.NewAddress("bills")
	require.NoError(t, err)

	info, err := w.AddressInfo(a)
	require.NoError(t, err)
	require.True(t, info.IsMine)
	require.False(t, info.IsScript)
	require.True(t, info.IsCompressed)
	require.True(t, info.HasAccount)
	require.Equal(t, "bills", info.Account)

	pub, err := hex.DecodeString(info.PubKey)
	require.NoError(t, err)
	derived, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub),
		testParams)
	require.NoError(t, err)
	require.Equal(t, a.EncodeAddress(), derived.EncodeAddress())

	info, err = w.AddressInfo(externalAddress(t))
	require.NoError(t, err)
	require.False(t, info.IsMine)
	require.False(t, info.HasAccount)
}
