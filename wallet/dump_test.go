package wallet

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestDumpPrivKey(t *testing.T) {
	w := newTestWallet(t)
	addr, err := w.NewAddress("")
	require.NoError(t, err)

	wif, err := w.DumpPrivKey(addr)
	require.NoError(t, err)
	require.True(t, wif.CompressPubKey)
	require.True(t, wif.IsForNet(testParams))

	derived, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(wif.SerializePubKey()), testParams)
	require.NoError(t, err)
	require.Equal(t, addr.EncodeAddress(), derived.EncodeAddress())

	_, err = w.DumpPrivKey(externalAddress(t))
	require.True(t, IsError(err, ErrAddressNotFound))
}

func TestImportPrivKey(t *testing.T) {
	w := newTestWallet(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, testParams, true)
	require.NoError(t, err)

	created := time.Unix(1500000000, 0)
	addr, err := w.ImportPrivKey(wif, "imported", created)
	require.NoError(t, err)
	require.True(t, w.HaveAddress(addr))
	require.Equal(t, "imported", w.Account(addr))

	_, err = w.ImportPrivKey(wif, "imported", created)
	require.True(t, IsError(err, ErrDuplicate))

	_, err = w.ImportPrivKey(wif, AllAccounts, created)
	require.True(t, IsError(err, ErrInvalidAccount))

	mainnetWIF, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	require.NoError(t, err)
	_, err = w.ImportPrivKey(mainnetWIF, "", created)
	require.True(t, IsError(err, ErrInvalidAddress))

	dumped, err := w.DumpPrivKey(addr)
	require.NoError(t, err)
	require.Equal(t, wif.String(), dumped.String())
}

func TestImportPrivKeyLocked(t *testing.T) {
	w := newTestWalletVersion(t, 0, testPass)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, testParams, true)
	require.NoError(t, err)

	_, err = w.ImportPrivKey(wif, "", time.Now())
	require.True(t, IsError(err, ErrLocked))

	require.NoError(t, w.Unlock(testPass, 0))
	addr, err := w.ImportPrivKey(wif, "", time.Now())
	require.NoError(t, err)

	require.NoError(t, w.Lock())
	require.NoError(t, w.Unlock(testPass, 0))
	dumped, err := w.DumpPrivKey(addr)
	require.NoError(t, err)
	require.Equal(t, wif.String(), dumped.String())
}

func TestDumpImportWallet(t *testing.T) {
	src := newTestWallet(t)
	_, err := src.NewAddress("savings account")
	require.NoError(t, err)
	_, err = src.NewChangeAddress()
	require.NoError(t, err)

	var dump bytes.Buffer
	require.NoError(t, src.DumpWallet(&dump, "0.1.0"))

	text := dump.String()
	require.True(t, strings.HasPrefix(text,
		"# Wallet dump created by btcwalletd 0.1.0\n"))
	require.Contains(t, text, "# extended private masterkey: tprv")
	require.Contains(t, text, "label=savings%20account")
	require.Contains(t, text, "change=1")
	require.Contains(t, text, "reserve=1")
	require.True(t, strings.HasSuffix(text, "# End of dump\n"))

	addrs, err := src.Addresses()
	require.NoError(t, err)

	dst := newTestWalletVersion(t, 0, nil)
	dstAddrs, err := dst.Addresses()
	require.NoError(t, err)

	// Both wallets share a seed, so only keys the destination has not
	// derived yet are new to it.
	n, oldest, err := dst.ImportWallet(strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, len(addrs)-len(dstAddrs), n)
	require.False(t, oldest.IsZero())

	for _, a := range addrs {
		require.True(t, dst.HaveAddress(a), a.EncodeAddress())
	}

	n, _, err = dst.ImportWallet(strings.NewReader(text))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestImportWalletLabels(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, testParams, true)
	require.NoError(t, err)

	dump := "# comment\n\n" +
		wif.String() + " 2014-01-01T00:00:00Z label=my%20bills # addr=x\n" +
		"garbage line\n"

	w := newTestWallet(t)
	n, oldest, err := w.ImportWallet(strings.NewReader(dump))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC),
		oldest.UTC())

	addrs, err := w.AddressesByAccount("my bills")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
}

func TestDumpStringEncoding(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"", ""},
		{"plain", "plain"},
		{"two words", "two%20words"},
		{"100%", "100%25"},
		{"tab\there", "tab%09here"},
		{"caf\xc3\xa9", "caf%c3%a9"},
	}
	for _, test := range tests {
		require.Equal(t, test.out, encodeDumpString(test.in))
		require.Equal(t, test.in, decodeDumpString(test.out))
	}

	require.Equal(t, "%zz", decodeDumpString("%zz"))
	require.Equal(t, "50%", decodeDumpString("50%"))
}

func TestBackupWallet(t *testing.T) {
	w := newTestWallet(t)
	def, err := w.DefaultAddress()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, w.BackupWallet(dir, "backup.db"))

	dest := filepath.Join(dir, "backup.db")
	_, err = os.Stat(dest)
	require.NoError(t, err)
	_, err = os.Stat(dest + ".tmp")
	require.True(t, os.IsNotExist(err))

	db := openExistingTestDB(t, dest)
	restored, err := Open(db, testParams, testConfig())
	require.NoError(t, err)
	restoredDef, err := restored.DefaultAddress()
	require.NoError(t, err)
	require.Equal(t, def.EncodeAddress(), restoredDef.EncodeAddress())
	require.NoError(t, restored.Close())

	require.Error(t, w.BackupWallet(filepath.Join(dir, "missing", "x.db"),
		"backup.db"))
}
