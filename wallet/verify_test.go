package wallet

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/czh0526/btc-walletd/walletdb"
	"github.com/stretchr/testify/require"
)

func TestVerifyMissingFile(t *testing.T) {
	res, err := VerifyWallet(filepath.Join(t.TempDir(), "wallet.db"), false,
		time.Second)
	require.NoError(t, err)
	require.False(t, res.Salvaged)
	require.Empty(t, res.BackupPath)
}

// closedWalletFile creates a wallet database and returns its path after
// closing it.
func closedWalletFile(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	db := openTestDB(t, dir)
	w, err := Create(db, testParams, testSeed, nil, testConfig(), 0,
		time.Now())
	require.NoError(t, err)
	def, err := w.DefaultAddress()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return filepath.Join(dir, "wallet.db"), def.EncodeAddress()
}

func TestVerifyHealthy(t *testing.T) {
	path, _ := closedWalletFile(t)

	res, err := VerifyWallet(path, false, time.Second)
	require.NoError(t, err)
	require.False(t, res.Salvaged)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestVerifySalvage(t *testing.T) {
	path, def := closedWalletFile(t)

	res, err := VerifyWallet(path, true, time.Second)
	require.NoError(t, err)
	require.True(t, res.Salvaged)
	require.Positive(t, res.Recovered)

	_, err = os.Stat(res.BackupPath)
	require.NoError(t, err)

	db := openExistingTestDB(t, path)
	w, err := Open(db, testParams, testConfig())
	require.NoError(t, err)
	addr, err := w.DefaultAddress()
	require.NoError(t, err)
	require.Equal(t, def, addr.EncodeAddress())
}

func TestVerifyGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	garbage := bytes.Repeat([]byte{0xab}, 8192)
	require.NoError(t, os.WriteFile(path, garbage, 0600))

	res, err := VerifyWallet(path, false, time.Second)
	require.True(t, IsError(err, ErrCorrupt))
	require.NotNil(t, res)

	moved, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	require.Equal(t, garbage, moved)
}

func TestVerifyLocked(t *testing.T) {
	path, _ := closedWalletFile(t)

	db, err := walletdb.Open("bdb", path, true, time.Second)
	require.NoError(t, err)
	defer db.Close()

	_, err = VerifyWallet(path, false, 50*time.Millisecond)
	require.ErrorIs(t, err, walletdb.ErrDbLocked)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
