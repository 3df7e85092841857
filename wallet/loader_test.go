package wallet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLoader(dir string) *Loader {
	return NewLoader(testParams, dir, "", true, time.Second, false,
		testConfig())
}

func TestLoaderCreateOpen(t *testing.T) {
	dir := t.TempDir()
	l := newTestLoader(dir)
	require.Equal(t, DefaultWalletFile, l.FileName())

	exists, err := l.WalletExists()
	require.NoError(t, err)
	require.False(t, exists)

	_, err = l.OpenExistingWallet()
	require.Error(t, err)

	var loaded []*Wallet
	l.RunAfterLoad(func(w *Wallet) { loaded = append(loaded, w) })

	w, err := l.CreateNewWallet(testSeed, nil, time.Now())
	require.NoError(t, err)
	require.Equal(t, []*Wallet{w}, loaded)

	got, ok := l.LoadedWallet()
	require.True(t, ok)
	require.Equal(t, w, got)

	// Callbacks registered after load run right away.
	l.RunAfterLoad(func(w *Wallet) { loaded = append(loaded, w) })
	require.Len(t, loaded, 2)

	_, err = l.CreateNewWallet(testSeed, nil, time.Now())
	require.ErrorIs(t, err, ErrLoaded)
	_, err = l.OpenExistingWallet()
	require.ErrorIs(t, err, ErrLoaded)

	def, err := w.DefaultAddress()
	require.NoError(t, err)

	require.NoError(t, l.UnloadWallet())
	require.ErrorIs(t, l.UnloadWallet(), ErrNotLoaded)
	_, ok = l.LoadedWallet()
	require.False(t, ok)

	res, err := l.Verify(false)
	require.NoError(t, err)
	require.False(t, res.Salvaged)

	// A second loader sees the existing file.
	l2 := newTestLoader(dir)
	exists, err = l2.WalletExists()
	require.NoError(t, err)
	require.True(t, exists)
	_, err = l2.CreateNewWallet(testSeed, nil, time.Now())
	require.ErrorIs(t, err, ErrExists)

	w2, err := l2.OpenExistingWallet()
	require.NoError(t, err)
	def2, err := w2.DefaultAddress()
	require.NoError(t, err)
	require.Equal(t, def.EncodeAddress(), def2.EncodeAddress())
	require.NoError(t, l2.UnloadWallet())
}

func TestLoaderEncrypted(t *testing.T) {
	l := newTestLoader(t.TempDir())
	w, err := l.CreateNewWallet(nil, testPass, time.Now())
	require.NoError(t, err)
	require.True(t, w.IsEncrypted())
	require.True(t, w.IsLocked())
	require.NoError(t, l.UnloadWallet())
}

func TestLoaderCallbacksRunOnEveryLoad(t *testing.T) {
	l := newTestLoader(t.TempDir())

	var loaded []*Wallet
	l.RunAfterLoad(func(w *Wallet) { loaded = append(loaded, w) })

	w, err := l.CreateNewWallet(testSeed, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, l.UnloadWallet())

	w2, err := l.OpenExistingWallet()
	require.NoError(t, err)
	require.Equal(t, []*Wallet{w, w2}, loaded)
	require.NoError(t, l.UnloadWallet())
}
