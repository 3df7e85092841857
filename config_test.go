package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/statusicon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArgs(t *testing.T, args ...string) []string {
	t.Helper()
	dir := t.TempDir()
	return append([]string{"--appdata=" + dir}, args...)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, _, err := loadConfig(testArgs(t))
	require.NoError(t, err)

	assert.Equal(t, &netparams.MainNetParams, cfg.activeNet)
	assert.Equal(t, "wallet.db", cfg.WalletFile)
	assert.Equal(t, defaultKeyPool, cfg.KeyPool)
	assert.Equal(t, -1, cfg.GenProcLimit)
	assert.Equal(t, statusicon.StyleDefault, cfg.statusIcon)
	assert.False(t, cfg.noStatus)
	assert.Equal(t, "localhost:8334", cfg.RPCConnect)
	assert.Equal(t, []string{"localhost:8332"}, cfg.LegacyRPCListeners)
	assert.Equal(t, []string{"localhost:8331"}, cfg.GRPCListeners)
	assert.Equal(t, filepath.Join(cfg.AppDataDir, "rpc.key"), cfg.RPCKey)
	assert.Equal(t, filepath.Join(cfg.AppDataDir, "logs", "mainnet"), cfg.LogDir)
	assert.Equal(t, filepath.Join(cfg.AppDataDir, "mainnet"), cfg.netDir())
}

func TestLoadConfigNetworks(t *testing.T) {
	cfg, _, err := loadConfig(testArgs(t, "--testnet"))
	require.NoError(t, err)
	assert.Equal(t, &netparams.TestNetParams, cfg.activeNet)
	assert.Equal(t, filepath.Join(cfg.AppDataDir, "testnet"), cfg.netDir())

	cfg, _, err = loadConfig(testArgs(t, "--regtest", "--rpclisten=127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, &netparams.RegressionNetParams, cfg.activeNet)
	assert.Equal(t, []string{"127.0.0.1:18332"}, cfg.LegacyRPCListeners)

	_, _, err = loadConfig(testArgs(t, "--testnet", "--simnet"))
	require.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	conf := "[Application Options]\n" +
		"simnet=1\n" +
		"keypool=5\n" +
		"paytxfee=0.0002\n" +
		"statusicon=unity\n" +
		"username=alice\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultConfigFilename),
		[]byte(conf), 0600))

	cfg, _, err := loadConfig([]string{"--appdata=" + dir, "--keypool=7"})
	require.NoError(t, err)
	assert.Equal(t, &netparams.SimNetParams, cfg.activeNet)
	assert.Equal(t, 7, cfg.KeyPool)
	assert.Equal(t, "0.0002", cfg.PayTxFee)
	assert.Equal(t, statusicon.StyleUnity, cfg.statusIcon)
	assert.Equal(t, "alice", cfg.BtcdUsername)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"wallet outside data dir", []string{"--wallet=../wallet.db"}},
		{"bad status icon", []string{"--statusicon=tray"}},
		{"bad debug level", []string{"--debuglevel=loud"}},
		{"bad subsystem", []string{"--debuglevel=XXXX=debug"}},
		{"negative keypool", []string{"--keypool=-1"}},
		{"client tls off remotely", []string{"--noclienttls", "--rpcconnect=10.0.0.1"}},
		{"server tls off remotely", []string{"--noservertls", "--rpclisten=0.0.0.0"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := loadConfig(testArgs(t, test.args...))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigNoStatus(t *testing.T) {
	cfg, _, err := loadConfig(testArgs(t, "--statusicon=none", "--debuglevel=WLLT=debug,NODE=trace"))
	require.NoError(t, err)
	assert.True(t, cfg.noStatus)
}

func TestNormalizeAddresses(t *testing.T) {
	got := normalizeAddresses([]string{"localhost", "localhost:8332", "::1", "[::1]:9000"}, "8332")
	assert.Equal(t, []string{"localhost:8332", "[::1]:8332", "[::1]:9000"}, got)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("localhost:8332"))
	assert.True(t, isLoopback("127.0.0.1:8332"))
	assert.True(t, isLoopback("[::1]:8332"))
	assert.False(t, isLoopback("10.0.0.1:8332"))
	assert.False(t, isLoopback(":8332"))
}
