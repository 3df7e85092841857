package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/internal/prompt"
	"github.com/czh0526/btc-walletd/internal/zero"
	"github.com/czh0526/btc-walletd/wallet"
)

// networkDir returns the directory name of a network directory to hold
// wallet files.
func networkDir(dataDir string, chainParams *chaincfg.Params) string {
	netname := chainParams.Name

	// For now, we must always name the testnet data directory as "testnet"
	// and not "testnet3" or any other version, as the chaincfg testnet3
	// paramaters will likely be switched to being named "testnet3" in the
	// future. This is done to future proof that change, and an upgrade
	// plan to move the testnet3 data directory can be worked out later.
	if chainParams.Net == wire.TestNet3 {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}

// walletConfig returns the wallet settings of cfg.
func walletConfig(cfg *config) wallet.Config {
	wcfg := wallet.DefaultConfig()
	if cfg.KeyPool > 0 {
		wcfg.KeyPoolSize = cfg.KeyPool
	}
	wcfg.SpendZeroConfChange = !cfg.NoSpendZeroConf
	return wcfg
}

// createWallet prompts the user for the private passphrase and creates a
// new wallet in the network directory.
func createWallet(cfg *config) error {
	netDir := cfg.netDir()
	loader := wallet.NewLoader(cfg.activeNet.Params, netDir, cfg.WalletFile,
		true, cfg.DBTimeout, false, walletConfig(cfg))

	exists, err := loader.WalletExists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("the wallet database file `%v` already exists",
			loader.DBPath())
	}

	reader := bufio.NewReader(os.Stdin)
	privPass, err := prompt.PrivatePass(reader)
	if err != nil {
		return err
	}
	defer zero.Bytes(privPass)

	fmt.Println("Creating the wallet...")
	if _, err := loader.CreateNewWallet(nil, privPass, time.Now()); err != nil {
		return err
	}
	if err := loader.UnloadWallet(); err != nil && !errors.Is(err, wallet.ErrNotLoaded) {
		return err
	}
	fmt.Println("The wallet has been created successfully.")
	return nil
}
