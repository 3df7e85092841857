package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/node"
	"github.com/czh0526/btc-walletd/statusicon"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/czh0526/btc-walletd/walletinit"
)

const version = "0.1.0"

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the
// program can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		if err == errEarlyExit {
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer closeLogRotator()

	if cfg.Create {
		if err := createWallet(cfg); err != nil {
			log.Errorf("Unable to create wallet: %v", err)
			return err
		}
		return nil
	}

	log.Infof("Version %s", version)

	var chainClient chain.Interface
	if !cfg.Offline {
		rpcc, err := startChainRPC(cfg)
		if err != nil {
			log.Errorf("Unable to create chain RPC client: %v", err)
			return err
		}
		chainClient = rpcc
	}

	var status *statusicon.Integration
	if !cfg.noStatus {
		status = statusicon.New(cfg.statusIcon, nil)
	}

	var backend *walletinit.Backend
	var walletBackend node.WalletBackend
	if !cfg.DisableWallet {
		backend = walletinit.New(walletinit.Config{
			Params:              cfg.activeNet,
			DataDir:             cfg.netDir(),
			WalletFile:          cfg.WalletFile,
			DBTimeout:           cfg.DBTimeout,
			SalvageWallet:       cfg.SalvageWallet,
			ZapWalletTxes:       cfg.ZapWalletTxes,
			Rescan:              cfg.Rescan,
			UpgradeWallet:       cfg.UpgradeWallet,
			UpgradeVersion:      cfg.UpgradeVersion,
			PayTxFee:            cfg.PayTxFee,
			MinTxFee:            cfg.MinTxFee,
			KeyPool:             cfg.KeyPool,
			SpendZeroConfChange: !cfg.NoSpendZeroConf,
			Version:             version,
			Chain:               chainClient,
			OnShutdownRequest:   simulateInterrupt,
			OnTransaction: func(wallet.TxNotification) {
				if status != nil {
					status.SetAttentionFlag(true)
				}
			},
		})
		walletBackend = backend
	}

	nodeCfg := node.Config{
		Params:          cfg.activeNet,
		Version:         version,
		Chain:           chainClient,
		Status:          status,
		Generate:        cfg.Generate,
		GenProcLimit:    cfg.GenProcLimit,
		DisableSafeMode: cfg.DisableSafeMode,
	}
	n := node.New(nodeCfg, walletBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interrupts only request the shutdown. The shutdown steps run on
	// this goroutine once Init returned.
	addInterruptHandler(func() {
		cancel()
		n.StartShutdown()
	})

	if err := n.Init(ctx); err != nil {
		n.Shutdown()
		if errors.Is(err, node.ErrShutdownRequested) {
			return nil
		}
		fmt.Fprintln(os.Stderr, n.Messages().String())
		return err
	}

	var loader *wallet.Loader
	if backend != nil {
		loader = backend.Loader()
	}
	rpcs, err := startRPCServers(cfg, n.Table(), loader)
	if err != nil {
		log.Errorf("Unable to create RPC servers: %v", err)
		n.Shutdown()
		return err
	}

	<-n.Done()
	rpcs.Stop()
	n.Shutdown()
	return nil
}

// startChainRPC creates the btcd websocket client. The connection is made
// when the node starts.
func startChainRPC(cfg *config) (*chain.RPCClient, error) {
	var certs []byte
	if !cfg.DisableClientTLS {
		var err error
		certs, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			log.Warnf("Cannot open CA file %s: %v", cfg.CAFile, err)
		}
	}
	log.Infof("Attempting RPC client connection to %v", cfg.RPCConnect)
	return chain.NewRPCClient(cfg.activeNet.Params, cfg.RPCConnect,
		cfg.BtcdUsername, cfg.BtcdPassword, certs, cfg.DisableClientTLS, 1)
}
