package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/internal/cfgutil"
	"github.com/czh0526/btc-walletd/netparams"
	"github.com/czh0526/btc-walletd/statusicon"
	"github.com/czh0526/btc-walletd/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "btcwalletd.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcwalletd.log"
	defaultRPCMaxClients  = 10
	defaultKeyPool        = 100
	defaultDBTimeout      = 60 * time.Second
	defaultGenProcLimit   = -1
)

var (
	btcdDefaultCAFile  = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	defaultAppDataDir  = btcutil.AppDataDir("btcwalletd", false)
	defaultConfigFile  = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultRPCKeyFile  = filepath.Join(defaultAppDataDir, "rpc.key")
	defaultRPCCertFile = filepath.Join(defaultAppDataDir, "rpc.cert")
	defaultLogDir      = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  string        `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool          `short:"V" long:"version" description:"Display version information and exit"`
	Create      bool          `long:"create" description:"Create the wallet if it does not exist and exit"`
	AppDataDir  string        `short:"A" long:"appdata" description:"Application data directory for wallet config, databases and logs"`
	TestNet3    bool          `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	SimNet      bool          `long:"simnet" description:"Use the simulation test network (default mainnet)"`
	RegTest     bool          `long:"regtest" description:"Use the regression test network (default mainnet)"`
	DebugLevel  string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir      string        `long:"logdir" description:"Directory to log output."`
	DBTimeout   time.Duration `long:"dbtimeout" description:"The timeout value to use when opening the wallet database."`
	StatusIcon  string        `long:"statusicon" description:"Status icon style {default, dock, unity, none}"`

	// Wallet options
	DisableWallet   bool   `long:"disablewallet" description:"Do not load the wallet and disable wallet RPC calls"`
	WalletFile      string `long:"wallet" description:"Wallet database file name inside the network data directory"`
	SalvageWallet   bool   `long:"salvagewallet" description:"Attempt to recover private keys from a corrupt wallet on startup"`
	ZapWalletTxes   bool   `long:"zapwallettxes" description:"Delete all wallet transactions and only recover them from the block chain on startup"`
	Rescan          bool   `long:"rescan" description:"Rescan the block chain for missing wallet transactions on startup"`
	UpgradeWallet   bool   `long:"upgradewallet" description:"Upgrade the wallet to the latest format on startup"`
	UpgradeVersion  uint32 `long:"upgradeversion" description:"Upgrade the wallet up to this version instead of the latest"`
	PayTxFee        string `long:"paytxfee" description:"Fee (in BTC/kB) to add to transactions you send"`
	MinTxFee        string `long:"mintxfee" description:"Fees (in BTC/kB) smaller than this are considered zero fee for transaction creation"`
	KeyPool         int    `long:"keypool" description:"Set key pool size"`
	NoSpendZeroConf bool   `long:"nospendzeroconfchange" description:"Do not spend unconfirmed change when sending transactions"`
	DisableSafeMode bool   `long:"disablesafemode" description:"Keep every RPC call enabled when a chain warning is active"`

	// Mining options
	Generate     bool `long:"gen" description:"Generate coins"`
	GenProcLimit int  `long:"genproclimit" description:"Set the processor limit for when generation is on (-1 = unlimited)"`

	// Chain RPC client options
	Offline          bool   `long:"offline" description:"Run without connecting to a chain server"`
	RPCConnect       string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to (default localhost:8334, testnet: localhost:18334, simnet: localhost:18556)"`
	CAFile           string `long:"cafile" description:"File containing root certificates to authenticate a TLS connections with btcd"`
	DisableClientTLS bool   `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`
	BtcdUsername     string `long:"btcdusername" description:"Username for btcd authentication"`
	BtcdPassword     string `long:"btcdpassword" default-mask:"-" description:"Password for btcd authentication"`

	// RPC server options
	RPCCert             string   `long:"rpccert" description:"File containing the certificate file"`
	RPCKey              string   `long:"rpckey" description:"File containing the certificate key"`
	DisableServerTLS    bool     `long:"noservertls" description:"Disable TLS for the RPC servers -- NOTE: This is only allowed if the RPC servers are bound to localhost"`
	LegacyRPCListeners  []string `long:"rpclisten" description:"Listen for JSON-RPC connections on this interface/port (default port: 8332, testnet: 18332, simnet: 18554)"`
	LegacyRPCMaxClients int64    `long:"rpcmaxclients" description:"Max number of JSON-RPC clients for standard connections"`
	Username            string   `short:"u" long:"username" description:"Username for JSON-RPC and btcd authentication (if btcdusername is unset)"`
	Password            string   `short:"P" long:"password" default-mask:"-" description:"Password for JSON-RPC and btcd authentication (if btcdpassword is unset)"`
	GRPCListeners       []string `long:"grpclisten" description:"Listen for gRPC wallet loader connections on this interface/port (default port: 8331, testnet: 18331, simnet: 18553)"`
	DisableGRPC         bool     `long:"nogrpc" description:"Disable the gRPC server"`

	activeNet  *netparams.Params
	statusIcon statusicon.Style
	noStatus   bool
}

// netDir returns the directory of the active network below the
// application data directory.
func (c *config) netDir() string {
	return networkDir(c.AppDataDir, c.activeNet.Params)
}

// normalizeAddresses returns addrs with the default port added to those
// without one, dropping duplicates.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	seen := make(map[string]struct{}, len(addrs))
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

func defaultConfig() config {
	return config{
		ConfigFile:          defaultConfigFile,
		AppDataDir:          defaultAppDataDir,
		DebugLevel:          defaultLogLevel,
		LogDir:              defaultLogDir,
		DBTimeout:           defaultDBTimeout,
		StatusIcon:          statusicon.StyleDefault.String(),
		WalletFile:          wallet.DefaultWalletFile,
		KeyPool:             defaultKeyPool,
		GenProcLimit:        defaultGenProcLimit,
		RPCKey:              defaultRPCKeyFile,
		RPCCert:             defaultRPCCertFile,
		LegacyRPCMaxClients: defaultRPCMaxClients,
	}
}

// errEarlyExit is returned by loadConfig after printing the version or the
// list of subsystems.
var errEarlyExit = errors.New("nothing to run")

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in btcwalletd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take
// precedence.
func loadConfig(args []string) (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
		}
		return nil, nil, err
	}
	if preCfg.ShowVersion {
		fmt.Println("btcwalletd version", version)
		return nil, nil, errEarlyExit
	}

	parser := flags.NewParser(&cfg, flags.HelpFlag)
	configFile := cfgutil.CleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.ConfigFile == defaultConfigFile && preCfg.AppDataDir != defaultAppDataDir {
		configFile = filepath.Join(cfgutil.CleanAndExpandPath(preCfg.AppDataDir),
			defaultConfigFilename)
	}
	var configFileError error
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, fmt.Errorf("error parsing config file: %w", err)
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	cfg.AppDataDir = cfgutil.CleanAndExpandPath(cfg.AppDataDir)
	if cfg.AppDataDir != defaultAppDataDir {
		if cfg.RPCKey == defaultRPCKeyFile {
			cfg.RPCKey = filepath.Join(cfg.AppDataDir, "rpc.key")
		}
		if cfg.RPCCert == defaultRPCCertFile {
			cfg.RPCCert = filepath.Join(cfg.AppDataDir, "rpc.cert")
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
		}
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	cfg.activeNet = &netparams.MainNetParams
	numNets := 0
	if cfg.TestNet3 {
		cfg.activeNet = &netparams.TestNetParams
		numNets++
	}
	if cfg.SimNet {
		cfg.activeNet = &netparams.SimNetParams
		numNets++
	}
	if cfg.RegTest {
		cfg.activeNet = &netparams.RegressionNetParams
		numNets++
	}
	if numNets > 1 {
		return nil, nil, errors.New("the testnet, simnet and regtest " +
			"params can't be used together -- choose one")
	}

	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		return nil, nil, errEarlyExit
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, err
	}
	cfg.LogDir = filepath.Join(cfgutil.CleanAndExpandPath(cfg.LogDir),
		cfg.activeNet.Params.Name)

	if !cfgutil.IsBareFileName(cfg.WalletFile) {
		return nil, nil, fmt.Errorf("wallet %s resides outside data "+
			"directory %s", cfg.WalletFile, cfg.netDir())
	}

	if strings.EqualFold(cfg.StatusIcon, "none") {
		cfg.noStatus = true
	} else {
		cfg.statusIcon, err = statusicon.ParseStyle(cfg.StatusIcon)
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.KeyPool < 0 {
		return nil, nil, fmt.Errorf("invalid keypool size %d", cfg.KeyPool)
	}

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", cfg.activeNet.RPCClientPort)
	}
	cfg.RPCConnect = normalizeAddresses([]string{cfg.RPCConnect},
		cfg.activeNet.RPCClientPort)[0]

	// Only allow disabling client TLS when connecting to localhost.
	if cfg.DisableClientTLS && !isLoopback(cfg.RPCConnect) {
		return nil, nil, fmt.Errorf("the --noclienttls option may not be "+
			"used when connecting RPC to non localhost addresses: %s",
			cfg.RPCConnect)
	}
	if !cfg.DisableClientTLS && cfg.CAFile == "" {
		cfg.CAFile = btcdDefaultCAFile
	}
	if cfg.BtcdUsername == "" {
		cfg.BtcdUsername = cfg.Username
	}
	if cfg.BtcdPassword == "" {
		cfg.BtcdPassword = cfg.Password
	}

	if len(cfg.LegacyRPCListeners) == 0 {
		cfg.LegacyRPCListeners = []string{
			net.JoinHostPort("localhost", cfg.activeNet.RPCServerPort),
		}
	}
	cfg.LegacyRPCListeners = normalizeAddresses(cfg.LegacyRPCListeners,
		cfg.activeNet.RPCServerPort)
	if len(cfg.GRPCListeners) == 0 {
		cfg.GRPCListeners = []string{
			net.JoinHostPort("localhost", cfg.activeNet.GRPCPort),
		}
	}
	cfg.GRPCListeners = normalizeAddresses(cfg.GRPCListeners,
		cfg.activeNet.GRPCPort)

	// Only allow server TLS to be disabled if the RPC servers are bound
	// to localhost addresses.
	if cfg.DisableServerTLS {
		all := append(append([]string(nil), cfg.LegacyRPCListeners...),
			cfg.GRPCListeners...)
		for _, addr := range all {
			if !isLoopback(addr) {
				return nil, nil, fmt.Errorf("the --noservertls option "+
					"may not be used when binding RPC to non localhost "+
					"addresses: %s", addr)
			}
		}
	}

	cfg.RPCKey = cfgutil.CleanAndExpandPath(cfg.RPCKey)
	cfg.RPCCert = cfgutil.CleanAndExpandPath(cfg.RPCCert)
	cfg.CAFile = cfgutil.CleanAndExpandPath(cfg.CAFile)

	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}
	return &cfg, remainingArgs, nil
}

// isLoopback reports whether the host of addr is localhost or a loopback
// IP address.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
