package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/node"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
	"github.com/czh0526/btc-walletd/rpc/rpcserver"
	"github.com/czh0526/btc-walletd/statusicon"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/czh0526/btc-walletd/walletinit"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotatorPipe != nil {
		logRotatorPipe.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It is nil until
	// initLogRotator is called.
	logRotator *rotator.Rotator

	// logRotatorPipe is the write-end of the pipe feeding logRotator.
	logRotatorPipe *io.PipeWriter

	log          = backendLog.Logger("BTWD")
	walletLog    = backendLog.Logger("WLLT")
	chainLog     = backendLog.Logger("CHNS")
	legacyRPCLog = backendLog.Logger("RPCS")
	grpcLog      = backendLog.Logger("GRPC")
	nodeLog      = backendLog.Logger("NODE")
	walletInit   = backendLog.Logger("WINI")
	statusLog    = backendLog.Logger("STAT")
)

func init() {
	wallet.UseLogger(walletLog)
	chain.UseLogger(chainLog)
	legacyrpc.UseLogger(legacyRPCLog)
	rpcserver.UseLogger(grpcLog)
	node.UseLogger(nodeLog)
	walletinit.UseLogger(walletInit)
	statusicon.UseLogger(statusLog)
}

// subsystemLoggers maps each subsystem identifier to its logger.
var subsystemLoggers = map[string]btclog.Logger{
	"BTWD": log,
	"WLLT": walletLog,
	"CHNS": chainLog,
	"RPCS": legacyRPCLog,
	"GRPC": grpcLog,
	"NODE": nodeLog,
	"WINI": walletInit,
	"STAT": statusLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before
// the package-global log rotator variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logRotator = r
	logRotatorPipe = pw
	return nil
}

func closeLogRotator() {
	if logRotator != nil {
		logRotatorPipe.Close()
		logRotator.Close()
	}
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems
// for logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels parses debugLevel, either a single level for every
// subsystem or a comma separated list of subsystem=level pairs, and sets
// the levels accordingly.
func parseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				debugLevel)
		}
		setLogLevels(debugLevel)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains an "+
				"invalid subsystem/level pair [%v]", pair)
		}
		subsysID, logLevel := fields[0], fields[1]

		if _, ok := subsystemLoggers[subsysID]; !ok {
			return fmt.Errorf("the specified subsystem [%v] is invalid "+
				"-- supported subsystems %v", subsysID,
				supportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				logLevel)
		}
		setLogLevel(subsysID, logLevel)
	}
	return nil
}
