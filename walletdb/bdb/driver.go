package bdb

import (
	"fmt"
	"time"

	"github.com/czh0526/btc-walletd/walletdb"
)

const (
	dbType = "bdb"
)

// parseArgs accepts the database path, the no-freelist-sync flag, the open
// timeout and an optional trailing no-sync flag.
func parseArgs(funcName string,
	args ...interface{}) (string, bool, time.Duration, bool, error) {

	if len(args) != 3 && len(args) != 4 {
		return "", false, 0, false, fmt.Errorf("invalid arguments to %s.%s "+
			"-- expected database path, no-freelist-sync, "+
			"timeout and optional no-sync option",
			dbType, funcName)
	}

	dbPath, ok := args[0].(string)
	if !ok {
		return "", false, 0, false, fmt.Errorf("first argument to %s.%s is "+
			"invalid -- expected database path string", dbType,
			funcName)
	}

	noFreelistSync, ok := args[1].(bool)
	if !ok {
		return "", false, 0, false, fmt.Errorf("second argument to %s.%s is "+
			"invalid -- expected no-freelist-sync bool", dbType,
			funcName)
	}

	timeout, ok := args[2].(time.Duration)
	if !ok {
		return "", false, 0, false, fmt.Errorf("third argument to %s.%s is "+
			"invalid -- expected timeout time.Duration", dbType,
			funcName)
	}

	var noSync bool
	if len(args) == 4 {
		noSync, ok = args[3].(bool)
		if !ok {
			return "", false, 0, false, fmt.Errorf("fourth argument to "+
				"%s.%s is invalid -- expected no-sync bool", dbType,
				funcName)
		}
	}

	return dbPath, noFreelistSync, timeout, noSync, nil
}

func openDBDriver(args ...interface{}) (walletdb.DB, error) {
	dbPath, noFreelistSync, timeout, noSync, err := parseArgs("Open", args...)
	if err != nil {
		return nil, err
	}

	return openDB(dbPath, noFreelistSync, false, timeout, noSync)
}

func createDBDriver(args ...interface{}) (walletdb.DB, error) {
	dbPath, noFreelistSync, timeout, noSync, err := parseArgs("Create", args...)
	if err != nil {
		return nil, err
	}

	return openDB(dbPath, noFreelistSync, true, timeout, noSync)
}

func recoverDBDriver(args ...interface{}) (int, error) {
	if len(args) != 3 {
		return 0, fmt.Errorf("invalid arguments to %s.Recover -- expected "+
			"source path, destination path and timeout", dbType)
	}
	src, ok := args[0].(string)
	if !ok {
		return 0, fmt.Errorf("first argument to %s.Recover is invalid "+
			"-- expected source path string", dbType)
	}
	dst, ok := args[1].(string)
	if !ok {
		return 0, fmt.Errorf("second argument to %s.Recover is invalid "+
			"-- expected destination path string", dbType)
	}
	timeout, ok := args[2].(time.Duration)
	if !ok {
		return 0, fmt.Errorf("third argument to %s.Recover is invalid "+
			"-- expected timeout time.Duration", dbType)
	}

	return salvage(src, dst, timeout)
}

func init() {
	driver := walletdb.Driver{
		DBType:  dbType,
		Create:  createDBDriver,
		Open:    openDBDriver,
		Recover: recoverDBDriver,
	}

	if err := walletdb.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("Failed to register database driver '%s': %v", dbType, err))
	}
}
