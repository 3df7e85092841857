package legacyrpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
)

// Actor handles one request. params holds the positional JSON parameters;
// the returned result is marshalled into the response.
type Actor func(params []json.RawMessage) (interface{}, error)

// Command is one entry of the RPC table.
type Command struct {
	Name  string
	Actor Actor

	// OkSafeMode commands still run while the node is in safe mode.
	OkSafeMode bool

	// ThreadSafe commands run without taking the table lock.
	ThreadSafe bool

	// ReqWallet commands are disabled while no wallet is loaded.
	ReqWallet bool

	// Usage is shown by help and on parameter count errors.
	Usage string
}

// Table dispatches requests to registered commands.
type Table struct {
	mu       sync.RWMutex
	commands map[string]*Command

	// execMtx serializes commands that are not ThreadSafe.
	execMtx sync.Mutex

	safeMode     func() string
	walletLoaded func() bool
}

// NewTable returns an empty command table.
func NewTable() *Table {
	return &Table{
		commands: make(map[string]*Command),
	}
}

// Register adds cmds to the table. A name that is already taken, or
// repeated within cmds, fails the call and registers none of cmds.
func (t *Table) Register(cmds []Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(cmds))
	for i := range cmds {
		name := cmds[i].Name
		if name == "" || cmds[i].Actor == nil {
			return fmt.Errorf("command %d has no name or actor", i)
		}
		if _, ok := t.commands[name]; ok {
			return fmt.Errorf("command %q already registered", name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("command %q listed twice", name)
		}
		seen[name] = struct{}{}
	}

	for i := range cmds {
		cmd := cmds[i]
		t.commands[cmd.Name] = &cmd
	}
	return nil
}

// Lookup returns the command registered under name.
func (t *Table) Lookup(name string) (*Command, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cmd, ok := t.commands[name]
	return cmd, ok
}

// Names returns the registered command names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	t.mu.RUnlock()

	sort.Strings(names)
	return names
}

// SetSafeMode installs fn as the source of the safe mode warning. A
// non-empty warning puts the table in safe mode.
func (t *Table) SetSafeMode(fn func() string) {
	t.mu.Lock()
	t.safeMode = fn
	t.mu.Unlock()
}

// SetWalletLoaded installs fn to report whether a wallet is loaded. With
// no function installed, ReqWallet commands are always disabled.
func (t *Table) SetWalletLoaded(fn func() bool) {
	t.mu.Lock()
	t.walletLoaded = fn
	t.mu.Unlock()
}

// Execute runs the named command. Errors returned by the command are
// translated to JSON-RPC errors.
func (t *Table) Execute(method string, p []json.RawMessage) (interface{}, *btcjson.RPCError) {
	t.mu.RLock()
	cmd, ok := t.commands[method]
	safeMode, walletLoaded := t.safeMode, t.walletLoaded
	t.mu.RUnlock()

	if !ok {
		return nil, btcjson.ErrRPCMethodNotFound
	}
	if cmd.ReqWallet && (walletLoaded == nil || !walletLoaded()) {
		e := ErrNoWallet
		return nil, &e
	}
	if !cmd.OkSafeMode && safeMode != nil {
		if warning := safeMode(); warning != "" {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCForbiddenBySafeMode,
				"Safe mode: "+warning)
		}
	}

	if !cmd.ThreadSafe {
		t.execMtx.Lock()
		defer t.execMtx.Unlock()
	}

	result, err := cmd.Actor(p)
	if err != nil {
		log.Debugf("Command %s failed: %v", method, err)
		return nil, jsonError(err)
	}
	return result, nil
}
