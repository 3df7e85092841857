package legacyrpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/wallet"
)

// Handlers binds the wallet RPC commands to the wallet and the chain
// backend they operate on.
type Handlers struct {
	ChainParams *chaincfg.Params

	// Wallet returns the loaded wallet, nil when there is none.
	Wallet func() *wallet.Wallet

	// Chain returns the chain backend, nil when none is connected.
	Chain func() chain.Interface

	// WalletFile names backups written into a directory.
	WalletFile string

	// Version is written into wallet dumps.
	Version string

	// Rescan, when set, is called after keys were imported with the
	// creation time of the oldest one.
	Rescan func(w *wallet.Wallet, from time.Time)
}

// walletHandler is a handler that needs a loaded wallet.
type walletHandler func(w *wallet.Wallet, p params) (interface{}, error)

// lazyApplyHandler binds fn to the wallet loaded at request time.
func (h *Handlers) lazyApplyHandler(fn walletHandler) Actor {
	return func(p []json.RawMessage) (interface{}, error) {
		w := h.wallet()
		if w == nil {
			return nil, ErrNoWallet
		}
		return fn(w, params(p))
	}
}

// optionalWallet binds fn to the loaded wallet, passing nil when none is.
func (h *Handlers) optionalWallet(fn walletHandler) Actor {
	return func(p []json.RawMessage) (interface{}, error) {
		return fn(h.wallet(), params(p))
	}
}

func (h *Handlers) wallet() *wallet.Wallet {
	if h.Wallet == nil {
		return nil
	}
	return h.Wallet()
}

func (h *Handlers) chainClient() (chain.Interface, error) {
	if h.Chain == nil {
		return nil, ErrNoChain
	}
	c := h.Chain()
	if c == nil {
		return nil, ErrNoChain
	}
	return c, nil
}

// WalletCommands returns the wallet command table.
func (h *Handlers) WalletCommands() []Command {
	// Usage texts double as the parameter count checks' error messages.
	return []Command{
		{Name: "getnewaddress", Actor: h.lazyApplyHandler(getNewAddress),
			OkSafeMode: true, ReqWallet: true,
			Usage: `getnewaddress ( "account" )`},
		{Name: "getaccountaddress", Actor: h.lazyApplyHandler(getAccountAddress),
			OkSafeMode: true, ReqWallet: true,
			Usage: `getaccountaddress "account"`},
		{Name: "getrawchangeaddress", Actor: h.lazyApplyHandler(getRawChangeAddress),
			OkSafeMode: true, ReqWallet: true,
			Usage: `getrawchangeaddress`},
		{Name: "setaccount", Actor: h.lazyApplyHandler(setAccount),
			OkSafeMode: true, ReqWallet: true,
			Usage: `setaccount "bitcoinaddress" "account"`},
		{Name: "getaccount", Actor: h.lazyApplyHandler(getAccount),
			ReqWallet: true,
			Usage:     `getaccount "bitcoinaddress"`},
		{Name: "getaddressesbyaccount", Actor: h.lazyApplyHandler(getAddressesByAccount),
			OkSafeMode: true, ReqWallet: true,
			Usage: `getaddressesbyaccount "account"`},
		{Name: "sendtoaddress", Actor: h.lazyApplyHandler(sendToAddress),
			ReqWallet: true,
			Usage:     `sendtoaddress "bitcoinaddress" amount ( "comment" "comment-to" )`},
		{Name: "getreceivedbyaddress", Actor: h.lazyApplyHandler(getReceivedByAddress),
			ReqWallet: true,
			Usage:     `getreceivedbyaddress "bitcoinaddress" ( minconf )`},
		{Name: "getreceivedbyaccount", Actor: h.lazyApplyHandler(getReceivedByAccount),
			ReqWallet: true,
			Usage:     `getreceivedbyaccount "account" ( minconf )`},
		{Name: "listreceivedbyaddress", Actor: h.lazyApplyHandler(listReceivedByAddress),
			ReqWallet: true,
			Usage:     `listreceivedbyaddress ( minconf includeempty )`},
		{Name: "listreceivedbyaccount", Actor: h.lazyApplyHandler(listReceivedByAccount),
			ReqWallet: true,
			Usage:     `listreceivedbyaccount ( minconf includeempty )`},
		{Name: "backupwallet", Actor: h.lazyApplyHandler(h.backupWallet),
			OkSafeMode: true, ReqWallet: true,
			Usage: `backupwallet "destination"`},
		{Name: "keypoolrefill", Actor: h.lazyApplyHandler(keypoolRefill),
			OkSafeMode: true, ReqWallet: true,
			Usage: `keypoolrefill ( newsize )`},
		{Name: "walletpassphrase", Actor: h.lazyApplyHandler(walletPassphrase),
			OkSafeMode: true, ReqWallet: true,
			Usage: `walletpassphrase "passphrase" timeout`},
		{Name: "walletpassphrasechange", Actor: h.lazyApplyHandler(walletPassphraseChange),
			ReqWallet: true,
			Usage:     `walletpassphrasechange "oldpassphrase" "newpassphrase"`},
		{Name: "walletlock", Actor: h.lazyApplyHandler(walletLock),
			OkSafeMode: true, ReqWallet: true,
			Usage: `walletlock`},
		{Name: "encryptwallet", Actor: h.lazyApplyHandler(encryptWallet),
			ReqWallet: true,
			Usage:     `encryptwallet "passphrase"`},
		{Name: "validateaddress", Actor: h.optionalWallet(h.validateAddress),
			OkSafeMode: true,
			Usage:      `validateaddress "bitcoinaddress"`},
		{Name: "getbalance", Actor: h.lazyApplyHandler(getBalance),
			ReqWallet: true,
			Usage:     `getbalance ( "account" minconf )`},
		{Name: "move", Actor: h.lazyApplyHandler(move),
			ReqWallet: true,
			Usage:     `move "fromaccount" "toaccount" amount ( minconf "comment" )`},
		{Name: "sendfrom", Actor: h.lazyApplyHandler(sendFrom),
			ReqWallet: true,
			Usage:     `sendfrom "fromaccount" "tobitcoinaddress" amount ( minconf "comment" "comment-to" )`},
		{Name: "sendmany", Actor: h.lazyApplyHandler(sendMany),
			ReqWallet: true,
			Usage:     `sendmany "fromaccount" {"address":amount,...} ( minconf "comment" )`},
		{Name: "addmultisigaddress", Actor: h.lazyApplyHandler(addMultiSigAddress),
			ReqWallet: true,
			Usage:     `addmultisigaddress nrequired ["key",...] ( "account" )`},
		{Name: "createmultisig", Actor: h.optionalWallet(h.createMultiSig),
			OkSafeMode: true, ThreadSafe: true,
			Usage: `createmultisig nrequired ["key",...]`},
		{Name: "gettransaction", Actor: h.lazyApplyHandler(getTransaction),
			ReqWallet: true,
			Usage:     `gettransaction "txid"`},
		{Name: "listtransactions", Actor: h.lazyApplyHandler(listTransactions),
			ReqWallet: true,
			Usage:     `listtransactions ( "account" count from )`},
		{Name: "listaddressgroupings", Actor: h.lazyApplyHandler(listAddressGroupings),
			ReqWallet: true,
			Usage:     `listaddressgroupings`},
		{Name: "signmessage", Actor: h.lazyApplyHandler(signMessage),
			ReqWallet: true,
			Usage:     `signmessage "bitcoinaddress" "message"`},
		{Name: "verifymessage", Actor: h.optionalWallet(h.verifyMessage),
			Usage: `verifymessage "bitcoinaddress" "signature" "message"`},
		{Name: "listaccounts", Actor: h.lazyApplyHandler(listAccounts),
			ReqWallet: true,
			Usage:     `listaccounts ( minconf )`},
		{Name: "listsinceblock", Actor: h.lazyApplyHandler(h.listSinceBlock),
			ReqWallet: true,
			Usage:     `listsinceblock ( "blockhash" target-confirmations )`},
		{Name: "dumpprivkey", Actor: h.lazyApplyHandler(dumpPrivKey),
			OkSafeMode: true, ReqWallet: true,
			Usage: `dumpprivkey "bitcoinaddress"`},
		{Name: "dumpwallet", Actor: h.lazyApplyHandler(h.dumpWallet),
			OkSafeMode: true, ReqWallet: true,
			Usage: `dumpwallet "filename"`},
		{Name: "importprivkey", Actor: h.lazyApplyHandler(h.importPrivKey),
			ReqWallet: true,
			Usage:     `importprivkey "bitcoinprivkey" ( "label" rescan )`},
		{Name: "importwallet", Actor: h.lazyApplyHandler(h.importWallet),
			ReqWallet: true,
			Usage:     `importwallet "filename"`},
		{Name: "listunspent", Actor: h.lazyApplyHandler(listUnspent),
			ReqWallet: true,
			Usage:     `listunspent ( minconf maxconf ["address",...] )`},
		{Name: "lockunspent", Actor: h.lazyApplyHandler(lockUnspent),
			ReqWallet: true,
			Usage:     `lockunspent unlock [{"txid":"txid","vout":n},...]`},
		{Name: "listlockunspent", Actor: h.lazyApplyHandler(listLockUnspent),
			ReqWallet: true,
			Usage:     `listlockunspent`},
	}
}

// MiningCommands returns the mining commands, which are served by the
// chain backend.
func (h *Handlers) MiningCommands() []Command {
	return []Command{
		{Name: "getgenerate", Actor: h.getGenerate, OkSafeMode: true,
			Usage: `getgenerate`},
		{Name: "setgenerate", Actor: h.setGenerate, OkSafeMode: true,
			ThreadSafe: true,
			Usage:      `setgenerate generate ( genproclimit )`},
		{Name: "gethashespersec", Actor: h.getHashesPerSec, OkSafeMode: true,
			Usage: `gethashespersec`},
		{Name: "getwork", Actor: h.getWork, OkSafeMode: true, ReqWallet: true,
			Usage: `getwork ( "data" )`},
	}
}

// decodeAddress parses an address for the wallet's network.
func decodeAddress(w *wallet.Wallet, s string) (btcutil.Address, error) {
	addr, err := w.DecodeAddress(s)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	return addr, nil
}

// getNewAddress handles a getnewaddress request by returning a new
// address from the key pool labelled with the given account.
func getNewAddress(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 1, `getnewaddress ( "account" )`); err != nil {
		return nil, err
	}
	account, err := p.string(0, "account", "")
	if err != nil {
		return nil, err
	}
	addr, err := w.NewAddress(account)
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// getAccountAddress handles a getaccountaddress by returning the current
// receiving address of an account.
func getAccountAddress(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `getaccountaddress "account"`); err != nil {
		return nil, err
	}
	account, err := p.string(0, "account", "")
	if err != nil {
		return nil, err
	}
	addr, err := w.AccountAddress(account, false)
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// getRawChangeAddress handles a getrawchangeaddress request by returning
// a new change address.
func getRawChangeAddress(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 0, `getrawchangeaddress`); err != nil {
		return nil, err
	}
	addr, err := w.NewChangeAddress()
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// setAccount handles a setaccount request by labelling one of the wallet's
// addresses with an account.
func setAccount(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(2, 2, `setaccount "bitcoinaddress" "account"`); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	account, err := p.string(1, "account", "")
	if err != nil {
		return nil, err
	}
	addr, err := decodeAddress(w, encoded)
	if err != nil {
		return nil, err
	}
	if !w.HaveAddress(addr) {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc,
			"setaccount can only be used with own address")
	}
	return nil, w.SetAccount(addr, account)
}

// getAccount handles a getaccount request by returning the account an
// address is labelled with.
func getAccount(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `getaccount "bitcoinaddress"`); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	addr, err := decodeAddress(w, encoded)
	if err != nil {
		return nil, err
	}
	return w.Account(addr), nil
}

// getAddressesByAccount handles a getaddressesbyaccount request by
// returning all addresses labelled with an account.
func getAddressesByAccount(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `getaddressesbyaccount "account"`); err != nil {
		return nil, err
	}
	account, err := p.string(0, "account", "")
	if err != nil {
		return nil, err
	}
	addrs, err := w.AddressesByAccount(account)
	if err != nil {
		return nil, err
	}
	if addrs == nil {
		addrs = []string{}
	}
	return addrs, nil
}

// sendToAddress handles a sendtoaddress request by paying an amount to one
// address from the default account.
func sendToAddress(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `sendtoaddress "bitcoinaddress" amount ( "comment" "comment-to" )`
	if err := p.checkCount(2, 4, usage); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	addr, err := decodeAddress(w, encoded)
	if err != nil {
		return nil, err
	}
	amt, err := p.amount(1, "amount")
	if err != nil {
		return nil, err
	}
	if amt <= 0 {
		return nil, ErrNeedPositiveAmount
	}
	comment, err := p.string(2, "comment", "")
	if err != nil {
		return nil, err
	}
	commentTo, err := p.string(3, "comment-to", "")
	if err != nil {
		return nil, err
	}

	hash, err := w.SendToAddress(addr, amt, comment, commentTo)
	if err != nil {
		return nil, err
	}
	return hash.String(), nil
}

// sendFrom handles a sendfrom request by paying an amount to one address,
// debiting an account that must cover it.
func sendFrom(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `sendfrom "fromaccount" "tobitcoinaddress" amount ( minconf "comment" "comment-to" )`
	if err := p.checkCount(3, 6, usage); err != nil {
		return nil, err
	}
	account, err := p.string(0, "fromaccount", "")
	if err != nil {
		return nil, err
	}
	encoded, err := p.string(1, "tobitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	if _, err := decodeAddress(w, encoded); err != nil {
		return nil, err
	}
	amt, err := p.amount(2, "amount")
	if err != nil {
		return nil, err
	}
	if amt <= 0 {
		return nil, ErrNeedPositiveAmount
	}
	minconf, err := p.minconf(3, 1)
	if err != nil {
		return nil, err
	}
	comment, err := p.string(4, "comment", "")
	if err != nil {
		return nil, err
	}
	commentTo, err := p.string(5, "comment-to", "")
	if err != nil {
		return nil, err
	}

	hash, err := w.Send(&wallet.SendRequest{
		Outputs:      map[string]btcutil.Amount{encoded: amt},
		Account:      account,
		CheckAccount: true,
		MinConf:      minconf,
		Comment:      comment,
		CommentTo:    commentTo,
	})
	if err != nil {
		return nil, err
	}
	return hash.String(), nil
}

// sendMany handles a sendmany request by paying several addresses in one
// transaction, debiting an account that must cover it.
func sendMany(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `sendmany "fromaccount" {"address":amount,...} ( minconf "comment" )`
	if err := p.checkCount(2, 4, usage); err != nil {
		return nil, err
	}
	account, err := p.string(0, "fromaccount", "")
	if err != nil {
		return nil, err
	}
	var amounts map[string]float64
	if err := p.decode(1, "amounts", &amounts); err != nil {
		return nil, err
	}
	minconf, err := p.minconf(2, 1)
	if err != nil {
		return nil, err
	}
	comment, err := p.string(3, "comment", "")
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]btcutil.Amount, len(amounts))
	for encoded, f := range amounts {
		if _, err := decodeAddress(w, encoded); err != nil {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
				"Invalid Bitcoin address: "+encoded)
		}
		amt, err := parseAmount(f)
		if err != nil {
			return nil, err
		}
		if amt <= 0 {
			return nil, ErrNeedPositiveAmount
		}
		outputs[encoded] = amt
	}

	hash, err := w.Send(&wallet.SendRequest{
		Outputs:      outputs,
		Account:      account,
		CheckAccount: true,
		MinConf:      minconf,
		Comment:      comment,
	})
	if err != nil {
		return nil, err
	}
	return hash.String(), nil
}

// getReceivedByAddress handles a getreceivedbyaddress request by returning
// the total amount received by a wallet address.
func getReceivedByAddress(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `getreceivedbyaddress "bitcoinaddress" ( minconf )`
	if err := p.checkCount(1, 2, usage); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	addr, err := decodeAddress(w, encoded)
	if err != nil {
		return nil, err
	}
	minconf, err := p.minconf(1, 1)
	if err != nil {
		return nil, err
	}
	if !w.HaveAddress(addr) {
		return 0.0, nil
	}
	amt, err := w.ReceivedByAddress(addr, minconf)
	if err != nil {
		return nil, err
	}
	return amt.ToBTC(), nil
}

// getReceivedByAccount handles a getreceivedbyaccount request by returning
// the total amount received by the addresses of an account.
func getReceivedByAccount(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 2, `getreceivedbyaccount "account" ( minconf )`); err != nil {
		return nil, err
	}
	account, err := p.string(0, "account", "")
	if err != nil {
		return nil, err
	}
	minconf, err := p.minconf(1, 1)
	if err != nil {
		return nil, err
	}
	amt, err := w.ReceivedByAccount(account, minconf)
	if err != nil {
		return nil, err
	}
	return amt.ToBTC(), nil
}

// listReceivedByAddress handles a listreceivedbyaddress request by
// returning the amounts received by each wallet address.
func listReceivedByAddress(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `listreceivedbyaddress ( minconf includeempty )`
	if err := p.checkCount(0, 2, usage); err != nil {
		return nil, err
	}
	minconf, err := p.minconf(0, 1)
	if err != nil {
		return nil, err
	}
	includeEmpty, err := p.bool(1, "includeempty", false)
	if err != nil {
		return nil, err
	}

	rows, err := w.ListReceivedByAddress(minconf, includeEmpty)
	if err != nil {
		return nil, err
	}
	results := make([]ListReceivedByAddressResult, 0, len(rows))
	for _, r := range rows {
		txids := r.TxIDs
		if txids == nil {
			txids = []string{}
		}
		results = append(results, ListReceivedByAddressResult{
			Address:       r.Address,
			Account:       r.Account,
			Amount:        r.Amount.ToBTC(),
			Confirmations: r.Confirmations,
			TxIDs:         txids,
		})
	}
	return results, nil
}

// listReceivedByAccount handles a listreceivedbyaccount request by
// returning the amounts received by each account.
func listReceivedByAccount(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `listreceivedbyaccount ( minconf includeempty )`
	if err := p.checkCount(0, 2, usage); err != nil {
		return nil, err
	}
	minconf, err := p.minconf(0, 1)
	if err != nil {
		return nil, err
	}
	includeEmpty, err := p.bool(1, "includeempty", false)
	if err != nil {
		return nil, err
	}

	rows, err := w.ListReceivedByAccount(minconf, includeEmpty)
	if err != nil {
		return nil, err
	}
	results := make([]ListReceivedByAccountResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, ListReceivedByAccountResult{
			Account:       r.Account,
			Amount:        r.Amount.ToBTC(),
			Confirmations: r.Confirmations,
		})
	}
	return results, nil
}

// backupWallet handles a backupwallet request by copying the wallet
// database to a file or directory.
func (h *Handlers) backupWallet(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `backupwallet "destination"`); err != nil {
		return nil, err
	}
	dest, err := p.string(0, "destination", "")
	if err != nil {
		return nil, err
	}
	fileName := h.WalletFile
	if fileName == "" {
		fileName = wallet.DefaultWalletFile
	}
	if err := w.BackupWallet(dest, fileName); err != nil {
		log.Errorf("Wallet backup to %s failed: %v", dest, err)
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWallet,
			"Error: Wallet backup failed!")
	}
	return nil, nil
}

// keypoolRefill handles a keypoolrefill request by filling the key pool.
func keypoolRefill(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 1, `keypoolrefill ( newsize )`); err != nil {
		return nil, err
	}
	size, err := p.int(0, "newsize", 0)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, InvalidParameterError{errors.New(
			"Invalid parameter, expected valid size")}
	}
	if err := w.TopUpKeyPool(size); err != nil {
		return nil, err
	}
	if size > 0 && w.KeyPoolSize() < size {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWallet,
			"Error refreshing keypool.")
	}
	return nil, nil
}

// walletPassphrase handles a walletpassphrase request by unlocking the
// wallet for timeout seconds.
func walletPassphrase(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(2, 2, `walletpassphrase "passphrase" timeout`); err != nil {
		return nil, err
	}
	if !w.IsEncrypted() {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWalletWrongEncState,
			"Error: running with an unencrypted wallet, but "+
				"walletpassphrase was called.")
	}
	pass, err := p.string(0, "passphrase", "")
	if err != nil {
		return nil, err
	}
	timeout, err := p.int(1, "timeout", 0)
	if err != nil {
		return nil, err
	}
	if pass == "" {
		return nil, InvalidParameterError{errors.New("passphrase is empty")}
	}
	if timeout <= 0 {
		return nil, InvalidParameterError{errors.New(
			"timeout must be positive")}
	}

	err = w.Unlock([]byte(pass), time.Duration(timeout)*time.Second)
	return nil, err
}

// walletPassphraseChange handles a walletpassphrasechange request by
// re-encrypting the master key under a new passphrase.
func walletPassphraseChange(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `walletpassphrasechange "oldpassphrase" "newpassphrase"`
	if err := p.checkCount(2, 2, usage); err != nil {
		return nil, err
	}
	if !w.IsEncrypted() {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWalletWrongEncState,
			"Error: running with an unencrypted wallet, but "+
				"walletpassphrasechange was called.")
	}
	oldPass, err := p.string(0, "oldpassphrase", "")
	if err != nil {
		return nil, err
	}
	newPass, err := p.string(1, "newpassphrase", "")
	if err != nil {
		return nil, err
	}
	if oldPass == "" || newPass == "" {
		return nil, InvalidParameterError{errors.New("passphrase is empty")}
	}
	return nil, w.ChangePassphrase([]byte(oldPass), []byte(newPass))
}

// walletLock handles a walletlock request by locking the wallet.
func walletLock(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 0, `walletlock`); err != nil {
		return nil, err
	}
	if !w.IsEncrypted() {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWalletWrongEncState,
			"Error: running with an unencrypted wallet, but "+
				"walletlock was called.")
	}
	return nil, w.Lock()
}

// encryptWallet handles an encryptwallet request. The wallet is left
// locked and the node is asked to shut down.
func encryptWallet(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `encryptwallet "passphrase"`); err != nil {
		return nil, err
	}
	if w.IsEncrypted() {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWalletWrongEncState,
			"Error: running with an encrypted wallet, but "+
				"encryptwallet was called.")
	}
	pass, err := p.string(0, "passphrase", "")
	if err != nil {
		return nil, err
	}
	if pass == "" {
		return nil, InvalidParameterError{errors.New("passphrase is empty")}
	}
	if err := w.EncryptWallet([]byte(pass)); err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCWalletEncryptionFailed,
			"Error: Failed to encrypt the wallet: "+err.Error())
	}
	return "wallet encrypted; btcwalletd stopping, restart to run with " +
		"encrypted wallet. The keypool has been flushed and a new HD " +
		"seed was generated, you need to make a new backup.", nil
}

// validateAddress handles a validateaddress request. Wallet details are
// added when a wallet is loaded.
func (h *Handlers) validateAddress(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `validateaddress "bitcoinaddress"`); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}

	result := ValidateAddressResult{}
	addr, err := btcutil.DecodeAddress(encoded, h.ChainParams)
	if err != nil || !addr.IsForNet(h.ChainParams) {
		return result, nil
	}
	result.IsValid = true
	result.Address = addr.EncodeAddress()
	if w == nil {
		return result, nil
	}

	info, err := w.AddressInfo(addr)
	if err != nil {
		return nil, err
	}
	isMine := info.IsMine
	result.IsMine = &isMine
	if info.IsMine {
		result.IsScript = info.IsScript
		result.PubKey = info.PubKey
		result.IsCompressed = info.IsCompressed
	}
	if info.HasAccount {
		result.Account = info.Account
	}
	return result, nil
}

// getBalance handles a getbalance request. Without parameters it returns
// the trusted balance of the wallet; "*" sums all accounts with minconf
// confirmations; any other account returns that account's balance.
func getBalance(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 2, `getbalance ( "account" minconf )`); err != nil {
		return nil, err
	}
	if !p.has(0) {
		bals, err := w.CalculateBalances()
		if err != nil {
			return nil, err
		}
		return bals.Trusted.ToBTC(), nil
	}

	account, err := p.string(0, "account", "")
	if err != nil {
		return nil, err
	}
	minconf, err := p.minconf(1, 1)
	if err != nil {
		return nil, err
	}

	var bal btcutil.Amount
	if account == wallet.AllAccounts {
		bal, err = w.Balance(minconf)
	} else {
		bal, err = w.AccountBalance(account, minconf)
	}
	if err != nil {
		return nil, err
	}
	return bal.ToBTC(), nil
}

// move handles a move request by recording an accounting entry between
// two accounts.
func move(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `move "fromaccount" "toaccount" amount ( minconf "comment" )`
	if err := p.checkCount(3, 5, usage); err != nil {
		return nil, err
	}
	from, err := p.string(0, "fromaccount", "")
	if err != nil {
		return nil, err
	}
	to, err := p.string(1, "toaccount", "")
	if err != nil {
		return nil, err
	}
	amt, err := p.amount(2, "amount")
	if err != nil {
		return nil, err
	}
	if _, err := p.minconf(3, 1); err != nil {
		return nil, err
	}
	comment, err := p.string(4, "comment", "")
	if err != nil {
		return nil, err
	}

	if err := w.Move(from, to, amt, comment); err != nil {
		return nil, err
	}
	return true, nil
}

// addMultiSigAddress handles an addmultisigaddress request by adding a
// multisig address to the wallet.
func addMultiSigAddress(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `addmultisigaddress nrequired ["key",...] ( "account" )`
	if err := p.checkCount(2, 3, usage); err != nil {
		return nil, err
	}
	nRequired, err := p.int(0, "nrequired", 0)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := p.decode(1, "keys", &keys); err != nil {
		return nil, err
	}
	account, err := p.string(2, "account", "")
	if err != nil {
		return nil, err
	}

	addr, err := w.AddMultiSigAddress(nRequired, keys, account)
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// createMultiSig handles a createmultisig request by returning a multisig
// address and its redeem script. Wallet addresses may stand in for public
// keys when a wallet is loaded.
func (h *Handlers) createMultiSig(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(2, 2, `createmultisig nrequired ["key",...]`); err != nil {
		return nil, err
	}
	nRequired, err := p.int(0, "nrequired", 0)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := p.decode(1, "keys", &keys); err != nil {
		return nil, err
	}

	var ms *wallet.MultiSig
	if w != nil {
		ms, err = w.CreateMultiSig(nRequired, keys)
	} else {
		ms, err = wallet.NewMultiSig(h.ChainParams, nRequired, keys, nil)
	}
	if err != nil {
		return nil, err
	}
	return CreateMultiSigResult{
		Address:      ms.Address.EncodeAddress(),
		RedeemScript: hex.EncodeToString(ms.RedeemScript),
	}, nil
}

// getTransaction handles a gettransaction request by returning details
// about a single wallet transaction.
func getTransaction(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `gettransaction "txid"`); err != nil {
		return nil, err
	}
	txid, err := p.string(0, "txid", "")
	if err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, DeserializationError{err}
	}

	d, err := w.TxDetails(hash)
	if err != nil {
		return nil, err
	}
	result := GetTransactionResult{
		Amount:        d.Amount.ToBTC(),
		Confirmations: d.Confirmations,
		Generated:     d.Generated,
		BlockHash:     d.BlockHash,
		BlockTime:     d.BlockTime,
		TxID:          d.TxID,
		Time:          d.Time,
		TimeReceived:  d.TimeReceived,
		Comment:       d.Comment,
		To:            d.To,
		Details:       txEntryResults(d.Details),
		Hex:           d.Hex,
	}
	if d.Fee != nil {
		fee := d.Fee.ToBTC()
		result.Fee = &fee
	}
	return result, nil
}

// listTransactions handles a listtransactions request by returning the
// most recent entries of an account, "*" for all of them.
func listTransactions(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 3, `listtransactions ( "account" count from )`); err != nil {
		return nil, err
	}
	account, err := p.string(0, "account", wallet.AllAccounts)
	if err != nil {
		return nil, err
	}
	count, err := p.int(1, "count", 10)
	if err != nil {
		return nil, err
	}
	from, err := p.int(2, "from", 0)
	if err != nil {
		return nil, err
	}
	if count < 0 || from < 0 {
		return nil, InvalidParameterError{errors.New("Negative count or from")}
	}

	entries, err := w.ListTransactions(account, count, from)
	if err != nil {
		return nil, err
	}
	return txEntryResults(entries), nil
}

// listAddressGroupings handles a listaddressgroupings request. Each entry
// of a grouping is [address, amount] or [address, amount, account].
func listAddressGroupings(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 0, `listaddressgroupings`); err != nil {
		return nil, err
	}
	groups, err := w.AddressGroupings()
	if err != nil {
		return nil, err
	}

	results := make([][][]interface{}, 0, len(groups))
	for _, group := range groups {
		entries := make([][]interface{}, 0, len(group))
		for _, a := range group {
			entry := []interface{}{a.Address, a.Amount.ToBTC()}
			if a.HasAccount {
				entry = append(entry, a.Account)
			}
			entries = append(entries, entry)
		}
		results = append(results, entries)
	}
	return results, nil
}

// signMessage handles a signmessage request by signing a message with the
// key of a wallet address.
func signMessage(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(2, 2, `signmessage "bitcoinaddress" "message"`); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	msg, err := p.string(1, "message", "")
	if err != nil {
		return nil, err
	}
	addr, err := decodeAddress(w, encoded)
	if err != nil {
		return nil, err
	}
	return w.SignMessage(addr, msg)
}

// verifyMessage handles a verifymessage request by checking a message
// signature against an address. No wallet is needed.
func (h *Handlers) verifyMessage(_ *wallet.Wallet, p params) (interface{}, error) {
	const usage = `verifymessage "bitcoinaddress" "signature" "message"`
	if err := p.checkCount(3, 3, usage); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	sig, err := p.string(1, "signature", "")
	if err != nil {
		return nil, err
	}
	msg, err := p.string(2, "message", "")
	if err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(encoded, h.ChainParams)
	if err != nil || !addr.IsForNet(h.ChainParams) {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCType, "Invalid address")
	}
	return wallet.VerifyMessage(addr, sig, msg, h.ChainParams)
}

// listAccounts handles a listaccounts request by returning a map of
// account names to their balances.
func listAccounts(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 1, `listaccounts ( minconf )`); err != nil {
		return nil, err
	}
	minconf, err := p.minconf(0, 1)
	if err != nil {
		return nil, err
	}
	accounts, err := w.ListAccounts(minconf)
	if err != nil {
		return nil, err
	}
	result := make(map[string]float64, len(accounts))
	for name, bal := range accounts {
		result[name] = bal.ToBTC()
	}
	return result, nil
}

// listSinceBlock handles a listsinceblock request by returning the entries
// of transactions mined after a block, or not mined at all.
func (h *Handlers) listSinceBlock(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `listsinceblock ( "blockhash" target-confirmations )`
	if err := p.checkCount(0, 2, usage); err != nil {
		return nil, err
	}
	blockHash, err := p.string(0, "blockhash", "")
	if err != nil {
		return nil, err
	}
	targetConfs, err := p.int(1, "target-confirmations", 1)
	if err != nil {
		return nil, err
	}
	if targetConfs < 1 {
		return nil, InvalidParameterError{errors.New("Invalid parameter")}
	}

	c, _ := h.chainClient()
	sinceHeight := int32(-1)
	if blockHash != "" {
		hash, err := chainhash.NewHashFromStr(blockHash)
		if err != nil {
			return nil, DeserializationError{err}
		}
		if c != nil {
			if height, err := c.BlockHeight(hash); err == nil {
				sinceHeight = height
			}
		}
	}

	entries, err := w.ListSinceBlock(sinceHeight)
	if err != nil {
		return nil, err
	}

	syncHeight, syncHash := w.SyncedTo()
	lastBlock := syncHash.String()
	if targetConfs > 1 {
		lastBlock = ""
		target := int64(syncHeight) + 1 - int64(targetConfs)
		if c != nil && target >= 0 {
			if hash, err := c.GetBlockHash(target); err == nil {
				lastBlock = hash.String()
			}
		}
	}
	if syncHeight < 0 {
		lastBlock = ""
	}

	return ListSinceBlockResult{
		Transactions: txEntryResults(entries),
		LastBlock:    lastBlock,
	}, nil
}

// dumpPrivKey handles a dumpprivkey request by returning the WIF encoded
// private key of a wallet address.
func dumpPrivKey(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `dumpprivkey "bitcoinaddress"`); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinaddress", "")
	if err != nil {
		return nil, err
	}
	addr, err := decodeAddress(w, encoded)
	if err != nil {
		return nil, err
	}
	wif, err := w.DumpPrivKey(addr)
	if err != nil {
		if wallet.IsError(err, wallet.ErrAddressNotFound) {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCWallet,
				fmt.Sprintf("Private key for address %s is not known",
					encoded))
		}
		return nil, err
	}
	return wif.String(), nil
}

// dumpWallet handles a dumpwallet request by writing every wallet key to
// a text file.
func (h *Handlers) dumpWallet(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `dumpwallet "filename"`); err != nil {
		return nil, err
	}
	fileName, err := p.string(0, "filename", "")
	if err != nil {
		return nil, err
	}
	if err := w.EnsureUnlocked(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, InvalidParameterError{errors.New(
			"Cannot open wallet dump file")}
	}
	if err := w.DumpWallet(f, h.Version); err != nil {
		f.Close()
		return nil, err
	}
	return nil, f.Close()
}

// importPrivKey handles an importprivkey request by adding a WIF encoded
// key to the wallet. Unless rescan is false, the chain is rescanned for
// the key's transactions.
func (h *Handlers) importPrivKey(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `importprivkey "bitcoinprivkey" ( "label" rescan )`
	if err := p.checkCount(1, 3, usage); err != nil {
		return nil, err
	}
	encoded, err := p.string(0, "bitcoinprivkey", "")
	if err != nil {
		return nil, err
	}
	label, err := p.string(1, "label", "")
	if err != nil {
		return nil, err
	}
	rescan, err := p.bool(2, "rescan", true)
	if err != nil {
		return nil, err
	}

	wif, err := btcutil.DecodeWIF(encoded)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
			"Invalid private key encoding")
	}

	// The key's birthday is unknown, so a rescan starts at genesis.
	_, err = w.ImportPrivKey(wif, label, time.Unix(1, 0))
	switch {
	case wallet.IsError(err, wallet.ErrDuplicate):
		return nil, nil
	case err != nil:
		return nil, err
	}

	if rescan && h.Rescan != nil {
		h.Rescan(w, time.Time{})
	}
	return nil, nil
}

// importWallet handles an importwallet request by importing the keys of a
// wallet dump and rescanning from the oldest key's birthday.
func (h *Handlers) importWallet(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(1, 1, `importwallet "filename"`); err != nil {
		return nil, err
	}
	fileName, err := p.string(0, "filename", "")
	if err != nil {
		return nil, err
	}
	if err := w.EnsureUnlocked(); err != nil {
		return nil, err
	}

	f, err := os.Open(fileName)
	if err != nil {
		return nil, InvalidParameterError{errors.New(
			"Cannot open wallet dump file")}
	}
	defer f.Close()

	n, oldest, err := w.ImportWallet(f)
	if err != nil {
		return nil, err
	}
	log.Infof("Imported %d keys from %s", n, fileName)
	if n > 0 && h.Rescan != nil {
		h.Rescan(w, oldest)
	}
	return nil, nil
}

// listUnspent handles a listunspent request by returning the spendable
// outputs with between minconf and maxconf confirmations.
func listUnspent(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `listunspent ( minconf maxconf ["address",...] )`
	if err := p.checkCount(0, 3, usage); err != nil {
		return nil, err
	}
	minconf, err := p.minconf(0, 1)
	if err != nil {
		return nil, err
	}
	maxconf, err := p.minconf(1, 9999999)
	if err != nil {
		return nil, err
	}

	var filter map[string]struct{}
	if p.has(2) {
		var addrs []string
		if err := p.decode(2, "addresses", &addrs); err != nil {
			return nil, err
		}
		filter = make(map[string]struct{}, len(addrs))
		for _, encoded := range addrs {
			if _, err := decodeAddress(w, encoded); err != nil {
				return nil, btcjson.NewRPCError(
					btcjson.ErrRPCInvalidAddressOrKey,
					"Invalid Bitcoin address: "+encoded)
			}
			if _, ok := filter[encoded]; ok {
				return nil, InvalidParameterError{fmt.Errorf(
					"Invalid parameter, duplicated address: %s",
					encoded)}
			}
			filter[encoded] = struct{}{}
		}
	}

	unspent, err := w.ListUnspent(minconf, maxconf, filter)
	if err != nil {
		return nil, err
	}
	results := make([]ListUnspentResult, 0, len(unspent))
	for _, u := range unspent {
		r := ListUnspentResult{
			TxID:          u.OutPoint.Hash.String(),
			Vout:          u.OutPoint.Index,
			Address:       u.Address,
			ScriptPubKey:  hex.EncodeToString(u.PkScript),
			Amount:        u.Amount.ToBTC(),
			Confirmations: u.Confirmations,
		}
		if u.HasAccount {
			r.Account = u.Account
		}
		if len(u.RedeemScript) > 0 {
			r.RedeemScript = hex.EncodeToString(u.RedeemScript)
		}
		results = append(results, r)
	}
	return results, nil
}

// lockUnspent handles a lockunspent request by locking or unlocking
// outputs. unlock without a list unlocks every output.
func lockUnspent(w *wallet.Wallet, p params) (interface{}, error) {
	const usage = `lockunspent unlock [{"txid":"txid","vout":n},...]`
	if err := p.checkCount(1, 2, usage); err != nil {
		return nil, err
	}
	unlock, err := p.bool(0, "unlock", false)
	if err != nil {
		return nil, err
	}
	if !p.has(1) {
		if unlock {
			w.ResetLockedOutpoints()
		}
		return true, nil
	}

	var inputs []TransactionInput
	if err := p.decode(1, "transactions", &inputs); err != nil {
		return nil, err
	}
	ops := make([]wire.OutPoint, 0, len(inputs))
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, InvalidParameterError{errors.New(
				"Invalid parameter, expected hex txid")}
		}
		ops = append(ops, wire.OutPoint{Hash: *hash, Index: in.Vout})
	}
	for _, op := range ops {
		if unlock {
			w.UnlockOutpoint(op)
		} else {
			w.LockOutpoint(op)
		}
	}
	return true, nil
}

// listLockUnspent handles a listlockunspent request by returning the
// locked outputs.
func listLockUnspent(w *wallet.Wallet, p params) (interface{}, error) {
	if err := p.checkCount(0, 0, `listlockunspent`); err != nil {
		return nil, err
	}
	ops := w.LockedOutpoints()
	results := make([]TransactionInput, 0, len(ops))
	for _, op := range ops {
		results = append(results, TransactionInput{
			Txid: op.Hash.String(),
			Vout: op.Index,
		})
	}
	return results, nil
}

// getGenerate handles a getgenerate request by asking the chain backend
// whether it is mining.
func (h *Handlers) getGenerate(p []json.RawMessage) (interface{}, error) {
	if err := params(p).checkCount(0, 0, `getgenerate`); err != nil {
		return nil, err
	}
	c, err := h.chainClient()
	if err != nil {
		return nil, err
	}
	return c.GetGenerate()
}

// setGenerate handles a setgenerate request by turning mining on the chain
// backend on or off. A genproclimit of 0 turns it off.
func (h *Handlers) setGenerate(p []json.RawMessage) (interface{}, error) {
	ps := params(p)
	if err := ps.checkCount(1, 2, `setgenerate generate ( genproclimit )`); err != nil {
		return nil, err
	}
	generate, err := ps.bool(0, "generate", false)
	if err != nil {
		return nil, err
	}
	limit, err := ps.int(1, "genproclimit", -1)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		generate = false
	}
	c, err := h.chainClient()
	if err != nil {
		return nil, err
	}
	return nil, c.SetGenerate(generate, limit)
}

// getHashesPerSec handles a gethashespersec request.
func (h *Handlers) getHashesPerSec(p []json.RawMessage) (interface{}, error) {
	if err := params(p).checkCount(0, 0, `gethashespersec`); err != nil {
		return nil, err
	}
	c, err := h.chainClient()
	if err != nil {
		return nil, err
	}
	return c.GetHashesPerSec()
}

// getWork handles a getwork request by passing it through to the chain
// backend.
func (h *Handlers) getWork(p []json.RawMessage) (interface{}, error) {
	if err := params(p).checkCount(0, 1, `getwork ( "data" )`); err != nil {
		return nil, err
	}
	c, err := h.chainClient()
	if err != nil {
		return nil, err
	}
	result, err := c.RawRequest("getwork", p)
	if err != nil {
		return nil, err
	}
	return result, nil
}
