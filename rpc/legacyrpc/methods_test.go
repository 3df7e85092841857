package legacyrpc

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/wallet"
	"github.com/stretchr/testify/require"
)

func TestCommandFlags(t *testing.T) {
	type flags struct{ okSafeMode, threadSafe, reqWallet bool }
	want := map[string]flags{
		"getnewaddress":          {true, false, true},
		"getaccountaddress":      {true, false, true},
		"getrawchangeaddress":    {true, false, true},
		"setaccount":             {true, false, true},
		"getaccount":             {false, false, true},
		"getaddressesbyaccount":  {true, false, true},
		"sendtoaddress":          {false, false, true},
		"getreceivedbyaddress":   {false, false, true},
		"getreceivedbyaccount":   {false, false, true},
		"listreceivedbyaddress":  {false, false, true},
		"listreceivedbyaccount":  {false, false, true},
		"backupwallet":           {true, false, true},
		"keypoolrefill":          {true, false, true},
		"walletpassphrase":       {true, false, true},
		"walletpassphrasechange": {false, false, true},
		"walletlock":             {true, false, true},
		"encryptwallet":          {false, false, true},
		"validateaddress":        {true, false, false},
		"getbalance":             {false, false, true},
		"move":                   {false, false, true},
		"sendfrom":               {false, false, true},
		"sendmany":               {false, false, true},
		"addmultisigaddress":     {false, false, true},
		"createmultisig":         {true, true, false},
		"gettransaction":         {false, false, true},
		"listtransactions":       {false, false, true},
		"listaddressgroupings":   {false, false, true},
		"signmessage":            {false, false, true},
		"verifymessage":          {false, false, false},
		"listaccounts":           {false, false, true},
		"listsinceblock":         {false, false, true},
		"dumpprivkey":            {true, false, true},
		"dumpwallet":             {true, false, true},
		"importprivkey":          {false, false, true},
		"importwallet":           {false, false, true},
		"listunspent":            {false, false, true},
		"lockunspent":            {false, false, true},
		"listlockunspent":        {false, false, true},
		"getgenerate":            {true, false, false},
		"setgenerate":            {true, true, false},
		"gethashespersec":        {true, false, false},
		"getwork":                {true, false, true},
	}

	h := newHarness(t, nil)
	require.Len(t, h.table.Names(), len(want))
	for name, f := range want {
		cmd, ok := h.table.Lookup(name)
		require.True(t, ok, name)
		got := flags{cmd.OkSafeMode, cmd.ThreadSafe, cmd.ReqWallet}
		require.Equal(t, f, got, name)
		require.True(t, strings.HasPrefix(cmd.Usage, name), name)
	}
}

func TestNoWalletLoaded(t *testing.T) {
	h := newHarness(t, nil)
	h.wallet = nil

	rpcErr := h.requireCode(t, btcjson.ErrRPCMethodNotFound.Code, "getnewaddress")
	require.Equal(t, "Method not found (disabled)", rpcErr.Message)

	// Commands that do not need a wallet still work.
	result := h.mustCall(t, "validateaddress", externalAddress(t))
	v := result.(ValidateAddressResult)
	require.True(t, v.IsValid)
	require.Nil(t, v.IsMine)

	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	keys := []string{
		hex.EncodeToString(priv1.PubKey().SerializeCompressed()),
		hex.EncodeToString(priv2.PubKey().SerializeCompressed()),
	}
	result = h.mustCall(t, "createmultisig", 2, keys)
	ms := result.(CreateMultiSigResult)
	require.NotEmpty(t, ms.Address)
	require.NotEmpty(t, ms.RedeemScript)
}

func TestAddressCommands(t *testing.T) {
	h := newHarness(t, nil)

	encoded := h.mustCall(t, "getnewaddress", "bills").(string)
	require.Equal(t, "bills", h.mustCall(t, "getaccount", encoded))
	require.Equal(t, []string{encoded},
		h.mustCall(t, "getaddressesbyaccount", "bills"))
	require.Equal(t, []string{},
		h.mustCall(t, "getaddressesbyaccount", "nobody"))

	h.mustCall(t, "setaccount", encoded, "rent")
	require.Equal(t, "rent", h.mustCall(t, "getaccount", encoded))

	h.requireCode(t, btcjson.ErrRPCMisc, "setaccount", externalAddress(t), "x")
	h.requireCode(t, btcjson.ErrRPCInvalidAddressOrKey, "getaccount", "bogus")
	h.requireCode(t, btcjson.ErrRPCWalletInvalidAccountName,
		"getaccountaddress", "*")
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "getaccount")
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "getnewaddress", 5)

	acctAddr := h.mustCall(t, "getaccountaddress", "savings").(string)
	require.Equal(t, acctAddr, h.mustCall(t, "getaccountaddress", "savings"))

	change := h.mustCall(t, "getrawchangeaddress").(string)
	require.NotEqual(t, acctAddr, change)

	v := h.mustCall(t, "validateaddress", encoded).(ValidateAddressResult)
	require.True(t, v.IsValid)
	require.True(t, *v.IsMine)
	require.True(t, v.IsCompressed)
	require.Equal(t, "rent", v.Account)
	require.NotEmpty(t, v.PubKey)

	v = h.mustCall(t, "validateaddress", "bogus").(ValidateAddressResult)
	require.False(t, v.IsValid)
	require.Empty(t, v.Address)

	v = h.mustCall(t, "validateaddress", externalAddress(t)).(ValidateAddressResult)
	require.True(t, v.IsValid)
	require.False(t, *v.IsMine)

	h.mustCall(t, "keypoolrefill", 8)
	require.Equal(t, 8, h.wallet.KeyPoolSize())
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "keypoolrefill", -1)
}

func TestEncryptionCommands(t *testing.T) {
	h := newHarness(t, nil)

	var shutdown bool
	h.wallet.OnShutdownRequest(func() { shutdown = true })

	h.requireCode(t, btcjson.ErrRPCWalletWrongEncState, "walletlock")
	h.requireCode(t, btcjson.ErrRPCWalletWrongEncState, "walletpassphrase",
		"pass", 60)
	h.requireCode(t, btcjson.ErrRPCWalletWrongEncState,
		"walletpassphrasechange", "a", "b")

	result := h.mustCall(t, "encryptwallet", "pass")
	require.Contains(t, result, "wallet encrypted")
	require.Contains(t, result, "new HD seed")
	require.True(t, shutdown)
	require.True(t, h.wallet.IsLocked())

	h.requireCode(t, btcjson.ErrRPCWalletWrongEncState, "encryptwallet", "x")

	addr := h.mustCall(t, "getnewaddress").(string)
	h.requireCode(t, btcjson.ErrRPCWalletUnlockNeeded, "dumpprivkey", addr)
	h.requireCode(t, btcjson.ErrRPCWalletUnlockNeeded, "signmessage", addr, "hi")

	h.requireCode(t, btcjson.ErrRPCWalletPassphraseIncorrect,
		"walletpassphrase", "wrong", 60)
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "walletpassphrase",
		"pass", 0)

	h.mustCall(t, "walletpassphrase", "pass", 60)
	require.False(t, h.wallet.IsLocked())
	wif := h.mustCall(t, "dumpprivkey", addr).(string)
	require.NotEmpty(t, wif)

	h.mustCall(t, "walletlock")
	require.True(t, h.wallet.IsLocked())

	h.requireCode(t, btcjson.ErrRPCWalletPassphraseIncorrect,
		"walletpassphrasechange", "wrong", "new")
	h.mustCall(t, "walletpassphrasechange", "pass", "new")
	h.mustCall(t, "walletpassphrase", "new", 60)
}

func TestSendCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, "", btcutil.SatoshiPerBitcoin)
	dest := externalAddress(t)

	require.Equal(t, 1.0, h.mustCall(t, "getbalance"))
	require.Equal(t, 1.0, h.mustCall(t, "getbalance", "*"))
	require.Equal(t, 1.0, h.mustCall(t, "getbalance", ""))
	require.Equal(t, 0.0, h.mustCall(t, "getbalance", "", 2))

	h.requireCode(t, btcjson.ErrRPCType, "sendtoaddress", dest, -1)
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "sendtoaddress", dest, 0)
	h.requireCode(t, btcjson.ErrRPCInvalidAddressOrKey, "sendtoaddress",
		"bogus", 0.1)

	txid := h.mustCall(t, "sendtoaddress", dest, 0.1, "rent", "landlord").(string)
	require.Len(t, h.chain.Sent(), 1)

	tx := h.mustCall(t, "gettransaction", txid).(GetTransactionResult)
	require.Equal(t, txid, tx.TxID)
	require.InDelta(t, -0.1, tx.Amount, 1e-9)
	require.NotNil(t, tx.Fee)
	require.InDelta(t, -0.0001, *tx.Fee, 1e-9)
	require.Equal(t, "rent", tx.Comment)
	require.NotEmpty(t, tx.Hex)

	h.requireCode(t, btcjson.ErrRPCDeserialization, "gettransaction", "zz")
	h.requireCode(t, btcjson.ErrRPCInvalidAddressOrKey, "gettransaction",
		strings.Repeat("00", 32))

	h.requireCode(t, btcjson.ErrRPCWalletInsufficientFunds, "sendfrom",
		"empty", dest, 0.01)
	h.requireCode(t, btcjson.ErrRPCWalletInsufficientFunds, "sendmany",
		"empty", map[string]float64{dest: 0.01})
	h.requireCode(t, btcjson.ErrRPCInvalidAddressOrKey, "sendmany",
		"", map[string]float64{"bogus": 0.01})

	entries := h.mustCall(t, "listtransactions").([]ListTransactionsResult)
	require.Len(t, entries, 2)
	require.Equal(t, "receive", entries[0].Category)
	require.Equal(t, "send", entries[1].Category)
	require.Equal(t, dest, entries[1].Address)
	require.NotNil(t, entries[1].Fee)

	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "listtransactions",
		"*", -1)

	unspent := h.mustCall(t, "listunspent", 0).([]ListUnspentResult)
	require.Len(t, unspent, 1)
	require.Equal(t, txid, unspent[0].TxID)

	require.Equal(t, true, h.mustCall(t, "lockunspent", false,
		[]TransactionInput{{Txid: txid, Vout: unspent[0].Vout}}))
	locked := h.mustCall(t, "listlockunspent").([]TransactionInput)
	require.Len(t, locked, 1)
	require.Empty(t, h.mustCall(t, "listunspent", 0))

	require.Equal(t, true, h.mustCall(t, "lockunspent", true))
	require.Empty(t, h.mustCall(t, "listlockunspent"))

	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "lockunspent", false,
		[]TransactionInput{{Txid: "zz"}})
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "listunspent", 0,
		9999999, []string{dest, dest})
}

func TestAccountCommands(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.fund(t, "savings", 50000000)

	require.Equal(t, 0.5, h.mustCall(t, "getreceivedbyaddress",
		addr.EncodeAddress()))
	require.Equal(t, 0.0, h.mustCall(t, "getreceivedbyaddress",
		externalAddress(t)))
	require.Equal(t, 0.5, h.mustCall(t, "getreceivedbyaccount", "savings"))
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "getreceivedbyaccount",
		"savings", -1)

	require.Equal(t, true, h.mustCall(t, "move", "savings", "rent", 0.2,
		1, "march"))
	accounts := h.mustCall(t, "listaccounts").(map[string]float64)
	require.InDelta(t, 0.3, accounts["savings"], 1e-9)
	require.InDelta(t, 0.2, accounts["rent"], 1e-9)

	moves := h.mustCall(t, "listtransactions", "rent").([]ListTransactionsResult)
	require.Len(t, moves, 1)
	require.Equal(t, "move", moves[0].Category)
	require.Equal(t, "savings", moves[0].OtherAccount)
	require.Nil(t, moves[0].Confirmations)

	byAddr := h.mustCall(t, "listreceivedbyaddress").([]ListReceivedByAddressResult)
	require.Len(t, byAddr, 1)
	require.Equal(t, "savings", byAddr[0].Account)

	byAcct := h.mustCall(t, "listreceivedbyaccount", 1, true).([]ListReceivedByAccountResult)
	require.NotEmpty(t, byAcct)

	groups := h.mustCall(t, "listaddressgroupings").([][][]interface{})
	require.Len(t, groups, 1)
	require.Equal(t, addr.EncodeAddress(), groups[0][0][0])

	since := h.mustCall(t, "listsinceblock").(ListSinceBlockResult)
	require.Len(t, since.Transactions, 1)
	_, syncHash := h.wallet.SyncedTo()
	require.Equal(t, syncHash.String(), since.LastBlock)

	since = h.mustCall(t, "listsinceblock", syncHash.String()).(ListSinceBlockResult)
	require.Empty(t, since.Transactions)
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "listsinceblock",
		syncHash.String(), 0)
}

func TestMessageCommands(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.mustCall(t, "getnewaddress").(string)

	sig := h.mustCall(t, "signmessage", addr, "hello").(string)
	require.Equal(t, true, h.mustCall(t, "verifymessage", addr, sig, "hello"))
	require.Equal(t, false, h.mustCall(t, "verifymessage", addr, sig, "bye"))
	h.requireCode(t, btcjson.ErrRPCType, "verifymessage", "bogus", sig, "x")

	other := h.mustCall(t, "getnewaddress").(string)
	ms := h.mustCall(t, "addmultisigaddress", 2, []string{addr, other},
		"joint").(string)
	require.Equal(t, "joint", h.mustCall(t, "getaccount", ms))

	created := h.mustCall(t, "createmultisig", 2,
		[]string{addr, other}).(CreateMultiSigResult)
	require.Equal(t, ms, created.Address)

	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "createmultisig", 3,
		[]string{addr, other})
}

func TestDumpImportCommands(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()

	addr := h.mustCall(t, "getnewaddress", "dumped").(string)
	dumpFile := filepath.Join(dir, "dump.txt")
	h.mustCall(t, "dumpwallet", dumpFile)
	text, err := os.ReadFile(dumpFile)
	require.NoError(t, err)
	require.Contains(t, string(text), "btcwalletd 0.1.0")
	require.Contains(t, string(text), addr)

	h.mustCall(t, "backupwallet", dir)
	_, err = os.Stat(filepath.Join(dir, wallet.DefaultWalletFile))
	require.NoError(t, err)
	h.requireCode(t, btcjson.ErrRPCWallet, "backupwallet",
		filepath.Join(dir, "missing", "x.db"))

	h.requireCode(t, btcjson.ErrRPCWallet, "dumpprivkey", externalAddress(t))
	h.requireCode(t, btcjson.ErrRPCInvalidAddressOrKey, "importprivkey", "bogus")
	h.requireCode(t, btcjson.ErrRPCInvalidParameter, "importwallet",
		filepath.Join(dir, "missing.txt"))

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, testParams, true)
	require.NoError(t, err)

	h.mustCall(t, "importprivkey", wif.String(), "imported")
	require.Len(t, h.rescans, 1)
	h.mustCall(t, "importprivkey", wif.String(), "imported", false)
	require.Len(t, h.rescans, 1)

	imported := h.mustCall(t, "getaddressesbyaccount", "imported").([]string)
	require.Len(t, imported, 1)

	other := newHarness(t, nil)
	other.mustCall(t, "importwallet", dumpFile)
	require.Len(t, other.rescans, 1)
	require.Equal(t, "dumped", other.mustCall(t, "getaccount", addr))
}

func TestMiningCommands(t *testing.T) {
	h := newHarness(t, nil)

	require.Equal(t, false, h.mustCall(t, "getgenerate"))
	h.mustCall(t, "setgenerate", true, 2)
	require.True(t, h.chain.Generate)
	require.Equal(t, 2, h.chain.GenThreads)
	require.Equal(t, true, h.mustCall(t, "getgenerate"))

	h.mustCall(t, "setgenerate", true, 0)
	require.False(t, h.chain.Generate)

	h.chain.HashesPerS = 1234
	require.Equal(t, int64(1234), h.mustCall(t, "gethashespersec"))

	h.chain.Raw["getwork"] = map[string]string{"data": "00"}
	work := h.mustCall(t, "getwork").(json.RawMessage)
	require.JSONEq(t, `{"data":"00"}`, string(work))

	h.chain = nil
	h.requireCode(t, btcjson.ErrRPCClientNotConnected, "getgenerate")
}

func TestChainInterfaceNil(t *testing.T) {
	handlers := &Handlers{ChainParams: testParams}
	_, err := handlers.chainClient()
	require.Error(t, err)

	handlers.Chain = func() chain.Interface { return nil }
	_, err = handlers.chainClient()
	require.Error(t, err)
}
