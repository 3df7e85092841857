package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/chain/chaintest"
	"github.com/stretchr/testify/require"
)

func TestReceiveAndConfirm(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	addr, err := w.NewAddress("savings")
	require.NoError(t, err)

	tx := fundingTx(t, addr, 2*btcutil.SatoshiPerBitcoin)
	relevant, err := w.AddRelevantTx(tx, nil)
	require.NoError(t, err)
	require.True(t, relevant)

	bals, err := w.CalculateBalances()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(2*btcutil.SatoshiPerBitcoin), bals.Unconfirmed)
	require.Zero(t, bals.Trusted)

	bal, err := w.Balance(1)
	require.NoError(t, err)
	require.Zero(t, bal)

	block := c.AddBlock(tx)
	_, err = w.AddRelevantTx(tx, block)
	require.NoError(t, err)
	require.NoError(t, w.SetSyncedTo(block.Height, block.Hash))

	bal, err = w.Balance(1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(2*btcutil.SatoshiPerBitcoin), bal)

	acctBal, err := w.AccountBalance("savings", 1)
	require.NoError(t, err)
	require.Equal(t, bal, acctBal)

	acctBal, err = w.AccountBalance("", 1)
	require.NoError(t, err)
	require.Zero(t, acctBal)

	received, err := w.ReceivedByAddress(addr, 1)
	require.NoError(t, err)
	require.Equal(t, bal, received)

	received, err = w.ReceivedByAccount("savings", 2)
	require.NoError(t, err)
	require.Zero(t, received)

	details, err := w.TxDetails(&block.Hash)
	require.True(t, IsError(err, ErrTxNotFound))
	require.Nil(t, details)

	hash := tx.TxHash()
	details, err = w.TxDetails(&hash)
	require.NoError(t, err)
	require.Equal(t, bal, details.Amount)
	require.Nil(t, details.Fee)
	require.Equal(t, int32(1), details.Confirmations)
	require.Equal(t, block.Hash.String(), details.BlockHash)
	require.Len(t, details.Details, 1)
	require.Equal(t, "receive", details.Details[0].Category)
	require.Equal(t, "savings", details.Details[0].Account)
}

func TestIrrelevantTx(t *testing.T) {
	w := newTestWallet(t)

	relevant, err := w.AddRelevantTx(fundingTx(t, externalAddress(t), 1000), nil)
	require.NoError(t, err)
	require.False(t, relevant)

	stats, err := w.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.Transactions)
}

func TestImmatureCoinbase(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	addr, err := w.DefaultAddress()
	require.NoError(t, err)

	cb := coinbaseTx(t, addr, 50*btcutil.SatoshiPerBitcoin)
	block := c.AddBlock(cb)
	_, err = w.AddRelevantTx(cb, block)
	require.NoError(t, err)
	require.NoError(t, w.SetSyncedTo(block.Height, block.Hash))

	bals, err := w.CalculateBalances()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50*btcutil.SatoshiPerBitcoin), bals.Immature)
	require.Zero(t, bals.Trusted)

	entries, err := w.ListTransactions(AllAccounts, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "immature", entries[0].Category)
	require.True(t, entries[0].Generated)

	// Mature after CoinbaseMaturity more blocks.
	height := block.Height + int32(testParams.CoinbaseMaturity)
	require.NoError(t, w.SetSyncedTo(height, block.Hash))

	bals, err = w.CalculateBalances()
	require.NoError(t, err)
	require.Zero(t, bals.Immature)
	require.Equal(t, btcutil.Amount(50*btcutil.SatoshiPerBitcoin), bals.Trusted)

	entries, err = w.ListTransactions(AllAccounts, 10, 0)
	require.NoError(t, err)
	require.Equal(t, "generate", entries[0].Category)

	// Coinbase outputs do not count as received by an address.
	received, err := w.ReceivedByAddress(addr, 1)
	require.NoError(t, err)
	require.Zero(t, received)
}

func TestMoveAndListAccounts(t *testing.T) {
	w := newTestWallet(t)
	addr, err := w.NewAddress("")
	require.NoError(t, err)
	_, err = w.AddRelevantTx(fundingTx(t, addr, 100000), nil)
	require.NoError(t, err)

	require.NoError(t, w.Move("", "rent", 40000, "march"))
	require.True(t, IsError(w.Move("", AllAccounts, 1, ""), ErrInvalidAccount))
	require.True(t, IsError(w.Move("", "rent", 0, ""), ErrInvalidAmount))

	accounts, err := w.ListAccounts(0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(60000), accounts[""])
	require.Equal(t, btcutil.Amount(40000), accounts["rent"])

	entries, err := w.ListTransactions("rent", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "move", entries[0].Category)
	require.Equal(t, "", entries[0].OtherAccount)
	require.Equal(t, btcutil.Amount(40000), entries[0].Amount)
}

func TestListTransactionsPaging(t *testing.T) {
	w := newTestWallet(t)
	addr, err := w.NewAddress("")
	require.NoError(t, err)

	var hashes []string
	for i := 1; i <= 5; i++ {
		tx := fundingTx(t, addr, btcutil.Amount(i*1000))
		_, err := w.AddRelevantTx(tx, nil)
		require.NoError(t, err)
		hashes = append(hashes, tx.TxHash().String())
	}

	all, err := w.ListTransactions(AllAccounts, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, e := range all {
		require.Equal(t, hashes[i], e.TxID)
	}

	page, err := w.ListTransactions(AllAccounts, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, hashes[2], page[0].TxID)
	require.Equal(t, hashes[3], page[1].TxID)

	none, err := w.ListTransactions(AllAccounts, 2, 10)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = w.ListTransactions(AllAccounts, -1, 0)
	require.Error(t, err)
}

func TestListReceivedAndUnspent(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	a1, err := w.NewAddress("one")
	require.NoError(t, err)
	a2, err := w.NewAddress("two")
	require.NoError(t, err)

	tx := fundingTx(t, a1, 7000)
	block := c.AddBlock(tx)
	_, err = w.AddRelevantTx(tx, block)
	require.NoError(t, err)
	require.NoError(t, w.SetSyncedTo(block.Height, block.Hash))

	rows, err := w.ListReceivedByAddress(1, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, a1.EncodeAddress(), rows[0].Address)
	require.Equal(t, "one", rows[0].Account)
	require.Equal(t, []string{tx.TxHash().String()}, rows[0].TxIDs)

	rows, err = w.ListReceivedByAddress(1, true)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)

	accts, err := w.ListReceivedByAccount(1, true)
	require.NoError(t, err)
	byName := make(map[string]*AddressReceived)
	for _, r := range accts {
		byName[r.Account] = r
	}
	require.Equal(t, btcutil.Amount(7000), byName["one"].Amount)
	require.Zero(t, byName["two"].Amount)

	unspent, err := w.ListUnspent(1, 9999999, nil)
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	require.Equal(t, "one", unspent[0].Account)

	filtered, err := w.ListUnspent(1, 9999999,
		map[string]struct{}{a2.EncodeAddress(): {}})
	require.NoError(t, err)
	require.Empty(t, filtered)

	op := wire.OutPoint{Hash: tx.TxHash(), Index: 0}
	w.LockOutpoint(op)
	require.True(t, w.LockedOutpoint(op))
	require.Equal(t, []wire.OutPoint{op}, w.LockedOutpoints())

	unspent, err = w.ListUnspent(1, 9999999, nil)
	require.NoError(t, err)
	require.Empty(t, unspent)

	w.UnlockOutpoint(op)
	require.False(t, w.LockedOutpoint(op))
	w.LockOutpoint(op)
	w.ResetLockedOutpoints()
	require.Empty(t, w.LockedOutpoints())
}

func TestDisconnectBlock(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	addr, err := w.NewAddress("")
	require.NoError(t, err)
	tx := fundingTx(t, addr, 9000)
	block := c.AddBlock(tx)
	_, err = w.AddRelevantTx(tx, block)
	require.NoError(t, err)
	require.NoError(t, w.SetSyncedTo(block.Height, block.Hash))

	require.NoError(t, w.handleNotification(c, chain.BlockDisconnected(*block)))

	height, _ := w.SyncedTo()
	require.Equal(t, block.Height-1, height)

	unmined, err := w.UnminedTransactions()
	require.NoError(t, err)
	require.Len(t, unmined, 1)

	since, err := w.ListSinceBlock(height)
	require.NoError(t, err)
	require.Len(t, since, 1)
}
