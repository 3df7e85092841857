package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/chain/chaintest"
	"github.com/stretchr/testify/require"
)

func TestRescan(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	addr, err := w.NewAddress("")
	require.NoError(t, err)

	c.AddBlock(fundingTx(t, externalAddress(t), 1000))
	c.AddBlock(fundingTx(t, addr, 25000))
	tip := c.AddBlock()

	require.NoError(t, w.Rescan(context.Background(), c, 0))

	height, hash := w.SyncedTo()
	require.Equal(t, tip.Height, height)
	require.Equal(t, tip.Hash, hash)

	bal, err := w.Balance(1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(25000), bal)

	stats, err := w.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Transactions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Rescan(ctx, c, 0), context.Canceled)
}

func TestHandleNotifications(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	addr, err := w.NewAddress("")
	require.NoError(t, err)
	tx := fundingTx(t, addr, 3000)
	block := c.AddBlock(tx)

	c.Notify(chain.ClientConnected{})
	c.Notify(chain.RelevantTx{Tx: tx, Block: block})
	c.Notify(chain.BlockConnected(*block))
	c.Stop()

	done := make(chan struct{})
	go func() {
		w.HandleNotifications(context.Background(), c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notification handler did not return")
	}

	require.True(t, c.Watched(addr.EncodeAddress()))
	def, err := w.DefaultAddress()
	require.NoError(t, err)
	require.True(t, c.Watched(def.EncodeAddress()))

	height, _ := w.SyncedTo()
	require.Equal(t, block.Height, height)

	bal, err := w.Balance(1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3000), bal)
}

func TestReacceptWalletTransactions(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()

	addr, err := w.NewAddress("")
	require.NoError(t, err)
	tx := fundingTx(t, addr, 3000)
	_, err = w.AddRelevantTx(tx, nil)
	require.NoError(t, err)

	mined := fundingTx(t, addr, 4000)
	_, err = w.AddRelevantTx(mined, c.AddBlock(mined))
	require.NoError(t, err)

	w.ReacceptWalletTransactions(c)
	sent := c.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, tx.TxHash(), sent[0].TxHash())
}

func TestNewAddressWatched(t *testing.T) {
	w := newTestWallet(t)
	c := chaintest.New()
	w.SetChainClient(c)

	addr, err := w.NewAddress("")
	require.NoError(t, err)
	require.True(t, c.Watched(addr.EncodeAddress()))
}
