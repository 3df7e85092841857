package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/czh0526/btc-walletd/chain"
)

// HandleNotifications applies chain notifications from c to the wallet
// until ctx is done or the notification channel closes.
func (w *Wallet) HandleNotifications(ctx context.Context, c chain.Interface) {
	ntfns := c.Notifications()
	for {
		select {
		case n, ok := <-ntfns:
			if !ok {
				return
			}
			if err := w.handleNotification(c, n); err != nil {
				log.Errorf("Unable to process chain notification %T: %v",
					n, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Wallet) handleNotification(c chain.Interface, n interface{}) error {
	switch n := n.(type) {
	case chain.ClientConnected:
		if err := c.NotifyBlocks(); err != nil {
			return err
		}
		return w.WatchAll(c)

	case chain.BlockConnected:
		return w.SetSyncedTo(n.Height, n.Hash)

	case chain.BlockDisconnected:
		if err := w.disconnectBlocksFrom(n.Height); err != nil {
			return err
		}
		prev, err := c.GetBlockHash(int64(n.Height) - 1)
		if err != nil {
			return err
		}
		return w.SetSyncedTo(n.Height-1, *prev)

	case chain.RelevantTx:
		_, err := w.AddRelevantTx(n.Tx, n.Block)
		return err
	}
	return nil
}

// Rescan scans the main chain from height from to the current tip for
// wallet transactions and leaves the wallet synced to the tip.
func (w *Wallet) Rescan(ctx context.Context, c chain.Interface, from int32) error {
	if from < 0 {
		from = 0
	}
	_, best, err := c.GetBestBlock()
	if err != nil {
		return err
	}
	log.Infof("Rescanning blocks %d-%d", from, best)

	var found int
	for height := from; height <= best; height++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hash, err := c.GetBlockHash(int64(height))
		if err != nil {
			return fmt.Errorf("unable to get block hash at height %d: %w",
				height, err)
		}
		block, err := c.GetBlock(hash)
		if err != nil {
			return fmt.Errorf("unable to get block %v: %w", hash, err)
		}
		meta := &chain.BlockMeta{
			Hash:   *hash,
			Height: height,
			Time:   block.Header.Timestamp,
		}
		for _, tx := range block.Transactions {
			relevant, err := w.AddRelevantTx(tx, meta)
			if err != nil {
				return err
			}
			if relevant {
				found++
			}
		}
		if err := w.SetSyncedTo(height, *hash); err != nil {
			return err
		}
		if height%1000 == 0 && height != from {
			log.Infof("Rescanned through block %d", height)
		}
	}
	log.Infof("Rescan finished: %d wallet transactions in blocks %d-%d",
		found, from, best)
	return nil
}

// ReacceptWalletTransactions rebroadcasts unmined wallet transactions.
func (w *Wallet) ReacceptWalletTransactions(c chain.Interface) {
	txs, err := w.UnminedTransactions()
	if err != nil {
		log.Errorf("Unable to fetch unmined transactions: %v", err)
		return
	}
	for _, tx := range txs {
		if blockchain.IsCoinBaseTx(tx) {
			continue
		}
		if _, err := c.SendRawTransaction(tx, false); err != nil {
			log.Debugf("Unable to rebroadcast %v: %v", tx.TxHash(), err)
		}
	}
}

// WatchAll asks c to report payments to every wallet address.
func (w *Wallet) WatchAll(c chain.Interface) error {
	addrs, err := w.Addresses()
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return nil
	}
	return c.NotifyReceived(addrs)
}
