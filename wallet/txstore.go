package wallet

import (
	"bytes"
	"sort"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/chain"
	"github.com/czh0526/btc-walletd/walletdb"
)

// txMeta is the sender supplied metadata of a wallet transaction.
type txMeta struct {
	FromAccount string
	Comment     string
	CommentTo   string
}

// outputAddresses returns the encoded addresses a script pays to.
func (w *Wallet) outputAddresses(pkScript []byte) []string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, w.chainParams)
	if err != nil {
		return nil
	}
	encoded := make([]string, 0, len(addrs))
	for _, a := range addrs {
		encoded = append(encoded, a.EncodeAddress())
	}
	return encoded
}

// AddRelevantTx records msgTx when it pays to or spends from the wallet.
// block is nil for unmined transactions. It reports whether the
// transaction was relevant.
func (w *Wallet) AddRelevantTx(msgTx *wire.MsgTx, block *chain.BlockMeta) (bool, error) {
	return w.addTx(msgTx, block, nil)
}

func (w *Wallet) addTx(msgTx *wire.MsgTx, block *chain.BlockMeta,
	meta *txMeta) (bool, error) {

	var (
		relevant bool
		inserted bool
		received btcutil.Amount
		fromUs   bool
	)
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		var err error
		relevant, inserted, received, fromUs, err = w.recordTx(tx, msgTx,
			block, meta)
		return err
	})
	if err != nil {
		return false, err
	}

	if inserted {
		hash := msgTx.TxHash()
		log.Infof("Recorded wallet transaction %v", hash)
		w.notifyTx(TxNotification{
			Hash:     hash.String(),
			Received: received,
			Mined:    block != nil,
			FromUs:   fromUs,
		})
	}
	return relevant, nil
}

// recordTx inserts or updates a wallet transaction and its credits and
// spends.
func (w *Wallet) recordTx(tx walletdb.ReadWriteTx, msgTx *wire.MsgTx,
	block *chain.BlockMeta, meta *txMeta) (relevant, inserted bool,
	received btcutil.Amount, fromUs bool, err error) {

	hash := msgTx.TxHash()
	txs := tx.ReadWriteBucket(txBucketName)
	credits := tx.ReadWriteBucket(creditBucketName)

	type newCredit struct {
		key []byte
		c   *credit
	}
	var toAdd []newCredit
	isCoinbase := blockchain.IsCoinBaseTx(msgTx)
	for i, out := range msgTx.TxOut {
		for _, addr := range w.outputAddresses(out.PkScript) {
			rec, err := w.fetchKeyRecord(tx, addr)
			if err != nil {
				return false, false, 0, false, err
			}
			if rec == nil && !w.haveAddress(tx, addr) {
				continue
			}
			c := &credit{
				OutPoint: wire.OutPoint{Hash: hash, Index: uint32(i)},
				Amount:   btcutil.Amount(out.Value),
				Address:  addr,
			}
			if rec != nil && rec.change() {
				c.Flags |= creditFlagChange
			}
			if isCoinbase {
				c.Flags |= creditFlagCoinbase
			}
			toAdd = append(toAdd, newCredit{outPointKey(&c.OutPoint), c})
			break
		}
	}

	var spends []*credit
	if !isCoinbase {
		for _, in := range msgTx.TxIn {
			v := credits.Get(outPointKey(&in.PreviousOutPoint))
			if v == nil {
				continue
			}
			c, err := deserializeCredit(outPointKey(&in.PreviousOutPoint), v)
			if err != nil {
				continue
			}
			spends = append(spends, c)
		}
	}

	existing := txs.Get(hash[:])
	if existing == nil && len(toAdd) == 0 && len(spends) == 0 {
		return false, false, 0, false, nil
	}

	var rec *txRecord
	if existing != nil {
		rec, err = deserializeTxRecord(hash[:], existing)
		if err != nil {
			return true, false, 0, false, err
		}
	} else {
		rec = &txRecord{
			Hash:     hash,
			Received: time.Now(),
			Height:   -1,
			MsgTx:    *msgTx,
		}
		inserted = true
	}
	if block != nil {
		rec.Height = block.Height
		rec.BlockHash = block.Hash
		rec.BlockTime = block.Time
	}
	if meta != nil {
		rec.FromAccount = meta.FromAccount
		rec.Comment = meta.Comment
		rec.CommentTo = meta.CommentTo
	}
	v, err := serializeTxRecord(rec)
	if err != nil {
		return true, false, 0, false, err
	}
	if err := txs.Put(hash[:], v); err != nil {
		return true, false, 0, false, err
	}

	for _, nc := range toAdd {
		if credits.Get(nc.key) != nil {
			continue
		}
		if err := credits.Put(nc.key, serializeCredit(nc.c)); err != nil {
			return true, false, 0, false, err
		}
		received += nc.c.Amount
	}
	for _, c := range spends {
		if c.SpentBy == hash {
			continue
		}
		c.SpentBy = hash
		err := credits.Put(outPointKey(&c.OutPoint), serializeCredit(c))
		if err != nil {
			return true, false, 0, false, err
		}
	}
	return true, inserted, received, len(spends) > 0, nil
}

// disconnectBlocksFrom marks every transaction mined at height or above as
// unmined.
func (w *Wallet) disconnectBlocksFrom(height int32) error {
	return w.update(func(tx walletdb.ReadWriteTx) error {
		txs := tx.ReadWriteBucket(txBucketName)
		var moved []*txRecord
		err := txs.ForEach(func(k, v []byte) error {
			rec, err := deserializeTxRecord(k, v)
			if err != nil {
				return nil
			}
			if rec.mined() && rec.Height >= height {
				moved = append(moved, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, rec := range moved {
			rec.Height = -1
			rec.BlockHash = chainhash.Hash{}
			rec.BlockTime = time.Time{}
			v, err := serializeTxRecord(rec)
			if err != nil {
				return err
			}
			if err := txs.Put(rec.Hash[:], v); err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncedTo returns the height and hash of the last block processed.
// Height is -1 before the first block.
func (w *Wallet) SyncedTo() (int32, chainhash.Hash) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.synced.Height, w.synced.Hash
}

// SetSyncedTo stores the best block marker.
func (w *Wallet) SetSyncedTo(height int32, hash chainhash.Hash) error {
	s := syncState{Height: height, Hash: hash}
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		return putSyncState(tx.ReadWriteBucket(mainBucketName), s)
	})
	if err != nil {
		return err
	}
	w.mtx.Lock()
	w.synced = s
	w.mtx.Unlock()
	return nil
}

// LockOutpoint excludes op from coin selection until unlocked or restart.
func (w *Wallet) LockOutpoint(op wire.OutPoint) {
	w.mtx.Lock()
	w.lockedOutpoints[op] = struct{}{}
	w.mtx.Unlock()
}

// UnlockOutpoint makes op available to coin selection again.
func (w *Wallet) UnlockOutpoint(op wire.OutPoint) {
	w.mtx.Lock()
	delete(w.lockedOutpoints, op)
	w.mtx.Unlock()
}

// ResetLockedOutpoints unlocks every locked output.
func (w *Wallet) ResetLockedOutpoints() {
	w.mtx.Lock()
	w.lockedOutpoints = make(map[wire.OutPoint]struct{})
	w.mtx.Unlock()
}

// LockedOutpoint reports whether op is locked.
func (w *Wallet) LockedOutpoint(op wire.OutPoint) bool {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	_, ok := w.lockedOutpoints[op]
	return ok
}

// LockedOutpoints returns the locked outputs ordered by txid and index.
func (w *Wallet) LockedOutpoints() []wire.OutPoint {
	w.mtx.RLock()
	ops := make([]wire.OutPoint, 0, len(w.lockedOutpoints))
	for op := range w.lockedOutpoints {
		ops = append(ops, op)
	}
	w.mtx.RUnlock()

	sort.Slice(ops, func(i, j int) bool {
		if c := bytes.Compare(ops[i].Hash[:], ops[j].Hash[:]); c != 0 {
			return c < 0
		}
		return ops[i].Index < ops[j].Index
	})
	return ops
}

// UnminedTransactions returns the wallet transactions not yet in a block.
func (w *Wallet) UnminedTransactions() ([]*wire.MsgTx, error) {
	var unmined []*wire.MsgTx
	err := w.view(func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(txBucketName).ForEach(func(k, v []byte) error {
			rec, err := deserializeTxRecord(k, v)
			if err != nil || rec.mined() {
				return nil
			}
			msgTx := rec.MsgTx
			unmined = append(unmined, &msgTx)
			return nil
		})
	})
	return unmined, err
}

// txSnapshot is a consistent in-memory view of the transaction store used
// by balance and listing queries.
type txSnapshot struct {
	tip      int32
	maturity int32

	txs     map[chainhash.Hash]*txRecord
	order   []*txRecord
	credits []*credit

	// outputs and debits index credits by the transaction that created
	// and spent them.
	outputs map[chainhash.Hash][]*credit
	debits  map[chainhash.Hash][]*credit

	labels map[string]string
	moves  []*moveRecord
	locked map[wire.OutPoint]struct{}

	addrOf func(pkScript []byte) []string
}

func (w *Wallet) snapshot() (*txSnapshot, error) {
	w.mtx.RLock()
	s := &txSnapshot{
		tip:      w.synced.Height,
		maturity: int32(w.chainParams.CoinbaseMaturity),
		txs:      make(map[chainhash.Hash]*txRecord),
		outputs:  make(map[chainhash.Hash][]*credit),
		debits:   make(map[chainhash.Hash][]*credit),
		labels:   make(map[string]string),
		locked:   make(map[wire.OutPoint]struct{}, len(w.lockedOutpoints)),
		addrOf:   w.outputAddresses,
	}
	for op := range w.lockedOutpoints {
		s.locked[op] = struct{}{}
	}
	w.mtx.RUnlock()

	err := w.view(func(tx walletdb.ReadTx) error {
		err := tx.ReadBucket(txBucketName).ForEach(func(k, v []byte) error {
			rec, err := deserializeTxRecord(k, v)
			if err != nil {
				return nil
			}
			s.txs[rec.Hash] = rec
			s.order = append(s.order, rec)
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.ReadBucket(creditBucketName).ForEach(func(k, v []byte) error {
			c, err := deserializeCredit(k, v)
			if err != nil {
				return nil
			}
			s.credits = append(s.credits, c)
			s.outputs[c.OutPoint.Hash] = append(s.outputs[c.OutPoint.Hash], c)
			if c.spent() {
				s.debits[c.SpentBy] = append(s.debits[c.SpentBy], c)
			}
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.ReadBucket(addrBookBucketName).ForEach(func(k, v []byte) error {
			s.labels[string(k)] = string(v)
			return nil
		})
		if err != nil {
			return err
		}
		s.moves = fetchMoves(tx)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].Received.Before(s.order[j].Received)
	})
	return s, nil
}

// confirms returns the number of confirmations of a transaction, 0 when
// unmined.
func (s *txSnapshot) confirms(rec *txRecord) int32 {
	if rec == nil || !rec.mined() || s.tip < rec.Height {
		return 0
	}
	return s.tip - rec.Height + 1
}

// immature reports whether a coinbase credit still needs confirmations
// before it can be spent.
func (s *txSnapshot) immature(c *credit) bool {
	if !c.coinbase() {
		return false
	}
	return s.confirms(s.txs[c.OutPoint.Hash]) < s.maturity+1
}

// fromMe reports whether the transaction spends wallet outputs.
func (s *txSnapshot) fromMe(hash chainhash.Hash) bool {
	return len(s.debits[hash]) > 0
}

// trusted reports whether the transaction's outputs can be counted in the
// trusted balance: confirmed, or unconfirmed and entirely funded by the
// wallet.
func (s *txSnapshot) trusted(rec *txRecord, spendZeroConf bool) bool {
	if s.confirms(rec) >= 1 {
		return true
	}
	if !spendZeroConf || !s.fromMe(rec.Hash) {
		return false
	}
	for _, in := range rec.MsgTx.TxIn {
		found := false
		for _, c := range s.outputs[in.PreviousOutPoint.Hash] {
			if c.OutPoint.Index == in.PreviousOutPoint.Index {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// debit returns the wallet funds spent by a transaction.
func (s *txSnapshot) debit(hash chainhash.Hash) btcutil.Amount {
	var total btcutil.Amount
	for _, c := range s.debits[hash] {
		total += c.Amount
	}
	return total
}

// credit returns the wallet outputs of a transaction, change excluded
// when noChange is set.
func (s *txSnapshot) credit(hash chainhash.Hash, noChange bool) btcutil.Amount {
	var total btcutil.Amount
	for _, c := range s.outputs[hash] {
		if noChange && c.change() {
			continue
		}
		total += c.Amount
	}
	return total
}

// fee returns the fee of a transaction funded by the wallet, 0 otherwise.
func (s *txSnapshot) fee(rec *txRecord) btcutil.Amount {
	debit := s.debit(rec.Hash)
	if debit == 0 || len(s.debits[rec.Hash]) != len(rec.MsgTx.TxIn) {
		return 0
	}
	var out int64
	for _, o := range rec.MsgTx.TxOut {
		out += o.Value
	}
	return debit - btcutil.Amount(out)
}
