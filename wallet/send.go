package wallet

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DustThreshold is the smallest output amount the wallet creates.
	DustThreshold = btcutil.Amount(546)

	// Estimated sizes of a P2PKH transaction's parts.
	txOverheadSize = 10
	txInputSize    = 148
	txOutputSize   = 34

	// HighFeeWarning is the paytxfee above which a warning is shown.
	HighFeeWarning = btcutil.Amount(btcutil.SatoshiPerBitcoin / 4)
)

// EstimateTxSize returns the approximate serialized size of a transaction
// spending numInputs P2PKH outputs into numOutputs outputs.
func EstimateTxSize(numInputs, numOutputs int) int {
	return txOverheadSize + txInputSize*numInputs + txOutputSize*numOutputs
}

// FeeForSize returns the fee of a size-byte transaction at feePerKB. Every
// started kilobyte is charged in full.
func FeeForSize(feePerKB btcutil.Amount, size int) btcutil.Amount {
	kb := (size + 999) / 1000
	if kb == 0 {
		kb = 1
	}
	return feePerKB * btcutil.Amount(kb)
}

// feeRate returns the fee per kB used for sends.
func (w *Wallet) feeRate() btcutil.Amount {
	if w.cfg.PayTxFee > w.cfg.MinTxFee {
		return w.cfg.PayTxFee
	}
	return w.cfg.MinTxFee
}

// SendRequest describes an outgoing payment.
type SendRequest struct {
	// Outputs maps encoded addresses to amounts.
	Outputs map[string]btcutil.Amount

	// Account is debited for the payment. CheckAccount makes the send
	// fail when the account balance with MinConf confirmations does not
	// cover the outputs.
	Account      string
	CheckAccount bool
	MinConf      int32

	Comment   string
	CommentTo string
}

// SendToAddress pays amount to addr from the default account.
func (w *Wallet) SendToAddress(addr btcutil.Address, amount btcutil.Amount,
	comment, commentTo string) (*chainhash.Hash, error) {

	return w.Send(&SendRequest{
		Outputs:   map[string]btcutil.Amount{addr.EncodeAddress(): amount},
		MinConf:   1,
		Comment:   comment,
		CommentTo: commentTo,
	})
}

// Send builds, signs, records and broadcasts a transaction paying
// req.Outputs.
func (w *Wallet) Send(req *SendRequest) (*chainhash.Hash, error) {
	c := w.ChainClient()
	if c == nil {
		return nil, walletError(ErrNoChain,
			"Error: no chain server connected", nil)
	}
	if len(req.Outputs) == 0 {
		return nil, walletError(ErrInvalidAmount, "No outputs to send", nil)
	}
	if err := validateAccount(req.Account); err != nil {
		return nil, err
	}

	var total btcutil.Amount
	outputs := make([]*wire.TxOut, 0, len(req.Outputs)+1)
	addrs := make([]string, 0, len(req.Outputs))
	for addr := range req.Outputs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		amount := req.Outputs[addr]
		if amount <= 0 {
			return nil, walletError(ErrInvalidAmount, "Invalid amount", nil)
		}
		if amount < DustThreshold {
			return nil, walletError(ErrInvalidAmount,
				"Transaction amount too small", nil)
		}
		decoded, err := w.DecodeAddress(addr)
		if err != nil {
			return nil, err
		}
		pkScript, err := txscript.PayToAddrScript(decoded)
		if err != nil {
			return nil, walletError(ErrInvalidAddress,
				"Invalid Bitcoin address", err)
		}
		outputs = append(outputs, wire.NewTxOut(int64(amount), pkScript))
		total += amount
	}

	if err := w.EnsureUnlocked(); err != nil {
		return nil, err
	}

	if req.CheckAccount {
		balance, err := w.AccountBalance(req.Account, req.MinConf)
		if err != nil {
			return nil, err
		}
		if total > balance {
			return nil, walletError(ErrInsufficientFunds,
				"Account has insufficient funds", nil)
		}
	}

	msgTx, err := w.buildTx(outputs, total)
	if err != nil {
		return nil, err
	}

	meta := &txMeta{
		FromAccount: req.Account,
		Comment:     req.Comment,
		CommentTo:   req.CommentTo,
	}
	if _, err := w.addTx(msgTx, nil, meta); err != nil {
		return nil, walletError(ErrDatabase,
			"Error: unable to record the transaction", err)
	}

	hash, err := c.SendRawTransaction(msgTx, false)
	if err != nil {
		return nil, walletError(ErrDatabase, "Error: The transaction was "+
			"rejected! This might happen if some of the coins in your "+
			"wallet were already spent, such as if you used a copy of "+
			"wallet.dat and coins were spent in the copy but not marked "+
			"as spent here.", err)
	}
	log.Infof("Sent transaction %v", hash)
	return hash, nil
}

// spendable returns the outputs coin selection may use, largest first.
func (w *Wallet) spendable() ([]*Unspent, error) {
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}
	unspent, err := w.ListUnspent(0, 9999999, nil)
	if err != nil {
		return nil, err
	}

	eligible := unspent[:0]
	for _, u := range unspent {
		rec := s.txs[u.OutPoint.Hash]
		if rec == nil || !s.trusted(rec, w.cfg.SpendZeroConfChange) {
			continue
		}
		eligible = append(eligible, u)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Amount > eligible[j].Amount
	})
	return eligible, nil
}

// buildTx selects inputs for outputs, adds change and signs the result.
func (w *Wallet) buildTx(outputs []*wire.TxOut, total btcutil.Amount) (*wire.MsgTx, error) {
	coins, err := w.spendable()
	if err != nil {
		return nil, err
	}

	rate := w.feeRate()
	var (
		selected []*Unspent
		in       btcutil.Amount
		fee      btcutil.Amount
	)
	for _, coin := range coins {
		selected = append(selected, coin)
		in += coin.Amount
		fee = FeeForSize(rate, EstimateTxSize(len(selected), len(outputs)+1))
		if in >= total+fee {
			break
		}
	}
	if in < total+fee {
		return nil, walletError(ErrInsufficientFunds, "Insufficient funds",
			nil)
	}

	msgTx := wire.NewMsgTx(wire.TxVersion)
	for _, coin := range selected {
		op := coin.OutPoint
		msgTx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	for _, out := range outputs {
		msgTx.AddTxOut(out)
	}

	change := in - total - fee
	if change >= DustThreshold {
		changeAddr, err := w.NewChangeAddress()
		if err != nil {
			return nil, err
		}
		pkScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, err
		}
		msgTx.AddTxOut(wire.NewTxOut(int64(change), pkScript))
	}

	for i, coin := range selected {
		err := w.signInput(msgTx, i, coin.PkScript)
		if err != nil {
			return nil, err
		}
	}
	return msgTx, nil
}

// signInput signs input idx of msgTx spending an output with pkScript.
func (w *Wallet) signInput(msgTx *wire.MsgTx, idx int, pkScript []byte) error {
	sigScript, err := txscript.SignTxOutput(w.chainParams, msgTx, idx,
		pkScript, txscript.SigHashAll, w, w, nil)
	if err != nil {
		return walletError(ErrDatabase, fmt.Sprintf(
			"unable to sign input %d", idx), err)
	}
	msgTx.TxIn[idx].SignatureScript = sigScript
	return nil
}

func serializeMsgTx(msgTx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(msgTx.SerializeSize())
	if err := msgTx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
