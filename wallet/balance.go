package wallet

import (
	"encoding/hex"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/walletdb"
)

// Balances groups the wallet totals over unspent outputs.
type Balances struct {
	Trusted     btcutil.Amount
	Unconfirmed btcutil.Amount
	Immature    btcutil.Amount
}

// CalculateBalances splits the unspent outputs into trusted, untrusted
// unconfirmed and immature coinbase funds.
func (w *Wallet) CalculateBalances() (Balances, error) {
	var b Balances
	s, err := w.snapshot()
	if err != nil {
		return b, err
	}
	for _, c := range s.credits {
		if c.spent() {
			continue
		}
		rec := s.txs[c.OutPoint.Hash]
		switch {
		case s.immature(c):
			b.Immature += c.Amount
		case rec != nil && s.trusted(rec, w.cfg.SpendZeroConfChange):
			b.Trusted += c.Amount
		default:
			b.Unconfirmed += c.Amount
		}
	}
	return b, nil
}

// Balance sums the unspent, mature outputs with at least minconf
// confirmations.
func (w *Wallet) Balance(minconf int32) (btcutil.Amount, error) {
	s, err := w.snapshot()
	if err != nil {
		return 0, err
	}
	var total btcutil.Amount
	for _, c := range s.credits {
		if c.spent() || s.immature(c) {
			continue
		}
		if s.confirms(s.txs[c.OutPoint.Hash]) < minconf {
			continue
		}
		total += c.Amount
	}
	return total, nil
}

// accountOf returns the account an address is credited to. Unlabelled
// addresses belong to the empty account.
func (s *txSnapshot) accountOf(addr string) string {
	return s.labels[addr]
}

// countsAsReceived reports whether a credit is reported as received
// rather than as change of a wallet send.
func (s *txSnapshot) countsAsReceived(c *credit) bool {
	return !(c.change() && s.fromMe(c.OutPoint.Hash))
}

// accountBalances computes the balance of every account: funds received
// with minconf confirmations, minus what each account sent including fees,
// plus accounting moves.
func (s *txSnapshot) accountBalances(minconf int32) map[string]btcutil.Amount {
	balances := make(map[string]btcutil.Amount)
	for _, rec := range s.order {
		if outs := s.outputs[rec.Hash]; len(outs) > 0 && s.immature(outs[0]) {
			continue
		}
		if s.fromMe(rec.Hash) {
			var change btcutil.Amount
			for _, c := range s.outputs[rec.Hash] {
				if c.change() {
					change += c.Amount
				}
			}
			balances[rec.FromAccount] -= s.debit(rec.Hash) - change
		}
		if s.confirms(rec) < minconf {
			continue
		}
		for _, c := range s.outputs[rec.Hash] {
			if s.countsAsReceived(c) {
				balances[s.accountOf(c.Address)] += c.Amount
			}
		}
	}
	for _, m := range s.moves {
		balances[m.From] -= m.Amount
		balances[m.To] += m.Amount
	}
	return balances
}

// AccountBalance returns the balance of one account.
func (w *Wallet) AccountBalance(account string, minconf int32) (btcutil.Amount, error) {
	s, err := w.snapshot()
	if err != nil {
		return 0, err
	}
	return s.accountBalances(minconf)[account], nil
}

// ListAccounts returns the balance of every account holding a wallet
// address or named in a move.
func (w *Wallet) ListAccounts(minconf int32) (map[string]btcutil.Amount, error) {
	names, err := w.AccountNames()
	if err != nil {
		return nil, err
	}
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}
	balances := s.accountBalances(minconf)
	for _, name := range names {
		if _, ok := balances[name]; !ok {
			balances[name] = 0
		}
	}
	return balances, nil
}

// receivedBy sums the non-coinbase outputs to addresses accepted by match
// in transactions with at least minconf confirmations.
func (s *txSnapshot) receivedBy(minconf int32, match func(addr string) bool) btcutil.Amount {
	var total btcutil.Amount
	for _, c := range s.credits {
		if c.coinbase() || !match(c.Address) {
			continue
		}
		if s.confirms(s.txs[c.OutPoint.Hash]) < minconf {
			continue
		}
		total += c.Amount
	}
	return total
}

// ReceivedByAddress returns the total received by addr.
func (w *Wallet) ReceivedByAddress(addr btcutil.Address, minconf int32) (btcutil.Amount, error) {
	s, err := w.snapshot()
	if err != nil {
		return 0, err
	}
	encoded := addr.EncodeAddress()
	return s.receivedBy(minconf, func(a string) bool {
		return a == encoded
	}), nil
}

// ReceivedByAccount returns the total received by the addresses labelled
// with account.
func (w *Wallet) ReceivedByAccount(account string, minconf int32) (btcutil.Amount, error) {
	s, err := w.snapshot()
	if err != nil {
		return 0, err
	}
	return s.receivedBy(minconf, func(a string) bool {
		label, ok := s.labels[a]
		return ok && label == account
	}), nil
}

// AddressReceived is one row of listreceivedbyaddress or
// listreceivedbyaccount.
type AddressReceived struct {
	Address       string
	Account       string
	Amount        btcutil.Amount
	Confirmations int32
	TxIDs         []string
}

// receivedRows aggregates credits with minconf confirmations per labelled
// wallet address. Rows with nothing received are kept when includeEmpty.
func (w *Wallet) receivedRows(s *txSnapshot, minconf int32,
	includeEmpty bool) ([]*AddressReceived, error) {

	rows := make(map[string]*AddressReceived)
	err := w.view(func(tx walletdb.ReadTx) error {
		for addr, account := range s.labels {
			if !w.haveAddress(tx, addr) {
				continue
			}
			rows[addr] = &AddressReceived{
				Address:       addr,
				Account:       account,
				Confirmations: -1,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range s.credits {
		row, ok := rows[c.Address]
		if !ok || c.coinbase() {
			continue
		}
		confs := s.confirms(s.txs[c.OutPoint.Hash])
		if confs < minconf {
			continue
		}
		row.Amount += c.Amount
		if row.Confirmations < 0 || confs < row.Confirmations {
			row.Confirmations = confs
		}
		txid := c.OutPoint.Hash.String()
		if n := len(row.TxIDs); n == 0 || row.TxIDs[n-1] != txid {
			row.TxIDs = append(row.TxIDs, txid)
		}
	}

	list := make([]*AddressReceived, 0, len(rows))
	for _, row := range rows {
		if row.Confirmations < 0 {
			if !includeEmpty {
				continue
			}
			row.Confirmations = 0
		}
		list = append(list, row)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Address < list[j].Address
	})
	return list, nil
}

// ListReceivedByAddress returns what each labelled wallet address received.
func (w *Wallet) ListReceivedByAddress(minconf int32, includeEmpty bool) ([]*AddressReceived, error) {
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}
	return w.receivedRows(s, minconf, includeEmpty)
}

// ListReceivedByAccount returns what each account received. Address and
// TxIDs are left empty.
func (w *Wallet) ListReceivedByAccount(minconf int32, includeEmpty bool) ([]*AddressReceived, error) {
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}
	rows, err := w.receivedRows(s, minconf, true)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[string]*AddressReceived)
	seen := make(map[string]bool)
	for _, row := range rows {
		acct, ok := byAccount[row.Account]
		if !ok {
			acct = &AddressReceived{Account: row.Account}
			byAccount[row.Account] = acct
		}
		if row.Amount == 0 && len(row.TxIDs) == 0 {
			continue
		}
		acct.Amount += row.Amount
		if !seen[row.Account] || row.Confirmations < acct.Confirmations {
			acct.Confirmations = row.Confirmations
		}
		seen[row.Account] = true
	}

	list := make([]*AddressReceived, 0, len(byAccount))
	for name, acct := range byAccount {
		if !seen[name] && !includeEmpty {
			continue
		}
		list = append(list, acct)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Account < list[j].Account
	})
	return list, nil
}

// Unspent describes a spendable wallet output.
type Unspent struct {
	OutPoint      wire.OutPoint
	Address       string
	Account       string
	HasAccount    bool
	PkScript      []byte
	RedeemScript  []byte
	Amount        btcutil.Amount
	Confirmations int32
	Change        bool
}

// ListUnspent returns the unlocked, mature, unspent outputs with between
// minconf and maxconf confirmations, optionally limited to addrs.
func (w *Wallet) ListUnspent(minconf, maxconf int32,
	addrs map[string]struct{}) ([]*Unspent, error) {

	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}

	var list []*Unspent
	err = w.view(func(tx walletdb.ReadTx) error {
		scripts := tx.ReadBucket(scriptBucketName)
		for _, c := range s.credits {
			if c.spent() || s.immature(c) {
				continue
			}
			if _, locked := s.locked[c.OutPoint]; locked {
				continue
			}
			if len(addrs) > 0 {
				if _, ok := addrs[c.Address]; !ok {
					continue
				}
			}
			rec := s.txs[c.OutPoint.Hash]
			if rec == nil || int(c.OutPoint.Index) >= len(rec.MsgTx.TxOut) {
				continue
			}
			confs := s.confirms(rec)
			if confs < minconf || confs > maxconf {
				continue
			}
			u := &Unspent{
				OutPoint:      c.OutPoint,
				Address:       c.Address,
				PkScript:      rec.MsgTx.TxOut[c.OutPoint.Index].PkScript,
				Amount:        c.Amount,
				Confirmations: confs,
				Change:        c.change(),
			}
			u.Account, u.HasAccount = s.labels[c.Address]
			if scripts != nil {
				if rs := scripts.Get([]byte(c.Address)); rs != nil {
					u.RedeemScript = append([]byte(nil), rs...)
				}
			}
			list = append(list, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Confirmations != list[j].Confirmations {
			return list[i].Confirmations > list[j].Confirmations
		}
		return list[i].Amount > list[j].Amount
	})
	return list, nil
}

// GroupedAddress is one address within an address grouping.
type GroupedAddress struct {
	Address    string
	Amount     btcutil.Amount
	Account    string
	HasAccount bool
}

// AddressGroupings returns sets of wallet addresses that are linked by
// having been spent together as inputs or receiving change from such
// spends.
func (w *Wallet) AddressGroupings() ([][]GroupedAddress, error) {
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}

	parent := make(map[string]string)
	var find func(string) string
	find = func(a string) string {
		p, ok := parent[a]
		if !ok {
			parent[a] = a
			return a
		}
		if p == a {
			return a
		}
		root := find(p)
		parent[a] = root
		return root
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, rec := range s.order {
		debits := s.debits[rec.Hash]
		if len(debits) > 0 {
			first := debits[0].Address
			for _, c := range debits[1:] {
				union(first, c.Address)
			}
			for _, c := range s.outputs[rec.Hash] {
				if c.change() {
					union(first, c.Address)
				}
			}
		}
		for _, c := range s.outputs[rec.Hash] {
			find(c.Address)
		}
	}

	balances := make(map[string]btcutil.Amount)
	for _, c := range s.credits {
		if c.spent() || s.immature(c) {
			continue
		}
		rec := s.txs[c.OutPoint.Hash]
		if rec == nil || !s.trusted(rec, w.cfg.SpendZeroConfChange) {
			continue
		}
		balances[c.Address] += c.Amount
	}

	groups := make(map[string][]GroupedAddress)
	for addr := range parent {
		g := GroupedAddress{Address: addr, Amount: balances[addr]}
		g.Account, g.HasAccount = s.labels[addr]
		root := find(addr)
		groups[root] = append(groups[root], g)
	}

	list := make([][]GroupedAddress, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool {
			return g[i].Address < g[j].Address
		})
		list = append(list, g)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i][0].Address < list[j][0].Address
	})
	return list, nil
}

// TxEntry is one line of a transaction listing.
type TxEntry struct {
	Account       string
	Address       string
	Category      string
	Amount        btcutil.Amount
	Fee           *btcutil.Amount
	Vout          uint32
	Confirmations int32
	Generated     bool
	BlockHash     string
	BlockTime     int64
	TxID          string
	Time          int64
	TimeReceived  int64
	Comment       string
	To            string
	OtherAccount  string
}

// txEntries expands a transaction into send and receive entries for
// account, every account when account is "*".
func (s *txSnapshot) txEntries(rec *txRecord, account string, minconf int32) []TxEntry {
	all := account == AllAccounts
	confs := s.confirms(rec)
	base := TxEntry{
		Confirmations: confs,
		TxID:          rec.Hash.String(),
		Time:          rec.Received.Unix(),
		TimeReceived:  rec.Received.Unix(),
		Comment:       rec.Comment,
		To:            rec.CommentTo,
	}
	if rec.mined() {
		base.BlockHash = rec.BlockHash.String()
		if !rec.BlockTime.IsZero() {
			base.BlockTime = rec.BlockTime.Unix()
		}
	}

	mine := make(map[uint32]*credit)
	for _, c := range s.outputs[rec.Hash] {
		mine[c.OutPoint.Index] = c
	}

	var entries []TxEntry
	fromMe := s.fromMe(rec.Hash)
	fee := s.fee(rec)
	if fromMe && (all || rec.FromAccount == account) {
		sent := false
		for i, out := range rec.MsgTx.TxOut {
			if c, ok := mine[uint32(i)]; ok && c.change() {
				continue
			}
			e := base
			e.Account = rec.FromAccount
			e.Category = "send"
			e.Amount = -btcutil.Amount(out.Value)
			f := -fee
			e.Fee = &f
			e.Vout = uint32(i)
			if addrs := outAddrs(s, out.PkScript); addrs != "" {
				e.Address = addrs
			}
			entries = append(entries, e)
			sent = true
		}
		if !sent && fee != 0 {
			e := base
			e.Account = rec.FromAccount
			e.Category = "send"
			f := -fee
			e.Fee = &f
			entries = append(entries, e)
		}
	}

	if confs >= minconf {
		for _, c := range s.outputs[rec.Hash] {
			if fromMe && c.change() {
				continue
			}
			acct := s.accountOf(c.Address)
			if !all && acct != account {
				continue
			}
			e := base
			e.Account = acct
			e.Address = c.Address
			e.Amount = c.Amount
			e.Vout = c.OutPoint.Index
			switch {
			case !c.coinbase():
				e.Category = "receive"
			case confs < 1:
				e.Category = "orphan"
				e.Generated = true
			case s.immature(c):
				e.Category = "immature"
				e.Generated = true
			default:
				e.Category = "generate"
				e.Generated = true
			}
			entries = append(entries, e)
		}
	}
	return entries
}

// outAddrs returns the address an output pays to when it pays to a single
// one.
func outAddrs(s *txSnapshot, pkScript []byte) string {
	addrs := s.addrOf(pkScript)
	if len(addrs) != 1 {
		return ""
	}
	return addrs[0]
}

// moveEntries returns the accounting entries for account.
func (s *txSnapshot) moveEntries(m *moveRecord, account string) []TxEntry {
	all := account == AllAccounts
	var entries []TxEntry
	if all || m.From == account {
		entries = append(entries, TxEntry{
			Account:      m.From,
			Category:     "move",
			Time:         m.Time,
			Amount:       -m.Amount,
			OtherAccount: m.To,
			Comment:      m.Comment,
		})
	}
	if all || m.To == account {
		entries = append(entries, TxEntry{
			Account:      m.To,
			Category:     "move",
			Time:         m.Time,
			Amount:       m.Amount,
			OtherAccount: m.From,
			Comment:      m.Comment,
		})
	}
	return entries
}

// ListTransactions returns up to count of the most recent entries for
// account, skipping the newest from entries, oldest first.
func (w *Wallet) ListTransactions(account string, count, from int) ([]TxEntry, error) {
	if count < 0 || from < 0 {
		return nil, walletError(ErrInvalidAmount, "Negative count or from",
			nil)
	}
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}

	type item struct {
		time int64
		rec  *txRecord
		move *moveRecord
	}
	items := make([]item, 0, len(s.order)+len(s.moves))
	for _, rec := range s.order {
		items = append(items, item{time: rec.Received.UnixNano(), rec: rec})
	}
	for _, m := range s.moves {
		items = append(items, item{time: m.Time * int64(time.Second), move: m})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].time < items[j].time
	})

	// Walk newest to oldest until enough entries are collected.
	var newestFirst []TxEntry
	for i := len(items) - 1; i >= 0; i-- {
		var entries []TxEntry
		if items[i].rec != nil {
			entries = s.txEntries(items[i].rec, account, 0)
		} else {
			entries = s.moveEntries(items[i].move, account)
		}
		for j := len(entries) - 1; j >= 0; j-- {
			newestFirst = append(newestFirst, entries[j])
		}
		if len(newestFirst) >= count+from {
			break
		}
	}

	if from > len(newestFirst) {
		from = len(newestFirst)
	}
	end := from + count
	if end > len(newestFirst) {
		end = len(newestFirst)
	}
	page := newestFirst[from:end]

	result := make([]TxEntry, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		result = append(result, page[i])
	}
	return result, nil
}

// ListSinceBlock returns the entries of every transaction that is unmined
// or mined above height, for all accounts.
func (w *Wallet) ListSinceBlock(height int32) ([]TxEntry, error) {
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}

	var entries []TxEntry
	for _, rec := range s.order {
		if rec.mined() && rec.Height <= height {
			continue
		}
		entries = append(entries, s.txEntries(rec, AllAccounts, 0)...)
	}
	return entries, nil
}

// TxDetails summarizes a wallet transaction for gettransaction.
type TxDetails struct {
	Amount        btcutil.Amount
	Fee           *btcutil.Amount
	Confirmations int32
	Generated     bool
	BlockHash     string
	BlockTime     int64
	TxID          string
	Time          int64
	TimeReceived  int64
	Comment       string
	To            string
	Details       []TxEntry
	Hex           string
}

// TxDetails returns the wallet's view of a transaction.
func (w *Wallet) TxDetails(hash *chainhash.Hash) (*TxDetails, error) {
	s, err := w.snapshot()
	if err != nil {
		return nil, err
	}

	rec, ok := s.txs[*hash]
	if !ok {
		return nil, walletError(ErrTxNotFound,
			"Invalid or non-wallet transaction id", nil)
	}

	debit := s.debit(rec.Hash)
	credit := s.credit(rec.Hash, false)
	fee := s.fee(rec)

	d := &TxDetails{
		Amount:        credit - debit + fee,
		Confirmations: s.confirms(rec),
		TxID:          rec.Hash.String(),
		Time:          rec.Received.Unix(),
		TimeReceived:  rec.Received.Unix(),
		Comment:       rec.Comment,
		To:            rec.CommentTo,
	}
	if debit > 0 {
		f := -fee
		d.Fee = &f
	}
	if outs := s.outputs[rec.Hash]; len(outs) > 0 && outs[0].coinbase() {
		d.Generated = true
	}
	if rec.mined() {
		d.BlockHash = rec.BlockHash.String()
		if !rec.BlockTime.IsZero() {
			d.BlockTime = rec.BlockTime.Unix()
		}
	}
	d.Details = s.txEntries(rec, AllAccounts, 0)

	var buf []byte
	buf, err = serializeMsgTx(&rec.MsgTx)
	if err != nil {
		return nil, err
	}
	d.Hex = hex.EncodeToString(buf)
	return d, nil
}
