package wallet

import (
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/walletdb"
)

// AllAccounts is the account name meaning every account where one is
// accepted, and is never a valid label.
const AllAccounts = "*"

func validateAccount(account string) error {
	if account == AllAccounts {
		return walletError(ErrInvalidAccount, "Invalid account name", nil)
	}
	return nil
}

// DecodeAddress parses addr and checks it belongs to the wallet's network.
func (w *Wallet) DecodeAddress(addr string) (btcutil.Address, error) {
	a, err := btcutil.DecodeAddress(addr, w.chainParams)
	if err != nil || !a.IsForNet(w.chainParams) {
		return nil, walletError(ErrInvalidAddress, "Invalid Bitcoin address",
			err)
	}
	return a, nil
}

func putLabel(tx walletdb.ReadWriteTx, addr, account string) error {
	return tx.ReadWriteBucket(addrBookBucketName).Put([]byte(addr),
		[]byte(account))
}

func fetchLabel(tx walletdb.ReadTx, addr string) (string, bool) {
	v := tx.ReadBucket(addrBookBucketName).Get([]byte(addr))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// SetAccount labels addr with account. When addr was the current receiving
// address of its previous account, that account gets a fresh one.
func (w *Wallet) SetAccount(addr btcutil.Address, account string) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	encoded := addr.EncodeAddress()

	var (
		previous   string
		wasCurrent bool
	)
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		var had bool
		previous, had = fetchLabel(tx, encoded)
		if had && previous != account {
			cur := tx.ReadBucket(accountsBucketName).Get([]byte(previous))
			wasCurrent = string(cur) == encoded
		}
		return putLabel(tx, encoded, account)
	})
	if err != nil {
		return err
	}

	if wasCurrent {
		if _, err := w.AccountAddress(previous, true); err != nil {
			log.Warnf("Unable to replace receiving address of account "+
				"%q: %v", previous, err)
		}
	}
	return nil
}

// Account returns the label of addr, the empty account when unlabelled.
func (w *Wallet) Account(addr btcutil.Address) string {
	var account string
	_ = w.view(func(tx walletdb.ReadTx) error {
		account, _ = fetchLabel(tx, addr.EncodeAddress())
		return nil
	})
	return account
}

// AccountAddress returns the current receiving address of account. A new
// one is taken from the key pool when forceNew is set, when the account
// has none yet, or when the current one has already received funds.
func (w *Wallet) AccountAddress(account string, forceNew bool) (btcutil.Address, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}

	var current string
	var used bool
	err := w.view(func(tx walletdb.ReadTx) error {
		current = string(tx.ReadBucket(accountsBucketName).Get([]byte(account)))
		if current == "" {
			return nil
		}
		if label, ok := fetchLabel(tx, current); !ok || label != account {
			current = ""
			return nil
		}
		return tx.ReadBucket(creditBucketName).ForEach(func(k, v []byte) error {
			c, err := deserializeCredit(k, v)
			if err == nil && c.Address == current {
				used = true
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if current != "" && !used && !forceNew {
		return w.DecodeAddress(current)
	}

	addr, err := w.NewAddress(account)
	if err != nil {
		return nil, err
	}
	err = w.update(func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(accountsBucketName).Put([]byte(account),
			[]byte(addr.EncodeAddress()))
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// AddressesByAccount returns the addresses labelled with account, sorted.
func (w *Wallet) AddressesByAccount(account string) ([]string, error) {
	var addrs []string
	err := w.view(func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(addrBookBucketName).ForEach(func(k, v []byte) error {
			if string(v) == account {
				addrs = append(addrs, string(k))
			}
			return nil
		})
	})
	sort.Strings(addrs)
	return addrs, err
}

// AccountNames returns every account that labels a wallet address or
// appears in an accounting entry. The empty account is always present.
func (w *Wallet) AccountNames() ([]string, error) {
	seen := map[string]struct{}{"": {}}
	err := w.view(func(tx walletdb.ReadTx) error {
		err := tx.ReadBucket(addrBookBucketName).ForEach(func(k, v []byte) error {
			if w.haveAddress(tx, string(k)) {
				seen[string(v)] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.ReadBucket(movesBucketName).ForEach(func(_, v []byte) error {
			m, err := deserializeMove(v)
			if err != nil {
				return nil
			}
			seen[m.From] = struct{}{}
			seen[m.To] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Move records an accounting entry shifting amount from one account to
// another. No transaction is created.
func (w *Wallet) Move(from, to string, amount btcutil.Amount, comment string) error {
	if err := validateAccount(from); err != nil {
		return err
	}
	if err := validateAccount(to); err != nil {
		return err
	}
	if amount <= 0 {
		return walletError(ErrInvalidAmount, "Invalid amount", nil)
	}

	m := &moveRecord{
		Time:    time.Now().Unix(),
		Amount:  amount,
		From:    from,
		To:      to,
		Comment: comment,
	}
	return w.update(func(tx walletdb.ReadWriteTx) error {
		moves := tx.ReadWriteBucket(movesBucketName)
		seq, err := moves.NextSequence()
		if err != nil {
			return err
		}
		return moves.Put(uint64Key(seq), serializeMove(m))
	})
}

// fetchMoves returns every accounting entry in insertion order.
func fetchMoves(tx walletdb.ReadTx) []*moveRecord {
	var moves []*moveRecord
	_ = tx.ReadBucket(movesBucketName).ForEach(func(_, v []byte) error {
		if m, err := deserializeMove(v); err == nil {
			moves = append(moves, m)
		}
		return nil
	})
	return moves
}
