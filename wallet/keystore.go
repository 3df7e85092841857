package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/czh0526/btc-walletd/internal/zero"
	"github.com/czh0526/btc-walletd/walletdb"
)

// Keys are derived at m/0'/0'/index'.
const (
	hdAccount = hdkeychain.HardenedKeyStart + 0
	hdBranch  = hdkeychain.HardenedKeyStart + 0
)

var _ txscript.KeyDB = (*Wallet)(nil)
var _ txscript.ScriptDB = (*Wallet)(nil)

func (w *Wallet) deriveKey(seed []byte, index uint32) (*btcec.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(seed, w.chainParams)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	acct, err := master.Derive(hdAccount)
	if err != nil {
		return nil, err
	}
	branch, err := acct.Derive(hdBranch)
	if err != nil {
		return nil, err
	}
	child, err := branch.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, err
	}
	return child.ECPrivKey()
}

// masterKey returns the wallet's extended private master key. The wallet
// must be unlocked.
func (w *Wallet) masterKey() (*hdkeychain.ExtendedKey, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	var master *hdkeychain.ExtendedKey
	err := w.view(func(tx walletdb.ReadTx) error {
		seed, err := w.fetchSeed(tx.ReadBucket(mainBucketName))
		if err != nil {
			return err
		}
		defer zero.Bytes(seed)
		master, err = hdkeychain.NewMaster(seed, w.chainParams)
		return err
	})
	return master, err
}

// fetchSeed returns a copy of the plaintext seed. Callers hold w.mtx.
func (w *Wallet) fetchSeed(main walletdb.ReadBucket) ([]byte, error) {
	stored := main.Get(seedKey)
	if stored == nil {
		return nil, walletError(ErrCorrupt, "missing wallet seed", nil)
	}
	if !w.encrypted {
		return append([]byte(nil), stored...), nil
	}
	if w.cryptoKey == nil {
		return nil, errLocked
	}
	seed, err := w.cryptoKey.Decrypt(stored)
	if err != nil {
		return nil, walletError(ErrCorrupt, "unable to decrypt seed", err)
	}
	return seed, nil
}

// addressForPubKey returns the P2PKH address of a serialized public key.
func (w *Wallet) addressForPubKey(pubKey []byte) (*btcutil.AddressPubKeyHash, error) {
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), w.chainParams)
}

// newKey derives the next HD key and stores it. Callers hold w.mtx and
// the wallet is unlocked.
func (w *Wallet) newKey(tx walletdb.ReadWriteTx) (string, error) {
	main := tx.ReadWriteBucket(mainBucketName)
	seed, err := w.fetchSeed(main)
	if err != nil {
		return "", err
	}
	defer zero.Bytes(seed)

	index := fetchUint32(main, nextIndexKey)
	privKey, err := w.deriveKey(seed, index)
	if err != nil {
		return "", err
	}

	rec := &keyRecord{
		Index:   index,
		Created: time.Now().Unix(),
		PubKey:  privKey.PubKey().SerializeCompressed(),
	}
	if err := w.setPrivKey(rec, privKey.Serialize()); err != nil {
		return "", err
	}

	addr, err := w.addressForPubKey(rec.PubKey)
	if err != nil {
		return "", err
	}
	encoded := addr.EncodeAddress()
	if err := w.putKeyRecord(tx, encoded, rec); err != nil {
		return "", err
	}
	if err := putUint32(main, nextIndexKey, index+1); err != nil {
		return "", err
	}
	return encoded, nil
}

// setPrivKey stores priv in rec, encrypting it when the wallet is
// encrypted. priv is zeroed.
func (w *Wallet) setPrivKey(rec *keyRecord, priv []byte) error {
	defer zero.Bytes(priv)

	if !w.encrypted {
		rec.Flags &^= keyFlagEncrypted
		rec.PrivKey = append([]byte(nil), priv...)
		return nil
	}
	if w.cryptoKey == nil {
		return errLocked
	}
	enc, err := w.cryptoKey.Encrypt(priv)
	if err != nil {
		return err
	}
	rec.Flags |= keyFlagEncrypted
	rec.PrivKey = enc
	return nil
}

func (w *Wallet) putKeyRecord(tx walletdb.ReadWriteTx, addr string, rec *keyRecord) error {
	err := tx.ReadWriteBucket(keysBucketName).Put([]byte(addr),
		serializeKeyRecord(rec))
	if err != nil {
		return err
	}
	_, _ = w.keyCache.Put(addr, rec)
	return nil
}

// fetchKeyRecord looks addr up in the cache, then in the database. It
// returns nil for addresses the wallet has no key for.
func (w *Wallet) fetchKeyRecord(tx walletdb.ReadTx, addr string) (*keyRecord, error) {
	if rec, err := w.keyCache.Get(addr); err == nil {
		return rec, nil
	}
	v := tx.ReadBucket(keysBucketName).Get([]byte(addr))
	if v == nil {
		return nil, nil
	}
	rec, err := deserializeKeyRecord(v)
	if err != nil {
		return nil, walletError(ErrCorrupt, "unreadable key record", err)
	}
	_, _ = w.keyCache.Put(addr, rec)
	return rec, nil
}

// topUpKeyPool derives keys until the pool holds size entries. Callers
// hold w.mtx.
func (w *Wallet) topUpKeyPool(tx walletdb.ReadWriteTx, size int) error {
	if size <= 0 {
		size = 1
	}
	pool := tx.ReadWriteBucket(poolBucketName)
	have := countBucket(pool)
	for ; have < size; have++ {
		addr, err := w.newKey(tx)
		if err != nil {
			return err
		}
		seq, err := pool.NextSequence()
		if err != nil {
			return err
		}
		if err := pool.Put(uint64Key(seq), []byte(addr)); err != nil {
			return err
		}
	}
	return nil
}

// TopUpKeyPool fills the key pool to size entries, the configured pool
// size when size is 0. The wallet must be unlocked.
func (w *Wallet) TopUpKeyPool(size int) error {
	if size <= 0 {
		size = w.cfg.KeyPoolSize
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.isLocked() {
		return errLocked
	}
	return w.update(func(tx walletdb.ReadWriteTx) error {
		return w.topUpKeyPool(tx, size)
	})
}

// reserveKey removes the oldest key from the pool, topping the pool up
// first when the wallet is unlocked. Callers hold w.mtx.
func (w *Wallet) reserveKey(tx walletdb.ReadWriteTx, change bool) (string, error) {
	if !w.isLocked() {
		if err := w.topUpKeyPool(tx, w.cfg.KeyPoolSize); err != nil {
			return "", err
		}
	}

	pool := tx.ReadWriteBucket(poolBucketName)
	c := pool.ReadWriteCursor()
	k, v := c.First()
	if k == nil {
		return "", walletError(ErrKeypoolRanOut,
			"Keypool ran out, please call keypoolrefill first", nil)
	}
	addr := string(v)
	if err := c.Delete(); err != nil {
		return "", err
	}

	if change {
		rec, err := w.fetchKeyRecord(tx, addr)
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "", walletError(ErrCorrupt, fmt.Sprintf(
				"key pool entry %s has no key", addr), nil)
		}
		updated := *rec
		updated.Flags |= keyFlagChange
		if err := w.putKeyRecord(tx, addr, &updated); err != nil {
			return "", err
		}
	}
	return addr, nil
}

// NewAddress takes a key from the pool and labels it with account.
func (w *Wallet) NewAddress(account string) (btcutil.Address, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}

	w.mtx.Lock()
	var addr string
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		var err error
		addr, err = w.reserveKey(tx, false)
		if err != nil {
			return err
		}
		return putLabel(tx, addr, account)
	})
	w.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	decoded, err := btcutil.DecodeAddress(addr, w.chainParams)
	if err != nil {
		return nil, err
	}
	w.watchAddresses(decoded)
	return decoded, nil
}

// NewChangeAddress takes a key from the pool for use as change. Change
// addresses get no label.
func (w *Wallet) NewChangeAddress() (btcutil.Address, error) {
	w.mtx.Lock()
	var addr string
	err := w.update(func(tx walletdb.ReadWriteTx) error {
		var err error
		addr, err = w.reserveKey(tx, true)
		return err
	})
	w.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	decoded, err := btcutil.DecodeAddress(addr, w.chainParams)
	if err != nil {
		return nil, err
	}
	w.watchAddresses(decoded)
	return decoded, nil
}

// watchAddresses asks the chain backend to report payments to addrs.
func (w *Wallet) watchAddresses(addrs ...btcutil.Address) {
	c := w.ChainClient()
	if c == nil || len(addrs) == 0 {
		return
	}
	if err := c.NotifyReceived(addrs); err != nil {
		log.Warnf("Unable to watch addresses: %v", err)
	}
}

// KeyPoolSize returns the number of keys left in the pool.
func (w *Wallet) KeyPoolSize() int {
	var n int
	_ = w.view(func(tx walletdb.ReadTx) error {
		n = countBucket(tx.ReadBucket(poolBucketName))
		return nil
	})
	return n
}

// KeyPoolOldest returns the creation time of the oldest pool key, or the
// zero time for an empty pool.
func (w *Wallet) KeyPoolOldest() time.Time {
	var oldest time.Time
	_ = w.view(func(tx walletdb.ReadTx) error {
		k, v := tx.ReadBucket(poolBucketName).ReadCursor().First()
		if k == nil {
			return nil
		}
		rec, err := w.fetchKeyRecord(tx, string(v))
		if err != nil || rec == nil {
			return err
		}
		oldest = time.Unix(rec.Created, 0)
		return nil
	})
	return oldest
}

// HaveAddress reports whether the wallet holds the key or script for addr.
func (w *Wallet) HaveAddress(addr btcutil.Address) bool {
	var have bool
	_ = w.view(func(tx walletdb.ReadTx) error {
		have = w.haveAddress(tx, addr.EncodeAddress())
		return nil
	})
	return have
}

func (w *Wallet) haveAddress(tx walletdb.ReadTx, addr string) bool {
	if rec, _ := w.fetchKeyRecord(tx, addr); rec != nil {
		return true
	}
	if scripts := tx.ReadBucket(scriptBucketName); scripts != nil {
		return scripts.Get([]byte(addr)) != nil
	}
	return false
}

// PubKey returns the serialized public key for a wallet address.
func (w *Wallet) PubKey(addr btcutil.Address) ([]byte, error) {
	var pub []byte
	err := w.view(func(tx walletdb.ReadTx) error {
		rec, err := w.fetchKeyRecord(tx, addr.EncodeAddress())
		if err != nil {
			return err
		}
		if rec == nil {
			return errAddressNotFound(addr.EncodeAddress())
		}
		pub = rec.PubKey
		return nil
	})
	return pub, err
}

// PrivKey returns the private key for a wallet address and whether its
// public key is compressed. The wallet must be unlocked.
func (w *Wallet) PrivKey(addr btcutil.Address) (*btcec.PrivateKey, bool, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	var (
		priv       *btcec.PrivateKey
		compressed bool
	)
	err := w.view(func(tx walletdb.ReadTx) error {
		rec, err := w.fetchKeyRecord(tx, addr.EncodeAddress())
		if err != nil {
			return err
		}
		if rec == nil {
			return errAddressNotFound(addr.EncodeAddress())
		}
		raw, err := w.decryptPrivKey(rec)
		if err != nil {
			return err
		}
		defer zero.Bytes(raw)
		priv, _ = btcec.PrivKeyFromBytes(raw)
		compressed = len(rec.PubKey) == btcec.PubKeyBytesLenCompressed
		return nil
	})
	return priv, compressed, err
}

// decryptPrivKey returns a fresh plaintext copy of the record's private
// key. Callers hold w.mtx.
func (w *Wallet) decryptPrivKey(rec *keyRecord) ([]byte, error) {
	if !rec.encrypted() {
		return append([]byte(nil), rec.PrivKey...), nil
	}
	if w.cryptoKey == nil {
		return nil, errLocked
	}
	raw, err := w.cryptoKey.Decrypt(rec.PrivKey)
	if err != nil {
		return nil, walletError(ErrCorrupt, "unable to decrypt key", err)
	}
	return raw, nil
}

// GetKey implements txscript.KeyDB.
func (w *Wallet) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool, error) {
	return w.PrivKey(addr)
}

// GetScript implements txscript.ScriptDB.
func (w *Wallet) GetScript(addr btcutil.Address) ([]byte, error) {
	var script []byte
	err := w.view(func(tx walletdb.ReadTx) error {
		scripts := tx.ReadBucket(scriptBucketName)
		if scripts != nil {
			script = append([]byte(nil), scripts.Get([]byte(addr.EncodeAddress()))...)
		}
		if len(script) == 0 {
			return errAddressNotFound(addr.EncodeAddress())
		}
		return nil
	})
	return script, err
}

// ImportPrivKey adds an externally generated key labelled with account.
// Importing a key the wallet already has returns ErrDuplicate.
func (w *Wallet) ImportPrivKey(wif *btcutil.WIF, account string,
	created time.Time) (btcutil.Address, error) {

	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if !wif.IsForNet(w.chainParams) {
		return nil, walletError(ErrInvalidAddress,
			"private key is for the wrong network", nil)
	}

	pub := wif.SerializePubKey()
	addr, err := w.addressForPubKey(pub)
	if err != nil {
		return nil, err
	}
	encoded := addr.EncodeAddress()

	w.mtx.Lock()
	err = w.update(func(tx walletdb.ReadWriteTx) error {
		existing, err := w.fetchKeyRecord(tx, encoded)
		if err != nil {
			return err
		}
		if existing != nil {
			return walletError(ErrDuplicate, "key already in wallet", nil)
		}
		if w.isLocked() {
			return errLocked
		}

		rec := &keyRecord{
			Flags:   keyFlagImported,
			Created: created.Unix(),
			PubKey:  pub,
		}
		if err := w.setPrivKey(rec, wif.PrivKey.Serialize()); err != nil {
			return err
		}
		if err := w.putKeyRecord(tx, encoded, rec); err != nil {
			return err
		}
		return putLabel(tx, encoded, account)
	})
	w.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	w.watchAddresses(addr)
	return addr, nil
}

// Addresses returns every address the wallet holds a key or script for.
func (w *Wallet) Addresses() ([]btcutil.Address, error) {
	var addrs []btcutil.Address
	err := w.view(func(tx walletdb.ReadTx) error {
		collect := func(k, _ []byte) error {
			a, err := btcutil.DecodeAddress(string(k), w.chainParams)
			if err != nil {
				return nil
			}
			addrs = append(addrs, a)
			return nil
		}
		if err := tx.ReadBucket(keysBucketName).ForEach(collect); err != nil {
			return err
		}
		if scripts := tx.ReadBucket(scriptBucketName); scripts != nil {
			return scripts.ForEach(collect)
		}
		return nil
	})
	return addrs, err
}

// DefaultAddress returns the key created on first run.
func (w *Wallet) DefaultAddress() (btcutil.Address, error) {
	var addr string
	err := w.view(func(tx walletdb.ReadTx) error {
		addr = string(tx.ReadBucket(mainBucketName).Get(defaultKeyKey))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if addr == "" {
		return nil, errors.New("wallet has no default key")
	}
	return btcutil.DecodeAddress(addr, w.chainParams)
}

// AddressInfo describes a wallet address for validateaddress.
type AddressInfo struct {
	IsMine       bool
	IsScript     bool
	PubKey       string
	IsCompressed bool
	Account      string
	HasAccount   bool
}

// AddressInfo reports what the wallet knows about addr.
func (w *Wallet) AddressInfo(addr btcutil.Address) (*AddressInfo, error) {
	info := &AddressInfo{}
	encoded := addr.EncodeAddress()
	err := w.view(func(tx walletdb.ReadTx) error {
		rec, err := w.fetchKeyRecord(tx, encoded)
		if err != nil {
			return err
		}
		if rec != nil {
			info.IsMine = true
			info.PubKey = hex.EncodeToString(rec.PubKey)
			info.IsCompressed = len(rec.PubKey) == btcec.PubKeyBytesLenCompressed
		} else if scripts := tx.ReadBucket(scriptBucketName); scripts != nil &&
			scripts.Get([]byte(encoded)) != nil {

			info.IsMine = true
			info.IsScript = true
		}
		info.Account, info.HasAccount = fetchLabel(tx, encoded)
		return nil
	})
	return info, err
}

func errAddressNotFound(addr string) error {
	return walletError(ErrAddressNotFound,
		fmt.Sprintf("address %s is not in the wallet", addr), nil)
}
