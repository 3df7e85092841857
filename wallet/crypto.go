package wallet

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/czh0526/btc-walletd/internal/zero"
	"github.com/czh0526/btc-walletd/snacl"
	"github.com/czh0526/btc-walletd/walletdb"
	"github.com/czh0526/btc-walletd/walletdb/migration"
)

var errLocked = walletError(ErrLocked,
	"Error: Please enter the wallet passphrase with walletpassphrase first.",
	nil)

// IsEncrypted reports whether the wallet's private keys are encrypted.
func (w *Wallet) IsEncrypted() bool {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.encrypted
}

// IsLocked reports whether the wallet is encrypted and its keys are not
// available. An unencrypted wallet is never locked.
func (w *Wallet) IsLocked() bool {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.isLocked()
}

func (w *Wallet) isLocked() bool {
	return w.encrypted && w.cryptoKey == nil
}

// UnlockedUntil returns when an unlocked wallet relocks. It is the zero
// time for locked, unencrypted or indefinitely unlocked wallets.
func (w *Wallet) UnlockedUntil() time.Time {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	if w.isLocked() {
		return time.Time{}
	}
	return w.unlockedUntil
}

// EnsureUnlocked returns ErrLocked when private keys are unavailable.
func (w *Wallet) EnsureUnlocked() error {
	if w.IsLocked() {
		return errLocked
	}
	return nil
}

// fetchMasterKey reads the master key parameters and the encrypted crypto
// key.
func fetchMasterKey(tx walletdb.ReadTx) (*snacl.SecretKey, []byte, error) {
	crypto := tx.ReadBucket(cryptoBucketName)
	if crypto == nil {
		return nil, nil, walletError(ErrCorrupt, "missing crypto bucket", nil)
	}
	params := crypto.Get(masterKeyParamsKey)
	encKey := crypto.Get(cryptoKeyKey)
	if params == nil || encKey == nil {
		return nil, nil, walletError(ErrCorrupt, "missing master key", nil)
	}

	var sk snacl.SecretKey
	if err := sk.Unmarshal(params); err != nil {
		return nil, nil, walletError(ErrCorrupt, "bad master key params", err)
	}
	return &sk, append([]byte(nil), encKey...), nil
}

// unlockCryptoKey derives the master key from pass and decrypts the
// crypto key with it.
func unlockCryptoKey(tx walletdb.ReadTx, pass []byte) (*snacl.CryptoKey, error) {
	sk, encKey, err := fetchMasterKey(tx)
	if err != nil {
		return nil, err
	}
	defer sk.Zero()

	if err := sk.DeriveKey(&pass); err != nil {
		if errors.Is(err, snacl.ErrInvalidPassword) {
			return nil, walletError(ErrWrongPassphrase,
				"Error: The wallet passphrase entered was incorrect.",
				nil)
		}
		return nil, walletError(ErrDatabase, "unable to derive master key",
			err)
	}

	raw, err := sk.Decrypt(encKey)
	if err != nil {
		return nil, walletError(ErrCorrupt, "unable to decrypt crypto key",
			err)
	}
	defer zero.Bytes(raw)
	if len(raw) != snacl.KeySize {
		return nil, walletError(ErrCorrupt, "bad crypto key length", nil)
	}

	var ck snacl.CryptoKey
	copy(ck[:], raw)
	return &ck, nil
}

// putMasterKey stores the master key parameters and the crypto key
// encrypted with the master key.
func putMasterKey(tx walletdb.ReadWriteTx, sk *snacl.SecretKey,
	ck *snacl.CryptoKey) error {

	encKey, err := sk.Encrypt(ck[:])
	if err != nil {
		return err
	}
	crypto := tx.ReadWriteBucket(cryptoBucketName)
	if err := crypto.Put(masterKeyParamsKey, sk.Marshal()); err != nil {
		return err
	}
	return crypto.Put(cryptoKeyKey, encKey)
}

// EncryptWallet encrypts the seed and every private key with a key derived
// from pass, then locks the wallet. Wallets below FeatureWalletCrypt are
// upgraded first. A new HD seed replaces the old one and the key pool is
// refilled from it, so backups taken before encryption cannot derive
// future addresses. Registered shutdown hooks run on success.
func (w *Wallet) EncryptWallet(pass []byte) error {
	if err := w.encrypt(pass, true); err != nil {
		return err
	}
	w.requestShutdown()
	return nil
}

// encrypt encrypts the wallet under pass, replacing the seed and the key
// pool when newSeed is set. The database is rewritten afterwards so the
// plaintext records do not survive in freed pages.
func (w *Wallet) encrypt(pass []byte, newSeed bool) error {
	if len(pass) == 0 {
		return walletError(ErrWrongPassphrase, "passphrase can not be empty",
			nil)
	}

	w.mtx.Lock()
	if w.encrypted {
		w.mtx.Unlock()
		return walletError(ErrWrongEncState, "Error: running with an "+
			"encrypted wallet, but encryptwallet was called.", nil)
	}

	opts := w.cfg.ScryptOptions
	master, err := snacl.NewSecretKey(&pass, opts.N, opts.R, opts.P)
	if err != nil {
		w.mtx.Unlock()
		return walletError(ErrDatabase, "unable to create master key", err)
	}
	defer master.Zero()

	ck, err := snacl.GenerateCryptoKey()
	if err != nil {
		w.mtx.Unlock()
		return walletError(ErrDatabase, "unable to create crypto key", err)
	}

	var seed []byte
	if newSeed {
		seed, err = hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
		if err != nil {
			w.mtx.Unlock()
			ck.Zero()
			return walletError(ErrDatabase, "unable to create seed", err)
		}
		defer zero.Bytes(seed)
	}

	// New pool keys are derived and stored encrypted within the same
	// transaction.
	w.encrypted, w.cryptoKey = true, ck

	version := w.version
	err = w.update(func(tx walletdb.ReadWriteTx) error {
		main := tx.ReadWriteBucket(mainBucketName)
		if version < FeatureWalletCrypt {
			var err error
			version, err = migration.Upgrade(&versionManager{ns: main},
				FeatureWalletCrypt)
			if err != nil {
				return err
			}
		}
		if err := putMasterKey(tx, master, ck); err != nil {
			return err
		}

		if seed == nil {
			seed = append([]byte(nil), main.Get(seedKey)...)
			defer zero.Bytes(seed)
		}
		encSeed, err := ck.Encrypt(seed)
		if err != nil {
			return err
		}
		if err := main.Put(seedKey, encSeed); err != nil {
			return err
		}

		if err := encryptKeyRecords(tx, ck); err != nil {
			return err
		}

		if !newSeed {
			return nil
		}
		if err := putUint32(main, nextIndexKey, 0); err != nil {
			return err
		}
		if err := emptyBucket(tx.ReadWriteBucket(poolBucketName)); err != nil {
			return err
		}
		return w.topUpKeyPool(tx, w.cfg.KeyPoolSize)
	})
	w.cryptoKey = nil
	ck.Zero()
	w.purgeKeyCache()
	if err != nil {
		w.encrypted = false
		w.mtx.Unlock()
		return walletError(ErrDatabase, "Error: Failed to encrypt the "+
			"wallet.", err)
	}
	w.version = version
	w.mtx.Unlock()

	log.Infof("Wallet encrypted")

	if err := w.db.Rewrite(); err != nil {
		return walletError(ErrDatabase, "wallet encrypted but the "+
			"database could not be rewritten, unencrypted keys may "+
			"remain in the wallet file", err)
	}
	return nil
}

// encryptKeyRecords encrypts every private key not yet encrypted.
func encryptKeyRecords(tx walletdb.ReadWriteTx, ck *snacl.CryptoKey) error {
	keys := tx.ReadWriteBucket(keysBucketName)
	plain := make(map[string]*keyRecord)
	err := keys.ForEach(func(k, v []byte) error {
		rec, err := deserializeKeyRecord(v)
		if err != nil {
			return err
		}
		if !rec.encrypted() {
			plain[string(k)] = rec
		}
		return nil
	})
	if err != nil {
		return err
	}
	for addr, rec := range plain {
		enc, err := ck.Encrypt(rec.PrivKey)
		if err != nil {
			return err
		}
		zero.Bytes(rec.PrivKey)
		rec.PrivKey = enc
		rec.Flags |= keyFlagEncrypted
		err = keys.Put([]byte(addr), serializeKeyRecord(rec))
		if err != nil {
			return err
		}
	}
	return nil
}

// emptyBucket deletes every key of b.
func emptyBucket(b walletdb.ReadWriteBucket) error {
	var keys [][]byte
	err := b.ForEach(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Unlock makes private keys available until timeout passes. A zero
// timeout unlocks until Lock is called. The key pool is topped up once
// unlocked.
func (w *Wallet) Unlock(pass []byte, timeout time.Duration) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if !w.encrypted {
		return walletError(ErrWrongEncState, "Error: running with an "+
			"unencrypted wallet, but walletpassphrase was called.", nil)
	}

	var ck *snacl.CryptoKey
	err := w.view(func(tx walletdb.ReadTx) error {
		var err error
		ck, err = unlockCryptoKey(tx, pass)
		return err
	})
	if err != nil {
		return err
	}

	if w.cryptoKey != nil {
		w.cryptoKey.Zero()
	}
	w.cryptoKey = ck

	if w.relockTimer != nil {
		w.relockTimer.Stop()
		w.relockTimer = nil
	}
	w.unlockedUntil = time.Time{}
	if timeout > 0 {
		w.unlockedUntil = time.Now().Add(timeout)
		w.relockTimer = time.AfterFunc(timeout, func() {
			w.mtx.Lock()
			w.lockLocked()
			w.mtx.Unlock()
			log.Debugf("Wallet relocked after timeout")
		})
	}

	err = w.update(func(tx walletdb.ReadWriteTx) error {
		return w.topUpKeyPool(tx, w.cfg.KeyPoolSize)
	})
	if err != nil {
		log.Warnf("Unable to top up key pool: %v", err)
	}
	return nil
}

// Lock removes the decryption key from memory.
func (w *Wallet) Lock() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if !w.encrypted {
		return walletError(ErrWrongEncState, "Error: running with an "+
			"unencrypted wallet, but walletlock was called.", nil)
	}
	w.lockLocked()
	return nil
}

// lockLocked locks the wallet. Callers hold w.mtx.
func (w *Wallet) lockLocked() {
	if w.relockTimer != nil {
		w.relockTimer.Stop()
		w.relockTimer = nil
	}
	w.unlockedUntil = time.Time{}
	if w.cryptoKey != nil {
		w.cryptoKey.Zero()
		w.cryptoKey = nil
	}
}

// ChangePassphrase re-encrypts the crypto key under a key derived from
// newPass. Private keys are not touched.
func (w *Wallet) ChangePassphrase(oldPass, newPass []byte) error {
	if len(newPass) == 0 {
		return walletError(ErrWrongPassphrase, "passphrase can not be empty",
			nil)
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	if !w.encrypted {
		return walletError(ErrWrongEncState, "Error: running with an "+
			"unencrypted wallet, but walletpassphrasechange was called.",
			nil)
	}

	opts := w.cfg.ScryptOptions
	return w.update(func(tx walletdb.ReadWriteTx) error {
		ck, err := unlockCryptoKey(tx, oldPass)
		if err != nil {
			return err
		}
		defer ck.Zero()

		master, err := snacl.NewSecretKey(&newPass, opts.N, opts.R, opts.P)
		if err != nil {
			return err
		}
		defer master.Zero()

		return putMasterKey(tx, master, ck)
	})
}

func (w *Wallet) purgeKeyCache() {
	var addrs []string
	w.keyCache.Range(func(addr string, _ *keyRecord) bool {
		addrs = append(addrs, addr)
		return true
	})
	for _, addr := range addrs {
		w.keyCache.Delete(addr)
	}
}
