package wallet

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/walletdb"
)

const signedMessageMagic = "Bitcoin Signed Message:\n"

// messageHash returns the double SHA256 of the magic prefixed message.
func messageHash(msg string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, signedMessageMagic)
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage returns the base64 compact signature of msg by the key of a
// P2PKH wallet address.
func (w *Wallet) SignMessage(addr btcutil.Address, msg string) (string, error) {
	if _, ok := addr.(*btcutil.AddressPubKeyHash); !ok {
		return "", walletError(ErrInvalidAddress,
			"Address does not refer to key", nil)
	}
	if err := w.EnsureUnlocked(); err != nil {
		return "", err
	}

	priv, compressed, err := w.PrivKey(addr)
	if err != nil {
		if IsError(err, ErrAddressNotFound) {
			return "", walletError(ErrAddressNotFound,
				"Private key not available", err)
		}
		return "", err
	}
	defer priv.Zero()

	sig, err := ecdsa.SignCompact(priv, messageHash(msg), compressed)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyMessage reports whether sig is a valid signature of msg by the key
// of the P2PKH address addr.
func VerifyMessage(addr btcutil.Address, sig, msg string,
	params *chaincfg.Params) (bool, error) {

	if _, ok := addr.(*btcutil.AddressPubKeyHash); !ok {
		return false, walletError(ErrInvalidAddress,
			"Address does not refer to key", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, walletError(ErrInvalidAddress,
			"Malformed base64 encoding", err)
	}

	pub, compressed, err := ecdsa.RecoverCompact(raw, messageHash(msg))
	if err != nil {
		return false, nil
	}
	var serialized []byte
	if compressed {
		serialized = pub.SerializeCompressed()
	} else {
		serialized = pub.SerializeUncompressed()
	}
	recovered, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(serialized), params)
	if err != nil {
		return false, err
	}
	return recovered.EncodeAddress() == addr.EncodeAddress(), nil
}

// MultiSig is a P2SH multisignature address with its redeem script.
type MultiSig struct {
	Address      *btcutil.AddressScriptHash
	RedeemScript []byte
}

// CreateMultiSig builds an nRequired-of-len(keys) P2SH address. Keys are
// hex public keys or wallet addresses whose public key is known.
func (w *Wallet) CreateMultiSig(nRequired int, keys []string) (*MultiSig, error) {
	return NewMultiSig(w.chainParams, nRequired, keys, w.PubKey)
}

// NewMultiSig builds an nRequired-of-len(keys) P2SH address from hex public
// keys. lookup, when set, resolves P2PKH addresses to their public key.
func NewMultiSig(params *chaincfg.Params, nRequired int, keys []string,
	lookup func(btcutil.Address) ([]byte, error)) (*MultiSig, error) {

	if nRequired < 1 {
		return nil, walletError(ErrInvalidAmount, "a multisignature address "+
			"must require at least one key to redeem", nil)
	}
	if len(keys) < nRequired {
		return nil, walletError(ErrInvalidAmount, fmt.Sprintf("not enough "+
			"keys supplied (got %d keys, but need at least %d to redeem)",
			len(keys), nRequired), nil)
	}
	if len(keys) > 16 {
		return nil, walletError(ErrInvalidAmount, "Number of addresses "+
			"involved in the multisignature address creation > 16", nil)
	}

	pubKeys := make([]*btcutil.AddressPubKey, 0, len(keys))
	for _, k := range keys {
		pk, err := resolvePubKey(params, k, lookup)
		if err != nil {
			return nil, err
		}
		pubKeys = append(pubKeys, pk)
	}

	script, err := txscript.MultiSigScript(pubKeys, nRequired)
	if err != nil {
		return nil, walletError(ErrInvalidAmount, "unable to build "+
			"multisig script", err)
	}
	addr, err := btcutil.NewAddressScriptHash(script, params)
	if err != nil {
		return nil, err
	}
	return &MultiSig{Address: addr, RedeemScript: script}, nil
}

// resolvePubKey parses a hex public key, or looks up the public key of an
// address.
func resolvePubKey(params *chaincfg.Params, k string,
	lookup func(btcutil.Address) ([]byte, error)) (*btcutil.AddressPubKey, error) {

	if addr, err := btcutil.DecodeAddress(k, params); err == nil && lookup != nil {
		if _, ok := addr.(*btcutil.AddressPubKeyHash); ok {
			pub, err := lookup(addr)
			if err != nil {
				return nil, walletError(ErrInvalidAddress, fmt.Sprintf(
					"no full public key for address %s", k), err)
			}
			return btcutil.NewAddressPubKey(pub, params)
		}
	}

	raw, err := hex.DecodeString(k)
	if err != nil {
		return nil, walletError(ErrInvalidAddress, fmt.Sprintf(
			"Invalid public key: %s", k), err)
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return nil, walletError(ErrInvalidAddress, fmt.Sprintf(
			"Invalid public key: %s", k), err)
	}
	return btcutil.NewAddressPubKey(raw, params)
}

// AddMultiSigAddress creates a multisig address and stores its redeem
// script so the wallet tracks and can sign for it. The address is
// labelled with account.
func (w *Wallet) AddMultiSigAddress(nRequired int, keys []string,
	account string) (btcutil.Address, error) {

	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if w.Version() < FeatureMultisig {
		return nil, walletError(ErrUnsupported, "wallet version does not "+
			"support multisig addresses, run upgradewallet", nil)
	}

	ms, err := w.CreateMultiSig(nRequired, keys)
	if err != nil {
		return nil, err
	}

	encoded := ms.Address.EncodeAddress()
	err = w.update(func(tx walletdb.ReadWriteTx) error {
		scripts := tx.ReadWriteBucket(scriptBucketName)
		if err := scripts.Put([]byte(encoded), ms.RedeemScript); err != nil {
			return err
		}
		return putLabel(tx, encoded, account)
	})
	if err != nil {
		return nil, err
	}

	w.watchAddresses(ms.Address)
	return ms.Address, nil
}
