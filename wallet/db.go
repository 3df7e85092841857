package wallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/walletdb"
	"github.com/czh0526/btc-walletd/walletdb/migration"
)

// Wallet versions. Each one is a feature level; opening a wallet written at
// a level above FeatureLatest fails with ErrTooNew.
const (
	FeatureBase        uint32 = 10500
	FeatureWalletCrypt uint32 = 40000
	FeatureMultisig    uint32 = 60000

	FeatureLatest = FeatureMultisig
)

var (
	mainBucketName     = []byte("main")
	keysBucketName     = []byte("keys")
	poolBucketName     = []byte("keypool")
	addrBookBucketName = []byte("addrbook")
	accountsBucketName = []byte("accounts")
	movesBucketName    = []byte("moves")
	txBucketName       = []byte("txs")
	creditBucketName   = []byte("credits")
	cryptoBucketName   = []byte("crypto")
	scriptBucketName   = []byte("scripts")

	versionKey    = []byte("version")
	createdKey    = []byte("created")
	seedKey       = []byte("seed")
	nextIndexKey  = []byte("nextindex")
	syncedKey     = []byte("synced")
	defaultKeyKey = []byte("defaultkey")

	masterKeyParamsKey = []byte("mkparams")
	cryptoKeyKey       = []byte("ckey")
)

// baseBuckets exist in every wallet version.
var baseBuckets = [][]byte{
	mainBucketName, keysBucketName, poolBucketName, addrBookBucketName,
	accountsBucketName, movesBucketName, txBucketName, creditBucketName,
}

// walletVersions lists the upgrade steps. Migrations receive the main
// bucket and reach other top level buckets through its transaction.
var walletVersions = []migration.Version{
	{Number: FeatureBase},
	{
		Number: FeatureWalletCrypt,
		Migration: func(ns walletdb.ReadWriteBucket) error {
			_, err := ns.Tx().CreateTopLevelBucket(cryptoBucketName)
			return err
		},
	},
	{
		Number: FeatureMultisig,
		Migration: func(ns walletdb.ReadWriteBucket) error {
			_, err := ns.Tx().CreateTopLevelBucket(scriptBucketName)
			return err
		},
	},
}

// versionManager adapts the wallet's main bucket to migration.Manager.
type versionManager struct {
	ns walletdb.ReadWriteBucket
}

var _ migration.Manager = (*versionManager)(nil)

func (m *versionManager) Name() string { return "wallet" }

func (m *versionManager) Namespace() walletdb.ReadWriteBucket { return m.ns }

func (m *versionManager) CurrentVersion(ns walletdb.ReadBucket) (uint32, error) {
	if ns == nil {
		ns = m.ns
	}
	return fetchVersion(ns)
}

func (m *versionManager) SetVersion(ns walletdb.ReadWriteBucket, v uint32) error {
	if ns == nil {
		ns = m.ns
	}
	return putUint32(ns, versionKey, v)
}

func (m *versionManager) Versions() []migration.Version { return walletVersions }

func fetchVersion(ns walletdb.ReadBucket) (uint32, error) {
	v := ns.Get(versionKey)
	if len(v) != 4 {
		return 0, walletError(ErrCorrupt, "missing wallet version", nil)
	}
	return binary.LittleEndian.Uint32(v), nil
}

// createWalletBuckets lays out an empty wallet at the given version.
func createWalletBuckets(tx walletdb.ReadWriteTx, version uint32) error {
	for _, name := range baseBuckets {
		if _, err := tx.CreateTopLevelBucket(name); err != nil {
			return err
		}
	}
	main := tx.ReadWriteBucket(mainBucketName)
	if err := putUint32(main, versionKey, FeatureBase); err != nil {
		return err
	}
	_, err := migration.Upgrade(&versionManager{ns: main}, version)
	return err
}

func putUint32(b walletdb.ReadWriteBucket, key []byte, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return b.Put(key, buf[:])
}

func putInt64(b walletdb.ReadWriteBucket, key []byte, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return b.Put(key, buf[:])
}

func fetchUint32(b walletdb.ReadBucket, key []byte) uint32 {
	v := b.Get(key)
	if len(v) != 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func fetchInt64(b walletdb.ReadBucket, key []byte) int64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(v))
}

func uint64Key(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

// syncState records the last block the wallet processed.
type syncState struct {
	Height int32
	Hash   chainhash.Hash
}

func putSyncState(main walletdb.ReadWriteBucket, s syncState) error {
	buf := make([]byte, 4+chainhash.HashSize)
	binary.LittleEndian.PutUint32(buf[:4], uint32(s.Height))
	copy(buf[4:], s.Hash[:])
	return main.Put(syncedKey, buf)
}

func fetchSyncState(main walletdb.ReadBucket) syncState {
	v := main.Get(syncedKey)
	if len(v) != 4+chainhash.HashSize {
		return syncState{Height: -1}
	}
	var s syncState
	s.Height = int32(binary.LittleEndian.Uint32(v[:4]))
	copy(s.Hash[:], v[4:])
	return s
}

// Key record flags.
const (
	keyFlagImported  byte = 1 << 0
	keyFlagChange    byte = 1 << 1
	keyFlagEncrypted byte = 1 << 2
)

// keyRecord is a stored private key. PrivKey is ciphertext when the
// encrypted flag is set.
type keyRecord struct {
	Flags   byte
	Index   uint32
	Created int64
	PubKey  []byte
	PrivKey []byte
}

func (r *keyRecord) imported() bool  { return r.Flags&keyFlagImported != 0 }
func (r *keyRecord) change() bool    { return r.Flags&keyFlagChange != 0 }
func (r *keyRecord) encrypted() bool { return r.Flags&keyFlagEncrypted != 0 }

// Size satisfies the neutrino cache.Value interface. Every record counts
// as one entry.
func (r *keyRecord) Size() (uint64, error) {
	return 1, nil
}

func serializeKeyRecord(r *keyRecord) []byte {
	var buf bytes.Buffer
	buf.WriteByte(r.Flags)
	_ = binary.Write(&buf, binary.LittleEndian, r.Index)
	_ = binary.Write(&buf, binary.LittleEndian, r.Created)
	_ = wire.WriteVarBytes(&buf, 0, r.PubKey)
	_ = wire.WriteVarBytes(&buf, 0, r.PrivKey)
	return buf.Bytes()
}

func deserializeKeyRecord(v []byte) (*keyRecord, error) {
	r := bytes.NewReader(v)
	var rec keyRecord
	var err error
	if rec.Flags, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.LittleEndian, &rec.Index); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.LittleEndian, &rec.Created); err != nil {
		return nil, err
	}
	if rec.PubKey, err = wire.ReadVarBytes(r, 0, 65, "pubkey"); err != nil {
		return nil, err
	}
	if rec.PrivKey, err = wire.ReadVarBytes(r, 0, 256, "privkey"); err != nil {
		return nil, err
	}
	return &rec, nil
}

// moveRecord is an accounting entry moving funds between accounts.
type moveRecord struct {
	Time    int64
	Amount  btcutil.Amount
	From    string
	To      string
	Comment string
}

func serializeMove(m *moveRecord) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, m.Time)
	_ = binary.Write(&buf, binary.LittleEndian, int64(m.Amount))
	_ = wire.WriteVarString(&buf, 0, m.From)
	_ = wire.WriteVarString(&buf, 0, m.To)
	_ = wire.WriteVarString(&buf, 0, m.Comment)
	return buf.Bytes()
}

func deserializeMove(v []byte) (*moveRecord, error) {
	r := bytes.NewReader(v)
	var m moveRecord
	var amount int64
	if err := binary.Read(r, binary.LittleEndian, &m.Time); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
		return nil, err
	}
	m.Amount = btcutil.Amount(amount)
	var err error
	if m.From, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	if m.To, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	if m.Comment, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	return &m, nil
}

// txRecord is a wallet transaction. Height is -1 while unmined.
type txRecord struct {
	Hash        chainhash.Hash
	Received    time.Time
	Height      int32
	BlockHash   chainhash.Hash
	BlockTime   time.Time
	FromAccount string
	Comment     string
	CommentTo   string
	MsgTx       wire.MsgTx
}

func (r *txRecord) mined() bool { return r.Height >= 0 }

func serializeTxRecord(r *txRecord) ([]byte, error) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, r.Received.UnixNano())
	_ = binary.Write(&buf, binary.LittleEndian, r.Height)
	buf.Write(r.BlockHash[:])
	var blockTime int64
	if !r.BlockTime.IsZero() {
		blockTime = r.BlockTime.Unix()
	}
	_ = binary.Write(&buf, binary.LittleEndian, blockTime)
	_ = wire.WriteVarString(&buf, 0, r.FromAccount)
	_ = wire.WriteVarString(&buf, 0, r.Comment)
	_ = wire.WriteVarString(&buf, 0, r.CommentTo)
	if err := r.MsgTx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeTxRecord(k, v []byte) (*txRecord, error) {
	if len(k) != chainhash.HashSize {
		return nil, fmt.Errorf("bad transaction key length %d", len(k))
	}
	var rec txRecord
	copy(rec.Hash[:], k)

	r := bytes.NewReader(v)
	var received, blockTime int64
	if err := binary.Read(r, binary.LittleEndian, &received); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.Height); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, rec.BlockHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &blockTime); err != nil {
		return nil, err
	}
	rec.Received = time.Unix(0, received)
	if blockTime != 0 {
		rec.BlockTime = time.Unix(blockTime, 0)
	}
	var err error
	if rec.FromAccount, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	if rec.Comment, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	if rec.CommentTo, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	if err := rec.MsgTx.Deserialize(r); err != nil {
		return nil, err
	}
	if rec.MsgTx.TxHash() != rec.Hash {
		return nil, errors.New("transaction does not match its key")
	}
	return &rec, nil
}

// Credit flags.
const (
	creditFlagChange   byte = 1 << 0
	creditFlagCoinbase byte = 1 << 1
)

// credit is a wallet-controlled transaction output.
type credit struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	Flags    byte
	SpentBy  chainhash.Hash
	Address  string
}

func (c *credit) spent() bool    { return c.SpentBy != chainhash.Hash{} }
func (c *credit) change() bool   { return c.Flags&creditFlagChange != 0 }
func (c *credit) coinbase() bool { return c.Flags&creditFlagCoinbase != 0 }

func outPointKey(op *wire.OutPoint) []byte {
	k := make([]byte, chainhash.HashSize+4)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[chainhash.HashSize:], op.Index)
	return k
}

func serializeCredit(c *credit) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int64(c.Amount))
	buf.WriteByte(c.Flags)
	buf.Write(c.SpentBy[:])
	_ = wire.WriteVarString(&buf, 0, c.Address)
	return buf.Bytes()
}

func deserializeCredit(k, v []byte) (*credit, error) {
	if len(k) != chainhash.HashSize+4 {
		return nil, fmt.Errorf("bad credit key length %d", len(k))
	}
	var c credit
	copy(c.OutPoint.Hash[:], k[:chainhash.HashSize])
	c.OutPoint.Index = binary.BigEndian.Uint32(k[chainhash.HashSize:])

	r := bytes.NewReader(v)
	var amount int64
	if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
		return nil, err
	}
	c.Amount = btcutil.Amount(amount)
	var err error
	if c.Flags, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.SpentBy[:]); err != nil {
		return nil, err
	}
	if c.Address, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}
	return &c, nil
}
