package bdb

import (
	"github.com/czh0526/btc-walletd/walletdb"
	"go.etcd.io/bbolt"
)

// bucket wraps a bbolt bucket together with its name and owning
// transaction so it can satisfy walletdb.ReadWriteBucket.
type bucket struct {
	*bbolt.Bucket
	name []byte
	tx   *transaction
}

func (b *bucket) Name() []byte {
	return b.name
}

func (b *bucket) NestedReadBucket(key []byte) walletdb.ReadBucket {
	nested := b.NestedReadWriteBucket(key)
	if nested == nil {
		return nil
	}
	return nested
}

func (b *bucket) ForEach(f func(k []byte, v []byte) error) error {
	return convertErr(b.Bucket.ForEach(f))
}

func (b *bucket) Get(key []byte) []byte {
	return b.Bucket.Get(key)
}

func (b *bucket) ReadCursor() walletdb.ReadCursor {
	return b.ReadWriteCursor()
}

func (b *bucket) NestedReadWriteBucket(key []byte) walletdb.ReadWriteBucket {
	boltBucket := b.Bucket.Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return &bucket{Bucket: boltBucket, name: key, tx: b.tx}
}

func (b *bucket) CreateBucket(key []byte) (walletdb.ReadWriteBucket, error) {
	boltBucket, err := b.Bucket.CreateBucket(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return &bucket{Bucket: boltBucket, name: key, tx: b.tx}, nil
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (walletdb.ReadWriteBucket, error) {
	boltBucket, err := b.Bucket.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return &bucket{Bucket: boltBucket, name: key, tx: b.tx}, nil
}

func (b *bucket) DeleteNestedBucket(key []byte) error {
	return convertErr(b.Bucket.DeleteBucket(key))
}

func (b *bucket) Put(key, value []byte) error {
	return convertErr(b.Bucket.Put(key, value))
}

func (b *bucket) Delete(key []byte) error {
	return convertErr(b.Bucket.Delete(key))
}

func (b *bucket) ReadWriteCursor() walletdb.ReadWriteCursor {
	return (*cursor)(b.Bucket.Cursor())
}

func (b *bucket) Tx() walletdb.ReadWriteTx {
	return b.tx
}

func (b *bucket) NextSequence() (uint64, error) {
	seq, err := b.Bucket.NextSequence()
	return seq, convertErr(err)
}

func (b *bucket) SetSequence(v uint64) error {
	return convertErr(b.Bucket.SetSequence(v))
}

func (b *bucket) Sequence() uint64 {
	return b.Bucket.Sequence()
}

var _ walletdb.ReadWriteBucket = (*bucket)(nil)

type cursor bbolt.Cursor

func (c *cursor) Delete() error {
	return convertErr((*bbolt.Cursor)(c).Delete())
}

func (c *cursor) First() (key, value []byte) {
	return (*bbolt.Cursor)(c).First()
}

func (c *cursor) Last() (key, value []byte) {
	return (*bbolt.Cursor)(c).Last()
}

func (c *cursor) Next() (key, value []byte) {
	return (*bbolt.Cursor)(c).Next()
}

func (c *cursor) Prev() (key, value []byte) {
	return (*bbolt.Cursor)(c).Prev()
}

func (c *cursor) Seek(seek []byte) (key, value []byte) {
	return (*bbolt.Cursor)(c).Seek(seek)
}

var _ walletdb.ReadWriteCursor = (*cursor)(nil)
