package walletdb

import (
	"io"
)

// Driver is a registered database backend. Create and Open take the
// backend specific arguments (for bdb: path, no-freelist-sync, timeout).
// Recover copies whatever can still be read from a damaged database into
// a fresh one (for bdb: source path, destination path, timeout).
type Driver struct {
	DBType  string
	Create  func(args ...interface{}) (DB, error)
	Open    func(args ...interface{}) (DB, error)
	Recover func(args ...interface{}) (int, error)
}

type DB interface {
	BeginReadTx() (ReadTx, error)
	BeginReadWriteTx() (ReadWriteTx, error)
	Copy(w io.Writer) error
	Close() error
	PrintStats() string
	View(f func(tx ReadTx) error, reset func()) error
	Update(f func(tx ReadWriteTx) error, reset func()) error

	// Check walks the whole database and returns the first consistency
	// problem found, or nil.
	Check() error

	// Sync flushes written pages to disk. It only matters for databases
	// opened without per-commit syncing.
	Sync() error

	// Rewrite replaces the database file with a fresh copy holding only
	// the live records.
	Rewrite() error
}

type ReadTx interface {
	ReadBucket(key []byte) ReadBucket
	ForEachBucket(func(key []byte) error) error
	Rollback() error
}

type ReadWriteTx interface {
	ReadTx

	ReadWriteBucket(key []byte) ReadWriteBucket
	CreateTopLevelBucket(key []byte) (ReadWriteBucket, error)
	DeleteTopLevelBucket(key []byte) error

	Commit() error
	OnCommit(func())
}

type ReadBucket interface {
	Name() []byte
	NestedReadBucket(key []byte) ReadBucket
	ForEach(func(k, v []byte) error) error
	Get(key []byte) []byte
	ReadCursor() ReadCursor
}

type ReadWriteBucket interface {
	ReadBucket

	NestedReadWriteBucket(key []byte) ReadWriteBucket
	CreateBucket(key []byte) (ReadWriteBucket, error)
	CreateBucketIfNotExists(key []byte) (ReadWriteBucket, error)
	DeleteNestedBucket(key []byte) error
	Put(key, value []byte) error
	Delete(key []byte) error
	ReadWriteCursor() ReadWriteCursor
	Tx() ReadWriteTx
	NextSequence() (uint64, error)
	SetSequence(v uint64) error
	Sequence() uint64
}

type ReadCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
}

type ReadWriteCursor interface {
	ReadCursor

	Delete() error
}

func Create(dbType string, args ...interface{}) (DB, error) {
	drv, exists := drivers[dbType]
	if !exists {
		return nil, ErrDbUnknownType
	}

	return drv.Create(args...)
}

func Open(dbType string, args ...interface{}) (DB, error) {
	drv, exists := drivers[dbType]
	if !exists {
		return nil, ErrDbUnknownType
	}

	return drv.Open(args...)
}

// Recover salvages a damaged database of the given type. It returns the
// number of key/value pairs copied.
func Recover(dbType string, args ...interface{}) (int, error) {
	drv, exists := drivers[dbType]
	if !exists {
		return 0, ErrDbUnknownType
	}
	if drv.Recover == nil {
		return 0, ErrRecoverUnsupported
	}

	return drv.Recover(args...)
}

func View(db DB, f func(tx ReadTx) error) error {
	return db.View(f, func() {})
}

func Update(db DB, f func(tx ReadWriteTx) error) error {
	return db.Update(f, func() {})
}

// SupportedDrivers returns the registered database types.
func SupportedDrivers() []string {
	types := make([]string, 0, len(drivers))
	for t := range drivers {
		types = append(types, t)
	}
	return types
}

var drivers = make(map[string]*Driver)

func RegisterDriver(driver Driver) error {
	if _, exists := drivers[driver.DBType]; exists {
		return ErrDbTypeRegistered
	}

	drivers[driver.DBType] = &driver
	return nil
}
