package walletdb

import (
	"errors"
)

var (
	// ErrDbTypeRegistered is returned by RegisterDriver for a duplicate
	// driver type.
	ErrDbTypeRegistered = errors.New("database type already registered")

	ErrDbUnknownType = errors.New("unknown database type")

	// ErrDbDoesNotExist is returned by Open when the wallet file is missing.
	ErrDbDoesNotExist = errors.New("database does not exist")

	ErrDbNotOpen = errors.New("database not open")

	ErrInvalid = errors.New("invalid database")

	// ErrDryRunRollBack is returned from an update closure to discard its
	// changes.
	ErrDryRunRollBack = errors.New("dry run only; should roll back")

	// ErrDbLocked is returned when the database file is held by another
	// process and could not be opened before the timeout.
	ErrDbLocked = errors.New("database is locked by another process")

	// ErrDbCorrupt is returned by Check when the database failed its
	// consistency walk.
	ErrDbCorrupt = errors.New("database is corrupt")

	// ErrRecoverUnsupported is returned by Recover for drivers that cannot
	// salvage damaged files.
	ErrRecoverUnsupported = errors.New("database type does not support recovery")
)

var (
	// ErrTxClosed is returned when attempting to commit or rollback a
	// transaction that has already had one of those operations performed.
	ErrTxClosed = errors.New("tx closed")

	// ErrTxNotWritable is returned when an operation that requires write
	// access to the database is attempted against a read-only transaction.
	ErrTxNotWritable = errors.New("tx not writable")
)

// Errors that can occur when putting or deleting a value or bucket.
var (
	// ErrBucketNotFound is returned when trying to access a bucket that has
	// not been created yet.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrBucketExists is returned when creating a bucket that already exists.
	ErrBucketExists = errors.New("bucket already exists")

	// ErrBucketNameRequired is returned when creating a bucket with a blank name.
	ErrBucketNameRequired = errors.New("bucket name required")

	// ErrKeyRequired is returned when inserting a zero-length key.
	ErrKeyRequired = errors.New("key required")

	// ErrKeyTooLarge is returned when inserting a key that is larger than MaxKeySize.
	ErrKeyTooLarge = errors.New("key too large")

	// ErrValueTooLarge is returned when inserting a value that is larger than MaxValueSize.
	ErrValueTooLarge = errors.New("value too large")

	// ErrIncompatibleValue is returned when trying create or delete a
	// bucket on an existing non-bucket key or when trying to create or
	// delete a non-bucket key on an existing bucket key.
	ErrIncompatibleValue = errors.New("incompatible value")
)
