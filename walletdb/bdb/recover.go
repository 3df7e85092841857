package bdb

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// salvage copies every key/value pair that can still be read from src into
// a new database at dst. Buckets whose pages are damaged badly enough to
// make bbolt panic are skipped. It fails only when nothing at all could be
// recovered.
func salvage(src, dst string, timeout time.Duration) (int, error) {
	if fileExists(dst) {
		return 0, fmt.Errorf("salvage destination %s already exists", dst)
	}

	srcDB, err := openReadOnly(src, timeout)
	if err != nil {
		return 0, fmt.Errorf("unable to open %s for salvage: %w", src, err)
	}
	defer srcDB.Close()

	dstDB, err := bbolt.Open(dst, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return 0, convertErr(err)
	}
	defer dstDB.Close()

	var copied int
	err = dstDB.Update(func(dstTx *bbolt.Tx) error {
		return safeView(srcDB, func(srcTx *bbolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bbolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				n, _ := copyBucket(dstBucket, b, true)
				copied += n
				return nil
			})
		})
	})
	if err != nil && copied == 0 {
		return 0, fmt.Errorf("salvage of %s failed: %w", src, err)
	}
	if copied == 0 {
		return 0, fmt.Errorf("salvage of %s found no readable records", src)
	}

	return copied, nil
}

// openReadOnly opens a bbolt file without taking the write lock. A
// damaged meta page can make Open itself panic, so that is trapped too.
func openReadOnly(path string, timeout time.Duration) (boltDB *bbolt.DB, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open panicked: %v", r)
		}
	}()
	return bbolt.Open(path, 0600, &bbolt.Options{
		ReadOnly: true,
		Timeout:  timeout,
	})
}

func safeView(boltDB *bbolt.DB, f func(*bbolt.Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read panicked: %v", r)
		}
	}()
	return boltDB.View(f)
}

// compact writes every bucket of src into a new database at dst in a
// single transaction.
func compact(dst string, src *bbolt.DB, timeout time.Duration) error {
	dstDB, err := bbolt.Open(dst, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return convertErr(err)
	}

	err = dstDB.Update(func(dstTx *bbolt.Tx) error {
		return src.View(func(srcTx *bbolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bbolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucket(name)
				if err != nil {
					return err
				}
				_, err = copyBucket(dstBucket, b, false)
				return err
			})
		})
	})
	closeErr := dstDB.Close()
	if err != nil {
		return convertErr(err)
	}
	return convertErr(closeErr)
}

// copyBucket recursively copies src into dst, returning how many pairs it
// managed to copy before hitting an unreadable page. With partial set,
// nested buckets that fail part way are kept and the walk continues.
func copyBucket(dst, src *bbolt.Bucket, partial bool) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bucket read panicked: %v", r)
		}
	}()

	if err := dst.SetSequence(src.Sequence()); err != nil {
		return 0, err
	}
	err = src.ForEach(func(k, v []byte) error {
		if v == nil {
			nestedSrc := src.Bucket(k)
			if nestedSrc == nil {
				return nil
			}
			nestedDst, err := dst.CreateBucketIfNotExists(k)
			if err != nil {
				return err
			}
			copied, err := copyBucket(nestedDst, nestedSrc, partial)
			n += copied
			if partial {
				return nil
			}
			return err
		}
		if err := dst.Put(k, v); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
