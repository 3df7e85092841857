package migration

import (
	"errors"
	"fmt"
	"sort"

	"github.com/czh0526/btc-walletd/walletdb"
)

var (
	// ErrReversion is returned when the stored version is newer than every
	// version the manager knows about.
	ErrReversion = errors.New("reverting to a previous version is not " +
		"supported")

	// ErrTargetTooLow is returned when asked to upgrade to a version below
	// the current one.
	ErrTargetTooLow = errors.New("cannot downgrade")
)

// Version describes a single upgrade step. Migration runs against the
// namespace bucket and brings it from the previous version to Number.
type Version struct {
	Number    uint32
	Migration func(bucket walletdb.ReadWriteBucket) error
}

// Manager is implemented by every sub-system that keeps a versioned
// namespace in the wallet database.
type Manager interface {
	// Name identifies the sub-system in logs and errors.
	Name() string

	// Namespace returns the top level bucket the migrations run against.
	Namespace() walletdb.ReadWriteBucket

	// CurrentVersion reads the stored version. A nil bucket means the
	// caller's namespace.
	CurrentVersion(walletdb.ReadBucket) (uint32, error)

	// SetVersion stores the version.
	SetVersion(walletdb.ReadWriteBucket, uint32) error

	// Versions lists every known version.
	Versions() []Version
}

// LatestVersion returns the highest version number in versions.
func LatestVersion(versions []Version) uint32 {
	var latest uint32
	for _, v := range versions {
		if v.Number > latest {
			latest = v.Number
		}
	}
	return latest
}

// VersionsToApply returns, in ascending order, the versions strictly above
// current and at or below target.
func VersionsToApply(current, target uint32, versions []Version) []Version {
	sorted := make([]Version, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	var apply []Version
	for _, v := range sorted {
		if v.Number > current && v.Number <= target {
			apply = append(apply, v)
		}
	}
	return apply
}

// Upgrade brings the manager's namespace to target, running every
// intermediate migration in order and recording the version after each
// one. All steps run in the caller's transaction, so a failure leaves the
// namespace untouched.
func Upgrade(mgr Manager, target uint32) (uint32, error) {
	ns := mgr.Namespace()

	current, err := mgr.CurrentVersion(ns)
	if err != nil {
		return 0, fmt.Errorf("unable to read %s version: %w",
			mgr.Name(), err)
	}

	versions := mgr.Versions()
	latest := LatestVersion(versions)
	if current > latest {
		return current, fmt.Errorf("%s: %w (current %d, latest %d)",
			mgr.Name(), ErrReversion, current, latest)
	}
	if target < current {
		return current, fmt.Errorf("%s: %w from %d to %d",
			mgr.Name(), ErrTargetTooLow, current, target)
	}

	for _, v := range VersionsToApply(current, target, versions) {
		if v.Migration != nil {
			if err := v.Migration(ns); err != nil {
				return current, fmt.Errorf("%s migration to "+
					"version %d failed: %w", mgr.Name(),
					v.Number, err)
			}
		}
		if err := mgr.SetVersion(ns, v.Number); err != nil {
			return current, err
		}
		current = v.Number
	}

	return current, nil
}
