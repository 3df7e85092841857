package wallet

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/czh0526/btc-walletd/internal/zero"
	"github.com/czh0526/btc-walletd/walletdb"
)

// DumpPrivKey returns the WIF encoded private key of a wallet address.
func (w *Wallet) DumpPrivKey(addr btcutil.Address) (*btcutil.WIF, error) {
	if err := w.EnsureUnlocked(); err != nil {
		return nil, err
	}
	priv, compressed, err := w.PrivKey(addr)
	if err != nil {
		if IsError(err, ErrAddressNotFound) {
			return nil, walletError(ErrAddressNotFound, fmt.Sprintf(
				"Private key for address %s is not known",
				addr.EncodeAddress()), err)
		}
		return nil, err
	}
	return btcutil.NewWIF(priv, w.chainParams, compressed)
}

// dumpKey is one key line of a wallet dump.
type dumpKey struct {
	addr string
	rec  *keyRecord
}

// DumpWallet writes every private key of the wallet to out in a text
// format ImportWallet reads back.
func (w *Wallet) DumpWallet(out io.Writer, version string) error {
	if err := w.EnsureUnlocked(); err != nil {
		return err
	}

	var (
		keys     []dumpKey
		labels   = make(map[string]string)
		reserved = make(map[string]bool)
	)
	err := w.view(func(tx walletdb.ReadTx) error {
		err := tx.ReadBucket(keysBucketName).ForEach(func(k, v []byte) error {
			rec, err := deserializeKeyRecord(v)
			if err != nil {
				return err
			}
			keys = append(keys, dumpKey{addr: string(k), rec: rec})
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.ReadBucket(addrBookBucketName).ForEach(func(k, v []byte) error {
			labels[string(k)] = string(v)
			return nil
		})
		if err != nil {
			return err
		}
		return tx.ReadBucket(poolBucketName).ForEach(func(_, v []byte) error {
			reserved[string(v)] = true
			return nil
		})
	})
	if err != nil {
		return err
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].rec.Created < keys[j].rec.Created
	})

	height, hash := w.SyncedTo()
	bw := bufio.NewWriter(out)
	fmt.Fprintf(bw, "# Wallet dump created by btcwalletd %s\n", version)
	fmt.Fprintf(bw, "# * Created on %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "# * Best block at time of backup was %d (%v)\n", height, hash)
	fmt.Fprintln(bw)

	master, err := w.masterKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(bw, "# extended private masterkey: %s\n\n", master.String())
	master.Zero()

	w.mtx.RLock()
	defer w.mtx.RUnlock()
	for _, k := range keys {
		raw, err := w.decryptPrivKey(k.rec)
		if err != nil {
			return err
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		zero.Bytes(raw)
		compressed := len(k.rec.PubKey) == btcec.PubKeyBytesLenCompressed
		wif, err := btcutil.NewWIF(priv, w.chainParams, compressed)
		if err != nil {
			return err
		}

		created := time.Unix(k.rec.Created, 0).UTC().Format(time.RFC3339)
		var tag string
		switch label, ok := labels[k.addr]; {
		case ok:
			tag = "label=" + encodeDumpString(label)
		case k.rec.change():
			tag = "change=1"
		case reserved[k.addr]:
			tag = "reserve=1"
		}
		fmt.Fprintf(bw, "%s %s %s # addr=%s\n", wif.String(), created, tag,
			k.addr)
		priv.Zero()
	}
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "# End of dump")
	return bw.Flush()
}

// ImportWallet reads a dump written by DumpWallet and imports the keys the
// wallet does not have. It returns the number of keys imported and the
// creation time of the oldest one, from where a rescan should start.
func (w *Wallet) ImportWallet(in io.Reader) (int, time.Time, error) {
	if err := w.EnsureUnlocked(); err != nil {
		return 0, time.Time{}, err
	}

	var (
		imported int
		oldest   time.Time
		failed   bool
	)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		wif, err := btcutil.DecodeWIF(fields[0])
		if err != nil {
			continue
		}
		created, err := time.Parse(time.RFC3339, fields[1])
		if err != nil {
			created = time.Unix(0, 0)
		}

		var account string
		for _, f := range fields[2:] {
			if strings.HasPrefix(f, "#") {
				break
			}
			if strings.HasPrefix(f, "label=") {
				account = decodeDumpString(strings.TrimPrefix(f, "label="))
			}
		}

		_, err = w.ImportPrivKey(wif, account, created)
		switch {
		case IsError(err, ErrDuplicate):
			continue
		case err != nil:
			log.Warnf("Unable to import key: %v", err)
			failed = true
			continue
		}
		imported++
		if oldest.IsZero() || created.Before(oldest) {
			oldest = created
		}
	}
	if err := scanner.Err(); err != nil {
		return imported, oldest, err
	}
	if failed {
		return imported, oldest, walletError(ErrDatabase,
			"Error adding some keys to wallet", nil)
	}
	return imported, oldest, nil
}

// BackupWallet copies the wallet database to dest. A directory destination
// receives a file named fileName.
func (w *Wallet) BackupWallet(dest, fileName string) error {
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, fileName)
	}

	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return walletError(ErrDatabase, "Error: Wallet backup failed!", err)
	}
	if err := w.db.Copy(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return walletError(ErrDatabase, "Error: Wallet backup failed!", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return walletError(ErrDatabase, "Error: Wallet backup failed!", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return walletError(ErrDatabase, "Error: Wallet backup failed!", err)
	}
	log.Infof("Copied wallet to %s", dest)
	return nil
}

// encodeDumpString percent-encodes spaces, control characters, non-ASCII
// bytes and '%' so a label stays a single field.
func encodeDumpString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 32 || c >= 128 || c == '%' {
			fmt.Fprintf(&b, "%%%02x", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func decodeDumpString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			c, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err == nil {
				b.WriteByte(byte(c))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
