package legacyrpc

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

// params are the positional parameters of one request.
type params []json.RawMessage

// checkCount fails unless the request has between min and max parameters.
func (p params) checkCount(min, max int, usage string) error {
	if len(p) < min || len(p) > max {
		return InvalidParameterError{fmt.Errorf("wrong number of "+
			"parameters (%d), usage: %s", len(p), usage)}
	}
	return nil
}

// has reports whether parameter i was given and is not null.
func (p params) has(i int) bool {
	return i < len(p) && string(p[i]) != "null"
}

func (p params) decode(i int, name string, v interface{}) error {
	if err := json.Unmarshal(p[i], v); err != nil {
		return InvalidParameterError{fmt.Errorf("parameter %d (%s) "+
			"has the wrong type: %v", i+1, name, err)}
	}
	return nil
}

func (p params) string(i int, name, def string) (string, error) {
	if !p.has(i) {
		return def, nil
	}
	var s string
	err := p.decode(i, name, &s)
	return s, err
}

func (p params) int(i int, name string, def int) (int, error) {
	if !p.has(i) {
		return def, nil
	}
	var n int
	err := p.decode(i, name, &n)
	return n, err
}

func (p params) bool(i int, name string, def bool) (bool, error) {
	if !p.has(i) {
		return def, nil
	}
	var b bool
	err := p.decode(i, name, &b)
	return b, err
}

// minconf reads a confirmation count, rejecting negative values.
func (p params) minconf(i int, def int32) (int32, error) {
	n, err := p.int(i, "minconf", int(def))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrNeedPositiveMinconf
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int32(n), nil
}

// amount reads a BTC amount given as a JSON number.
func (p params) amount(i int, name string) (btcutil.Amount, error) {
	var f float64
	if err := p.decode(i, name, &f); err != nil {
		return 0, err
	}
	return parseAmount(f)
}

func parseAmount(f float64) (btcutil.Amount, error) {
	amt, err := btcutil.NewAmount(f)
	if err != nil || amt < 0 || amt > btcutil.MaxSatoshi {
		return 0, ErrInvalidAmount
	}
	return amt, nil
}
