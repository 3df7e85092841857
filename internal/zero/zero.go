package zero

import "math/big"

// Bytes sets all bytes in the passed slice to zero.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Bytea32 clears the 32-byte array by filling it with the zero value.
func Bytea32(b *[32]byte) {
	*b = [32]byte{}
}

// Bytea64 clears the 64-byte array by filling it with the zero value.
func Bytea64(b *[64]byte) {
	*b = [64]byte{}
}

// BigInt sets all bytes in the passed big int to zero and then sets the
// value to 0.
func BigInt(x *big.Int) {
	b := x.Bits()
	for i := range b {
		b[i] = 0
	}
	x.SetInt64(0)
}
