package wallet

import (
	"errors"
	"fmt"
)

var (
	ErrLoaded = errors.New("wallet already loaded")

	ErrNotLoaded = errors.New("wallet not loaded")

	ErrExists = errors.New("wallet already exists")
)

// ErrorCode identifies a kind of wallet error.
type ErrorCode int

const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrCorrupt indicates the wallet database could not be read.
	ErrCorrupt

	// ErrTooNew indicates the database was written by a newer wallet.
	ErrTooNew

	// ErrDowngrade indicates an attempt to lower the wallet version.
	ErrDowngrade

	// ErrUnsupported indicates the wallet version lacks a feature.
	ErrUnsupported

	// ErrLocked indicates an operation needing private keys was attempted
	// on a locked wallet.
	ErrLocked

	// ErrWrongPassphrase indicates the passphrase did not match.
	ErrWrongPassphrase

	// ErrWrongEncState indicates an encryption command that does not
	// apply to the wallet's current encryption state.
	ErrWrongEncState

	// ErrKeypoolRanOut indicates no pre-generated key is left.
	ErrKeypoolRanOut

	// ErrAddressNotFound indicates the address is not in the wallet.
	ErrAddressNotFound

	// ErrInvalidAddress indicates the address could not be decoded or is
	// for another network.
	ErrInvalidAddress

	// ErrInvalidAmount indicates a non-positive or dust amount.
	ErrInvalidAmount

	// ErrInsufficientFunds indicates the wallet or account cannot cover a
	// payment.
	ErrInsufficientFunds

	// ErrInvalidAccount indicates a reserved or malformed account name.
	ErrInvalidAccount

	// ErrTxNotFound indicates the transaction is not in the wallet.
	ErrTxNotFound

	// ErrNoChain indicates an operation needing the chain backend was
	// attempted while none is connected.
	ErrNoChain

	// ErrDuplicate indicates the item is already in the wallet.
	ErrDuplicate
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:          "ErrDatabase",
	ErrCorrupt:           "ErrCorrupt",
	ErrTooNew:            "ErrTooNew",
	ErrDowngrade:         "ErrDowngrade",
	ErrUnsupported:       "ErrUnsupported",
	ErrLocked:            "ErrLocked",
	ErrWrongPassphrase:   "ErrWrongPassphrase",
	ErrWrongEncState:     "ErrWrongEncState",
	ErrKeypoolRanOut:     "ErrKeypoolRanOut",
	ErrAddressNotFound:   "ErrAddressNotFound",
	ErrInvalidAddress:    "ErrInvalidAddress",
	ErrInvalidAmount:     "ErrInvalidAmount",
	ErrInsufficientFunds: "ErrInsufficientFunds",
	ErrInvalidAccount:    "ErrInvalidAccount",
	ErrTxNotFound:        "ErrTxNotFound",
	ErrNoChain:           "ErrNoChain",
	ErrDuplicate:         "ErrDuplicate",
}

func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is a coded wallet error. Err, when set, is the underlying cause.
type Error struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

func (e Error) Unwrap() error {
	return e.Err
}

func walletError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError reports whether err is a wallet Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var werr Error
	return errors.As(err, &werr) && werr.ErrorCode == code
}
