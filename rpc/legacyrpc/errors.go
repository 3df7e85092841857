package legacyrpc

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/czh0526/btc-walletd/wallet"
)

// Errors variables that are defined once here to avoid duplication below.
var (
	ErrNeedPositiveAmount = InvalidParameterError{
		errors.New("amount must be positive"),
	}

	ErrNeedPositiveMinconf = InvalidParameterError{
		errors.New("minconf must be positive"),
	}

	ErrAddressNotInWallet = btcjson.RPCError{
		Code:    btcjson.ErrRPCWallet,
		Message: "address not found in wallet",
	}

	ErrNoWallet = btcjson.RPCError{
		Code:    btcjson.ErrRPCMethodNotFound.Code,
		Message: "Method not found (disabled)",
	}

	ErrNoChain = btcjson.RPCError{
		Code:    btcjson.ErrRPCClientNotConnected,
		Message: "Chain RPC is inactive",
	}

	ErrInvalidAmount = btcjson.RPCError{
		Code:    btcjson.ErrRPCType,
		Message: "Invalid amount",
	}

	ErrInvalidAddress = btcjson.RPCError{
		Code:    btcjson.ErrRPCInvalidAddressOrKey,
		Message: "Invalid Bitcoin address",
	}
)

// DeserializationError describes a failed deserializaion due to bad user
// input. It corresponds to btcjson.ErrRPCDeserialization.
type DeserializationError struct {
	error
}

// InvalidParameterError describes an invalid parameter passed by the user.
// It corresponds to btcjson.ErrRPCInvalidParameter.
type InvalidParameterError struct {
	error
}

// ParseError describes a failed parse due to bad user input. It
// corresponds to btcjson.ErrRPCParse.
type ParseError struct {
	error
}

// walletErrorCodes maps wallet error codes to the JSON-RPC codes reported
// for them.
var walletErrorCodes = map[wallet.ErrorCode]btcjson.RPCErrorCode{
	wallet.ErrLocked:            btcjson.ErrRPCWalletUnlockNeeded,
	wallet.ErrWrongPassphrase:   btcjson.ErrRPCWalletPassphraseIncorrect,
	wallet.ErrWrongEncState:     btcjson.ErrRPCWalletWrongEncState,
	wallet.ErrInsufficientFunds: btcjson.ErrRPCWalletInsufficientFunds,
	wallet.ErrKeypoolRanOut:     btcjson.ErrRPCWalletKeypoolRanOut,
	wallet.ErrInvalidAddress:    btcjson.ErrRPCInvalidAddressOrKey,
	wallet.ErrAddressNotFound:   btcjson.ErrRPCInvalidAddressOrKey,
	wallet.ErrTxNotFound:        btcjson.ErrRPCInvalidAddressOrKey,
	wallet.ErrInvalidAmount:     btcjson.ErrRPCInvalidParameter,
	wallet.ErrInvalidAccount:    btcjson.ErrRPCWalletInvalidAccountName,
	wallet.ErrNoChain:           btcjson.ErrRPCClientNotConnected,
	wallet.ErrDatabase:          btcjson.ErrRPCDatabase,
}

// jsonError creates a JSON-RPC error from the Go error.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	code := btcjson.ErrRPCWallet
	switch e := err.(type) {
	case btcjson.RPCError:
		return &e
	case *btcjson.RPCError:
		return e
	case DeserializationError:
		code = btcjson.ErrRPCDeserialization
	case InvalidParameterError:
		code = btcjson.ErrRPCInvalidParameter
	case ParseError:
		code = btcjson.ErrRPCParse.Code
	case wallet.Error:
		if c, ok := walletErrorCodes[e.ErrorCode]; ok {
			code = c
		}
	}
	return &btcjson.RPCError{
		Code:    code,
		Message: err.Error(),
	}
}
