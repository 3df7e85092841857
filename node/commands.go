package node

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/rpc/legacyrpc"
)

func (n *Node) hostCommands() []legacyrpc.Command {
	return []legacyrpc.Command{
		{Name: "getinfo", Actor: n.getInfo, OkSafeMode: true,
			Usage: "getinfo"},
		{Name: "getmininginfo", Actor: n.getMiningInfo, OkSafeMode: true,
			Usage: "getmininginfo"},
		{Name: "stop", Actor: n.stop, OkSafeMode: true, ThreadSafe: true,
			Usage: "stop"},
		{Name: "help", Actor: n.help, OkSafeMode: true, ThreadSafe: true,
			Usage: "help ( \"command\" )"},
		{Name: "signrawtransaction", Actor: n.signRawTransaction,
			Usage: "signrawtransaction \"hexstring\" ( [{\"txid\":\"id\"," +
				"\"vout\":n,\"scriptPubKey\":\"hex\",\"redeemScript\":\"hex\"},...] " +
				"[\"privatekey1\",...] sighashtype )"},
		{Name: "getstatus", Actor: n.getStatus, OkSafeMode: true, ThreadSafe: true,
			Usage: "getstatus"},
	}
}

func invalidParameter(format string, args ...interface{}) error {
	return btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
		fmt.Sprintf(format, args...))
}

func deserializationError(format string, args ...interface{}) error {
	return btcjson.NewRPCError(btcjson.ErrRPCDeserialization,
		fmt.Sprintf(format, args...))
}

// checkParams fails unless p has between min and max parameters.
func checkParams(p []json.RawMessage, min, max int, usage string) error {
	if len(p) < min || len(p) > max {
		return invalidParameter("wrong number of parameters (%d), usage: %s",
			len(p), usage)
	}
	return nil
}

func hasParam(p []json.RawMessage, i int) bool {
	return i < len(p) && string(p[i]) != "null"
}

func decodeParam(p []json.RawMessage, i int, name string, v interface{}) error {
	if err := json.Unmarshal(p[i], v); err != nil {
		return invalidParameter("parameter %d (%s) has the wrong type: %v",
			i+1, name, err)
	}
	return nil
}

func (n *Node) bestHeight() int32 {
	if n.cfg.Chain == nil {
		return 0
	}
	_, height, err := n.cfg.Chain.GetBestBlock()
	if err != nil {
		log.Debugf("Unable to get best block: %v", err)
		return 0
	}
	return height
}

func (n *Node) getInfo(p []json.RawMessage) (interface{}, error) {
	if err := checkParams(p, 0, 0, "getinfo"); err != nil {
		return nil, err
	}

	var conns int64
	if n.cfg.Chain != nil {
		conns, _ = n.cfg.Chain.GetConnectionCount()
	}
	info := map[string]interface{}{
		"version":         n.cfg.Version,
		"protocolversion": wire.ProtocolVersion,
		"blocks":          n.bestHeight(),
		"timeoffset":      0,
		"connections":     conns,
		"proxy":           "",
		"testnet":         n.cfg.Params.IsTestNet(),
		"errors":          n.Warning(),
	}
	if n.backend != nil {
		n.backend.GetInfo(info)
	}
	return info, nil
}

func (n *Node) getMiningInfo(p []json.RawMessage) (interface{}, error) {
	if err := checkParams(p, 0, 0, "getmininginfo"); err != nil {
		return nil, err
	}

	info := map[string]interface{}{
		"blocks":  n.bestHeight(),
		"errors":  n.Warning(),
		"testnet": n.cfg.Params.IsTestNet(),
		"chain":   n.cfg.Params.Name,
	}
	if n.backend != nil {
		n.backend.GetMiningInfo(info)
	}
	return info, nil
}

func (n *Node) stop(p []json.RawMessage) (interface{}, error) {
	if err := checkParams(p, 0, 0, "stop"); err != nil {
		return nil, err
	}
	n.StartShutdown()
	return "btcwalletd stopping", nil
}

func (n *Node) help(p []json.RawMessage) (interface{}, error) {
	if err := checkParams(p, 0, 1, "help ( \"command\" )"); err != nil {
		return nil, err
	}

	var only string
	if hasParam(p, 0) {
		if err := decodeParam(p, 0, "command", &only); err != nil {
			return nil, err
		}
	}

	var lines []string
	for _, name := range n.table.Names() {
		if only != "" && name != only {
			continue
		}
		cmd, ok := n.table.Lookup(name)
		if !ok {
			continue
		}
		usage := cmd.Usage
		if usage == "" {
			usage = name
		}
		lines = append(lines, usage)
	}
	if only != "" && len(lines) == 0 {
		return "help: unknown command: " + only, nil
	}
	return strings.Join(lines, "\n"), nil
}

func (n *Node) getStatus(p []json.RawMessage) (interface{}, error) {
	if err := checkParams(p, 0, 0, "getstatus"); err != nil {
		return nil, err
	}
	if n.cfg.Status == nil {
		return nil, errors.New("status reporting is disabled")
	}
	return n.cfg.Status.Snapshot(), nil
}

var sigHashTypes = map[string]txscript.SigHashType{
	"ALL":                 txscript.SigHashAll,
	"NONE":                txscript.SigHashNone,
	"SINGLE":              txscript.SigHashSingle,
	"ALL|ANYONECANPAY":    txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
	"NONE|ANYONECANPAY":   txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
	"SINGLE|ANYONECANPAY": txscript.SigHashSingle | txscript.SigHashAnyOneCanPay,
}

type prevOutput struct {
	pkScript []byte
	amount   int64
}

// signRawTransaction signs the inputs of a raw transaction with the
// given keys, or with the wallet keys when none are given.
func (n *Node) signRawTransaction(p []json.RawMessage) (interface{}, error) {
	usage := "signrawtransaction \"hexstring\" ( prevtxs privatekeys sighashtype )"
	if err := checkParams(p, 1, 4, usage); err != nil {
		return nil, err
	}

	var rawHex string
	if err := decodeParam(p, 0, "hexstring", &rawHex); err != nil {
		return nil, err
	}
	serialized, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, deserializationError("TX decode failed")
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(serialized)); err != nil {
		return nil, deserializationError("TX decode failed")
	}

	var prevTxs []btcjson.RawTxInput
	if hasParam(p, 1) {
		if err := decodeParam(p, 1, "prevtxs", &prevTxs); err != nil {
			return nil, err
		}
	}
	var privKeys []string
	withKeys := hasParam(p, 2)
	if withKeys {
		if err := decodeParam(p, 2, "privatekeys", &privKeys); err != nil {
			return nil, err
		}
	}
	flags := "ALL"
	if hasParam(p, 3) {
		if err := decodeParam(p, 3, "sighashtype", &flags); err != nil {
			return nil, err
		}
	}
	hashType, ok := sigHashTypes[flags]
	if !ok {
		return nil, invalidParameter("Invalid sighash parameter")
	}

	params := n.cfg.Params.Params
	inputs := make(map[wire.OutPoint]prevOutput)
	scripts := make(map[string][]byte)
	for _, rti := range prevTxs {
		hash, err := chainhash.NewHashFromStr(rti.Txid)
		if err != nil {
			return nil, deserializationError("%v", err)
		}
		pkScript, err := hex.DecodeString(rti.ScriptPubKey)
		if err != nil {
			return nil, deserializationError("%v", err)
		}

		// Redeem scripts are only taken from the request when the keys
		// are too; otherwise the wallet supplies them.
		if withKeys && rti.RedeemScript != "" {
			redeem, err := hex.DecodeString(rti.RedeemScript)
			if err != nil {
				return nil, deserializationError("%v", err)
			}
			addr, err := btcutil.NewAddressScriptHash(redeem, params)
			if err != nil {
				return nil, deserializationError("%v", err)
			}
			scripts[addr.EncodeAddress()] = redeem
		}
		inputs[wire.OutPoint{Hash: *hash, Index: rti.Vout}] = prevOutput{
			pkScript: pkScript,
		}
	}

	var kdb txscript.KeyDB
	var sdb txscript.ScriptDB
	if withKeys {
		keys := make(map[string]*btcutil.WIF, len(privKeys))
		for _, k := range privKeys {
			wif, err := btcutil.DecodeWIF(k)
			if err != nil {
				return nil, deserializationError("%v", err)
			}
			if !wif.IsForNet(params) {
				return nil, deserializationError("key network doesn't match wallet's")
			}
			addr, err := btcutil.NewAddressPubKey(wif.SerializePubKey(), params)
			if err != nil {
				return nil, deserializationError("%v", err)
			}
			keys[addr.EncodeAddress()] = wif
		}
		kdb = txscript.KeyClosure(func(addr btcutil.Address) (*btcec.PrivateKey, bool, error) {
			wif, ok := keys[addr.EncodeAddress()]
			if !ok {
				return nil, false, errors.New("no key for address")
			}
			return wif.PrivKey, wif.CompressPubKey, nil
		})
		sdb = txscript.ScriptClosure(func(addr btcutil.Address) ([]byte, error) {
			script, ok := scripts[addr.EncodeAddress()]
			if !ok {
				return nil, errors.New("no script for address")
			}
			return script, nil
		})
	} else {
		if n.backend == nil {
			return nil, legacyrpc.ErrNoWallet
		}
		if err := n.backend.EnsureWalletIsUnlocked(); err != nil {
			return nil, err
		}
		ks := n.backend.Keystore()
		kdb, sdb = ks, ks
	}

	var signErrs []btcjson.SignRawTransactionError
	addErr := func(i int, err error) {
		in := tx.TxIn[i]
		signErrs = append(signErrs, btcjson.SignRawTransactionError{
			TxID:      in.PreviousOutPoint.Hash.String(),
			Vout:      in.PreviousOutPoint.Index,
			ScriptSig: hex.EncodeToString(in.SignatureScript),
			Sequence:  in.Sequence,
			Error:     err.Error(),
		})
	}
	for i, txIn := range tx.TxIn {
		prev, ok := inputs[txIn.PreviousOutPoint]
		if !ok {
			prev, err = n.fetchPrevOutput(txIn.PreviousOutPoint)
			if err != nil {
				addErr(i, err)
				continue
			}
		}

		// SIGHASH_SINGLE inputs without a matching output cannot be
		// signed.
		single := hashType&^txscript.SigHashAnyOneCanPay == txscript.SigHashSingle
		if !(single && i >= len(tx.TxOut)) {
			sigScript, err := txscript.SignTxOutput(params, &tx, i,
				prev.pkScript, hashType, kdb, sdb, txIn.SignatureScript)
			if err != nil {
				addErr(i, err)
				continue
			}
			txIn.SignatureScript = sigScript
		}

		fetcher := txscript.NewCannedPrevOutputFetcher(prev.pkScript, prev.amount)
		vm, err := txscript.NewEngine(prev.pkScript, &tx, i,
			txscript.StandardVerifyFlags, nil, nil, prev.amount, fetcher)
		if err == nil {
			err = vm.Execute()
		}
		if err != nil {
			addErr(i, err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	if signErrs == nil {
		signErrs = []btcjson.SignRawTransactionError{}
	}
	return btcjson.SignRawTransactionResult{
		Hex:      hex.EncodeToString(buf.Bytes()),
		Complete: len(signErrs) == 0,
		Errors:   signErrs,
	}, nil
}

func (n *Node) fetchPrevOutput(op wire.OutPoint) (prevOutput, error) {
	if n.cfg.Chain == nil {
		return prevOutput{}, errors.New("Input not found")
	}
	tx, err := n.cfg.Chain.GetRawTransaction(&op.Hash)
	if err != nil {
		return prevOutput{}, errors.New("Input not found")
	}
	outs := tx.MsgTx().TxOut
	if int(op.Index) >= len(outs) {
		return prevOutput{}, errors.New("Input not found")
	}
	return prevOutput{
		pkScript: outs[op.Index].PkScript,
		amount:   outs[op.Index].Value,
	}, nil
}
