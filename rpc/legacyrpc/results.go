package legacyrpc

import (
	"github.com/czh0526/btc-walletd/wallet"
)

// ListTransactionsResult is one entry of listtransactions, listsinceblock
// and the details of gettransaction.
type ListTransactionsResult struct {
	Account       string   `json:"account"`
	Address       string   `json:"address,omitempty"`
	Category      string   `json:"category"`
	Amount        float64  `json:"amount"`
	Vout          *uint32  `json:"vout,omitempty"`
	Fee           *float64 `json:"fee,omitempty"`
	Confirmations *int32   `json:"confirmations,omitempty"`
	Generated     bool     `json:"generated,omitempty"`
	BlockHash     string   `json:"blockhash,omitempty"`
	BlockTime     int64    `json:"blocktime,omitempty"`
	TxID          string   `json:"txid,omitempty"`
	Time          int64    `json:"time"`
	TimeReceived  int64    `json:"timereceived,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	To            string   `json:"to,omitempty"`
	OtherAccount  string   `json:"otheraccount,omitempty"`
}

// GetTransactionResult is the result of gettransaction.
type GetTransactionResult struct {
	Amount        float64                  `json:"amount"`
	Fee           *float64                 `json:"fee,omitempty"`
	Confirmations int32                    `json:"confirmations"`
	Generated     bool                     `json:"generated,omitempty"`
	BlockHash     string                   `json:"blockhash,omitempty"`
	BlockTime     int64                    `json:"blocktime,omitempty"`
	TxID          string                   `json:"txid"`
	Time          int64                    `json:"time"`
	TimeReceived  int64                    `json:"timereceived"`
	Comment       string                   `json:"comment,omitempty"`
	To            string                   `json:"to,omitempty"`
	Details       []ListTransactionsResult `json:"details"`
	Hex           string                   `json:"hex"`
}

// ListSinceBlockResult is the result of listsinceblock.
type ListSinceBlockResult struct {
	Transactions []ListTransactionsResult `json:"transactions"`
	LastBlock    string                   `json:"lastblock"`
}

// ListReceivedByAddressResult is one entry of listreceivedbyaddress.
type ListReceivedByAddressResult struct {
	Address       string   `json:"address"`
	Account       string   `json:"account"`
	Amount        float64  `json:"amount"`
	Confirmations int32    `json:"confirmations"`
	TxIDs         []string `json:"txids"`
}

// ListReceivedByAccountResult is one entry of listreceivedbyaccount.
type ListReceivedByAccountResult struct {
	Account       string  `json:"account"`
	Amount        float64 `json:"amount"`
	Confirmations int32   `json:"confirmations"`
}

// ListUnspentResult is one entry of listunspent.
type ListUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address,omitempty"`
	Account       string  `json:"account,omitempty"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	RedeemScript  string  `json:"redeemScript,omitempty"`
	Amount        float64 `json:"amount"`
	Confirmations int32   `json:"confirmations"`
}

// TransactionInput identifies an output for lockunspent and
// listlockunspent.
type TransactionInput struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// CreateMultiSigResult is the result of createmultisig.
type CreateMultiSigResult struct {
	Address      string `json:"address"`
	RedeemScript string `json:"redeemScript"`
}

// ValidateAddressResult is the result of validateaddress. Only IsValid is
// set for invalid addresses.
type ValidateAddressResult struct {
	IsValid      bool   `json:"isvalid"`
	Address      string `json:"address,omitempty"`
	IsMine       *bool  `json:"ismine,omitempty"`
	IsScript     bool   `json:"isscript,omitempty"`
	PubKey       string `json:"pubkey,omitempty"`
	IsCompressed bool   `json:"iscompressed,omitempty"`
	Account      string `json:"account,omitempty"`
}

func txEntryResult(e *wallet.TxEntry) ListTransactionsResult {
	r := ListTransactionsResult{
		Account:      e.Account,
		Address:      e.Address,
		Category:     e.Category,
		Amount:       e.Amount.ToBTC(),
		Time:         e.Time,
		Comment:      e.Comment,
		OtherAccount: e.OtherAccount,
	}
	if e.Category == "move" {
		return r
	}

	vout := e.Vout
	confs := e.Confirmations
	r.Vout = &vout
	r.Confirmations = &confs
	r.Generated = e.Generated
	r.BlockHash = e.BlockHash
	r.BlockTime = e.BlockTime
	r.TxID = e.TxID
	r.TimeReceived = e.TimeReceived
	r.To = e.To
	if e.Fee != nil {
		fee := e.Fee.ToBTC()
		r.Fee = &fee
	}
	return r
}

func txEntryResults(entries []wallet.TxEntry) []ListTransactionsResult {
	results := make([]ListTransactionsResult, 0, len(entries))
	for i := range entries {
		results = append(results, txEntryResult(&entries[i]))
	}
	return results
}
