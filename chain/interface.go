package chain

import (
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Interface is the chain backend the wallet and the host talk to. The
// method set mirrors rpcclient so RPCClient satisfies it mostly through
// embedding.
type Interface interface {
	Start() error
	Stop()
	WaitForShutdown()
	Notifications() <-chan interface{}

	GetBestBlock() (*chainhash.Hash, int32, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
	GetConnectionCount() (int64, error)
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
	BlockHeight(blockHash *chainhash.Hash) (int32, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)

	NotifyBlocks() error
	NotifyReceived(addresses []btcutil.Address) error

	SetGenerate(enable bool, numCPUs int) error
	GetGenerate() (bool, error)
	GetHashesPerSec() (int64, error)

	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
}

// BlockMeta identifies a block a transaction was mined in.
type BlockMeta struct {
	Hash   chainhash.Hash
	Height int32
	Time   time.Time
}

// Notification types delivered on Interface.Notifications.
type (
	// ClientConnected is sent whenever the websocket connection to the
	// chain server is (re)established.
	ClientConnected struct{}

	// BlockConnected is sent when a block is attached to the main chain.
	BlockConnected BlockMeta

	// BlockDisconnected is sent when a block is removed from the main
	// chain during a reorganization.
	BlockDisconnected BlockMeta

	// RelevantTx is sent for transactions paying to or spending from
	// watched addresses. Block is nil for mempool transactions.
	RelevantTx struct {
		Tx    *wire.MsgTx
		Block *BlockMeta
	}
)
