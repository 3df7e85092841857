// Package chaintest provides an in-memory chain.Interface for tests.
package chaintest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/czh0526/btc-walletd/chain"
)

// ErrRejected is returned by SendRawTransaction when Reject is set.
var ErrRejected = errors.New("transaction rejected")

// Chain is a fake chain backend holding a list of blocks.
type Chain struct {
	mu sync.Mutex

	blocks  []*wire.MsgBlock
	hashes  []chainhash.Hash
	sent    []*wire.MsgTx
	watched map[string]struct{}
	ntfns   chan interface{}

	Reject      bool
	Connections int64
	Generate    bool
	GenThreads  int
	HashesPerS  int64

	// Raw maps methods to the result RawRequest returns for them.
	Raw map[string]interface{}

	started  bool
	stopped  bool
	notified bool
}

var _ chain.Interface = (*Chain)(nil)

// New returns a chain holding only a genesis block.
func New() *Chain {
	c := &Chain{
		watched:     make(map[string]struct{}),
		ntfns:       make(chan interface{}, 100),
		Connections: 8,
		Raw:         make(map[string]interface{}),
	}
	c.AddBlock()
	return c
}

// AddBlock appends a block with txs and returns its metadata.
func (c *Chain) AddBlock(txs ...*wire.MsgTx) *chain.BlockMeta {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev chainhash.Hash
	if n := len(c.hashes); n > 0 {
		prev = c.hashes[n-1]
	}
	height := int32(len(c.blocks))
	header := wire.NewBlockHeader(1, &prev, &chainhash.Hash{},
		0x207fffff, uint32(height))
	header.Timestamp = time.Unix(1400000000+int64(height)*600, 0)
	block := wire.NewMsgBlock(header)
	for _, tx := range txs {
		_ = block.AddTransaction(tx)
	}
	c.blocks = append(c.blocks, block)
	c.hashes = append(c.hashes, block.BlockHash())

	return &chain.BlockMeta{
		Hash:   c.hashes[height],
		Height: height,
		Time:   header.Timestamp,
	}
}

// Notify queues a notification.
func (c *Chain) Notify(n interface{}) {
	c.ntfns <- n
}

// Sent returns the transactions passed to SendRawTransaction.
func (c *Chain) Sent() []*wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*wire.MsgTx(nil), c.sent...)
}

// Watched reports whether addr was passed to NotifyReceived.
func (c *Chain) Watched(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watched[addr]
	return ok
}

// Started reports whether Start was called and Stop was not.
func (c *Chain) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

func (c *Chain) Start() error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *Chain) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.ntfns)
	}
}

func (c *Chain) WaitForShutdown() {}

func (c *Chain) Notifications() <-chan interface{} {
	return c.ntfns
}

func (c *Chain) GetBestBlock() (*chainhash.Hash, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.hashes) - 1
	hash := c.hashes[n]
	return &hash, int32(n), nil
}

func (c *Chain) GetBlockHash(height int64) (*chainhash.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < 0 || height >= int64(len(c.hashes)) {
		return nil, fmt.Errorf("block height %d out of range", height)
	}
	hash := c.hashes[height]
	return &hash, nil
}

func (c *Chain) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.hashes {
		if h == *hash {
			return c.blocks[i], nil
		}
	}
	return nil, fmt.Errorf("block %v not found", hash)
}

func (c *Chain) BlockHeight(hash *chainhash.Hash) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.hashes {
		if h == *hash {
			return int32(i), nil
		}
	}
	return 0, fmt.Errorf("block %v not found", hash)
}

func (c *Chain) GetConnectionCount() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Connections, nil
}

func (c *Chain) GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range c.sent {
		if tx.TxHash() == *hash {
			return btcutil.NewTx(tx), nil
		}
	}
	for _, b := range c.blocks {
		for _, tx := range b.Transactions {
			if tx.TxHash() == *hash {
				return btcutil.NewTx(tx), nil
			}
		}
	}
	return nil, fmt.Errorf("transaction %v not found", hash)
}

func (c *Chain) SendRawTransaction(tx *wire.MsgTx, _ bool) (*chainhash.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Reject {
		return nil, ErrRejected
	}
	c.sent = append(c.sent, tx)
	hash := tx.TxHash()
	return &hash, nil
}

func (c *Chain) NotifyBlocks() error {
	c.mu.Lock()
	c.notified = true
	c.mu.Unlock()
	return nil
}

func (c *Chain) NotifyReceived(addrs []btcutil.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range addrs {
		c.watched[a.EncodeAddress()] = struct{}{}
	}
	return nil
}

func (c *Chain) SetGenerate(enable bool, numCPUs int) error {
	c.mu.Lock()
	c.Generate = enable
	c.GenThreads = numCPUs
	c.mu.Unlock()
	return nil
}

func (c *Chain) GetGenerate() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Generate, nil
}

func (c *Chain) GetHashesPerSec() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HashesPerS, nil
}

func (c *Chain) RawRequest(method string, _ []json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	res, ok := c.Raw[method]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("method %s not supported", method)
	}
	return json.Marshal(res)
}
