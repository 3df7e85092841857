package chain

import (
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// RPCClient is a btcd websocket client delivering chain notifications on a
// channel.
type RPCClient struct {
	*rpcclient.Client
	connConfig        *rpcclient.ConnConfig
	chainParams       *chaincfg.Params
	reconnectAttempts int

	enqueueNotification chan interface{}
	dequeueNotification chan interface{}

	quit    chan struct{}
	wg      sync.WaitGroup
	started bool
	quitMtx sync.Mutex
}

var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client connecting to the chain server at connect.
// The connection is made by Start.
func NewRPCClient(chainParams *chaincfg.Params, connect, user, pass string, certs []byte,
	disableTLS bool, reconnectAttempts int) (*RPCClient, error) {

	if reconnectAttempts <= 0 {
		return nil, errors.New("reconnectAttempts must be a positive")
	}

	client := &RPCClient{
		connConfig: &rpcclient.ConnConfig{
			Host:                 connect,
			Endpoint:             "ws",
			User:                 user,
			Pass:                 pass,
			Certificates:         certs,
			DisableAutoReconnect: false,
			DisableConnectOnNew:  true,
			DisableTLS:           disableTLS,
		},
		chainParams:         chainParams,
		reconnectAttempts:   reconnectAttempts,
		enqueueNotification: make(chan interface{}),
		dequeueNotification: make(chan interface{}),
		quit:                make(chan struct{}),
	}
	ntfnCallbacks := &rpcclient.NotificationHandlers{
		OnClientConnected:   client.onClientConnect,
		OnBlockConnected:    client.onBlockConnected,
		OnBlockDisconnected: client.onBlockDisconnected,
		OnRecvTx:            client.onRecvTx,
		OnRedeemingTx:       client.onRedeemingTx,
	}
	rpcClient, err := rpcclient.New(client.connConfig, ntfnCallbacks)
	if err != nil {
		return nil, err
	}
	client.Client = rpcClient
	return client, nil
}

// Start connects to the chain server, checks it runs on the expected
// network and starts the notification queue.
func (c *RPCClient) Start() error {
	err := c.Connect(c.reconnectAttempts)
	if err != nil {
		return err
	}

	net, err := c.GetCurrentNet()
	if err != nil {
		c.Disconnect()
		return err
	}
	if net != c.chainParams.Net {
		c.Disconnect()
		return errors.New("mismatched networks")
	}
	log.Infof("Established connection to RPC server %s", c.connConfig.Host)

	c.quitMtx.Lock()
	c.started = true
	c.quitMtx.Unlock()

	c.wg.Add(1)
	go c.handler()
	return nil
}

// Stop disconnects the client and signals the notification queue to exit.
func (c *RPCClient) Stop() {
	c.quitMtx.Lock()
	select {
	case <-c.quit:
	default:
		close(c.quit)
		c.Client.Shutdown()

		if !c.started {
			close(c.dequeueNotification)
		}
	}
	c.quitMtx.Unlock()
}

// WaitForShutdown blocks until the client and its goroutines have exited.
func (c *RPCClient) WaitForShutdown() {
	c.Client.WaitForShutdown()
	c.wg.Wait()
}

// Notifications returns the channel of chain notifications. It is closed
// when the client stops.
func (c *RPCClient) Notifications() <-chan interface{} {
	return c.dequeueNotification
}

// BlockHeight returns the height of the block with the given hash.
func (c *RPCClient) BlockHeight(blockHash *chainhash.Hash) (int32, error) {
	header, err := c.GetBlockHeaderVerbose(blockHash)
	if err != nil {
		return 0, err
	}
	return header.Height, nil
}

func (c *RPCClient) enqueue(n interface{}) {
	select {
	case c.enqueueNotification <- n:
	case <-c.quit:
	}
}

func (c *RPCClient) onClientConnect() {
	c.enqueue(ClientConnected{})
}

func (c *RPCClient) onBlockConnected(hash *chainhash.Hash, height int32, t time.Time) {
	c.enqueue(BlockConnected{Hash: *hash, Height: height, Time: t})
}

func (c *RPCClient) onBlockDisconnected(hash *chainhash.Hash, height int32, t time.Time) {
	c.enqueue(BlockDisconnected{Hash: *hash, Height: height, Time: t})
}

func (c *RPCClient) onRecvTx(tx *btcutil.Tx, block *btcjson.BlockDetails) {
	meta, err := parseBlock(block)
	if err != nil {
		log.Errorf("Cannot parse block of transaction %v: %v", tx.Hash(), err)
		return
	}
	c.enqueue(RelevantTx{Tx: tx.MsgTx(), Block: meta})
}

func (c *RPCClient) onRedeemingTx(tx *btcutil.Tx, block *btcjson.BlockDetails) {
	c.onRecvTx(tx, block)
}

func parseBlock(block *btcjson.BlockDetails) (*BlockMeta, error) {
	if block == nil {
		return nil, nil
	}
	hash, err := chainhash.NewHashFromStr(block.Hash)
	if err != nil {
		return nil, err
	}
	return &BlockMeta{
		Hash:   *hash,
		Height: block.Height,
		Time:   time.Unix(block.Time, 0),
	}, nil
}

// handler queues notifications without bound so the rpcclient callbacks
// never block on a slow consumer.
func (c *RPCClient) handler() {
	defer c.wg.Done()
	defer close(c.dequeueNotification)

	var queue []interface{}
	enqueue := c.enqueueNotification
	for {
		var dequeue chan interface{}
		var next interface{}
		if len(queue) > 0 {
			dequeue = c.dequeueNotification
			next = queue[0]
		}

		select {
		case n := <-enqueue:
			queue = append(queue, n)

		case dequeue <- next:
			queue[0] = nil
			queue = queue[1:]

		case <-c.quit:
			return
		}
	}
}
