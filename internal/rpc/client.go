package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/ratelimit"

	internalcommon "github.com/goran-ethernal/BlockHarvester/internal/common"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
	"github.com/goran-ethernal/BlockHarvester/internal/metrics"
	itypes "github.com/goran-ethernal/BlockHarvester/internal/types"
	"github.com/goran-ethernal/BlockHarvester/pkg/config"
	pkgrpc "github.com/goran-ethernal/BlockHarvester/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthSource interface.
var _ pkgrpc.EthSource = (*Client)(nil)

// Client wraps the Ethereum RPC client with rate limiting and retries for
// the historical sync service. It implements the pkgrpc.EthSource interface.
type Client struct {
	eth     *ethclient.Client
	rpc     *ethrpc.Client
	limiter ratelimit.Limiter
	retry   *config.RetryConfig
	network string
	log     *logger.Logger
}

// NewClient creates a new RPC client connected to the network's endpoint.
// Requests are paced at the configured requests-per-second rate.
func NewClient(ctx context.Context, network *config.NetworkConfig, retry *config.RetryConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := ethrpc.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", network.Name, err)
	}

	limiter := ratelimit.NewUnlimited()
	if network.RPCRequestsPerSecond > 0 {
		limiter = ratelimit.New(network.RPCRequestsPerSecond)
	}

	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		limiter: limiter,
		retry:   retry,
		network: network.Name,
		log:     log.WithComponent(internalcommon.ComponentRequestQueue),
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call paces, instruments and retries a single RPC operation.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	c.limiter.Take()
	metrics.RPCRequestInc(c.network, method)

	start := time.Now()
	err := retryWithBackoff(ctx, c.retry, method, fn)
	metrics.RPCRequestDuration(c.network, method, time.Since(start))

	if err != nil {
		metrics.RPCErrorInc(c.network, method)
	}

	return err
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log

	err := c.call(ctx, "eth_getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}

// GetBlockByNumber retrieves a block with full transaction objects.
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (*pkgrpc.Block, error) {
	var block *pkgrpc.Block

	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		return c.rpc.CallContext(ctx, &block, "eth_getBlockByNumber", internalcommon.Uint64ToHex(number), true)
	})
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("block %d: %w", number, ErrBlockNotFound)
	}

	return block, nil
}

// GetTransactionReceipt retrieves the receipt for a transaction hash.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*pkgrpc.Receipt, error) {
	var receipt *pkgrpc.Receipt

	err := c.call(ctx, "eth_getTransactionReceipt", func() error {
		return c.rpc.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash)
	})
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("receipt %s: %w", hash, ErrReceiptNotFound)
	}

	return receipt, nil
}

// GetLatestBlockHeader retrieves the latest block header.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header

	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return header, nil
}

// GetFinalizedBlockHeader retrieves the finalized block header.
func (c *Client) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header

	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(int64(ethrpc.FinalizedBlockNumber)))
		return err
	})
	if err != nil {
		return nil, err
	}

	return header, nil
}

// GetSafeBlockHeader retrieves the safe block header.
func (c *Client) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header

	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(int64(ethrpc.SafeBlockNumber)))
		return err
	})
	if err != nil {
		return nil, err
	}

	return header, nil
}

// GetBlockHeaderByFinality retrieves the block header at the given
// finality tag.
func (c *Client) GetBlockHeaderByFinality(ctx context.Context, finality itypes.BlockFinality) (*types.Header, error) {
	switch finality {
	case itypes.FinalitySafe:
		return c.GetSafeBlockHeader(ctx)
	case itypes.FinalityLatest:
		return c.GetLatestBlockHeader(ctx)
	default:
		return c.GetFinalizedBlockHeader(ctx)
	}
}
