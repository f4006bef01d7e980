package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

const defaultCallTimeout = 30 * time.Second

// Client wraps an Ethereum client for JSON-RPC interactions
type Client struct {
	client   *ethclient.Client
	raw      *rpc.Client
	endpoint string
	chainID  *big.Int
	logger   zerolog.Logger
}

// NewClient creates a new RPC client
func NewClient(endpoint string, chainID int64, logger zerolog.Logger) (*Client, error) {
	httpClient := &http.Client{
		Timeout: defaultCallTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	rpcClient, err := rpc.DialHTTPWithClient(endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client := ethclient.NewClient(rpcClient)

	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	networkID, err := client.ChainID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to verify chain ID, continuing anyway")
	} else if networkID.Int64() != chainID {
		logger.Warn().
			Int64("expected", chainID).
			Int64("got", networkID.Int64()).
			Msg("Chain ID mismatch, continuing anyway")
	}

	logger.Info().
		Int64("chain_id", chainID).
		Msg("Connected to RPC endpoint")

	return &Client{
		client:   client,
		raw:      rpcClient,
		endpoint: endpoint,
		chainID:  big.NewInt(chainID),
		logger:   logger,
	}, nil
}

// Close closes the RPC client connection
func (c *Client) Close() {
	c.client.Close()
	c.logger.Info().Msg("RPC client connection closed")
}

// Eth exposes the underlying ethclient, which satisfies the bind backends
// used for contract calls.
func (c *Client) Eth() *ethclient.Client {
	return c.client
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultCallTimeout)
}

// GetLatestBlockNumber returns the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	blockNumber, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// GetBlockTime returns the header timestamp of a block.
func (c *Client) GetBlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get block header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// GetLogs fetches logs matching the given filter query
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return logs, nil
}

// GetTransactionSender returns the from address of a transaction. The raw
// call avoids re-deriving the signer for every transaction type.
func (c *Client) GetTransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var tx *RawTransaction
	if err := c.raw.CallContext(ctx, &tx, "eth_getTransactionByHash", txHash); err != nil {
		return common.Address{}, fmt.Errorf("failed to get transaction %s: %w", txHash.Hex(), err)
	}
	if tx == nil {
		return common.Address{}, fmt.Errorf("transaction %s not found", txHash.Hex())
	}
	return tx.From, nil
}

// GetTokenMetadata calls the Alchemy alchemy_getTokenMetadata extension.
func (c *Client) GetTokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var meta TokenMetadata
	if err := c.raw.CallContext(ctx, &meta, "alchemy_getTokenMetadata", token); err != nil {
		return nil, fmt.Errorf("failed to get token metadata %s: %w", token.Hex(), err)
	}
	return &meta, nil
}

// GetEndpoint returns the RPC endpoint URL
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

// IsConnected checks if the client is connected to the RPC endpoint
func (c *Client) IsConnected(ctx context.Context) bool {
	_, err := c.client.BlockNumber(ctx)
	return err == nil
}

// Retry wraps a function with retry logic
func (c *Client) Retry(ctx context.Context, fn func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			c.logger.Warn().
				Err(err).
				Int("attempt", i+1).
				Dur("wait", waitTime).
				Msg("Retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
				continue
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}
