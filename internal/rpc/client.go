package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	pkgrpc "github.com/chainindexor/blockindexer/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

// Client wraps the Ethereum RPC client with convenience methods for indexing.
// It implements the pkgrpc.EthClient interface.
//
// Client makes exactly one attempt per call. Rate limiting, retry with
// backoff, and circuit breaking are composed explicitly at the sync engine's
// fetch-worker call sites (internal/ratelimiter, internal/retry,
// internal/breaker), not hidden inside this client.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) instrument(method string) func(err *error) {
	start := time.Now()
	RPCMethodInc(method)
	return func(err *error) {
		RPCMethodDuration(method, time.Since(start))
		if *err != nil {
			RPCMethodError(method, "error")
		}
	}
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var err error
	defer c.instrument("eth_getLogs")(&err)

	var logs []types.Log
	logs, err = c.eth.FilterLogs(ctx, query)
	return logs, err
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	var err error
	defer c.instrument("eth_getBlockByNumber")(&err)

	var header *types.Header
	header, err = c.eth.HeaderByNumber(ctx, big.NewInt(int64(blockNum)))
	return header, err
}

// GetLatestBlockHeader retrieves the latest block header.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	var err error
	defer c.instrument("eth_getBlockByNumber")(&err)

	var header *types.Header
	header, err = c.eth.HeaderByNumber(ctx, nil)
	return header, err
}

// GetFinalizedBlockHeader retrieves the finalized block header.
func (c *Client) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	var err error
	defer c.instrument("eth_getBlockByNumber")(&err)

	var header *types.Header
	header, err = c.eth.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	return header, err
}

// GetSafeBlockHeader retrieves the safe block header.
func (c *Client) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	var err error
	defer c.instrument("eth_getBlockByNumber")(&err)

	var header *types.Header
	header, err = c.eth.HeaderByNumber(ctx, big.NewInt(int64(rpc.SafeBlockNumber)))
	return header, err
}

// BatchGetLogs retrieves logs for multiple filter queries in a single batch call.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	var err error
	defer c.instrument("eth_getLogs_batch")(&err)

	batch := make([]rpc.BatchElem, len(queries))
	results := make([][]types.Log, len(queries))

	for i, query := range queries {
		batch[i] = rpc.BatchElem{
			Method: "eth_getLogs",
			Args:   []any{toFilterArg(query)},
			Result: &results[i],
		}
	}

	if err = c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}
	for _, elem := range batch {
		if elem.Error != nil {
			err = elem.Error
			return nil, err
		}
	}

	return results, nil
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in a
// single batch call, chunked to maxBatch elements per round trip.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100
	var allResults []*types.Header

	var err error
	defer c.instrument("eth_getBlockByNumber_batch")(&err)

	for i := 0; i < len(blockNums); i += maxBatch {
		end := min(i+maxBatch, len(blockNums))
		chunk := blockNums[i:end]

		batch := make([]rpc.BatchElem, len(chunk))
		chunkResults := make([]*types.Header, len(chunk))

		for j, blockNum := range chunk {
			batch[j] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
				Result: &chunkResults[j],
			}
		}

		if err = c.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, err
		}
		for _, elem := range batch {
			if elem.Error != nil {
				err = elem.Error
				return nil, err
			}
		}

		allResults = append(allResults, chunkResults...)
	}

	return allResults, nil
}

// toFilterArg converts ethereum.FilterQuery to the format expected by eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
