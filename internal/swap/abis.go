package swap

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// TopicSwapV3 is Swap(address,address,int256,int256,uint160,uint128,int24).
	TopicSwapV3 = common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")
	// TopicSwapV2 is Swap(address,uint256,uint256,uint256,uint256,address).
	TopicSwapV2 = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
)

// Topics lists every swap signature the normalizer understands, in the shape
// used by eth_getLogs (one OR-group for topic0).
func Topics() [][]common.Hash {
	return [][]common.Hash{{TopicSwapV2, TopicSwapV3}}
}

const UniswapV2PairABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "sender",     "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0In",  "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1In",  "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount0Out", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1Out", "type": "uint256"},
      {"indexed": true,  "internalType": "address", "name": "to",         "type": "address"}
    ],
    "name": "Swap",
    "type": "event"
  }
]`

const UniswapV3PoolABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "sender",       "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "recipient",    "type": "address"},
      {"indexed": false, "internalType": "int256",  "name": "amount0",      "type": "int256"},
      {"indexed": false, "internalType": "int256",  "name": "amount1",      "type": "int256"},
      {"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
      {"indexed": false, "internalType": "uint128", "name": "liquidity",    "type": "uint128"},
      {"indexed": false, "internalType": "int24",   "name": "tick",         "type": "int24"}
    ],
    "name": "Swap",
    "type": "event"
  }
]`

func parseSwapEvent(abiJSON string) (*abi.Event, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap ABI: %w", err)
	}
	event, ok := parsed.Events["Swap"]
	if !ok {
		return nil, fmt.Errorf("swap event missing from ABI")
	}
	return &event, nil
}
