package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const pairABIJSON = `[
{"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}
]`

const curveABIJSON = `[
{"inputs":[{"name":"token","type":"address"}],"name":"curves","outputs":[
{"name":"realMonReserve","type":"uint256"},
{"name":"realTokenReserve","type":"uint256"},
{"name":"virtualMonReserve","type":"uint256"},
{"name":"virtualTokenReserve","type":"uint256"},
{"name":"k","type":"uint256"},
{"name":"targetTokenAmount","type":"uint256"}
],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
{"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const routerABIJSON = `[
{"inputs":[{"components":[{"name":"amountOutMin","type":"uint256"},{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"params","type":"tuple"}],"name":"buy","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"components":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"params","type":"tuple"}],"name":"sell","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"components":[{"name":"amountInMax","type":"uint256"},{"name":"amountOut","type":"uint256"},{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"params","type":"tuple"}],"name":"exactOutBuy","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"components":[{"name":"amountInMax","type":"uint256"},{"name":"amountOut","type":"uint256"},{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"params","type":"tuple"}],"name":"exactOutSell","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

type poolABIs struct {
	pair  *abi.ABI
	curve *abi.ABI
	erc20 *abi.ABI
}

func loadPoolABIs() (*poolABIs, error) {
	pair, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	curve, err := abi.JSON(strings.NewReader(curveABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse curve ABI: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}
	return &poolABIs{pair: &pair, curve: &curve, erc20: &erc20}, nil
}

func loadRouterABI() (*abi.ABI, error) {
	router, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &router, nil
}

// call packs method, runs eth_call at block and unpacks the outputs.
func (c *Client) call(ctx context.Context, contract *abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	result, err := c.backend.CallContract(rctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err))
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty result (no contract at address?)", method, to.Hex())
	}

	out, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}
