package ethereum

import (
	"errors"
	"fmt"
	"math/big"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errIncompleteQuote = errors.New("quote is missing trade bounds")

type buyParams struct {
	AmountOutMin *big.Int
	Token        common.Address
	To           common.Address
	Deadline     *big.Int
}

type sellParams struct {
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Token        common.Address
	To           common.Address
	Deadline     *big.Int
}

type exactOutParams struct {
	AmountInMax *big.Int
	AmountOut   *big.Int
	Token       common.Address
	To          common.Address
	Deadline    *big.Int
}

// RouterTxBuilder encodes swaps against the bonding-curve/DEX router.
// Buys pay the native input as tx value; sells pull the token through an
// allowance granted outside this service.
type RouterTxBuilder struct {
	router   common.Address
	chainID  *big.Int
	gasLimit uint64
	abi      *abi.ABI
}

// NewRouterTxBuilder validates the router address and loads the router ABI.
func NewRouterTxBuilder(router string, chainID int64, gasLimit uint64) (*RouterTxBuilder, error) {
	if !common.IsHexAddress(router) {
		return nil, fmt.Errorf("invalid router address %q", router)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", chainID)
	}
	routerABI, err := loadRouterABI()
	if err != nil {
		return nil, err
	}
	return &RouterTxBuilder{
		router:   common.HexToAddress(router),
		chainID:  big.NewInt(chainID),
		gasLimit: gasLimit,
		abi:      routerABI,
	}, nil
}

func (b *RouterTxBuilder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// BuildSwap returns an unsigned legacy transaction calling the router method
// that matches the quote's direction and mode.
func (b *RouterTxBuilder) BuildSwap(p ports.SwapTxParams) (*types.Transaction, error) {
	q := p.Quote
	if q == nil {
		return nil, errors.New("quote is required")
	}
	if !common.IsHexAddress(p.Recipient) {
		return nil, fmt.Errorf("invalid recipient %q", p.Recipient)
	}
	if p.GasPrice == nil || p.GasPrice.Sign() <= 0 {
		return nil, errors.New("gas price is required")
	}

	to := common.HexToAddress(p.Recipient)
	deadline := big.NewInt(p.Deadline.Unix())

	var (
		method string
		args   interface{}
		value  = new(big.Int)
	)

	switch {
	case q.Direction == domain.DirectionBuy && q.Mode == domain.QuoteModeExactIn:
		if q.AmountIn == nil || q.MinAmountOut == nil {
			return nil, errIncompleteQuote
		}
		method = "buy"
		args = buyParams{AmountOutMin: q.MinAmountOut, Token: common.HexToAddress(q.TokenOut), To: to, Deadline: deadline}
		value.Set(q.AmountIn)
	case q.Direction == domain.DirectionSell && q.Mode == domain.QuoteModeExactIn:
		if q.AmountIn == nil || q.MinAmountOut == nil {
			return nil, errIncompleteQuote
		}
		method = "sell"
		args = sellParams{AmountIn: q.AmountIn, AmountOutMin: q.MinAmountOut, Token: common.HexToAddress(q.TokenIn), To: to, Deadline: deadline}
	case q.Direction == domain.DirectionBuy && q.Mode == domain.QuoteModeExactOut:
		if q.MaxAmountIn == nil || q.AmountOut == nil {
			return nil, errIncompleteQuote
		}
		method = "exactOutBuy"
		args = exactOutParams{AmountInMax: q.MaxAmountIn, AmountOut: q.AmountOut, Token: common.HexToAddress(q.TokenOut), To: to, Deadline: deadline}
		value.Set(q.MaxAmountIn)
	case q.Direction == domain.DirectionSell && q.Mode == domain.QuoteModeExactOut:
		if q.MaxAmountIn == nil || q.AmountOut == nil {
			return nil, errIncompleteQuote
		}
		method = "exactOutSell"
		args = exactOutParams{AmountInMax: q.MaxAmountIn, AmountOut: q.AmountOut, Token: common.HexToAddress(q.TokenIn), To: to, Deadline: deadline}
	default:
		return nil, fmt.Errorf("unsupported quote %s/%s", q.Direction, q.Mode)
	}

	data, err := b.abi.Pack(method, args)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	router := b.router
	return types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: new(big.Int).Set(p.GasPrice),
		Gas:      b.gasLimit,
		To:       &router,
		Value:    value,
		Data:     data,
	}), nil
}
