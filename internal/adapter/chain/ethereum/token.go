package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/ethereum/go-ethereum/common"
)

// Placeholders for tokens whose metadata calls revert or are missing.
const (
	unknownTokenName   = "Unknown"
	unknownTokenSymbol = "UNKNOWN"
)

// NativeBalance returns the account's native coin balance at the latest block.
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	bal, err := c.backend.BalanceAt(rctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("balance of %s: %w", address, err))
	}
	return bal, nil
}

// TokenBalance returns balanceOf(address) on the ERC-20 contract token.
func (c *Client) TokenBalance(ctx context.Context, token, address string) (*big.Int, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address pair %q, %q", token, address)
	}
	out, err := c.call(ctx, c.abis.erc20, common.HexToAddress(token), nil, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output %T", out[0])
	}
	return bal, nil
}

// TokenInfo reads name, symbol and decimals. decimals is required; a token
// without a readable name or symbol gets a placeholder.
func (c *Client) TokenInfo(ctx context.Context, token string) (*domain.TokenInfo, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid address %q", token)
	}
	addr := common.HexToAddress(token)

	out, err := c.call(ctx, c.abis.erc20, addr, nil, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected decimals output %T", out[0])
	}

	info := &domain.TokenInfo{Address: addr.Hex(), Decimals: decimals}
	if info.Name, err = c.optionalString(ctx, addr, "name", unknownTokenName); err != nil {
		return nil, err
	}
	if info.Symbol, err = c.optionalString(ctx, addr, "symbol", unknownTokenSymbol); err != nil {
		return nil, err
	}
	return info, nil
}

// optionalString reads a string getter. Only transient failures are returned.
func (c *Client) optionalString(ctx context.Context, addr common.Address, method, fallback string) (string, error) {
	out, err := c.call(ctx, c.abis.erc20, addr, nil, method)
	if err != nil {
		if errors.Is(err, ports.ErrTransient) || ctx.Err() != nil {
			return "", err
		}
		c.log.Debug().Err(err).Str("token", addr.Hex()).Str("method", method).Msg("token metadata unreadable")
		return fallback, nil
	}
	if s, ok := out[0].(string); ok && s != "" {
		return s, nil
	}
	return fallback, nil
}
