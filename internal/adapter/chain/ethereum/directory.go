package ethereum

import (
	"fmt"

	"dex-trade-core/config"
	"dex-trade-core/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
)

// StaticDirectory is a PoolDirectory loaded once from configuration.
type StaticDirectory struct {
	pools []domain.PoolRef
}

// NewStaticDirectory validates and normalizes the configured pools to EIP-55 addresses.
func NewStaticDirectory(cfgs []config.PoolConfig) (*StaticDirectory, error) {
	seen := make(map[string]struct{}, len(cfgs))
	pools := make([]domain.PoolRef, 0, len(cfgs))

	for _, c := range cfgs {
		if c.ID == "" {
			return nil, fmt.Errorf("pool without id")
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("pool %s registered twice", c.ID)
		}
		seen[c.ID] = struct{}{}

		for field, addr := range map[string]string{"address": c.Address, "token0": c.Token0, "token1": c.Token1} {
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("pool %s: invalid %s %q", c.ID, field, addr)
			}
		}
		ref := domain.PoolRef{
			ID:      c.ID,
			Address: common.HexToAddress(c.Address).Hex(),
			Kind:    domain.PoolKind(c.Kind),
			Token0:  common.HexToAddress(c.Token0).Hex(),
			Token1:  common.HexToAddress(c.Token1).Hex(),
			FeeBps:  c.FeeBps,
		}
		if ref.Token0 == ref.Token1 {
			return nil, fmt.Errorf("pool %s: token0 equals token1", c.ID)
		}
		pools = append(pools, ref)
	}
	return &StaticDirectory{pools: pools}, nil
}

// Resolve returns the first pool trading the pair, in either direction.
func (d *StaticDirectory) Resolve(tokenIn, tokenOut string) (domain.PoolRef, bool) {
	for _, p := range d.pools {
		if _, ok := p.Orient(tokenIn, tokenOut); ok {
			return p, true
		}
	}
	return domain.PoolRef{}, false
}

func (d *StaticDirectory) All() []domain.PoolRef {
	out := make([]domain.PoolRef, len(d.pools))
	copy(out, d.pools)
	return out
}
