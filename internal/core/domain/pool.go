package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// PoolKind selects the pricing function.
type PoolKind string

const (
	PoolKindConstantProduct PoolKind = "constant_product"
	PoolKindBondingCurve    PoolKind = "bonding_curve"
)

// PoolRef is the static registration of a pool. Token0 is always the quote
// asset (native/stable side); buying means spending Token0 for Token1.
type PoolRef struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Kind    PoolKind `json:"kind"`
	Token0  string   `json:"token0"`
	Token1  string   `json:"token1"`
	FeeBps  int64    `json:"fee_bps"`
}

// Orient returns the direction implied by trading tokenIn for tokenOut on this pool.
func (p PoolRef) Orient(tokenIn, tokenOut string) (Direction, bool) {
	switch {
	case strings.EqualFold(tokenIn, p.Token0) && strings.EqualFold(tokenOut, p.Token1):
		return DirectionBuy, true
	case strings.EqualFold(tokenIn, p.Token1) && strings.EqualFold(tokenOut, p.Token0):
		return DirectionSell, true
	}
	return "", false
}

// PoolSnapshot is a validated, immutable read of pool state at one block.
//
// For constant_product pools Reserve0/Reserve1 are the pair reserves.
// For bonding_curve pools they are the virtual reserves and RealNativeReserve /
// RealTokenReserve bound what the curve can actually pay out.
type PoolSnapshot struct {
	PoolID            string
	SnapshotID        string
	Kind              PoolKind
	Token0            string
	Token1            string
	Reserve0          *big.Int
	Reserve1          *big.Int
	RealNativeReserve *big.Int
	RealTokenReserve  *big.Int
	FeeBps            int64
	BlockNumber       uint64
	BlockTime         time.Time
	ReadAt            time.Time
}

var ErrInvalidSnapshot = errors.New("invalid pool snapshot")

// Validate rejects snapshots that pricing cannot safely consume.
func (s *PoolSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if s.Kind != PoolKindConstantProduct && s.Kind != PoolKindBondingCurve {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSnapshot, s.Kind)
	}
	if s.Reserve0 == nil || s.Reserve1 == nil || s.Reserve0.Sign() < 0 || s.Reserve1.Sign() < 0 {
		return fmt.Errorf("%w: missing or negative reserves", ErrInvalidSnapshot)
	}
	if s.FeeBps < 0 || s.FeeBps >= BpsDenominator {
		return fmt.Errorf("%w: fee_bps %d out of range", ErrInvalidSnapshot, s.FeeBps)
	}
	if s.Kind == PoolKindBondingCurve {
		if s.RealNativeReserve == nil || s.RealTokenReserve == nil ||
			s.RealNativeReserve.Sign() < 0 || s.RealTokenReserve.Sign() < 0 {
			return fmt.Errorf("%w: bonding curve without real reserves", ErrInvalidSnapshot)
		}
	}
	if s.BlockTime.IsZero() {
		return fmt.Errorf("%w: missing block time", ErrInvalidSnapshot)
	}
	return nil
}

// Age is how old the underlying chain state is at now.
func (s *PoolSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.BlockTime)
}

// BuildSnapshotID names a snapshot by pool and block.
func BuildSnapshotID(poolID string, block uint64) string {
	return fmt.Sprintf("%s@%d", poolID, block)
}
