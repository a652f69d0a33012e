package domain

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10000

// pricePrecision is the number of decimal places kept for reported prices.
const pricePrecision = 18

var (
	ErrInsufficientLiquidity = errors.New("pool cannot satisfy amount")
	ErrNonPositiveAmount     = errors.New("amount must be positive")
)

var bigD = big.NewInt(BpsDenominator)

// SwapResult is the deterministic outcome of pricing one trade against a snapshot.
type SwapResult struct {
	AmountIn       *big.Int
	AmountOut      *big.Int
	SpotPrice      decimal.Decimal // reserveOut / reserveIn before the trade
	ExecutionPrice decimal.Decimal // amountOut / amountIn
	PriceImpactBps int64
}

// QuoteExactIn prices spending amountIn in the given direction.
func QuoteExactIn(s *PoolSnapshot, dir Direction, amountIn *big.Int) (*SwapResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	rIn, rOut := orientReserves(s, dir)
	if rIn.Sign() == 0 || rOut.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}

	var out *big.Int
	switch {
	case s.Kind == PoolKindBondingCurve && dir == DirectionSell:
		// Fee is taken from the native proceeds.
		gross := constantProductOut(amountIn, rIn, rOut, 0)
		if gross.Cmp(s.RealNativeReserve) > 0 {
			return nil, ErrInsufficientLiquidity
		}
		out = applyFee(gross, s.FeeBps)
	default:
		out = constantProductOut(amountIn, rIn, rOut, s.FeeBps)
		if s.Kind == PoolKindBondingCurve && out.Cmp(s.RealTokenReserve) > 0 {
			return nil, ErrInsufficientLiquidity
		}
	}
	if out.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	return newSwapResult(amountIn, out, rIn, rOut), nil
}

// QuoteExactOut prices receiving exactly amountOut in the given direction.
func QuoteExactOut(s *PoolSnapshot, dir Direction, amountOut *big.Int) (*SwapResult, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	rIn, rOut := orientReserves(s, dir)
	if rIn.Sign() == 0 || rOut.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}

	var in *big.Int
	switch {
	case s.Kind == PoolKindBondingCurve && dir == DirectionSell:
		gross := ceilDiv(new(big.Int).Mul(amountOut, bigD), big.NewInt(BpsDenominator-s.FeeBps))
		if gross.Cmp(rOut) >= 0 || gross.Cmp(s.RealNativeReserve) > 0 {
			return nil, ErrInsufficientLiquidity
		}
		in = constantProductIn(gross, rIn, rOut, 0)
	default:
		if amountOut.Cmp(rOut) >= 0 {
			return nil, ErrInsufficientLiquidity
		}
		if s.Kind == PoolKindBondingCurve && amountOut.Cmp(s.RealTokenReserve) > 0 {
			return nil, ErrInsufficientLiquidity
		}
		in = constantProductIn(amountOut, rIn, rOut, s.FeeBps)
	}

	return newSwapResult(in, amountOut, rIn, rOut), nil
}

// MinAmountOut is floor(expected * (10000 - slippage) / 10000).
func MinAmountOut(expected *big.Int, slippageBps int64) *big.Int {
	n := new(big.Int).Mul(expected, big.NewInt(BpsDenominator-slippageBps))
	return n.Quo(n, bigD)
}

// MaxAmountIn is ceil(expected * (10000 + slippage) / 10000).
func MaxAmountIn(expected *big.Int, slippageBps int64) *big.Int {
	n := new(big.Int).Mul(expected, big.NewInt(BpsDenominator+slippageBps))
	return ceilDiv(n, bigD)
}

// PriceImpactBps is (1 - executionPrice/spotPrice) in basis points, floored at zero.
// It includes the pool fee.
func PriceImpactBps(amountIn, amountOut, reserveIn, reserveOut *big.Int) int64 {
	num := new(big.Int).Mul(amountOut, reserveIn)
	num.Mul(num, bigD)
	den := new(big.Int).Mul(amountIn, reserveOut)
	if den.Sign() == 0 {
		return 0
	}
	ratio := num.Quo(num, den)
	impact := new(big.Int).Sub(bigD, ratio)
	if impact.Sign() < 0 {
		return 0
	}
	return impact.Int64()
}

// out = in*(D-fee)*rOut / (rIn*D + in*(D-fee)), rounded down.
func constantProductOut(amountIn, rIn, rOut *big.Int, feeBps int64) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(BpsDenominator-feeBps))
	num := new(big.Int).Mul(inWithFee, rOut)
	den := new(big.Int).Mul(rIn, bigD)
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

// in = ceil(rIn*out*D / ((rOut-out)*(D-fee))). Caller guarantees out < rOut.
func constantProductIn(amountOut, rIn, rOut *big.Int, feeBps int64) *big.Int {
	num := new(big.Int).Mul(rIn, amountOut)
	num.Mul(num, bigD)
	den := new(big.Int).Sub(rOut, amountOut)
	den.Mul(den, big.NewInt(BpsDenominator-feeBps))
	return ceilDiv(num, den)
}

func applyFee(gross *big.Int, feeBps int64) *big.Int {
	n := new(big.Int).Mul(gross, big.NewInt(BpsDenominator-feeBps))
	return n.Quo(n, bigD)
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(a, b, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func orientReserves(s *PoolSnapshot, dir Direction) (rIn, rOut *big.Int) {
	if dir == DirectionBuy {
		return s.Reserve0, s.Reserve1
	}
	return s.Reserve1, s.Reserve0
}

func newSwapResult(in, out, rIn, rOut *big.Int) *SwapResult {
	return &SwapResult{
		AmountIn:       in,
		AmountOut:      out,
		SpotPrice:      ratio(rOut, rIn),
		ExecutionPrice: ratio(out, in),
		PriceImpactBps: PriceImpactBps(in, out, rIn, rOut),
	}
}

func ratio(num, den *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), pricePrecision)
}
