package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderState
		want     bool
	}{
		{OrderStateCreated, OrderStateQuoted, true},
		{OrderStateQuoted, OrderStateSigned, true},
		{OrderStateSigned, OrderStateSubmitted, true},
		{OrderStateSubmitted, OrderStateConfirmed, true},
		{OrderStateSubmitted, OrderStateFailed, true},
		{OrderStateSubmitted, OrderStateExpired, true},
		{OrderStateCreated, OrderStateSigned, false},
		{OrderStateQuoted, OrderStateSubmitted, false},
		{OrderStateSubmitted, OrderStateSigned, false},
		{OrderStateSubmitted, OrderStateSubmitted, false},
		{OrderStateConfirmed, OrderStateSubmitted, false},
		{OrderStateExpired, OrderStateConfirmed, false},
		{OrderStateFailed, OrderStateExpired, false},
		{OrderState("BOGUS"), OrderStateQuoted, false},
		{OrderStateSubmitted, OrderState("BOGUS"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_NeverBackward(t *testing.T) {
	states := []OrderState{
		OrderStateCreated, OrderStateQuoted, OrderStateSigned, OrderStateSubmitted,
		OrderStateConfirmed, OrderStateFailed, OrderStateExpired,
	}
	for _, from := range states {
		for _, to := range states {
			if stateRank[to] <= stateRank[from] {
				assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestOrderState_Flags(t *testing.T) {
	tests := []struct {
		state    OrderState
		terminal bool
	}{
		{OrderStateCreated, false},
		{OrderStateQuoted, false},
		{OrderStateSigned, false},
		{OrderStateSubmitted, false},
		{OrderStateConfirmed, true},
		{OrderStateFailed, true},
		{OrderStateExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.True(t, tt.state.Valid())
		})
	}
}

func cpSnapshot(r0, r1 int64, fee int64) *PoolSnapshot {
	return &PoolSnapshot{
		PoolID:    "usdc-token",
		Kind:      PoolKindConstantProduct,
		Reserve0:  big.NewInt(r0),
		Reserve1:  big.NewInt(r1),
		FeeBps:    fee,
		BlockTime: time.Unix(1700000000, 0),
	}
}

func curveSnapshot() *PoolSnapshot {
	return &PoolSnapshot{
		PoolID:            "curve-token",
		Kind:              PoolKindBondingCurve,
		Reserve0:          big.NewInt(1000),
		Reserve1:          big.NewInt(1_000_000),
		RealNativeReserve: big.NewInt(500),
		RealTokenReserve:  big.NewInt(800_000),
		FeeBps:            100,
		BlockTime:         time.Unix(1700000000, 0),
	}
}

func TestQuoteExactIn_ReferenceScenario(t *testing.T) {
	// reserves (10000, 5000), buy 100, no fee
	res, err := QuoteExactIn(cpSnapshot(10000, 5000, 0), DirectionBuy, big.NewInt(100))
	require.NoError(t, err)

	assert.Equal(t, int64(49), res.AmountOut.Int64())
	assert.Equal(t, int64(48), MinAmountOut(res.AmountOut, 50).Int64())
	assert.True(t, res.SpotPrice.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, res.ExecutionPrice.Equal(decimal.RequireFromString("0.49")))
	assert.Equal(t, int64(200), res.PriceImpactBps)
}

func TestQuoteExactIn_FeeReducesOutput(t *testing.T) {
	noFee, err := QuoteExactIn(cpSnapshot(1_000_000, 1_000_000, 0), DirectionBuy, big.NewInt(1000))
	require.NoError(t, err)
	withFee, err := QuoteExactIn(cpSnapshot(1_000_000, 1_000_000, 30), DirectionBuy, big.NewInt(1000))
	require.NoError(t, err)

	assert.Equal(t, 1, noFee.AmountOut.Cmp(withFee.AmountOut))
	assert.Greater(t, withFee.PriceImpactBps, noFee.PriceImpactBps)
}

func TestQuoteExactIn_SellUsesReversedReserves(t *testing.T) {
	res, err := QuoteExactIn(cpSnapshot(10000, 5000, 0), DirectionSell, big.NewInt(100))
	require.NoError(t, err)
	// 100*10000/(5000+100) = 196.07
	assert.Equal(t, int64(196), res.AmountOut.Int64())
}

func TestQuoteExactIn_Errors(t *testing.T) {
	_, err := QuoteExactIn(cpSnapshot(10000, 5000, 0), DirectionBuy, big.NewInt(0))
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = QuoteExactIn(cpSnapshot(0, 5000, 0), DirectionBuy, big.NewInt(10))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	// Rounds to zero output.
	_, err = QuoteExactIn(cpSnapshot(1_000_000, 10, 0), DirectionBuy, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestQuoteExactOut_ConstantProduct(t *testing.T) {
	s := cpSnapshot(10000, 5000, 0)

	res, err := QuoteExactOut(s, DirectionBuy, big.NewInt(49))
	require.NoError(t, err)
	assert.Equal(t, int64(99), res.AmountIn.Int64())

	// Paying the computed input must yield at least the requested output.
	back, err := QuoteExactIn(s, DirectionBuy, res.AmountIn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, back.AmountOut.Int64(), int64(49))

	_, err = QuoteExactOut(s, DirectionBuy, big.NewInt(5000))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestBondingCurve_Buy(t *testing.T) {
	res, err := QuoteExactIn(curveSnapshot(), DirectionBuy, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(9802), res.AmountOut.Int64())

	_, err = QuoteExactIn(curveSnapshot(), DirectionBuy, big.NewInt(5000))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity, "output above real token reserve")
}

func TestBondingCurve_Sell(t *testing.T) {
	res, err := QuoteExactIn(curveSnapshot(), DirectionSell, big.NewInt(10_000))
	require.NoError(t, err)
	// gross 9, fee taken from native side
	assert.Equal(t, int64(8), res.AmountOut.Int64())

	_, err = QuoteExactIn(curveSnapshot(), DirectionSell, big.NewInt(2_000_000))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity, "proceeds above real native reserve")
}

func TestBondingCurve_ExactOut(t *testing.T) {
	s := curveSnapshot()

	buy, err := QuoteExactOut(s, DirectionBuy, big.NewInt(9802))
	require.NoError(t, err)
	back, err := QuoteExactIn(s, DirectionBuy, buy.AmountIn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, back.AmountOut.Int64(), int64(9802))

	sell, err := QuoteExactOut(s, DirectionSell, big.NewInt(8))
	require.NoError(t, err)
	backSell, err := QuoteExactIn(s, DirectionSell, sell.AmountIn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, backSell.AmountOut.Int64(), int64(8))

	_, err = QuoteExactOut(s, DirectionBuy, big.NewInt(800_001))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestSlippageBounds(t *testing.T) {
	tests := []struct {
		name     string
		expected int64
		bps      int64
		min      int64
		max      int64
	}{
		{"exact division", 1_000_000, 50, 995_000, 1_005_000},
		{"rounds min down and max up", 49, 50, 48, 50},
		{"zero slippage", 777, 0, 777, 777},
		{"five percent", 99, 500, 94, 104},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := big.NewInt(tt.expected)
			min := MinAmountOut(exp, tt.bps)
			max := MaxAmountIn(exp, tt.bps)
			assert.Equal(t, tt.min, min.Int64())
			assert.Equal(t, tt.max, max.Int64())
			assert.LessOrEqual(t, min.Int64(), tt.expected)

			// gap equals slippage within one unit of rounding
			gap := tt.expected - min.Int64()
			exact := float64(tt.expected) * float64(tt.bps) / BpsDenominator
			assert.InDelta(t, exact, float64(gap), 1.0)
		})
	}
}

func TestPoolSnapshot_Validate(t *testing.T) {
	assert.NoError(t, cpSnapshot(1, 1, 30).Validate())
	assert.NoError(t, curveSnapshot().Validate())

	bad := cpSnapshot(1, 1, 30)
	bad.Reserve0 = nil
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSnapshot)

	bad = cpSnapshot(1, 1, 10000)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSnapshot)

	bad = curveSnapshot()
	bad.RealTokenReserve = nil
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSnapshot)

	bad = cpSnapshot(1, 1, 0)
	bad.BlockTime = time.Time{}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSnapshot)

	bad = cpSnapshot(1, 1, 0)
	bad.Kind = "orderbook"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSnapshot)

	var nilSnap *PoolSnapshot
	assert.ErrorIs(t, nilSnap.Validate(), ErrInvalidSnapshot)
}

func TestQuote_ValidAt(t *testing.T) {
	now := time.Now()
	q := &Quote{ComputedAt: now, ExpiresAt: now.Add(30 * time.Second)}

	assert.True(t, q.ValidAt(now))
	assert.True(t, q.ValidAt(now.Add(29*time.Second)))
	assert.False(t, q.ValidAt(now.Add(30*time.Second)))
	assert.False(t, q.ValidAt(now.Add(-time.Second)))

	var nilQuote *Quote
	assert.False(t, nilQuote.ValidAt(now))
}

func TestQuote_InputBound(t *testing.T) {
	in := &Quote{Mode: QuoteModeExactIn, AmountIn: big.NewInt(100), MaxAmountIn: big.NewInt(100)}
	out := &Quote{Mode: QuoteModeExactOut, AmountIn: big.NewInt(99), MaxAmountIn: big.NewInt(100)}
	assert.Equal(t, int64(100), in.InputBound().Int64())
	assert.Equal(t, int64(100), out.InputBound().Int64())
}

func TestPoolRef_Orient(t *testing.T) {
	p := PoolRef{Token0: "0xAAA", Token1: "0xBBB"}

	dir, ok := p.Orient("0xaaa", "0xBBB")
	assert.True(t, ok)
	assert.Equal(t, DirectionBuy, dir)

	dir, ok = p.Orient("0xBBB", "0xAAA")
	assert.True(t, ok)
	assert.Equal(t, DirectionSell, dir)

	_, ok = p.Orient("0xAAA", "0xCCC")
	assert.False(t, ok)
}

func TestBuildKeys(t *testing.T) {
	assert.Equal(t, "trade:user-1:ref-9", BuildTradeIdempotencyKey("user-1", "ref-9"))
	assert.Equal(t, "quote:consumed:abc", BuildQuoteConsumptionKey("abc"))
	assert.Equal(t, "pool-1@42", BuildSnapshotID("pool-1", 42))
}

func TestWallet_OwnedBy(t *testing.T) {
	w := &Wallet{OwnerUserID: "tg:42"}
	assert.True(t, w.OwnedBy("tg:42"))
	assert.False(t, w.OwnedBy("tg:43"))
}

func TestFormatUnits(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	tests := []struct {
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{wei, 18, "1.5"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(2_500_000), 6, "2.5"},
		{big.NewInt(42), 0, "42"},
		{big.NewInt(0), 18, "0"},
		{nil, 18, "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUnits(tt.amount, tt.decimals))
	}
}

func TestOrderFilter_Matches(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := &Order{State: OrderStateExpired, SubmittedAt: &at}

	assert.True(t, OrderFilter{State: OrderStateExpired}.Matches(o), "zero bounds are open")
	assert.False(t, OrderFilter{State: OrderStateSubmitted}.Matches(o))
	assert.False(t, OrderFilter{State: OrderStateExpired, SubmittedBefore: at}.Matches(o), "upper bound is exclusive")
	assert.True(t, OrderFilter{State: OrderStateExpired, SubmittedAfter: at}.Matches(o), "lower bound is inclusive")
	assert.False(t, OrderFilter{State: OrderStateExpired, After: CursorOf(o)}.Matches(o), "cursor row itself is excluded")
	assert.False(t, OrderFilter{State: OrderStateExpired}.Matches(&Order{State: OrderStateExpired}), "never submitted")
}
