package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"dex-trade-core/config"
	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	native = "0x00000000000000000000000000000000000000A1"
	token  = "0x00000000000000000000000000000000000000B2"
	pairAd = "0x00000000000000000000000000000000000000C3"
	router = "0x00000000000000000000000000000000000000D4"
	user   = "0x00000000000000000000000000000000000000E5"
)

// fakeBackend answers eth_call by method selector.
type fakeBackend struct {
	header    *types.Header
	headerErr error
	calls     map[string][]byte
	callErr   error
	callBlock []*big.Int
	sendErr   error
	sent      []*types.Transaction
	receipt   *types.Receipt
	rcptErr   error
	nonce     uint64
	gasPrice  *big.Int
	chainID   *big.Int
	balance   *big.Int
	balErr    error
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.callBlock = append(f.callBlock, block)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.calls[string(msg.Data[:4])], nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return f.header, f.headerErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.rcptErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) BalanceAt(_ context.Context, _ common.Address, block *big.Int) (*big.Int, error) {
	f.callBlock = append(f.callBlock, block)
	return f.balance, f.balErr
}

func newFake(t *testing.T) (*fakeBackend, *Client) {
	t.Helper()
	f := &fakeBackend{
		header: &types.Header{Number: big.NewInt(1234), Time: uint64(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix())},
		calls:  map[string][]byte{},
	}
	c, err := NewClient(f, Options{RequestTimeout: time.Second, MaxGasPrice: big.NewInt(100)}, zerolog.Nop())
	require.NoError(t, err)
	return f, c
}

func stub(t *testing.T, f *fakeBackend, contract *abi.ABI, method string, outputs ...interface{}) {
	t.Helper()
	m := contract.Methods[method]
	data, err := m.Outputs.Pack(outputs...)
	require.NoError(t, err)
	f.calls[string(m.ID)] = data
}

// ==================== ReadPoolState ====================

func TestClient_ReadPoolState_Pair(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.pair, "token0", common.HexToAddress(native))
	stub(t, f, c.abis.pair, "getReserves", big.NewInt(10000), big.NewInt(5000), uint32(1))

	pool := domain.PoolRef{ID: "p1", Address: pairAd, Kind: domain.PoolKindConstantProduct, Token0: native, Token1: token, FeeBps: 30}
	snap, err := c.ReadPoolState(context.Background(), pool)
	require.NoError(t, err)

	assert.Equal(t, "10000", snap.Reserve0.String())
	assert.Equal(t, "5000", snap.Reserve1.String())
	assert.Equal(t, uint64(1234), snap.BlockNumber)
	assert.Equal(t, "p1@1234", snap.SnapshotID)
	assert.Equal(t, int64(30), snap.FeeBps)
	assert.False(t, snap.ReadAt.IsZero())
	for _, b := range f.callBlock {
		assert.Equal(t, int64(1234), b.Int64(), "calls pinned to the header block")
	}
}

func TestClient_ReadPoolState_PairSortedTheOtherWay(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.pair, "token0", common.HexToAddress(token))
	stub(t, f, c.abis.pair, "getReserves", big.NewInt(5000), big.NewInt(10000), uint32(1))

	pool := domain.PoolRef{ID: "p1", Address: pairAd, Kind: domain.PoolKindConstantProduct, Token0: native, Token1: token}
	snap, err := c.ReadPoolState(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, "10000", snap.Reserve0.String())
	assert.Equal(t, "5000", snap.Reserve1.String())
}

func TestClient_ReadPoolState_PairWithoutQuoteAsset(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.pair, "token0", common.HexToAddress(user))
	stub(t, f, c.abis.pair, "getReserves", big.NewInt(1), big.NewInt(1), uint32(1))

	pool := domain.PoolRef{ID: "p1", Address: pairAd, Kind: domain.PoolKindConstantProduct, Token0: native, Token1: token}
	_, err := c.ReadPoolState(context.Background(), pool)
	assert.ErrorIs(t, err, domain.ErrInvalidSnapshot)
}

func TestClient_ReadPoolState_Curve(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.curve, "curves",
		big.NewInt(700), big.NewInt(800),
		big.NewInt(30000), big.NewInt(1000000),
		big.NewInt(0), big.NewInt(0))

	pool := domain.PoolRef{ID: "curve", Address: router, Kind: domain.PoolKindBondingCurve, Token0: native, Token1: token, FeeBps: 100}
	snap, err := c.ReadPoolState(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, "700", snap.RealNativeReserve.String())
	assert.Equal(t, "800", snap.RealTokenReserve.String())
	assert.Equal(t, "30000", snap.Reserve0.String())
	assert.Equal(t, "1000000", snap.Reserve1.String())
}

func TestClient_ReadPoolState_EmptyResult(t *testing.T) {
	_, c := newFake(t)
	pool := domain.PoolRef{ID: "p1", Address: pairAd, Kind: domain.PoolKindConstantProduct, Token0: native, Token1: token}
	_, err := c.ReadPoolState(context.Background(), pool)
	require.Error(t, err)
	assert.False(t, ports.IsTransient(err))
}

func TestClient_ReadPoolState_TransientHeaderError(t *testing.T) {
	f, c := newFake(t)
	f.headerErr = rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}

	pool := domain.PoolRef{ID: "p1", Address: pairAd, Kind: domain.PoolKindConstantProduct, Token0: native, Token1: token}
	_, err := c.ReadPoolState(context.Background(), pool)
	assert.True(t, ports.IsTransient(err))
}

// ==================== Transactions ====================

func TestClient_GetTransactionStatus(t *testing.T) {
	tests := []struct {
		name    string
		receipt *types.Receipt
		err     error
		want    ports.TxStatus
	}{
		{"not mined", nil, ethereum.NotFound, ports.TxStatusPending},
		{"success", &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 90000, BlockNumber: big.NewInt(77)}, nil, ports.TxStatusConfirmed},
		{"reverted", &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 30000, BlockNumber: big.NewInt(78)}, nil, ports.TxStatusReverted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, c := newFake(t)
			f.receipt, f.rcptErr = tt.receipt, tt.err

			got, err := c.GetTransactionStatus(context.Background(), "0xabc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			if tt.receipt != nil {
				assert.Equal(t, tt.receipt.GasUsed, got.GasUsed)
				assert.Equal(t, tt.receipt.BlockNumber.Uint64(), got.BlockNumber)
			}
		})
	}
}

func TestClient_SubmitTransaction(t *testing.T) {
	f, c := newFake(t)
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000})

	hash, err := c.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Len(t, f.sent, 1)

	f.sendErr = errors.New("already known")
	hash, err = c.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), hash)

	f.sendErr = errors.New("insufficient funds for gas * price + value")
	_, err = c.SubmitTransaction(context.Background(), tx)
	require.Error(t, err)
	assert.False(t, ports.IsTransient(err))
}

func TestClient_SuggestGasPriceCap(t *testing.T) {
	f, c := newFake(t)
	f.gasPrice = big.NewInt(50)
	got, err := c.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Int64())

	f.gasPrice = big.NewInt(101)
	_, err = c.SuggestGasPrice(context.Background())
	assert.ErrorIs(t, err, ErrGasPriceTooHigh)
}

func TestClient_PendingNonceAndChainID(t *testing.T) {
	f, c := newFake(t)
	f.nonce = 9
	f.chainID = big.NewInt(10143)

	n, err := c.PendingNonceAt(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)

	_, err = c.PendingNonceAt(context.Background(), "nope")
	assert.Error(t, err)

	assert.NoError(t, c.VerifyChainID(context.Background(), big.NewInt(10143)))
	assert.Error(t, c.VerifyChainID(context.Background(), big.NewInt(1)))
}

// ==================== Balances & token metadata ====================

func TestClient_NativeBalance(t *testing.T) {
	f, c := newFake(t)
	f.balance = big.NewInt(42)

	bal, err := c.NativeBalance(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "42", bal.String())
	assert.Nil(t, f.callBlock[0], "latest block")

	_, err = c.NativeBalance(context.Background(), "nope")
	assert.Error(t, err)

	f.balErr = rpc.HTTPError{StatusCode: 503}
	_, err = c.NativeBalance(context.Background(), user)
	assert.True(t, ports.IsTransient(err))
}

func TestClient_TokenBalance(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.erc20, "balanceOf", big.NewInt(777))

	bal, err := c.TokenBalance(context.Background(), token, user)
	require.NoError(t, err)
	assert.Equal(t, "777", bal.String())
}

func TestClient_TokenInfo(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.erc20, "decimals", uint8(6))
	stub(t, f, c.abis.erc20, "name", "Test Token")
	stub(t, f, c.abis.erc20, "symbol", "TT")

	info, err := c.TokenInfo(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, &domain.TokenInfo{Address: common.HexToAddress(token).Hex(), Name: "Test Token", Symbol: "TT", Decimals: 6}, info)
}

func TestClient_TokenInfo_MissingNameUsesPlaceholder(t *testing.T) {
	f, c := newFake(t)
	stub(t, f, c.abis.erc20, "decimals", uint8(18))

	info, err := c.TokenInfo(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", info.Name)
	assert.Equal(t, "UNKNOWN", info.Symbol)
	assert.Equal(t, uint8(18), info.Decimals)
}

func TestClient_TokenInfo_NotAToken(t *testing.T) {
	_, c := newFake(t)

	_, err := c.TokenInfo(context.Background(), user)
	require.Error(t, err)
	assert.False(t, ports.IsTransient(err))
}

func TestClassify(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, ports.IsTransient(classify(live, context.DeadlineExceeded)))
	assert.True(t, ports.IsTransient(classify(live, rpc.HTTPError{StatusCode: 429})))
	assert.False(t, ports.IsTransient(classify(live, rpc.HTTPError{StatusCode: 400})))
	assert.False(t, ports.IsTransient(classify(live, errors.New("execution reverted"))))
	assert.False(t, ports.IsTransient(classify(cancelled, context.DeadlineExceeded)), "caller cancellation is not retried")
}

// ==================== Builder ====================

func decodeCall(t *testing.T, b *RouterTxBuilder, tx *types.Transaction, dst interface{}) string {
	t.Helper()
	method, err := b.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	vals, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Len(t, vals, 1)
	converted := abi.ConvertType(vals[0], dst)
	require.NotNil(t, converted)
	return method.Name
}

func TestRouterTxBuilder_BuildSwap(t *testing.T) {
	b, err := NewRouterTxBuilder(router, 10143, 500000)
	require.NoError(t, err)
	deadline := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	base := func(dir domain.Direction, mode domain.QuoteMode) ports.SwapTxParams {
		q := &domain.Quote{Direction: dir, Mode: mode, AmountIn: big.NewInt(100), MinAmountOut: big.NewInt(48), MaxAmountIn: big.NewInt(103), AmountOut: big.NewInt(196)}
		if dir == domain.DirectionBuy {
			q.TokenIn, q.TokenOut = native, token
		} else {
			q.TokenIn, q.TokenOut = token, native
		}
		return ports.SwapTxParams{Quote: q, Recipient: user, Nonce: 4, GasPrice: big.NewInt(7), Deadline: deadline}
	}

	t.Run("buy exact in pays value", func(t *testing.T) {
		tx, err := b.BuildSwap(base(domain.DirectionBuy, domain.QuoteModeExactIn))
		require.NoError(t, err)
		var p buyParams
		assert.Equal(t, "buy", decodeCall(t, b, tx, &p))
		assert.Equal(t, "48", p.AmountOutMin.String())
		assert.Equal(t, common.HexToAddress(token), p.Token)
		assert.Equal(t, common.HexToAddress(user), p.To)
		assert.Equal(t, deadline.Unix(), p.Deadline.Int64())
		assert.Equal(t, "100", tx.Value().String())
		assert.Equal(t, uint64(4), tx.Nonce())
		assert.Equal(t, uint64(500000), tx.Gas())
		assert.Equal(t, common.HexToAddress(router), *tx.To())
	})

	t.Run("sell exact in has no value", func(t *testing.T) {
		tx, err := b.BuildSwap(base(domain.DirectionSell, domain.QuoteModeExactIn))
		require.NoError(t, err)
		var p sellParams
		assert.Equal(t, "sell", decodeCall(t, b, tx, &p))
		assert.Equal(t, "100", p.AmountIn.String())
		assert.Equal(t, common.HexToAddress(token), p.Token)
		assert.Equal(t, 0, tx.Value().Sign())
	})

	t.Run("buy exact out pays the ceiling", func(t *testing.T) {
		tx, err := b.BuildSwap(base(domain.DirectionBuy, domain.QuoteModeExactOut))
		require.NoError(t, err)
		var p exactOutParams
		assert.Equal(t, "exactOutBuy", decodeCall(t, b, tx, &p))
		assert.Equal(t, "103", p.AmountInMax.String())
		assert.Equal(t, "196", p.AmountOut.String())
		assert.Equal(t, "103", tx.Value().String())
	})

	t.Run("sell exact out", func(t *testing.T) {
		tx, err := b.BuildSwap(base(domain.DirectionSell, domain.QuoteModeExactOut))
		require.NoError(t, err)
		var p exactOutParams
		assert.Equal(t, "exactOutSell", decodeCall(t, b, tx, &p))
		assert.Equal(t, common.HexToAddress(token), p.Token)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		p := base(domain.DirectionBuy, domain.QuoteModeExactIn)
		p.Recipient = "0x12"
		_, err := b.BuildSwap(p)
		assert.Error(t, err)

		p = base(domain.DirectionBuy, domain.QuoteModeExactIn)
		p.GasPrice = nil
		_, err = b.BuildSwap(p)
		assert.Error(t, err)

		p = base(domain.DirectionBuy, domain.QuoteModeExactIn)
		p.Quote.MinAmountOut = nil
		_, err = b.BuildSwap(p)
		assert.ErrorIs(t, err, errIncompleteQuote)
	})

	assert.Equal(t, int64(10143), b.ChainID().Int64())
}

// ==================== Directory ====================

func TestStaticDirectory(t *testing.T) {
	d, err := NewStaticDirectory([]config.PoolConfig{
		{ID: "mon-tok", Address: pairAd, Kind: "constant_product", Token0: native, Token1: token, FeeBps: 30},
	})
	require.NoError(t, err)

	p, ok := d.Resolve(token, native)
	require.True(t, ok)
	assert.Equal(t, "mon-tok", p.ID)
	assert.Equal(t, common.HexToAddress(native).Hex(), p.Token0)

	_, ok = d.Resolve(native, user)
	assert.False(t, ok)
	assert.Len(t, d.All(), 1)

	_, err = NewStaticDirectory([]config.PoolConfig{{ID: "x", Address: "bad", Token0: native, Token1: token}})
	assert.Error(t, err)
	_, err = NewStaticDirectory([]config.PoolConfig{
		{ID: "x", Address: pairAd, Token0: native, Token1: token},
		{ID: "x", Address: pairAd, Token0: native, Token1: token},
	})
	assert.Error(t, err)
}
