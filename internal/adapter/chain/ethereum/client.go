// Package ethereum adapts an EVM JSON-RPC endpoint to the chain ports used by
// the quote engine and the trade executor.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// ErrGasPriceTooHigh is returned when the node suggests more than the configured cap.
var ErrGasPriceTooHigh = errors.New("suggested gas price above cap")

// Backend is the subset of *ethclient.Client the adapter needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Options tune a Client.
type Options struct {
	// RequestTimeout bounds every single RPC call.
	RequestTimeout time.Duration
	// MaxGasPrice caps SuggestGasPrice. Nil disables the cap.
	MaxGasPrice *big.Int
}

// Client implements ports.ChainClient, ports.AccountReader and ports.HealthChecker.
type Client struct {
	backend Backend
	abis    *poolABIs
	opts    Options
	now     func() time.Time
	log     zerolog.Logger
}

// Dial connects to rpcURL with a pooled HTTP transport.
func Dial(ctx context.Context, rpcURL string, opts Options, log zerolog.Logger) (*Client, *ethclient.Client, error) {
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	rpcClient, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to RPC: %w", err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	c, err := NewClient(ethClient, opts, log)
	if err != nil {
		ethClient.Close()
		return nil, nil, err
	}
	return c, ethClient, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, opts Options, log zerolog.Logger) (*Client, error) {
	abis, err := loadPoolABIs()
	if err != nil {
		return nil, err
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Client{
		backend: backend,
		abis:    abis,
		opts:    opts,
		now:     time.Now,
		log:     logger.Component(log, "chain_client"),
	}, nil
}

// ReadPoolState reads reserves of pool at the latest block. The header and the
// contract calls are pinned to the same block number.
func (c *Client) ReadPoolState(ctx context.Context, pool domain.PoolRef) (*domain.PoolSnapshot, error) {
	header, err := c.header(ctx)
	if err != nil {
		return nil, err
	}

	snap := &domain.PoolSnapshot{
		PoolID:      pool.ID,
		SnapshotID:  domain.BuildSnapshotID(pool.ID, header.Number.Uint64()),
		Kind:        pool.Kind,
		Token0:      pool.Token0,
		Token1:      pool.Token1,
		FeeBps:      pool.FeeBps,
		BlockNumber: header.Number.Uint64(),
		BlockTime:   time.Unix(int64(header.Time), 0).UTC(),
	}

	switch pool.Kind {
	case domain.PoolKindConstantProduct:
		err = c.readPairReserves(ctx, pool, header.Number, snap)
	case domain.PoolKindBondingCurve:
		err = c.readCurveReserves(ctx, pool, header.Number, snap)
	default:
		err = fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidSnapshot, pool.Kind)
	}
	if err != nil {
		return nil, err
	}

	snap.ReadAt = c.now().UTC()
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("pool_id", pool.ID).
		Uint64("block", snap.BlockNumber).
		Str("reserve0", snap.Reserve0.String()).
		Str("reserve1", snap.Reserve1.String()).
		Msg("pool state read")
	return snap, nil
}

func (c *Client) readPairReserves(ctx context.Context, pool domain.PoolRef, block *big.Int, snap *domain.PoolSnapshot) error {
	pair := common.HexToAddress(pool.Address)

	out, err := c.call(ctx, c.abis.pair, pair, block, "token0")
	if err != nil {
		return err
	}
	pairToken0, ok := out[0].(common.Address)
	if !ok {
		return fmt.Errorf("unexpected token0 output %T", out[0])
	}

	out, err = c.call(ctx, c.abis.pair, pair, block, "getReserves")
	if err != nil {
		return err
	}
	if len(out) < 2 {
		return fmt.Errorf("getReserves returned %d values", len(out))
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return fmt.Errorf("unexpected getReserves output %T, %T", out[0], out[1])
	}

	// The pair sorts tokens by address; the snapshot keeps the quote asset first.
	switch {
	case pairToken0 == common.HexToAddress(pool.Token0):
		snap.Reserve0, snap.Reserve1 = r0, r1
	case pairToken0 == common.HexToAddress(pool.Token1):
		snap.Reserve0, snap.Reserve1 = r1, r0
	default:
		return fmt.Errorf("%w: pair %s does not hold %s", domain.ErrInvalidSnapshot, pool.Address, pool.Token0)
	}
	return nil
}

func (c *Client) readCurveReserves(ctx context.Context, pool domain.PoolRef, block *big.Int, snap *domain.PoolSnapshot) error {
	out, err := c.call(ctx, c.abis.curve, common.HexToAddress(pool.Address), block, "curves", common.HexToAddress(pool.Token1))
	if err != nil {
		return err
	}
	if len(out) < 4 {
		return fmt.Errorf("curves returned %d values", len(out))
	}
	vals := make([]*big.Int, 4)
	for i := range vals {
		v, ok := out[i].(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected curves output %d: %T", i, out[i])
		}
		vals[i] = v
	}
	snap.RealNativeReserve = vals[0]
	snap.RealTokenReserve = vals[1]
	snap.Reserve0 = vals[2]
	snap.Reserve1 = vals[3]
	return nil
}

// SubmitTransaction broadcasts tx once. A node answering "already known" means
// an earlier broadcast of the same tx got through.
func (c *Client) SubmitTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if err := c.backend.SendTransaction(rctx, tx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already known") {
			return tx.Hash().Hex(), nil
		}
		return "", classify(ctx, fmt.Errorf("send transaction: %w", err))
	}
	return tx.Hash().Hex(), nil
}

// GetTransactionStatus maps the receipt to a TxStatus. A missing receipt is pending.
func (c *Client) GetTransactionStatus(ctx context.Context, txHash string) (*ports.TxReceipt, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(rctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &ports.TxReceipt{Status: ports.TxStatusPending}, nil
		}
		return nil, classify(ctx, fmt.Errorf("transaction receipt: %w", err))
	}

	res := &ports.TxReceipt{
		Status:  ports.TxStatusReverted,
		GasUsed: receipt.GasUsed,
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Status = ports.TxStatusConfirmed
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return res, nil
}

func (c *Client) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("invalid address %q", address)
	}
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(rctx, common.HexToAddress(address))
	if err != nil {
		return 0, classify(ctx, fmt.Errorf("pending nonce: %w", err))
	}
	return nonce, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	price, err := c.backend.SuggestGasPrice(rctx)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("suggest gas price: %w", err))
	}
	if c.opts.MaxGasPrice != nil && price.Cmp(c.opts.MaxGasPrice) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrGasPriceTooHigh, price, c.opts.MaxGasPrice)
	}
	return price, nil
}

// VerifyChainID fails when the endpoint serves a different chain than configured.
func (c *Client) VerifyChainID(ctx context.Context, want *big.Int) error {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	got, err := c.backend.ChainID(rctx)
	if err != nil {
		return classify(ctx, fmt.Errorf("chain id: %w", err))
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("chain id mismatch: endpoint serves %s, configured %s", got, want)
	}
	return nil
}

// Ping implements ports.HealthChecker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.header(ctx)
	return err
}

// Name implements ports.HealthChecker.
func (c *Client) Name() string {
	return "chain"
}

func (c *Client) header(ctx context.Context) (*types.Header, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	header, err := c.backend.HeaderByNumber(rctx, nil)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("latest header: %w", err))
	}
	if header == nil || header.Number == nil {
		return nil, fmt.Errorf("latest header: empty response")
	}
	return header, nil
}

// classify marks err transient when it looks like a network or endpoint hiccup.
// Errors caused by the caller's own ctx are returned unchanged.
func classify(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", ports.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
