package ports

import (
	"context"
	"errors"
	"math/big"
	"time"

	"dex-trade-core/internal/core/domain"

	"github.com/ethereum/go-ethereum/core/types"
)

// ErrTransient marks chain errors that are safe to retry for idempotent reads
// (timeouts, connection resets, 5xx from the RPC endpoint).
var ErrTransient = errors.New("transient chain error")

// IsTransient reports whether err is marked transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// TxStatus is the on-chain status of a broadcast transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"
)

// TxReceipt is the typed result of a status lookup.
type TxReceipt struct {
	Status      TxStatus
	GasUsed     uint64
	BlockNumber uint64
}

// ChainReader reads pool state. Implementations validate the raw RPC output
// into a domain.PoolSnapshot before returning it.
type ChainReader interface {
	ReadPoolState(ctx context.Context, pool domain.PoolRef) (*domain.PoolSnapshot, error)
}

// ChainClient is the full chain collaborator used by the trade executor.
type ChainClient interface {
	ChainReader
	// SubmitTransaction broadcasts a signed transaction. It is never retried.
	SubmitTransaction(ctx context.Context, tx *types.Transaction) (string, error)
	GetTransactionStatus(ctx context.Context, txHash string) (*TxReceipt, error)
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// AccountReader reads balances and ERC-20 metadata at the latest block.
type AccountReader interface {
	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, address string) (*big.Int, error)
	TokenInfo(ctx context.Context, token string) (*domain.TokenInfo, error)
}

// SwapTxParams binds a quote to a concrete unsigned router call.
type SwapTxParams struct {
	Quote     *domain.Quote
	Recipient string
	Nonce     uint64
	GasPrice  *big.Int
	Deadline  time.Time
}

// TxBuilder encodes router calls. Pure: no network access.
type TxBuilder interface {
	BuildSwap(params SwapTxParams) (*types.Transaction, error)
	ChainID() *big.Int
}

// PoolDirectory resolves a token pair to a registered pool.
type PoolDirectory interface {
	Resolve(tokenIn, tokenOut string) (domain.PoolRef, bool)
	All() []domain.PoolRef
}
