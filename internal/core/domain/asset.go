package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the chain's native coin.
const NativeDecimals = 18

// TokenInfo is the ERC-20 metadata of a token.
type TokenInfo struct {
	Address  string
	Name     string
	Symbol   string
	Decimals uint8
}

// Balance is one holding of a wallet. Token is empty for the native coin.
type Balance struct {
	WalletID uuid.UUID
	Address  string
	Token    string
	Symbol   string
	Decimals uint8
	Amount   *big.Int
	ReadAt   time.Time
}

// Formatted renders Amount in whole units, e.g. 1500000000000000000 with 18
// decimals is "1.5".
func (b *Balance) Formatted() string {
	return FormatUnits(b.Amount, b.Decimals)
}

// FormatUnits shifts a base-unit amount by decimals places.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
