package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionWalletCreate AuditAction = "WALLET_CREATE"
	AuditActionWalletImport AuditAction = "WALLET_IMPORT"
	AuditActionKeyRotate    AuditAction = "KEY_ROTATE"
	AuditActionQuote        AuditAction = "QUOTE"
	AuditActionTrade        AuditAction = "TRADE_EXECUTE"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *string     `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
