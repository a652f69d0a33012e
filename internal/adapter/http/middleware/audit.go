package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful write operations. Handlers may set
// CtxResourceID to name the created or affected resource.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var userID *string
		if uid, ok := UserID(c); ok {
			userID = &uid
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			UserID:       userID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.GetString(CtxResourceID),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost {
		return "", ""
	}
	switch route {
	case "/api/v1/wallets":
		return domain.AuditActionWalletCreate, "wallet"
	case "/api/v1/wallets/import":
		return domain.AuditActionWalletImport, "wallet"
	case "/api/v1/wallets/:id/rotate-key":
		return domain.AuditActionKeyRotate, "wallet"
	case "/api/v1/quotes":
		return domain.AuditActionQuote, "quote"
	case "/api/v1/trades":
		return domain.AuditActionTrade, "order"
	}
	return "", ""
}
