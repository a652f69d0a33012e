package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus represents the delivery state of an order callback.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusDelivered NotificationStatus = "DELIVERED"
	NotificationStatusFailed    NotificationStatus = "FAILED"
)

// NotificationDelivery records the delivery of one order update to the front-end callback.
type NotificationDelivery struct {
	ID          uuid.UUID          `json:"id"`
	OrderID     uuid.UUID          `json:"order_id"`
	CallbackURL string             `json:"callback_url"`
	Payload     string             `json:"payload"` // JSON string
	HTTPStatus  *int               `json:"http_status"`
	Attempt     int                `json:"attempt"`
	Status      NotificationStatus `json:"status"`
	NextRetryAt *time.Time         `json:"next_retry_at"`
	LastError   *string            `json:"last_error"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
