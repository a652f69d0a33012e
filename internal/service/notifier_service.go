package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventOrderUpdate is the only callback event type.
const EventOrderUpdate = "ORDER_UPDATE"

// defaultNotifyRetryIntervals is the wait before each redelivery.
var defaultNotifyRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OrderUpdatePayload is the JSON structure posted to the callback URL.
type OrderUpdatePayload struct {
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	Data      OrderUpdateData `json:"data"`
	Signature string          `json:"signature"`
}

// OrderUpdateData holds the order summary. Amounts are base-unit decimal strings.
type OrderUpdateData struct {
	OrderID       string `json:"order_id"`
	WalletID      string `json:"wallet_id"`
	UserID        string `json:"user_id"`
	ClientRef     string `json:"client_ref,omitempty"`
	Direction     string `json:"direction"`
	State         string `json:"state"`
	TokenIn       string `json:"token_in"`
	TokenOut      string `json:"token_out"`
	AmountIn      string `json:"amount_in"`
	ExpectedOut   string `json:"expected_amount_out"`
	TxHash        string `json:"tx_hash,omitempty"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// NotifierSettings configure callback delivery.
type NotifierSettings struct {
	CallbackURL    string
	Secret         string
	RetryIntervals []time.Duration
}

// NotifierServiceImpl implements ports.OrderNotifier.
type NotifierServiceImpl struct {
	repo       ports.NotificationRepository
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	cfg        NotifierSettings
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) bool
	log        zerolog.Logger
}

// NewNotifierService creates a new notifier. repo may be nil.
func NewNotifierService(
	repo ports.NotificationRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	cfg NotifierSettings,
	log zerolog.Logger,
) *NotifierServiceImpl {
	if cfg.RetryIntervals == nil {
		cfg.RetryIntervals = defaultNotifyRetryIntervals
	}
	return &NotifierServiceImpl{
		repo:       repo,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
		log:        logger.Component(log, "notifier"),
	}
}

// NotifyOrder signs the order update and delivers it asynchronously with retries.
func (s *NotifierServiceImpl) NotifyOrder(ctx context.Context, order *domain.Order) error {
	if s.cfg.CallbackURL == "" {
		return nil
	}

	data := orderUpdateData(order)
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("notifier: marshal data: %w", err)
	}
	ts := s.now().Unix()
	payload := OrderUpdatePayload{
		EventType: EventOrderUpdate,
		Timestamp: ts,
		Data:      data,
		Signature: s.sigSvc.Sign(s.cfg.Secret, s.sigSvc.BuildCanonicalString(EventOrderUpdate, ts, string(dataBytes))),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notifier: marshal payload: %w", err)
	}

	now := s.now().UTC()
	delivery := &domain.NotificationDelivery{
		ID:          uuid.New(),
		OrderID:     order.ID,
		CallbackURL: s.cfg.CallbackURL,
		Payload:     string(body),
		Status:      domain.NotificationStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.repo != nil {
		if err := s.repo.Create(ctx, delivery); err != nil {
			s.log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("failed to persist delivery record")
		}
	}

	go s.deliverWithRetries(context.WithoutCancel(ctx), delivery, body)
	return nil
}

// deliverWithRetries posts body until a 2xx or the retry list is exhausted.
func (s *NotifierServiceImpl) deliverWithRetries(ctx context.Context, delivery *domain.NotificationDelivery, body []byte) {
	orderID := delivery.OrderID.String()
	for attempt := 0; attempt <= len(s.cfg.RetryIntervals); attempt++ {
		if attempt > 0 && !s.sleep(ctx, s.cfg.RetryIntervals[attempt-1]) {
			return
		}
		delivery.Attempt = attempt + 1

		status, err := s.post(ctx, body)
		if err == nil && status >= 200 && status < 300 {
			delivery.Status = domain.NotificationStatusDelivered
			delivery.HTTPStatus = &status
			delivery.LastError, delivery.NextRetryAt = nil, nil
			s.save(ctx, delivery)
			s.log.Info().Str("order_id", orderID).Int("attempt", attempt+1).Int("status", status).Msg("order update delivered")
			return
		}

		var msg string
		if err != nil {
			msg = err.Error()
		} else {
			msg = fmt.Sprintf("non-2xx response: %d", status)
			delivery.HTTPStatus = &status
		}
		delivery.LastError = &msg
		if attempt < len(s.cfg.RetryIntervals) {
			next := s.now().Add(s.cfg.RetryIntervals[attempt]).UTC()
			delivery.NextRetryAt = &next
		} else {
			delivery.Status = domain.NotificationStatusFailed
			delivery.NextRetryAt = nil
		}
		s.save(ctx, delivery)
		s.log.Warn().Str("order_id", orderID).Int("attempt", attempt+1).Str("error", msg).Msg("order update delivery failed")
	}

	s.log.Error().Str("order_id", orderID).Msg("all retry attempts exhausted")
}

func (s *NotifierServiceImpl) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *NotifierServiceImpl) save(ctx context.Context, delivery *domain.NotificationDelivery) {
	if s.repo == nil {
		return
	}
	delivery.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, delivery); err != nil {
		s.log.Warn().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to update delivery record")
	}
}

func orderUpdateData(o *domain.Order) OrderUpdateData {
	d := OrderUpdateData{
		OrderID:     o.ID.String(),
		WalletID:    o.WalletID.String(),
		UserID:      o.UserID,
		ClientRef:   o.ClientRef,
		Direction:   string(o.Direction),
		State:       string(o.State),
		TokenIn:     o.TokenIn,
		TokenOut:    o.TokenOut,
		AmountIn:    bigString(o.AmountIn),
		ExpectedOut: bigString(o.ExpectedAmountOut),
	}
	if o.TxHash != nil {
		d.TxHash = *o.TxHash
	}
	if o.BlockNumber != nil {
		d.BlockNumber = *o.BlockNumber
	}
	if o.FailureReason != nil {
		d.FailureReason = *o.FailureReason
	}
	return d
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
