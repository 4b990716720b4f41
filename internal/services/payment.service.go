package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gateway "github.com/Mikee100/SaaS-backend-sub002/internal/gateways"
	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
)

var (
	ErrInvalidMobile         = errors.New("invalid mobile number")
	ErrPaymentNotFound       = errors.New("payment transaction not found")
	ErrPaymentNotCancellable = errors.New("payment transaction is not pending")
	ErrGatewayRejected       = errors.New("payment gateway rejected the request")
	ErrPaymentGatewayOffline = errors.New("payment gateway is unreachable")
)

type PaymentGateway interface {
	STKPush(ctx context.Context, req *gateway.STKPushRequest) (*gateway.STKPushResponse, error)
}

type PaymentTransactionRepository interface {
	Create(ctx context.Context, tx *model.PaymentTransaction) (*model.PaymentTransaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error)
	Transition(ctx context.Context, checkoutRequestID string, to model.PaymentTransactionStatus, receiptID *string, failureReason string) error
}

type PaymentService struct {
	paymentRepo PaymentTransactionRepository
	gw          PaymentGateway
	timeout     time.Duration
}

func NewPaymentService(paymentRepo PaymentTransactionRepository, gw PaymentGateway, timeout time.Duration) *PaymentService {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &PaymentService{
		paymentRepo: paymentRepo,
		gw:          gw,
		timeout:     timeout,
	}
}

// Initiate validates the request, sends the STK push, and persists the
// pending transaction with the deferred sale payload. No sale exists and no
// stock moves until the gateway confirms payment.
func (s *PaymentService) Initiate(ctx context.Context, p model.PaymentInitiateRequest) (*model.PaymentTransaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	msisdn, ok := NormalizeMSISDN(p.PhoneNumber)
	if !ok {
		return nil, ErrInvalidMobile
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sale payload: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.gw.STKPush(pushCtx, &gateway.STKPushRequest{
		PhoneNumber:      msisdn,
		Amount:           model.Round2(p.Amount),
		AccountReference: fmt.Sprintf("POS-%d", p.TenantID),
		Description:      "POS sale",
	})
	if err != nil {
		var gwErr *gateway.GatewayError
		if errors.As(err, &gwErr) {
			logger.Warn("STK push rejected", "code", gwErr.Code, "description", gwErr.Description, "phone", msisdn)
			return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, gwErr.Description)
		}
		logger.Error("STK push failed", "phone", msisdn, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentGatewayOffline, err)
	}

	tx := &model.PaymentTransaction{
		TenantID:          p.TenantID,
		ActorID:           &p.ActorID,
		PhoneNumber:       msisdn,
		Amount:            model.Round2(p.Amount),
		Status:            model.PaymentStatusPending,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		SalePayload:       payload,
	}

	created, err := s.paymentRepo.Create(ctx, tx)
	if err != nil {
		// The prompt is already on the customer's phone. The transaction row
		// is the only way the callback can be matched, so this is fatal.
		logger.Error("Failed to persist pending transaction after STK push",
			"checkout_request_id", resp.CheckoutRequestID, "error", err)
		return nil, fmt.Errorf("persist pending transaction: %w", err)
	}

	logger.Info("Payment initiated",
		"checkout_request_id", created.CheckoutRequestID,
		"tenant_id", created.TenantID,
		"amount", created.Amount)

	return created, nil
}

// Status returns the transaction for polling clients.
func (s *PaymentService) Status(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	tx, err := s.paymentRepo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentTransactionNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return tx, nil
}

// Cancel marks a still-pending transaction cancelled on the operator's
// behalf. A transaction that already resolved is left exactly as it is.
func (s *PaymentService) Cancel(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	err := s.paymentRepo.Transition(ctx, checkoutRequestID, model.PaymentStatusCancelled, nil, "cancelled by operator")
	if err != nil {
		if errors.Is(err, repository.ErrTransitionConflict) {
			if _, getErr := s.paymentRepo.GetByCheckoutRequestID(ctx, checkoutRequestID); errors.Is(getErr, repository.ErrPaymentTransactionNotFound) {
				return nil, ErrPaymentNotFound
			}
			return nil, ErrPaymentNotCancellable
		}
		return nil, err
	}

	logger.Info("Payment cancelled by operator", "checkout_request_id", checkoutRequestID)

	return s.paymentRepo.GetByCheckoutRequestID(ctx, checkoutRequestID)
}
