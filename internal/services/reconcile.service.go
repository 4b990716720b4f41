package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/events"
	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/prom"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/redis"
)

// Gateway result codes that map to specific terminal states.
const (
	resultCodeCancelledByUser = 1032
	resultCodeTimeout         = 1037
)

const callbackLockTTL = 30 * time.Second

type ReconcileTransactionRepository interface {
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error)
	Transition(ctx context.Context, checkoutRequestID string, to model.PaymentTransactionStatus, receiptID *string, failureReason string) error
	CorrectToStockUnavailable(ctx context.Context, checkoutRequestID, reason string) error
	LinkSale(ctx context.Context, checkoutRequestID string, saleID int64) error
}

type SaleCommitter interface {
	Commit(ctx context.Context, p model.SaleCreateRequest) (*model.Receipt, error)
}

// ReconcileService applies gateway callbacks to pending transactions.
// Deterministic outcomes are acknowledged even when nothing changes; only a
// transient failure of the deferred commit returns an error, so the gateway
// redelivers and the redelivery resumes the commit.
type ReconcileService struct {
	paymentRepo ReconcileTransactionRepository
	sales       SaleCommitter
	locks       redis.RedisAdapter
	publisher   EventPublisher
}

func NewReconcileService(paymentRepo ReconcileTransactionRepository, sales SaleCommitter, locks redis.RedisAdapter, publisher EventPublisher) *ReconcileService {
	return &ReconcileService{
		paymentRepo: paymentRepo,
		sales:       sales,
		locks:       locks,
		publisher:   publisher,
	}
}

// HandleCallback resolves one webhook delivery. Duplicates and late arrivals
// after cancellation or timeout are acknowledged without changing state; the
// first delivery for a pending transaction wins. A success row whose deferred
// sale never committed is the one terminal state a redelivery may still act
// on.
func (s *ReconcileService) HandleCallback(ctx context.Context, result model.CallbackResult) error {
	if result.CheckoutRequestID == "" {
		prom.IncCallbackOutcome("malformed")
		return nil
	}

	tx, err := s.paymentRepo.GetByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentTransactionNotFound) {
			logger.Warn("Callback for unknown transaction", "checkout_request_id", result.CheckoutRequestID)
			prom.IncCallbackOutcome("unknown")
			return nil
		}
		return fmt.Errorf("load transaction: %w", err)
	}

	// Serialize concurrent deliveries for the same transaction. The loser of
	// the lock acks immediately; the row transition it would have attempted
	// is already settled by the winner.
	if s.locks != nil {
		lockKey := "callback:lock:" + result.CheckoutRequestID
		acquired, err := s.locks.SetNX(lockKey, []byte(fmt.Sprintf("%d", time.Now().UnixNano())), callbackLockTTL)
		if err != nil {
			logger.Warn("Failed to acquire callback lock, relying on row guard", "checkout_request_id", result.CheckoutRequestID, "error", err)
		} else if !acquired {
			logger.Info("Concurrent callback delivery, skipping", "checkout_request_id", result.CheckoutRequestID)
			prom.IncCallbackOutcome("concurrent_duplicate")
			return nil
		} else {
			defer func() {
				if err := s.locks.Del(lockKey); err != nil {
					logger.Warn("Failed to release callback lock", "checkout_request_id", result.CheckoutRequestID, "error", err)
				}
			}()
		}
	}

	if tx.Status.Terminal() {
		return s.resolveTerminal(ctx, tx, result)
	}

	if result.Succeeded() {
		return s.resolveSuccess(ctx, tx, result)
	}
	return s.resolveFailure(ctx, tx, result)
}

// resolveTerminal handles a callback that arrives after the transaction
// already left pending. Three cases: a success row whose deferred sale never
// landed resumes the commit; a callback restating the recorded outcome is an
// idempotent duplicate; a callback disagreeing with the recorded outcome is a
// conflicting transition, reported but never applied.
func (s *ReconcileService) resolveTerminal(ctx context.Context, tx *model.PaymentTransaction, result model.CallbackResult) error {
	intended := statusForResult(result)

	if result.Succeeded() && tx.Status == model.PaymentStatusSuccess && tx.SaleID == nil {
		// A prior delivery moved the row to success but the deferred commit
		// failed before the sale was linked. The idempotency key makes a
		// re-run safe, so resume instead of acking.
		logger.Warn("Resuming deferred sale commit for unlinked success",
			"checkout_request_id", tx.CheckoutRequestID)
		return s.finishSuccess(ctx, tx, result)
	}

	if intended == tx.Status ||
		(result.Succeeded() && tx.Status == model.PaymentStatusStockUnavailable) {
		logger.Info("Callback for already resolved transaction",
			"checkout_request_id", tx.CheckoutRequestID,
			"status", string(tx.Status),
			"result_code", result.ResultCode)
		prom.IncCallbackOutcome("duplicate")
		return nil
	}

	logger.Warn("Callback outcome conflicts with recorded terminal state",
		"checkout_request_id", tx.CheckoutRequestID,
		"recorded", string(tx.Status),
		"callback", string(intended),
		"result_code", result.ResultCode)
	prom.IncCallbackOutcome("conflicting_transition")
	return nil
}

// statusForResult maps a gateway result code to the terminal state it asks
// for.
func statusForResult(result model.CallbackResult) model.PaymentTransactionStatus {
	if result.Succeeded() {
		return model.PaymentStatusSuccess
	}
	switch result.ResultCode {
	case resultCodeCancelledByUser:
		return model.PaymentStatusCancelled
	case resultCodeTimeout:
		return model.PaymentStatusTimeout
	}
	return model.PaymentStatusFailed
}

func (s *ReconcileService) resolveSuccess(ctx context.Context, tx *model.PaymentTransaction, result model.CallbackResult) error {
	receipt := result.ReceiptID
	if err := s.paymentRepo.Transition(ctx, tx.CheckoutRequestID, model.PaymentStatusSuccess, &receipt, ""); err != nil {
		if errors.Is(err, repository.ErrTransitionConflict) {
			// Lost the row guard to a cancel or sweep that landed between the
			// read and the update.
			logger.Warn("Success callback lost transition race", "checkout_request_id", tx.CheckoutRequestID)
			prom.IncCallbackOutcome("conflict")
			return nil
		}
		return fmt.Errorf("transition to success: %w", err)
	}

	return s.finishSuccess(ctx, tx, result)
}

// finishSuccess runs the deferred sale commit for a row already in success
// and records the stock_unavailable correction when fulfilment is impossible.
func (s *ReconcileService) finishSuccess(ctx context.Context, tx *model.PaymentTransaction, result model.CallbackResult) error {
	status := model.PaymentStatusSuccess
	var saleID *int64

	commitErr := s.commitDeferredSale(ctx, tx, &saleID)
	if commitErr != nil {
		if errors.Is(commitErr, ErrInsufficientStock) || errors.Is(commitErr, ErrProductNotFound) {
			// The money moved but the goods are gone, either sold out or
			// delisted while the customer typed their PIN. Record the
			// correction so the tenant can refund against an explicit state.
			reason := commitErr.Error()
			if err := s.paymentRepo.CorrectToStockUnavailable(ctx, tx.CheckoutRequestID, reason); err != nil {
				logger.Error("Failed to record stock unavailable correction", "checkout_request_id", tx.CheckoutRequestID, "error", err)
			}
			status = model.PaymentStatusStockUnavailable
			logger.Warn("Paid sale could not be fulfilled",
				"checkout_request_id", tx.CheckoutRequestID,
				"reason", reason)
			prom.IncCallbackOutcome("stock_unavailable")
		} else {
			logger.Error("Deferred sale commit failed", "checkout_request_id", tx.CheckoutRequestID, "error", commitErr)
			prom.IncCallbackOutcome("commit_error")
			return commitErr
		}
	} else {
		prom.IncCallbackOutcome("success")
	}

	s.publishResolved(ctx, tx, status, result.ReceiptID, saleID)
	return nil
}

func (s *ReconcileService) commitDeferredSale(ctx context.Context, tx *model.PaymentTransaction, saleID **int64) error {
	var payload model.DeferredSalePayload
	if err := json.Unmarshal(tx.SalePayload, &payload); err != nil {
		return fmt.Errorf("unmarshal deferred sale payload: %w", err)
	}

	unitPrices := make(map[int64]float64, len(payload.Items))
	lines := make([]model.SaleLineRequest, len(payload.Items))
	for i, it := range payload.Items {
		unitPrices[it.ProductID] = it.UnitPrice
		lines[i] = model.SaleLineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	receipt, err := s.sales.Commit(ctx, model.SaleCreateRequest{
		TenantID:             payload.TenantID,
		ActorID:              payload.ActorID,
		Items:                lines,
		PaymentMethod:        model.PaymentMethodMobileMoney,
		AmountTendered:       tx.Amount,
		CustomerName:         payload.CustomerName,
		CustomerPhone:        payload.CustomerPhone,
		IdempotencyKey:       payload.IdempotencyKey,
		PaymentTransactionID: &tx.ID,
		UnitPrices:           unitPrices,
	})
	if err != nil {
		return err
	}

	if err := s.paymentRepo.LinkSale(ctx, tx.CheckoutRequestID, receipt.SaleID); err != nil {
		if !errors.Is(err, repository.ErrSaleAlreadyLinked) {
			logger.Error("Failed to link sale to transaction", "checkout_request_id", tx.CheckoutRequestID, "sale_id", receipt.SaleID, "error", err)
		}
	}

	*saleID = &receipt.SaleID

	logger.Info("Deferred sale committed",
		"checkout_request_id", tx.CheckoutRequestID,
		"sale_id", receipt.SaleID,
		"total", receipt.Total)

	return nil
}

func (s *ReconcileService) resolveFailure(ctx context.Context, tx *model.PaymentTransaction, result model.CallbackResult) error {
	status := statusForResult(result)

	if err := s.paymentRepo.Transition(ctx, tx.CheckoutRequestID, status, nil, result.ResultDesc); err != nil {
		if errors.Is(err, repository.ErrTransitionConflict) {
			logger.Info("Failure callback lost transition race", "checkout_request_id", tx.CheckoutRequestID)
			prom.IncCallbackOutcome("conflict")
			return nil
		}
		return fmt.Errorf("transition to %s: %w", status, err)
	}

	logger.Info("Payment resolved without sale",
		"checkout_request_id", tx.CheckoutRequestID,
		"status", string(status),
		"result_code", result.ResultCode,
		"result_desc", result.ResultDesc)
	prom.IncCallbackOutcome(string(status))

	s.publishResolved(ctx, tx, status, "", nil)
	return nil
}

func (s *ReconcileService) publishResolved(ctx context.Context, tx *model.PaymentTransaction, status model.PaymentTransactionStatus, receiptID string, saleID *int64) {
	if s.publisher == nil {
		return
	}

	env, err := events.NewEnvelope(events.EventTypePaymentResolved, tx.TenantID, events.PaymentResolvedEvent{
		CheckoutRequestID: tx.CheckoutRequestID,
		TenantID:          tx.TenantID,
		Status:            string(status),
		Amount:            tx.Amount,
		ReceiptID:         receiptID,
		SaleID:            saleID,
		ResolvedAt:        time.Now(),
	})
	if err != nil {
		logger.Error("Failed to build payment event", "checkout_request_id", tx.CheckoutRequestID, "error", err)
		return
	}

	if _, err := s.publisher.Publish(ctx, env); err != nil {
		logger.Error("Failed to publish payment event", "checkout_request_id", tx.CheckoutRequestID, "error", err)
	}
}
