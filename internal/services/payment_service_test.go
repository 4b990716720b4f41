package services

import (
	"context"
	"encoding/json"
	"testing"

	gateway "github.com/Mikee100/SaaS-backend-sub002/internal/gateways"
	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) STKPush(ctx context.Context, req *gateway.STKPushRequest) (*gateway.STKPushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.STKPushResponse), args.Error(1)
}

type MockPaymentTransactionRepository struct {
	mock.Mock
}

func (m *MockPaymentTransactionRepository) Create(ctx context.Context, tx *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentTransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentTransactionRepository) Transition(ctx context.Context, checkoutRequestID string, to model.PaymentTransactionStatus, receiptID *string, failureReason string) error {
	args := m.Called(ctx, checkoutRequestID, to, receiptID, failureReason)
	return args.Error(0)
}

func validInitiateRequest() model.PaymentInitiateRequest {
	return model.PaymentInitiateRequest{
		TenantID:    1,
		ActorID:     7,
		PhoneNumber: "0712345678",
		Amount:      348,
		Payload: model.DeferredSalePayload{
			TenantID:       1,
			ActorID:        7,
			Items:          []model.DeferredSaleItem{{ProductID: 1, Quantity: 2, UnitPrice: 150}},
			IdempotencyKey: "key-1",
		},
	}
}

func TestPaymentService_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("persists pending transaction with payload", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, gw, 0)

		gw.On("STKPush", mock.Anything, mock.AnythingOfType("*gateway.STKPushRequest")).
			Return(&gateway.STKPushResponse{
				MerchantRequestID: "m-1",
				CheckoutRequestID: "ws_CO_1",
				ResponseCode:      "0",
			}, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*model.PaymentTransaction")).
			Return(&model.PaymentTransaction{ID: 1, CheckoutRequestID: "ws_CO_1", Status: model.PaymentStatusPending}, nil)

		created, err := service.Initiate(ctx, validInitiateRequest())
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_1", created.CheckoutRequestID)
		assert.Equal(t, model.PaymentStatusPending, created.Status)

		// Phone was normalized before the push
		pushReq := gw.Calls[0].Arguments.Get(1).(*gateway.STKPushRequest)
		assert.Equal(t, "254712345678", pushReq.PhoneNumber)

		// The stored row carries the deferred payload
		stored := repo.Calls[0].Arguments.Get(1).(*model.PaymentTransaction)
		var payload model.DeferredSalePayload
		require.NoError(t, json.Unmarshal(stored.SalePayload, &payload))
		assert.Equal(t, "key-1", payload.IdempotencyKey)
		require.Len(t, payload.Items, 1)
		assert.Equal(t, 150.0, payload.Items[0].UnitPrice)

		gw.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("amount below minimum", func(t *testing.T) {
		service := NewPaymentService(new(MockPaymentTransactionRepository), new(MockPaymentGateway), 0)

		req := validInitiateRequest()
		req.Amount = 5

		_, err := service.Initiate(ctx, req)
		assert.ErrorIs(t, err, model.ErrAmountBelowMinimum)
	})

	t.Run("fractional amount is rejected before the push", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, gw, 0)

		req := validInitiateRequest()
		req.Amount = 348.5

		_, err := service.Initiate(ctx, req)
		assert.ErrorIs(t, err, model.ErrAmountNotIntegral)
		gw.AssertNotCalled(t, "STKPush", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("invalid phone number", func(t *testing.T) {
		service := NewPaymentService(new(MockPaymentTransactionRepository), new(MockPaymentGateway), 0)

		req := validInitiateRequest()
		req.PhoneNumber = "12345"

		_, err := service.Initiate(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidMobile)
	})

	t.Run("gateway rejection", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, gw, 0)

		gw.On("STKPush", mock.Anything, mock.Anything).
			Return(nil, &gateway.GatewayError{Code: "500.001.1001", Description: "Unable to lock subscriber"})

		_, err := service.Initiate(ctx, validInitiateRequest())
		assert.ErrorIs(t, err, ErrGatewayRejected)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("gateway unreachable", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, gw, 0)

		gw.On("STKPush", mock.Anything, mock.Anything).
			Return(nil, gateway.ErrGatewayUnavailable)

		_, err := service.Initiate(ctx, validInitiateRequest())
		assert.ErrorIs(t, err, ErrPaymentGatewayOffline)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestPaymentService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels pending transaction", func(t *testing.T) {
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, new(MockPaymentGateway), 0)

		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusCancelled, (*string)(nil), "cancelled by operator").
			Return(nil)
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").
			Return(&model.PaymentTransaction{CheckoutRequestID: "ws_CO_1", Status: model.PaymentStatusCancelled}, nil)

		tx, err := service.Cancel(ctx, "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, tx.Status)
	})

	t.Run("already resolved transaction is not cancellable", func(t *testing.T) {
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, new(MockPaymentGateway), 0)

		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusCancelled, (*string)(nil), "cancelled by operator").
			Return(repository.ErrTransitionConflict)
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").
			Return(&model.PaymentTransaction{CheckoutRequestID: "ws_CO_1", Status: model.PaymentStatusSuccess}, nil)

		_, err := service.Cancel(ctx, "ws_CO_1")
		assert.ErrorIs(t, err, ErrPaymentNotCancellable)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		repo := new(MockPaymentTransactionRepository)
		service := NewPaymentService(repo, new(MockPaymentGateway), 0)

		repo.On("Transition", ctx, "ws_CO_none", model.PaymentStatusCancelled, (*string)(nil), "cancelled by operator").
			Return(repository.ErrTransitionConflict)
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_none").
			Return(nil, repository.ErrPaymentTransactionNotFound)

		_, err := service.Cancel(ctx, "ws_CO_none")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestPaymentService_Status(t *testing.T) {
	ctx := context.Background()
	repo := new(MockPaymentTransactionRepository)
	service := NewPaymentService(repo, new(MockPaymentGateway), 0)

	repo.On("GetByCheckoutRequestID", ctx, "ws_CO_none").
		Return(nil, repository.ErrPaymentTransactionNotFound)

	_, err := service.Status(ctx, "ws_CO_none")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
