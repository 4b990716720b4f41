package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReconcileRepository struct {
	mock.Mock
}

func (m *MockReconcileRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockReconcileRepository) Transition(ctx context.Context, checkoutRequestID string, to model.PaymentTransactionStatus, receiptID *string, failureReason string) error {
	args := m.Called(ctx, checkoutRequestID, to, receiptID, failureReason)
	return args.Error(0)
}

func (m *MockReconcileRepository) CorrectToStockUnavailable(ctx context.Context, checkoutRequestID, reason string) error {
	args := m.Called(ctx, checkoutRequestID, reason)
	return args.Error(0)
}

func (m *MockReconcileRepository) LinkSale(ctx context.Context, checkoutRequestID string, saleID int64) error {
	args := m.Called(ctx, checkoutRequestID, saleID)
	return args.Error(0)
}

type MockSaleCommitter struct {
	mock.Mock
}

func (m *MockSaleCommitter) Commit(ctx context.Context, p model.SaleCreateRequest) (*model.Receipt, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Receipt), args.Error(1)
}

func pendingTx(checkoutRequestID string) *model.PaymentTransaction {
	payload, _ := json.Marshal(model.DeferredSalePayload{
		TenantID:       1,
		ActorID:        7,
		Items:          []model.DeferredSaleItem{{ProductID: 1, Quantity: 2, UnitPrice: 150}},
		IdempotencyKey: "key-1",
	})
	return &model.PaymentTransaction{
		ID:                5,
		TenantID:          1,
		PhoneNumber:       "254712345678",
		Amount:            348,
		Status:            model.PaymentStatusPending,
		CheckoutRequestID: checkoutRequestID,
		SalePayload:       payload,
	}
}

func successCallback(checkoutRequestID string) model.CallbackResult {
	return model.CallbackResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		ReceiptID:         "SBH61Q2XKD",
		Amount:            348,
		PhoneNumber:       "254712345678",
	}
}

func TestReconcileService_HandleCallback_Success(t *testing.T) {
	ctx := context.Background()

	t.Run("success commits the deferred sale", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		receipt := "SBH61Q2XKD"
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil)
		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusSuccess, &receipt, "").Return(nil)
		sales.On("Commit", ctx, mock.AnythingOfType("model.SaleCreateRequest")).
			Return(&model.Receipt{SaleID: 42, Total: 348}, nil)
		repo.On("LinkSale", ctx, "ws_CO_1", int64(42)).Return(nil)

		err := service.HandleCallback(ctx, successCallback("ws_CO_1"))
		require.NoError(t, err)

		// Deferred commit used the snapshot, not the catalog
		commitReq := sales.Calls[0].Arguments.Get(1).(model.SaleCreateRequest)
		assert.Equal(t, model.PaymentMethodMobileMoney, commitReq.PaymentMethod)
		assert.Equal(t, "key-1", commitReq.IdempotencyKey)
		assert.Equal(t, 150.0, commitReq.UnitPrices[1])
		require.NotNil(t, commitReq.PaymentTransactionID)
		assert.Equal(t, int64(5), *commitReq.PaymentTransactionID)

		repo.AssertExpectations(t)
		sales.AssertExpectations(t)
	})

	t.Run("stock ran out while payment was in flight", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		receipt := "SBH61Q2XKD"
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil)
		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusSuccess, &receipt, "").Return(nil)
		sales.On("Commit", ctx, mock.AnythingOfType("model.SaleCreateRequest")).
			Return(nil, ErrInsufficientStock)
		repo.On("CorrectToStockUnavailable", ctx, "ws_CO_1", mock.AnythingOfType("string")).Return(nil)

		err := service.HandleCallback(ctx, successCallback("ws_CO_1"))
		require.NoError(t, err)

		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "LinkSale", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("product delisted while payment was in flight", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		receipt := "SBH61Q2XKD"
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil)
		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusSuccess, &receipt, "").Return(nil)
		sales.On("Commit", ctx, mock.AnythingOfType("model.SaleCreateRequest")).
			Return(nil, ErrProductNotFound)
		repo.On("CorrectToStockUnavailable", ctx, "ws_CO_1", mock.AnythingOfType("string")).Return(nil)

		err := service.HandleCallback(ctx, successCallback("ws_CO_1"))
		require.NoError(t, err)

		repo.AssertExpectations(t)
	})

	t.Run("transition race acks without committing", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		receipt := "SBH61Q2XKD"
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil)
		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusSuccess, &receipt, "").
			Return(repository.ErrTransitionConflict)

		err := service.HandleCallback(ctx, successCallback("ws_CO_1"))
		require.NoError(t, err)
		sales.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})
}

func TestReconcileService_HandleCallback_Failure(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name       string
		resultCode int
		want       model.PaymentTransactionStatus
	}{
		{"generic failure", 1, model.PaymentStatusFailed},
		{"cancelled by user", 1032, model.PaymentStatusCancelled},
		{"prompt timed out", 1037, model.PaymentStatusTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockReconcileRepository)
			sales := new(MockSaleCommitter)
			service := NewReconcileService(repo, sales, nil, nil)

			repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil)
			repo.On("Transition", ctx, "ws_CO_1", tc.want, (*string)(nil), mock.AnythingOfType("string")).
				Return(nil)

			err := service.HandleCallback(ctx, model.CallbackResult{
				CheckoutRequestID: "ws_CO_1",
				ResultCode:        tc.resultCode,
				ResultDesc:        tc.name,
			})
			require.NoError(t, err)

			sales.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
			repo.AssertExpectations(t)
		})
	}
}

func TestReconcileService_HandleCallback_Duplicates(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown correlation id is acked", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		service := NewReconcileService(repo, new(MockSaleCommitter), nil, nil)

		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_ghost").
			Return(nil, repository.ErrPaymentTransactionNotFound)

		err := service.HandleCallback(ctx, successCallback("ws_CO_ghost"))
		assert.NoError(t, err)
	})

	t.Run("terminal transaction is left untouched", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		saleID := int64(42)
		resolved := pendingTx("ws_CO_1")
		resolved.Status = model.PaymentStatusSuccess
		resolved.SaleID = &saleID
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(resolved, nil)

		err := service.HandleCallback(ctx, successCallback("ws_CO_1"))
		assert.NoError(t, err)

		repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		sales.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})

	t.Run("missing correlation id is acked", func(t *testing.T) {
		service := NewReconcileService(new(MockReconcileRepository), new(MockSaleCommitter), nil, nil)
		err := service.HandleCallback(ctx, model.CallbackResult{})
		assert.NoError(t, err)
	})
}

func TestReconcileService_HandleCallback_AfterTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("redelivery after failed commit completes the sale", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		receipt := "SBH61Q2XKD"
		stranded := pendingTx("ws_CO_1")
		stranded.Status = model.PaymentStatusSuccess
		stranded.GatewayReceiptID = &receipt

		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil).Once()
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(stranded, nil).Once()
		repo.On("Transition", ctx, "ws_CO_1", model.PaymentStatusSuccess, &receipt, "").Return(nil).Once()
		sales.On("Commit", ctx, mock.AnythingOfType("model.SaleCreateRequest")).
			Return(nil, errors.New("connection reset by peer")).Once()
		sales.On("Commit", ctx, mock.AnythingOfType("model.SaleCreateRequest")).
			Return(&model.Receipt{SaleID: 42, Total: 348}, nil).Once()
		repo.On("LinkSale", ctx, "ws_CO_1", int64(42)).Return(nil).Once()

		// First delivery: transition lands but the commit dies, so the
		// gateway gets a non-2xx and redelivers.
		err := service.HandleCallback(ctx, successCallback("ws_CO_1"))
		require.Error(t, err)

		// Redelivery finds success with no linked sale and resumes the commit.
		err = service.HandleCallback(ctx, successCallback("ws_CO_1"))
		require.NoError(t, err)

		repo.AssertExpectations(t)
		sales.AssertExpectations(t)
		repo.AssertNumberOfCalls(t, "Transition", 1)
		sales.AssertNumberOfCalls(t, "Commit", 2)
	})

	t.Run("failure callback after recorded success is not applied", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		saleID := int64(42)
		resolved := pendingTx("ws_CO_1")
		resolved.Status = model.PaymentStatusSuccess
		resolved.SaleID = &saleID
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(resolved, nil)

		err := service.HandleCallback(ctx, model.CallbackResult{
			CheckoutRequestID: "ws_CO_1",
			ResultCode:        1,
			ResultDesc:        "The balance is insufficient for the transaction",
		})
		require.NoError(t, err)

		// The recorded outcome stands; the disagreement is reported, never applied.
		repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		sales.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})

	t.Run("timeout callback after user cancel is not applied", func(t *testing.T) {
		repo := new(MockReconcileRepository)
		sales := new(MockSaleCommitter)
		service := NewReconcileService(repo, sales, nil, nil)

		cancelled := pendingTx("ws_CO_1")
		cancelled.Status = model.PaymentStatusCancelled
		repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(cancelled, nil)

		err := service.HandleCallback(ctx, model.CallbackResult{
			CheckoutRequestID: "ws_CO_1",
			ResultCode:        1037,
			ResultDesc:        "DS timeout",
		})
		require.NoError(t, err)

		repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		sales.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})
}

func TestReconcileService_ConcurrentDeliveryLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	ctx := context.Background()
	repo := new(MockReconcileRepository)
	sales := new(MockSaleCommitter)
	service := NewReconcileService(repo, sales, adapter, nil)

	repo.On("GetByCheckoutRequestID", ctx, "ws_CO_1").Return(pendingTx("ws_CO_1"), nil)

	// Another delivery holds the lock
	acquired, err := adapter.SetNX("callback:lock:ws_CO_1", []byte("held"), 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	err = service.HandleCallback(ctx, successCallback("ws_CO_1"))
	assert.NoError(t, err)

	repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sales.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
}
