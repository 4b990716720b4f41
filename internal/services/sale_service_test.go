package services

import (
	"context"
	"testing"

	"github.com/Mikee100/SaaS-backend-sub002/internal/events"
	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetForUpdate(ctx context.Context, tenantID, productID int64) (*model.Product, error) {
	args := m.Called(ctx, tenantID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Product), args.Error(1)
}

func (m *MockProductRepository) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	args := m.Called(ctx, productID, quantity)
	return args.Error(0)
}

func (m *MockProductRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*model.Product, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Product), args.Error(1)
}

type MockSaleRepository struct {
	mock.Mock
}

func (m *MockSaleRepository) Create(ctx context.Context, sale *model.Sale) (*model.Sale, error) {
	args := m.Called(ctx, sale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindByIdempotencyKey(ctx context.Context, actorID int64, key string) (*model.Sale, error) {
	args := m.Called(ctx, actorID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sale), args.Error(1)
}

func (m *MockSaleRepository) GetByID(ctx context.Context, tenantID, saleID int64) (*model.Sale, error) {
	args := m.Called(ctx, tenantID, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Sale), args.Error(1)
}

func (m *MockSaleRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, env *events.Envelope) (string, error) {
	args := m.Called(ctx, env)
	return args.String(0), args.Error(1)
}

func validCashRequest() model.SaleCreateRequest {
	return model.SaleCreateRequest{
		TenantID:       1,
		ActorID:        7,
		Items:          []model.SaleLineRequest{{ProductID: 1, Quantity: 2}},
		PaymentMethod:  model.PaymentMethodCash,
		AmountTendered: 400,
		IdempotencyKey: "key-1",
	}
}

func TestSaleService_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("commits sale and computes totals", func(t *testing.T) {
		productRepo := new(MockProductRepository)
		saleRepo := new(MockSaleRepository)
		publisher := new(MockEventPublisher)
		service := NewSaleService(productRepo, saleRepo, publisher)

		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").
			Return(nil, repository.ErrSaleNotFound).Once()
		saleRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		productRepo.On("GetForUpdate", ctx, int64(1), int64(1)).
			Return(&model.Product{ID: 1, TenantID: 1, Name: "Sugar 1kg", Price: 150, Stock: 20}, nil)
		productRepo.On("DecrementStock", ctx, int64(1), 2).Return(nil)
		saleRepo.On("Create", ctx, mock.AnythingOfType("*model.Sale")).
			Return(&model.Sale{
				ID:             10,
				TenantID:       1,
				ActorID:        7,
				Subtotal:       300,
				VATAmount:      48,
				Total:          348,
				PaymentMethod:  model.PaymentMethodCash,
				AmountTendered: 400,
				Change:         52,
				IdempotencyKey: "key-1",
				Items:          []*model.SaleItem{{SaleID: 10, ProductID: 1, Quantity: 2, UnitPrice: 150}},
			}, nil)
		publisher.On("Publish", ctx, mock.AnythingOfType("*events.Envelope")).Return("1-0", nil)

		receipt, err := service.Commit(ctx, validCashRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(10), receipt.SaleID)
		assert.Equal(t, 300.0, receipt.Subtotal)
		assert.Equal(t, 48.0, receipt.VATAmount)
		assert.Equal(t, 348.0, receipt.Total)
		assert.Equal(t, 52.0, receipt.Change)
		require.Len(t, receipt.Items, 1)
		assert.Equal(t, "Sugar 1kg", receipt.Items[0].Name)
		assert.Equal(t, 300.0, receipt.Items[0].LineTotal)

		// Totals were computed before Create was called
		created := saleRepo.Calls[2].Arguments.Get(1).(*model.Sale)
		assert.Equal(t, 300.0, created.Subtotal)
		assert.Equal(t, 48.0, created.VATAmount)
		assert.Equal(t, 348.0, created.Total)
		assert.Equal(t, 52.0, created.Change)

		saleRepo.AssertExpectations(t)
		productRepo.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("replay returns existing receipt without touching stock", func(t *testing.T) {
		productRepo := new(MockProductRepository)
		saleRepo := new(MockSaleRepository)
		service := NewSaleService(productRepo, saleRepo, nil)

		existing := &model.Sale{
			ID:             10,
			TenantID:       1,
			ActorID:        7,
			Total:          348,
			PaymentMethod:  model.PaymentMethodCash,
			IdempotencyKey: "key-1",
			Items:          []*model.SaleItem{{ProductID: 1, Quantity: 2, UnitPrice: 150}},
		}
		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").Return(existing, nil)
		productRepo.On("ListByTenant", ctx, int64(1)).
			Return([]*model.Product{{ID: 1, Name: "Sugar 1kg"}}, nil)

		receipt, err := service.Commit(ctx, validCashRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(10), receipt.SaleID)

		productRepo.AssertNotCalled(t, "DecrementStock", mock.Anything, mock.Anything, mock.Anything)
		saleRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("insufficient stock aborts the transaction", func(t *testing.T) {
		productRepo := new(MockProductRepository)
		saleRepo := new(MockSaleRepository)
		service := NewSaleService(productRepo, saleRepo, nil)

		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").
			Return(nil, repository.ErrSaleNotFound)
		saleRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		productRepo.On("GetForUpdate", ctx, int64(1), int64(1)).
			Return(&model.Product{ID: 1, TenantID: 1, Name: "Sugar 1kg", Price: 150, Stock: 1}, nil)

		_, err := service.Commit(ctx, validCashRequest())
		assert.ErrorIs(t, err, ErrInsufficientStock)

		productRepo.AssertNotCalled(t, "DecrementStock", mock.Anything, mock.Anything, mock.Anything)
		saleRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("insufficient tender for cash", func(t *testing.T) {
		productRepo := new(MockProductRepository)
		saleRepo := new(MockSaleRepository)
		service := NewSaleService(productRepo, saleRepo, nil)

		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").
			Return(nil, repository.ErrSaleNotFound)
		saleRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		productRepo.On("GetForUpdate", ctx, int64(1), int64(1)).
			Return(&model.Product{ID: 1, TenantID: 1, Name: "Sugar 1kg", Price: 150, Stock: 20}, nil)
		productRepo.On("DecrementStock", ctx, int64(1), 2).Return(nil)

		req := validCashRequest()
		req.AmountTendered = 100

		_, err := service.Commit(ctx, req)
		assert.ErrorIs(t, err, ErrInsufficientTender)
		saleRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("lost insert race falls back to winner's receipt", func(t *testing.T) {
		productRepo := new(MockProductRepository)
		saleRepo := new(MockSaleRepository)
		service := NewSaleService(productRepo, saleRepo, nil)

		winner := &model.Sale{
			ID:             11,
			TenantID:       1,
			ActorID:        7,
			Total:          348,
			IdempotencyKey: "key-1",
		}
		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").
			Return(nil, repository.ErrSaleNotFound).Once()
		saleRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(repository.ErrDuplicateSale)
		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").
			Return(winner, nil).Once()
		productRepo.On("ListByTenant", ctx, int64(1)).Return([]*model.Product{}, nil)

		receipt, err := service.Commit(ctx, validCashRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(11), receipt.SaleID)
	})

	t.Run("unit price snapshot overrides catalog", func(t *testing.T) {
		productRepo := new(MockProductRepository)
		saleRepo := new(MockSaleRepository)
		service := NewSaleService(productRepo, saleRepo, nil)

		saleRepo.On("FindByIdempotencyKey", ctx, int64(7), "key-1").
			Return(nil, repository.ErrSaleNotFound)
		saleRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		// Catalog was repriced to 200 after the snapshot was taken
		productRepo.On("GetForUpdate", ctx, int64(1), int64(1)).
			Return(&model.Product{ID: 1, TenantID: 1, Name: "Sugar 1kg", Price: 200, Stock: 20}, nil)
		productRepo.On("DecrementStock", ctx, int64(1), 2).Return(nil)
		saleRepo.On("Create", ctx, mock.AnythingOfType("*model.Sale")).
			Return(&model.Sale{ID: 12}, nil)

		req := validCashRequest()
		req.PaymentMethod = model.PaymentMethodMobileMoney
		req.UnitPrices = map[int64]float64{1: 150}

		_, err := service.Commit(ctx, req)
		require.NoError(t, err)

		created := saleRepo.Calls[2].Arguments.Get(1).(*model.Sale)
		assert.Equal(t, 150.0, created.Items[0].UnitPrice)
		assert.Equal(t, 300.0, created.Subtotal)
	})

	t.Run("validation failures", func(t *testing.T) {
		service := NewSaleService(new(MockProductRepository), new(MockSaleRepository), nil)

		req := validCashRequest()
		req.IdempotencyKey = ""
		_, err := service.Commit(ctx, req)
		assert.ErrorIs(t, err, model.ErrMissingIdempotencyKey)

		req = validCashRequest()
		req.Items = nil
		_, err = service.Commit(ctx, req)
		assert.ErrorIs(t, err, model.ErrEmptyCart)

		req = validCashRequest()
		req.Items[0].Quantity = 0
		_, err = service.Commit(ctx, req)
		assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	})
}

func TestSaleService_GetReceipt(t *testing.T) {
	ctx := context.Background()

	productRepo := new(MockProductRepository)
	saleRepo := new(MockSaleRepository)
	service := NewSaleService(productRepo, saleRepo, nil)

	t.Run("not found", func(t *testing.T) {
		saleRepo.On("GetByID", ctx, int64(1), int64(99)).
			Return(nil, repository.ErrSaleNotFound)

		_, err := service.GetReceipt(ctx, 1, 99)
		assert.ErrorIs(t, err, ErrSaleNotFound)
	})
}
