package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/events"
	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/prom"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientTender = errors.New("amount tendered is less than the total")
	ErrSaleNotFound       = errors.New("sale not found")
)

type ProductRepository interface {
	GetForUpdate(ctx context.Context, tenantID, productID int64) (*model.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	ListByTenant(ctx context.Context, tenantID int64) ([]*model.Product, error)
}

type SaleRepository interface {
	Create(ctx context.Context, sale *model.Sale) (*model.Sale, error)
	FindByIdempotencyKey(ctx context.Context, actorID int64, key string) (*model.Sale, error)
	GetByID(ctx context.Context, tenantID, saleID int64) (*model.Sale, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventPublisher interface {
	Publish(ctx context.Context, env *events.Envelope) (string, error)
}

type SaleService struct {
	productRepo ProductRepository
	saleRepo    SaleRepository
	publisher   EventPublisher
}

func NewSaleService(productRepo ProductRepository, saleRepo SaleRepository, publisher EventPublisher) *SaleService {
	return &SaleService{
		productRepo: productRepo,
		saleRepo:    saleRepo,
		publisher:   publisher,
	}
}

// Commit commits a sale exactly once per (actor, idempotency key). Replays
// get the receipt of the original commit, byte for byte, whether they arrive
// a second or a day later. Stock is decremented in the same transaction that
// inserts the sale, so a failed commit leaves stock untouched.
func (s *SaleService) Commit(ctx context.Context, p model.SaleCreateRequest) (*model.Receipt, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// Fast path: a sale for this key already exists
	if existing, err := s.saleRepo.FindByIdempotencyKey(ctx, p.ActorID, p.IdempotencyKey); err == nil {
		return s.buildReceipt(ctx, existing)
	} else if !errors.Is(err, repository.ErrSaleNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	var (
		committed *model.Sale
		names     = make(map[int64]string)
		deltas    []events.InventoryDelta
	)

	err := s.saleRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		var subtotal float64
		items := make([]*model.SaleItem, 0, len(p.Items))
		deltas = deltas[:0]

		for _, line := range p.Items {
			product, err := s.productRepo.GetForUpdate(ctx, p.TenantID, line.ProductID)
			if err != nil {
				if errors.Is(err, repository.ErrProductNotFound) {
					return fmt.Errorf("%w: product %d", ErrProductNotFound, line.ProductID)
				}
				return fmt.Errorf("lock product %d: %w", line.ProductID, err)
			}

			if product.Stock < line.Quantity {
				return fmt.Errorf("%w: product %d has %d, requested %d",
					ErrInsufficientStock, line.ProductID, product.Stock, line.Quantity)
			}

			unitPrice := product.Price
			if p.UnitPrices != nil {
				if snapshot, ok := p.UnitPrices[line.ProductID]; ok {
					unitPrice = snapshot
				}
			}

			if err := s.productRepo.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) {
					return fmt.Errorf("%w: product %d", ErrInsufficientStock, line.ProductID)
				}
				return fmt.Errorf("decrement stock for product %d: %w", line.ProductID, err)
			}

			subtotal += unitPrice * float64(line.Quantity)
			names[product.ID] = product.Name
			items = append(items, &model.SaleItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: unitPrice,
			})
			deltas = append(deltas, events.InventoryDelta{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Remaining: product.Stock - line.Quantity,
			})
		}

		subtotal = model.Round2(subtotal)
		vat := model.Round2(subtotal * model.VATRate)
		total := model.Round2(subtotal + vat)

		tendered := p.AmountTendered
		change := 0.0
		switch p.PaymentMethod {
		case model.PaymentMethodCash:
			if tendered < total {
				return fmt.Errorf("%w: tendered %.2f, total %.2f", ErrInsufficientTender, tendered, total)
			}
			change = model.Round2(tendered - total)
		default:
			// Non-cash payments tender the exact total
			tendered = total
		}

		sale := &model.Sale{
			TenantID:             p.TenantID,
			ActorID:              p.ActorID,
			Subtotal:             subtotal,
			VATAmount:            vat,
			Total:                total,
			PaymentMethod:        p.PaymentMethod,
			AmountTendered:       tendered,
			Change:               change,
			CustomerName:         p.CustomerName,
			CustomerPhone:        p.CustomerPhone,
			IdempotencyKey:       p.IdempotencyKey,
			PaymentTransactionID: p.PaymentTransactionID,
			Items:                items,
		}

		created, err := s.saleRepo.Create(ctx, sale)
		if err != nil {
			return err
		}

		committed = created
		return nil
	})

	if err != nil {
		// Lost the insert race: another request with the same key committed
		// first. Its receipt is the answer.
		if errors.Is(err, repository.ErrDuplicateSale) {
			winner, findErr := s.saleRepo.FindByIdempotencyKey(ctx, p.ActorID, p.IdempotencyKey)
			if findErr != nil {
				return nil, fmt.Errorf("read winning sale: %w", findErr)
			}
			return s.buildReceipt(ctx, winner)
		}
		return nil, err
	}

	prom.IncSaleCommitted(string(committed.PaymentMethod))
	s.publishCommitted(ctx, committed, deltas)

	return receiptFromSale(committed, names), nil
}

func (s *SaleService) GetReceipt(ctx context.Context, tenantID, saleID int64) (*model.Receipt, error) {
	sale, err := s.saleRepo.GetByID(ctx, tenantID, saleID)
	if err != nil {
		if errors.Is(err, repository.ErrSaleNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	return s.buildReceipt(ctx, sale)
}

func (s *SaleService) ListProducts(ctx context.Context, tenantID int64) ([]*model.Product, error) {
	return s.productRepo.ListByTenant(ctx, tenantID)
}

// publishCommitted fans the sale out to the event stream. Publishing happens
// after the transaction commits and never fails the sale: a missed event is a
// logged incident, not a rolled-back receipt.
func (s *SaleService) publishCommitted(ctx context.Context, sale *model.Sale, deltas []events.InventoryDelta) {
	if s.publisher == nil {
		return
	}

	env, err := events.NewEnvelope(events.EventTypeSaleCommitted, sale.TenantID, events.SaleCommittedEvent{
		SaleID:        sale.ID,
		TenantID:      sale.TenantID,
		ActorID:       sale.ActorID,
		Total:         sale.Total,
		PaymentMethod: string(sale.PaymentMethod),
		Deltas:        deltas,
		CommittedAt:   time.Now(),
	})
	if err != nil {
		logger.Error("Failed to build sale event", "sale_id", sale.ID, "error", err)
		return
	}

	if _, err := s.publisher.Publish(ctx, env); err != nil {
		logger.Error("Failed to publish sale event", "sale_id", sale.ID, "error", err)
	}
}

// buildReceipt resolves product names for a sale read back from the ledger.
func (s *SaleService) buildReceipt(ctx context.Context, sale *model.Sale) (*model.Receipt, error) {
	names := make(map[int64]string)
	products, err := s.productRepo.ListByTenant(ctx, sale.TenantID)
	if err == nil {
		for _, p := range products {
			names[p.ID] = p.Name
		}
	}
	return receiptFromSale(sale, names), nil
}

func receiptFromSale(sale *model.Sale, names map[int64]string) *model.Receipt {
	receipt := &model.Receipt{
		SaleID:         sale.ID,
		Date:           sale.CreatedAt,
		Subtotal:       sale.Subtotal,
		VATAmount:      sale.VATAmount,
		Total:          sale.Total,
		PaymentMethod:  sale.PaymentMethod,
		AmountReceived: sale.AmountTendered,
		Change:         sale.Change,
		CustomerName:   sale.CustomerName,
		CustomerPhone:  sale.CustomerPhone,
	}
	for _, it := range sale.Items {
		receipt.Items = append(receipt.Items, model.ReceiptItem{
			ProductID: it.ProductID,
			Name:      names[it.ProductID],
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: model.Round2(it.UnitPrice * float64(it.Quantity)),
		})
	}
	return receipt
}
