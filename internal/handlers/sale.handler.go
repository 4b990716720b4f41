package handlers

import (
	"context"
	"errors"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/services"
	xhttp "github.com/Mikee100/SaaS-backend-sub002/pkg/http"
	"github.com/fasthttp/router"
)

type SaleService interface {
	Commit(ctx context.Context, p model.SaleCreateRequest) (*model.Receipt, error)
	GetReceipt(ctx context.Context, tenantID, saleID int64) (*model.Receipt, error)
	ListProducts(ctx context.Context, tenantID int64) ([]*model.Product, error)
}

type SaleHandler struct {
	svc SaleService
}

func RegisterSaleRoutes(e *router.Group, h *SaleHandler) {
	e.POST("/sales", h.CreateSale)
	e.GET("/sales/{id}", h.GetSale)
	e.GET("/products", h.ListProducts)
}

func NewSaleHandler(saleService SaleService) *SaleHandler {
	return &SaleHandler{
		svc: saleService,
	}
}

type saleLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type createSaleRequest struct {
	TenantID       int64             `json:"tenant_id"`
	ActorID        int64             `json:"actor_id"`
	Items          []saleLineRequest `json:"items"`
	PaymentMethod  string            `json:"payment_method"`
	AmountTendered float64           `json:"amount_tendered"`
	CustomerName   string            `json:"customer_name"`
	CustomerPhone  string            `json:"customer_phone"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type productListResponse struct {
	Items []*model.Product `json:"items"`
}

func (h *SaleHandler) CreateSale(ctx *xhttp.RequestCtx) {
	var req createSaleRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	// The key can also arrive as a header, which some POS clients prefer
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = string(ctx.Request.Header.Peek("Idempotency-Key"))
	}

	lines := make([]model.SaleLineRequest, len(req.Items))
	for i, it := range req.Items {
		lines[i] = model.SaleLineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	receipt, err := h.svc.Commit(ctx, model.SaleCreateRequest{
		TenantID:       req.TenantID,
		ActorID:        req.ActorID,
		Items:          lines,
		PaymentMethod:  model.PaymentMethod(req.PaymentMethod),
		AmountTendered: req.AmountTendered,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeSaleError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusCreated, receipt)
}

func (h *SaleHandler) GetSale(ctx *xhttp.RequestCtx) {
	tenantID, err := queryInt64(ctx, "tenant_id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "tenant_id is required")
		return
	}
	saleID, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid sale id")
		return
	}

	receipt, err := h.svc.GetReceipt(ctx, tenantID, saleID)
	if err != nil {
		if errors.Is(err, services.ErrSaleNotFound) {
			writeError(ctx, xhttp.StatusNotFound, "sale not found")
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(ctx, xhttp.StatusOK, receipt)
}

func (h *SaleHandler) ListProducts(ctx *xhttp.RequestCtx) {
	tenantID, err := queryInt64(ctx, "tenant_id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "tenant_id is required")
		return
	}

	products, err := h.svc.ListProducts(ctx, tenantID)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(ctx, xhttp.StatusOK, productListResponse{Items: products})
}

func writeSaleError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, model.ErrMissingIdempotencyKey),
		errors.Is(err, model.ErrEmptyCart),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidPaymentMethod):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInsufficientTender):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrProductNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInsufficientStock):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
	}
}
