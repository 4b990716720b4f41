package handlers

import (
	"context"
	"errors"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/internal/services"
	xhttp "github.com/Mikee100/SaaS-backend-sub002/pkg/http"
	"github.com/fasthttp/router"
)

type PaymentService interface {
	Initiate(ctx context.Context, p model.PaymentInitiateRequest) (*model.PaymentTransaction, error)
	Status(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error)
	Cancel(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error)
}

type ReconcileService interface {
	HandleCallback(ctx context.Context, result model.CallbackResult) error
}

type PaymentHandler struct {
	svc       PaymentService
	reconcile ReconcileService
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler) {
	e.POST("/payments/initiate", h.InitiatePayment)
	e.POST("/payments/callback", h.PaymentCallback)
	e.GET("/payments/{checkoutRequestID}", h.GetPayment)
	e.POST("/payments/{checkoutRequestID}/cancel", h.CancelPayment)
}

func NewPaymentHandler(paymentService PaymentService, reconcileService ReconcileService) *PaymentHandler {
	return &PaymentHandler{
		svc:       paymentService,
		reconcile: reconcileService,
	}
}

type deferredItemRequest struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type initiatePaymentRequest struct {
	TenantID       int64                 `json:"tenant_id"`
	ActorID        int64                 `json:"actor_id"`
	PhoneNumber    string                `json:"phone_number"`
	Amount         float64               `json:"amount"`
	Items          []deferredItemRequest `json:"items"`
	IdempotencyKey string                `json:"idempotency_key"`
	CustomerName   string                `json:"customer_name"`
	CustomerPhone  string                `json:"customer_phone"`
}

type paymentResponse struct {
	CheckoutRequestID string  `json:"checkout_request_id"`
	MerchantRequestID string  `json:"merchant_request_id,omitempty"`
	Status            string  `json:"status"`
	Amount            float64 `json:"amount"`
	GatewayReceiptID  string  `json:"gateway_receipt_id,omitempty"`
	FailureReason     string  `json:"failure_reason,omitempty"`
	SaleID            *int64  `json:"sale_id,omitempty"`
}

// stkCallbackEnvelope is the webhook body as the gateway sends it.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (h *PaymentHandler) InitiatePayment(ctx *xhttp.RequestCtx) {
	var req initiatePaymentRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = string(ctx.Request.Header.Peek("Idempotency-Key"))
	}

	items := make([]model.DeferredSaleItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = model.DeferredSaleItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	tx, err := h.svc.Initiate(ctx, model.PaymentInitiateRequest{
		TenantID:    req.TenantID,
		ActorID:     req.ActorID,
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		Payload: model.DeferredSalePayload{
			TenantID:       req.TenantID,
			ActorID:        req.ActorID,
			Items:          items,
			IdempotencyKey: req.IdempotencyKey,
			CustomerName:   req.CustomerName,
			CustomerPhone:  req.CustomerPhone,
		},
	})
	if err != nil {
		writePaymentError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusAccepted, toPaymentResponse(tx))
}

// PaymentCallback receives the gateway webhook. The body is acknowledged in
// the gateway's own format; a non-2xx response makes the gateway redeliver,
// so processing failures return 500. Bodies that do not parse get a 400: the
// sender is broken and the payload never reaches the reconciler.
func (h *PaymentHandler) PaymentCallback(ctx *xhttp.RequestCtx) {
	var envelope stkCallbackEnvelope
	if err := readJSON(ctx, &envelope); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid callback body")
		return
	}

	cb := envelope.Body.StkCallback
	result := model.CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				result.ReceiptID = v
			}
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				result.Amount = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				result.PhoneNumber = v
			case float64:
				result.PhoneNumber = formatMSISDN(v)
			}
		}
	}

	if err := h.reconcile.HandleCallback(ctx, result); err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, "callback processing failed")
		return
	}

	writeCallbackAck(ctx)
}

func (h *PaymentHandler) GetPayment(ctx *xhttp.RequestCtx) {
	checkoutRequestID, ok := ctx.UserValue("checkoutRequestID").(string)
	if !ok || checkoutRequestID == "" {
		writeError(ctx, xhttp.StatusBadRequest, "checkout request id is required")
		return
	}

	tx, err := h.svc.Status(ctx, checkoutRequestID)
	if err != nil {
		writePaymentError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, toPaymentResponse(tx))
}

func (h *PaymentHandler) CancelPayment(ctx *xhttp.RequestCtx) {
	checkoutRequestID, ok := ctx.UserValue("checkoutRequestID").(string)
	if !ok || checkoutRequestID == "" {
		writeError(ctx, xhttp.StatusBadRequest, "checkout request id is required")
		return
	}

	tx, err := h.svc.Cancel(ctx, checkoutRequestID)
	if err != nil {
		writePaymentError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, toPaymentResponse(tx))
}

func toPaymentResponse(tx *model.PaymentTransaction) paymentResponse {
	resp := paymentResponse{
		CheckoutRequestID: tx.CheckoutRequestID,
		MerchantRequestID: tx.MerchantRequestID,
		Status:            string(tx.Status),
		Amount:            tx.Amount,
		FailureReason:     tx.FailureReason,
		SaleID:            tx.SaleID,
	}
	if tx.GatewayReceiptID != nil {
		resp.GatewayReceiptID = *tx.GatewayReceiptID
	}
	return resp
}

func writeCallbackAck(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, xhttp.StatusOK, map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

func writePaymentError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, model.ErrAmountBelowMinimum),
		errors.Is(err, model.ErrAmountNotIntegral),
		errors.Is(err, model.ErrInvalidPhoneNumber),
		errors.Is(err, model.ErrMissingIdempotencyKey),
		errors.Is(err, model.ErrEmptyCart),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, services.ErrInvalidMobile):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPaymentNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrPaymentNotCancellable):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	case errors.Is(err, services.ErrGatewayRejected):
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
	case errors.Is(err, services.ErrPaymentGatewayOffline):
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
	}
}
