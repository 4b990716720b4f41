package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	resultCodeSuccess         = 0
	resultCodeInsufficient    = 1
	resultCodeCancelledByUser = 1032
	resultCodeTimeout         = 1037
)

// STKPushRequest mirrors the request shape the engine sends to the real
// gateway.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode" binding:"required"`
	Password          string `json:"Password" binding:"required"`
	Timestamp         string `json:"Timestamp" binding:"required"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount" binding:"required"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber" binding:"required"`
	CallBackURL       string `json:"CallBackURL" binding:"required"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type callbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// MockGateway simulates the mobile-money STK push flow: it accepts pushes,
// waits for the "customer" to respond, then delivers the result to the
// caller's webhook.
type MockGateway struct {
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	gatewayID   string
	rng         *rand.Rand
	client      *http.Client
}

func NewMockGateway(successRate float64, minDelay, maxDelay time.Duration) *MockGateway {
	return &MockGateway{
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		gatewayID:   "MOCK_GATEWAY_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// simulateCustomer waits out the PIN prompt and posts the callback.
func (m *MockGateway) simulateCustomer(req *STKPushRequest, merchantRequestID, checkoutRequestID string) {
	delay := m.randomDelay()
	time.Sleep(delay)

	env := callbackEnvelope{}
	env.Body.StkCallback.MerchantRequestID = merchantRequestID
	env.Body.StkCallback.CheckoutRequestID = checkoutRequestID

	if m.shouldSucceed() {
		env.Body.StkCallback.ResultCode = resultCodeSuccess
		env.Body.StkCallback.ResultDesc = "The service request is processed successfully."
		env.Body.StkCallback.CallbackMetadata = &struct {
			Item []callbackItem `json:"Item"`
		}{
			Item: []callbackItem{
				{Name: "Amount", Value: parseAmount(req.Amount)},
				{Name: "MpesaReceiptNumber", Value: m.randomReceipt()},
				{Name: "TransactionDate", Value: time.Now().Format("20060102150405")},
				{Name: "PhoneNumber", Value: req.PhoneNumber},
			},
		}

		log.Info().
			Str("checkout_request_id", checkoutRequestID).
			Str("phone", req.PhoneNumber).
			Dur("delay", delay).
			Msg("Customer confirmed payment")
	} else {
		code, desc := m.randomFailure()
		env.Body.StkCallback.ResultCode = code
		env.Body.StkCallback.ResultDesc = desc

		log.Warn().
			Str("checkout_request_id", checkoutRequestID).
			Str("phone", req.PhoneNumber).
			Int("result_code", code).
			Msg("Payment did not complete")
	}

	m.deliverCallback(req.CallBackURL, &env)
}

func (m *MockGateway) deliverCallback(url string, env *callbackEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal callback")
		return
	}

	// Real gateways retry undelivered callbacks; three attempts is enough
	// for a simulator.
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := m.client.Post(url, "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				return
			}
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("Callback rejected, will retry")
		} else {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Callback delivery failed, will retry")
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}

	log.Error().Str("url", url).Msg("Giving up on callback delivery")
}

func (m *MockGateway) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	randomDelta := time.Duration(m.rng.Int63n(int64(delta)))
	return m.minDelay + randomDelta
}

func (m *MockGateway) shouldSucceed() bool {
	return m.rng.Float64() < m.successRate
}

func (m *MockGateway) randomReceipt() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = alphabet[m.rng.Intn(len(alphabet))]
	}
	return string(b)
}

func (m *MockGateway) randomFailure() (int, string) {
	failures := []struct {
		code int
		desc string
	}{
		{resultCodeCancelledByUser, "Request cancelled by user"},
		{resultCodeTimeout, "DS timeout user cannot be reached"},
		{resultCodeInsufficient, "The balance is insufficient for the transaction"},
	}
	f := failures[m.rng.Intn(len(failures))]
	return f.code, f.desc
}

func parseAmount(s string) float64 {
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return 0
	}
	return f
}

type Handler struct {
	gateway *MockGateway
}

func NewHandler(gateway *MockGateway) *Handler {
	return &Handler{gateway: gateway}
}

// Token handles the OAuth client-credentials exchange.
func (h *Handler) Token(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		c.JSON(http.StatusUnauthorized, gin.H{
			"errorCode":    "404.001.03",
			"errorMessage": "Invalid Authentication passed",
		})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: uuid.New().String(),
		ExpiresIn:   "3599",
	})
}

// STKPush accepts a push request and kicks off the simulated customer flow.
func (h *Handler) STKPush(c *gin.Context) {
	var req STKPushRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"requestId":    uuid.New().String(),
			"errorCode":    "400.002.02",
			"errorMessage": "Bad Request - Invalid " + err.Error(),
		})
		return
	}

	merchantRequestID := fmt.Sprintf("%d-%d-1", h.gateway.rng.Intn(99999), h.gateway.rng.Intn(99999999))
	checkoutRequestID := "ws_CO_" + time.Now().Format("02012006150405") + fmt.Sprintf("%06d", h.gateway.rng.Intn(1000000))

	log.Info().
		Str("checkout_request_id", checkoutRequestID).
		Str("phone", req.PhoneNumber).
		Str("amount", req.Amount).
		Msg("Received STK push request")

	go h.gateway.simulateCustomer(&req, merchantRequestID, checkoutRequestID)

	c.JSON(http.StatusOK, STKPushResponse{
		MerchantRequestID:   merchantRequestID,
		CheckoutRequestID:   checkoutRequestID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"gateway_id":   h.gateway.gatewayID,
		"timestamp":    time.Now(),
		"success_rate": h.gateway.successRate,
	})
}

// UpdateConfig allows changing gateway configuration at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.SuccessRate != nil {
		if *config.SuccessRate >= 0 && *config.SuccessRate <= 1.0 {
			h.gateway.successRate = *config.SuccessRate
			log.Info().Float64("rate", *config.SuccessRate).Msg("Updated success rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Configuration updated",
		"success_rate": h.gateway.successRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.GET("/oauth/v1/generate", handler.Token)
	router.POST("/mpesa/stkpush/v1/processrequest", handler.STKPush)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8082")
	successRate := getEnvFloat("SUCCESS_RATE", 0.9)
	minDelay := getEnvDuration("MIN_DELAY", 2*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 10*time.Second)

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Mobile Money Gateway")

	// Create mock gateway
	gateway := NewMockGateway(successRate, minDelay, maxDelay)
	handler := NewHandler(gateway)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
