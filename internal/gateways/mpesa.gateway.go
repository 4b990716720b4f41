package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/prom"
	"github.com/valyala/fasthttp"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayError is a rejection the gateway itself returned, as opposed to a
// transport failure. The code and description come straight off the wire.
type GatewayError struct {
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s (%s)", e.Description, e.Code)
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
	MaxConns       int
}

// STKPushRequest initiates a payment prompt on the customer's phone.
type STKPushRequest struct {
	PhoneNumber      string
	Amount           float64
	AccountReference string
	Description      string
}

// STKPushResponse carries the gateway correlation identifiers. The
// CheckoutRequestID is the key every later callback is matched on.
type STKPushResponse struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	CustomerMessage   string
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// Client talks to the mobile-money gateway. OAuth tokens are cached until
// shortly before expiry and refreshed under the mutex.
type Client struct {
	config *Config
	client *fasthttp.Client

	mu    sync.Mutex
	token accessToken
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConns == 0 {
		config.MaxConns = 64
	}

	client := &Client{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}

	logger.Info("Payment gateway client initialized", "base_url", config.BaseURL, "short_code", config.ShortCode, "timeout", config.Timeout)

	return client, nil
}

// STKPush asks the gateway to prompt the customer's phone for payment. The
// gateway only accepts whole units; validation upstream rejects fractional
// amounts before they reach here.
func (c *Client) STKPush(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.config.ShortCode + c.config.Passkey + timestamp))

	body, err := json.Marshal(map[string]interface{}{
		"BusinessShortCode": c.config.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            strconv.Itoa(int(req.Amount)),
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.config.ShortCode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.config.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	startTime := time.Now()
	response, err := c.doRequest(ctx, "POST", "/mpesa/stkpush/v1/processrequest", token, body)
	prom.AddGatewayRequestDuration(time.Since(startTime).Seconds(), "stk_push")

	if err != nil {
		return nil, err
	}

	var resp struct {
		MerchantRequestID string `json:"MerchantRequestID"`
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		ResponseDesc      string `json:"ResponseDescription"`
		CustomerMessage   string `json:"CustomerMessage"`
		ErrorCode         string `json:"errorCode"`
		ErrorMessage      string `json:"errorMessage"`
	}
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if resp.ErrorCode != "" {
		return nil, &GatewayError{Code: resp.ErrorCode, Description: resp.ErrorMessage}
	}
	if resp.ResponseCode != "0" {
		return nil, &GatewayError{Code: resp.ResponseCode, Description: resp.ResponseDesc}
	}

	logger.Info("STK push accepted",
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID,
		"phone", req.PhoneNumber,
		"amount", req.Amount)

	return &STKPushResponse{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		ResponseCode:      resp.ResponseCode,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// getAccessToken returns a cached OAuth token, fetching a fresh one when the
// cached token is within a minute of expiry.
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.value != "" && time.Now().Before(c.token.expiresAt.Add(-time.Minute)) {
		return c.token.value, nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + "/oauth/v1/generate?grant_type=client_credentials")
	req.Header.SetMethod("GET")
	credentials := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)

	startTime := time.Now()
	err := c.client.DoDeadline(req, resp, c.deadline(ctx))
	prom.AddGatewayRequestDuration(time.Since(startTime).Seconds(), "oauth_token")

	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrGatewayUnavailable, resp.StatusCode())
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body(), &tokenResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal token response: %w", err)
	}

	expiresIn, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	c.token = accessToken{
		value:     tokenResp.AccessToken,
		expiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}

	logger.Debug("Gateway access token refreshed", "expires_in", expiresIn)

	return c.token.value, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if body != nil {
		req.SetBody(body)
	}

	if err := c.client.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	statusCode := resp.StatusCode()
	if statusCode >= fasthttp.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, statusCode)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(c.config.Timeout)
}
