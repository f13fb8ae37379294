// Package payment предоставляет клиент для проверки платежей в PayPal.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с PayPal Orders API.
type Client struct {
	baseURL    string
	clientID   string
	secret     string
	httpClient *retryablehttp.Client
}

// Capture описывает подтверждённый платёж шлюза.
type Capture struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	PayerEmail string `json:"payer_email"`
}

// NewClient создаёт клиент PayPal с повторами на сетевых ошибках.
func NewClient(baseURL, clientID, secret string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		secret:     secret,
		httpClient: httpClient,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected token status: %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	return token.AccessToken, nil
}

type orderResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	Payer      struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// VerifyOrder проверяет, что платёж с указанным идентификатором действительно
// завершён на стороне шлюза, и возвращает его данные.
func (c *Client) VerifyOrder(ctx context.Context, paypalOrderID string) (*Capture, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/checkout/orders/%s", c.baseURL, url.PathEscape(paypalOrderID)), nil)
	if err != nil {
		return nil, fmt.Errorf("create order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("gateway order not found: %s", paypalOrderID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected order status: %d", resp.StatusCode)
	}

	var order orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	if order.Status != "COMPLETED" && order.Status != "APPROVED" {
		return nil, fmt.Errorf("gateway order %s not completed: %s", paypalOrderID, order.Status)
	}

	return &Capture{
		ID:         order.ID,
		Status:     order.Status,
		UpdateTime: order.UpdateTime,
		PayerEmail: order.Payer.EmailAddress,
	}, nil
}
