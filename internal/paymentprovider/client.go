// Package paymentprovider клиент API платёжного шлюза (протокол Paystack):
// создание сессии оплаты, проверка платежа и отключение подписки,
// а также типы событий вебхука.
//
// Запросы ограничены таймаутом и не повторяются: политика повторов остаётся за вызывающим.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
)

const maxResponseBody = 1 << 20

// Client клиент API шлюза.
type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт клиента по настройкам шлюза.
func NewClient(cfg config.PaymentGateway) *Client {
	return &Client{
		secretKey:  cfg.GatewaySecretKey,
		apiURL:     strings.TrimRight(cfg.GatewayURL, "/"),
		httpClient: &http.Client{Timeout: cfg.GatewayTimeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do выполняет запрос и раскладывает data из конверта в out.
// Любой сбой сети, не-2xx ответ или status=false дают ошибку вида Upstream.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "payment gateway unavailable", fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "payment gateway unavailable", fmt.Errorf("%s: %w", op, err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperr.Wrap(apperr.Upstream, "payment gateway error",
			fmt.Errorf("%s: unexpected response %s: %w", op, resp.Status, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		return apperr.Wrap(apperr.Upstream, "payment gateway error",
			fmt.Errorf("%s: status %s: %s", op, resp.Status, env.Message))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Wrap(apperr.Upstream, "payment gateway error", fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

// InitializeTransaction создаёт сессию оплаты и возвращает ссылку для перехода.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	const op = "paymentprovider.InitializeTransaction"
	var out InitializeResponse
	if err := c.do(ctx, op, http.MethodPost, "/transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction запрашивает у шлюза состояние платежа по reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	const op = "paymentprovider.VerifyTransaction"
	var out Transaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableSubscription отключает автопродление подписки у шлюза.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	const op = "paymentprovider.DisableSubscription"
	body := map[string]string{"code": code, "token": emailToken}
	return c.do(ctx, op, http.MethodPost, "/subscription/disable", body, nil)
}
