package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/config"
	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
	"github.com/znomio18-svg/backend-api/internal/infra/metrics"
	"github.com/znomio18-svg/backend-api/internal/infra/redis"
)

var _ adapter.PaymentGateway = (*QPayGateway)(nil)

const (
	tokenCacheKey = "qpay:access_token"
	maxRetries    = 5
	maxAuthRetry  = 2 // 401 clear-and-reauth attempts per call
	callTimeout   = 10 * time.Second
)

// QPayGateway talks to the QPay merchant API. It owns the access token
// (redis fast cache plus a durable postgres fallback), re-authenticates
// transparently on 401, and retries transient failures with exponential
// backoff. Callers only ever see domain.ErrGatewayUnavailable when the
// provider stays down.
type QPayGateway struct {
	cfg    config.QPayConfig
	client *http.Client
	cache  redis.RedisClient
	tokens repository.GatewayTokenRepository
	log    *zerolog.Logger

	// wait is a test seam around backoff sleeps.
	wait func(ctx context.Context, d time.Duration) error
}

func NewQPayGateway(cfg config.QPayConfig, cache redis.RedisClient, tokens repository.GatewayTokenRepository, logger *zerolog.Logger) *QPayGateway {
	gwLog := logger.With().Str("component", "QPayGateway").Logger()
	return &QPayGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: callTimeout},
		cache:  cache,
		tokens: tokens,
		log:    &gwLog,
		wait:   sleepCtx,
	}
}

func (g *QPayGateway) Name() string { return "qpay" }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// apiError carries an HTTP-level failure for classification. A nil *apiError
// wrapped transport error means no response at all.
type apiError struct {
	Status int
	Body   []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("qpay: http %d: %s", e.Status, string(e.Body))
}

// isRetryable classifies failures: network errors (no response), 5xx, 429 and
// the provider's SYSTEM_BUSY code are transient; other 4xx are business fatal.
func isRetryable(err error) bool {
	ae, ok := err.(*apiError)
	if !ok {
		return true // no response at all
	}
	if ae.Status >= 500 || ae.Status == http.StatusTooManyRequests {
		return true
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(ae.Body, &body) == nil && body.Error == "SYSTEM_BUSY" {
		return true
	}
	return false
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// getAccessToken resolves a usable token: redis first, then the durable
// store, then refresh, then full authentication.
func (g *QPayGateway) getAccessToken(ctx context.Context) (string, error) {
	if cached, err := g.cache.Get(ctx, tokenCacheKey); err == nil && cached != "" {
		return cached, nil
	}

	latest, err := g.tokens.FindLatest(ctx, nil)
	if err == nil && latest.Valid(time.Now()) {
		ttl := time.Until(latest.ExpiresAt)
		if err := g.cache.Set(ctx, tokenCacheKey, latest.AccessToken, ttl); err != nil {
			g.log.Warn().Err(err).Msg("token cache set failed")
		}
		return latest.AccessToken, nil
	}
	if err == nil && latest.RefreshToken != "" {
		if tok, rerr := g.refreshToken(ctx, latest.RefreshToken); rerr == nil {
			return tok, nil
		}
		g.log.Warn().Msg("token refresh failed, re-authenticating")
	}

	return g.authenticate(ctx)
}

// authenticate fetches a fresh token with basic auth, retrying transient
// failures with 2s, 4s, 8s... backoff.
func (g *QPayGateway) authenticate(ctx context.Context) (string, error) {
	for attempt := 0; ; attempt++ {
		tok, err := g.fetchToken(ctx, "/auth/token", func(req *http.Request) {
			req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
		})
		if err == nil {
			g.log.Info().Msg("qpay authentication successful")
			return tok, nil
		}
		if !isRetryable(err) || attempt >= maxRetries {
			g.log.Error().Err(err).Int("attempts", attempt).Msg("qpay auth failed")
			return "", domain.ErrGatewayUnavailable
		}
		delay := time.Duration(1<<(attempt+1)) * time.Second
		g.log.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempt+1).Msg("qpay auth retry")
		metrics.IncGatewayRetry("auth")
		if werr := g.wait(ctx, delay); werr != nil {
			return "", werr
		}
	}
}

func (g *QPayGateway) refreshToken(ctx context.Context, refresh string) (string, error) {
	return g.fetchToken(ctx, "/auth/refresh", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+refresh)
	})
}

// fetchToken posts to a token endpoint, persists the result in both stores,
// and returns the access token.
func (g *QPayGateway) fetchToken(ctx context.Context, path string, auth func(*http.Request)) (string, error) {
	body, err := g.doPost(ctx, path, nil, auth)
	if err != nil {
		return "", err
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	now := time.Now()
	tok := &model.GatewayToken{
		ID:           uuid.NewString(),
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		CreatedAt:    now,
	}
	if err := g.tokens.Save(ctx, nil, tok); err != nil {
		g.log.Warn().Err(err).Msg("durable token save failed")
	}
	// Cache slightly shorter than the real expiry so the cached copy never
	// outlives the token itself.
	cacheTTL := time.Duration(tr.ExpiresIn-60) * time.Second
	if cacheTTL > 0 {
		if err := g.cache.Set(ctx, tokenCacheKey, tr.AccessToken, cacheTTL); err != nil {
			g.log.Warn().Err(err).Msg("token cache set failed")
		}
	}
	return tr.AccessToken, nil
}

// clearTokenCache drops both the fast cache and the durable copies, forcing
// the next call to authenticate from scratch.
func (g *QPayGateway) clearTokenCache(ctx context.Context) {
	if err := g.cache.Del(ctx, tokenCacheKey); err != nil {
		g.log.Warn().Err(err).Msg("token cache clear failed")
	}
	if err := g.tokens.InvalidateAll(ctx, nil, time.Now()); err != nil {
		g.log.Warn().Err(err).Msg("durable token invalidation failed")
	}
}

func (g *QPayGateway) doPost(ctx context.Context, path string, payload interface{}, auth func(*http.Request)) ([]byte, error) {
	var buf io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &apiError{Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

// callWithRetry runs an authenticated POST with 401 clear-and-reauth and
// transient-failure backoff. op names the call for logs and metrics.
func (g *QPayGateway) callWithRetry(ctx context.Context, op, path string, payload interface{}) ([]byte, error) {
	authRetries := 0
	start := time.Now()
	defer func() { metrics.ObserveGatewayCall(op, time.Since(start).Seconds()) }()

	for attempt := 0; ; {
		token, err := g.getAccessToken(ctx)
		if err != nil {
			return nil, err
		}

		body, err := g.doPost(ctx, path, payload, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		})
		if err == nil {
			metrics.IncGatewayCall(op, "ok")
			return body, nil
		}

		if ae, ok := err.(*apiError); ok && ae.Status == http.StatusUnauthorized && authRetries < maxAuthRetry {
			authRetries++
			g.log.Warn().Str("op", op).Msg("qpay token rejected, clearing cache and re-authenticating")
			g.clearTokenCache(ctx)
			continue
		}

		if isRetryable(err) && attempt < maxRetries {
			attempt++
			delay := time.Duration(1<<attempt) * time.Second
			g.log.Warn().Err(err).Str("op", op).Dur("retry_in", delay).Int("attempt", attempt).Msg("qpay call retry")
			metrics.IncGatewayRetry(op)
			if werr := g.wait(ctx, delay); werr != nil {
				return nil, werr
			}
			continue
		}

		metrics.IncGatewayCall(op, "error")
		g.log.Error().Err(err).Str("op", op).Int("attempts", attempt).Msg("qpay call failed")
		return nil, domain.ErrGatewayUnavailable
	}
}

type invoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
	QRText    string `json:"qr_text"`
	QRImage   string `json:"qr_image"`
	URLs      []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Logo        string `json:"logo"`
		Link        string `json:"link"`
	} `json:"urls"`
}

func (g *QPayGateway) CreateInvoice(ctx context.Context, invoiceCode string, amount int64, description, callbackURL string) (*adapter.Invoice, error) {
	payload := map[string]interface{}{
		"invoice_code":          g.cfg.InvoiceCode,
		"sender_invoice_no":     invoiceCode,
		"invoice_receiver_code": "terminal",
		"invoice_description":   description,
		"amount":                amount,
		"callback_url":          callbackURL,
	}
	body, err := g.callWithRetry(ctx, "create_invoice", "/invoice", payload)
	if err != nil {
		return nil, err
	}
	var ir invoiceResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	inv := &adapter.Invoice{
		InvoiceID: ir.InvoiceID,
		QRText:    ir.QRText,
		QRImage:   ir.QRImage,
	}
	for _, u := range ir.URLs {
		inv.Deeplinks = append(inv.Deeplinks, model.Deeplink{
			Name: u.Name, Description: u.Description, Logo: u.Logo, Link: u.Link,
		})
	}
	return inv, nil
}

type checkResponse struct {
	Count      int             `json:"count"`
	PaidAmount json.Number     `json:"paid_amount"`
	Rows       []checkRowEntry `json:"rows"`
}

type checkRowEntry struct {
	PaymentID       string      `json:"payment_id"`
	PaymentStatus   string      `json:"payment_status"`
	PaymentAmount   json.Number `json:"payment_amount"`
	PaymentCurrency string      `json:"payment_currency"`
	PaymentWallet   string      `json:"payment_wallet"`
	TransactionType string      `json:"transaction_type"`
}

func (g *QPayGateway) CheckPayment(ctx context.Context, invoiceID string) (*adapter.PaymentCheck, error) {
	payload := map[string]interface{}{
		"object_type": "INVOICE",
		"object_id":   invoiceID,
		"page_number": 1,
		"page_limit":  100,
	}
	body, err := g.callWithRetry(ctx, "check_payment", "/payment/check", payload)
	if err != nil {
		return nil, err
	}
	var cr checkResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("decode check response: %w", err)
	}
	check := &adapter.PaymentCheck{
		Count:      cr.Count,
		PaidAmount: numberToMinor(cr.PaidAmount),
	}
	for _, r := range cr.Rows {
		check.Rows = append(check.Rows, adapter.PaymentCheckRow{
			PaymentID:       r.PaymentID,
			PaymentStatus:   r.PaymentStatus,
			PaymentAmount:   numberToMinor(r.PaymentAmount),
			PaymentCurrency: r.PaymentCurrency,
			PaymentWallet:   r.PaymentWallet,
			TransactionType: r.TransactionType,
		})
	}
	return check, nil
}

func (g *QPayGateway) CancelInvoice(ctx context.Context, invoiceID string) error {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.cfg.APIURL+"/invoice/"+invoiceID, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: body}
	}
	return nil
}

// numberToMinor rounds a gateway amount to integer minor units. QPay reports
// MNT amounts that may carry a decimal point.
func numberToMinor(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return int64(f + 0.5)
}
