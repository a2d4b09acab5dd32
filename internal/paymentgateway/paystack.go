package paymentgateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
)

const PaystackName = "paystack"

type PaystackConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

// Paystack talks to the Paystack transaction API. Every call is bounded by Timeout.
type Paystack struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	timeout       time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewPaystack(config PaystackConfig, logger *slog.Logger) *Paystack {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	webhookSecret := config.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = config.SecretKey
	}
	return &Paystack{
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		secretKey:     config.SecretKey,
		webhookSecret: webhookSecret,
		timeout:       timeout,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

func (p *Paystack) Name() string {
	return PaystackName
}

func (p *Paystack) SignatureHeader() string {
	return SignatureHeaderFor(PaystackName)
}

// VerifySignature checks the HMAC-SHA512 hex digest Paystack sends over the raw body.
func (p *Paystack) VerifySignature(rawBody []byte, signature string) bool {
	return VerifyHMAC(sha512.New, p.webhookSecret, rawBody, signature)
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Channel         string `json:"channel"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

func (p *Paystack) Initialize(ctx context.Context, req *paymentgatewaytypes.InitializeRequest) (*paymentgatewaytypes.InitializeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &GatewayError{Gateway: PaystackName, Op: "initialize", Err: err}
	}

	payload := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if _, err := p.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "paystack transaction initialized",
		"reference", req.Reference,
		"amount", req.Amount)

	return &paymentgatewaytypes.InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        req.Reference,
	}, nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*paymentgatewaytypes.Verification, error) {
	var tx paystackTransaction
	raw, err := p.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &tx)
	if err != nil {
		return nil, err
	}

	if tx.Reference != "" && tx.Reference != reference {
		return nil, &GatewayError{
			Gateway: PaystackName,
			Op:      "verify",
			Err:     fmt.Errorf("verified reference %q does not match requested %q", tx.Reference, reference),
		}
	}

	v := &paymentgatewaytypes.Verification{
		Reference:     reference,
		Status:        mapPaystackStatus(tx.Status),
		GatewayStatus: tx.Status,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Channel:       tx.Channel,
		Raw:           raw,
	}
	if tx.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			t = t.UTC()
			v.PaidAt = &t
		}
	}
	return v, nil
}

func mapPaystackStatus(status string) paymentgatewaytypes.VerificationStatus {
	switch strings.ToLower(status) {
	case "success":
		return paymentgatewaytypes.VerificationSuccess
	case "failed", "reversed":
		return paymentgatewaytypes.VerificationFailed
	default:
		// abandoned, ongoing, pending, processing, queued
		return paymentgatewaytypes.VerificationPending
	}
}

func (p *Paystack) ParseEvent(rawBody []byte) (*paymentgatewaytypes.ChargeEvent, error) {
	var envelope struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode paystack event: %w", err)
	}
	if envelope.Event == "" {
		return nil, errors.New("paystack event has no type")
	}

	evt := &paymentgatewaytypes.ChargeEvent{
		Type:      envelope.Event,
		Reference: envelope.Data.Reference,
		Amount:    envelope.Data.Amount,
		Status:    envelope.Data.Status,
		Raw:       json.RawMessage(rawBody),
	}
	if envelope.Data.ID != 0 {
		evt.EventID = strconv.FormatInt(envelope.Data.ID, 10)
	}
	return evt, nil
}

// do sends one request and decodes data into out. It returns the raw data field.
func (p *Paystack) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, &GatewayError{Gateway: PaystackName, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, &GatewayError{Gateway: PaystackName, Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.WarnContext(ctx, "paystack request failed", "op", op, "error", err)
		return nil, &GatewayError{Gateway: PaystackName, Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Gateway: PaystackName, Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	var envelope paystackEnvelope
	decodeErr := json.Unmarshal(respBody, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := envelope.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		p.logger.WarnContext(ctx, "paystack returned error status",
			"op", op,
			"status", resp.StatusCode,
			"message", msg)
		return nil, classifyStatus(PaystackName, op, resp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, &GatewayError{Gateway: PaystackName, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !envelope.Status {
		return nil, &GatewayError{Gateway: PaystackName, Op: op, StatusCode: resp.StatusCode, Err: errors.New(envelope.Message)}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return nil, &GatewayError{Gateway: PaystackName, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return envelope.Data, nil
}
