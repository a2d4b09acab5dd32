package paymentgateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
)

const RazorpayName = "razorpay"

// razorpayOrders is the part of the razorpay-go order resource this adapter uses.
type razorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// Razorpay maps our reference onto the order receipt, so Verify can find the order by reference.
type Razorpay struct {
	orders        razorpayOrders
	webhookSecret string
	timeout       time.Duration
	logger        *slog.Logger
}

func NewRazorpay(config RazorpayConfig, logger *slog.Logger) *Razorpay {
	client := razorpay.NewClient(config.KeyID, config.KeySecret)
	return newRazorpayWithOrders(client.Order, config, logger)
}

func newRazorpayWithOrders(orders razorpayOrders, config RazorpayConfig, logger *slog.Logger) *Razorpay {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Razorpay{
		orders:        orders,
		webhookSecret: config.WebhookSecret,
		timeout:       timeout,
		logger:        logger,
	}
}

func (r *Razorpay) Name() string {
	return RazorpayName
}

func (r *Razorpay) SignatureHeader() string {
	return SignatureHeaderFor(RazorpayName)
}

// VerifySignature checks Razorpay's HMAC-SHA256 hex digest over the raw body.
func (r *Razorpay) VerifySignature(rawBody []byte, signature string) bool {
	return VerifyHMAC(sha256.New, r.webhookSecret, rawBody, signature)
}

func (r *Razorpay) Initialize(ctx context.Context, req *paymentgatewaytypes.InitializeRequest) (*paymentgatewaytypes.InitializeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &GatewayError{Gateway: RazorpayName, Op: "initialize", Err: err}
	}

	notes := map[string]interface{}{"reference": req.Reference, "email": req.Email}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Reference,
		"notes":    notes,
	}

	order, err := r.call(ctx, "initialize", func() (map[string]interface{}, error) {
		return r.orders.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}

	orderID, _ := order["id"].(string)
	r.logger.InfoContext(ctx, "razorpay order created", "reference", req.Reference, "order_id", orderID)

	return &paymentgatewaytypes.InitializeResult{
		AccessCode: orderID,
		Reference:  req.Reference,
	}, nil
}

func (r *Razorpay) Verify(ctx context.Context, reference string) (*paymentgatewaytypes.Verification, error) {
	list, err := r.call(ctx, "verify", func() (map[string]interface{}, error) {
		return r.orders.All(map[string]interface{}{"receipt": reference}, nil)
	})
	if err != nil {
		return nil, err
	}

	items, _ := list["items"].([]interface{})
	if len(items) == 0 {
		return nil, &GatewayError{Gateway: RazorpayName, Op: "verify", StatusCode: 404, NotFound: true, Err: fmt.Errorf("no order for receipt %s", reference)}
	}
	order, _ := items[0].(map[string]interface{})
	orderID, _ := order["id"].(string)

	paymentsResp, err := r.call(ctx, "verify", func() (map[string]interface{}, error) {
		return r.orders.Payments(orderID, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	payments, _ := paymentsResp["items"].([]interface{})

	raw, err := json.Marshal(map[string]interface{}{"order": order, "payments": payments})
	if err != nil {
		return nil, &GatewayError{Gateway: RazorpayName, Op: "verify", Err: err}
	}

	orderStatus, _ := order["status"].(string)
	v := &paymentgatewaytypes.Verification{
		Reference:     reference,
		Status:        paymentgatewaytypes.VerificationPending,
		GatewayStatus: orderStatus,
		Amount:        toInt64(order["amount"]),
		Currency:      stringOf(order["currency"]),
		Raw:           raw,
	}

	// Payments come newest first; a captured one settles the order.
	for i, item := range payments {
		p, _ := item.(map[string]interface{})
		status := stringOf(p["status"])
		switch {
		case status == "captured":
			v.Status = paymentgatewaytypes.VerificationSuccess
			v.GatewayStatus = status
			v.Channel = stringOf(p["method"])
			if created := toInt64(p["created_at"]); created > 0 {
				t := time.Unix(created, 0).UTC()
				v.PaidAt = &t
			}
			return v, nil
		case i == 0 && status == "failed":
			v.Status = paymentgatewaytypes.VerificationFailed
			v.GatewayStatus = status
		}
	}
	if orderStatus == "paid" {
		v.Status = paymentgatewaytypes.VerificationSuccess
	}
	return v, nil
}

func (r *Razorpay) ParseEvent(rawBody []byte) (*paymentgatewaytypes.ChargeEvent, error) {
	var envelope struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string                 `json:"id"`
					OrderID string                 `json:"order_id"`
					Amount  int64                  `json:"amount"`
					Status  string                 `json:"status"`
					Notes   map[string]interface{} `json:"notes"`
				} `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity struct {
					Receipt string `json:"receipt"`
				} `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode razorpay event: %w", err)
	}
	if envelope.Event == "" {
		return nil, errors.New("razorpay event has no type")
	}

	entity := envelope.Payload.Payment.Entity
	reference := envelope.Payload.Order.Entity.Receipt
	if reference == "" {
		reference = stringOf(entity.Notes["reference"])
	}

	eventType := envelope.Event
	switch envelope.Event {
	case "payment.captured", "order.paid":
		eventType = paymentgatewaytypes.EventChargeSuccess
	case "payment.failed":
		eventType = paymentgatewaytypes.EventChargeFailed
	}

	return &paymentgatewaytypes.ChargeEvent{
		Type:      eventType,
		EventID:   entity.ID,
		Reference: reference,
		Amount:    entity.Amount,
		Status:    entity.Status,
		Raw:       json.RawMessage(rawBody),
	}, nil
}

// call bounds a blocking SDK call by the adapter timeout and the caller's context.
func (r *Razorpay) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &GatewayError{Gateway: RazorpayName, Op: op, Retryable: true, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			r.logger.WarnContext(ctx, "razorpay request failed", "op", op, "error", res.err)
			return nil, &GatewayError{Gateway: RazorpayName, Op: op, Retryable: true, Err: res.err}
		}
		return res.body, nil
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}
