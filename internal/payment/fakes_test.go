package payment_test

import (
	"context"
	"encoding/json"
	"sync"

	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/core/events"
)

type fakeGateway struct {
	mu           sync.Mutex
	verification *paymentgatewaytypes.Verification
	verifyErr    error
	initErr      error
	initialized  []*paymentgatewaytypes.InitializeRequest
	verifyCalls  int
}

func (f *fakeGateway) Name() string            { return "paystack" }
func (f *fakeGateway) SignatureHeader() string { return "X-Paystack-Signature" }

func (f *fakeGateway) VerifySignature(_ []byte, signature string) bool {
	return signature == "valid"
}

func (f *fakeGateway) ParseEvent(rawBody []byte) (*paymentgatewaytypes.ChargeEvent, error) {
	var e paymentgatewaytypes.ChargeEvent
	if err := json.Unmarshal(rawBody, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (f *fakeGateway) Initialize(_ context.Context, req *paymentgatewaytypes.InitializeRequest) (*paymentgatewaytypes.InitializeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = append(f.initialized, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &paymentgatewaytypes.InitializeResult{
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "access-" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (f *fakeGateway) Verify(_ context.Context, reference string) (*paymentgatewaytypes.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	v := *f.verification
	v.Reference = reference
	return &v, nil
}

// settle makes the gateway report reference-independent success for amount.
func (f *fakeGateway) settle(amount int64, currency string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = nil
	f.verification = &paymentgatewaytypes.Verification{
		Status:        paymentgatewaytypes.VerificationSuccess,
		GatewayStatus: "success",
		Amount:        amount,
		Currency:      currency,
		Channel:       "card",
		Raw:           json.RawMessage(`{"status":"success"}`),
	}
}

func (f *fakeGateway) report(status paymentgatewaytypes.VerificationStatus, gatewayStatus string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = nil
	f.verification = &paymentgatewaytypes.Verification{
		Status:        status,
		GatewayStatus: gatewayStatus,
		Raw:           json.RawMessage(`{"status":"` + gatewayStatus + `"}`),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}
