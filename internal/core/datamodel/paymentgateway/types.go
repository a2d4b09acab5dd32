package paymentgateway

import (
	"encoding/json"
	"errors"
	"time"
)

// VerificationStatus is the gateway verdict normalised across providers.
type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "success"
	VerificationFailed  VerificationStatus = "failed"
	VerificationPending VerificationStatus = "pending"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

type InitializeRequest struct {
	Email       string                 `json:"email"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency"`
	Reference   string                 `json:"reference"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (r *InitializeRequest) Validate() error {
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if r.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Verification struct {
	Reference     string             `json:"reference"`
	Status        VerificationStatus `json:"status"`
	GatewayStatus string             `json:"gateway_status"`
	Amount        int64              `json:"amount"`
	Currency      string             `json:"currency"`
	Channel       string             `json:"channel,omitempty"`
	PaidAt        *time.Time         `json:"paid_at,omitempty"`
	Raw           json.RawMessage    `json:"raw"`
}

// ChargeEvent is a parsed webhook envelope. Type is mapped onto charge.success /
// charge.failed where the provider has an equivalent.
type ChargeEvent struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Status    string          `json:"status"`
	Raw       json.RawMessage `json:"raw"`
}

// DedupKey identifies one delivery of one event across retries.
func (e ChargeEvent) DedupKey(gateway string) string {
	id := e.EventID
	if id == "" {
		id = e.Reference
	}
	return gateway + ":" + e.Type + ":" + id
}
