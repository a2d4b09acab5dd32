package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/frahmantamala/enrollment-payments/internal"
	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
)

// Gateway is the narrow surface the ledger needs from a payment provider.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req *paymentgatewaytypes.InitializeRequest) (*paymentgatewaytypes.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paymentgatewaytypes.Verification, error)
	SignatureHeader() string
	VerifySignature(rawBody []byte, signature string) bool
	ParseEvent(rawBody []byte) (*paymentgatewaytypes.ChargeEvent, error)
}

// GatewayError is returned for any network, 4xx or 5xx failure talking to a provider.
type GatewayError struct {
	Gateway    string
	Op         string
	StatusCode int
	Retryable  bool
	NotFound   bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Gateway, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the provider has no transaction for the reference.
func IsNotFound(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.NotFound
}

func classifyStatus(gateway, op string, status int, err error) *GatewayError {
	return &GatewayError{
		Gateway:    gateway,
		Op:         op,
		StatusCode: status,
		Retryable:  status >= 500 || status == 429,
		NotFound:   status == 404,
		Err:        err,
	}
}

// SignatureHeaderFor builds the X-{Gateway}-Signature header name.
func SignatureHeaderFor(name string) string {
	if name == "" {
		return "X-Signature"
	}
	return "X-" + strings.ToUpper(name[:1]) + strings.ToLower(name[1:]) + "-Signature"
}

type Registry struct {
	gateways       map[string]Gateway
	defaultGateway string
}

func NewRegistry(defaultGateway string, gateways ...Gateway) *Registry {
	r := &Registry{
		gateways:       make(map[string]Gateway, len(gateways)),
		defaultGateway: defaultGateway,
	}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get resolves a gateway by name; an empty name means the default gateway.
func (r *Registry) Get(name string) (Gateway, error) {
	if name == "" {
		name = r.defaultGateway
	}
	g, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, internal.NewNotFoundError(fmt.Sprintf("unknown payment gateway %q", name), internal.ErrCodeUnknownGateway)
	}
	return g, nil
}

func (r *Registry) Default() string {
	return r.defaultGateway
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
