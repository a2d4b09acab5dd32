package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/auth"
	"github.com/frahmantamala/enrollment-payments/internal/report"
	"github.com/frahmantamala/enrollment-payments/internal/transport/rest"
	"github.com/frahmantamala/enrollment-payments/internal/webhook"
	"github.com/frahmantamala/enrollment-payments/pkg/logger"
)

type stubExporter struct{ calls int }

func (e *stubExporter) Export(_ context.Context, _, _ time.Time, w io.Writer) (int, error) {
	e.calls++
	_, err := w.Write([]byte("xlsx"))
	return 0, err
}

type stubDispatcher struct{ gateway string }

func (d *stubDispatcher) Handle(_ context.Context, gatewayName string, _ []byte, _ http.Header) (*webhook.Result, error) {
	d.gateway = gatewayName
	return &webhook.Result{EventKey: "k", State: "APPLIED"}, nil
}

const testSecret = "router-test-secret-router-test-secret"

var _ = Describe("RegisterAllRoutes", func() {
	var (
		router     chi.Router
		exporter   *stubExporter
		dispatcher *stubDispatcher
		dbErr      error
		tokens     *auth.JWTTokenGenerator
	)

	bearer := func(role string) string {
		token, err := tokens.GenerateAccessToken(9, role, "")
		Expect(err).NotTo(HaveOccurred())
		return "Bearer " + token
	}

	do := func(method, path, authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader("{}"))
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		lg := logger.Discard()
		exporter = &stubExporter{}
		dispatcher = &stubDispatcher{}
		dbErr = nil
		tokens = auth.NewJWTTokenGenerator(testSecret, "", time.Hour)

		router = chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Handlers{
			Auth:    auth.NewHandler(tokens, lg),
			Webhook: webhook.NewHandler(dispatcher, 1024, lg),
			Report:  report.NewHandler(exporter, lg),
			Health: rest.NewHealthHandler(map[string]rest.Pinger{
				"database": rest.PingFunc(func(context.Context) error { return dbErr }),
			}),
			OpenAPI: []byte("openapi: 3.0.3\n"),
		}, rest.RouterOptions{AllowedOrigins: "*"}, lg)
	})

	It("serves ping and health without a token", func() {
		Expect(do(http.MethodGet, "/api/v1/ping", "").Code).To(Equal(http.StatusOK))

		rec := do(http.MethodGet, "/api/v1/health", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		var body rest.HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Status).To(Equal(rest.HealthHealthy))
		Expect(body.Components).To(HaveKey("database"))
	})

	It("reports 503 when a dependency is down", func() {
		dbErr = errors.New("connection refused")

		rec := do(http.MethodGet, "/api/v1/health", "")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		var body rest.HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Components["database"].Message).To(Equal("connection refused"))
	})

	It("routes webhooks by gateway without a bearer token", func() {
		rec := do(http.MethodPost, "/webhooks/paystack", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(dispatcher.gateway).To(Equal("paystack"))
	})

	It("serves the OpenAPI document", func() {
		rec := do(http.MethodGet, "/openapi.yml", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("openapi:"))
	})

	It("keeps admin routes behind the admin role", func() {
		Expect(do(http.MethodGet, "/api/v1/admin/payments/export", "").Code).To(Equal(http.StatusUnauthorized))
		Expect(do(http.MethodGet, "/api/v1/admin/payments/export", bearer(internal.RoleStudent)).Code).To(Equal(http.StatusForbidden))
		Expect(exporter.calls).To(BeZero())

		rec := do(http.MethodGet, "/api/v1/admin/payments/export", bearer(internal.RoleAdmin))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(exporter.calls).To(Equal(1))
	})

	It("echoes a request id", func() {
		rec := do(http.MethodGet, "/api/v1/ping", "")
		Expect(rec.Header().Get("X-Request-ID")).NotTo(BeEmpty())
	})
})
