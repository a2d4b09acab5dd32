package paymentgateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
)

var _ = Describe("Paystack", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *Paystack
		logger  *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotImplemented)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		client = NewPaystack(PaystackConfig{
			BaseURL:   server.URL,
			SecretKey: "sk_test_secret",
			Timeout:   time.Second,
		}, logger)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Initialize", func() {
		It("posts the minor amount and reference and returns the authorization url", func() {
			// Given
			var received map[string]interface{}
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/transaction/initialize"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer sk_test_secret"))
				Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"PAY_1"}}`))
			}

			// When
			res, err := client.Initialize(context.Background(), &paymentgatewaytypes.InitializeRequest{
				Email:     "ama@example.com",
				Amount:    12050,
				Currency:  "GHS",
				Reference: "PAY_1",
			})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(res.AuthorizationURL).To(Equal("https://checkout.paystack.com/abc"))
			Expect(res.AccessCode).To(Equal("abc"))
			Expect(res.Reference).To(Equal("PAY_1"))
			Expect(received["amount"]).To(BeNumerically("==", 12050))
			Expect(received["reference"]).To(Equal("PAY_1"))
		})

		It("surfaces 5xx as a retryable GatewayError", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"status":false,"message":"upstream down"}`))
			}

			_, err := client.Initialize(context.Background(), &paymentgatewaytypes.InitializeRequest{
				Email: "ama@example.com", Amount: 100, Currency: "GHS", Reference: "PAY_2",
			})

			var gwErr *GatewayError
			Expect(err).To(BeAssignableToTypeOf(gwErr))
			gwErr = err.(*GatewayError)
			Expect(gwErr.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(gwErr.Retryable).To(BeTrue())
		})

		It("surfaces 4xx as a non-retryable GatewayError", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
			}

			_, err := client.Initialize(context.Background(), &paymentgatewaytypes.InitializeRequest{
				Email: "ama@example.com", Amount: 100, Currency: "GHS", Reference: "PAY_3",
			})

			gwErr, ok := err.(*GatewayError)
			Expect(ok).To(BeTrue())
			Expect(gwErr.Retryable).To(BeFalse())
			Expect(gwErr.Error()).To(ContainSubstring("Duplicate Transaction Reference"))
		})

		It("times out slow gateways", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
			}
			client.timeout = 50 * time.Millisecond
			client.httpClient.Timeout = 50 * time.Millisecond

			_, err := client.Initialize(context.Background(), &paymentgatewaytypes.InitializeRequest{
				Email: "ama@example.com", Amount: 100, Currency: "GHS", Reference: "PAY_4",
			})

			gwErr, ok := err.(*GatewayError)
			Expect(ok).To(BeTrue())
			Expect(gwErr.Retryable).To(BeTrue())
		})
	})

	Describe("Verify", func() {
		It("normalises a successful transaction", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/transaction/verify/PAY_1"))
				w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"id":99,"status":"success","reference":"PAY_1","amount":10000,"currency":"GHS","channel":"card","paid_at":"2025-03-01T10:00:00.000Z"}}`))
			}

			v, err := client.Verify(context.Background(), "PAY_1")

			Expect(err).NotTo(HaveOccurred())
			Expect(v.Status).To(Equal(paymentgatewaytypes.VerificationSuccess))
			Expect(v.Amount).To(Equal(int64(10000)))
			Expect(v.Currency).To(Equal("GHS"))
			Expect(v.PaidAt).NotTo(BeNil())
			Expect(v.PaidAt.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))).To(BeTrue())
			Expect(string(v.Raw)).To(ContainSubstring(`"id":99`))
		})

		DescribeTable("maps gateway states",
			func(gatewayStatus string, expected paymentgatewaytypes.VerificationStatus) {
				handler = func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`{"status":true,"data":{"status":"` + gatewayStatus + `","reference":"PAY_1","amount":100}}`))
				}
				v, err := client.Verify(context.Background(), "PAY_1")
				Expect(err).NotTo(HaveOccurred())
				Expect(v.Status).To(Equal(expected))
				Expect(v.GatewayStatus).To(Equal(gatewayStatus))
			},
			Entry("failed", "failed", paymentgatewaytypes.VerificationFailed),
			Entry("reversed", "reversed", paymentgatewaytypes.VerificationFailed),
			Entry("abandoned", "abandoned", paymentgatewaytypes.VerificationPending),
			Entry("ongoing", "ongoing", paymentgatewaytypes.VerificationPending),
		)

		It("refuses a verification for a different reference", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":true,"data":{"id":7,"status":"success","reference":"PAY_other","amount":10000,"currency":"GHS"}}`))
			}

			v, err := client.Verify(context.Background(), "PAY_1")

			Expect(v).To(BeNil())
			gwErr, ok := err.(*GatewayError)
			Expect(ok).To(BeTrue())
			Expect(gwErr.Retryable).To(BeFalse())
			Expect(gwErr.NotFound).To(BeFalse())
			Expect(gwErr.Error()).To(ContainSubstring("PAY_other"))
		})

		It("flags unknown references", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
			}

			_, err := client.Verify(context.Background(), "PAY_missing")

			Expect(IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Webhook", func() {
		body := []byte(`{"event":"charge.success","data":{"id":42,"reference":"PAY_1","amount":10000,"status":"success"}}`)

		It("accepts the HMAC-SHA512 of the raw body", func() {
			sig := SignSHA512("sk_test_secret", body)
			Expect(client.VerifySignature(body, sig)).To(BeTrue())
			Expect(client.SignatureHeader()).To(Equal("X-Paystack-Signature"))
		})

		It("rejects a tampered body with the original signature", func() {
			sig := SignSHA512("sk_test_secret", body)
			tampered := append([]byte{}, body...)
			tampered[len(tampered)-3] = '9'
			Expect(client.VerifySignature(tampered, sig)).To(BeFalse())
		})

		It("rejects malformed and empty signatures", func() {
			Expect(client.VerifySignature(body, "not-hex")).To(BeFalse())
			Expect(client.VerifySignature(body, "")).To(BeFalse())
		})

		It("parses the envelope", func() {
			evt, err := client.ParseEvent(body)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt.Type).To(Equal(paymentgatewaytypes.EventChargeSuccess))
			Expect(evt.Reference).To(Equal("PAY_1"))
			Expect(evt.EventID).To(Equal("42"))
			Expect(evt.DedupKey("paystack")).To(Equal("paystack:charge.success:42"))
		})
	})

	Describe("retries at the call site", func() {
		It("retries retryable failures and stops at success", func() {
			var calls int32
			handler = func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte(`{"status":true,"data":{"status":"success","reference":"PAY_1","amount":100}}`))
			}

			policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
			v, err := Do(context.Background(), policy, func(ctx context.Context) (*paymentgatewaytypes.Verification, error) {
				return client.Verify(ctx, "PAY_1")
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(v.Status).To(Equal(paymentgatewaytypes.VerificationSuccess))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
		})

		It("does not retry client errors", func() {
			var calls int32
			handler = func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusUnauthorized)
			}

			policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond}
			_, err := Do(context.Background(), policy, func(ctx context.Context) (*paymentgatewaytypes.Verification, error) {
				return client.Verify(ctx, "PAY_1")
			})

			Expect(err).To(HaveOccurred())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		})

		It("gives up after the attempt budget", func() {
			var calls int32
			handler = func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusInternalServerError)
			}

			policy := RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond}
			_, err := Do(context.Background(), policy, func(ctx context.Context) (*paymentgatewaytypes.Verification, error) {
				return client.Verify(ctx, "PAY_1")
			})

			var gwErr *GatewayError
			Expect(err).To(BeAssignableToTypeOf(gwErr))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
		})
	})
})
