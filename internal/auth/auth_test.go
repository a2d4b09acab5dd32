package auth_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/auth"
	"github.com/frahmantamala/enrollment-payments/pkg/logger"
)

const secret = "0123456789abcdef0123456789abcdef"

var _ = Describe("JWTTokenGenerator", func() {
	var tokens *auth.JWTTokenGenerator

	BeforeEach(func() {
		tokens = auth.NewJWTTokenGenerator(secret, "enrollment-payments", time.Minute)
	})

	It("round-trips the actor", func() {
		token, err := tokens.GenerateAccessToken(7, internal.RoleStudent, "")
		Expect(err).NotTo(HaveOccurred())

		claims, err := tokens.ValidateToken(token)

		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Actor()).To(Equal(internal.Actor{UserID: 7, Role: internal.RoleStudent}))
		Expect(claims.Subject).To(Equal("7"))
	})

	It("refuses to mint a token for an unknown role", func() {
		_, err := tokens.GenerateAccessToken(7, "superuser", "")
		Expect(err).To(MatchError(auth.ErrUnknownRole))
	})

	It("rejects tokens signed with another secret", func() {
		other := auth.NewJWTTokenGenerator("ffffffffffffffffffffffffffffffff", "enrollment-payments", time.Minute)
		token, err := other.GenerateAccessToken(1, internal.RoleAdmin, "")
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.ValidateToken(token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("rejects tokens from another issuer", func() {
		other := auth.NewJWTTokenGenerator(secret, "someone-else", time.Minute)
		token, err := other.GenerateAccessToken(1, internal.RoleAdmin, "")
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.ValidateToken(token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("reports expiry", func() {
		expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
			UserID: 7,
			Role:   internal.RoleStudent,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "enrollment-payments",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		token, err := expired.SignedString([]byte(secret))
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.ValidateToken(token)
		Expect(err).To(MatchError(auth.ErrTokenExpired))
	})

	It("rejects the none algorithm", func() {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.Claims{
			UserID: 1,
			Role:   internal.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "enrollment-payments",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		Expect(err).NotTo(HaveOccurred())

		_, err = tokens.ValidateToken(token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})
})

var _ = Describe("Handler", func() {
	var (
		tokens  *auth.JWTTokenGenerator
		handler *auth.Handler
		seen    *internal.Actor
		chain   http.Handler
	)

	BeforeEach(func() {
		tokens = auth.NewJWTTokenGenerator(secret, "", time.Minute)
		handler = auth.NewHandler(tokens, logger.Discard())
		seen = nil
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := internal.ActorFromContext(r.Context())
			seen = &actor
			w.WriteHeader(http.StatusNoContent)
		})
		chain = handler.AuthMiddleware(handler.RequireRole(internal.RoleAdmin)(inner))
	})

	call := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/1/confirm", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec
	}

	It("lets an admin through with the actor on the context", func() {
		token, err := tokens.GenerateAccessToken(1, internal.RoleAdmin, "")
		Expect(err).NotTo(HaveOccurred())

		rec := call(token)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(seen).NotTo(BeNil())
		Expect(seen.IsAdmin()).To(BeTrue())
	})

	It("forbids a student", func() {
		token, err := tokens.GenerateAccessToken(7, internal.RoleStudent, "")
		Expect(err).NotTo(HaveOccurred())

		rec := call(token)

		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(seen).To(BeNil())
	})

	It("answers 401 without a token", func() {
		Expect(call("").Code).To(Equal(http.StatusUnauthorized))
	})

	It("answers 401 for garbage", func() {
		Expect(call("not-a-jwt").Code).To(Equal(http.StatusUnauthorized))
	})
})
