package withdrawald

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func protected(t *testing.T, cfg AuthConfig) http.Handler {
	t.Helper()
	auth, err := NewAuthenticator(cfg, nil)
	require.NoError(t, err)
	return auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func serve(handler http.Handler, req *http.Request) int {
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res.Code
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticatorRequiresMechanism(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{}, nil)
	require.Error(t, err)
}

func TestAuthenticatorBearerToken(t *testing.T) {
	handler := protected(t, AuthConfig{BearerToken: "s3cret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusUnauthorized, serve(handler, req))

	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, serve(handler, req))

	req.Header.Set("Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, serve(handler, req))
}

func TestAuthenticatorJWT(t *testing.T) {
	handler := protected(t, AuthConfig{JWTSecret: "hmac-key", JWTIssuer: "ops", JWTAudience: "withdrawald"})
	now := time.Now()

	valid := signToken(t, "hmac-key", jwt.MapClaims{
		"iss": "ops", "aud": "withdrawald", "sub": "operator",
		"exp": now.Add(time.Hour).Unix(), "iat": now.Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	require.Equal(t, http.StatusOK, serve(handler, req))

	cases := map[string]string{
		"wrong secret": signToken(t, "other", jwt.MapClaims{"iss": "ops", "aud": "withdrawald", "exp": now.Add(time.Hour).Unix()}),
		"wrong issuer": signToken(t, "hmac-key", jwt.MapClaims{"iss": "intruder", "aud": "withdrawald", "exp": now.Add(time.Hour).Unix()}),
		"expired":      signToken(t, "hmac-key", jwt.MapClaims{"iss": "ops", "aud": "withdrawald", "exp": now.Add(-time.Hour).Unix()}),
		"no expiry":    signToken(t, "hmac-key", jwt.MapClaims{"iss": "ops", "aud": "withdrawald"}),
	}
	for name, token := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		require.Equal(t, http.StatusUnauthorized, serve(handler, req), name)
	}
}

func TestAuthenticatorMTLS(t *testing.T) {
	handler := protected(t, AuthConfig{AllowMTLS: true})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusUnauthorized, serve(handler, req))

	req.TLS = &tls.ConnectionState{
		HandshakeComplete: true,
		PeerCertificates:  []*x509.Certificate{{}},
	}
	require.Equal(t, http.StatusOK, serve(handler, req))
}

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken("bearer   abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("abc"))
}
