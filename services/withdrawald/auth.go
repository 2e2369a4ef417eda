package withdrawald

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig describes admin authentication options.
type AuthConfig struct {
	BearerToken string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	ClockSkew   time.Duration
	AllowMTLS   bool
}

// Authenticator validates incoming admin requests.
type Authenticator struct {
	bearerToken string
	jwtSecret   []byte
	issuer      string
	audience    string
	clockSkew   time.Duration
	allowMTLS   bool
	logger      *slog.Logger
}

// NewAuthenticator constructs an Authenticator from configuration.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" && !cfg.AllowMTLS {
		return nil, fmt.Errorf("at least one authentication mechanism must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		bearerToken: token,
		jwtSecret:   []byte(secret),
		issuer:      strings.TrimSpace(cfg.JWTIssuer),
		audience:    strings.TrimSpace(cfg.JWTAudience),
		clockSkew:   skew,
		allowMTLS:   cfg.AllowMTLS,
		logger:      logger.With("component", "auth"),
	}, nil
}

// Middleware enforces authentication for admin handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		if a.authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "authentication required", http.StatusUnauthorized)
	})
}

func (a *Authenticator) authenticate(r *http.Request) bool {
	if a == nil || r == nil {
		return false
	}
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" {
		if a.bearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
			return true
		}
		if len(a.jwtSecret) > 0 {
			err := a.verifyJWT(token)
			if err == nil {
				return true
			}
			a.logger.Debug("jwt rejected", "error", err)
		}
	}
	return a.allowMTLS && authenticateByMTLS(r)
}

func (a *Authenticator) verifyJWT(raw string) error {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

func authenticateByMTLS(r *http.Request) bool {
	state := r.TLS
	if state == nil {
		return false
	}
	if len(state.VerifiedChains) > 0 {
		return true
	}
	return len(state.PeerCertificates) > 0 && state.HandshakeComplete
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
