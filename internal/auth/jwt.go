package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

// AccountIDKey stores the authenticated account ID in a request context.
const AccountIDKey contextKey = "account_id"

// GatewayHeader carries the account ID when an authenticating proxy sits in front.
const GatewayHeader = "x-account-id"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims the dashboard issues.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// JWTValidator validates RS256 dashboard tokens.
type JWTValidator struct {
	keys         map[string]*rsa.PublicKey // kid -> key; "" matches tokens without kid
	issuer       string
	audience     string
	trustGateway bool
}

// NewJWTValidator creates a validator from a single PEM encoded RSA public key.
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	key, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return NewKeySetValidator(map[string]*rsa.PublicKey{"": key}, issuer, audience), nil
}

// NewKeySetValidator creates a validator from keys indexed by kid, typically from FetchJWKS.
func NewKeySetValidator(keys map[string]*rsa.PublicKey, issuer, audience string) *JWTValidator {
	return &JWTValidator{keys: keys, issuer: issuer, audience: audience}
}

// TrustGateway makes the middleware accept GatewayHeader without a token.
func (v *JWTValidator) TrustGateway(trust bool) *JWTValidator {
	v.trustGateway = trust
	return v
}

// ParsePublicKeyPEM accepts PKCS1 and PKIX encoded RSA public keys.
func ParsePublicKeyPEM(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}

// ValidateToken validates a token and returns its account ID.
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.AccountID == "" {
		return "", fmt.Errorf("%w: missing account_id claim", ErrInvalidToken)
	}
	return claims.AccountID, nil
}

func (v *JWTValidator) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if key, ok := v.keys[""]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func bearer(header string) (string, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// HTTPMiddleware rejects requests without a valid token and stores the
// account ID in the request context.
func (v *JWTValidator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.trustGateway {
			if accountID := r.Header.Get(GatewayHeader); accountID != "" {
				next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
				return
			}
		}

		token, err := bearer(r.Header.Get("Authorization"))
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
		accountID, err := v.ValidateToken(token)
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
	})
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="qrhook"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
}

// GRPCInterceptor returns a gRPC unary interceptor that validates JWT tokens.
// The standard health service is always reachable.
func (v *JWTValidator) GRPCInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		if v.trustGateway {
			if ids := md.Get(GatewayHeader); len(ids) > 0 && ids[0] != "" {
				return handler(WithAccountID(ctx, ids[0]), req)
			}
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingToken.Error())
		}
		token, err := bearer(authHeaders[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		accountID, err := v.ValidateToken(token)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "%v", err)
		}
		return handler(WithAccountID(ctx, accountID), req)
	}
}

// WithAccountID returns a copy of ctx carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// AccountIDFromContext extracts the authenticated account ID.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(AccountIDKey).(string)
	return accountID, ok && accountID != ""
}
