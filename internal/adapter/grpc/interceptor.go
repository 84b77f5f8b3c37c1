package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ownerKey struct{}

// ContextWithOwner returns ctx carrying the authenticated owner id
func ContextWithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the owner set by AuthInterceptor
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// AuthInterceptor returns a gRPC unary server interceptor that validates the
// HS256 JWT in the authorization metadata ("Bearer <token>" or the bare token).
// The token subject becomes the owner id seen by the handlers.
// If the token is missing or invalid, it returns status.Unauthenticated.
func AuthInterceptor(secret []byte) grpc.UnaryServerInterceptor {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		raw := strings.TrimSpace(authHeaders[0])
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			raw = strings.TrimSpace(raw[7:])
		}

		token, err := parser.ParseWithClaims(raw, &jwt.RegisteredClaims{}, keyFunc)
		if err != nil || !token.Valid {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			return nil, status.Error(codes.Unauthenticated, "invalid token: missing subject")
		}

		return handler(ContextWithOwner(ctx, subject), req)
	}
}

// IssueToken signs an HS256 token for ownerID valid for ttl
func IssueToken(secret []byte, ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
