package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/iryastone/storefront/internal/domain"
)

const (
	// AnonymousSessionHeader carries the client-generated anonymous session id.
	AnonymousSessionHeader = "X-Anonymous-Session"

	defaultVerifyTimeout   = 5 * time.Second
	maxAnonymousSessionLen = 128
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// OwnerResolver turns request credentials into the domain owner whose cart the request targets.
type OwnerResolver struct {
	verifier TokenVerifier
	timeout  time.Duration
}

// Option customises OwnerResolver behaviour.
type Option func(*OwnerResolver)

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(r *OwnerResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewOwnerResolver constructs an OwnerResolver for middleware composition.
func NewOwnerResolver(verifier TokenVerifier, opts ...Option) *OwnerResolver {
	r := &OwnerResolver{
		verifier: verifier,
		timeout:  defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ResolveOwner prefers a valid bearer token and falls back to the anonymous session header.
// A request carrying neither is rejected with 401.
func (o *OwnerResolver) ResolveOwner() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); strings.TrimSpace(header) != "" {
				tokenStr, ok := extractBearerToken(header)
				if !ok {
					respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
					return
				}
				if o == nil || o.verifier == nil {
					respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
					return
				}
				uid, err := o.verify(r.Context(), tokenStr)
				if err != nil {
					respondVerificationError(w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), domain.Authenticated(uid))))
				return
			}

			session, ok := anonymousSession(r.Header.Get(AnonymousSessionHeader))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "bearer token or anonymous session required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), domain.Anonymous(session))))
		})
	}
}

// RequireAuthenticated rejects requests whose resolved owner is not a signed-in user.
func RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := OwnerFromContext(r.Context())
			if !ok || !owner.IsAuthenticated() {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "sign-in required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (o *OwnerResolver) verify(ctx context.Context, tokenStr string) (string, error) {
	return verifiedUserID(ctx, o.verifier, tokenStr, o.timeout)
}

// verifiedUserID verifies tokenStr within timeout and returns the UID it was issued for.
func verifiedUserID(ctx context.Context, verifier TokenVerifier, tokenStr string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	token, err := verifier.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return "", classifyVerificationError(err)
	}
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return "", ErrTokenInvalid
	}
	return token.UID, nil
}

func anonymousSession(raw string) (string, bool) {
	session := strings.TrimSpace(raw)
	if session == "" || len(session) > maxAnonymousSessionLen {
		return "", false
	}
	for _, r := range session {
		if r <= ' ' || r == ':' || r > '~' {
			return "", false
		}
	}
	return session, true
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func classifyVerificationError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInvalid):
		return err
	case firebaseauth.IsIDTokenExpired(err):
		return ErrTokenExpired
	default:
		return errors.Join(ErrTokenInvalid, err)
	}
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
