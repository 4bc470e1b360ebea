// Package auth supplies the optional authenticated identity attached to a
// request. Tokens are HMAC-signed owner ids with an expiry; issuing them is
// left to the deployment (there is no account system in this service).
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned for malformed, forged, or expired tokens.
var ErrInvalidToken = errors.New("invalid auth token")

// Principal identifies an authenticated owner. ID is a UUID string.
type Principal struct {
	ID string
}

// Authenticator mints and verifies bearer tokens.
type Authenticator struct {
	secret []byte
}

// New creates an Authenticator.
func New(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// NewOwnerID returns a fresh owner identity.
func NewOwnerID() string {
	return uuid.NewString()
}

// Mint returns a token of the form ownerID:expiresUnix:signature.
func (a *Authenticator) Mint(ownerID string, ttl time.Duration) (string, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return "", fmt.Errorf("owner id must be a uuid: %w", err)
	}
	exp := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s:%d:%s", ownerID, exp, a.sign(ownerID, exp)), nil
}

// Verify checks the signature and expiry and returns the Principal.
func (a *Authenticator) Verify(tok string) (Principal, error) {
	parts := strings.Split(tok, ":")
	if len(parts) != 3 {
		return Principal{}, ErrInvalidToken
	}
	ownerID, expStr, sig := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	expected := a.sign(ownerID, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Principal{}, ErrInvalidToken
	}
	if time.Now().Unix() > exp {
		return Principal{}, ErrInvalidToken
	}
	if _, err := uuid.Parse(ownerID); err != nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{ID: ownerID}, nil
}

func (a *Authenticator) sign(ownerID string, expUnix int64) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(ownerID + ":" + strconv.FormatInt(expUnix, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

type ctxKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal, if any. Absence means anonymous.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
