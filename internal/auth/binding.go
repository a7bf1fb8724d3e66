package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the access token plus the identity needed to key
// subscriptions. Two credentials with the same Version are interchangeable;
// a Version change forces channel rebinds.
type Credential struct {
	Token   string
	UserID  string
	Version string
}

func (c Credential) Zero() bool { return c.Token == "" }

// Binding supplies the current credential to every component that needs
// one. Implemented here as a swappable holder; the auth subsystem that
// issues tokens is out of scope.
type Binding interface {
	Current() Credential
}

// Holder is a concurrency-safe Binding whose credential can be rotated at
// runtime (token refresh, re-login, logout).
type Holder struct {
	mu   sync.RWMutex
	cred Credential
}

func NewHolder() *Holder { return &Holder{} }

func (h *Holder) Current() Credential {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cred
}

// Rotate installs a new credential. An empty token clears the binding
// (logout); subscriptions degrade to REST-only.
func (h *Holder) Rotate(cred Credential) {
	h.mu.Lock()
	h.cred = cred
	h.mu.Unlock()
}

// FromToken builds a credential by inspecting the token's claims without
// verifying the signature. Verification happens server-side; the client
// only needs the subject for self-identification and the expiry to pick a
// version key.
func FromToken(token string) (Credential, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Credential{}, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub, _ = claims["user_id"].(string)
	}
	if sub == "" {
		return Credential{}, errors.New("token has no subject")
	}
	version := sub
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		version = sub + ":" + exp.UTC().Format(time.RFC3339)
	}
	return Credential{Token: token, UserID: sub, Version: version}, nil
}
