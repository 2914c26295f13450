package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lifelink/commsync/internal/store"
)

// Credential is the portal-issued bearer token plus the identity parsed
// from its claims. The core only consumes credentials; issuance and
// refresh belong to the portal's auth flow.
type Credential struct {
	Token     string
	Identity  store.Sender
	ExpiresAt time.Time
}

// Valid reports whether the credential can back a connection attempt.
func (c Credential) Valid() bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || time.Now().Before(c.ExpiresAt)
}

// Provider supplies the current session credential. Implementations must
// be cheap to call; the connection manager consults it on every attempt.
type Provider interface {
	Credential() (Credential, bool)
}

// portalClaims mirrors the claim names the donor portal puts in its JWTs.
type portalClaims struct {
	jwt.RegisteredClaims
	AccountType string `json:"accountType"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Name        string `json:"name"`
}

// ParseToken extracts identity and expiry from a portal JWT. The signature
// is not verified here: verification is the backend's job, the client only
// needs display identity and a pre-flight expiry check.
func ParseToken(raw string) (Credential, error) {
	claims := &portalClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return Credential{}, fmt.Errorf("parse token: %w", err)
	}

	cred := Credential{Token: raw}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}

	sender := store.Sender{ID: claims.Subject}
	switch claims.AccountType {
	case string(store.AccountOrganization):
		sender.Kind = store.AccountOrganization
		sender.OrgName = claims.Name
	default:
		sender.Kind = store.AccountIndividual
		sender.FirstName = claims.FirstName
		sender.LastName = claims.LastName
		// Some portal tokens only carry a combined name.
		if sender.FirstName == "" && claims.Name != "" {
			sender.FirstName = claims.Name
		}
	}
	cred.Identity = sender
	return cred, nil
}

// FileProvider reads the bearer token from the profile's token file on
// each call, so a re-login by the portal CLI is picked up without a
// daemon restart.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider backed by the given token file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Credential implements Provider. A missing or empty file means no
// credential; a malformed token is treated the same way.
func (p *FileProvider) Credential() (Credential, bool) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return Credential{}, false
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return Credential{}, false
	}
	cred, err := ParseToken(raw)
	if err != nil {
		return Credential{}, false
	}
	if !cred.Valid() {
		return Credential{}, false
	}
	return cred, true
}

// StaticProvider returns a fixed credential; used by tests and by the TUI
// when the token is passed on the command line.
type StaticProvider struct {
	Cred Credential
	OK   bool
}

// Credential implements Provider.
func (p *StaticProvider) Credential() (Credential, bool) {
	return p.Cred, p.OK
}
