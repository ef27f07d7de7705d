// Package auth verifies credentials before a job may be scheduled. The admin
// account is checked locally against a bcrypt hash; everyone else is
// delegated to a real portal login, since the portal is the only authority on
// its own accounts.
package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/philosquare/zju-tem/internal/config"
	"github.com/philosquare/zju-tem/internal/portal"
)

// PortalVerifier performs one throwaway login to check a credential.
type PortalVerifier interface {
	Login(ctx context.Context, cred portal.Credential) (bool, error)
}

// SessionFactory hands out a fresh verifier per check so verification logins
// never share cookie state with firing jobs.
type SessionFactory func() PortalVerifier

func NewSessionFactory(c *portal.Client) SessionFactory {
	return func() PortalVerifier { return c.NewSession() }
}

type Authenticator struct {
	cfg      config.Config
	sessions SessionFactory
}

func New(cfg config.Config, sessions SessionFactory) *Authenticator {
	return &Authenticator{cfg: cfg, sessions: sessions}
}

func (a *Authenticator) IsAdmin(username string) bool {
	return username == a.cfg.Admin.Username
}

// HashPassword produces the bcrypt hash stored in config for the admin.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

// Verify reports whether the credential is acceptable. Debug-profile test
// users pass without a password, the admin is checked against the configured
// hash, and anyone else must survive a portal login. The error is non-nil
// only for transport failures, never for rejected credentials.
func (a *Authenticator) Verify(ctx context.Context, username, password string) (bool, error) {
	if a.cfg.IsTestUser(username) {
		return true, nil
	}
	if a.IsAdmin(username) {
		err := bcrypt.CompareHashAndPassword([]byte(a.cfg.Admin.PasswordHash), []byte(password))
		return err == nil, nil
	}
	return a.sessions().Login(ctx, portal.Credential{Username: username, Password: password})
}
