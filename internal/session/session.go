// Package session resolves and owns the local identity for a chat session.
//
// An identity can be resolved three ways: a one-time token delivered by URL
// after an external provider redirect, a credential persisted from an
// earlier run, or a directory/password login. The persisted credential is
// write-owned by this package alone.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pliu/courier/internal/api"
	"github.com/pliu/courier/internal/models"
)

// Resolver is the slice of the backend API the session needs.
type Resolver interface {
	SearchUsers(ctx context.Context, fragment string) ([]models.Identity, error)
	WhoAmI(ctx context.Context, token string) (*models.Identity, error)
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	ExternalLoginURL(provider, redirectURI string) string
}

const credentialFile = "credentials"

type Store struct {
	configDir string
	resolver  Resolver
	logger    *zap.Logger

	identity *models.Identity
}

func NewStore(configDir string, resolver Resolver, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{configDir: configDir, resolver: resolver, logger: logger}
}

// Identity returns the resolved identity, or nil while unresolved.
func (s *Store) Identity() *models.Identity {
	return s.identity
}

// BootstrapFromURL extracts a one-time token from rawURL, persists it as the
// credential, and returns the URL with the token parameter removed so the
// token is never discoverable by that channel again. ok is false when the
// URL carries no token; nothing is touched in that case.
func (s *Store) BootstrapFromURL(rawURL string) (cleanURL string, ok bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, err
	}

	q := u.Query()
	token := q.Get("token")
	if token == "" {
		return rawURL, false, nil
	}

	if err := s.saveCredential(token); err != nil {
		return "", false, err
	}

	q.Del("token")
	u.RawQuery = q.Encode()
	return u.String(), true, nil
}

// BootstrapFromStoredCredential tries to resolve the identity from the
// persisted credential. A rejected credential is discarded and the session
// stays unresolved; there is no retry.
func (s *Store) BootstrapFromStoredCredential(ctx context.Context) error {
	token, err := s.loadCredential()
	if err != nil {
		return err
	}
	if token == "" {
		return api.ErrNotFound
	}

	id, err := s.resolver.WhoAmI(ctx, token)
	if err != nil {
		if errors.Is(err, api.ErrAuthRejected) {
			s.logger.Info("stored credential rejected, discarding")
			s.clearCredential()
		}
		return err
	}

	s.identity = id
	return nil
}

// LoginByEmail resolves the identity from the first exact directory match.
// Note this path performs no secret verification; LoginWithPassword is the
// verified path.
func (s *Store) LoginByEmail(ctx context.Context, email string) error {
	users, err := s.resolver.SearchUsers(ctx, email)
	if err != nil {
		return err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			id := u
			s.identity = &id
			return nil
		}
	}
	return fmt.Errorf("login %q: %w", email, api.ErrNotFound)
}

// LoginWithPassword verifies the password with the server and persists the
// issued token as the credential.
func (s *Store) LoginWithPassword(ctx context.Context, email, password string) error {
	res, err := s.resolver.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.saveCredential(res.Token); err != nil {
		return err
	}
	id := res.User
	s.identity = &id
	return nil
}

// StartExternalLogin returns the provider hand-off URL. The provider is
// expected to return control by redirecting to redirectURI with a token
// parameter, which the caller feeds to BootstrapFromURL. This call never
// resolves an identity itself.
func (s *Store) StartExternalLogin(provider, redirectURI string) string {
	return s.resolver.ExternalLoginURL(provider, redirectURI)
}

// Logout clears the identity and the persisted credential. Connection
// teardown is the caller's job.
func (s *Store) Logout() {
	s.identity = nil
	s.clearCredential()
}

// Bootstrap runs the startup protocol: consume a URL token when one was
// handed in, then resolve whatever credential is persisted. Ending up
// unresolved is the normal outcome for a first run, not an error; the
// caller presents the login entry point.
func (s *Store) Bootstrap(ctx context.Context, rawURL string) error {
	if rawURL != "" {
		if _, _, err := s.BootstrapFromURL(rawURL); err != nil {
			return err
		}
	}
	err := s.BootstrapFromStoredCredential(ctx)
	if errors.Is(err, api.ErrAuthRejected) || errors.Is(err, api.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) credentialPath() string {
	return filepath.Join(s.configDir, credentialFile)
}

func (s *Store) saveCredential(token string) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(s.credentialPath(), []byte(token), 0600)
}

func (s *Store) loadCredential() (string, error) {
	data, err := os.ReadFile(s.credentialPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Store) clearCredential() {
	if err := os.Remove(s.credentialPath()); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing credential file", zap.Error(err))
	}
}
