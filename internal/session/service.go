package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/go-querystring/query"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/pkg/logger"
)

// ErrDuplicateEmail is reported when registration is rejected because
// the address is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Service drives the authentication operations against the backend and
// keeps the Store consistent with their outcomes.
type Service struct {
	client *api.Client
	store  *Store
}

func NewService(client *api.Client, store *Store) *Service {
	return &Service{client: client, store: store}
}

func (s *Service) Store() *Store {
	return s.store
}

type loginForm struct {
	Username string `url:"username"`
	Password string `url:"password"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Login exchanges email and password for a credential pair, resolves
// the identity, and persists all of it as one group.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	if email == "" || password == "" {
		return User{}, api.Validationf("email and password are required")
	}

	form, err := query.Values(loginForm{Username: email, Password: password})
	if err != nil {
		return User{}, fmt.Errorf("failed to encode login form: %w", err)
	}

	var pair tokenPair
	if err := s.client.PostForm(ctx, "/auth/login", form, &pair); err != nil {
		return User{}, err
	}

	// Credentials first so the identity fetch goes out authenticated.
	if err := s.store.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		return User{}, err
	}

	var user User
	if err := s.client.Get(ctx, "/auth/me", &user); err != nil {
		// Half-open session is worse than none.
		if clearErr := s.store.Clear(); clearErr != nil {
			logger.WarnContext(ctx, "Failed to clear session after login failure", "error", clearErr)
		}
		return User{}, fmt.Errorf("failed to resolve identity: %w", err)
	}

	if err := s.store.SetAuth(&user, pair.AccessToken, pair.RefreshToken); err != nil {
		return User{}, err
	}

	logger.InfoContext(ctx, "Logged in", "email", user.Email)
	return user, nil
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register creates an account. It does not authenticate; the caller
// logs in afterwards.
func (s *Service) Register(ctx context.Context, email, password, name string) (User, error) {
	if err := validateRegistration(email, password, name); err != nil {
		return User{}, err
	}

	var user User
	err := s.client.PostJSON(ctx, "/auth/register", registerRequest{
		Email:    email,
		Password: password,
		Name:     name,
	}, &user)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Status == 400 && strings.Contains(strings.ToLower(apiErr.Message), "already registered") {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
		return User{}, err
	}

	logger.InfoContext(ctx, "Registered", "email", user.Email)
	return user, nil
}

// Logout clears all session fields. It is idempotent and purely local:
// no network failure mode blocks it.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Logged out")
	return nil
}

// Refresh exchanges the held refresh credential for a new pair. It
// fails closed: any error destroys the session.
func (s *Service) Refresh(ctx context.Context) error {
	if _, refresh := s.store.Tokens(); refresh == "" {
		return api.ErrNotAuthenticated
	}
	return s.client.Refresh(ctx)
}

// Registration constraints mirror what the backend enforces, checked
// before any request is sent.
const (
	minPasswordLength = 8
	minNameLength     = 2
)

func validateRegistration(email, password, name string) error {
	if !strings.Contains(email, "@") {
		return api.Validationf("invalid email address")
	}
	if len(password) < minPasswordLength {
		return api.Validationf("password must be at least %d characters", minPasswordLength)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return api.Validationf("password must contain at least one letter and one digit")
	}
	if len(strings.TrimSpace(name)) < minNameLength {
		return api.Validationf("name must be at least %d characters", minNameLength)
	}
	return nil
}
