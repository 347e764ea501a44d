// Package customers handles sign-up, sign-in and one-time-code flows for storefront customers.
package customers

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("customer not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidOTP         = errors.New("invalid or expired code")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTooManyAttempts    = errors.New("too many failed codes, try again later")
)

const minPasswordLen = 8

type Store interface {
	Create(ctx context.Context, c *Customer) error
	Get(ctx context.Context, id string) (*Customer, error)
	GetByEmail(ctx context.Context, email string) (*Customer, error)
	SetPassword(ctx context.Context, id, hash string) error
	MarkVerified(ctx context.Context, id string) error
}

type Codes interface {
	Issue(ctx context.Context, email string) (string, error)
	Consume(ctx context.Context, email, code string) (bool, error)
}

// Notifier delivers one-time codes to the customer.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
}

type Service struct {
	Store    Store
	Codes    Codes
	Tokens   *Tokens
	Notifier Notifier
	Log      *zap.Logger
	Cost     int
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) hash(password string) (string, error) {
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}

func normalizeEmail(v string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Customer, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	c := &Customer{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
	}
	if err := s.Store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log().Info("customer signed up", zap.String("customer_id", c.ID))
	return c, nil
}

// SignIn never tells a missing account apart from a wrong password.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	c, err := s.Store.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	token, exp, err := s.Tokens.Issue(c.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Customer: c}, nil
}

// Authenticate resolves a session token to its customer id.
func (s *Service) Authenticate(token string) (string, error) {
	return s.Tokens.Parse(token)
}

func (s *Service) SendOTP(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.Store.GetByEmail(ctx, email); err != nil {
		return err
	}
	code, err := s.Codes.Issue(ctx, email)
	if err != nil {
		return fmt.Errorf("issue otp: %w", err)
	}
	if err := s.Notifier.SendOTP(ctx, email, code); err != nil {
		return fmt.Errorf("deliver otp: %w", err)
	}
	return nil
}

// VerifyOTP uses up the code and marks the account verified. A password reset needs a fresh code.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*Customer, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	c, err := s.Store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	ok, err := s.Codes.Consume(ctx, email, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOTP
	}
	if !c.Verified {
		if err := s.Store.MarkVerified(ctx, c.ID); err != nil {
			return nil, err
		}
		c.Verified = true
	}
	return c, nil
}

func (s *Service) ResetPassword(ctx context.Context, email, code, password string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	c, err := s.Store.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	ok, err := s.Codes.Consume(ctx, email, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOTP
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.Store.SetPassword(ctx, c.ID, hash); err != nil {
		return err
	}
	s.log().Info("password reset", zap.String("customer_id", c.ID))
	return nil
}

// Confirm returns the customer behind an authenticated session.
func (s *Service) Confirm(ctx context.Context, customerID string) (*Customer, error) {
	return s.Store.Get(ctx, customerID)
}

// LogNotifier writes codes to the log instead of sending them.
type LogNotifier struct{ Log *zap.Logger }

func (n LogNotifier) SendOTP(_ context.Context, email, _ string) error {
	if n.Log != nil {
		n.Log.Info("otp issued", zap.String("email", email))
	}
	return nil
}
