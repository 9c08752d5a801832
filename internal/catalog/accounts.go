package catalog

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// ErrInvalidCredentials is returned for an unknown identifier or a wrong
// password; callers cannot tell the two apart.
var ErrInvalidCredentials = errors.New("invalid credentials")

// RegisterInput creates a service account.
type RegisterInput struct {
	ServiceRef string `json:"service_ref" binding:"required" validate:"required"`
	Email      string `json:"email" binding:"required,email" validate:"required,email"`
	Password   string `json:"password" binding:"required,min=8" validate:"required,min=8"`
	Role       string `json:"role" binding:"required" validate:"required,oneof=admin manager technician desk"`
}

// hashCost is a variable so tests can lower it.
var hashCost = bcrypt.DefaultCost

// Register hashes the password and stores the account. A taken service_ref
// or email returns jobs.ErrConflict.
func (s *Service) Register(ctx context.Context, in RegisterInput) (ServiceAccount, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.ServiceRef = strings.TrimSpace(in.ServiceRef)
	if err := jobs.Validate(in); err != nil {
		return ServiceAccount{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), hashCost)
	if err != nil {
		return ServiceAccount{}, err
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	acct, err := s.store.CreateServiceAccount(ctx, ServiceAccount{
		ServiceRef:   in.ServiceRef,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
	})
	if err != nil {
		return ServiceAccount{}, jobs.Wrap("create service account", err)
	}
	return acct, nil
}

// Authenticate resolves identifier (email or service_ref) and checks the
// password against the stored bcrypt hash.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*ServiceAccount, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	acct, err := s.store.FindServiceAccount(ctx, identifier)
	if err != nil {
		return nil, jobs.Wrap("find service account", err)
	}
	if acct == nil || acct.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}
