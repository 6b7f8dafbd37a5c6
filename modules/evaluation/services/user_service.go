package services

import (
	"context"
	"strings"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
)

// UserService resolves people referenced by email in import files.
type UserService struct {
	repo *persistence.Repository[entities.User]
}

func NewUserService(repos *persistence.Repositories) *UserService {
	return &UserService{repo: repos.Users}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) FindByEmail(ctx context.Context, email string) (entities.User, bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return entities.User{}, false, nil
	}
	return s.repo.FindOne(ctx, persistence.Filter{"email": email})
}

// Ensure returns the user with email, creating it when missing.
func (s *UserService) Ensure(ctx context.Context, email, firstname, lastname string) (entities.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return entities.User{}, NewServiceError(CodeInvalidInput, "email is required", nil)
	}
	u, _, err := s.repo.GetOrCreate(ctx, persistence.Filter{"email": email}, func() entities.User {
		return entities.User{Email: email, FirstName: firstname, LastName: lastname}
	})
	return u, err
}

func (s *UserService) Get(ctx context.Context, id int64) (entities.User, error) {
	return s.repo.Get(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]entities.User, error) {
	return s.repo.Find(ctx, persistence.Filter{})
}
