// Package user defines the participant and organizer record.
package user

import (
	"context"
	"net/mail"
	"strings"

	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/services/records/domain/entity"
)

const (
	// Name prefixes user command types.
	Name = "user"
	// ConflictMessage is reported when an email is already registered.
	ConflictMessage = "Email address has to be unique"
)

// User is a registered person. Email is the login key and is unique across
// live users, compared case-insensitively.
type User struct {
	ID        uint64 `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// Validate checks required fields and the email format.
func Validate(u User) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(u.FirstName) == "" {
		missing = append(missing, "firstName")
	}
	if strings.TrimSpace(u.LastName) == "" {
		missing = append(missing, "lastName")
	}
	if strings.TrimSpace(u.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(u.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "user fields are required: "+strings.Join(missing, ", "), map[string]string{
			"fields": strings.Join(missing, ","),
		})
	}
	addr, err := mail.ParseAddress(u.Email)
	if err != nil || addr.Address != strings.TrimSpace(u.Email) {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "email address is not valid", map[string]string{
			"field": "email",
		})
	}
	return nil
}

// Schema describes users to the generic reducer.
func Schema() entity.Schema[User] {
	return entity.Schema[User]{
		Name:            Name,
		ID:              func(u User) uint64 { return u.ID },
		SetID:           func(u *User, id uint64) { u.ID = id },
		Key:             func(u User) string { return u.Email },
		ConflictMessage: ConflictMessage,
		Validate:        Validate,
	}
}

// NewManager returns the user reducer.
func NewManager() *entity.Manager[User] {
	manager, err := entity.NewManager(Schema())
	if err != nil {
		// The schema above is static and always valid.
		panic(err)
	}
	return manager
}

// Service is the user-facing record API used by the login collaborator and
// the administrative surface.
type Service struct {
	*entity.Service[User]
}

// NewService wraps a running user controller.
func NewService(controller *entity.Controller[User], manager *entity.Manager[User]) *Service {
	return &Service{Service: entity.NewService(controller, manager)}
}

// FindByEmail returns the user registered under email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.FindByKey(ctx, email)
}
