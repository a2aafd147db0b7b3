package person

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	persons repository.Repository[Person]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		persons: repository.ProvideStore[Person](p.DB),
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errutil.ValidationFailed("invalid person", err,
			errutil.WithDetails(errutil.Detail{Field: "email", Message: "must be a valid email address"}))
	}
	return email, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Person, error) {
	p, err := s.persons.FindOne(ctx, &Person{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query person", zap.String("person_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get person", err)
	}
	if p == nil {
		return nil, errutil.NotFound("person not found", nil)
	}
	return p, nil
}

// Resolve returns the person registered under the draft's email, creating one if needed.
func (s *Service) Resolve(ctx context.Context, d Draft) (*Person, error) {
	return s.ResolveTx(ctx, s.db, d)
}

// ResolveTx is Resolve inside a caller owned transaction.
func (s *Service) ResolveTx(ctx context.Context, tx *gorm.DB, d Draft) (*Person, error) {
	log := logger.FromContext(ctx)

	email, err := normalizeEmail(d.Email)
	if err != nil {
		return nil, err
	}

	repo := s.persons.WithTrx(tx)
	p, err := repo.FindOne(ctx, &Person{Email: email})
	if err != nil {
		log.Error("failed to query person", zap.Error(err))
		return nil, errutil.Internal("failed to resolve person", err)
	}
	if p != nil {
		return p, nil
	}

	p = &Person{
		ID:    s.node.Generate().String(),
		Name:  strings.TrimSpace(d.Name),
		Email: email,
	}
	if err := repo.Create(ctx, p); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Error("failed to create person", zap.Error(err))
			return nil, errutil.Internal("failed to resolve person", err)
		}
		// registered concurrently under the same email
		p, err = repo.FindOne(ctx, &Person{Email: email})
		if err != nil || p == nil {
			return nil, errutil.Internal("failed to resolve person", err)
		}
		return p, nil
	}

	log.Info("person registered", zap.String("person_id", p.ID))
	return p, nil
}

// CountUsers counts the persons registered as users of a company.
func (s *Service) CountUsers(ctx context.Context, tx *gorm.DB, companyID string) (int64, error) {
	return s.persons.WithTrx(tx).Count(ctx, &Person{CompanyID: &companyID})
}

// Attach makes p a user of companyID.
func (s *Service) Attach(ctx context.Context, tx *gorm.DB, p *Person, companyID string) error {
	if err := s.persons.WithTrx(tx).Update(ctx, p.ID, map[string]any{"company_id": companyID}); err != nil {
		return err
	}
	p.CompanyID = &companyID
	return nil
}
