package company

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/repository"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/person"
	"smallbiznis-academy/services/seat"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	licenses  *license.Service
	persons   *person.Service
	allocator *seat.Allocator
	companies repository.Repository[Company]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Licenses  *license.Service
	Persons   *person.Service
	Allocator *seat.Allocator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		licenses:  p.Licenses,
		persons:   p.Persons,
		allocator: p.Allocator,
		companies: repository.ProvideStore[Company](p.DB),
	}
}

type CreateRequest struct {
	Name    string                `json:"name" binding:"required"`
	Slug    string                `json:"slug"`
	License license.CreateRequest `json:"license"`
}

type CreateResponse struct {
	Company *Company      `json:"company"`
	License *license.View `json:"license"`
}

// CreateCompany registers the company together with its license; neither exists without the other.
func (s *Service) CreateCompany(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	log := logger.FromContext(ctx)

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}
	if slugName == "" || !slug.IsSlug(slugName) {
		return nil, errutil.ValidationFailed("invalid company", nil,
			errutil.WithDetails(errutil.Detail{Field: "slug", Message: "must be a valid slug"}))
	}

	c := &Company{
		ID:   s.node.Generate().String(),
		Name: req.Name,
		Slug: slugName,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exist, err := s.companies.WithTrx(tx).FindOne(ctx, &Company{Slug: slugName})
		if err != nil {
			return err
		}
		if exist != nil {
			return errutil.Conflict(fmt.Sprintf("company %s already exists", slugName), nil)
		}

		if err := s.companies.WithTrx(tx).Create(ctx, c); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict(fmt.Sprintf("company %s already exists", slugName), nil)
			}
			return err
		}

		lreq := req.License
		lreq.CompanyID = c.ID
		_, err = s.licenses.CreateTx(ctx, tx, lreq)
		return err
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		log.Error("failed to create company", zap.String("slug", slugName), zap.Error(err))
		return nil, errutil.Internal("failed to create company", err)
	}

	log.Info("company created", zap.String("company_id", c.ID), zap.String("slug", c.Slug))

	view, err := s.licenses.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &CreateResponse{Company: c, License: view}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Company, error) {
	c, err := s.companies.FindOne(ctx, &Company{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query company", zap.String("company_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get company", err)
	}
	if c == nil {
		return nil, errutil.NotFound("company not found", nil)
	}
	return c, nil
}

// AddUser makes the drafted person a user of the company, within the license's user cap.
func (s *Service) AddUser(ctx context.Context, companyID string, d person.Draft) (*person.Person, error) {
	log := logger.FromContext(ctx).With(zap.String("company_id", companyID))

	if _, err := s.Get(ctx, companyID); err != nil {
		return nil, err
	}

	var out *person.Person
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.persons.ResolveTx(ctx, tx, d)
		if err != nil {
			return err
		}
		if p.CompanyID != nil {
			if *p.CompanyID == companyID {
				out = p
				return nil
			}
			return errutil.Conflict("person already belongs to another company", nil)
		}

		// the license row lock serialises concurrent user additions
		l, err := s.licenses.ForCompany(ctx, tx, companyID, true)
		if err != nil {
			return err
		}
		users, err := s.persons.CountUsers(ctx, tx, companyID)
		if err != nil {
			return err
		}
		decision := license.Evaluate(l, license.Action{Kind: license.AddUser, CompanyID: companyID, Current: users}, s.licenses.Now())
		if err := decision.Err(); err != nil {
			return err
		}

		if err := s.persons.Attach(ctx, tx, p, companyID); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		log.Error("failed to add user", zap.Error(err))
		return nil, errutil.Internal("failed to add user", err)
	}

	log.Info("user added", zap.String("person_id", out.ID))
	return out, nil
}

// Usage is a read-only projection of a company's consumption against its license.
type Usage struct {
	CompanyID         string                                  `json:"company_id"`
	License           *license.View                           `json:"license"`
	Users             int64                                   `json:"users"`
	ActiveEnrollments int64                                   `json:"active_enrollments"`
	EnrollmentsLeft   *int64                                  `json:"enrollments_left,omitempty"`
	UsersLeft         *int64                                  `json:"users_left,omitempty"`
	Decisions         map[license.ActionKind]license.Decision `json:"decisions"`
}

func (s *Service) Usage(ctx context.Context, companyID string) (*Usage, error) {
	view, err := s.licenses.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}

	users, err := s.persons.CountUsers(ctx, s.db, companyID)
	if err != nil {
		return nil, errutil.Internal("failed to count users", err)
	}
	active, err := s.allocator.CountLive(ctx, s.db, companyID, "")
	if err != nil {
		return nil, errutil.Internal("failed to count enrollments", err)
	}

	u := &Usage{
		CompanyID:         companyID,
		License:           view,
		Users:             users,
		ActiveEnrollments: active,
		EnrollmentsLeft:   remaining(view.MaxEnrollments, active),
		UsersLeft:         remaining(view.MaxUsers, users),
		Decisions:         make(map[license.ActionKind]license.Decision, 2),
	}

	now := s.licenses.Now()
	for kind, current := range map[license.ActionKind]int64{license.AddEnrollment: active, license.AddUser: users} {
		u.Decisions[kind] = license.Evaluate(view.License, license.Action{Kind: kind, CompanyID: companyID, Current: current}, now)
	}
	return u, nil
}

func remaining(limit *int64, used int64) *int64 {
	if limit == nil {
		return nil
	}
	left := *limit - used
	if left < 0 {
		left = 0
	}
	return &left
}
