package license

import (
	"context"
	"encoding/json"
	"time"

	"smallbiznis-academy/pkg/db/option"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/repository"
	"smallbiznis-academy/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var EventCreate Event = "create"

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	publisher notification.Publisher
	now       func() time.Time

	licenses repository.Repository[License]
	events   repository.Repository[LicenseEvent]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Publisher notification.Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		publisher: p.Publisher,
		now:       func() time.Time { return time.Now().UTC() },

		licenses: repository.ProvideStore[License](p.DB),
		events:   repository.ProvideStore[LicenseEvent](p.DB),
	}
}

// Now is the clock every entitlement decision is made against.
func (s *Service) Now() time.Time {
	return s.now()
}

type CreateRequest struct {
	CompanyID       string    `json:"company_id"`
	Status          Status    `json:"status"`
	StartDate       time.Time `json:"start_date" binding:"required"`
	EndDate         time.Time `json:"end_date" binding:"required"`
	GracePeriodDays int       `json:"grace_period_days"`
	MaxUsers        *int64    `json:"max_users"`
	MaxEnrollments  *int64    `json:"max_enrollments"`
}

type UpdateRequest struct {
	StartDate           *time.Time `json:"start_date"`
	EndDate             *time.Time `json:"end_date"`
	GracePeriodDays     *int       `json:"grace_period_days"`
	MaxUsers            *int64     `json:"max_users"`
	MaxEnrollments      *int64     `json:"max_enrollments"`
	ClearMaxUsers       bool       `json:"clear_max_users"`
	ClearMaxEnrollments bool       `json:"clear_max_enrollments"`
}

// View is a license as seen by callers, with read-time expiry applied.
type View struct {
	*License
	EffectiveStatus Status    `json:"effective_status"`
	GraceEndsAt     time.Time `json:"grace_ends_at"`

	// Transitions are the events the stored status accepts.
	Transitions []Event `json:"transitions"`
}

func (s *Service) view(l *License) *View {
	return &View{
		License:         l,
		EffectiveStatus: EffectiveStatus(l, s.now()),
		GraceEndsAt:     l.GraceEndsAt(),
		Transitions:     Lifecycle.Events(l.Status),
	}
}

func validateTerms(l *License) error {
	var details []errutil.Detail
	if l.EndDate.Before(l.StartDate) {
		details = append(details, errutil.Detail{Field: "end_date", Message: "must not be before start_date"})
	}
	if l.GracePeriodDays < 0 {
		details = append(details, errutil.Detail{Field: "grace_period_days", Message: "must be >= 0"})
	}
	if l.MaxUsers != nil && *l.MaxUsers < 0 {
		details = append(details, errutil.Detail{Field: "max_users", Message: "must be >= 0"})
	}
	if l.MaxEnrollments != nil && *l.MaxEnrollments < 0 {
		details = append(details, errutil.Detail{Field: "max_enrollments", Message: "must be >= 0"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid license terms", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*View, error) {
	var created *License
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.CreateTx(ctx, tx, req)
		created = l
		return err
	}); err != nil {
		return nil, err
	}
	return s.view(created), nil
}

// CreateTx creates the license inside a caller owned transaction.
func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, req CreateRequest) (*License, error) {
	log := logger.FromContext(ctx).With(zap.String("company_id", req.CompanyID))

	if req.CompanyID == "" {
		return nil, errutil.BadRequest("company_id is required", nil)
	}

	status := req.Status
	if status == "" {
		status = Trial
	}
	if status != Trial && status != Active {
		return nil, errutil.BadRequest("a license starts as TRIAL or ACTIVE", nil)
	}

	l := &License{
		ID:              s.node.Generate().String(),
		CompanyID:       req.CompanyID,
		Status:          status,
		StartDate:       req.StartDate.UTC(),
		EndDate:         req.EndDate.UTC(),
		GracePeriodDays: req.GracePeriodDays,
		MaxUsers:        req.MaxUsers,
		MaxEnrollments:  req.MaxEnrollments,
	}
	if err := validateTerms(l); err != nil {
		return nil, err
	}

	exist, err := s.licenses.WithTrx(tx).FindOne(ctx, &License{CompanyID: req.CompanyID})
	if err != nil {
		log.Error("failed to query license", zap.Error(err))
		return nil, errutil.Internal("failed to create license", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("company already has a license", nil)
	}

	if err := s.licenses.WithTrx(tx).Create(ctx, l); err != nil {
		log.Error("failed to create license", zap.Error(err))
		return nil, errutil.Internal("failed to create license", err)
	}

	if err := s.recordEvent(ctx, tx, l, EventCreate, "", l.Status, nil); err != nil {
		return nil, err
	}

	log.Info("license created", zap.String("license_id", l.ID), zap.String("status", l.Status.String()))
	return l, nil
}

func (s *Service) Get(ctx context.Context, companyID string) (*View, error) {
	l, err := s.licenses.FindOne(ctx, &License{CompanyID: companyID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query license", zap.String("company_id", companyID), zap.Error(err))
		return nil, errutil.Internal("failed to get license", err)
	}
	if l == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return s.view(l), nil
}

func (s *Service) Events(ctx context.Context, companyID string) ([]*LicenseEvent, error) {
	// snowflake ids sort in creation order
	return s.events.Find(ctx, &LicenseEvent{CompanyID: companyID}, option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}))
}

// ForCompany loads a company's license inside tx, optionally taking the row lock.
// Returns nil, nil when the company has no license.
func (s *Service) ForCompany(ctx context.Context, tx *gorm.DB, companyID string, lock bool) (*License, error) {
	var opts []option.QueryOption
	if lock {
		opts = append(opts, option.WithLockingUpdate())
	}
	return s.licenses.WithTrx(tx).FindOne(ctx, &License{CompanyID: companyID}, opts...)
}

// Check loads the license of action.CompanyID and evaluates the action against it.
func (s *Service) Check(ctx context.Context, tx *gorm.DB, action Action, lock bool) (Decision, error) {
	l, err := s.ForCompany(ctx, tx, action.CompanyID, lock)
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(l, action, s.now()), nil
}

func (s *Service) Update(ctx context.Context, companyID string, req UpdateRequest) (*View, error) {
	l, err := s.transition(ctx, companyID, EventUpdate, func(l *License, _ time.Time) error {
		if req.StartDate != nil {
			l.StartDate = req.StartDate.UTC()
		}
		if req.EndDate != nil {
			l.EndDate = req.EndDate.UTC()
		}
		if req.GracePeriodDays != nil {
			l.GracePeriodDays = *req.GracePeriodDays
		}
		if req.ClearMaxUsers {
			l.MaxUsers = nil
		} else if req.MaxUsers != nil {
			l.MaxUsers = req.MaxUsers
		}
		if req.ClearMaxEnrollments {
			l.MaxEnrollments = nil
		} else if req.MaxEnrollments != nil {
			l.MaxEnrollments = req.MaxEnrollments
		}
		return validateTerms(l)
	}, nil)
	if err != nil {
		return nil, err
	}
	return s.view(l), nil
}

func (s *Service) Activate(ctx context.Context, companyID string) (*View, error) {
	l, err := s.transition(ctx, companyID, EventActivate, nil, nil)
	if err != nil {
		return nil, err
	}
	return s.view(l), nil
}

func (s *Service) Suspend(ctx context.Context, companyID, reason string) (*View, error) {
	if reason == "" {
		return nil, errutil.BadRequest("a suspension reason is required", nil)
	}

	l, err := s.transition(ctx, companyID, EventSuspend, func(l *License, now time.Time) error {
		l.SuspendedReason = &reason
		l.SuspendedAt = &now
		return nil
	}, map[string]any{"reason": reason})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, notification.Event{
		Type:      notification.LicenseSuspended,
		CompanyID: companyID,
		Reason:    reason,
	})

	return s.view(l), nil
}

// Resume reactivates a suspended or expired license, extending its end date by extendDays.
func (s *Service) Resume(ctx context.Context, companyID string, extendDays *int) (*View, error) {
	if extendDays != nil && *extendDays < 0 {
		return nil, errutil.BadRequest("extend_days must be >= 0", nil)
	}

	var meta map[string]any
	if extendDays != nil {
		meta = map[string]any{"extend_days": *extendDays}
	}

	l, err := s.transition(ctx, companyID, EventResume, func(l *License, _ time.Time) error {
		if extendDays != nil {
			l.EndDate = l.EndDate.AddDate(0, 0, *extendDays)
		}
		l.SuspendedReason = nil
		l.SuspendedAt = nil
		l.ExpiredAt = nil
		return nil
	}, meta)
	if err != nil {
		return nil, err
	}
	return s.view(l), nil
}

func (s *Service) Cancel(ctx context.Context, companyID string) (*View, error) {
	l, err := s.transition(ctx, companyID, EventCancel, func(l *License, now time.Time) error {
		l.CancelledAt = &now
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return s.view(l), nil
}

// transition validates event against the effective status of the locked license
// and persists the mutation together with its audit event.
func (s *Service) transition(ctx context.Context, companyID string, event Event, mutate func(*License, time.Time) error, meta map[string]any) (*License, error) {
	log := logger.FromContext(ctx).With(zap.String("company_id", companyID), zap.String("event", string(event)))

	var out *License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.ForCompany(ctx, tx, companyID, true)
		if err != nil {
			log.Error("failed to load license", zap.Error(err))
			return errutil.Internal("failed to load license", err)
		}
		if l == nil {
			return errutil.NotFound("license not found", nil)
		}

		now := s.now()
		from := EffectiveStatus(l, now)
		to, err := Lifecycle.Next(from, event)
		if err != nil {
			return err
		}

		// term updates never move the stored status, a new end date may revive it
		if event == EventUpdate {
			from, to = l.Status, l.Status
		}

		l.Status = to
		if to == Expired && l.ExpiredAt == nil {
			l.ExpiredAt = &now
		}
		if mutate != nil {
			if err := mutate(l, now); err != nil {
				return err
			}
		}

		if err := tx.Save(l).Error; err != nil {
			log.Error("failed to save license", zap.Error(err))
			return errutil.Internal("failed to save license", err)
		}

		if err := s.recordEvent(ctx, tx, l, event, from, to, meta); err != nil {
			return err
		}

		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("license transitioned", zap.String("status", out.Status.String()))
	return out, nil
}

// ListExpiryCandidates returns TRIAL/ACTIVE licenses whose grace period has passed.
func (s *Service) ListExpiryCandidates(ctx context.Context, now time.Time) ([]*License, error) {
	rows, err := s.licenses.Find(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "status", Operator: option.IN, Value: []Status{Trial, Active}},
			option.Condition{Field: "end_date", Operator: option.LT, Value: now},
		),
		option.WithSortBy(option.QuerySortBy{SortBy: "end_date", OrderBy: "asc", Allow: map[string]bool{"end_date": true}}),
	)
	if err != nil {
		return nil, err
	}

	due := rows[:0]
	for _, l := range rows {
		if EffectiveStatus(l, now) == Expired {
			due = append(due, l)
		}
	}
	return due, nil
}

// ExpireIfDue durably moves a lapsed TRIAL/ACTIVE license to EXPIRED.
// It reports false when there was nothing to do, so repeated sweeps are no-ops.
func (s *Service) ExpireIfDue(ctx context.Context, licenseID string, now time.Time) (bool, error) {
	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.licenses.WithTrx(tx).FindOne(ctx, &License{ID: licenseID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if l == nil || EffectiveStatus(l, now) != Expired || !Lifecycle.Can(l.Status, EventExpire) {
			return nil
		}

		from := l.Status
		to, err := Lifecycle.Next(from, EventExpire)
		if err != nil {
			return err
		}

		l.Status = to
		l.ExpiredAt = &now
		if err := tx.Save(l).Error; err != nil {
			return err
		}

		expired = true
		return s.recordEvent(ctx, tx, l, EventExpire, from, to, map[string]any{"grace_ends_at": l.GraceEndsAt()})
	})
	return expired, err
}

func (s *Service) recordEvent(ctx context.Context, tx *gorm.DB, l *License, event Event, from, to Status, meta map[string]any) error {
	ev := &LicenseEvent{
		ID:         s.node.Generate().String(),
		LicenseID:  l.ID,
		CompanyID:  l.CompanyID,
		Event:      event,
		FromStatus: from,
		ToStatus:   to,
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return errutil.Internal("failed to encode license event", err)
		}
		ev.Metadata = datatypes.JSON(b)
	}

	if err := s.events.WithTrx(tx).Create(ctx, ev); err != nil {
		logger.FromContext(ctx).Error("failed to record license event", zap.String("license_id", l.ID), zap.Error(err))
		return errutil.Internal("failed to record license event", err)
	}
	return nil
}
