package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-academy/pkg/celengine"
	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/db"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/repository"
	"smallbiznis-academy/pkg/sequence"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/person"
	"smallbiznis-academy/services/seat"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchLimit = 200

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	licenses   *license.Service
	allocator  *seat.Allocator
	persons    *person.Service
	rules      *celengine.Engine
	codes      sequence.Generator
	publisher  notification.Publisher
	retry      retryPolicy
	batchLimit int
	now        func() time.Time

	sessions    repository.Repository[seat.CourseSession]
	enrollments repository.Repository[seat.Enrollment]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config `optional:"true"`
	Licenses  *license.Service
	Allocator *seat.Allocator
	Persons   *person.Service
	Rules     *celengine.Engine
	Codes     sequence.Generator
	Publisher notification.Publisher
}

func NewService(p ServiceParams) *Service {
	limit := defaultBatchLimit
	if p.Config != nil && p.Config.Enrollment.BatchLimit > 0 {
		limit = p.Config.Enrollment.BatchLimit
	}
	return &Service{
		db:         p.DB,
		node:       p.Node,
		licenses:   p.Licenses,
		allocator:  p.Allocator,
		persons:    p.Persons,
		rules:      p.Rules,
		codes:      p.Codes,
		publisher:  p.Publisher,
		retry:      newRetryPolicy(p.Config),
		batchLimit: limit,
		now:        func() time.Time { return time.Now().UTC() },

		sessions:    repository.ProvideStore[seat.CourseSession](p.DB),
		enrollments: repository.ProvideStore[seat.Enrollment](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*seat.Enrollment, error) {
	e, err := s.enrollments.FindOne(ctx, &seat.Enrollment{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query enrollment", zap.String("enrollment_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get enrollment", err)
	}
	if e == nil {
		return nil, errutil.NotFound("enrollment not found", nil)
	}
	return e, nil
}

func (s *Service) resolve(ctx context.Context, req Request) (*person.Person, error) {
	switch {
	case req.PersonID != "":
		return s.persons.Get(ctx, req.PersonID)
	case req.Person != nil:
		return s.persons.Resolve(ctx, *req.Person)
	default:
		return nil, errutil.ValidationFailed("invalid enrollment", nil,
			errutil.WithDetails(errutil.Detail{Field: "person_id", Message: "person_id or person is required"}))
	}
}

// Enroll books p into the session, or places them on its waitlist. Denials come back
// as a REJECTED result; only infrastructure faults are errors.
func (s *Service) Enroll(ctx context.Context, sessionID string, req Request) (*Result, error) {
	p, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.enroll(ctx, sessionID, p, req.CompanyID)
}

func (s *Service) enroll(ctx context.Context, sessionID string, p *person.Person, companyID string) (*Result, error) {
	log := logger.FromContext(ctx).With(
		zap.String("session_id", sessionID),
		zap.String("person_id", p.ID),
	)

	code, err := s.codes.NextEnrollmentCode(ctx)
	if err != nil {
		log.Error("failed to generate enrollment code", zap.Error(err))
		return nil, errutil.Internal("failed to enroll", err)
	}

	var res *Result
	err = s.retry.run(ctx, func() error {
		var err error
		res, err = s.enrollOnce(ctx, sessionID, p, companyID, code)
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return nil, errutil.ClientClosedRequest("enrollment aborted", err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, errutil.Timeout("enrollment timed out", err)
	case db.IsWriteConflict(err):
		log.Warn("enrollment lost every attempt to concurrent writers", zap.Error(err))
		res = rejected(errutil.ReasonAllocationConflict, "session is busy, try again")
	case errutil.ReasonOf(err) != errutil.ReasonNone:
		res = rejected(errutil.ReasonOf(err), messageOf(err))
	default:
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		log.Error("failed to enroll", zap.Error(err))
		return nil, errutil.Internal("failed to enroll", err)
	}

	res.PersonID = p.ID
	attempts.WithLabelValues(string(res.Status), string(res.Reason)).Inc()

	if res.Status == Confirmed {
		ev := notification.Event{
			Type:         notification.EnrollmentConfirmed,
			SessionID:    sessionID,
			EnrollmentID: res.EnrollmentID,
			PersonID:     p.ID,
			CompanyID:    companyID,
		}
		s.publisher.Publish(ctx, ev)
	}

	log.Info("enrollment processed",
		zap.String("status", string(res.Status)),
		zap.String("reason", string(res.Reason)),
		zap.String("enrollment_id", res.EnrollmentID),
	)
	return res, nil
}

// enrollOnce is one attempt of the enrollment unit. Locks are taken license first, then session.
func (s *Service) enrollOnce(ctx context.Context, sessionID string, p *person.Person, companyID, code string) (*Result, error) {
	var res *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		cs, err := s.sessions.WithTrx(tx).FindOne(ctx, &seat.CourseSession{ID: sessionID})
		if err != nil {
			return err
		}
		if cs == nil {
			return errutil.NotFound("session not found", nil)
		}
		if !cs.Bookable(now) {
			return errutil.Rejected(errutil.ReasonSessionNotOpen,
				fmt.Sprintf("session %s is %s", cs.ID, cs.EffectiveStatus(now)))
		}

		if companyID != "" {
			if err := s.entitled(ctx, tx, companyID); err != nil {
				return err
			}
		}

		cs, err = s.allocator.LockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		existing, err := s.allocator.FindLive(ctx, tx, p.ID, cs.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errutil.Rejected(errutil.ReasonDuplicateEnrollment, "person is already enrolled in this session")
		}

		if err := s.eligible(cs, p, companyID); err != nil {
			return err
		}

		r, err := s.allocator.Reserve(ctx, tx, cs)
		if err != nil {
			return err
		}

		e := &seat.Enrollment{
			ID:        s.node.Generate().String(),
			Code:      code,
			PersonID:  p.ID,
			SessionID: cs.ID,
			Status:    seat.EnrollmentPending,
		}
		if companyID != "" {
			e.CompanyID = &companyID
		}
		if r.Confirmed {
			to, err := seat.EnrollmentLifecycle.Next(e.Status, seat.EnrollmentConfirm)
			if err != nil {
				return err
			}
			e.Status = to
			e.ConfirmedAt = &now
		} else {
			pos := r.Position
			e.IsWaitlisted = true
			e.WaitlistPosition = &pos
		}

		if err := tx.Create(e).Error; err != nil {
			if db.IsDuplicateKey(err) {
				return errutil.Rejected(errutil.ReasonDuplicateEnrollment, "person is already enrolled in this session")
			}
			return err
		}

		res = &Result{
			Status:       Confirmed,
			EnrollmentID: e.ID,
			Code:         e.Code,
		}
		if !r.Confirmed {
			res.Status = Waitlisted
			res.WaitlistPosition = e.WaitlistPosition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// entitled locks the company's license and evaluates one more enrollment against it.
func (s *Service) entitled(ctx context.Context, tx *gorm.DB, companyID string) error {
	l, err := s.licenses.ForCompany(ctx, tx, companyID, true)
	if err != nil {
		return err
	}

	current, err := s.allocator.CountLive(ctx, tx, companyID, "")
	if err != nil {
		return err
	}

	return license.Evaluate(l, license.Action{
		Kind:      license.AddEnrollment,
		CompanyID: companyID,
		Current:   current,
	}, s.licenses.Now()).Err()
}

func (s *Service) eligible(cs *seat.CourseSession, p *person.Person, companyID string) error {
	if cs.Eligibility == "" {
		return nil
	}

	ok, err := s.rules.Evaluate(cs.Eligibility, map[string]any{
		"person_id":       p.ID,
		"email":           p.Email,
		"company_id":      companyID,
		"has_company":     companyID != "",
		"session_id":      cs.ID,
		"capacity":        int64(cs.Capacity),
		"confirmed_count": int64(cs.ConfirmedCount),
	})
	if err != nil {
		return errutil.Rejected(errutil.ReasonNotEligible, "eligibility rule could not be evaluated", errutil.WithErr(err))
	}
	if !ok {
		return errutil.Rejected(errutil.ReasonNotEligible, "person does not meet the session eligibility rule")
	}
	return nil
}

// Cancel cancels an enrollment. A released seat goes to the head of the waitlist.
func (s *Service) Cancel(ctx context.Context, enrollmentID string) (*CancelResult, error) {
	log := logger.FromContext(ctx).With(zap.String("enrollment_id", enrollmentID))

	var (
		out      = &CancelResult{}
		promoted []*seat.Enrollment
	)
	err := s.retry.run(ctx, func() error {
		promoted = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := s.enrollments.WithTrx(tx)

			e, err := repo.FindOne(ctx, &seat.Enrollment{ID: enrollmentID})
			if err != nil {
				return err
			}
			if e == nil {
				return errutil.NotFound("enrollment not found", nil)
			}

			cs, err := s.allocator.LockSession(ctx, tx, e.SessionID)
			if err != nil {
				return err
			}

			// re-read under the session lock
			e, err = repo.FindOne(ctx, &seat.Enrollment{ID: enrollmentID})
			if err != nil {
				return err
			}

			to, err := seat.EnrollmentLifecycle.Next(e.Status, seat.EnrollmentCancel)
			if err != nil {
				return err
			}

			released := *e
			now := s.now()
			e.Status = to
			e.IsWaitlisted = false
			e.WaitlistPosition = nil
			e.CancelledAt = &now
			if err := tx.Save(e).Error; err != nil {
				return err
			}

			promoted, err = s.allocator.Release(ctx, tx, cs, released)
			if err != nil {
				return err
			}

			out.Released = released.Status == seat.EnrollmentConfirmed
			return nil
		})
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		if db.IsWriteConflict(err) {
			return nil, errutil.Rejected(errutil.ReasonAllocationConflict, "session is busy, try again", errutil.WithErr(err))
		}
		log.Error("failed to cancel enrollment", zap.Error(err))
		return nil, errutil.Internal("failed to cancel enrollment", err)
	}

	if len(promoted) > 0 {
		out.Promoted = &promoted[0].ID
		s.publisher.Publish(ctx, seat.PromotionEvents(promoted)...)
	}

	log.Info("enrollment cancelled", zap.Bool("released", out.Released), zap.Int("promoted", len(promoted)))
	return out, nil
}

// EnrollBatch enrolls each person in input order, one independent unit per person.
func (s *Service) EnrollBatch(ctx context.Context, sessionID string, req BatchRequest) (*BatchResult, error) {
	log := logger.FromContext(ctx).With(zap.String("session_id", sessionID))

	if len(req.Persons) == 0 {
		return nil, errutil.ValidationFailed("invalid batch", nil,
			errutil.WithDetails(errutil.Detail{Field: "persons", Message: "must not be empty"}))
	}
	if len(req.Persons) > s.batchLimit {
		return nil, errutil.ValidationFailed("invalid batch", nil,
			errutil.WithDetails(errutil.Detail{Field: "persons", Message: fmt.Sprintf("must hold at most %d entries", s.batchLimit)}))
	}

	out := &BatchResult{Results: make([]*Result, 0, len(req.Persons))}
	for i, d := range req.Persons {
		if err := ctx.Err(); err != nil {
			return nil, errutil.ClientClosedRequest("batch enrollment aborted", err)
		}

		res, err := s.enrollDraft(ctx, sessionID, d, req.CompanyID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			log.Warn("batch participant failed", zap.Int("index", i), zap.String("email", d.Email), zap.Error(err))
			res = rejected(errutil.ReasonOf(err), messageOf(err))
		}
		out.add(res)
	}

	log.Info("batch enrollment processed",
		zap.Int("confirmed", out.Confirmed),
		zap.Int("waitlisted", out.Waitlisted),
		zap.Int("rejected", out.Rejected),
	)
	return out, nil
}

func (s *Service) enrollDraft(ctx context.Context, sessionID string, d person.Draft, companyID string) (*Result, error) {
	p, err := s.persons.Resolve(ctx, d)
	if err != nil {
		return nil, err
	}
	return s.enroll(ctx, sessionID, p, companyID)
}

func messageOf(err error) string {
	var be errutil.BaseError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
