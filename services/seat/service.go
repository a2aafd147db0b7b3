package seat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-academy/pkg/celengine"
	"smallbiznis-academy/pkg/db/option"
	"smallbiznis-academy/pkg/db/pagination"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/repository"
	"smallbiznis-academy/pkg/sequence"
	"smallbiznis-academy/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	allocator *Allocator
	rules     *celengine.Engine
	codes     sequence.Generator
	publisher notification.Publisher
	now       func() time.Time

	sessions    repository.Repository[CourseSession]
	enrollments repository.Repository[Enrollment]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Allocator *Allocator
	Rules     *celengine.Engine
	Codes     sequence.Generator
	Publisher notification.Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		allocator: p.Allocator,
		rules:     p.Rules,
		codes:     p.Codes,
		publisher: p.Publisher,
		now:       func() time.Time { return time.Now().UTC() },

		sessions:    repository.ProvideStore[CourseSession](p.DB),
		enrollments: repository.ProvideStore[Enrollment](p.DB),
	}
}

type CreateSessionRequest struct {
	Title       string    `json:"title" binding:"required"`
	Capacity    int       `json:"capacity" binding:"required"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
	Eligibility string    `json:"eligibility"`
	Publish     bool      `json:"publish"`
}

type RepeatSessionsRequest struct {
	Session   CreateSessionRequest `json:"session" binding:"required"`
	Count     int                  `json:"count" binding:"required"`
	EveryDays int                  `json:"every_days" binding:"required"`
}

func (s *Service) validateSession(req CreateSessionRequest) error {
	var details []errutil.Detail
	if req.Title == "" {
		details = append(details, errutil.Detail{Field: "title", Message: "is required"})
	}
	if req.Capacity <= 0 {
		details = append(details, errutil.Detail{Field: "capacity", Message: "must be greater than zero"})
	}
	if req.EndsAt.Before(req.StartsAt) {
		details = append(details, errutil.Detail{Field: "ends_at", Message: "must not be before starts_at"})
	}
	if req.Eligibility != "" {
		if err := s.rules.Validate(req.Eligibility); err != nil {
			details = append(details, errutil.Detail{Field: "eligibility", Message: err.Error()})
		}
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid session", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CourseSession, error) {
	sessions, err := s.createSessions(ctx, []CreateSessionRequest{req})
	if err != nil {
		return nil, err
	}
	return sessions[0], nil
}

// RepeatSessions creates Count copies of a session, EveryDays apart, all or none.
func (s *Service) RepeatSessions(ctx context.Context, req RepeatSessionsRequest) ([]*CourseSession, error) {
	if req.Count <= 0 || req.Count > 52 {
		return nil, errutil.BadRequest("count must be between 1 and 52", nil)
	}
	if req.EveryDays <= 0 {
		return nil, errutil.BadRequest("every_days must be greater than zero", nil)
	}

	reqs := make([]CreateSessionRequest, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		r := req.Session
		r.StartsAt = req.Session.StartsAt.AddDate(0, 0, i*req.EveryDays)
		r.EndsAt = req.Session.EndsAt.AddDate(0, 0, i*req.EveryDays)
		reqs = append(reqs, r)
	}
	return s.createSessions(ctx, reqs)
}

func (s *Service) createSessions(ctx context.Context, reqs []CreateSessionRequest) ([]*CourseSession, error) {
	log := logger.FromContext(ctx)

	sessions := make([]*CourseSession, 0, len(reqs))
	for _, req := range reqs {
		if err := s.validateSession(req); err != nil {
			return nil, err
		}

		code, err := s.codes.NextSessionCode(ctx)
		if err != nil {
			log.Error("failed to generate session code", zap.Error(err))
			return nil, errutil.Internal("failed to create session", err)
		}

		status := SessionDraft
		if req.Publish {
			status = SessionOpen
		}

		sessions = append(sessions, &CourseSession{
			ID:          s.node.Generate().String(),
			Code:        code,
			Title:       req.Title,
			Capacity:    req.Capacity,
			Status:      status,
			StartsAt:    req.StartsAt.UTC(),
			EndsAt:      req.EndsAt.UTC(),
			Eligibility: req.Eligibility,
		})
	}

	if err := s.sessions.BatchCreate(ctx, sessions); err != nil {
		log.Error("failed to create sessions", zap.Error(err))
		return nil, errutil.Internal("failed to create session", err)
	}

	for _, cs := range sessions {
		log.Info("session created", zap.String("session_id", cs.ID), zap.String("code", cs.Code), zap.Int("capacity", cs.Capacity))
	}
	return sessions, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*CourseSession, error) {
	cs, err := s.sessions.FindOne(ctx, &CourseSession{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query session", zap.String("session_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get session", err)
	}
	if cs == nil {
		return nil, errutil.NotFound("session not found", nil)
	}
	return cs, nil
}

// Publish opens a draft session for booking.
func (s *Service) Publish(ctx context.Context, id string) (*CourseSession, error) {
	var out *CourseSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cs, err := s.allocator.LockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if cs.EffectiveStatus(s.now()) != SessionDraft {
			return errutil.Rejected(errutil.ReasonInvalidTransition,
				fmt.Sprintf("session cannot %s from %s", SessionPublish, cs.EffectiveStatus(s.now())))
		}

		to, err := SessionLifecycle.Next(cs.Status, SessionPublish)
		if err != nil {
			return err
		}
		cs.Status = to
		settle(cs)

		if err := tx.Save(cs).Error; err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, wrapInternal(ctx, "failed to publish session", err)
	}
	return out, nil
}

// CancelSession cancels the session and every live enrollment in it. Nobody is promoted.
func (s *Service) CancelSession(ctx context.Context, id string) (*CourseSession, int64, error) {
	var (
		out       *CourseSession
		cancelled int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cs, err := s.allocator.LockSession(ctx, tx, id)
		if err != nil {
			return err
		}

		to, err := SessionLifecycle.Next(cs.Status, SessionCancel)
		if err != nil {
			return err
		}

		now := s.now()
		cancelled, err = s.cancelLive(ctx, tx, cs.ID, true, now)
		if err != nil {
			return err
		}

		cs.Status = to
		cs.CancelledAt = &now
		cs.ConfirmedCount = 0
		cs.WaitlistCount = 0
		if err := tx.Save(cs).Error; err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, 0, wrapInternal(ctx, "failed to cancel session", err)
	}

	logger.FromContext(ctx).Info("session cancelled", zap.String("session_id", id), zap.Int64("enrollments_cancelled", cancelled))
	return out, cancelled, nil
}

// cancelLive cancels pending enrollments of a session, and confirmed ones too when withSeats is set.
func (s *Service) cancelLive(ctx context.Context, tx *gorm.DB, sessionID string, withSeats bool, now time.Time) (int64, error) {
	statuses := []EnrollmentStatus{EnrollmentPending}
	if withSeats {
		statuses = LiveEnrollmentStatuses
	}

	res := tx.WithContext(ctx).Model(&Enrollment{}).
		Where("session_id = ? AND status IN ?", sessionID, statuses).
		Updates(map[string]any{
			"status":            EnrollmentCancelled,
			"is_waitlisted":     false,
			"waitlist_position": nil,
			"cancelled_at":      now,
		})
	return res.RowsAffected, res.Error
}

// Resize changes the session capacity and publishes any promotions it caused.
func (s *Service) Resize(ctx context.Context, id string, capacity int) (*CourseSession, []*Enrollment, error) {
	var (
		out      *CourseSession
		promoted []*Enrollment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cs, err := s.allocator.LockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		promoted, err = s.allocator.Resize(ctx, tx, cs, capacity)
		if err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, nil, wrapInternal(ctx, "failed to resize session", err)
	}

	if len(promoted) > 0 {
		s.publisher.Publish(ctx, PromotionEvents(promoted)...)
	}
	logger.FromContext(ctx).Info("session resized",
		zap.String("session_id", id),
		zap.Int("capacity", capacity),
		zap.Int("promoted", len(promoted)),
	)
	return out, promoted, nil
}

type RosterRequest struct {
	Status EnrollmentStatus
	pagination.Pagination
}

// Roster pages through the enrollments of a session in booking order.
func (s *Service) Roster(ctx context.Context, sessionID string, req RosterRequest) ([]*Enrollment, *pagination.PageInfo, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}

	conds := []option.Condition{{Field: "session_id", Operator: option.EQ, Value: sessionID}}
	if req.Status != "" {
		conds = append(conds, option.Condition{Field: "status", Operator: option.EQ, Value: req.Status})
	}

	rows, err := s.enrollments.Find(ctx, nil, option.ApplyOperator(conds...), option.ApplyPagination(req.Pagination))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list roster", zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil, errutil.Internal("failed to list enrollments", err)
	}

	page, info := pagination.BuildCursorPageInfo(rows, req.Limit, func(e *Enrollment) string {
		return pagination.CursorOf(e.CreatedAt, e.ID)
	})
	return page, info, nil
}

func (s *Service) Waitlist(ctx context.Context, sessionID string) ([]*Enrollment, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.allocator.Waitlist(ctx, s.db, sessionID)
}

// ListStartedSessions returns sessions still taking seats although they have started.
func (s *Service) ListStartedSessions(ctx context.Context, now time.Time) ([]*CourseSession, error) {
	return s.sessions.Find(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "status", Operator: option.IN, Value: []SessionStatus{SessionDraft, SessionOpen, SessionFull}},
			option.Condition{Field: "starts_at", Operator: option.LT, Value: now},
		),
		option.WithSortBy(option.QuerySortBy{SortBy: "starts_at", OrderBy: "asc", Allow: map[string]bool{"starts_at": true}}),
	)
}

// CloseIfStarted durably applies the time correction to a started session: OPEN/FULL
// become COMPLETED, DRAFT becomes CANCELLED. Waiting enrollments are cancelled, seats are kept.
// It reports the new status, or "" when there was nothing to do.
func (s *Service) CloseIfStarted(ctx context.Context, id string, now time.Time) (SessionStatus, error) {
	var closed SessionStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cs, err := s.allocator.LockSession(ctx, tx, id)
		if err != nil {
			return err
		}

		target := cs.EffectiveStatus(now)
		if target == cs.Status {
			return nil
		}

		event := SessionComplete
		if target == SessionCancelled {
			event = SessionCancel
		}
		to, err := SessionLifecycle.Next(cs.Status, event)
		if err != nil {
			return err
		}

		withSeats := to == SessionCancelled
		if _, err := s.cancelLive(ctx, tx, cs.ID, withSeats, now); err != nil {
			return err
		}

		cs.Status = to
		cs.WaitlistCount = 0
		if to == SessionCancelled {
			cs.ConfirmedCount = 0
			cs.CancelledAt = &now
		} else {
			cs.CompletedAt = &now
		}
		if err := tx.Save(cs).Error; err != nil {
			return err
		}
		closed = to
		return nil
	})
	return closed, err
}

// CompleteFinishedEnrollments marks CONFIRMED enrollments of ended sessions COMPLETED.
func (s *Service) CompleteFinishedEnrollments(ctx context.Context, now time.Time) (int64, error) {
	ended := s.db.Model(&CourseSession{}).Select("id").Where("ends_at < ?", now)

	res := s.db.WithContext(ctx).Model(&Enrollment{}).
		Where("status = ? AND session_id IN (?)", EnrollmentConfirmed, ended).
		Updates(map[string]any{
			"status":       EnrollmentCompleted,
			"completed_at": now,
		})
	return res.RowsAffected, res.Error
}

// wrapInternal passes business errors through and hides the rest behind msg.
func wrapInternal(ctx context.Context, msg string, err error) error {
	var be errutil.BaseError
	if errors.As(err, &be) {
		return err
	}
	logger.FromContext(ctx).Error(msg, zap.Error(err))
	return errutil.Internal(msg, err)
}
