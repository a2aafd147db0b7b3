package seat

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-academy/pkg/db/option"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/featureflags"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/repository"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entitlements is the license gate consulted when a waitlisted company enrollment is promoted.
type Entitlements interface {
	Check(ctx context.Context, tx *gorm.DB, action license.Action, lock bool) (license.Decision, error)
}

// Allocator mutates the seat ledger of a session. Every method runs inside the caller's
// transaction and expects the session row to be locked through LockSession.
type Allocator struct {
	entitlements Entitlements
	flags        featureflags.FeatureFlag
	now          func() time.Time

	sessions    repository.Repository[CourseSession]
	enrollments repository.Repository[Enrollment]
}

type AllocatorParams struct {
	fx.In
	DB           *gorm.DB
	Entitlements Entitlements
	Flags        featureflags.FeatureFlag `optional:"true"`
}

func NewAllocator(p AllocatorParams) *Allocator {
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &Allocator{
		entitlements: p.Entitlements,
		flags:        flags,
		now:          func() time.Time { return time.Now().UTC() },

		sessions:    repository.ProvideStore[CourseSession](p.DB),
		enrollments: repository.ProvideStore[Enrollment](p.DB),
	}
}

// Reservation is the outcome of Reserve: a seat, or a place at the tail of the waitlist.
type Reservation struct {
	Confirmed bool
	Position  int
}

// LockSession loads the session holding its row lock until tx ends.
func (a *Allocator) LockSession(ctx context.Context, tx *gorm.DB, sessionID string) (*CourseSession, error) {
	s, err := a.sessions.WithTrx(tx).FindOne(ctx, &CourseSession{ID: sessionID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errutil.NotFound("session not found", nil)
	}
	return s, nil
}

// Reserve takes a seat when one is free, otherwise appends to the waitlist.
func (a *Allocator) Reserve(ctx context.Context, tx *gorm.DB, s *CourseSession) (Reservation, error) {
	if !s.Bookable(a.now()) {
		return Reservation{}, errutil.Rejected(errutil.ReasonSessionNotOpen,
			fmt.Sprintf("session %s is %s", s.ID, s.EffectiveStatus(a.now())))
	}

	var r Reservation
	if s.ConfirmedCount < s.Capacity {
		s.ConfirmedCount++
		r.Confirmed = true
	} else {
		s.WaitlistCount++
		r.Position = s.WaitlistCount
	}
	settle(s)

	if err := tx.WithContext(ctx).Save(s).Error; err != nil {
		return Reservation{}, err
	}

	if r.Confirmed {
		reservations.WithLabelValues("confirmed").Inc()
	} else {
		reservations.WithLabelValues("waitlisted").Inc()
	}
	return r, nil
}

// Release returns what released held in s. released is the enrollment as it was before it
// was cancelled; its row must already be cancelled in tx. A freed seat is offered to the
// waitlist, a freed waitlist place closes up the queue. Sessions that have started or
// closed accept no release.
func (a *Allocator) Release(ctx context.Context, tx *gorm.DB, s *CourseSession, released Enrollment) ([]*Enrollment, error) {
	if !s.Bookable(a.now()) {
		return nil, errutil.Rejected(errutil.ReasonSessionNotOpen,
			fmt.Sprintf("session %s is %s", s.ID, s.EffectiveStatus(a.now())))
	}

	switch {
	case released.Status == EnrollmentConfirmed:
		if s.ConfirmedCount > 0 {
			s.ConfirmedCount--
		}
		return a.promote(ctx, tx, s)
	case released.IsWaitlisted:
		queue, err := a.Waitlist(ctx, tx, s.ID)
		if err != nil {
			return nil, err
		}
		if err := a.renumber(ctx, tx, queue); err != nil {
			return nil, err
		}
		s.WaitlistCount = len(queue)
		return nil, tx.WithContext(ctx).Save(s).Error
	}
	return nil, nil
}

// Resize changes the capacity of s. Shrinking below the confirmed seats is refused
// rather than cancelling anyone; growing promotes from the waitlist head.
func (a *Allocator) Resize(ctx context.Context, tx *gorm.DB, s *CourseSession, capacity int) ([]*Enrollment, error) {
	if capacity <= 0 {
		return nil, errutil.BadRequest("capacity must be greater than zero", nil)
	}
	if !s.Bookable(a.now()) {
		return nil, errutil.Rejected(errutil.ReasonSessionNotOpen,
			fmt.Sprintf("session %s is %s", s.ID, s.EffectiveStatus(a.now())))
	}
	if capacity < s.ConfirmedCount {
		return nil, errutil.Rejected(errutil.ReasonCapacityBelowConfirmed,
			fmt.Sprintf("session %s has %d confirmed seats", s.ID, s.ConfirmedCount))
	}

	s.Capacity = capacity
	return a.promote(ctx, tx, s)
}

// Waitlist returns the waitlisted enrollments of a session in promotion order.
func (a *Allocator) Waitlist(ctx context.Context, tx *gorm.DB, sessionID string) ([]*Enrollment, error) {
	return a.enrollments.WithTrx(tx).Find(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "session_id", Operator: option.EQ, Value: sessionID},
			option.Condition{Field: "is_waitlisted", Operator: option.EQ, Value: true},
			option.Condition{Field: "status", Operator: option.EQ, Value: EnrollmentPending},
		),
		option.WithSortBy(option.QuerySortBy{SortBy: "waitlist_position", OrderBy: "asc", Allow: map[string]bool{"waitlist_position": true}}),
	)
}

// CountLive counts a company's pending and confirmed enrollments, leaving out excludeID.
func (a *Allocator) CountLive(ctx context.Context, tx *gorm.DB, companyID, excludeID string) (int64, error) {
	var n int64
	q := tx.WithContext(ctx).Model(&Enrollment{}).
		Where("company_id = ? AND status IN ?", companyID, LiveEnrollmentStatuses)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// FindLive returns the live enrollment of a person in a session, if any.
func (a *Allocator) FindLive(ctx context.Context, tx *gorm.DB, personID, sessionID string) (*Enrollment, error) {
	return a.enrollments.WithTrx(tx).FindOne(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "person_id", Operator: option.EQ, Value: personID},
			option.Condition{Field: "session_id", Operator: option.EQ, Value: sessionID},
			option.Condition{Field: "status", Operator: option.IN, Value: LiveEnrollmentStatuses},
		),
	)
}

// promote fills free seats from the waitlist in position order. A company enrollment whose
// license no longer allows it keeps its place and the next candidate is tried.
func (a *Allocator) promote(ctx context.Context, tx *gorm.DB, s *CourseSession) ([]*Enrollment, error) {
	log := logger.FromContext(ctx).With(zap.String("session_id", s.ID))

	var promoted []*Enrollment
	if s.ConfirmedCount < s.Capacity && s.WaitlistCount > 0 {
		queue, err := a.Waitlist(ctx, tx, s.ID)
		if err != nil {
			return nil, err
		}

		recheck := a.flags.Enabled(ctx, featureflags.PromotionEntitlementRecheck, true)
		now := a.now()

		remaining := make([]*Enrollment, 0, len(queue))
		for _, e := range queue {
			if s.ConfirmedCount >= s.Capacity {
				remaining = append(remaining, e)
				continue
			}

			if recheck && e.CompanyID != nil {
				d, err := a.entitled(ctx, tx, e)
				if err != nil {
					return nil, err
				}
				if !d.Allowed {
					promotionsHeld.WithLabelValues(string(d.Reason)).Inc()
					log.Info("waitlist head held by license",
						zap.String("enrollment_id", e.ID),
						zap.String("reason", string(d.Reason)),
					)
					remaining = append(remaining, e)
					continue
				}
			}

			status, err := EnrollmentLifecycle.Next(e.Status, EnrollmentConfirm)
			if err != nil {
				return nil, err
			}
			e.Status = status
			e.IsWaitlisted = false
			e.WaitlistPosition = nil
			e.ConfirmedAt = &now
			e.PromotedAt = &now
			if err := tx.WithContext(ctx).Save(e).Error; err != nil {
				return nil, err
			}

			s.ConfirmedCount++
			promoted = append(promoted, e)
			promotions.Inc()
		}

		if len(promoted) > 0 {
			if err := a.renumber(ctx, tx, remaining); err != nil {
				return nil, err
			}
		}
		s.WaitlistCount = len(remaining)
	}

	settle(s)
	if err := tx.WithContext(ctx).Save(s).Error; err != nil {
		return nil, err
	}
	return promoted, nil
}

func (a *Allocator) entitled(ctx context.Context, tx *gorm.DB, e *Enrollment) (license.Decision, error) {
	current, err := a.CountLive(ctx, tx, *e.CompanyID, e.ID)
	if err != nil {
		return license.Decision{}, err
	}
	return a.entitlements.Check(ctx, tx, license.Action{
		Kind:      license.AddEnrollment,
		CompanyID: *e.CompanyID,
		Current:   current,
	}, false)
}

// renumber closes gaps so the queue reads 1..n in its current order.
func (a *Allocator) renumber(ctx context.Context, tx *gorm.DB, queue []*Enrollment) error {
	for i, e := range queue {
		pos := i + 1
		if e.WaitlistPosition != nil && *e.WaitlistPosition == pos {
			continue
		}
		if err := tx.WithContext(ctx).Model(e).Update("waitlist_position", pos).Error; err != nil {
			return err
		}
		e.WaitlistPosition = &pos
	}
	return nil
}

// PromotionEvents builds the WAITLIST_PROMOTED notifications, to be published after commit.
func PromotionEvents(promoted []*Enrollment) []notification.Event {
	events := make([]notification.Event, 0, len(promoted))
	for _, e := range promoted {
		ev := notification.Event{
			Type:         notification.WaitlistPromoted,
			SessionID:    e.SessionID,
			EnrollmentID: e.ID,
			PersonID:     e.PersonID,
		}
		if e.CompanyID != nil {
			ev.CompanyID = *e.CompanyID
		}
		events = append(events, ev)
	}
	return events
}
