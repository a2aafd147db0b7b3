package seat

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/featureflags"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEntitlements struct {
	deny map[string]errutil.Reason
}

func (f *fakeEntitlements) Check(_ context.Context, _ *gorm.DB, action license.Action, _ bool) (license.Decision, error) {
	if reason, ok := f.deny[action.CompanyID]; ok {
		return license.Deny(reason, "denied"), nil
	}
	return license.Allow(), nil
}

type fakeCodes struct {
	n atomic.Int64
}

func (f *fakeCodes) NextSessionCode(context.Context) (string, error) {
	return fmt.Sprintf("SES-%03d", f.n.Add(1)), nil
}

func (f *fakeCodes) NextEnrollmentCode(context.Context) (string, error) {
	return fmt.Sprintf("ENR-%03d", f.n.Add(1)), nil
}

type ledger struct {
	db        *gorm.DB
	node      *snowflake.Node
	allocator *Allocator
}

func newLedger(t *testing.T, ent Entitlements, flags featureflags.FeatureFlag) *ledger {
	t.Helper()

	db := testutil.NewTestDB(t, &CourseSession{}, &Enrollment{})
	require.NoError(t, EnsureIndexes(db))

	return &ledger{
		db:        db,
		node:      testutil.NewNode(t),
		allocator: NewAllocator(AllocatorParams{DB: db, Entitlements: ent, Flags: flags}),
	}
}

func (l *ledger) session(t *testing.T, capacity int) *CourseSession {
	t.Helper()

	now := time.Now().UTC()
	cs := &CourseSession{
		ID:       l.node.Generate().String(),
		Code:     l.node.Generate().String(),
		Title:    "Forklift safety",
		Capacity: capacity,
		Status:   SessionOpen,
		StartsAt: now.Add(48 * time.Hour),
		EndsAt:   now.Add(56 * time.Hour),
	}
	require.NoError(t, l.db.Create(cs).Error)
	return cs
}

func (l *ledger) book(t *testing.T, sessionID, personID string, companyID *string) *Enrollment {
	t.Helper()
	ctx := context.Background()

	var e *Enrollment
	require.NoError(t, l.db.Transaction(func(tx *gorm.DB) error {
		s, err := l.allocator.LockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		r, err := l.allocator.Reserve(ctx, tx, s)
		if err != nil {
			return err
		}

		e = &Enrollment{
			ID:        l.node.Generate().String(),
			PersonID:  personID,
			SessionID: sessionID,
			CompanyID: companyID,
			Status:    EnrollmentPending,
		}
		if r.Confirmed {
			e.Status = EnrollmentConfirmed
		} else {
			pos := r.Position
			e.IsWaitlisted = true
			e.WaitlistPosition = &pos
		}
		return tx.Create(e).Error
	}))
	return e
}

func (l *ledger) cancel(t *testing.T, enrollmentID string) []*Enrollment {
	t.Helper()
	ctx := context.Background()

	var promoted []*Enrollment
	require.NoError(t, l.db.Transaction(func(tx *gorm.DB) error {
		var e Enrollment
		if err := tx.First(&e, "id = ?", enrollmentID).Error; err != nil {
			return err
		}
		s, err := l.allocator.LockSession(ctx, tx, e.SessionID)
		if err != nil {
			return err
		}

		released := e
		e.Status = EnrollmentCancelled
		e.IsWaitlisted = false
		e.WaitlistPosition = nil
		if err := tx.Save(&e).Error; err != nil {
			return err
		}

		promoted, err = l.allocator.Release(ctx, tx, s, released)
		return err
	}))
	return promoted
}

func (l *ledger) reload(t *testing.T, id string) *CourseSession {
	t.Helper()
	var cs CourseSession
	require.NoError(t, l.db.First(&cs, "id = ?", id).Error)
	return &cs
}

func (l *ledger) enrollment(t *testing.T, id string) *Enrollment {
	t.Helper()
	var e Enrollment
	require.NoError(t, l.db.First(&e, "id = ?", id).Error)
	return &e
}

// requireLedgerConsistent checks the cached counters against the enrollment rows.
func (l *ledger) requireLedgerConsistent(t *testing.T, sessionID string) {
	t.Helper()

	cs := l.reload(t, sessionID)

	var confirmed, waitlisted int64
	require.NoError(t, l.db.Model(&Enrollment{}).Where("session_id = ? AND status = ?", sessionID, EnrollmentConfirmed).Count(&confirmed).Error)
	require.NoError(t, l.db.Model(&Enrollment{}).Where("session_id = ? AND is_waitlisted = ?", sessionID, true).Count(&waitlisted).Error)

	require.Equal(t, int(confirmed), cs.ConfirmedCount)
	require.Equal(t, int(waitlisted), cs.WaitlistCount)
	require.LessOrEqual(t, cs.ConfirmedCount, cs.Capacity)

	queue, err := l.allocator.Waitlist(context.Background(), l.db, sessionID)
	require.NoError(t, err)
	for i, e := range queue {
		require.NotNil(t, e.WaitlistPosition)
		require.Equal(t, i+1, *e.WaitlistPosition)
	}
}

func strptr(s string) *string { return &s }

func TestReserveFillsThenWaitlists(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 2)

	p1 := l.book(t, cs.ID, "p1", nil)
	p2 := l.book(t, cs.ID, "p2", nil)
	p3 := l.book(t, cs.ID, "p3", nil)
	p4 := l.book(t, cs.ID, "p4", nil)

	require.Equal(t, EnrollmentConfirmed, p1.Status)
	require.Equal(t, EnrollmentConfirmed, p2.Status)
	require.True(t, p3.IsWaitlisted)
	require.Equal(t, 1, *p3.WaitlistPosition)
	require.Equal(t, 2, *p4.WaitlistPosition)

	got := l.reload(t, cs.ID)
	require.Equal(t, SessionFull, got.Status)
	require.Equal(t, 2, got.ConfirmedCount)
	require.Equal(t, 2, got.WaitlistCount)
	l.requireLedgerConsistent(t, cs.ID)
}

func TestReleasePromotesWaitlistHead(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 1)

	p1 := l.book(t, cs.ID, "p1", nil)
	p2 := l.book(t, cs.ID, "p2", nil)
	require.Equal(t, 1, *p2.WaitlistPosition)

	promoted := l.cancel(t, p1.ID)
	require.Len(t, promoted, 1)
	require.Equal(t, p2.ID, promoted[0].ID)

	got := l.enrollment(t, p2.ID)
	require.Equal(t, EnrollmentConfirmed, got.Status)
	require.False(t, got.IsWaitlisted)
	require.Nil(t, got.WaitlistPosition)
	require.NotNil(t, got.PromotedAt)

	session := l.reload(t, cs.ID)
	require.Equal(t, 1, session.ConfirmedCount)
	require.Equal(t, SessionFull, session.Status)
	l.requireLedgerConsistent(t, cs.ID)
}

func TestPromotionIsFIFO(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 2)

	p1 := l.book(t, cs.ID, "p1", nil)
	p2 := l.book(t, cs.ID, "p2", nil)
	a := l.book(t, cs.ID, "a", nil)
	b := l.book(t, cs.ID, "b", nil)
	c := l.book(t, cs.ID, "c", nil)

	first := l.cancel(t, p2.ID)
	require.Len(t, first, 1)
	require.Equal(t, a.ID, first[0].ID)

	second := l.cancel(t, p1.ID)
	require.Len(t, second, 1)
	require.Equal(t, b.ID, second[0].ID)

	require.Equal(t, 1, *l.enrollment(t, c.ID).WaitlistPosition)
	l.requireLedgerConsistent(t, cs.ID)
}

func TestCancelWaitlistedRenumbers(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 1)

	l.book(t, cs.ID, "p1", nil)
	w1 := l.book(t, cs.ID, "w1", nil)
	w2 := l.book(t, cs.ID, "w2", nil)
	w3 := l.book(t, cs.ID, "w3", nil)

	promoted := l.cancel(t, w1.ID)
	require.Empty(t, promoted)

	require.Equal(t, 1, *l.enrollment(t, w2.ID).WaitlistPosition)
	require.Equal(t, 2, *l.enrollment(t, w3.ID).WaitlistPosition)

	session := l.reload(t, cs.ID)
	require.Equal(t, 1, session.ConfirmedCount)
	require.Equal(t, 2, session.WaitlistCount)
	l.requireLedgerConsistent(t, cs.ID)

	// the next booking queues behind the renumbered tail
	w4 := l.book(t, cs.ID, "w4", nil)
	require.Equal(t, 3, *w4.WaitlistPosition)
}

func TestResize(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 2)
	ctx := context.Background()

	l.book(t, cs.ID, "p1", nil)
	l.book(t, cs.ID, "p2", nil)
	w1 := l.book(t, cs.ID, "w1", nil)
	w2 := l.book(t, cs.ID, "w2", nil)
	w3 := l.book(t, cs.ID, "w3", nil)

	err := l.db.Transaction(func(tx *gorm.DB) error {
		s, err := l.allocator.LockSession(ctx, tx, cs.ID)
		if err != nil {
			return err
		}
		_, err = l.allocator.Resize(ctx, tx, s, 1)
		return err
	})
	require.True(t, errutil.IsReason(err, errutil.ReasonCapacityBelowConfirmed))
	require.Equal(t, 2, l.reload(t, cs.ID).Capacity)

	var promoted []*Enrollment
	require.NoError(t, l.db.Transaction(func(tx *gorm.DB) error {
		s, err := l.allocator.LockSession(ctx, tx, cs.ID)
		if err != nil {
			return err
		}
		promoted, err = l.allocator.Resize(ctx, tx, s, 4)
		return err
	}))
	require.Len(t, promoted, 2)
	require.Equal(t, w1.ID, promoted[0].ID)
	require.Equal(t, w2.ID, promoted[1].ID)
	require.Equal(t, 1, *l.enrollment(t, w3.ID).WaitlistPosition)

	session := l.reload(t, cs.ID)
	require.Equal(t, 4, session.ConfirmedCount)
	require.Equal(t, SessionFull, session.Status)
	l.requireLedgerConsistent(t, cs.ID)
}

func TestPromotionHeldByLicense(t *testing.T) {
	ent := &fakeEntitlements{deny: map[string]errutil.Reason{"acme": errutil.ReasonEnrollmentCapExceeded}}
	l := newLedger(t, ent, nil)
	cs := l.session(t, 1)

	p1 := l.book(t, cs.ID, "p1", nil)
	held := l.book(t, cs.ID, "a1", strptr("acme"))
	next := l.book(t, cs.ID, "g1", strptr("globex"))

	promoted := l.cancel(t, p1.ID)
	require.Len(t, promoted, 1)
	require.Equal(t, next.ID, promoted[0].ID)

	got := l.enrollment(t, held.ID)
	require.Equal(t, EnrollmentPending, got.Status)
	require.True(t, got.IsWaitlisted)
	require.Equal(t, 1, *got.WaitlistPosition)
	l.requireLedgerConsistent(t, cs.ID)
}

func TestPromotionRecheckDisabled(t *testing.T) {
	ent := &fakeEntitlements{deny: map[string]errutil.Reason{"acme": errutil.ReasonLicenseNotActive}}
	l := newLedger(t, ent, featureflags.Static{featureflags.PromotionEntitlementRecheck: false})
	cs := l.session(t, 1)

	p1 := l.book(t, cs.ID, "p1", nil)
	a1 := l.book(t, cs.ID, "a1", strptr("acme"))

	promoted := l.cancel(t, p1.ID)
	require.Len(t, promoted, 1)
	require.Equal(t, a1.ID, promoted[0].ID)
}

func TestPromotionRecheckAgainstLicense(t *testing.T) {
	db := testutil.NewTestDB(t, &CourseSession{}, &Enrollment{}, &license.License{}, &license.LicenseEvent{})
	require.NoError(t, EnsureIndexes(db))
	node := testutil.NewNode(t)

	licenses := license.NewService(license.ServiceParams{DB: db, Node: node, Publisher: notification.NopPublisher{}})
	now := time.Now().UTC()
	_, err := licenses.Create(context.Background(), license.CreateRequest{
		CompanyID:      "acme",
		Status:         license.Active,
		StartDate:      now.AddDate(0, -1, 0),
		EndDate:        now.AddDate(1, 0, 0),
		MaxEnrollments: func() *int64 { v := int64(1); return &v }(),
	})
	require.NoError(t, err)

	l := &ledger{db: db, node: node, allocator: NewAllocator(AllocatorParams{DB: db, Entitlements: licenses})}
	first := l.session(t, 1)
	second := l.session(t, 1)

	// acme holds its single allowed enrollment as a waitlist place in the first session
	p1 := l.book(t, first.ID, "p1", nil)
	a1 := l.book(t, first.ID, "a1", strptr("acme"))
	require.True(t, a1.IsWaitlisted)

	// a seat taken in the second session is counted against the cap at promotion time
	require.NoError(t, db.Create(&Enrollment{
		ID:        node.Generate().String(),
		PersonID:  "a2",
		SessionID: second.ID,
		CompanyID: strptr("acme"),
		Status:    EnrollmentConfirmed,
	}).Error)

	promoted := l.cancel(t, p1.ID)
	require.Empty(t, promoted)
	require.True(t, l.enrollment(t, a1.ID).IsWaitlisted)

	session := l.reload(t, first.ID)
	require.Equal(t, 0, session.ConfirmedCount)
	require.Equal(t, SessionOpen, session.Status)
}

func TestReserveRejectsStartedSession(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 5)
	ctx := context.Background()

	require.NoError(t, l.db.Model(cs).Update("starts_at", time.Now().UTC().Add(-time.Hour)).Error)

	err := l.db.Transaction(func(tx *gorm.DB) error {
		s, err := l.allocator.LockSession(ctx, tx, cs.ID)
		if err != nil {
			return err
		}
		_, err = l.allocator.Reserve(ctx, tx, s)
		return err
	})
	require.True(t, errutil.IsReason(err, errutil.ReasonSessionNotOpen))
	require.Equal(t, 0, l.reload(t, cs.ID).ConfirmedCount)
}

func TestReleaseRejectsStartedSession(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 1)
	ctx := context.Background()

	seated := l.book(t, cs.ID, "p1", nil)
	waiting := l.book(t, cs.ID, "p2", nil)

	require.NoError(t, l.db.Model(cs).Update("starts_at", time.Now().UTC().Add(-time.Hour)).Error)

	err := l.db.Transaction(func(tx *gorm.DB) error {
		s, err := l.allocator.LockSession(ctx, tx, cs.ID)
		if err != nil {
			return err
		}
		released := *seated
		seated.Status = EnrollmentCancelled
		if err := tx.Save(seated).Error; err != nil {
			return err
		}
		_, err = l.allocator.Release(ctx, tx, s, released)
		return err
	})
	require.True(t, errutil.IsReason(err, errutil.ReasonSessionNotOpen))

	require.Equal(t, EnrollmentConfirmed, l.enrollment(t, seated.ID).Status)
	require.True(t, l.enrollment(t, waiting.ID).IsWaitlisted)
	require.Equal(t, 1, l.reload(t, cs.ID).ConfirmedCount)
}

func TestLedgerStaysConsistent(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 3)

	var booked []*Enrollment
	for i := 0; i < 7; i++ {
		booked = append(booked, l.book(t, cs.ID, fmt.Sprintf("p%d", i), nil))
	}
	l.requireLedgerConsistent(t, cs.ID)

	for _, idx := range []int{0, 4, 1, 6} {
		l.cancel(t, booked[idx].ID)
		l.requireLedgerConsistent(t, cs.ID)
	}

	session := l.reload(t, cs.ID)
	require.Equal(t, 3, session.ConfirmedCount)
	require.Equal(t, 0, session.WaitlistCount)
}

func TestOneLiveEnrollmentPerPerson(t *testing.T) {
	l := newLedger(t, &fakeEntitlements{}, nil)
	cs := l.session(t, 5)

	e := l.book(t, cs.ID, "p1", nil)
	err := l.db.Create(&Enrollment{
		ID:        l.node.Generate().String(),
		PersonID:  "p1",
		SessionID: cs.ID,
		Status:    EnrollmentPending,
	}).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	l.cancel(t, e.ID)
	again := l.book(t, cs.ID, "p1", nil)
	require.Equal(t, EnrollmentConfirmed, again.Status)
}
