package seat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"smallbiznis-academy/pkg/celengine"
	"smallbiznis-academy/pkg/db/pagination"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/notification/mock"
)

func newTestService(t *testing.T, pub notification.Publisher) (*Service, *ledger) {
	t.Helper()

	l := newLedger(t, &fakeEntitlements{}, nil)
	rules, err := celengine.New()
	require.NoError(t, err)

	if pub == nil {
		pub = notification.NopPublisher{}
	}

	svc := NewService(ServiceParams{
		DB:        l.db,
		Node:      l.node,
		Allocator: l.allocator,
		Rules:     rules,
		Codes:     &fakeCodes{},
		Publisher: pub,
	})
	return svc, l
}

func sessionRequest(capacity int, publish bool) CreateSessionRequest {
	starts := time.Now().UTC().Add(72 * time.Hour)
	return CreateSessionRequest{
		Title:    "First aid",
		Capacity: capacity,
		StartsAt: starts,
		EndsAt:   starts.Add(8 * time.Hour),
		Publish:  publish,
	}
}

func TestCreateSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	cs, err := svc.CreateSession(ctx, sessionRequest(10, false))
	require.NoError(t, err)
	require.Equal(t, SessionDraft, cs.Status)
	require.NotEmpty(t, cs.Code)

	req := sessionRequest(0, true)
	req.Eligibility = "capacity +"
	_, err = svc.CreateSession(ctx, req)
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusValidationFailed, be.Code)
	require.Len(t, be.Details, 2)
}

func TestRepeatSessions(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	base := sessionRequest(5, true)
	sessions, err := svc.RepeatSessions(ctx, RepeatSessionsRequest{Session: base, Count: 3, EveryDays: 7})
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.True(t, sessions[2].StartsAt.Equal(base.StartsAt.UTC().AddDate(0, 0, 14)))
	require.NotEqual(t, sessions[0].Code, sessions[1].Code)

	_, err = svc.RepeatSessions(ctx, RepeatSessionsRequest{Session: base, Count: 0, EveryDays: 7})
	require.Error(t, err)
}

func TestPublish(t *testing.T) {
	svc, l := newTestService(t, nil)
	ctx := context.Background()

	cs, err := svc.CreateSession(ctx, sessionRequest(1, false))
	require.NoError(t, err)

	// drafts take bookings before they are published
	l.book(t, cs.ID, "p1", nil)

	got, err := svc.Publish(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, SessionFull, got.Status)

	_, err = svc.Publish(ctx, cs.ID)
	require.True(t, errutil.IsReason(err, errutil.ReasonInvalidTransition))
}

func TestCancelSession(t *testing.T) {
	svc, l := newTestService(t, nil)
	ctx := context.Background()

	cs, err := svc.CreateSession(ctx, sessionRequest(1, true))
	require.NoError(t, err)
	l.book(t, cs.ID, "p1", nil)
	l.book(t, cs.ID, "p2", nil)

	got, cancelled, err := svc.CancelSession(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), cancelled)
	require.Equal(t, SessionCancelled, got.Status)
	require.Zero(t, got.ConfirmedCount)
	l.requireLedgerConsistent(t, cs.ID)

	_, _, err = svc.CancelSession(ctx, cs.ID)
	require.True(t, errutil.IsReason(err, errutil.ReasonInvalidTransition))

	_, _, err = svc.CancelSession(ctx, "missing")
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestResizePublishesPromotions(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mock.NewMockPublisher(ctrl)

	svc, l := newTestService(t, pub)
	ctx := context.Background()

	cs, err := svc.CreateSession(ctx, sessionRequest(1, true))
	require.NoError(t, err)
	l.book(t, cs.ID, "p1", nil)
	w1 := l.book(t, cs.ID, "w1", nil)

	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(func(_ context.Context, events ...notification.Event) {
		require.Len(t, events, 1)
		require.Equal(t, notification.WaitlistPromoted, events[0].Type)
		require.Equal(t, w1.ID, events[0].EnrollmentID)
	})

	got, promoted, err := svc.Resize(ctx, cs.ID, 2)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	require.Equal(t, 2, got.ConfirmedCount)
}

func TestRoster(t *testing.T) {
	svc, l := newTestService(t, nil)
	ctx := context.Background()

	cs, err := svc.CreateSession(ctx, sessionRequest(2, true))
	require.NoError(t, err)
	for _, p := range []string{"p1", "p2", "p3", "p4", "p5"} {
		l.book(t, cs.ID, p, nil)
	}

	page, info, err := svc.Roster(ctx, cs.ID, RosterRequest{Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	seen := map[string]bool{}
	for _, e := range page {
		seen[e.PersonID] = true
	}

	for info.HasMore {
		page, info, err = svc.Roster(ctx, cs.ID, RosterRequest{Pagination: pagination.Pagination{Limit: 2, Cursor: info.NextCursor}})
		require.NoError(t, err)
		for _, e := range page {
			require.False(t, seen[e.PersonID])
			seen[e.PersonID] = true
		}
	}
	require.Len(t, seen, 5)

	confirmed, _, err := svc.Roster(ctx, cs.ID, RosterRequest{Status: EnrollmentConfirmed, Pagination: pagination.Pagination{Limit: 10}})
	require.NoError(t, err)
	require.Len(t, confirmed, 2)

	waitlist, err := svc.Waitlist(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, waitlist, 3)
	require.Equal(t, "p3", waitlist[0].PersonID)
}

func TestCloseIfStartedIsIdempotent(t *testing.T) {
	svc, l := newTestService(t, nil)
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, sessionRequest(1, true))
	require.NoError(t, err)
	draft, err := svc.CreateSession(ctx, sessionRequest(1, false))
	require.NoError(t, err)
	future, err := svc.CreateSession(ctx, sessionRequest(1, true))
	require.NoError(t, err)

	seated := l.book(t, open.ID, "p1", nil)
	waiting := l.book(t, open.ID, "p2", nil)
	drafted := l.book(t, draft.ID, "p3", nil)

	now := time.Now().UTC().Add(81 * time.Hour)
	require.NoError(t, l.db.Model(future).Update("starts_at", now.Add(time.Hour)).Error)

	started, err := svc.ListStartedSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, started, 2)

	status, err := svc.CloseIfStarted(ctx, open.ID, now)
	require.NoError(t, err)
	require.Equal(t, SessionCompleted, status)

	status, err = svc.CloseIfStarted(ctx, draft.ID, now)
	require.NoError(t, err)
	require.Equal(t, SessionCancelled, status)

	status, err = svc.CloseIfStarted(ctx, open.ID, now)
	require.NoError(t, err)
	require.Empty(t, status)

	require.Equal(t, EnrollmentConfirmed, l.enrollment(t, seated.ID).Status)
	require.Equal(t, EnrollmentCancelled, l.enrollment(t, waiting.ID).Status)
	require.Equal(t, EnrollmentCancelled, l.enrollment(t, drafted.ID).Status)

	started, err = svc.ListStartedSessions(ctx, now)
	require.NoError(t, err)
	require.Empty(t, started)

	completed, err := svc.CompleteFinishedEnrollments(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), completed)
	require.Equal(t, EnrollmentCompleted, l.enrollment(t, seated.ID).Status)

	completed, err = svc.CompleteFinishedEnrollments(ctx, now)
	require.NoError(t, err)
	require.Zero(t, completed)
}
