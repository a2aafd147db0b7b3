package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/task"
	"smallbiznis-academy/pkg/taskname"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/seat"
	"smallbiznis-academy/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "task-1", Queue: taskname.QueueDefault}, nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	licenses *license.Service
	svc      *Service
}

func newFixture(t *testing.T, enqueuer *fakeEnqueuer) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&license.License{}, &license.LicenseEvent{},
		&seat.CourseSession{}, &seat.Enrollment{}, &SweepJob{},
	)
	node := testutil.NewNode(t)

	licenses := license.NewService(license.ServiceParams{DB: db, Node: node, Publisher: notification.NopPublisher{}})
	allocator := seat.NewAllocator(seat.AllocatorParams{DB: db, Entitlements: licenses})
	sessions := seat.NewService(seat.ServiceParams{
		DB:        db,
		Node:      node,
		Allocator: allocator,
		Publisher: notification.NopPublisher{},
	})

	p := Params{DB: db, Node: node, Licenses: licenses, Sessions: sessions}
	if enqueuer != nil {
		p.Enqueuer = enqueuer
	}
	return &fixture{db: db, node: node, licenses: licenses, svc: NewService(p)}
}

func (f *fixture) session(t *testing.T, status seat.SessionStatus, starts, ends time.Time) *seat.CourseSession {
	t.Helper()

	cs := &seat.CourseSession{
		ID:       f.node.Generate().String(),
		Code:     f.node.Generate().String(),
		Title:    "Fire warden",
		Capacity: 1,
		Status:   status,
		StartsAt: starts,
		EndsAt:   ends,
	}
	require.NoError(t, f.db.Create(cs).Error)
	return cs
}

func (f *fixture) enrollment(t *testing.T, sessionID string, status seat.EnrollmentStatus, waitlisted bool) *seat.Enrollment {
	t.Helper()

	e := &seat.Enrollment{
		ID:           f.node.Generate().String(),
		PersonID:     f.node.Generate().String(),
		SessionID:    sessionID,
		Status:       status,
		IsWaitlisted: waitlisted,
	}
	if waitlisted {
		pos := 1
		e.WaitlistPosition = &pos
	}
	require.NoError(t, f.db.Create(e).Error)
	return e
}

func (f *fixture) status(t *testing.T, e *seat.Enrollment) seat.EnrollmentStatus {
	t.Helper()

	var got seat.Enrollment
	require.NoError(t, f.db.First(&got, "id = ?", e.ID).Error)
	return got.Status
}

func TestRunAppliesDueTransitionsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := f.licenses.Create(ctx, license.CreateRequest{
		CompanyID: "lapsed", Status: license.Active,
		StartDate: now.AddDate(-1, 0, 0), EndDate: now.AddDate(0, 0, -10), GracePeriodDays: 3,
	})
	require.NoError(t, err)
	_, err = f.licenses.Create(ctx, license.CreateRequest{
		CompanyID: "current", Status: license.Active,
		StartDate: now.AddDate(-1, 0, 0), EndDate: now.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	running := f.session(t, seat.SessionFull, now.Add(-2*time.Hour), now.Add(6*time.Hour))
	seated := f.enrollment(t, running.ID, seat.EnrollmentConfirmed, false)
	waiting := f.enrollment(t, running.ID, seat.EnrollmentPending, true)

	draft := f.session(t, seat.SessionDraft, now.Add(-time.Hour), now.Add(7*time.Hour))

	ended := f.session(t, seat.SessionOpen, now.Add(-10*time.Hour), now.Add(-2*time.Hour))
	attended := f.enrollment(t, ended.ID, seat.EnrollmentConfirmed, false)

	upcoming := f.session(t, seat.SessionOpen, now.Add(24*time.Hour), now.Add(32*time.Hour))

	job, err := f.svc.Run(ctx, TriggerManual)
	require.NoError(t, err)
	require.Equal(t, JobSuccess, job.Status)
	require.Equal(t, 1, job.LicensesExpired)
	require.Equal(t, 3, job.SessionsClosed)
	require.EqualValues(t, 1, job.EnrollmentsCompleted)
	require.Zero(t, job.Failures)

	l, err := f.licenses.Get(ctx, "lapsed")
	require.NoError(t, err)
	require.Equal(t, license.Expired, l.Status)

	l, err = f.licenses.Get(ctx, "current")
	require.NoError(t, err)
	require.Equal(t, license.Active, l.Status)

	for id, want := range map[string]seat.SessionStatus{
		running.ID:  seat.SessionCompleted,
		draft.ID:    seat.SessionCancelled,
		ended.ID:    seat.SessionCompleted,
		upcoming.ID: seat.SessionOpen,
	} {
		var cs seat.CourseSession
		require.NoError(t, f.db.First(&cs, "id = ?", id).Error)
		require.Equal(t, want, cs.Status, id)
	}

	require.Equal(t, seat.EnrollmentConfirmed, f.status(t, seated))
	require.Equal(t, seat.EnrollmentCancelled, f.status(t, waiting))
	require.Equal(t, seat.EnrollmentCompleted, f.status(t, attended))

	again, err := f.svc.Run(ctx, TriggerInterval)
	require.NoError(t, err)
	require.Zero(t, again.LicensesExpired)
	require.Zero(t, again.SessionsClosed)
	require.Zero(t, again.EnrollmentsCompleted)

	jobs, err := f.svc.Jobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(job.Summary, &summary))
	require.EqualValues(t, 3, summary["sessions_closed"])
}

func TestEnqueue(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	f := newFixture(t, enqueuer)

	info, err := f.svc.Enqueue(context.Background(), TriggerManual, 0)
	require.NoError(t, err)
	require.Equal(t, "task-1", info.ID)

	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, taskname.SweepRun, enqueuer.tasks[0].Type())

	var payload taskPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, TriggerManual, payload.Trigger)
}

func TestEnqueueAlreadyQueued(t *testing.T) {
	enqueuer := &fakeEnqueuer{err: fmt.Errorf("%s: %w", taskname.SweepRun, task.ErrDuplicate)}
	f := newFixture(t, enqueuer)

	_, err := f.svc.Enqueue(context.Background(), TriggerInterval, time.Hour)
	require.ErrorIs(t, err, task.ErrDuplicate)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestEnqueueWithoutQueue(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Enqueue(context.Background(), TriggerManual, 0)
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusServiceUnavailable, be.Code)
}

func TestProcessTask(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	payload, err := json.Marshal(taskPayload{Trigger: TriggerInterval})
	require.NoError(t, err)
	require.NoError(t, f.svc.ProcessTask(ctx, asynq.NewTask(taskname.SweepRun, payload)))

	jobs, err := f.svc.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, TriggerInterval, jobs[0].Trigger)
	require.Equal(t, JobSuccess, jobs[0].Status)

	require.Error(t, f.svc.ProcessTask(ctx, asynq.NewTask(taskname.SweepRun, []byte("{"))))
}
