package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/task"
	"smallbiznis-academy/pkg/taskname"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/seat"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	categoryLicenses    = "licenses"
	categorySessions    = "sessions"
	categoryEnrollments = "enrollments"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	licenses *license.Service
	sessions *seat.Service
	enqueuer task.Enqueuer
	now      func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Licenses *license.Service
	Sessions *seat.Service
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		licenses: p.Licenses,
		sessions: p.Sessions,
		enqueuer: p.Enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue hands a sweep to the worker queue. Interval triggers are unique per window so
// several schedulers never stack runs.
func (s *Service) Enqueue(ctx context.Context, trigger Trigger, window time.Duration) (*asynq.TaskInfo, error) {
	if s.enqueuer == nil {
		return nil, errutil.New(errutil.StatusServiceUnavailable, "task queue is not configured")
	}

	payload, err := json.Marshal(taskPayload{Trigger: trigger})
	if err != nil {
		return nil, errutil.Internal("failed to encode sweep task", err)
	}

	opts := []asynq.Option{asynq.Queue(taskname.QueueDefault), asynq.MaxRetry(1)}
	if trigger == TriggerInterval && window > 0 {
		opts = append(opts, asynq.Unique(window))
	}

	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.SweepRun, payload), opts...)
	if errors.Is(err, task.ErrDuplicate) {
		return nil, errutil.Conflict("a sweep is already queued", err)
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to enqueue sweep", zap.String("trigger", string(trigger)), zap.Error(err))
		return nil, errutil.BadGateway("failed to enqueue sweep", err)
	}

	logger.FromContext(ctx).Info("sweep enqueued", zap.String("trigger", string(trigger)), zap.String("task_id", info.ID))
	return info, nil
}

// ProcessTask is the asynq handler for taskname.SweepRun.
func (s *Service) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	if payload.Trigger == "" {
		payload.Trigger = TriggerInterval
	}

	_, err := s.Run(ctx, payload.Trigger)
	return err
}

// Run applies every time-driven transition that is due. Records that fail are logged,
// counted and skipped; a category that cannot be listed fails the job.
func (s *Service) Run(ctx context.Context, trigger Trigger) (*SweepJob, error) {
	now := s.now()
	log := logger.FromContext(ctx).With(zap.String("trigger", string(trigger)))

	job := &SweepJob{
		ID:        s.node.Generate().String(),
		Trigger:   trigger,
		Status:    JobRunning,
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		log.Error("failed to record sweep job", zap.Error(err))
		return nil, errutil.Internal("failed to start sweep", err)
	}
	log = log.With(zap.String("job_id", job.ID))

	var (
		mu     sync.Mutex
		failed = map[string][]string{}
	)
	skip := func(category, id string, err error) {
		skipped.WithLabelValues(category).Inc()
		log.Warn("sweep skipped record", zap.String("category", category), zap.String("id", id), zap.Error(err))
		mu.Lock()
		failed[category] = append(failed[category], id)
		mu.Unlock()
	}

	g := errgroup.Group{}
	g.Go(func() error {
		n, err := s.expireLicenses(ctx, now, skip)
		job.LicensesExpired = n
		return err
	})
	g.Go(func() error {
		n, err := s.closeSessions(ctx, now, skip)
		job.SessionsClosed = n
		return err
	})
	g.Go(func() error {
		n, err := s.sessions.CompleteFinishedEnrollments(ctx, now)
		transitions.WithLabelValues(categoryEnrollments).Add(float64(n))
		job.EnrollmentsCompleted = n
		return err
	})
	runErr := g.Wait()

	for _, ids := range failed {
		job.Failures += int64(len(ids))
	}

	completed := s.now()
	job.CompletedAt = &completed
	job.Status = JobSuccess
	if runErr != nil {
		job.Status = JobFailed
		job.ErrorMsg = runErr.Error()
	}
	if summary, err := json.Marshal(map[string]any{
		"licenses_expired":      job.LicensesExpired,
		"sessions_closed":       job.SessionsClosed,
		"enrollments_completed": job.EnrollmentsCompleted,
		"skipped":               failed,
	}); err == nil {
		job.Summary = datatypes.JSON(summary)
	}

	// the run context may be gone by now, the record must still land
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(job).Error; err != nil {
		log.Error("failed to record sweep result", zap.Error(err))
	}

	if runErr != nil {
		log.Error("sweep failed", zap.Error(runErr))
		return job, runErr
	}

	log.Info("sweep finished",
		zap.Int("licenses_expired", job.LicensesExpired),
		zap.Int("sessions_closed", job.SessionsClosed),
		zap.Int64("enrollments_completed", job.EnrollmentsCompleted),
		zap.Int64("failures", job.Failures),
		zap.Duration("took", completed.Sub(now)),
	)
	return job, nil
}

func (s *Service) expireLicenses(ctx context.Context, now time.Time, skip func(string, string, error)) (int, error) {
	due, err := s.licenses.ListExpiryCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, l := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := s.licenses.ExpireIfDue(ctx, l.ID, now)
		if err != nil {
			skip(categoryLicenses, l.ID, err)
			continue
		}
		if ok {
			n++
			transitions.WithLabelValues(categoryLicenses).Inc()
		}
	}
	return n, nil
}

func (s *Service) closeSessions(ctx context.Context, now time.Time, skip func(string, string, error)) (int, error) {
	started, err := s.sessions.ListStartedSessions(ctx, now)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, cs := range started {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		to, err := s.sessions.CloseIfStarted(ctx, cs.ID, now)
		if err != nil {
			skip(categorySessions, cs.ID, err)
			continue
		}
		if to != "" {
			n++
			transitions.WithLabelValues(categorySessions).Inc()
		}
	}
	return n, nil
}

// Jobs lists the most recent sweep runs, newest first.
func (s *Service) Jobs(ctx context.Context, limit int) ([]*SweepJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var jobs []*SweepJob
	if err := s.db.WithContext(ctx).Order("created_at desc").Order("id desc").Limit(limit).Find(&jobs).Error; err != nil {
		logger.FromContext(ctx).Error("failed to list sweep jobs", zap.Error(err))
		return nil, errutil.Internal("failed to list sweep jobs", err)
	}
	return jobs, nil
}
