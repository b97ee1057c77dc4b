package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iryastone/storefront/internal/platform/auth"
)

const defaultSyncJobTimeout = 2 * time.Minute

var errLoginSyncMigratorRequired = errors.New("login sync: migrator is required")

// sessionSource is the authentication-state registry LoginSync subscribes to.
type sessionSource interface {
	Subscribe(listener auth.Listener) (unsubscribe func())
}

// LoginSyncDeps wires the migration task started on every sign-in.
type LoginSyncDeps struct {
	Migrator    MigrationService
	Sessions    sessionSource
	Publisher   SyncOutcomePublisher
	JobTimeout  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// LoginSync runs a migration job for each sign-in and keeps the latest job per user.
// Jobs for the same user run one after another.
type LoginSync struct {
	migrator   MigrationService
	sessions   sessionSource
	publisher  SyncOutcomePublisher
	jobTimeout time.Duration
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)

	mu          sync.Mutex
	jobs        map[string]*SyncJob
	unsubscribe func()
	wg          sync.WaitGroup
}

// SyncJob is one migration run. Its state can be polled or awaited.
type SyncJob struct {
	ID          string
	UserID      string
	AnonymousID string

	done chan struct{}

	mu         sync.RWMutex
	status     SyncStatus
	result     MigrationResult
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// SyncJobState is a point-in-time copy of a job.
type SyncJobState struct {
	ID          string
	UserID      string
	AnonymousID string
	Status      SyncStatus
	Result      MigrationResult
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewLoginSync constructs the login sync task. Call Start to subscribe to sign-ins.
func NewLoginSync(deps LoginSyncDeps) (*LoginSync, error) {
	if deps.Migrator == nil {
		return nil, errLoginSyncMigratorRequired
	}
	timeout := deps.JobTimeout
	if timeout <= 0 {
		timeout = defaultSyncJobTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LoginSync{
		migrator:   deps.Migrator,
		sessions:   deps.Sessions,
		publisher:  deps.Publisher,
		jobTimeout: timeout,
		now:        func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
		jobs:       make(map[string]*SyncJob),
	}, nil
}

// Start subscribes to the session registry. It is a no-op without one or when already started.
func (l *LoginSync) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions == nil || l.unsubscribe != nil {
		return
	}
	l.unsubscribe = l.sessions.Subscribe(func(ctx context.Context, change auth.StateChange) {
		job, err := l.SyncNow(ctx, change.AnonymousID, change.UserID)
		if err != nil {
			l.logger(ctx, "sync.start_failed", map[string]any{
				"userId": change.UserID,
				"error":  err.Error(),
			})
			return
		}
		if capture, ok := ctx.Value(syncJobCaptureKey{}).(*syncJobCapture); ok {
			capture.set(job)
		}
	})
}

// Stop removes the subscription and waits for running jobs or ctx, whichever ends first.
func (l *LoginSync) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncNow starts a migration job for the session and user. The job outlives ctx's
// cancellation but keeps its values, and is bounded by the job timeout.
func (l *LoginSync) SyncNow(ctx context.Context, anonymousID, userID string) (*SyncJob, error) {
	anonID := strings.TrimSpace(anonymousID)
	uid := strings.TrimSpace(userID)
	if anonID == "" || uid == "" {
		return nil, ErrCartInvalidInput
	}

	job := &SyncJob{
		ID:          l.newID(),
		UserID:      uid,
		AnonymousID: anonID,
		done:        make(chan struct{}),
		status:      SyncPending,
	}

	l.mu.Lock()
	previous := l.jobs[uid]
	l.jobs[uid] = job
	l.wg.Add(1)
	l.mu.Unlock()

	jobCtx := context.WithoutCancel(ctx)
	go func() {
		defer l.wg.Done()
		if previous != nil {
			<-previous.done
		}
		l.run(jobCtx, job)
	}()
	return job, nil
}

type syncJobCaptureKey struct{}

type syncJobCapture struct {
	mu  sync.Mutex
	job *SyncJob
}

func (c *syncJobCapture) set(job *SyncJob) {
	c.mu.Lock()
	c.job = job
	c.mu.Unlock()
}

// WithSyncJobCapture returns a context for publishing a sign-in and a function reporting the
// job LoginSync started for that sign-in. Job(userID) may instead return a job started by a
// concurrent sign-in of the same user.
func WithSyncJobCapture(ctx context.Context) (context.Context, func() (*SyncJob, bool)) {
	capture := &syncJobCapture{}
	return context.WithValue(ctx, syncJobCaptureKey{}, capture), func() (*SyncJob, bool) {
		capture.mu.Lock()
		defer capture.mu.Unlock()
		return capture.job, capture.job != nil
	}
}

// Job returns the latest job started for the user.
func (l *LoginSync) Job(userID string) (*SyncJob, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[strings.TrimSpace(userID)]
	return job, ok
}

func (l *LoginSync) run(ctx context.Context, job *SyncJob) {
	ctx, cancel := context.WithTimeout(ctx, l.jobTimeout)
	defer cancel()

	job.begin(l.now())
	l.logger(ctx, "sync.started", map[string]any{"jobId": job.ID, "userId": job.UserID})

	result, err := l.migrator.MigrateOnLogin(ctx, job.AnonymousID, job.UserID)
	status := SyncComplete
	switch {
	case err == nil:
	case errors.Is(err, ErrPartialMigration):
		status = SyncPartial
	default:
		status = SyncFailed
	}

	state := job.finish(status, result, err, l.now())
	fields := map[string]any{
		"jobId":  job.ID,
		"userId": job.UserID,
		"status": string(status),
	}
	if status == SyncFailed {
		fields["error"] = err.Error()
		l.logger(ctx, "sync.failed", fields)
	} else {
		l.logger(ctx, "sync.finished", fields)
	}
	l.publish(ctx, state)
}

func (l *LoginSync) publish(ctx context.Context, state SyncJobState) {
	if l.publisher == nil {
		return
	}
	message := SyncOutcomeMessage{
		JobID:          state.ID,
		UserID:         state.UserID,
		AnonymousID:    state.AnonymousID,
		Status:         state.Status,
		CartMigrated:   len(state.Result.CartMigrated),
		CartFailed:     len(state.Result.CartFailed),
		WishlistMoved:  len(state.Result.WishlistMoved),
		WishlistFailed: len(state.Result.WishlistFailed),
		Error:          errorReason(state.Err),
		StartedAt:      state.StartedAt,
		FinishedAt:     state.FinishedAt,
	}
	if _, err := l.publisher.PublishSyncOutcome(ctx, message); err != nil {
		l.logger(ctx, "sync.publish_failed", map[string]any{
			"jobId": state.ID,
			"error": err.Error(),
		})
	}
}

// Wait blocks until the job finishes or ctx ends.
func (j *SyncJob) Wait(ctx context.Context) (SyncJobState, error) {
	select {
	case <-j.done:
		return j.State(), nil
	case <-ctx.Done():
		return j.State(), ctx.Err()
	}
}

// Done is closed when the job finishes.
func (j *SyncJob) Done() <-chan struct{} {
	return j.done
}

// State returns a copy of the job's current state.
func (j *SyncJob) State() SyncJobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return SyncJobState{
		ID:          j.ID,
		UserID:      j.UserID,
		AnonymousID: j.AnonymousID,
		Status:      j.status,
		Result:      j.result,
		Err:         j.err,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
}

func (j *SyncJob) begin(at time.Time) {
	j.mu.Lock()
	j.status = SyncRunning
	j.startedAt = at
	j.mu.Unlock()
}

func (j *SyncJob) finish(status SyncStatus, result MigrationResult, err error, at time.Time) SyncJobState {
	j.mu.Lock()
	j.status = status
	j.result = result
	j.err = err
	j.finishedAt = at
	j.mu.Unlock()
	close(j.done)
	return j.State()
}
