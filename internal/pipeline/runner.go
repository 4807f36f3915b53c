package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrRunnerStopped is returned by Submit when the runner is not running.
var ErrRunnerStopped = errors.New("pipeline runner is not running")

// ErrQueueFull is returned by Submit when the job queue is at capacity.
var ErrQueueFull = errors.New("queue is full")

// Job is one stage execution request.
type Job struct {
	ProjectID string
	UserID    uint
	Stage     Stage
	Plan      PlanOptions
	RepoName  string
}

func (j Job) key() string {
	return j.ProjectID + ":" + string(j.Stage)
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// DefaultRunnerConfig returns default runner configuration
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Workers:   4,
		QueueSize: 100,
		Timeout:   30 * time.Minute,
	}
}

// NewRunnerConfig reads PIPELINE_WORKERS and PIPELINE_QUEUE_SIZE over the
// defaults.
func NewRunnerConfig() *RunnerConfig {
	cfg := DefaultRunnerConfig()
	if n, err := strconv.Atoi(os.Getenv("PIPELINE_WORKERS")); err == nil && n > 0 {
		cfg.Workers = n
	}
	if n, err := strconv.Atoi(os.Getenv("PIPELINE_QUEUE_SIZE")); err == nil && n > 0 {
		cfg.QueueSize = n
	}
	return cfg
}

// Runner executes stage jobs on a fixed pool of workers. Stage errors are
// recorded on the project by the stage itself; the runner only logs them.
type Runner struct {
	pipeline  *Pipeline
	log       *slog.Logger
	queue     chan Job
	workers   int
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	inflight  singleflight.Group
	projects  projectLocks
}

// NewRunner creates a new runner
func NewRunner(p *Pipeline, config *RunnerConfig) *Runner {
	if config == nil {
		config = DefaultRunnerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		pipeline: p,
		log:      p.log.With("component", "runner"),
		queue:    make(chan Job, config.QueueSize),
		workers:  config.Workers,
		timeout:  config.Timeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the worker goroutines
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("pipeline runner is already running")
	}
	r.isRunning = true

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.log.Info("pipeline runner started", "workers", r.workers)
	return nil
}

// Stop cancels running stages and waits for the workers to exit
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRunning {
		return nil
	}

	r.isRunning = false
	r.cancel()
	close(r.queue)
	r.wg.Wait()

	r.log.Info("pipeline runner stopped")
	return nil
}

// Submit enqueues job without blocking
func (r *Runner) Submit(job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.isRunning {
		return ErrRunnerStopped
	}

	select {
	case r.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()

	for {
		select {
		case job, ok := <-r.queue:
			if !ok {
				r.log.Debug("worker shutting down", "worker", id)
				return
			}
			// A duplicate job for a stage that is already executing joins
			// that execution instead of starting another.
			_, err, shared := r.inflight.Do(job.key(), func() (any, error) {
				return nil, r.Run(r.ctx, job)
			})
			if shared {
				r.log.Debug("duplicate job collapsed", "project_id", job.ProjectID, "stage", job.Stage)
			}
			if err != nil {
				r.log.Warn("stage failed", "worker", id, "project_id", job.ProjectID, "stage", job.Stage, "error", err)
			}
		case <-r.ctx.Done():
			r.log.Debug("worker shutting down", "worker", id)
			return
		}
	}
}

// Run executes job synchronously with the runner's stage timeout. Stages of
// one project run one at a time; a job waits for the project's running stage
// before it starts.
func (r *Runner) Run(ctx context.Context, job Job) error {
	unlock := r.projects.lock(job.ProjectID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	switch job.Stage {
	case StageResearch:
		_, err = r.pipeline.ResearchTarget(ctx, job.ProjectID, job.UserID)
	case StagePlan:
		_, err = r.pipeline.GenerateBuildPlan(ctx, job.ProjectID, job.UserID, job.Plan)
	case StageBuild:
		_, err = r.pipeline.ExecuteBuild(ctx, job.ProjectID, job.UserID)
	case StagePush:
		_, err = r.pipeline.PushToGithub(ctx, job.ProjectID, job.UserID, job.RepoName)
	default:
		err = fmt.Errorf("unknown stage %q", job.Stage)
	}
	return err
}

// projectLocks hands out one mutex per project ID and forgets it once no job
// holds or waits for it.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	sync.Mutex
	refs int
}

func (l *projectLocks) lock(projectID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*projectLock)
	}
	pl, ok := l.locks[projectID]
	if !ok {
		pl = &projectLock{}
		l.locks[projectID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, projectID)
		}
		l.mu.Unlock()
	}
}
