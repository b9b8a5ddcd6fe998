// Package scheduler runs jobs on cron specs inside the long-running host.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Status is the last outcome of a scheduled job.
type Status struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next"`
	LastRun  time.Time `json:"last_run,omitzero"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
}

type entry struct {
	id     cron.EntryID
	status Status
}

// Runner owns a cron instance. Overlapping runs of the same job are skipped.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
	log     *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

// New creates a Runner. Jobs receive baseCtx, so cancelling it stops
// in-flight work.
func New(baseCtx context.Context, loc *time.Location) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	log := zap.L().With(zap.String("component", "scheduler"))
	cl := cronLogger{log.Sugar()}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		baseCtx: baseCtx,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Add registers job under name. An empty spec leaves the job disabled and
// returns false.
func (r *Runner) Add(name, spec string, job JobFunc) (bool, error) {
	if spec == "" {
		r.log.Info("job disabled", zap.String("job", name))
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return false, eris.Errorf("scheduler: job %q already registered", name)
	}

	e := &entry{status: Status{Name: name, Spec: spec}}
	id, err := r.cron.AddFunc(spec, func() { r.run(e, job) })
	if err != nil {
		return false, eris.Wrapf(err, "scheduler: parse spec %q for %s", spec, name)
	}
	e.id = id
	r.entries[name] = e
	r.order = append(r.order, name)
	r.log.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return true, nil
}

func (r *Runner) run(e *entry, job JobFunc) {
	name := e.status.Name
	started := time.Now()
	r.log.Info("job starting", zap.String("job", name))

	err := job(r.baseCtx)

	r.mu.Lock()
	e.status.Runs++
	e.status.LastRun = started.UTC()
	e.status.LastErr = ""
	if err != nil {
		e.status.Failures++
		e.status.LastErr = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Error("job failed", zap.String("job", name), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return
	}
	r.log.Info("job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(started)))
}

// RunNow invokes a registered job synchronously, outside its schedule.
func (r *Runner) RunNow(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return eris.Errorf("scheduler: unknown job %q", name)
	}
	r.cron.Entry(e.id).WrappedJob.Run()
	return nil
}

// Statuses reports every registered job in registration order.
func (r *Runner) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		s := e.status
		s.Next = r.cron.Entry(e.id).Next
		out = append(out, s)
	}
	return out
}

// Start begins dispatching.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("scheduler started", zap.Int("jobs", len(r.order)))
}

// Stop stops dispatching and waits for running jobs to return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info("scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
