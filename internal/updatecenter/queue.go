package updatecenter

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Queue is the Job Queue / Scheduler: a strictly single-threaded installer
// worker plus a separate bounded metadata pool. The installer side is a
// mutex+condition-variable FIFO with a single consumer that dispatches on
// the job's tag.
type Queue struct {
	mu sync.Mutex
	cond *sync.Cond

	nextID  int64
	jobs    []*Job
	pending []*Job // FIFO of jobs awaiting the installer worker

	sourcesUsed map[string]bool

	requiresRestart bool

	metadataPoolSize int

	shuttingDown bool

	dispatch func(ctx context.Context, j *Job) // set by Center; executes one job

	workerStarted bool
}

// NewQueue constructs an empty Queue. dispatch is invoked by the installer
// worker goroutine for every job it pops, in submission order.
func NewQueue(metadataPoolSize int, dispatch func(ctx context.Context, j *Job)) *Queue {
	q := &Queue{
		sourcesUsed:      make(map[string]bool),
		metadataPoolSize: metadataPoolSize,
		dispatch:         dispatch,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// StartWorker launches the single installer worker goroutine. It runs
// until ctx is canceled or Shutdown is called.
func (q *Queue) StartWorker(ctx context.Context) {
	q.mu.Lock()
	if q.workerStarted {
		q.mu.Unlock()
		return
	}
	q.workerStarted = true
	q.mu.Unlock()

	go q.runWorker(ctx)
}

func (q *Queue) runWorker(ctx context.Context) {
	for {
		job, ok := q.pop(ctx)
		if !ok {
			return
		}
		q.dispatch(ctx, job)
	}
}

func (q *Queue) pop(ctx context.Context) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
	}

	if len(q.pending) == 0 {
		return nil, false
	}

	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, true
}

// AddJob enqueues j onto the installer worker, first ensuring a
// ConnectionCheckJob precedes it for j's site if one has never been
// scheduled in this process (§4.8 post-condition).
func (q *Queue) AddJob(j *Job, connCheckFactory func(siteID string) *Job) {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return
	}

	if j.SiteID != "" && !q.sourcesUsed[j.SiteID] {
		q.sourcesUsed[j.SiteID] = true
		check := connCheckFactory(j.SiteID)
		check.ID = q.nextID
		q.nextID++
		q.jobs = append(q.jobs, check)
		q.pending = append(q.pending, check)
	}

	j.ID = q.nextID
	q.nextID++
	q.jobs = append(q.jobs, j)
	q.pending = append(q.pending, j)
	q.cond.Signal()
	q.mu.Unlock()
}

// MarkRestartRequired sets the process-wide restart flag. It only ever
// transitions false -> true within a process lifetime.
func (q *Queue) MarkRestartRequired() {
	q.mu.Lock()
	q.requiresRestart = true
	q.mu.Unlock()
}

func (q *Queue) RequiresRestart() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requiresRestart
}

// GetJob looks up a job by id. O(n), matching the spec's stated lookup cost.
func (q *Queue) GetJob(id int64) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// LatestInstallJob returns the most recently submitted InstallationJob for
// (name, version, sourceID) with an id strictly before beforeID, used by the
// duplicate-install dedup check in §4.9 step 1: a job never waits on itself
// or on a sibling submitted after it.
func (q *Queue) LatestInstallJob(name, version, sourceID string, beforeID int64) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		j := q.jobs[i]
		if j.ID >= beforeID {
			continue
		}
		if j.Kind == JobInstall && j.Plugin.Name == name && j.Plugin.Version == version && j.Plugin.SourceID == sourceID {
			return j, true
		}
	}
	return nil, false
}

// JobsByCorrelationID returns every job sharing correlationID, preserving
// submission order.
func (q *Queue) JobsByCorrelationID(correlationID string) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Job
	for _, j := range q.jobs {
		if j.CorrelationID == correlationID {
			out = append(out, j)
		}
	}
	return out
}

// AllJobs returns a snapshot of every job ever submitted, oldest first.
func (q *Queue) AllJobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Shutdown stops the installer worker and releases anything blocked on pop.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.shuttingDown = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// RunMetadataPool runs fn for each item in items using a bounded pool of
// goroutines sized by metadataPoolSize, returning once all complete. This
// is the "separate multi-worker pool for site metadata refresh and
// connection checks" named in §4.8; errors are per-item and never abort
// siblings, matching the propagation policy in §7.
func (q *Queue) RunMetadataPool(ctx context.Context, items []string, fn func(ctx context.Context, item string) error) map[string]error {
	results := make(map[string]error, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := q.metadataPoolSize
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			err := fn(gctx, item)
			mu.Lock()
			results[item] = err
			mu.Unlock()
			return nil // never abort siblings on a single site's error
		})
	}
	_ = g.Wait()

	return results
}
