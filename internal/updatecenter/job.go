package updatecenter

import (
	"sync"
	"time"
)

// JobKind tags the variant of an UpdateCenterJob, replacing the original
// inheritance hierarchy (UpdateCenterJob -> DownloadJob -> InstallationJob
// -> EnableJob -> NoOpJob) with a flat dispatch value.
type JobKind string

const (
	JobConnectionCheck JobKind = "ConnectionCheck"
	JobInstall         JobKind = "Install"
	JobEnable          JobKind = "Enable"
	JobNoOp            JobKind = "NoOp"
	JobDowngrade       JobKind = "Downgrade"
	JobCoreUpgrade     JobKind = "CoreUpgrade"
	JobCoreDowngrade   JobKind = "CoreDowngrade"
	JobCompleteBatch   JobKind = "CompleteBatch"
	JobRestart         JobKind = "Restart"
)

// Status is the tagged value type every job's state is represented as,
// replacing status variants that captured their enclosing job instance.
type Status struct {
	State           State
	Percent         int    // only meaningful while State == StateInstalling
	Message         string // human-readable detail, sanitized before exposure
	RequiresRestart bool
	err             error

	// ConnectionStates is only meaningful when Kind == JobConnectionCheck.
	ConnectionStates ConnectionStates
}

// ConnectionStates holds the two independent connectivity channels a
// ConnectionCheckJob tracks (§3).
type ConnectionStates struct {
	Internet   ConnStatus
	UpdateSite ConnStatus
}

// State enumerates every state a job can occupy. Transitions are monotonic
// except Restart's Pending -> Canceled.
type State string

const (
	StatePending                   State = "Pending"
	StateRunning                   State = "Running"
	StateInstalling                State = "Installing"
	StateSuccess                   State = "Success"
	StateSuccessButRequiresRestart State = "SuccessButRequiresRestart"
	StateSkipped                   State = "Skipped"
	StateFailure                   State = "Failure"
	StateCanceled                  State = "Canceled"
)

// IsTerminal reports whether s is one of the terminal states a job settles
// into exactly once.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateSuccessButRequiresRestart, StateSkipped, StateFailure, StateCanceled:
		return true
	default:
		return false
	}
}

// ConnStatus enumerates the independent internet/update-site connection
// check channels.
type ConnStatus string

const (
	ConnPrecheck ConnStatus = "PRECHECK"
	ConnChecking ConnStatus = "CHECKING"
	ConnSkipped  ConnStatus = "SKIPPED"
	ConnUnchecked ConnStatus = "UNCHECKED"
	ConnOK       ConnStatus = "OK"
	ConnFailed   ConnStatus = "FAILED"
)

// Job is the shared base every job variant carries, replacing the
// original's inner-class-capturing-enclosing-instance status model: the
// worker loop mutates Status directly on this record instead of the status
// value referring back to its owner.
type Job struct {
	ID            int64
	Kind          JobKind
	SiteID        string // empty for jobs with no owning site (e.g. Restart)
	CorrelationID string // empty until assigned; assignable exactly once
	CreatedAt     time.Time

	mu     sync.Mutex
	status Status

	// done is closed exactly once, when the job reaches a terminal state,
	// unblocking any InstallationJob waiting on a duplicate-install check
	// (§4.9 step 1; §5 monitor/wait).
	done chan struct{}

	// Plugin-job fields. Plugin is set for JobInstall, JobEnable, JobNoOp
	// and JobDowngrade; DynamicLoad for JobInstall and JobEnable; Batch for
	// JobInstall and JobCompleteBatch.
	Plugin      PluginEntry
	DynamicLoad bool
	Batch       []string

	// Restart-specific field: the identity captured at enqueue time.
	RequestedBy string
}

// newJob constructs a job in state Pending with a fresh completion channel.
func newJob(id int64, kind JobKind, siteID string) *Job {
	return &Job{
		ID:        id,
		Kind:      kind,
		SiteID:    siteID,
		CreatedAt: time.Now(),
		status:    Status{State: StatePending},
		done:      make(chan struct{}),
	}
}

// Status returns a snapshot of the job's current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// setStatus transitions the job's status. Terminal transitions close the
// done channel and unblock any waiters exactly once.
func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	if s.State.IsTerminal() {
		select {
		case <-j.done:
			// already closed by an earlier terminal transition; jobs are
			// only supposed to terminate once, but guard against a second
			// call anyway.
		default:
			close(j.done)
		}
	}
}

// Wait blocks until the job reaches a terminal state and returns its final
// status.
func (j *Job) Wait() Status {
	<-j.done
	return j.Status()
}

// Done returns a channel that is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// SetCorrelationID assigns the batch correlation id exactly once; a second
// call is a no-op, matching "correlationId may not be reassigned".
func (j *Job) SetCorrelationID(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.CorrelationID == "" {
		j.CorrelationID = id
	}
}

// TryCancel transitions a Pending job to Canceled and reports whether the
// cancellation took effect. Only RestartJenkinsJob supports cancellation,
// and only from Pending (§4.8); every other kind of job always returns
// false here.
func (j *Job) TryCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Kind != JobRestart || j.status.State != StatePending {
		return false
	}
	j.status = Status{State: StateCanceled}
	close(j.done)
	return true
}

func failureStatus(err error) Status {
	return Status{State: StateFailure, Message: SanitizeErrorMessage(err.Error()), err: err}
}

func restartRequiredStatus(msg string) Status {
	return Status{State: StateSuccessButRequiresRestart, Message: msg, RequiresRestart: true}
}
