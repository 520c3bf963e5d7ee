package queue

import (
	"path"
	"strings"
	"time"
)

// Status represents the lifecycle of a job. The exact strings are
// wire-visible to dashboards and must not change.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusWorking   Status = "WORKING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusWorking,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind distinguishes the two job flavors sharing the claim protocol.
type Kind string

const (
	KindUpload  Kind = "upload"
	KindCompute Kind = "compute"
)

// claimedStatus is the in-flight status a freshly claimed job enters.
func (k Kind) claimedStatus() Status {
	if k == KindCompute {
		return StatusRunning
	}
	return StatusWorking
}

// DatasetKey identifies the logical dataset a job concerns.
type DatasetKey struct {
	Subject string
	Session string
	Dataset string
}

// IsZero reports whether no dataset is associated.
func (k DatasetKey) IsZero() bool {
	return k.Subject == "" && k.Session == "" && k.Dataset == ""
}

// Prefix returns the path prefix files of this dataset live under.
func (k DatasetKey) Prefix() string {
	return path.Join(k.Subject, k.Session, k.Dataset)
}

func (k DatasetKey) String() string {
	if k.IsZero() {
		return "<none>"
	}
	return k.Prefix()
}

// Job is a durable work item: either a file upload or a compute task.
type Job struct {
	ID      int64
	Kind    Kind
	Waiting bool
	Status  Status
	Host    string
	Rule    string
	Log     string
	// Command is the full originating invocation, used for exact-duplicate
	// detection on compute tasks.
	Command  string
	Analysis string
	Target   string
	// ParameterSetID is zero when the job carries no parameter set.
	ParameterSetID int64
	Dataset        DatasetKey
	// Storage names the destination storage for upload jobs.
	Storage   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StagedFile is one ledger row: a file a job operates on (assigned) or a file
// a rule consumed during transformation (processed).
type StagedFile struct {
	JobID    int64
	Path     string
	Size     int64
	ModTime  time.Time
	Checksum string
}

// FileRecord is a finalized file persisted in object storage.
type FileRecord struct {
	Path     string
	Storage  string
	Size     int64
	ModTime  time.Time
	Checksum string
}

// ParameterSet is a deduplicated named configuration for a compute analysis.
type ParameterSet struct {
	ID         int64
	Algorithm  string
	Parameters string
}

// ClaimOutcome reports the result of a claim attempt. AlreadyTaken is a
// benign race outcome, not an error: someone else holds the job.
type ClaimOutcome struct {
	Job          *Job
	Files        []StagedFile
	AlreadyTaken bool
}

// Update is a partial mutation of a job's mutable fields. Nil fields are
// left untouched. The worker identity is always stamped alongside.
type Update struct {
	Status  *Status
	Log     *string
	Waiting *bool
}

// StatusOf returns a pointer for use in Update literals.
func StatusOf(status Status) *Status { return &status }

// LogOf returns a pointer for use in Update literals.
func LogOf(log string) *string { return &log }

// WaitingOf returns a pointer for use in Update literals.
func WaitingOf(waiting bool) *bool { return &waiting }

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Waiting   int
	Working   int
	Running   int
	Completed int
	Failed    int
}
