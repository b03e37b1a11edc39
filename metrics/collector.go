// Package metrics provides per-run pipeline metrics.
//
// The Collector accumulates counters during a single orchestrator run. It is
// a leaf package with no internal dependencies: stages, test outcomes and
// publish phases are passed as plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Job lifecycle
	JobsStarted   int64 `json:"jobs_started"`
	JobsSucceeded int64 `json:"jobs_succeeded"`
	JobsFailed    int64 `json:"jobs_failed"`
	JobsCanceled  int64 `json:"jobs_canceled"`

	// Failures by stage name (install, build, test, package, publish)
	StageFailures map[string]int64 `json:"stage_failures"`

	// Test outcomes
	TestsPassed  int64 `json:"tests_passed"`
	TestsFailed  int64 `json:"tests_failed"`
	TestsSkipped int64 `json:"tests_skipped"`

	// Packaging and publishing
	ArtifactsPackaged int64 `json:"artifacts_packaged"`
	Published         int64 `json:"published"`
	AlreadyPublished  int64 `json:"already_published"`
	PublishSkipped    int64 `json:"publish_skipped"`
	PublishFailed     int64 `json:"publish_failed"`
	BytesUploaded     int64 `json:"bytes_uploaded"`

	// Job processes
	JobLaunchSuccess int64 `json:"job_launch_success"`
	JobLaunchFailure int64 `json:"job_launch_failure"`
	IPCDecodeErrors  int64 `json:"ipc_decode_errors"`

	// Ledger / Storage
	LedgerWriteSuccess int64 `json:"ledger_write_success"`
	LedgerWriteFailure int64 `json:"ledger_write_failure"`

	// Dimensions (informational, set at construction)
	Crate          string `json:"crate"`
	Tag            string `json:"tag,omitempty"`
	Isolation      string `json:"isolation"`
	ReleaseBackend string `json:"release_backend"`
	RunID          string `json:"run_id"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(crate, tag, isolation, releaseBackend, runID string) *Collector {
	return &Collector{s: Snapshot{
		StageFailures:  make(map[string]int64),
		Crate:          crate,
		Tag:            tag,
		Isolation:      isolation,
		ReleaseBackend: releaseBackend,
		RunID:          runID,
	}}
}

func (c *Collector) update(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// --- Job lifecycle ---

// IncJobStarted records a job start.
func (c *Collector) IncJobStarted() { c.update(func(s *Snapshot) { s.JobsStarted++ }) }

// IncJobSucceeded records a job that completed every stage.
func (c *Collector) IncJobSucceeded() { c.update(func(s *Snapshot) { s.JobsSucceeded++ }) }

// IncJobFailed records a job failure at the given stage.
func (c *Collector) IncJobFailed(stage string) {
	c.update(func(s *Snapshot) {
		s.JobsFailed++
		if stage != "" {
			if s.StageFailures == nil {
				s.StageFailures = make(map[string]int64)
			}
			s.StageFailures[stage]++
		}
	})
}

// IncJobCanceled records a job canceled before completion.
func (c *Collector) IncJobCanceled() { c.update(func(s *Snapshot) { s.JobsCanceled++ }) }

// --- Stages ---

// RecordTestOutcome counts a test outcome ("passed", "failed", "skipped").
func (c *Collector) RecordTestOutcome(outcome string) {
	c.update(func(s *Snapshot) {
		switch outcome {
		case "passed":
			s.TestsPassed++
		case "failed":
			s.TestsFailed++
		case "skipped":
			s.TestsSkipped++
		}
	})
}

// IncArtifactPackaged records a produced archive.
func (c *Collector) IncArtifactPackaged() { c.update(func(s *Snapshot) { s.ArtifactsPackaged++ }) }

// RecordPublish counts a terminal publish phase and uploaded bytes.
// Phases: "published", "already-published", "upload-failed"; anything
// else (untagged, non-primary channel) counts as skipped.
func (c *Collector) RecordPublish(phase string, bytes int64) {
	c.update(func(s *Snapshot) {
		switch phase {
		case "published":
			s.Published++
			s.BytesUploaded += bytes
		case "already-published":
			s.AlreadyPublished++
		case "upload-failed":
			s.PublishFailed++
		default:
			s.PublishSkipped++
		}
	})
}

// --- Job processes ---

// IncJobLaunchSuccess records a job process started.
func (c *Collector) IncJobLaunchSuccess() { c.update(func(s *Snapshot) { s.JobLaunchSuccess++ }) }

// IncJobLaunchFailure records a job process that could not be started.
func (c *Collector) IncJobLaunchFailure() { c.update(func(s *Snapshot) { s.JobLaunchFailure++ }) }

// IncIPCDecodeErrors records a job stream frame decode error.
func (c *Collector) IncIPCDecodeErrors() { c.update(func(s *Snapshot) { s.IPCDecodeErrors++ }) }

// --- Ledger ---
// Ledger counters are per-call, not per-record.

// IncLedgerWriteSuccess records a successful ledger write.
func (c *Collector) IncLedgerWriteSuccess() { c.update(func(s *Snapshot) { s.LedgerWriteSuccess++ }) }

// IncLedgerWriteFailure records a failed ledger write.
func (c *Collector) IncLedgerWriteFailure() { c.update(func(s *Snapshot) { s.LedgerWriteFailure++ }) }

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.s
	out.StageFailures = make(map[string]int64, len(c.s.StageFailures))
	for k, v := range c.s.StageFailures {
		out.StageFailures[k] = v
	}
	return out
}
