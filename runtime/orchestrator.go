package runtime

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cemconv/cemrelease/adapter"
	"github.com/cemconv/cemrelease/lode"
	"github.com/cemconv/cemrelease/log"
	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/pipeline"
	"github.com/cemconv/cemrelease/types"
)

// finalizeTimeout bounds ledger and notification writes after the jobs,
// which still run when the run context is canceled.
const finalizeTimeout = 30 * time.Second

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Config configures an Orchestrator.
type Config struct {
	// Meta is the run identity shared by every job.
	Meta *types.RunMeta
	// Targets are the matrix entries in matrix order.
	Targets []types.TargetSpec
	// Parallel bounds concurrent jobs. Zero means GOMAXPROCS.
	Parallel int
	// Launcher runs each job.
	Launcher Launcher
	// Ledger records stage events, job results and metrics. May be nil.
	Ledger lode.Ledger
	// Collector is the run's metrics collector. May be nil.
	Collector *metrics.Collector
	// Adapter announces tagged releases. May be nil.
	Adapter adapter.Adapter
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// OnEvent observes live stage events from every job. May be nil.
	OnEvent func(event *types.StageEvent)
	// OnResult observes each job result as it completes. May be nil.
	OnResult func(result *types.JobResult)
}

// RunResult is the outcome of a whole run.
type RunResult struct {
	Meta *types.RunMeta
	// Results are the job results in matrix order.
	Results []*types.JobResult
	// ExitCode is the code of the first failed job in matrix order.
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Metrics    metrics.Snapshot
	// Notified is true when the adapter accepted the release event.
	Notified bool
	// NotifyError is the adapter error, if any. It never affects ExitCode.
	NotifyError error
}

// Failed returns the results of failed jobs, in matrix order.
func (r *RunResult) Failed() []*types.JobResult {
	var out []*types.JobResult
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Orchestrator fans the matrix out into independent jobs.
type Orchestrator struct {
	cfg    Config
	logger *log.Logger
}

// NewOrchestrator creates an orchestrator.
// Returns error if the run metadata or configuration is invalid.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Meta == nil {
		return nil, errors.New("run metadata is required")
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	if cfg.Launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if cfg.Parallel < 0 {
		return nil, fmt.Errorf("parallel must be >= 0, got %d", cfg.Parallel)
	}
	if cfg.Parallel == 0 {
		cfg.Parallel = goruntime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{cfg: cfg, logger: logger}, nil
}

// Run executes every job and returns the aggregate result.
//
// Jobs run in parallel up to the configured bound and never share state.
// Canceling ctx stops pending jobs from starting and cancels running ones;
// artifacts already published stay published.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	run := &RunResult{
		Meta:      o.cfg.Meta,
		Results:   make([]*types.JobResult, len(o.cfg.Targets)),
		StartedAt: time.Now(),
	}

	o.logger.Info("starting release run", map[string]any{
		"targets":  len(o.cfg.Targets),
		"parallel": o.cfg.Parallel,
	})

	sem := make(chan struct{}, o.cfg.Parallel)
	var wg sync.WaitGroup

	for i, target := range o.cfg.Targets {
		acquired := false
		select {
		case sem <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			if acquired {
				<-sem
			}
			run.Results[i] = o.complete(ctx, CanceledResult(target), nil)
			continue
		}

		wg.Add(1)
		go func(i int, target types.TargetSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			run.Results[i] = o.runJob(ctx, target)
		}(i, target)
	}
	wg.Wait()

	run.FinishedAt = time.Now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	run.ExitCode = ExitCode(run.Results)
	run.Metrics = o.cfg.Collector.Snapshot()

	o.finalize(ctx, run)

	o.logger.Info("release run finished", map[string]any{
		"exit_code":   run.ExitCode,
		"failed":      len(run.Failed()),
		"duration_ms": run.Duration.Milliseconds(),
	})
	return run, nil
}

func (o *Orchestrator) runJob(ctx context.Context, target types.TargetSpec) *types.JobResult {
	o.cfg.Collector.IncJobStarted()

	out, err := o.cfg.Launcher.Launch(ctx, LaunchRequest{
		Meta:    o.cfg.Meta,
		Target:  target,
		OnEvent: o.cfg.OnEvent,
	})
	if err != nil {
		o.logger.Error("job launch failed", map[string]any{
			"target": target.Key(),
			"error":  err.Error(),
		})
		return o.complete(ctx, crashed(target, types.ExitFailure, "", err.Error()), nil)
	}
	return o.complete(ctx, out.Result, out.Events)
}

// complete records a finished job in metrics and the ledger.
func (o *Orchestrator) complete(ctx context.Context, result *types.JobResult, events []*types.StageEvent) *types.JobResult {
	recordJob(o.cfg.Collector, result)

	if o.cfg.Ledger != nil {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		p := lode.NewPartition(o.cfg.Meta, result.Target)
		if len(events) > 0 {
			if err := o.cfg.Ledger.WriteStages(wctx, p, events); err != nil {
				o.logger.Warn("ledger stage write failed", map[string]any{
					"target": result.Target.Key(),
					"error":  err.Error(),
				})
			}
		}
		if err := o.cfg.Ledger.WriteJob(wctx, p, result, time.Now()); err != nil {
			o.logger.Warn("ledger job write failed", map[string]any{
				"target": result.Target.Key(),
				"error":  err.Error(),
			})
		}
		cancel()
	}

	if o.cfg.OnResult != nil {
		o.cfg.OnResult(result)
	}
	return result
}

// finalize writes run-level metrics and announces tagged releases.
func (o *Orchestrator) finalize(ctx context.Context, run *RunResult) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if o.cfg.Ledger != nil {
		if err := o.cfg.Ledger.WriteMetrics(wctx, o.cfg.Meta, run.Metrics, run.FinishedAt); err != nil {
			o.logger.Warn("ledger metrics write failed", map[string]any{"error": err.Error()})
		}
	}

	if o.cfg.Adapter == nil || !o.cfg.Meta.IsTagged() {
		return
	}
	event := adapter.NewReleaseEvent(o.cfg.Meta, run.Results, run.FinishedAt, run.Duration)
	if err := o.cfg.Adapter.Publish(wctx, event); err != nil {
		run.NotifyError = err
		o.logger.Warn("release notification failed", map[string]any{"error": err.Error()})
		return
	}
	run.Notified = true
}

// recordJob counts a finished job.
func recordJob(c *metrics.Collector, r *types.JobResult) {
	if r.TestOutcome != "" {
		c.RecordTestOutcome(string(r.TestOutcome))
	}
	if r.Artifact != nil {
		c.IncArtifactPackaged()
	}
	if r.Publish != nil {
		c.RecordPublish(string(r.Publish.Phase), r.Publish.Bytes)
	}
	switch r.Status {
	case types.JobSucceeded:
		c.IncJobSucceeded()
	case types.JobCanceled:
		c.IncJobCanceled()
	default:
		c.IncJobFailed(string(pipeline.FailedStage(r)))
	}
}
