package runtime

import (
	"context"
	"fmt"

	"github.com/cemconv/cemrelease/pipeline"
	"github.com/cemconv/cemrelease/types"
)

// JobFactory builds the pipeline job for one target, emitting to sink.
type JobFactory func(meta *types.RunMeta, target types.TargetSpec, sink pipeline.EventSink) (*pipeline.Job, error)

// InProcessLauncher runs jobs as goroutines of the orchestrator.
// Used by tests and --isolation=inprocess.
type InProcessLauncher struct {
	factory JobFactory
}

// NewInProcessLauncher creates an in-process launcher.
func NewInProcessLauncher(factory JobFactory) *InProcessLauncher {
	return &InProcessLauncher{factory: factory}
}

// Launch implements Launcher.
func (l *InProcessLauncher) Launch(ctx context.Context, req LaunchRequest) (*JobOutput, error) {
	rec := &pipeline.Recorder{}
	sink := pipeline.SinkFunc(func(event *types.StageEvent) error {
		if err := rec.EncodeStage(event); err != nil {
			return err
		}
		if req.OnEvent != nil {
			req.OnEvent(event)
		}
		return nil
	})

	job, err := l.factory(req.Meta, req.Target, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create job %s: %w", req.Target.Key(), err)
	}
	result := job.Run(ctx)
	return &JobOutput{Result: result, Events: rec.Events()}, nil
}
