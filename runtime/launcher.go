package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cemconv/cemrelease/types"
)

// LaunchRequest is one job of a run.
type LaunchRequest struct {
	Meta   *types.RunMeta
	Target types.TargetSpec
	// OnEvent observes stage events as they arrive. May be nil.
	OnEvent func(event *types.StageEvent)
}

// JobOutput is everything a launcher collected from one job.
type JobOutput struct {
	// Result is never nil.
	Result *types.JobResult
	// Events are the stage events in emission order.
	Events []*types.StageEvent
}

// Launcher runs one job to completion.
// A job failure is reported in the result, never as an error; the error
// return is reserved for failures to produce any result at all.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (*JobOutput, error)
}

// JobInput is the JSON document a job process reads from stdin.
type JobInput struct {
	RunID  string           `json:"run_id"`
	Crate  string           `json:"crate"`
	Tag    string           `json:"tag,omitempty"`
	Target types.TargetSpec `json:"target"`
}

// NewJobInput builds the stdin document for req.
func NewJobInput(meta *types.RunMeta, target types.TargetSpec) *JobInput {
	return &JobInput{
		RunID:  meta.RunID,
		Crate:  meta.Crate,
		Tag:    meta.Tag,
		Target: target,
	}
}

// Meta returns the run identity carried by the input.
func (in *JobInput) Meta() *types.RunMeta {
	return &types.RunMeta{RunID: in.RunID, Crate: in.Crate, Tag: in.Tag}
}

// ReadJobInput decodes and validates a job input document.
func ReadJobInput(r io.Reader) (*JobInput, error) {
	var in JobInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode job input: %w", err)
	}
	if err := in.Meta().Validate(); err != nil {
		return nil, fmt.Errorf("invalid job input: %w", err)
	}
	if in.Target.Triple == "" {
		return nil, errors.New("invalid job input: target triple is required")
	}
	if in.Target.Channel == "" {
		in.Target.Channel = types.PrimaryChannel
	}
	return &in, nil
}
