// Package adapter defines the release notification boundary.
//
// Adapters announce a finished tagged release to downstream systems
// (webhooks, Redis pub/sub). The orchestrator owns adapter lifecycle;
// users provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/cemconv/cemrelease/types"
)

// EventTypeReleaseCompleted is the event_type of ReleaseEvent.
const EventTypeReleaseCompleted = "release_completed"

// Outcomes of a release run.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// PublishedArtifact describes one archive on the release host.
type PublishedArtifact struct {
	Target string `json:"target"`
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	URL    string `json:"url,omitempty"`
	Phase  string `json:"phase"`
}

// ReleaseEvent is the payload published when a tagged run finishes.
type ReleaseEvent struct {
	ContractVersion string              `json:"contract_version"`
	EventType       string              `json:"event_type"` // always "release_completed"
	RunID           string              `json:"run_id"`
	Crate           string              `json:"crate"`
	Tag             string              `json:"tag"`
	Outcome         string              `json:"outcome"`
	Artifacts       []PublishedArtifact `json:"artifacts"`
	FailedTargets   []string            `json:"failed_targets,omitempty"`
	Timestamp       string              `json:"timestamp"` // ISO 8601
	DurationMs      int64               `json:"duration_ms"`
}

// NewReleaseEvent builds the event for a finished run from its job results.
// Only artifacts that are on the release host are listed.
func NewReleaseEvent(meta *types.RunMeta, results []*types.JobResult, finishedAt time.Time, duration time.Duration) *ReleaseEvent {
	event := &ReleaseEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeReleaseCompleted,
		RunID:           meta.RunID,
		Crate:           meta.Crate,
		Tag:             meta.Tag,
		Artifacts:       []PublishedArtifact{},
		Timestamp:       finishedAt.UTC().Format(time.RFC3339),
		DurationMs:      duration.Milliseconds(),
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Failed() {
			event.FailedTargets = append(event.FailedTargets, r.Target.Key())
			continue
		}
		if r.Publish == nil || !r.Publish.Phase.Uploaded() || r.Artifact == nil {
			continue
		}
		event.Artifacts = append(event.Artifacts, PublishedArtifact{
			Target: r.Target.Key(),
			Name:   r.Artifact.Name,
			SHA256: r.Artifact.SHA256,
			URL:    r.Publish.URL,
			Phase:  string(r.Publish.Phase),
		})
	}

	switch {
	case len(event.FailedTargets) == 0:
		event.Outcome = OutcomeSuccess
	case len(event.Artifacts) > 0:
		event.Outcome = OutcomePartial
	default:
		event.Outcome = OutcomeFailed
	}
	return event
}

// Adapter publishes release events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a release event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ReleaseEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff
// starting at base. A nil attempt error ends the loop; stop reports errors
// that must not be retried.
func Retry(ctx context.Context, name string, retries int, base time.Duration, attempt func(context.Context) error, stop func(error) bool) error {
	if base <= 0 {
		base = DefaultBackoff
	}

	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if stop != nil && stop(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
