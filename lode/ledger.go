package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/types"
)

// DefaultDataset is the ledger dataset ID.
const DefaultDataset = "cemrelease"

// RunPartition is the triple/channel partition value of run-level records.
const RunPartition = "_run"

// Ledger records the history of release jobs.
// Implementations must be safe for concurrent use by parallel jobs.
type Ledger interface {
	// WriteStages appends stage events of one job, preserving order.
	WriteStages(ctx context.Context, p Partition, events []*types.StageEvent) error
	// WriteJob appends the final record of one job.
	WriteJob(ctx context.Context, p Partition, result *types.JobResult, completedAt time.Time) error
	// WriteMetrics appends the run-level metrics snapshot.
	WriteMetrics(ctx context.Context, meta *types.RunMeta, snap metrics.Snapshot, completedAt time.Time) error
	// Close releases ledger resources.
	Close() error
}

// NewDataset creates the ledger Dataset over a store factory.
// The read and write paths share codec and layout.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(PartitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// DatasetLedger is a Lode-backed Ledger.
type DatasetLedger struct {
	mu      sync.Mutex // serializes dataset writes
	dataset lode.Dataset
}

// NewLedger creates a ledger writing to the named dataset.
// Use lode.NewMemoryFactory() for testing.
func NewLedger(dataset string, factory lode.StoreFactory) (*DatasetLedger, error) {
	ds, err := NewDataset(dataset, factory)
	if err != nil {
		return nil, err
	}
	return &DatasetLedger{dataset: ds}, nil
}

// WriteStages implements Ledger.
func (l *DatasetLedger) WriteStages(ctx context.Context, p Partition, events []*types.StageEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]any, 0, len(events))
	for _, e := range events {
		records = append(records, toStageRecordMap(e, p))
	}
	return l.write(ctx, records, p)
}

// WriteJob implements Ledger.
func (l *DatasetLedger) WriteJob(ctx context.Context, p Partition, result *types.JobResult, completedAt time.Time) error {
	if result == nil {
		return errors.New("ledger: nil job result")
	}
	return l.write(ctx, []any{toJobRecordMap(result, p, completedAt)}, p)
}

// WriteMetrics implements Ledger.
func (l *DatasetLedger) WriteMetrics(ctx context.Context, meta *types.RunMeta, snap metrics.Snapshot, completedAt time.Time) error {
	p := Partition{Tag: meta.Tag, Triple: RunPartition, Channel: RunPartition, RunID: meta.RunID}
	if p.Tag == "" {
		p.Tag = UntaggedPartition
	}

	// Round-trip through JSON so the record carries the snapshot's field names.
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ledger: encode metrics: %w", err)
	}
	record := p.fields(RecordKindMetrics)
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("ledger: encode metrics: %w", err)
	}
	for k, v := range fields {
		if _, taken := record[k]; !taken {
			record[k] = v
		}
	}
	record["completed_at"] = completedAt.UTC().Format(time.RFC3339Nano)

	return l.write(ctx, []any{record}, p)
}

func (l *DatasetLedger) write(ctx context.Context, records []any, p Partition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/%s@%s", p.Tag, p.Triple, p.Channel))
	}
	return nil
}

// Close implements Ledger.
func (l *DatasetLedger) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

var _ Ledger = (*DatasetLedger)(nil)

// StubLedger is a test ledger that records writes without persisting.
type StubLedger struct {
	mu      sync.Mutex
	Stages  []*types.StageEvent
	Jobs    []*types.JobResult
	Metrics []metrics.Snapshot
	Err     error
	Closed  bool
}

// NewStubLedger creates a new stub ledger.
func NewStubLedger() *StubLedger {
	return &StubLedger{}
}

// WriteStages implements Ledger.
func (s *StubLedger) WriteStages(_ context.Context, _ Partition, events []*types.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Stages = append(s.Stages, events...)
	return nil
}

// WriteJob implements Ledger.
func (s *StubLedger) WriteJob(_ context.Context, _ Partition, result *types.JobResult, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Jobs = append(s.Jobs, result)
	return nil
}

// WriteMetrics implements Ledger.
func (s *StubLedger) WriteMetrics(_ context.Context, _ *types.RunMeta, snap metrics.Snapshot, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Metrics = append(s.Metrics, snap)
	return nil
}

// Close implements Ledger.
func (s *StubLedger) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

var _ Ledger = (*StubLedger)(nil)
