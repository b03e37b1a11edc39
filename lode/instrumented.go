package lode

import (
	"context"
	"time"

	"github.com/cemconv/cemrelease/metrics"
	"github.com/cemconv/cemrelease/types"
)

// InstrumentedLedger wraps a Ledger and records write metrics.
// Each write call increments ledger_write_success or ledger_write_failure
// on the metrics collector.
type InstrumentedLedger struct {
	inner     Ledger
	collector *metrics.Collector
}

// NewInstrumentedLedger wraps a ledger with metrics instrumentation.
func NewInstrumentedLedger(inner Ledger, collector *metrics.Collector) *InstrumentedLedger {
	return &InstrumentedLedger{inner: inner, collector: collector}
}

// WriteStages delegates to the inner ledger and records success or failure.
func (l *InstrumentedLedger) WriteStages(ctx context.Context, p Partition, events []*types.StageEvent) error {
	return l.record(l.inner.WriteStages(ctx, p, events))
}

// WriteJob delegates to the inner ledger and records success or failure.
func (l *InstrumentedLedger) WriteJob(ctx context.Context, p Partition, result *types.JobResult, completedAt time.Time) error {
	return l.record(l.inner.WriteJob(ctx, p, result, completedAt))
}

// WriteMetrics delegates to the inner ledger and records success or failure.
// The snapshot is taken by the caller, so this write is not counted in it.
func (l *InstrumentedLedger) WriteMetrics(ctx context.Context, meta *types.RunMeta, snap metrics.Snapshot, completedAt time.Time) error {
	return l.record(l.inner.WriteMetrics(ctx, meta, snap, completedAt))
}

func (l *InstrumentedLedger) record(err error) error {
	if err != nil {
		l.collector.IncLedgerWriteFailure()
	} else {
		l.collector.IncLedgerWriteSuccess()
	}
	return err
}

// Close delegates to the inner ledger.
func (l *InstrumentedLedger) Close() error {
	return l.inner.Close()
}

var _ Ledger = (*InstrumentedLedger)(nil)
