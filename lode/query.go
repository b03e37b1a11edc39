package lode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// Filter narrows ledger queries. Empty fields match everything.
type Filter struct {
	RunID string
	Tag   string
}

func (f Filter) matchSnapshot(snap *lode.DatasetSnapshot, kind string) bool {
	return snapshotMatchesFilter(snap, "record_kind", kind) &&
		snapshotMatchesFilter(snap, "run_id", f.RunID) &&
		snapshotMatchesFilter(snap, "tag", f.Tag)
}

func (f Filter) matchRecord(record map[string]any, kind string) bool {
	if record["record_kind"] != kind {
		return false
	}
	if f.RunID != "" && toString(record["run_id"]) != f.RunID {
		return false
	}
	if f.Tag != "" && toString(record["tag"]) != f.Tag {
		return false
	}
	return true
}

// QueryJobs reads job records matching the filter.
// When a target has several records (re-runs), the latest one wins.
// Results are sorted by target key.
func QueryJobs(ctx context.Context, ds lode.Dataset, f Filter) ([]JobRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "cemrelease/snapshots")
	}

	latest := make(map[string]JobRecord)
	for _, snap := range snapshots {
		if !f.matchSnapshot(snap, RecordKindJob) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("cemrelease/snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || !f.matchRecord(record, RecordKindJob) {
				continue
			}
			jr := jobRecordFromMap(record)
			key := jr.RunID + "/" + jr.Key()
			if prev, seen := latest[key]; seen && prev.CompletedAt.After(jr.CompletedAt) {
				continue
			}
			latest[key] = jr
		}
	}

	out := make([]JobRecord, 0, len(latest))
	for _, jr := range latest {
		out = append(out, jr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

// QueryLatestMetrics finds and reads the most recent metrics record.
// Returns the raw record map or ErrNoMetricsFound if none exist.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, f Filter) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "cemrelease/snapshots")
	}

	// Snapshots are ordered by creation time; walk latest first
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !f.matchSnapshot(snap, RecordKindMetrics) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("cemrelease/snapshot/%s", snap.ID))
		}
		// Manifest paths are a coarse pre-filter; record fields are authoritative.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if ok && f.matchRecord(record, RecordKindMetrics) {
				return record, nil
			}
		}
	}

	return nil, ErrNoMetricsFound
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment. This avoids substring false positives
// (e.g., run_id=run-1 matching run_id=run-10).
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
