package lode

import (
	"time"

	"github.com/cemconv/cemrelease/types"
)

// RecordKind discriminator values.
const (
	RecordKindStage   = "stage"
	RecordKindJob     = "job"
	RecordKindMetrics = "metrics"
)

// UntaggedPartition is the tag partition value for untagged runs.
const UntaggedPartition = "untagged"

// PartitionKeys is the Hive layout of the ledger dataset.
var PartitionKeys = []string{"tag", "triple", "channel", "run_id", "record_kind"}

// Partition holds the ledger partition values shared by every record of a job.
type Partition struct {
	Tag     string
	Triple  string
	Channel string
	RunID   string
}

// NewPartition derives the partition of a job from the run and target.
func NewPartition(meta *types.RunMeta, target types.TargetSpec) Partition {
	tag := meta.Tag
	if tag == "" {
		tag = UntaggedPartition
	}
	return Partition{
		Tag:     tag,
		Triple:  target.Triple,
		Channel: string(target.Channel),
		RunID:   meta.RunID,
	}
}

func (p Partition) fields(kind string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"tag":         p.Tag,
		"triple":      p.Triple,
		"channel":     p.Channel,
		"run_id":      p.RunID,
	}
}

// toStageRecordMap converts a stage event to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toStageRecordMap(e *types.StageEvent, p Partition) map[string]any {
	m := p.fields(RecordKindStage)
	m["contract_version"] = e.ContractVersion
	m["seq"] = e.Seq
	m["stage"] = string(e.Stage)
	m["status"] = string(e.Status)
	m["os"] = string(e.Target.OS)
	m["ts"] = e.Ts.UTC().Format(time.RFC3339Nano)
	if e.Message != "" {
		m["message"] = e.Message
	}
	if e.ExitCode != 0 {
		m["exit_code"] = e.ExitCode
	}
	return m
}

// toJobRecordMap converts a final job result to a map for Lode storage.
func toJobRecordMap(r *types.JobResult, p Partition, completedAt time.Time) map[string]any {
	m := p.fields(RecordKindJob)
	m["status"] = string(r.Status)
	m["exit_code"] = r.ExitCode
	m["os"] = string(r.Target.OS)
	m["tests_enabled"] = r.Target.TestsEnabled
	m["test_outcome"] = string(r.TestOutcome)
	m["duration_ms"] = r.Duration.Milliseconds()
	m["completed_at"] = completedAt.UTC().Format(time.RFC3339Nano)

	stages := make([]any, 0, len(r.Stages))
	for _, st := range r.Stages {
		stage := map[string]any{
			"stage":     string(st.Stage),
			"status":    string(st.Status),
			"exit_code": st.ExitCode,
		}
		if st.ErrorKind != "" {
			stage["error_kind"] = st.ErrorKind
		}
		stages = append(stages, stage)
	}
	m["stages"] = stages

	if r.ErrorKind != "" {
		m["error_kind"] = r.ErrorKind
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.Artifact != nil {
		m["artifact"] = r.Artifact.Name
		m["sha256"] = r.Artifact.SHA256
		m["size_bytes"] = r.Artifact.Size
	}
	if r.Publish != nil {
		m["publish_phase"] = string(r.Publish.Phase)
		if r.Publish.URL != "" {
			m["publish_url"] = r.Publish.URL
		}
	}
	return m
}

// JobRecord is the typed read-side view of a job ledger record.
type JobRecord struct {
	RunID        string
	Tag          string
	Triple       string
	Channel      string
	OS           string
	Status       string
	ExitCode     int
	ErrorKind    string
	TestOutcome  string
	Artifact     string
	SHA256       string
	PublishPhase string
	CompletedAt  time.Time
}

// Key returns the target key of the record.
func (r JobRecord) Key() string {
	return r.Triple + "@" + r.Channel
}

func jobRecordFromMap(m map[string]any) JobRecord {
	r := JobRecord{
		RunID:        toString(m["run_id"]),
		Tag:          toString(m["tag"]),
		Triple:       toString(m["triple"]),
		Channel:      toString(m["channel"]),
		OS:           toString(m["os"]),
		Status:       toString(m["status"]),
		ExitCode:     int(toInt64(m["exit_code"])),
		ErrorKind:    toString(m["error_kind"]),
		TestOutcome:  toString(m["test_outcome"]),
		Artifact:     toString(m["artifact"]),
		SHA256:       toString(m["sha256"]),
		PublishPhase: toString(m["publish_phase"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, toString(m["completed_at"])); err == nil {
		r.CompletedAt = ts
	}
	return r
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a decoded JSON number to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case interface{ Int64() (int64, error) }:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
