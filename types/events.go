package types

import "time"

// ContractVersion is the job event wire contract version.
const ContractVersion = Version

// Frame type discriminants for the job event stream.
const (
	// FrameTypeStage marks a StageEvent frame.
	FrameTypeStage = "stage"
	// FrameTypeJobResult marks the terminal JobResultFrame.
	FrameTypeJobResult = "job_result"
)

// StageEvent is emitted by a job when a stage starts or finishes.
// All fields use msgpack tags; the same struct is used for the ledger.
type StageEvent struct {
	// Type is always FrameTypeStage.
	Type string `msgpack:"type" json:"type"`
	// ContractVersion is the wire contract version.
	ContractVersion string `msgpack:"contract_version" json:"contract_version"`
	// RunID is the orchestrator run identifier.
	RunID string `msgpack:"run_id" json:"run_id"`
	// Seq is monotonic within a job, starting at 1.
	Seq int64 `msgpack:"seq" json:"seq"`
	// Target is the target the job builds.
	Target TargetSpec `msgpack:"target" json:"target"`
	// Stage is the stage the event describes.
	Stage Stage `msgpack:"stage" json:"stage"`
	// Status is empty for a start event, otherwise the stage outcome.
	Status StageStatus `msgpack:"status,omitempty" json:"status,omitempty"`
	// Message is a short human-readable note.
	Message string `msgpack:"message,omitempty" json:"message,omitempty"`
	// ExitCode is set on failure.
	ExitCode int `msgpack:"exit_code,omitempty" json:"exit_code,omitempty"`
	// Ts is the event timestamp (UTC).
	Ts time.Time `msgpack:"ts" json:"ts"`
}

// IsStart reports whether the event marks the beginning of a stage.
func (e *StageEvent) IsStart() bool {
	return e.Status == ""
}

// JobResultFrame is the terminal control frame of a job stream.
type JobResultFrame struct {
	// Type is always FrameTypeJobResult.
	Type string `msgpack:"type"`
	// Result is the job's final result.
	Result JobResult `msgpack:"result"`
}
