package types

// ReleaseCondition is the publish gate of a job.
type ReleaseCondition struct {
	// IsTaggedCommit is true when the triggering commit carries a tag.
	IsTaggedCommit bool `json:"is_tagged_commit" msgpack:"is_tagged_commit"`
	// Channel is the active toolchain channel.
	Channel Channel `json:"channel" msgpack:"channel"`
}

// NewReleaseCondition derives the condition from the TAG value and channel.
func NewReleaseCondition(tag string, channel Channel) ReleaseCondition {
	return ReleaseCondition{IsTaggedCommit: tag != "", Channel: channel}
}

// ShouldPublish is true only for a tagged commit on the primary channel.
// This is the dedup rule: non-primary re-runs of a triple never publish.
func (c ReleaseCondition) ShouldPublish() bool {
	return c.IsTaggedCommit && c.Channel.IsPrimary()
}

// PublishPhase is a state of the publish state machine.
//
//	untagged                   (terminal, no-op)
//	tagged/non-primary-channel (terminal, no-op)
//	tagged/primary-channel -> uploading -> published | upload-failed
//	                                    -> already-published
type PublishPhase string

// Publish phases.
const (
	PhaseUntagged          PublishPhase = "untagged"
	PhaseNonPrimaryChannel PublishPhase = "tagged/non-primary-channel"
	PhasePrimaryChannel    PublishPhase = "tagged/primary-channel"
	PhaseUploading         PublishPhase = "uploading"
	PhasePublished         PublishPhase = "published"
	PhaseAlreadyPublished  PublishPhase = "already-published"
	PhaseUploadFailed      PublishPhase = "upload-failed"
)

// IsTerminal reports whether no further transition follows the phase.
func (p PublishPhase) IsTerminal() bool {
	switch p {
	case PhaseUntagged, PhaseNonPrimaryChannel, PhasePublished, PhaseAlreadyPublished, PhaseUploadFailed:
		return true
	default:
		return false
	}
}

// Uploaded reports whether the artifact is on the release host after the phase.
func (p PublishPhase) Uploaded() bool {
	return p == PhasePublished || p == PhaseAlreadyPublished
}

// PublishState is the final record of the publish stage.
type PublishState struct {
	Phase PublishPhase `json:"phase" msgpack:"phase"`
	Tag   string       `json:"tag,omitempty" msgpack:"tag,omitempty"`
	Key   string       `json:"key,omitempty" msgpack:"key,omitempty"`
	URL   string       `json:"url,omitempty" msgpack:"url,omitempty"`
	Bytes int64        `json:"bytes,omitempty" msgpack:"bytes,omitempty"`
	// Conflict is set when the host already held a different object under Key.
	Conflict bool `json:"conflict,omitempty" msgpack:"conflict,omitempty"`
}
