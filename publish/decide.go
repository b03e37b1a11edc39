package publish

import "github.com/cemconv/cemrelease/types"

// Decide returns the initial publish phase for a target at tag.
// The result is terminal (a no-op) unless the commit is tagged and the
// target is on the primary channel.
func Decide(tag string, target types.TargetSpec) types.PublishPhase {
	cond := types.NewReleaseCondition(tag, target.Channel)
	switch {
	case !cond.IsTaggedCommit:
		return types.PhaseUntagged
	case !cond.ShouldPublish():
		return types.PhaseNonPrimaryChannel
	default:
		return types.PhasePrimaryChannel
	}
}

// Key returns the release host key of a file published at tag.
func Key(tag, name string) string {
	return tag + "/" + name
}
