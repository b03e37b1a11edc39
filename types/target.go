// Package types defines the core domain types for the cemrelease pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
)

// OSFamily is the operating system family a target triple builds for.
type OSFamily string

// OS families known to the pipeline.
const (
	OSLinux   OSFamily = "linux"
	OSMacOS   OSFamily = "macos"
	OSWindows OSFamily = "windows"
	OSBSD     OSFamily = "bsd"
)

// ParseOSFamily parses an OS family name.
func ParseOSFamily(s string) (OSFamily, error) {
	switch OSFamily(strings.ToLower(s)) {
	case OSLinux:
		return OSLinux, nil
	case OSMacOS, "osx", "darwin":
		return OSMacOS, nil
	case OSWindows:
		return OSWindows, nil
	case OSBSD:
		return OSBSD, nil
	default:
		return "", fmt.Errorf("unknown os family %q (must be linux, macos, windows, or bsd)", s)
	}
}

// Channel is a toolchain maturity track.
type Channel string

// Toolchain channels.
const (
	ChannelStable  Channel = "stable"
	ChannelNightly Channel = "nightly"
	ChannelBeta    Channel = "beta"
)

// PrimaryChannel is the only channel whose builds are published.
const PrimaryChannel = ChannelStable

// ParseChannel parses a channel name. Empty input yields the primary channel.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return PrimaryChannel, nil
	case ChannelStable:
		return ChannelStable, nil
	case ChannelNightly:
		return ChannelNightly, nil
	case ChannelBeta:
		return ChannelBeta, nil
	default:
		return "", fmt.Errorf("unknown channel %q (must be stable, nightly, or beta)", s)
	}
}

// IsPrimary reports whether c is the primary release channel.
func (c Channel) IsPrimary() bool {
	return c == PrimaryChannel
}

// TargetSpec is one build target of the matrix. Values are immutable once declared.
//
// Triple alone is not unique: the same triple may be built on several channels.
// The pair (Triple, Channel) is the identity, see Key.
type TargetSpec struct {
	// Triple is the OS-arch-abi identifier, e.g. x86_64-unknown-linux-gnu.
	Triple string `json:"triple" yaml:"triple" msgpack:"triple"`
	// OS is the operating system family.
	OS OSFamily `json:"os" yaml:"os" msgpack:"os"`
	// Channel is the toolchain channel.
	Channel Channel `json:"channel" yaml:"channel" msgpack:"channel"`
	// TestsEnabled is false when tests are explicitly disabled for the target.
	TestsEnabled bool `json:"tests_enabled" yaml:"tests_enabled" msgpack:"tests_enabled"`
}

// Key returns the identity of the target: "<triple>@<channel>".
func (t TargetSpec) Key() string {
	return t.Triple + "@" + string(t.Channel)
}

// String implements fmt.Stringer.
func (t TargetSpec) String() string {
	return t.Key()
}

// ParseKey splits a "<triple>@<channel>" key.
func ParseKey(key string) (string, Channel, error) {
	triple, ch, ok := strings.Cut(key, "@")
	if !ok {
		return key, PrimaryChannel, nil
	}
	channel, err := ParseChannel(ch)
	if err != nil {
		return "", "", err
	}
	return triple, channel, nil
}
