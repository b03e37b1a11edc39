package types

// Version is the canonical cemrelease version.
// The CLI and the job event contract share this version (lockstep).
const Version = "0.3.0"
