package publish

import (
	"os"

	"github.com/cemconv/cemrelease/lode"
)

// Default environment variable names of the release credential.
const (
	DefaultAccessKeyEnv    = "RELEASE_ACCESS_KEY_ID"
	DefaultSecretKeyEnv    = "RELEASE_SECRET_ACCESS_KEY"
	DefaultSessionTokenEnv = "RELEASE_SESSION_TOKEN"
)

// Credential is the opaque capability to upload to a release host.
// It is passed explicitly to NewPublisher and never read from globals
// by the publisher itself.
type Credential struct {
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
}

// NewCredential creates a credential from key material.
func NewCredential(accessKeyID, secretAccessKey, sessionToken string) Credential {
	return Credential{
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		sessionToken:    sessionToken,
	}
}

// CredentialFromEnv reads a credential from the named environment variables.
// Empty names fall back to the defaults. Missing variables yield a zero credential.
func CredentialFromEnv(accessKeyEnv, secretKeyEnv, sessionTokenEnv string) Credential {
	if accessKeyEnv == "" {
		accessKeyEnv = DefaultAccessKeyEnv
	}
	if secretKeyEnv == "" {
		secretKeyEnv = DefaultSecretKeyEnv
	}
	if sessionTokenEnv == "" {
		sessionTokenEnv = DefaultSessionTokenEnv
	}
	return NewCredential(os.Getenv(accessKeyEnv), os.Getenv(secretKeyEnv), os.Getenv(sessionTokenEnv))
}

// IsZero reports whether the credential carries no key material.
// Both halves of the key pair are required.
func (c Credential) IsZero() bool {
	return c.accessKeyID == "" || c.secretAccessKey == ""
}

// String redacts the key material.
func (c Credential) String() string {
	if c.IsZero() {
		return "credential(none)"
	}
	return "credential(****)"
}

// GoString redacts the key material in %#v output.
func (c Credential) GoString() string {
	return c.String()
}

// static converts the capability for the storage layer.
func (c Credential) static() lode.StaticCredentials {
	if c.IsZero() {
		return lode.StaticCredentials{}
	}
	return lode.StaticCredentials{
		AccessKeyID:     c.accessKeyID,
		SecretAccessKey: c.secretAccessKey,
		SessionToken:    c.sessionToken,
	}
}
